package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	appLog "epdash/internal/log"
	"epdash/internal/model"
)

// Open-Meteo endpoints. Overridable for tests.
const (
	DefaultForecastURL = "https://api.open-meteo.com/v1/forecast"
	DefaultGeocodeURL  = "https://geocoding-api.open-meteo.com/v1/search"
)

// Config controls the weather Source.
type Config struct {
	// Timeout bounds the combined geocode + forecast pass.
	Timeout time.Duration
	// ForecastURL / GeocodeURL override the Open-Meteo endpoints.
	ForecastURL string
	GeocodeURL  string
}

// Source resolves free-text locations to coordinates and fetches current
// conditions plus the day's forecast. Geocoding results are cached for the
// process lifetime: the upstream is rate-limited and a location string always
// resolves to the same place.
type Source struct {
	client      *http.Client
	forecastURL string
	geocodeURL  string

	mu     sync.Mutex
	coords map[string]model.GeoCoordinate
}

// New creates a weather Source.
func New(cfg Config) *Source {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.ForecastURL == "" {
		cfg.ForecastURL = DefaultForecastURL
	}
	if cfg.GeocodeURL == "" {
		cfg.GeocodeURL = DefaultGeocodeURL
	}
	return &Source{
		client:      &http.Client{Timeout: cfg.Timeout},
		forecastURL: cfg.ForecastURL,
		geocodeURL:  cfg.GeocodeURL,
		coords:      make(map[string]model.GeoCoordinate),
	}
}

// Fetch returns the weather snapshot for a location. It never fails: any
// HTTP or parse error yields a snapshot with null fields, and the renderer
// shows placeholders. timezone is the IANA name passed to the forecast API;
// loc is the same zone used for the day/night fallback.
func (s *Source) Fetch(ctx context.Context, location, timezone string, loc *time.Location) model.WeatherSnapshot {
	var snap model.WeatherSnapshot
	snap.IconClass = iconClass(nil, true)

	coord, err := s.resolve(ctx, location)
	if err != nil {
		appLog.Warn("geocoding failed; serving placeholder weather", "location", location, "err", err)
		return snap
	}

	fc, err := s.forecast(ctx, coord, timezone)
	if err != nil {
		appLog.Warn("forecast fetch failed; serving placeholder weather", "location", location, "err", err)
		return snap
	}

	snap.Temperature = fc.Current.Temperature
	snap.Humidity = fc.Current.Humidity
	if len(fc.Daily.TempMax) > 0 {
		snap.High = fc.Daily.TempMax[0]
	}
	if len(fc.Daily.TempMin) > 0 {
		snap.Low = fc.Daily.TempMin[0]
	}

	code := fc.Current.WeatherCode
	if code == nil && len(fc.Daily.WeatherCode) > 0 && fc.Daily.WeatherCode[0] != nil {
		// Current code missing: fall back to the day's forecast code.
		code = fc.Daily.WeatherCode[0]
		appLog.Debug("using daily weather code as current is unknown", "location", location, "code", *code)
	}
	snap.ConditionCode = code
	snap.IconClass = iconClass(code, isDaytime(fc.Current.IsDay, loc))

	appLog.Info("weather fetch successful", "location", location)
	return snap
}

// isDaytime prefers the upstream is_day flag and falls back to an approximate
// local-hour window when the field is absent.
func isDaytime(isDay *int, loc *time.Location) bool {
	if isDay != nil {
		return *isDay != 0
	}
	h := time.Now().In(loc).Hour()
	return h >= 7 && h < 19
}

// resolve maps a location string to coordinates, consulting the permanent
// cache first. Concurrent resolves of distinct locations may race to the
// upstream; the idempotent result makes the last write harmless.
func (s *Source) resolve(ctx context.Context, location string) (model.GeoCoordinate, error) {
	s.mu.Lock()
	coord, ok := s.coords[location]
	s.mu.Unlock()
	if ok {
		return coord, nil
	}

	q := url.Values{}
	q.Set("name", location)
	q.Set("count", "1")
	q.Set("language", "en")
	q.Set("format", "json")

	var body struct {
		Results []struct {
			Latitude  *float64 `json:"latitude"`
			Longitude *float64 `json:"longitude"`
		} `json:"results"`
	}
	if err := s.getJSON(ctx, s.geocodeURL+"?"+q.Encode(), &body); err != nil {
		return model.GeoCoordinate{}, err
	}
	if len(body.Results) == 0 || body.Results[0].Latitude == nil || body.Results[0].Longitude == nil {
		return model.GeoCoordinate{}, fmt.Errorf("no geocoding result for %q", location)
	}

	coord = model.GeoCoordinate{
		Latitude:  *body.Results[0].Latitude,
		Longitude: *body.Results[0].Longitude,
	}
	s.mu.Lock()
	s.coords[location] = coord
	s.mu.Unlock()

	appLog.Info("geocoded location", "location", location,
		"lat", coord.Latitude, "lon", coord.Longitude)
	return coord, nil
}

// forecastResponse mirrors the Open-Meteo payload subset the dashboard uses.
// Pointers keep absent fields distinguishable from zero values.
type forecastResponse struct {
	Current struct {
		Temperature *float64 `json:"temperature_2m"`
		Humidity    *float64 `json:"relative_humidity_2m"`
		IsDay       *int     `json:"is_day"`
		WeatherCode *int     `json:"weather_code"`
	} `json:"current"`
	Daily struct {
		WeatherCode []*int     `json:"weather_code"`
		TempMax     []*float64 `json:"temperature_2m_max"`
		TempMin     []*float64 `json:"temperature_2m_min"`
	} `json:"daily"`
}

func (s *Source) forecast(ctx context.Context, coord model.GeoCoordinate, timezone string) (*forecastResponse, error) {
	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%g", coord.Latitude))
	q.Set("longitude", fmt.Sprintf("%g", coord.Longitude))
	q.Set("timezone", timezone)
	q.Set("current", "temperature_2m,relative_humidity_2m,is_day,weather_code")
	q.Set("daily", "weather_code,temperature_2m_max,temperature_2m_min")
	q.Set("forecast_days", "1")

	var body forecastResponse
	if err := s.getJSON(ctx, s.forecastURL+"?"+q.Encode(), &body); err != nil {
		return nil, err
	}
	return &body, nil
}

func (s *Source) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
