package weather

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const geocodeBody = `{"results":[{"latitude":52.52,"longitude":13.405,"name":"Berlin"}]}`

func forecastBody(current string) string {
	return fmt.Sprintf(`{
		"current": %s,
		"daily": {
			"weather_code": [61],
			"temperature_2m_max": [21.4],
			"temperature_2m_min": [12.1]
		}
	}`, current)
}

func newTestSource(t *testing.T, forecast http.HandlerFunc) (*Source, *atomic.Int32) {
	t.Helper()

	var geocodeHits atomic.Int32
	geo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		geocodeHits.Add(1)
		fmt.Fprint(w, geocodeBody)
	}))
	t.Cleanup(geo.Close)

	fc := httptest.NewServer(forecast)
	t.Cleanup(fc.Close)

	return New(Config{
		Timeout:     5 * time.Second,
		GeocodeURL:  geo.URL,
		ForecastURL: fc.URL,
	}), &geocodeHits
}

func TestFetchPopulatesSnapshot(t *testing.T) {
	s, _ := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "52.52", r.URL.Query().Get("latitude"))
		assert.Equal(t, "Europe/Berlin", r.URL.Query().Get("timezone"))
		fmt.Fprint(w, forecastBody(`{"temperature_2m":18.3,"relative_humidity_2m":64,"is_day":1,"weather_code":3}`))
	})

	snap := s.Fetch(context.Background(), "Berlin", "Europe/Berlin", time.UTC)

	require.NotNil(t, snap.Temperature)
	assert.InDelta(t, 18.3, *snap.Temperature, 0.001)
	require.NotNil(t, snap.Humidity)
	assert.InDelta(t, 64, *snap.Humidity, 0.001)
	require.NotNil(t, snap.High)
	assert.InDelta(t, 21.4, *snap.High, 0.001)
	require.NotNil(t, snap.Low)
	assert.InDelta(t, 12.1, *snap.Low, 0.001)
	require.NotNil(t, snap.ConditionCode)
	assert.Equal(t, 3, *snap.ConditionCode)
	assert.Equal(t, "wi-cloudy", snap.IconClass)
}

func TestFetchGeocodeCachedAcrossFetches(t *testing.T) {
	s, geocodeHits := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, forecastBody(`{"temperature_2m":18.3,"is_day":1,"weather_code":0}`))
	})

	s.Fetch(context.Background(), "Berlin", "Europe/Berlin", time.UTC)
	s.Fetch(context.Background(), "Berlin", "Europe/Berlin", time.UTC)
	assert.Equal(t, int32(1), geocodeHits.Load())
}

func TestFetchNeverFails(t *testing.T) {
	s, _ := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	snap := s.Fetch(context.Background(), "Berlin", "Europe/Berlin", time.UTC)

	assert.Nil(t, snap.Temperature)
	assert.Nil(t, snap.Humidity)
	assert.Nil(t, snap.High)
	assert.Nil(t, snap.Low)
	assert.Nil(t, snap.ConditionCode)
	assert.Equal(t, iconUnknown, snap.IconClass)
}

func TestFetchDailyCodeFallback(t *testing.T) {
	s, _ := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		// No weather_code in current conditions; the daily code fills in.
		fmt.Fprint(w, forecastBody(`{"temperature_2m":18.3,"is_day":1}`))
	})

	snap := s.Fetch(context.Background(), "Berlin", "Europe/Berlin", time.UTC)

	require.NotNil(t, snap.ConditionCode)
	assert.Equal(t, 61, *snap.ConditionCode)
	assert.Equal(t, "wi-rain", snap.IconClass)
}

func TestIconClassDayNight(t *testing.T) {
	clear := 0
	assert.Equal(t, "wi-day-sunny", iconClass(&clear, true))
	assert.Equal(t, "wi-night-clear", iconClass(&clear, false))

	rain := 61
	assert.Equal(t, "wi-rain", iconClass(&rain, true))
	assert.Equal(t, "wi-rain", iconClass(&rain, false), "no night override for rain")

	assert.Equal(t, iconUnknown, iconClass(nil, true))

	unknown := 999
	assert.Equal(t, iconUnknown, iconClass(&unknown, true))
}
