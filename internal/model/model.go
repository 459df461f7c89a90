package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Sentinel display times. Events carrying one of these are never marked past.
const (
	DisplayTimeAllDay = "All Day"
	DisplayTimeError  = "ERR"
)

// Event is a single normalized calendar entry as shown on the dashboard.
// Start and SortKey are instants in the owning user's timezone; DisplayTime
// is the pre-formatted clock string, or one of the sentinels above.
type Event struct {
	Title       string    `json:"title"`
	Start       time.Time `json:"start"`
	DisplayTime string    `json:"display_time"`
	SortKey     time.Time `json:"sort_key"`
	AllDay      bool      `json:"all_day"`
	Err         bool      `json:"err,omitempty"`
}

// Past reports whether the event should be grayed out at the given instant.
// All-day events and error sentinels never count as past; "past" is evaluated
// against serving time, not fetch time.
func (e Event) Past(now time.Time) bool {
	if e.AllDay || e.Err {
		return false
	}
	return e.SortKey.Before(now)
}

// GeoCoordinate is a resolved weather location, keyed by the location string
// that produced it. Geocoding is treated as permanent, so cached entries have
// no TTL.
type GeoCoordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// WeatherSnapshot holds current conditions plus the day's forecast range.
// Every field is independently nullable: a partial upstream failure degrades
// individual fields, a total failure yields the zero snapshot, and the
// renderer substitutes placeholder glyphs for whatever is missing.
type WeatherSnapshot struct {
	Temperature   *float64 `json:"temperature"`
	High          *float64 `json:"high"`
	Low           *float64 `json:"low"`
	Humidity      *float64 `json:"humidity"`
	ConditionCode *int     `json:"condition_code"`
	IconClass     string   `json:"icon_class"`
}

// UserAppData is the per-user aggregate produced by one refresh. It is
// replaced wholesale on success and left untouched on failure; readers only
// ever observe complete snapshots.
type UserAppData struct {
	TodayEvents    []Event
	TomorrowEvents []Event
	Weather        WeatherSnapshot
	FetchedAt      time.Time
}

// Fingerprint returns a stable hash over the data that affects rendering.
// FetchedAt is excluded so that two refreshes observing identical upstream
// data fingerprint identically and the cached artifact can be reused.
func (d UserAppData) Fingerprint() string {
	shadow := struct {
		Today    []Event         `json:"today"`
		Tomorrow []Event         `json:"tomorrow"`
		Weather  WeatherSnapshot `json:"weather"`
	}{d.TodayEvents, d.TomorrowEvents, d.Weather}

	raw, err := json.Marshal(shadow)
	if err != nil {
		// Marshal of these types cannot fail; keep the signature simple.
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:16])
}
