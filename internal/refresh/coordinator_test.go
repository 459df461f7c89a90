package refresh

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"epdash/internal/appstate"
	"epdash/internal/calendar"
	"epdash/internal/user"
	"epdash/internal/weather"
)

// countingInvalidator records which users got invalidated.
type countingInvalidator struct {
	mu  sync.Mutex
	ids []string
}

func (c *countingInvalidator) Invalidate(userID string) {
	c.mu.Lock()
	c.ids = append(c.ids, userID)
	c.mu.Unlock()
}

func (c *countingInvalidator) reset() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.ids
	c.ids = nil
	return out
}

func icsBody(now time.Time) string {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 12, 0, 0, 0, time.UTC)
	return strings.Join([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//epdash test//EN",
		"BEGIN:VEVENT",
		"UID:ev1@test",
		"DTSTAMP:20250101T000000Z",
		"DTSTART:" + start.Format("20060102T150405Z"),
		"DTEND:" + start.Add(time.Hour).Format("20060102T150405Z"),
		"SUMMARY:Standup",
		"END:VEVENT",
		"END:VCALENDAR",
	}, "\r\n") + "\r\n"
}

func newWeatherSource(t *testing.T) *weather.Source {
	t.Helper()
	geo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":[{"latitude":52.52,"longitude":13.405}]}`)
	}))
	t.Cleanup(geo.Close)
	fc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"current":{"temperature_2m":18.3,"is_day":1,"weather_code":0},
			"daily":{"weather_code":[0],"temperature_2m_max":[21.0],"temperature_2m_min":[12.0]}}`)
	}))
	t.Cleanup(fc.Close)
	return weather.New(weather.Config{
		Timeout:     5 * time.Second,
		GeocodeURL:  geo.URL,
		ForecastURL: fc.URL,
	})
}

func newRegistry(t *testing.T, urlByUser map[string]string) *user.Registry {
	t.Helper()
	var users []string
	for id, u := range urlByUser {
		users = append(users, fmt.Sprintf(
			`{"id":%q,"timezone":"UTC","weather_location":"Berlin","calendars":[{"kind":"ics","url":%q}]}`, id, u))
	}
	reg, err := user.Parse([]byte(`{"users":[` + strings.Join(users, ",") + `]}`))
	require.NoError(t, err)
	return reg
}

func TestRefreshAllRetainsSnapshotOnTotalFailure(t *testing.T) {
	var aliceBroken atomic.Bool
	aliceCal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if aliceBroken.Load() {
			// Auth failure: no cached-body fallback applies.
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, icsBody(time.Now()))
	}))
	defer aliceCal.Close()

	bobCal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, icsBody(time.Now()))
	}))
	defer bobCal.Close()

	reg := newRegistry(t, map[string]string{"alice": aliceCal.URL, "bob": bobCal.URL})
	state := appstate.New()
	inv := &countingInvalidator{}
	coord := New(reg, calendar.New(calendar.Config{Timeout: 5 * time.Second}), newWeatherSource(t), state, inv, Config{Parallelism: 2})

	coord.RefreshAll(context.Background())
	assert.ElementsMatch(t, []string{"alice", "bob"}, inv.reset(), "first cycle changes everyone")

	aliceFP, ok := state.Fingerprint("alice")
	require.True(t, ok)
	aliceAt, _ := state.FetchedAt("alice")

	// Alice's only endpoint now rejects credentials; her snapshot must survive.
	aliceBroken.Store(true)
	coord.RefreshAll(context.Background())

	assert.Empty(t, inv.reset(), "nothing changed, nothing invalidated")

	fp, ok := state.Fingerprint("alice")
	require.True(t, ok)
	assert.Equal(t, aliceFP, fp)
	at, _ := state.FetchedAt("alice")
	assert.Equal(t, aliceAt, at, "failed cycle must not touch the snapshot")

	data, _, ok := state.Get("alice")
	require.True(t, ok)
	require.Len(t, data.TodayEvents, 1)
	assert.Equal(t, "Standup", data.TodayEvents[0].Title)
}

func TestRefreshAllTotalFailureFirstRunStillRecordsWeather(t *testing.T) {
	cal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer cal.Close()

	reg := newRegistry(t, map[string]string{"alice": cal.URL})
	state := appstate.New()
	inv := &countingInvalidator{}
	coord := New(reg, calendar.New(calendar.Config{Timeout: 5 * time.Second}), newWeatherSource(t), state, inv, Config{})

	coord.RefreshAll(context.Background())

	data, _, ok := state.Get("alice")
	require.True(t, ok, "first run records even a calendar-less snapshot")
	assert.Empty(t, data.TodayEvents)
	require.NotNil(t, data.Weather.Temperature)
	assert.InDelta(t, 18.3, *data.Weather.Temperature, 0.001)
}

func TestRefreshUser(t *testing.T) {
	cal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, icsBody(time.Now()))
	}))
	defer cal.Close()

	reg := newRegistry(t, map[string]string{"alice": cal.URL})
	state := appstate.New()
	inv := &countingInvalidator{}
	coord := New(reg, calendar.New(calendar.Config{Timeout: 5 * time.Second}), newWeatherSource(t), state, inv, Config{})

	require.Error(t, coord.RefreshUser(context.Background(), "nobody"))

	require.NoError(t, coord.RefreshUser(context.Background(), "alice"))
	assert.Equal(t, []string{"alice"}, inv.reset())

	// Same upstream data again: fingerprint unchanged, no invalidation.
	require.NoError(t, coord.RefreshUser(context.Background(), "alice"))
	assert.Empty(t, inv.reset())
}
