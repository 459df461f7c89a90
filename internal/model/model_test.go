package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fp(v float64) *float64 { return &v }
func ip(v int) *int         { return &v }

func TestEventPast(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	now := time.Date(2025, 6, 7, 14, 0, 0, 0, loc)

	timed := Event{
		Title:       "Dentist",
		Start:       time.Date(2025, 6, 7, 13, 0, 0, 0, loc),
		DisplayTime: "13:00",
		SortKey:     time.Date(2025, 6, 7, 13, 0, 0, 0, loc),
	}
	assert.True(t, timed.Past(now), "a 13:00 event is past at 14:00 local")

	future := timed
	future.SortKey = time.Date(2025, 6, 7, 15, 0, 0, 0, loc)
	assert.False(t, future.Past(now))

	allDay := Event{
		Title:       "Holiday",
		Start:       time.Date(2025, 6, 7, 0, 0, 0, 0, loc),
		DisplayTime: DisplayTimeAllDay,
		SortKey:     time.Date(2025, 6, 7, 0, 0, 0, 0, loc),
		AllDay:      true,
	}
	assert.False(t, allDay.Past(now), "all-day events never count as past")

	sentinel := Event{
		Title:       "Load Fail: example.org",
		DisplayTime: DisplayTimeError,
		SortKey:     time.Date(2025, 6, 7, 0, 0, 0, 0, loc),
		Err:         true,
	}
	assert.False(t, sentinel.Past(now))
}

func TestFingerprintIgnoresFetchTime(t *testing.T) {
	events := []Event{{
		Title:       "Standup",
		Start:       time.Date(2025, 6, 7, 9, 0, 0, 0, time.UTC),
		DisplayTime: "09:00",
		SortKey:     time.Date(2025, 6, 7, 9, 0, 0, 0, time.UTC),
	}}

	a := UserAppData{TodayEvents: events, FetchedAt: time.Date(2025, 6, 7, 10, 0, 0, 0, time.UTC)}
	b := UserAppData{TodayEvents: events, FetchedAt: time.Date(2025, 6, 7, 11, 0, 0, 0, time.UTC)}

	require.NotEmpty(t, a.Fingerprint())
	assert.Equal(t, a.Fingerprint(), b.Fingerprint(),
		"two refreshes seeing identical upstream data must fingerprint identically")
}

func TestFingerprintChangesWithData(t *testing.T) {
	base := UserAppData{Weather: WeatherSnapshot{Temperature: fp(20), IconClass: "wi-day-sunny"}}
	changed := UserAppData{Weather: WeatherSnapshot{Temperature: fp(21), IconClass: "wi-day-sunny"}}

	assert.NotEqual(t, base.Fingerprint(), changed.Fingerprint())
}

func TestBuildDisplayModelPlaceholders(t *testing.T) {
	now := time.Date(2025, 6, 7, 14, 0, 0, 0, time.UTC)

	dm := BuildDisplayModel("u1", UserAppData{}, now)

	assert.Equal(t, "14:00", dm.Clock)
	assert.Equal(t, "Sat, 07 Jun", dm.Date)
	assert.Equal(t, "--°C", dm.Weather.Temp)
	assert.Equal(t, "H:--° L:--°", dm.Weather.HiLo)
	assert.Equal(t, "Hum: --%", dm.Weather.Humidity)
	assert.Equal(t, "wi-na", dm.Weather.Icon)
	assert.Empty(t, dm.Today)
	assert.Empty(t, dm.Tomorrow)
}

func TestBuildDisplayModelProjectsEvents(t *testing.T) {
	now := time.Date(2025, 6, 7, 14, 0, 0, 0, time.UTC)

	data := UserAppData{
		TodayEvents: []Event{
			{Title: "Morning run", DisplayTime: "07:00", SortKey: now.Add(-7 * time.Hour)},
			{Title: "Dinner", DisplayTime: "19:00", SortKey: now.Add(5 * time.Hour)},
		},
		Weather: WeatherSnapshot{
			Temperature:   fp(21.6),
			High:          fp(24.2),
			Low:           fp(12.8),
			Humidity:      fp(55),
			ConditionCode: ip(1),
			IconClass:     "wi-day-sunny-overcast",
		},
	}

	dm := BuildDisplayModel("u1", data, now)

	require.Len(t, dm.Today, 2)
	assert.True(t, dm.Today[0].Past, "past status is computed at render time")
	assert.False(t, dm.Today[1].Past)
	assert.Equal(t, "22°C", dm.Weather.Temp)
	assert.Equal(t, "H:24° L:13°", dm.Weather.HiLo)
	assert.Equal(t, "Hum: 55%", dm.Weather.Humidity)
	assert.Equal(t, "wi-day-sunny-overcast", dm.Weather.Icon)
}
