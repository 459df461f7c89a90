package calendar

import (
	"sort"
	"time"

	"epdash/internal/model"
)

// bucketize partitions occurrences into today/tomorrow relative to the local
// midnight boundaries and normalizes them into display events.
//
// Ordering within a bucket: all-day events first (sorted by title), then
// timed events by start ascending; events with unparsable times sort last.
// Duplicates across endpoints collapse per day: all-day by title, timed by
// (display time, title).
func bucketize(occs []occurrence, todayStart, windowEnd time.Time) (today, tomorrow []model.Event) {
	tomorrowStart := todayStart.AddDate(0, 0, 1)

	seenToday := make(map[[2]string]bool)
	seenTomorrow := make(map[[2]string]bool)

	for _, occ := range occs {
		ev := normalize(occ, windowEnd)

		var bucket *[]model.Event
		var seen map[[2]string]bool
		switch {
		case occ.badTime:
			// No usable instant; shown in today's column, sorted last.
			bucket, seen = &today, seenToday
		case !ev.Start.Before(todayStart) && ev.Start.Before(tomorrowStart):
			bucket, seen = &today, seenToday
		case !ev.Start.Before(tomorrowStart) && ev.Start.Before(windowEnd):
			bucket, seen = &tomorrow, seenTomorrow
		default:
			continue
		}

		key := [2]string{ev.DisplayTime, ev.Title}
		if seen[key] {
			continue
		}
		seen[key] = true
		*bucket = append(*bucket, ev)
	}

	sortEvents(today)
	sortEvents(tomorrow)
	return today, tomorrow
}

func normalize(occ occurrence, windowEnd time.Time) model.Event {
	if occ.badTime {
		return model.Event{
			Title:       occ.title,
			DisplayTime: model.DisplayTimeError,
			SortKey:     windowEnd,
			Err:         true,
		}
	}
	if occ.allDay {
		day := time.Date(occ.start.Year(), occ.start.Month(), occ.start.Day(), 0, 0, 0, 0, occ.start.Location())
		return model.Event{
			Title:       occ.title,
			Start:       day,
			DisplayTime: model.DisplayTimeAllDay,
			SortKey:     day,
			AllDay:      true,
		}
	}
	return model.Event{
		Title:       occ.title,
		Start:       occ.start,
		DisplayTime: occ.start.Format("15:04"),
		SortKey:     occ.start,
	}
}

func sortEvents(events []model.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.SortKey.Equal(b.SortKey) {
			return a.SortKey.Before(b.SortKey)
		}
		// All-day events carry the day's midnight as sort key; put them
		// ahead of a timed 00:00 event and order them by title.
		if a.AllDay != b.AllDay {
			return a.AllDay
		}
		if a.AllDay {
			return a.Title < b.Title
		}
		// Stable sort preserves input order for timed ties.
		return false
	})
}
