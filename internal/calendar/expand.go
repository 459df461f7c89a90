package calendar

import (
	"time"

	"github.com/teambition/rrule-go"

	appLog "epdash/internal/log"
)

// occurrence is a single concrete event instance inside the fetch window,
// normalized into the user's timezone.
type occurrence struct {
	title   string
	start   time.Time
	allDay  bool
	badTime bool
}

// expandOccurrences expands raw events into concrete instances within
// [rangeStart, rangeEnd). It handles:
//
//   - Single non-recurring events
//   - RRULE-based recurrence
//   - EXDATE exception removal
//   - RECURRENCE-ID overrides
//   - All-day semantics
//
// All resulting occurrences are converted into loc.
func expandOccurrences(events []rawEvent, rangeStart, rangeEnd time.Time, loc *time.Location, maxPerEvent int) []occurrence {
	// Group base events and overrides by UID.
	baseByUID := make(map[string][]rawEvent)
	overridesByUID := make(map[string][]rawEvent)
	order := make([]string, 0, len(events))

	for _, ev := range events {
		if ev.badTime {
			// Unexpandable; carried straight through.
			continue
		}
		if ev.recurrenceID != nil {
			overridesByUID[ev.uid] = append(overridesByUID[ev.uid], ev)
			continue
		}
		if _, seen := baseByUID[ev.uid]; !seen {
			order = append(order, ev.uid)
		}
		baseByUID[ev.uid] = append(baseByUID[ev.uid], ev)
	}

	var out []occurrence
	for _, uid := range order {
		overrides := overridesByUID[uid]
		for _, ev := range baseByUID[uid] {
			if ev.rawRRule == "" {
				out = append(out, expandSingle(ev, overrides, rangeStart, rangeEnd, loc)...)
			} else {
				out = append(out, expandRecurring(ev, overrides, rangeStart, rangeEnd, loc, maxPerEvent)...)
			}
		}
	}

	// Unparsable events survive expansion untouched.
	for _, ev := range events {
		if ev.badTime {
			out = append(out, occurrence{title: ev.title, badTime: true})
		}
	}

	return out
}

func expandSingle(ev rawEvent, overrides []rawEvent, rangeStart, rangeEnd time.Time, loc *time.Location) []occurrence {
	if !rangesOverlap(ev.start, ev.end, rangeStart, rangeEnd) {
		return nil
	}

	start := ev.start
	title := ev.title
	if o, ok := overrideFor(overrides, ev.start); ok {
		start = o.start
		title = o.title
	}
	if ev.allDay {
		return []occurrence{{title: title, start: allDayAnchor(start, loc), allDay: true}}
	}
	return []occurrence{{title: title, start: start.In(loc)}}
}

// allDayAnchor rebuilds a DATE-only start at midnight in the user's zone.
// Feed parsers return DATE values as midnight in their own reference zone
// (arran4 uses UTC); converting that instant with In() would shift the event
// onto the previous local day for zones west of it. Only the calendar date
// carries meaning, so it is re-read and re-anchored.
func allDayAnchor(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func expandRecurring(ev rawEvent, overrides []rawEvent, rangeStart, rangeEnd time.Time, loc *time.Location, maxPerEvent int) []occurrence {
	r, err := rrule.StrToRRule(ev.rawRRule)
	if err != nil {
		appLog.Warn("failed to parse RRULE; treating event as single",
			"uid", ev.uid, "rrule", ev.rawRRule, "err", err)
		return expandSingle(ev, overrides, rangeStart, rangeEnd, loc)
	}
	r.DTStart(ev.start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.exDates {
		set.ExDate(ex.In(ev.start.Location()))
	}

	// Between operates in the event's own location; convert the window. For
	// all-day events the recurrence runs at the parser zone's midnights, which
	// the zone offset can push just outside the converted window, so the scan
	// widens a day each side and bucketize settles the final day.
	scanStart, scanEnd := rangeStart, rangeEnd
	if ev.allDay {
		scanStart = scanStart.AddDate(0, 0, -1)
		scanEnd = scanEnd.AddDate(0, 0, 1)
	}
	occTimes := set.Between(scanStart.In(ev.start.Location()), scanEnd.In(ev.start.Location()), true)
	if len(occTimes) > maxPerEvent {
		appLog.Warn("recurrence expansion truncated", "uid", ev.uid, "cap", maxPerEvent)
		occTimes = occTimes[:maxPerEvent]
	}

	out := make([]occurrence, 0, len(occTimes))
	for _, occStart := range occTimes {
		if ev.allDay {
			occStart = time.Date(occStart.Year(), occStart.Month(), occStart.Day(), 0, 0, 0, 0, occStart.Location())
		}
		title := ev.title
		start := occStart
		if o, ok := overrideFor(overrides, occStart); ok {
			title = o.title
			start = o.start
		}
		if ev.allDay {
			start = allDayAnchor(start, loc)
		} else {
			start = start.In(loc)
		}
		out = append(out, occurrence{title: title, start: start, allDay: ev.allDay})
	}
	return out
}

// overrideFor finds an override whose RECURRENCE-ID matches the given
// instance start with exact time equality.
func overrideFor(overrides []rawEvent, instanceStart time.Time) (rawEvent, bool) {
	for _, ov := range overrides {
		if ov.recurrenceID == nil {
			continue
		}
		if ov.recurrenceID.In(instanceStart.Location()).Equal(instanceStart) {
			return ov, true
		}
	}
	return rawEvent{}, false
}

func rangesOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	if aEnd.Before(bStart) {
		return false
	}
	if bEnd.Before(aStart) {
		return false
	}
	return true
}
