package calendar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "epdash/internal/log"
	"epdash/internal/user"
)

// feedState holds conditional-request metadata and the last body for one ICS
// subscription URL. The cache is in-memory only; a restart simply refetches.
type feedState struct {
	etag         string
	lastModified string
	body         []byte
	fetchedAt    time.Time
}

// fetchICS fetches a plain ICS subscription feed, honoring ETag and
// Last-Modified, and parses it into raw events. On a network error the last
// successfully fetched body is reused so a flaky feed degrades to stale
// events rather than an empty column.
func (s *Source) fetchICS(ctx context.Context, ep user.CalendarEndpoint) ([]rawEvent, error) {
	s.feedMu.Lock()
	cached := s.feeds[ep.URL]
	s.feedMu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.URL, nil)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		if cached.etag != "" {
			req.Header.Set("If-None-Match", cached.etag)
		}
		if cached.lastModified != "" {
			req.Header.Set("If-Modified-Since", cached.lastModified)
		}
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if cached != nil && len(cached.body) > 0 {
			appLog.Warn("ics fetch network error; using cached body", "host", ep.Host(), "err", err)
			return parseICSBody(ep, cached.body)
		}
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, readErr
		}
		s.feedMu.Lock()
		s.feeds[ep.URL] = &feedState{
			etag:         resp.Header.Get("ETag"),
			lastModified: resp.Header.Get("Last-Modified"),
			body:         body,
			fetchedAt:    time.Now(),
		}
		s.feedMu.Unlock()
		return parseICSBody(ep, body)

	case http.StatusNotModified:
		if cached == nil || len(cached.body) == 0 {
			return nil, errors.New("received 304 Not Modified but no cached body available")
		}
		appLog.Debug("ics feed not modified; using cache", "host", ep.Host())
		return parseICSBody(ep, cached.body)

	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s", errAuth, resp.Status)

	default:
		if cached != nil && len(cached.body) > 0 {
			appLog.Warn("ics fetch non-OK; using cached body", "host", ep.Host(), "status", resp.StatusCode)
			return parseICSBody(ep, cached.body)
		}
		return nil, errors.New(resp.Status)
	}
}

// parseICSBody parses a full ICS payload into raw events. A single bad VEVENT
// is logged and skipped; the rest of the feed still counts.
func parseICSBody(ep user.CalendarEndpoint, body []byte) ([]rawEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse ICS: %w", err)
	}

	events := make([]rawEvent, 0, len(cal.Events()))
	for _, ve := range cal.Events() {
		ev, perr := parseICSVEvent(ve)
		if perr != nil {
			appLog.Warn("skipping unparsable VEVENT", "host", ep.Host(), "err", perr)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func parseICSVEvent(ve *ical.VEvent) (rawEvent, error) {
	var ev rawEvent

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return ev, errors.New("missing UID")
	}
	ev.uid = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		ev.title = p.Value
	}

	// Detect all-day from DTSTART: VALUE=DATE or a value without a time part.
	if dtStart := ve.GetProperty(ical.ComponentPropertyDtStart); dtStart != nil {
		if params := dtStart.ICalParameters; params != nil {
			if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
				ev.allDay = true
			}
		}
		if !strings.Contains(dtStart.Value, "T") {
			ev.allDay = true
		}
	}

	start, err := ve.GetStartAt()
	if err != nil {
		// Keep the event; it surfaces with an error marker and sorts last
		// instead of silently disappearing from the column.
		ev.badTime = true
	} else {
		ev.start = start
	}
	if end, err := ve.GetEndAt(); err == nil {
		ev.end = end
	}
	if ev.end.IsZero() && !ev.start.IsZero() {
		if ev.allDay {
			ev.end = ev.start.Add(24 * time.Hour)
		} else {
			ev.end = ev.start
		}
	}

	if rr := ve.GetProperty(ical.ComponentPropertyRrule); rr != nil {
		ev.rawRRule = rr.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, terr := parseICSTime(part, time.Local); terr == nil {
				ev.exDates = append(ev.exDates, t)
			}
		}
	}

	if rid := ve.GetProperty("RECURRENCE-ID"); rid != nil {
		if t, terr := parseICSTime(rid.Value, time.Local); terr == nil {
			ev.recurrenceID = &t
		}
	}

	return ev, nil
}

// parseICSTime parses a basic ICS date/date-time string. Used for EXDATE and
// RECURRENCE-ID values where full parameter context is not available.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	// UTC form, e.g. 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	// Local date-time, e.g. 20250101T090000
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}
	// Date-only (all-day), e.g. 20250101
	return time.ParseInLocation("20060102", v, loc)
}
