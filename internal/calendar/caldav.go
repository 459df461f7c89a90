package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"

	appLog "epdash/internal/log"
	"epdash/internal/user"
)

// basicAuthTransport adds Basic Auth to every CalDAV request.
type basicAuthTransport struct {
	username string
	password string
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.username != "" {
		req.SetBasicAuth(t.username, t.password)
	}
	return http.DefaultTransport.RoundTrip(req)
}

// fetchCalDAV lists events overlapping [from, to) from every calendar
// collection behind the endpoint that passes the profile's filter.
func (s *Source) fetchCalDAV(ctx context.Context, ep user.CalendarEndpoint, p *user.Profile, from, to time.Time) ([]rawEvent, error) {
	httpClient := &http.Client{
		Transport: &basicAuthTransport{username: ep.Username, password: ep.Password},
		Timeout:   s.timeout,
	}

	client, err := caldav.NewClient(httpClient, ep.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to CalDAV: %w", err)
	}

	paths, err := discoverCalendarPaths(ctx, client, ep, p)
	if err != nil {
		return nil, err
	}

	query := &caldav.CalendarQuery{
		CompFilter: caldav.CompFilter{
			Name: "VCALENDAR",
			Comps: []caldav.CompFilter{
				{
					Name:  "VEVENT",
					Start: from,
					End:   to,
				},
			},
		},
	}

	var events []rawEvent
	for _, path := range paths {
		objects, err := client.QueryCalendar(ctx, path, query)
		if err != nil {
			return nil, classifyCalDAVErr(fmt.Errorf("query calendar %s: %w", path, err))
		}
		for i := range objects {
			events = append(events, parseCalendarObject(&objects[i], p.Loc)...)
		}
	}

	return events, nil
}

// discoverCalendarPaths resolves the endpoint into concrete collection paths.
// Principal discovery is attempted first so a single account URL can expose
// several calendars; when the server refuses discovery, the endpoint URL is
// assumed to point at a collection directly.
func discoverCalendarPaths(ctx context.Context, client *caldav.Client, ep user.CalendarEndpoint, p *user.Profile) ([]string, error) {
	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		appLog.Debug("CalDAV principal discovery failed; using endpoint path directly",
			"user", p.ID, "host", ep.Host(), "err", err)
		return []string{ep.URL}, nil
	}

	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, classifyCalDAVErr(fmt.Errorf("find calendar home set: %w", err))
	}

	cals, err := client.FindCalendars(ctx, homeSet)
	if err != nil {
		return nil, classifyCalDAVErr(fmt.Errorf("find calendars: %w", err))
	}

	var paths []string
	for _, cal := range cals {
		if !p.FilterAllows(cal.Name) {
			continue
		}
		paths = append(paths, cal.Path)
	}
	return paths, nil
}

// classifyCalDAVErr maps credential rejections onto errAuth so the sentinel
// shown on the display names the real cause.
func classifyCalDAVErr(err error) error {
	var httpErr *webdav.HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %v", errAuth, err)
		}
	}
	return err
}

// parseCalendarObject extracts every VEVENT in a CalDAV object. Servers often
// return a recurring event's base VEVENT and its overrides in one object, so
// all components are kept.
func parseCalendarObject(obj *caldav.CalendarObject, loc *time.Location) []rawEvent {
	if obj.Data == nil {
		return nil
	}

	var events []rawEvent
	for _, comp := range obj.Data.Children {
		if comp.Name != ical.CompEvent {
			continue
		}
		events = append(events, parseVEventComponent(comp, loc))
	}
	return events
}

func parseVEventComponent(comp *ical.Component, loc *time.Location) rawEvent {
	var ev rawEvent

	if prop := comp.Props.Get(ical.PropUID); prop != nil {
		ev.uid = prop.Value
	}
	if prop := comp.Props.Get(ical.PropSummary); prop != nil {
		ev.title = prop.Value
	}

	if prop := comp.Props.Get(ical.PropDateTimeStart); prop != nil {
		if prop.Params.Get(ical.ParamValue) == string(ical.ValueDate) {
			ev.allDay = true
		}
		t, err := prop.DateTime(loc)
		if err != nil {
			ev.badTime = true
		} else {
			ev.start = t
		}
	} else {
		ev.badTime = true
	}

	if prop := comp.Props.Get(ical.PropDateTimeEnd); prop != nil {
		if t, err := prop.DateTime(loc); err == nil {
			ev.end = t
		}
	}
	if ev.end.IsZero() && !ev.start.IsZero() {
		if ev.allDay {
			ev.end = ev.start.Add(24 * time.Hour)
		} else {
			ev.end = ev.start
		}
	}

	if prop := comp.Props.Get(ical.PropRecurrenceRule); prop != nil {
		ev.rawRRule = prop.Value
	}

	// EXDATE can repeat and carry comma-separated lists. Raw property names
	// are used here; the constants for these vary across ical libraries.
	for _, prop := range comp.Props["EXDATE"] {
		for _, part := range strings.Split(prop.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part, loc); err == nil {
				ev.exDates = append(ev.exDates, t)
			}
		}
	}

	if prop := comp.Props.Get("RECURRENCE-ID"); prop != nil {
		if t, err := prop.DateTime(loc); err == nil {
			ev.recurrenceID = &t
		}
	}

	return ev
}
