package calendar

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	appLog "epdash/internal/log"
	"epdash/internal/model"
	"epdash/internal/user"
)

// Config controls fetch behavior for all users.
type Config struct {
	// Timeout applies per calendar endpoint.
	Timeout time.Duration
	// MaxOccurrencesPerEvent caps recurrence expansion per event.
	MaxOccurrencesPerEvent int
}

// Result is the outcome of one per-user calendar fetch. Failed is set only
// when every configured endpoint failed; the caller uses it to retain the
// previous snapshot instead of overwriting it with an empty one.
type Result struct {
	Today    []model.Event
	Tomorrow []model.Event
	Failed   bool
}

// Source fetches and normalizes calendar events for user profiles. It speaks
// two endpoint kinds: authenticated CalDAV collections and plain ICS
// subscription feeds (with conditional-request caching for the latter).
type Source struct {
	httpClient *http.Client
	timeout    time.Duration
	maxOcc     int

	// feedMu guards the ICS conditional-request cache.
	feedMu sync.Mutex
	feeds  map[string]*feedState
}

// New creates a calendar Source.
func New(cfg Config) *Source {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = 5000
	}
	return &Source{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		timeout:    cfg.Timeout,
		maxOcc:     cfg.MaxOccurrencesPerEvent,
		feeds:      make(map[string]*feedState),
	}
}

// rawEvent is a parsed but not yet expanded VEVENT, shared between the two
// endpoint parsers.
type rawEvent struct {
	uid     string
	title   string
	start   time.Time
	end     time.Time
	allDay  bool
	badTime bool // start was unparsable; kept with an error sentinel, not dropped

	rawRRule     string
	exDates      []time.Time
	recurrenceID *time.Time
}

// errAuth classifies endpoint failures caused by rejected credentials.
var errAuth = errors.New("authorization failed")

// Fetch retrieves events for the window [today 00:00, day-after-tomorrow
// 00:00) in the profile's timezone, partitioned into today/tomorrow buckets.
//
// A single endpoint failure is logged and contributes an error sentinel to
// today's list; the event set is the union of whatever endpoints succeeded.
func (s *Source) Fetch(ctx context.Context, p *user.Profile) Result {
	now := time.Now().In(p.Loc)
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, p.Loc)
	windowEnd := todayStart.AddDate(0, 0, 2)

	var raws []rawEvent
	var sentinels []model.Event
	succeeded := 0

	for _, ep := range p.Calendars {
		ectx, cancel := context.WithTimeout(ctx, s.timeout)

		var evs []rawEvent
		var err error
		switch ep.Kind {
		case user.SourceICS:
			evs, err = s.fetchICS(ectx, ep)
		default:
			evs, err = s.fetchCalDAV(ectx, ep, p, todayStart, windowEnd)
		}
		cancel()

		if err != nil {
			appLog.Error("calendar endpoint fetch failed", err,
				"user", p.ID, "kind", ep.Kind, "host", ep.Host())
			sentinels = append(sentinels, errorSentinel(ep, err, todayStart))
			continue
		}
		succeeded++
		raws = append(raws, evs...)
	}

	if len(p.Calendars) > 0 && succeeded == 0 {
		appLog.Warn("all calendar endpoints failed", "user", p.ID, "endpoint_count", len(p.Calendars))
		return Result{Failed: true}
	}

	occs := expandOccurrences(raws, todayStart, windowEnd, p.Loc, s.maxOcc)
	today, tomorrow := bucketize(occs, todayStart, windowEnd)

	// Endpoint failure sentinels lead today's column so a broken source is
	// visible on the display itself.
	if len(sentinels) > 0 {
		today = append(sentinels, today...)
	}

	appLog.Info("calendar fetch completed",
		"user", p.ID,
		"today", len(today),
		"tomorrow", len(tomorrow),
		"failed_endpoints", len(sentinels),
	)
	return Result{Today: today, Tomorrow: tomorrow}
}

// errorSentinel builds the synthetic event shown when an endpoint fails.
func errorSentinel(ep user.CalendarEndpoint, err error, todayStart time.Time) model.Event {
	prefix := "Load Fail"
	switch {
	case errors.Is(err, errAuth):
		prefix = "Auth Fail"
	case errors.Is(err, context.DeadlineExceeded):
		prefix = "Timeout"
	}
	return model.Event{
		Title:       prefix + ": " + ep.Host(),
		Start:       todayStart,
		DisplayTime: model.DisplayTimeError,
		SortKey:     todayStart,
		Err:         true,
	}
}
