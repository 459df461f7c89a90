package refresh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"epdash/internal/appstate"
	"epdash/internal/calendar"
	appLog "epdash/internal/log"
	"epdash/internal/model"
	"epdash/internal/user"
	"epdash/internal/weather"
)

// Invalidator is the slice of the render cache the coordinator needs.
type Invalidator interface {
	Invalidate(userID string)
}

// Config bounds one refresh cycle.
type Config struct {
	// Parallelism caps how many users are fetched concurrently.
	Parallelism int
}

// Coordinator fetches calendar and weather for all users in parallel, swaps
// the results into shared state, and invalidates artifacts whose source data
// changed. It never holds the shared-state lock across a network call.
type Coordinator struct {
	registry  *user.Registry
	calendars *calendar.Source
	weather   *weather.Source
	state     *appstate.Store
	cache     Invalidator

	parallelism int

	// cycleMu serializes whole cycles so an overlapping manual trigger and
	// scheduled fire don't double-fetch the same upstreams.
	cycleMu sync.Mutex
}

// New creates a Coordinator.
func New(registry *user.Registry, calendars *calendar.Source, ws *weather.Source, state *appstate.Store, cache Invalidator, cfg Config) *Coordinator {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	return &Coordinator{
		registry:    registry,
		calendars:   calendars,
		weather:     ws,
		state:       state,
		cache:       cache,
		parallelism: cfg.Parallelism,
	}
}

// RefreshAll runs one full refresh cycle: bounded parallel per-user fetches,
// point-in-time swaps into shared state, then invalidation of every user
// whose fingerprint changed. Individual fetch timeouts bound total cycle
// time; a slow user cannot block others indefinitely.
func (c *Coordinator) RefreshAll(ctx context.Context) {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	ids := c.registry.IDs()
	started := time.Now()
	appLog.Info("refresh cycle starting", "users", len(ids))

	sem := make(chan struct{}, c.parallelism)
	var wg sync.WaitGroup

	changedMu := sync.Mutex{}
	changed := make([]string, 0, len(ids))

	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			if c.refreshUser(ctx, id) {
				changedMu.Lock()
				changed = append(changed, id)
				changedMu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	// Invalidate only after every swap is done, so one cycle's artifacts
	// reflect one cycle's data.
	for _, id := range changed {
		c.cache.Invalidate(id)
	}

	appLog.Info("refresh cycle finished",
		"users", len(ids),
		"changed", len(changed),
		"duration", time.Since(started).Round(time.Millisecond),
	)
}

// RefreshUser runs a synchronous single-user pass, used by the request path
// on a cold cache and by the manual trigger. The error reports only the
// first-run case where no data could be produced at all.
func (c *Coordinator) RefreshUser(ctx context.Context, userID string) error {
	if _, ok := c.registry.Get(userID); !ok {
		return fmt.Errorf("unknown user %q", userID)
	}
	if c.refreshUser(ctx, userID) {
		c.cache.Invalidate(userID)
	}
	if _, ok := c.state.Fingerprint(userID); !ok {
		return fmt.Errorf("refresh produced no data for user %q", userID)
	}
	return nil
}

// refreshUser fetches one user and swaps the result in. Returns whether the
// fingerprint changed. On total calendar failure with a previous snapshot
// present, the swap is skipped entirely: stale-but-present beats empty.
func (c *Coordinator) refreshUser(ctx context.Context, userID string) bool {
	profile, ok := c.registry.Get(userID)
	if !ok {
		return false
	}

	calRes := c.calendars.Fetch(ctx, profile)
	snap := c.weather.Fetch(ctx, profile.WeatherLocation, profile.Timezone, profile.Loc)

	if calRes.Failed {
		if _, ok := c.state.Fingerprint(userID); ok {
			appLog.Warn("calendar fetch failed entirely; retaining previous snapshot", "user", userID)
			return false
		}
		// First run with nothing to retain: record the empty-but-flagged
		// state so the display at least shows weather.
		appLog.Warn("calendar fetch failed entirely with no previous snapshot", "user", userID)
	}

	oldFP, hadOld := c.state.Fingerprint(userID)
	newFP := c.state.Replace(userID, model.UserAppData{
		TodayEvents:    calRes.Today,
		TomorrowEvents: calRes.Tomorrow,
		Weather:        snap,
		FetchedAt:      time.Now(),
	})

	return !hadOld || oldFP != newFP
}
