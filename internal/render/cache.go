package render

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"epdash/internal/appstate"
	appLog "epdash/internal/log"
	"epdash/internal/model"
	"epdash/internal/user"
)

var (
	// ErrUnknownUser marks a request for a user the registry does not know.
	ErrUnknownUser = errors.New("unknown user")
	// ErrNoArtifact is returned only before the very first successful
	// refresh+render for a user; once an artifact exists it stays servable.
	ErrNoArtifact = errors.New("no artifact available")
)

// Renderer produces an image from a display model. It may fail or time out.
type Renderer interface {
	Render(ctx context.Context, dm model.DisplayModel) ([]byte, error)
}

// cacheEntry is the most recently generated artifact for one user.
type cacheEntry struct {
	artifact    []byte
	generatedAt time.Time
	fingerprint string
	// stale marks the entry for regeneration without deleting it, so a
	// concurrent reader still gets a servable artifact while a fresh one
	// is produced.
	stale bool
}

// renderLease represents one in-flight render. Concurrent callers for the
// same key wait on done instead of starting a duplicate render.
type renderLease struct {
	done     chan struct{}
	artifact []byte
	err      error
}

// Cache maps user keys to rendered artifacts and guarantees at most one
// concurrent render per key. Its lock is independent of the app-data lock so
// a slow render never blocks a data refresh and vice versa.
type Cache struct {
	renderer Renderer
	state    *appstate.Store
	registry *user.Registry

	// refresh, when set, is invoked for the cold-cache path: a request
	// arriving before the first scheduled refresh triggers a synchronous
	// single-user pass.
	refresh func(ctx context.Context, userID string) error

	mu      sync.Mutex
	entries map[string]*cacheEntry
	leases  map[string]*renderLease
}

// NewCache creates a Cache over the given collaborators.
func NewCache(renderer Renderer, state *appstate.Store, registry *user.Registry) *Cache {
	return &Cache{
		renderer: renderer,
		state:    state,
		registry: registry,
		entries:  make(map[string]*cacheEntry),
		leases:   make(map[string]*renderLease),
	}
}

// SetRefreshFunc wires the on-demand refresh hook. Set during startup wiring;
// not safe to change once requests are being served.
func (c *Cache) SetRefreshFunc(fn func(ctx context.Context, userID string) error) {
	c.refresh = fn
}

// Invalidate marks the user's cached artifact stale without deleting it.
func (c *Cache) Invalidate(userID string) {
	c.mu.Lock()
	if e, ok := c.entries[userID]; ok {
		e.stale = true
	}
	c.mu.Unlock()
}

// GetOrRender returns the cached artifact when its fingerprint still matches
// the current app data, otherwise renders. Render failures never evict a
// previous artifact: the caller gets the stale artifact and only sees an
// error when nothing has ever been rendered for the user.
func (c *Cache) GetOrRender(ctx context.Context, userID string) ([]byte, error) {
	profile, ok := c.registry.Get(userID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, userID)
	}

	data, fp, ok := c.state.Get(userID)
	if !ok {
		// Cold cache: no data yet for this user.
		if c.refresh == nil {
			return nil, ErrNoArtifact
		}
		if err := c.refresh(ctx, userID); err != nil {
			return nil, fmt.Errorf("on-demand refresh: %w", err)
		}
		if data, fp, ok = c.state.Get(userID); !ok {
			return nil, ErrNoArtifact
		}
	}

	c.mu.Lock()
	e := c.entries[userID]
	if e != nil && !e.stale && e.fingerprint == fp {
		artifact := e.artifact
		c.mu.Unlock()
		return artifact, nil
	}

	if l := c.leases[userID]; l != nil {
		// A render for this key is already in flight.
		if e != nil {
			// Slightly stale but servable; don't make the reader wait.
			artifact := e.artifact
			c.mu.Unlock()
			return artifact, nil
		}
		c.mu.Unlock()
		select {
		case <-l.done:
			return l.artifact, l.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	// Check-and-insert of the lease is a single critical section; two
	// callers can never both observe "no lease" and both render.
	l := &renderLease{done: make(chan struct{})}
	c.leases[userID] = l
	c.mu.Unlock()

	now := time.Now().In(profile.Loc)
	dm := model.BuildDisplayModel(userID, data, now)
	artifact, err := c.renderer.Render(ctx, dm)

	c.mu.Lock()
	delete(c.leases, userID)
	if err == nil {
		c.entries[userID] = &cacheEntry{
			artifact:    artifact,
			generatedAt: now,
			fingerprint: fp,
		}
		l.artifact = artifact
	} else if prev := c.entries[userID]; prev != nil {
		appLog.Warn("render failed; serving previous artifact",
			"user", userID, "generated_at", prev.generatedAt.Format(time.RFC3339), "err", err)
		l.artifact = prev.artifact
	} else {
		appLog.Error("render failed with no previous artifact", err, "user", userID)
		l.err = fmt.Errorf("%w: render failed: %v", ErrNoArtifact, err)
	}
	close(l.done)
	c.mu.Unlock()

	return l.artifact, l.err
}
