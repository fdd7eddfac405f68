package tokens

import (
	"context"
	"sync"
	"time"

	"github.com/ignatij/flowplan/pkg/models"
	"github.com/pkg/errors"
)

// Cache is an in-memory session store. Arm, Consume and Sweep serialize on
// one mutex, so a token is handed out by Consume at most once.
type Cache struct {
	mu            sync.Mutex
	sessions      map[string]models.WebhookTestSession
	now           func() time.Time
	newToken      func() (string, error)
	sweepInterval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithTokenFunc replaces the token generator.
func WithTokenFunc(fn func() (string, error)) Option {
	return func(c *Cache) {
		c.newToken = fn
	}
}

// WithSweepInterval changes how often Start sweeps.
func WithSweepInterval(d time.Duration) Option {
	return func(c *Cache) {
		c.sweepInterval = d
	}
}

func NewCache(opts ...Option) *Cache {
	c := &Cache{
		sessions:      make(map[string]models.WebhookTestSession),
		now:           time.Now,
		newToken:      NewToken,
		sweepInterval: SweepInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Arm creates a session for the node. A colliding token overwrites the older session.
func (c *Cache) Arm(_ context.Context, workflowID int64, nodeID string) (models.WebhookTestSession, error) {
	token, err := c.newToken()
	if err != nil {
		return models.WebhookTestSession{}, errors.Wrap(err, "generate token")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	session := models.WebhookTestSession{
		Token:      token,
		WorkflowID: workflowID,
		NodeID:     nodeID,
		ExpiresAt:  c.now().Add(TTL),
	}
	c.sessions[token] = session
	return session, nil
}

// Consume removes and returns the session for token. An expired session is
// removed and reported as missing, whether or not a sweep has run.
func (c *Cache) Consume(_ context.Context, token string) (models.WebhookTestSession, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	session, ok := c.sessions[token]
	if !ok {
		return models.WebhookTestSession{}, false, nil
	}
	delete(c.sessions, token)
	if session.Expired(c.now()) {
		return models.WebhookTestSession{}, false, nil
	}
	return session, true, nil
}

// Sweep drops every session that expired before now and returns how many.
func (c *Cache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for token, session := range c.sessions {
		if session.ExpiresAt.Before(now) {
			delete(c.sessions, token)
			removed++
		}
	}
	return removed
}

// Len returns the number of live and not yet swept sessions.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// Start runs the periodic sweep until ctx is done or Stop is called.
// Calling Start on a running cache is a no-op.
func (c *Cache) Start(ctx context.Context) {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(c.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Sweep(c.now())
			}
		}
	}()
}

// Stop ends the sweep loop and waits for it to exit.
func (c *Cache) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
