// Package pacing computes randomized, load-adaptive wait intervals for
// outbound actions and enforces a global cooldown after rate-limit errors.
package pacing

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

type Category string

const (
	CategoryDM             Category = "dm"
	CategoryReply          Category = "reply"
	CategoryScan           Category = "scan"
	CategoryBetweenActions Category = "between_actions"
)

const (
	historyWindow      = 2 * time.Hour
	recentActionWindow = 5 * time.Minute
)

type delayRange struct {
	min int
	max int
}

var baseDelays = map[Category]delayRange{
	CategoryDM:             {45, 75},
	CategoryReply:          {25, 40},
	CategoryScan:           {8, 15},
	CategoryBetweenActions: {35, 55},
}

var defaultDelay = delayRange{30, 60}

type actionEvent struct {
	category Category
	at       time.Time
}

// Policy paces outbound actions. The zero value is not usable; construct
// with New.
type Policy struct {
	mu         sync.Mutex
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
	intn       func(n int) int
	history    []actionEvent
	lastAction map[Category]time.Time
	cooldownAt time.Time
}

type Option func(*Policy)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Policy) { p.now = now }
}

// WithSleep replaces the blocking sleep, for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Policy) { p.sleep = sleep }
}

// WithRand replaces the random source, for tests.
func WithRand(intn func(n int) int) Option {
	return func(p *Policy) { p.intn = intn }
}

func New(opts ...Option) *Policy {
	p := &Policy{
		now:        time.Now,
		sleep:      sleepContext,
		intn:       rand.Intn,
		lastAction: map[Category]time.Time{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// DelayFor returns the required delay in seconds for the category given how
// many actions happened recently. The result is uniform within the category
// base range, widened by escalating tiers when recent activity is high.
func (p *Policy) DelayFor(category Category, recentActionCount int) int {
	r, ok := baseDelays[category]
	if !ok {
		r = defaultDelay
	}
	switch {
	case recentActionCount > 3:
		r.min += 15
		r.max += 25
	case recentActionCount > 1:
		r.min += 8
		r.max += 12
	}
	p.mu.Lock()
	intn := p.intn
	p.mu.Unlock()
	return r.min + intn(r.max-r.min+1)
}

// ShouldWaitForCooldown reports whether a rate-limit cooldown is active.
func (p *Policy) ShouldWaitForCooldown() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.cooldownAt.IsZero() && p.now().Before(p.cooldownAt)
}

// SetCooldown suppresses all paced actions for the duration. A later call
// always replaces the current expiry, even with a shorter one.
func (p *Policy) SetCooldown(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cooldownAt = p.now().Add(d)
}

// CooldownRemaining returns the time left on the active cooldown, or zero.
func (p *Policy) CooldownRemaining() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cooldownAt.IsZero() {
		return 0
	}
	remaining := p.cooldownAt.Sub(p.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// WaitBeforeAction blocks until the category may act. It returns false
// without blocking when a cooldown is active, signaling the caller to skip
// the action entirely. Otherwise it sleeps only the shortfall between the
// computed delay and the time already elapsed since the category last acted,
// records the action, and prunes history older than two hours.
func (p *Policy) WaitBeforeAction(ctx context.Context, category Category, forceWait bool) bool {
	if p.ShouldWaitForCooldown() {
		return false
	}

	p.mu.Lock()
	current := p.now()
	recent := 0
	for _, ev := range p.history {
		if current.Sub(ev.at) < recentActionWindow {
			recent++
		}
	}
	last, hasLast := p.lastAction[category]
	p.mu.Unlock()

	delay := time.Duration(p.DelayFor(category, recent)) * time.Second
	if hasLast {
		elapsed := current.Sub(last)
		if elapsed < delay || forceWait {
			if wait := delay - elapsed; wait > 0 {
				if err := p.sleep(ctx, wait); err != nil {
					return false
				}
			}
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	p.history = append(p.history, actionEvent{category: category, at: now})
	p.lastAction[category] = now
	cutoff := now.Add(-historyWindow)
	pruned := p.history[:0]
	for _, ev := range p.history {
		if ev.at.After(cutoff) {
			pruned = append(pruned, ev)
		}
	}
	p.history = pruned
	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
