// Package executor performs the outbound actions (direct messages and public
// replies) with pacing, bounded retries, and cooldowns driven by the
// platform's error classification.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/smile69cm/smile69cm/internal/pacing"
	"github.com/smile69cm/smile69cm/internal/platform"
	"github.com/smile69cm/smile69cm/internal/session"
)

var (
	// ErrNoActionSession means the action-capable account is not logged in.
	// Configuration problem, not a transient failure; no retry is attempted.
	ErrNoActionSession = errors.New("no action session available")
	// ErrCooldownActive means a rate-limit cooldown suppressed the action.
	ErrCooldownActive = errors.New("cooldown active")
)

const (
	dmRateLimitCooldown       = 15 * time.Minute
	dmRestrictedCooldown      = 30 * time.Minute
	replyRateLimitCooldown    = 10 * time.Minute
	replyRestrictedCooldown   = 20 * time.Minute
	maxAttempts               = 3
	dmRateLimitBackoffUnit    = 60 * time.Second
	replyRateLimitBackoffUnit = 30 * time.Second
)

type retryPlan struct {
	op                 string
	category           pacing.Category
	rateLimitCooldown  time.Duration
	restrictedCooldown time.Duration
	rateLimitBackoff   time.Duration
	jitterMin          int
	jitterMax          int
	notFoundAborts     bool
}

var dmPlan = retryPlan{
	op:                 "send dm",
	category:           pacing.CategoryDM,
	rateLimitCooldown:  dmRateLimitCooldown,
	restrictedCooldown: dmRestrictedCooldown,
	rateLimitBackoff:   dmRateLimitBackoffUnit,
	jitterMin:          5,
	jitterMax:          15,
}

var replyPlan = retryPlan{
	op:                 "post reply",
	category:           pacing.CategoryReply,
	rateLimitCooldown:  replyRateLimitCooldown,
	restrictedCooldown: replyRestrictedCooldown,
	rateLimitBackoff:   replyRateLimitBackoffUnit,
	jitterMin:          5,
	jitterMax:          12,
	notFoundAborts:     true,
}

// Executor runs paced, retried platform actions for the main account.
type Executor struct {
	client   platform.Client
	sessions *session.Manager
	pacing   *pacing.Policy
	sleep    func(ctx context.Context, d time.Duration) error
	intn     func(n int) int

	mu           sync.Mutex
	dmRecipients map[string]time.Time
}

type Option func(*Executor)

// WithSleep replaces the blocking backoff sleep, for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) { e.sleep = sleep }
}

// WithRand replaces the random source used for backoff jitter, for tests.
func WithRand(intn func(n int) int) Option {
	return func(e *Executor) { e.intn = intn }
}

func New(client platform.Client, sessions *session.Manager, pace *pacing.Policy, opts ...Option) *Executor {
	e := &Executor{
		client:       client,
		sessions:     sessions,
		pacing:       pace,
		sleep:        sleepContext,
		intn:         rand.Intn,
		dmRecipients: map[string]time.Time{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SendDirectMessage delivers the DM to the user. Recipients are recorded for
// bookkeeping; a user may legitimately receive one DM per matching comment,
// so the record never suppresses a send.
func (e *Executor) SendDirectMessage(ctx context.Context, userID, text string) error {
	if !e.sessions.Has(session.RoleMain) {
		return ErrNoActionSession
	}

	err := e.execute(ctx, dmPlan, func(ctx context.Context) error {
		return e.client.SendDirectMessage(ctx, userID, text)
	})
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.dmRecipients[userID] = time.Now()
	e.mu.Unlock()
	return nil
}

// Messaged reports whether the user has received a DM this process lifetime.
func (e *Executor) Messaged(userID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.dmRecipients[userID]
	return ok
}

// RecipientCount returns how many distinct users were messaged this process
// lifetime.
func (e *Executor) RecipientCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.dmRecipients)
}

// ReplyToComment posts the public reply under the comment.
func (e *Executor) ReplyToComment(ctx context.Context, postID, commentID, text string) error {
	if !e.sessions.Has(session.RoleMain) {
		return ErrNoActionSession
	}
	return e.execute(ctx, replyPlan, func(ctx context.Context) error {
		return e.client.PostReply(ctx, postID, commentID, text)
	})
}

func (e *Executor) execute(ctx context.Context, plan retryPlan, call func(context.Context) error) error {
	if !e.pacing.WaitBeforeAction(ctx, plan.category, false) {
		remaining := e.pacing.CooldownRemaining().Round(time.Second)
		return fmt.Errorf("%s: %w, %s remaining", plan.op, ErrCooldownActive, remaining)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := call(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		kind := platform.KindOf(err)
		switch kind {
		case platform.KindRestricted:
			e.pacing.SetCooldown(plan.restrictedCooldown)
			log.Printf("event=action_restricted op=%q cooldown=%s err=%v", plan.op, plan.restrictedCooldown, err)
			return fmt.Errorf("%s: %w", plan.op, err)
		case platform.KindSessionExpired:
			log.Printf("event=action_session_expired op=%q err=%v", plan.op, err)
			if rerr := e.sessions.Refresh(session.RoleMain); rerr != nil {
				log.Printf("event=session_refresh_failed role=main err=%v", rerr)
			}
			return fmt.Errorf("%s: %w", plan.op, err)
		case platform.KindNotFound:
			if plan.notFoundAborts {
				log.Printf("event=action_target_gone op=%q err=%v", plan.op, err)
				return fmt.Errorf("%s: %w", plan.op, err)
			}
		case platform.KindRateLimited:
			e.pacing.SetCooldown(plan.rateLimitCooldown)
			log.Printf("event=action_rate_limited op=%q attempt=%d cooldown=%s", plan.op, attempt, plan.rateLimitCooldown)
		}

		if attempt == maxAttempts {
			break
		}

		var wait time.Duration
		if kind == platform.KindRateLimited {
			wait = plan.rateLimitBackoff * time.Duration(attempt)
		} else {
			jitter := plan.jitterMin + e.intn(plan.jitterMax-plan.jitterMin+1)
			wait = time.Duration(jitter*attempt) * time.Second
		}
		log.Printf("event=action_retry op=%q attempt=%d wait=%s err=%v", plan.op, attempt, wait, err)
		if serr := e.sleep(ctx, wait); serr != nil {
			return fmt.Errorf("%s: retry wait: %w", plan.op, serr)
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", plan.op, maxAttempts, lastErr)
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
