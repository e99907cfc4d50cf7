// Package monitor runs the poll loop: it fetches fresh comments for every
// enabled item, gates them through the processed-comment ledger and the
// keyword matcher, and hands matches to the executor.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/smile69cm/smile69cm/internal/executor"
	"github.com/smile69cm/smile69cm/internal/ledger"
	"github.com/smile69cm/smile69cm/internal/match"
	"github.com/smile69cm/smile69cm/internal/pacing"
	"github.com/smile69cm/smile69cm/internal/platform"
	"github.com/smile69cm/smile69cm/internal/session"
	"github.com/smile69cm/smile69cm/internal/store"
)

// ErrCycleRunning means a scan cycle is already in flight; the ad-hoc
// trigger from the operator bot reports this instead of queueing.
var ErrCycleRunning = errors.New("scan cycle already running")

// Config wires a Runner. CyclePeriod separates full cycles; IdlePeriod is
// the shorter nap used while nothing is enabled.
type Config struct {
	Client      platform.Client
	Store       *store.Store
	Ledger      *ledger.Ledger
	Executor    *executor.Executor
	Pacing      *pacing.Policy
	Sessions    *session.Manager
	ReplyText   string
	FetchLimit  int
	CyclePeriod time.Duration
	IdlePeriod  time.Duration
}

type Runner struct {
	client      platform.Client
	store       *store.Store
	ledger      *ledger.Ledger
	exec        *executor.Executor
	pacing      *pacing.Policy
	sessions    *session.Manager
	replyText   string
	fetchLimit  int
	cyclePeriod time.Duration
	idlePeriod  time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	running     atomic.Bool
}

type Option func(*Runner)

// WithSleep replaces the inter-cycle sleep, for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Runner) { r.sleep = sleep }
}

func NewRunner(cfg Config, opts ...Option) (*Runner, error) {
	if cfg.Client == nil {
		return nil, errors.New("platform client is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("item store is required")
	}
	if cfg.Ledger == nil {
		return nil, errors.New("ledger is required")
	}
	if cfg.Executor == nil {
		return nil, errors.New("executor is required")
	}
	if cfg.Pacing == nil {
		return nil, errors.New("pacing policy is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session manager is required")
	}
	if cfg.ReplyText == "" {
		return nil, errors.New("reply text is required")
	}

	r := &Runner{
		client:      cfg.Client,
		store:       cfg.Store,
		ledger:      cfg.Ledger,
		exec:        cfg.Executor,
		pacing:      cfg.Pacing,
		sessions:    cfg.Sessions,
		replyText:   cfg.ReplyText,
		fetchLimit:  cfg.FetchLimit,
		cyclePeriod: cfg.CyclePeriod,
		idlePeriod:  cfg.IdlePeriod,
		sleep:       sleepContext,
	}
	if r.fetchLimit <= 0 {
		r.fetchLimit = 30
	}
	if r.cyclePeriod <= 0 {
		r.cyclePeriod = 3 * time.Minute
	}
	if r.idlePeriod <= 0 {
		r.idlePeriod = 30 * time.Second
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Start runs scan cycles until the context is cancelled. Cycle errors are
// logged and never terminate the loop.
func (r *Runner) Start(ctx context.Context) {
	log.Printf("event=monitor_started cycle_period=%s idle_period=%s", r.cyclePeriod, r.idlePeriod)
	for {
		period := r.idlePeriod
		if len(r.store.Active()) > 0 {
			if err := r.RunCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("event=scan_cycle_failed err=%v", err)
			}
			period = r.cyclePeriod
		}
		if err := r.sleep(ctx, period); err != nil {
			log.Printf("event=monitor_stopped reason=%v", ctx.Err())
			return
		}
	}
}

// RunCycle scans every enabled item once. Only one cycle runs at a time; a
// concurrent call returns ErrCycleRunning so the operator bot can report it.
func (r *Runner) RunCycle(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrCycleRunning
	}
	defer r.running.Store(false)

	if !r.sessions.Has(session.RoleMonitor) {
		if err := r.sessions.Refresh(session.RoleMonitor); err != nil {
			log.Printf("event=session_refresh_failed role=monitor err=%v", err)
		}
		if !r.sessions.Has(session.RoleMonitor) {
			return errors.New("no monitor session available")
		}
	}

	items := r.store.Active()
	for _, item := range items {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := r.scanItem(ctx, item); err != nil {
			log.Printf("event=item_scan_failed item=%q err=%v", item.Name, err)
		}
	}

	if err := r.store.SyncLegacy(); err != nil {
		log.Printf("event=legacy_sync_failed err=%v", err)
	}
	return nil
}

func (r *Runner) scanItem(ctx context.Context, item store.Item) error {
	postID := item.PostID
	if postID == "" {
		resolved, err := r.client.ResolvePostID(ctx, item.URL)
		if err != nil {
			return fmt.Errorf("resolve post id: %w", err)
		}
		if err := r.store.SetPostID(item.ID, resolved); err != nil {
			return fmt.Errorf("persist post id: %w", err)
		}
		postID = resolved
	}

	if !r.pacing.WaitBeforeAction(ctx, pacing.CategoryScan, false) {
		log.Printf("event=scan_skipped item=%q reason=cooldown remaining=%s",
			item.Name, r.pacing.CooldownRemaining().Round(time.Second))
		return nil
	}

	comments, total, err := r.client.FetchComments(ctx, postID, r.fetchLimit)
	if err != nil {
		if platform.KindOf(err) == platform.KindSessionExpired {
			if rerr := r.sessions.Refresh(session.RoleMonitor); rerr != nil {
				log.Printf("event=session_refresh_failed role=monitor err=%v", rerr)
			}
		}
		return fmt.Errorf("fetch comments: %w", err)
	}
	if err := r.store.SetTotalComments(item.ID, total); err != nil {
		log.Printf("event=stats_update_failed item=%q err=%v", item.Name, err)
	}

	matches := 0
	for _, comment := range comments {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if r.ledger.AlreadyProcessed(comment.ID, item.URL) {
			continue
		}
		if err := r.store.RecordCommentSeen(item.ID, comment.Username); err != nil {
			log.Printf("event=stats_update_failed item=%q err=%v", item.Name, err)
		}
		if !match.Matches(comment.Text, item.Keywords) {
			continue
		}
		matches++
		log.Printf("event=comment_matched item=%q comment=%s user=%s", item.Name, comment.ID, comment.Username)

		// Mark first. A crash between marking and acting loses one
		// outreach; the reverse would double-message the user.
		if err := r.ledger.MarkProcessed(comment.ID, item.URL); err != nil {
			log.Printf("event=ledger_mark_failed comment=%s err=%v", comment.ID, err)
			continue
		}

		r.act(ctx, item, postID, comment)

		delay := time.Duration(r.pacing.DelayFor(pacing.CategoryBetweenActions, matches)) * time.Second
		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return nil
}

// act sends the DM and then the public reply. Each failure is logged and the
// other action still runs; a cooldown between them suppresses the reply.
func (r *Runner) act(ctx context.Context, item store.Item, postID string, comment platform.Comment) {
	err := r.exec.SendDirectMessage(ctx, comment.UserID, item.Message)
	switch {
	case err == nil:
		if serr := r.store.RecordDM(item.ID, comment.Username); serr != nil {
			log.Printf("event=stats_update_failed item=%q err=%v", item.Name, serr)
		}
		log.Printf("event=dm_sent item=%q user=%s", item.Name, comment.Username)
	case errors.Is(err, executor.ErrNoActionSession):
		log.Printf("event=dm_skipped item=%q reason=no_action_session", item.Name)
		return
	default:
		log.Printf("event=dm_failed item=%q user=%s err=%v", item.Name, comment.Username, err)
	}

	if !r.pacing.WaitBeforeAction(ctx, pacing.CategoryBetweenActions, true) {
		log.Printf("event=reply_skipped item=%q comment=%s reason=cooldown", item.Name, comment.ID)
		return
	}

	if err := r.exec.ReplyToComment(ctx, postID, comment.ID, r.replyText); err != nil {
		log.Printf("event=reply_failed item=%q comment=%s err=%v", item.Name, comment.ID, err)
		return
	}
	if serr := r.store.RecordReply(item.ID); serr != nil {
		log.Printf("event=stats_update_failed item=%q err=%v", item.Name, serr)
	}
	log.Printf("event=reply_sent item=%q comment=%s", item.Name, comment.ID)
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
