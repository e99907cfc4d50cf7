// Package probe periodically verifies that the platform sessions are still
// accepted, so an expired login is noticed before the next outreach fails.
package probe

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/smile69cm/smile69cm/internal/platform"
	"github.com/smile69cm/smile69cm/internal/session"
)

// Check pairs a session role with a platform client authenticated as it.
type Check struct {
	Role   session.Role
	Client platform.Client
}

type Runner struct {
	cron     *cron.Cron
	running  atomic.Bool
	sessions *session.Manager
	checks   []Check
	timezone string
}

func NewRunner(spec, timezone string, sessions *session.Manager, checks []Check) (*Runner, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, fmt.Errorf("probe cron spec is required")
	}
	if strings.TrimSpace(timezone) == "" {
		return nil, fmt.Errorf("probe timezone is required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("probe session manager is required")
	}
	if len(checks) == 0 {
		return nil, fmt.Errorf("at least one probe check is required")
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load probe timezone: %w", err)
	}

	scheduler := cron.New(cron.WithLocation(loc), cron.WithSeconds())
	r := &Runner{
		cron:     scheduler,
		sessions: sessions,
		checks:   checks,
		timezone: timezone,
	}
	if _, err := scheduler.AddFunc(spec, r.execute); err != nil {
		return nil, fmt.Errorf("register probe cron: %w", err)
	}
	return r, nil
}

func (r *Runner) Start(ctx context.Context) {
	r.cron.Start()
	go func() {
		<-ctx.Done()
		stopCtx := r.cron.Stop()
		<-stopCtx.Done()
	}()
}

func (r *Runner) execute() {
	if !r.running.CompareAndSwap(false, true) {
		log.Printf("probe skipped: reason=already_running timezone=%s", r.timezone)
		return
	}
	defer r.running.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	r.RunOnce(ctx)
}

// RunOnce probes every configured role. An expired session triggers a reload
// from disk so an out-of-band re-login is picked up without a restart.
func (r *Runner) RunOnce(ctx context.Context) {
	for _, check := range r.checks {
		if !r.sessions.Has(check.Role) {
			if err := r.sessions.Refresh(check.Role); err != nil {
				log.Printf("probe refresh failed: role=%s err=%v", check.Role, err)
			}
			if !r.sessions.Has(check.Role) {
				log.Printf("probe skipped: role=%s reason=no_session", check.Role)
				continue
			}
		}

		account, err := check.Client.AccountInfo(ctx)
		if err != nil {
			if platform.KindOf(err) == platform.KindSessionExpired {
				if rerr := r.sessions.Refresh(check.Role); rerr != nil {
					log.Printf("probe refresh failed: role=%s err=%v", check.Role, rerr)
				}
			}
			log.Printf("probe failed: role=%s err=%v", check.Role, err)
			continue
		}
		log.Printf("probe ok: role=%s username=%s", check.Role, account.Username)
	}
}
