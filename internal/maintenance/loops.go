// Package maintenance runs the three background loops that keep
// per-tenant counters and proxy health honest: daily quota/error reset,
// progress reconciliation, and proxy liveness probing. All three reuse
// the teacher's pkg/roster/worker.go RunScheduleTopUpLoop idiom
// (run-once-then-ticker, tenant fan-out, per-tenant error isolation).
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/duskpost/poster/internal/db"
	"github.com/duskpost/poster/internal/model"
)

// TenantDB resolves a tenant slug to scoped queries plus a release func.
type TenantDB func(ctx context.Context, slug string) (*db.Queries, func(), error)

// Runner fans a single maintenance pass out across every tenant,
// isolating failures so one tenant's error doesn't stop the others.
type Runner struct {
	Global       *db.Queries
	GetTenantDB  TenantDB
	Logger       *slog.Logger
	ProbeTimeout time.Duration
}

func New(global *db.Queries, getTenantDB TenantDB, logger *slog.Logger, probeTimeout time.Duration) *Runner {
	return &Runner{Global: global, GetTenantDB: getTenantDB, Logger: logger, ProbeTimeout: probeTimeout}
}

// RunDailyReset resets ApiProfile quotas, Account daily usage counters,
// and error-state schedules, once per tenant.
func (r *Runner) RunDailyReset(ctx context.Context) error {
	return r.forEachTenant(ctx, "daily_reset", func(ctx context.Context, tq *db.Queries) error {
		if err := tq.ResetApiProfilesDaily(ctx); err != nil {
			return fmt.Errorf("resetting api profiles: %w", err)
		}
		if err := tq.ResetInactiveAccountsDaily(ctx); err != nil {
			return fmt.Errorf("resetting inactive accounts: %w", err)
		}
		if err := tq.ResetErrorSchedulesDaily(ctx); err != nil {
			return fmt.Errorf("resetting error schedules: %w", err)
		}
		return nil
	})
}

// RunReconciliation recomputes each active schedule's posted/failed/
// total counters from the Comment table directly, correcting any drift
// left by a crash between a post's dispatch and its counter increment.
func (r *Runner) RunReconciliation(ctx context.Context) error {
	return r.forEachTenant(ctx, "reconciliation", func(ctx context.Context, tq *db.Queries) error {
		schedules, err := tq.ListActiveSchedules(ctx)
		if err != nil {
			return fmt.Errorf("listing active schedules: %w", err)
		}
		for _, sched := range schedules {
			counters, err := tq.CountCommentsByStatus(ctx, sched.ID)
			if err != nil {
				r.Logger.Error("counting comments", "schedule_id", sched.ID, "error", err)
				continue
			}
			if err := tq.SetScheduleCounters(ctx, sched.ID, counters); err != nil {
				r.Logger.Error("setting schedule counters", "schedule_id", sched.ID, "error", err)
			}
		}
		return nil
	})
}

// RunProxyProbe dials every proxy referenced by an active account and
// records its live/dead status, mirroring the bounded-timeout,
// binary-classification shape of a readiness probe.
func (r *Runner) RunProxyProbe(ctx context.Context) error {
	return r.forEachTenant(ctx, "proxy_probe", func(ctx context.Context, tq *db.Queries) error {
		proxies, err := tq.ListProxiesInUse(ctx)
		if err != nil {
			return fmt.Errorf("listing proxies in use: %w", err)
		}
		now := time.Now().UTC()
		for _, p := range proxies {
			speedMs, alive := Probe(p.Host, p.Port, r.ProbeTimeout)
			status := model.ProxyInactive
			var speedPtr *float64
			if alive {
				status = model.ProxyActive
				speedPtr = &speedMs
			}
			if err := tq.UpdateProxyStatus(ctx, p.ID, status, now, speedPtr); err != nil {
				r.Logger.Error("updating proxy status", "proxy_id", p.ID, "error", err)
			}
		}
		return nil
	})
}

// Probe dials host:port and reports round-trip latency in milliseconds
// and whether the connection succeeded. Shared by the proxy probe loop
// and the control plane's on-demand proxy check.
func Probe(host string, port int, timeout time.Duration) (float64, bool) {
	start := time.Now()
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", host, port), timeout)
	if err != nil {
		return 0, false
	}
	defer conn.Close()
	return time.Since(start).Seconds() * 1000, true
}

func (r *Runner) forEachTenant(ctx context.Context, label string, fn func(ctx context.Context, tq *db.Queries) error) error {
	tenants, err := r.Global.ListTenants(ctx)
	if err != nil {
		return fmt.Errorf("listing tenants: %w", err)
	}
	for _, t := range tenants {
		tq, release, err := r.GetTenantDB(ctx, t.Slug)
		if err != nil {
			r.Logger.Error("acquiring tenant db", "loop", label, "tenant", t.Slug, "error", err)
			continue
		}
		err = fn(ctx, tq)
		release()
		if err != nil {
			r.Logger.Error("maintenance loop failed for tenant", "loop", label, "tenant", t.Slug, "error", err)
		}
	}
	return nil
}

// RunLoop runs fn once immediately, then on every tick, until ctx is
// cancelled. Mirrors RunScheduleTopUpLoop's run-once-then-ticker shape.
func RunLoop(ctx context.Context, logger *slog.Logger, name string, interval time.Duration, fn func(context.Context) error) {
	logger.Info("maintenance loop started", "loop", name, "interval", interval)
	if err := fn(ctx); err != nil {
		logger.Error("initial maintenance pass", "loop", name, "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("maintenance loop stopped", "loop", name)
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				logger.Error("maintenance pass", "loop", name, "error", err)
			}
		}
	}
}
