// Package scheduler implements the Schedule Driver: it translates each
// active schedule into concrete future jobs according to its type
// (immediate / once / recurring / interval), and runs the
// recursive-delay loop that keeps an interval schedule's next firing
// self-correcting across restarts and batch processing time. Grounded
// on the teacher's pkg/roster/worker.go tenant fan-out ticker loop and
// pkg/escalation/engine.go's tick/cumulative-timeout pattern.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	cronlib "github.com/robfig/cron/v3"

	"github.com/duskpost/poster/internal/cache"
	"github.com/duskpost/poster/internal/commentgen"
	"github.com/duskpost/poster/internal/db"
	"github.com/duskpost/poster/internal/model"
	"github.com/duskpost/poster/internal/posting"
	"github.com/duskpost/poster/internal/queue"
	"github.com/duskpost/poster/internal/rotation"
	"github.com/duskpost/poster/internal/selector"
)

const (
	processingQueueName = "process-schedule"
	postQueueName       = "process-schedule-posts"
	minLockTTL          = 10 * time.Second
	maxLockTTL          = time.Hour
)

// Driver dispatches all active schedules for one tenant into the
// process-schedule queue, runs the recursive-delay follow-up after each
// invocation, and — once PostQueue/Selector/Rotation/Generator are set —
// processes each process-schedule job into a batch of dispatched
// post-comment jobs (§4.2-§4.8's C6/C7/C8/C10 pipeline).
type Driver struct {
	Queries *db.Queries
	Cache   *cache.Cache
	Queue   *queue.Queue
	Logger  *slog.Logger

	// PostQueue, Selector, Rotation, and Generator are only required by
	// ProcessBatch/RunTenant, not by SeedAll; a Driver built for seeding
	// only may leave them nil.
	PostQueue                *queue.Queue
	Selector                 *selector.Selector
	Rotation                 *rotation.Controller
	Generator                *commentgen.Generator
	DefaultBetweenAccountsMs int
	DispatchCeiling          time.Duration
}

func New(q *db.Queries, c *cache.Cache, queueq *queue.Queue, logger *slog.Logger) *Driver {
	return &Driver{Queries: q, Cache: c, Queue: queueq, Logger: logger}
}

// SeedAll enqueues the initial process-schedule job for every active
// schedule that does not already have one in flight. Call once at
// startup (and whenever a schedule transitions to active) so restarts
// resume from each schedule's persisted NextRunAt rather than dropping
// back to a fresh interval.
func (d *Driver) SeedAll(ctx context.Context) error {
	schedules, err := d.Queries.ListActiveSchedules(ctx)
	if err != nil {
		return fmt.Errorf("listing active schedules: %w", err)
	}
	for _, sched := range schedules {
		locked, token, err := d.acquireLock(ctx, sched)
		if err != nil {
			d.Logger.Error("acquiring schedule lock", "schedule_id", sched.ID, "error", err)
			continue
		}
		if !locked {
			// Another process is already seeding/processing this schedule.
			continue
		}
		if err := d.seed(ctx, sched); err != nil {
			d.Logger.Error("seeding schedule", "schedule_id", sched.ID, "error", err)
		}
		if err := d.Cache.Unlock(ctx, LockName(sched.ID), token); err != nil {
			d.Logger.Warn("releasing schedule lock", "schedule_id", sched.ID, "error", err)
		}
	}
	return nil
}

// acquireLock takes the pre-execution lock for sched so two schedule
// driver passes (or a driver pass racing the posting worker's own
// Reschedule call) never seed the same schedule concurrently.
func (d *Driver) acquireLock(ctx context.Context, sched model.Schedule) (bool, string, error) {
	token := uuid.NewString()
	ok, err := d.Cache.TryLock(ctx, LockName(sched.ID), token, LockTTL(sched))
	if err != nil {
		return false, "", fmt.Errorf("locking schedule %s: %w", sched.ID, err)
	}
	return ok, token, nil
}

func (d *Driver) seed(ctx context.Context, sched model.Schedule) error {
	now := time.Now().UTC()

	switch sched.Type {
	case model.ScheduleImmediate:
		return d.enqueueProcessing(ctx, sched.ID, "immediate-"+sched.ID.String(), now)

	case model.ScheduleOnce:
		delay := time.Duration(0)
		if sched.StartDate != nil && sched.StartDate.After(now) {
			delay = sched.StartDate.Sub(now)
		}
		return d.enqueueProcessing(ctx, sched.ID, "once-"+sched.ID.String(), now.Add(delay))

	case model.ScheduleRecurring:
		next, err := nextCronFire(sched.CronExpression, now)
		if err != nil {
			return fmt.Errorf("parsing cron expression for schedule %s: %w", sched.ID, err)
		}
		jobID := fmt.Sprintf("recurring-%s-%d", sched.ID, next.UnixMilli())
		return d.enqueueProcessing(ctx, sched.ID, jobID, next)

	case model.ScheduleInterval:
		next := d.nextIntervalFire(ctx, sched, now)
		jobID := fmt.Sprintf("interval-%s-%d", sched.ID, next.UnixMilli())
		return d.enqueueProcessing(ctx, sched.ID, jobID, next)

	default:
		return fmt.Errorf("schedule %s has unknown type %q", sched.ID, sched.Type)
	}
}

// nextIntervalFire implements the interval schedule-type ordering:
// (a) a stored NextRunAt in the future, (b) a future StartDate, (c) if
// no posts yet, one full interval from now (and persist NextRunAt);
// otherwise fire immediately.
func (d *Driver) nextIntervalFire(ctx context.Context, sched model.Schedule, now time.Time) time.Time {
	if sched.NextRunAt != nil && sched.NextRunAt.After(now) {
		return *sched.NextRunAt
	}
	if sched.StartDate != nil && sched.StartDate.After(now) {
		return *sched.StartDate
	}
	if sched.PostedComments == 0 {
		next := now.Add(time.Duration(sched.Interval.Milliseconds()) * time.Millisecond)
		if err := d.Queries.UpdateScheduleNextRunAt(ctx, sched.ID, &next); err != nil {
			d.Logger.Warn("persisting initial next_run_at", "schedule_id", sched.ID, "error", err)
		}
		return next
	}
	return now
}

func (d *Driver) enqueueProcessing(ctx context.Context, scheduleID uuid.UUID, jobID string, readyAt time.Time) error {
	payload := ProcessingJobPayload{ScheduleID: scheduleID.String()}
	_, err := d.Queue.Enqueue(ctx, jobID, processingQueueName, payload, readyAt)
	if err != nil {
		return fmt.Errorf("enqueuing processing job for schedule %s: %w", scheduleID, err)
	}
	return nil
}

// ProcessingJobPayload is the queue payload a process-schedule job carries.
type ProcessingJobPayload struct {
	ScheduleID string `json:"scheduleId"`
}

// Reschedule implements the recursive-delay loop: after one
// process-schedule invocation completes with wall time elapsed, it
// computes the follow-up delay and enqueues exactly one new job,
// persisting the new NextRunAt so a restart resumes correctly. It takes
// a pre-acquired TTL lock token and releases it once the follow-up is
// durably enqueued.
func (d *Driver) Reschedule(ctx context.Context, sched model.Schedule, elapsed time.Duration) error {
	switch sched.Type {
	case model.ScheduleImmediate, model.ScheduleOnce:
		return nil // one-shot types have no follow-up
	case model.ScheduleRecurring:
		next, err := nextCronFire(sched.CronExpression, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("parsing cron expression for schedule %s: %w", sched.ID, err)
		}
		if err := d.Queries.UpdateScheduleNextRunAt(ctx, sched.ID, &next); err != nil {
			return fmt.Errorf("persisting next_run_at: %w", err)
		}
		jobID := fmt.Sprintf("recurring-%s-%d", sched.ID, next.UnixMilli())
		return d.enqueueProcessing(ctx, sched.ID, jobID, next)
	case model.ScheduleInterval:
		intervalMs := time.Duration(sched.Interval.Milliseconds()) * time.Millisecond
		delay := intervalMs - elapsed
		if delay < time.Second {
			delay = time.Second
		}
		next := time.Now().UTC().Add(delay)
		if err := d.Queries.UpdateScheduleNextRunAt(ctx, sched.ID, &next); err != nil {
			return fmt.Errorf("persisting next_run_at: %w", err)
		}
		jobID := fmt.Sprintf("interval-%s-%d", sched.ID, next.UnixMilli())
		return d.enqueueProcessing(ctx, sched.ID, jobID, next)
	default:
		return fmt.Errorf("schedule %s has unknown type %q", sched.ID, sched.Type)
	}
}

// LockTTL returns the pre-execution lock TTL for a schedule's interval:
// min(3600s, max(10s, 0.9 * intervalSeconds)). Non-interval types use
// the floor, since they have no interval of their own.
func LockTTL(sched model.Schedule) time.Duration {
	intervalSeconds := float64(sched.Interval.Milliseconds()) / 1000
	ttl := time.Duration(0.9*intervalSeconds) * time.Second
	if ttl < minLockTTL {
		ttl = minLockTTL
	}
	if ttl > maxLockTTL {
		ttl = maxLockTTL
	}
	return ttl
}

// LockName is the cache key for a schedule's pre-execution processing lock.
func LockName(scheduleID uuid.UUID) string {
	return "schedule_processing:" + scheduleID.String()
}

func nextCronFire(expr string, from time.Time) (time.Time, error) {
	schedule, err := cronlib.ParseStandard(expr)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(from), nil
}
