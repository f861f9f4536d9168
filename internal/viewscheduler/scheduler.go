// Package viewscheduler drives ViewSchedules: for each tick of an
// active schedule it staggers its target videos across the configured
// interval and enqueues one simulate-view job per video, rolling each
// schedule's probability to decide whether the view actually fires.
// Thin mirror of internal/scheduler's interval handling, grounded the
// same way (pkg/roster/worker.go tenant fan-out, pkg/escalation/engine.go
// tick pattern).
package viewscheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/duskpost/poster/internal/db"
	"github.com/duskpost/poster/internal/model"
	"github.com/duskpost/poster/internal/queue"
)

const viewQueueName = "simulate-view"

// ViewJobPayload is the queue payload a simulate-view job carries.
type ViewJobPayload struct {
	ViewScheduleID string `json:"viewScheduleId"`
	VideoID        string `json:"videoId"`
}

type Scheduler struct {
	Queries *db.Queries
	Queue   *queue.Queue
	Logger  *slog.Logger
}

func New(q *db.Queries, queueq *queue.Queue, logger *slog.Logger) *Scheduler {
	return &Scheduler{Queries: q, Queue: queueq, Logger: logger}
}

// Dispatch enqueues one simulate-view job per target video in sched,
// staggered evenly across the schedule's interval.
func (s *Scheduler) Dispatch(ctx context.Context, sched model.ViewSchedule) error {
	if len(sched.TargetVideos) == 0 {
		return nil
	}

	batchStart := time.Now().UTC()
	intervalMs := sched.Interval.Milliseconds()
	stagger := intervalMs / int64(len(sched.TargetVideos))

	for i, video := range sched.TargetVideos {
		readyAt := batchStart.Add(time.Duration(int64(i)*stagger) * time.Millisecond)
		jobID := fmt.Sprintf("view-%s-%s-%d", sched.ID, video.VideoID, readyAt.UnixMilli())
		payload := ViewJobPayload{ViewScheduleID: sched.ID.String(), VideoID: video.VideoID}
		if _, err := s.Queue.Enqueue(ctx, jobID, viewQueueName, payload, readyAt); err != nil {
			return fmt.Errorf("enqueuing simulate-view job for video %s: %w", video.VideoID, err)
		}
	}
	return nil
}

// RunDue dispatches every active view schedule whose NextRunAt has
// arrived (or was never set), then advances NextRunAt by one interval.
// Call on a ticker; grounded on the same tenant fan-out/tick idiom as
// the Schedule Driver's seed pass.
func (s *Scheduler) RunDue(ctx context.Context) error {
	schedules, err := s.Queries.ListActiveViewSchedules(ctx)
	if err != nil {
		return fmt.Errorf("listing active view schedules: %w", err)
	}

	now := time.Now().UTC()
	for _, sched := range schedules {
		if sched.NextRunAt != nil && sched.NextRunAt.After(now) {
			continue
		}
		if err := s.Dispatch(ctx, sched); err != nil {
			s.Logger.Error("dispatching view schedule", "view_schedule_id", sched.ID, "error", err)
			continue
		}
		next := now.Add(time.Duration(sched.Interval.Milliseconds()) * time.Millisecond)
		if err := s.Queries.UpdateViewScheduleNextRunAt(ctx, sched.ID, &next); err != nil {
			s.Logger.Error("persisting view schedule next_run_at", "view_schedule_id", sched.ID, "error", err)
		}
	}
	return nil
}

// ShouldRun rolls the schedule's probability (0-100) to decide whether
// a dequeued simulate-view job actually performs the view.
func ShouldRun(probability int) bool {
	if probability >= 100 {
		return true
	}
	if probability <= 0 {
		return false
	}
	return rand.Intn(100) < probability
}
