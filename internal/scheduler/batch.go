package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/duskpost/poster/internal/commentgen"
	"github.com/duskpost/poster/internal/db"
	"github.com/duskpost/poster/internal/model"
	"github.com/duskpost/poster/internal/posting"
	"github.com/duskpost/poster/internal/queue"
)

const processLeaseTTL = 2 * time.Minute

// RunTenant drains ready process-schedule jobs for one tenant until the
// queue is empty, dispatching each into ProcessBatch. Mirrors
// posting.Worker.RunTenant's dequeue-until-empty shape.
func (d *Driver) RunTenant(ctx context.Context) error {
	for {
		job, err := d.Queue.Dequeue(ctx, processLeaseTTL)
		if err != nil {
			return fmt.Errorf("dequeuing process-schedule job: %w", err)
		}
		if job == nil {
			return nil
		}
		if err := d.handle(ctx, *job); err != nil {
			d.Logger.Error("process-schedule job failed", "job_id", job.ID, "error", err)
		}
	}
}

func (d *Driver) handle(ctx context.Context, job queue.Job) error {
	var payload ProcessingJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return d.Queue.DeadLetter(ctx, job, err.Error())
	}
	scheduleID, err := uuid.Parse(payload.ScheduleID)
	if err != nil {
		return d.Queue.DeadLetter(ctx, job, err.Error())
	}

	sched, err := d.Queries.GetSchedule(ctx, scheduleID)
	if err != nil {
		return d.Queue.DeadLetter(ctx, job, err.Error())
	}
	if sched.Status != model.ScheduleActive {
		return d.Queue.Ack(ctx, job.ID)
	}

	locked, token, err := d.acquireLock(ctx, sched)
	if err != nil {
		return fmt.Errorf("locking schedule %s for processing: %w", sched.ID, err)
	}
	if !locked {
		// Another pass already owns this schedule; try again shortly
		// rather than dropping the job.
		return d.Queue.Retry(ctx, job, time.Now().Add(5*time.Second))
	}
	defer func() {
		if err := d.Cache.Unlock(ctx, LockName(sched.ID), token); err != nil {
			d.Logger.Warn("releasing processing lock", "schedule_id", sched.ID, "error", err)
		}
	}()

	if err := d.ProcessBatch(ctx, sched); err != nil {
		if _, ierr := d.Queries.IncrementScheduleErrorCount(ctx, sched.ID); ierr != nil {
			d.Logger.Warn("incrementing schedule error count", "schedule_id", sched.ID, "error", ierr)
		}
		return d.Queue.DeadLetter(ctx, job, err.Error())
	}

	return d.Queue.Ack(ctx, job.ID)
}

// ProcessBatch runs one schedule's dispatch cycle: Sleep & Rotation
// Controller, Account Selector, and Comment-Text Generator per target
// video, one pending Comment row and one staggered post-comment job per
// dispatched video, then re-schedules the follow-up process-schedule
// job. One dispatch slot is produced per entry in sched.TargetVideos —
// the Account Selector's rules are keyed per (schedule, video), so a
// batch's unit of work is "one selection event per target video", not a
// cross-product of every pool account against every video.
func (d *Driver) ProcessBatch(ctx context.Context, sched model.Schedule) error {
	batchStart := time.Now().UTC()

	if sched.InSleepWindow(batchStart) {
		return d.Reschedule(ctx, sched, time.Since(batchStart))
	}
	if sched.SleepDelayStartTime != nil {
		if err := d.Queries.ClearScheduleSleepState(ctx, sched.ID); err != nil {
			d.Logger.Warn("clearing sleep state", "schedule_id", sched.ID, "error", err)
		}
	}

	stagger := time.Duration(sched.BetweenAccounts) * time.Millisecond
	if stagger <= 0 {
		stagger = time.Duration(d.DefaultBetweenAccountsMs) * time.Millisecond
	}
	ceiling := d.DispatchCeiling
	if ceiling <= 0 {
		ceiling = 30 * time.Second
	}

	for i, video := range sched.TargetVideos {
		offset := time.Duration(i) * stagger
		if offset > ceiling {
			d.Logger.Warn("dispatch ceiling reached, deferring remaining videos to next batch",
				"schedule_id", sched.ID, "videos_deferred", len(sched.TargetVideos)-i)
			break
		}
		dispatchAt := batchStart.Add(offset)
		d.dispatchOne(ctx, &sched, video, dispatchAt, stagger)
	}

	if _, err := d.Rotation.MaybeSleep(ctx, sched); err != nil {
		d.Logger.Warn("checking sleep trigger", "schedule_id", sched.ID, "error", err)
	}

	return d.Reschedule(ctx, sched, time.Since(batchStart))
}

// dispatchOne picks an account, generates comment text, persists the
// pending Comment row, and enqueues its post-comment job for one target
// video. Failures are logged and skipped rather than aborting the rest
// of the batch — one bad video should never block the others.
func (d *Driver) dispatchOne(ctx context.Context, sched *model.Schedule, video model.TargetVideo, dispatchAt time.Time, stagger time.Duration) {
	account, err := d.Selector.Pick(ctx, *sched, video.VideoID)
	if err != nil {
		d.Logger.Warn("selecting account for dispatch", "schedule_id", sched.ID, "video_id", video.VideoID, "error", err)
		return
	}

	cooling, err := d.Cache.InAccountVideoCooldown(ctx, account.ID.String(), video.VideoID)
	if err != nil {
		d.Logger.Warn("checking account/video cooldown", "error", err)
	}
	if cooling {
		return
	}

	text, templates, err := d.Generator.Generate(ctx, *sched, video.VideoID)
	if err != nil {
		d.Logger.Warn("generating comment text", "schedule_id", sched.ID, "video_id", video.VideoID, "error", err)
		return
	}
	if len(templates) != len(sched.CommentTemplates) {
		if err := d.Queries.UpdateScheduleCommentTemplates(ctx, sched.ID, templates); err != nil {
			d.Logger.Warn("persisting grown comment templates", "schedule_id", sched.ID, "error", err)
		} else {
			sched.CommentTemplates = templates
		}
	}
	content := commentgen.Sanitize(text, sched.IncludeEmojis)

	comment, err := d.Queries.CreateComment(ctx, db.CreateCommentParams{
		ScheduleID:   sched.ID,
		AccountID:    account.ID,
		VideoID:      video.VideoID,
		Content:      content,
		ScheduledFor: &dispatchAt,
	})
	if err != nil {
		d.Logger.Error("creating comment row", "schedule_id", sched.ID, "video_id", video.VideoID, "error", err)
		return
	}

	jobID := fmt.Sprintf("post-%s-%d", comment.ID, dispatchAt.UnixMilli())
	if _, err := d.PostQueue.Enqueue(ctx, jobID, postQueueName, posting.CommentJobPayload{CommentID: comment.ID.String()}, dispatchAt); err != nil {
		d.Logger.Error("enqueuing post-comment job", "comment_id", comment.ID, "error", err)
		return
	}

	if err := d.Cache.SetAccountVideoCooldown(ctx, account.ID.String(), video.VideoID, stagger); err != nil {
		d.Logger.Warn("setting account/video cooldown", "error", err)
	}
	if err := d.Queries.SetScheduleLastUsedAccount(ctx, sched.ID, account.ID); err != nil {
		d.Logger.Warn("recording last used account", "schedule_id", sched.ID, "error", err)
	}
	sched.LastUsedAccountID = &account.ID

	if rotated, err := d.Rotation.MaybeRotate(ctx, *sched, account.ID); err != nil {
		d.Logger.Warn("checking rotation", "schedule_id", sched.ID, "error", err)
	} else if rotated {
		d.Logger.Info("schedule rotated active account pool", "schedule_id", sched.ID)
	}
}
