package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/duskpost/poster/internal/model"
)

// uuidsToStrings/stringsToUUIDs bridge Go's uuid.UUID and the text
// representation pgx uses for uuid[] columns.
func uuidsToStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func stringsToUUIDs(ss []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, len(ss))
	for i, s := range ss {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("parsing uuid %q: %w", s, err)
		}
		out[i] = id
	}
	return out, nil
}

const scheduleColumns = `id, user_id, status, type, start_date, end_date,
	cron_expression, interval_value, interval_unit, interval_is_random, interval_min, interval_max,
	comment_templates, target_videos, target_channels,
	account_selection, selected_accounts, principal_accounts, secondary_accounts,
	rotation_enabled, currently_active, rotated_principal, rotated_secondary, last_rotated_at,
	use_ai, include_emojis, min_delay, max_delay, between_accounts_ms,
	limit_comments_value, limit_comments_is_random, limit_comments_min, limit_comments_max,
	sleep_delay_minutes, sleep_delay_start_time, last_sleep_trigger_count, last_used_account_id,
	next_run_at, last_processed_at, total_comments, posted_comments, failed_comments,
	error_count, error_message, created_at, updated_at`

type scheduleScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row scheduleScanner) (model.Schedule, error) {
	var s model.Schedule
	var commentTemplatesRaw, targetVideosRaw, targetChannelsRaw []byte
	var selected, principal, secondary, rotatedPrincipal, rotatedSecondary []string
	var lastUsedAccountID *uuid.UUID

	err := row.Scan(
		&s.ID, &s.UserID, &s.Status, &s.Type, &s.StartDate, &s.EndDate,
		&s.CronExpression, &s.Interval.Value, &s.Interval.Unit, &s.Interval.IsRandom, &s.Interval.Min, &s.Interval.Max,
		&commentTemplatesRaw, &targetVideosRaw, &targetChannelsRaw,
		&s.AccountSelection, &selected, &principal, &secondary,
		&s.RotationEnabled, &s.CurrentlyActive, &rotatedPrincipal, &rotatedSecondary, &s.LastRotatedAt,
		&s.UseAI, &s.IncludeEmojis, &s.MinDelay, &s.MaxDelay, &s.BetweenAccounts,
		&s.LimitComments.Value, &s.LimitComments.IsRandom, &s.LimitComments.Min, &s.LimitComments.Max,
		&s.SleepDelayMinutes, &s.SleepDelayStartTime, &s.LastSleepTriggerCount, &lastUsedAccountID,
		&s.NextRunAt, &s.LastProcessedAt, &s.TotalComments, &s.PostedComments, &s.FailedComments,
		&s.ErrorCount, &s.ErrorMessage, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return model.Schedule{}, err
	}

	s.LastUsedAccountID = lastUsedAccountID

	if err := json.Unmarshal(commentTemplatesRaw, &s.CommentTemplates); err != nil {
		return model.Schedule{}, fmt.Errorf("decoding comment_templates: %w", err)
	}
	if err := json.Unmarshal(targetVideosRaw, &s.TargetVideos); err != nil {
		return model.Schedule{}, fmt.Errorf("decoding target_videos: %w", err)
	}
	if err := json.Unmarshal(targetChannelsRaw, &s.TargetChannels); err != nil {
		return model.Schedule{}, fmt.Errorf("decoding target_channels: %w", err)
	}

	for _, pair := range []struct {
		src []string
		dst *[]uuid.UUID
	}{
		{selected, &s.SelectedAccounts},
		{principal, &s.PrincipalAccounts},
		{secondary, &s.SecondaryAccounts},
		{rotatedPrincipal, &s.RotatedPrincipal},
		{rotatedSecondary, &s.RotatedSecondary},
	} {
		ids, err := stringsToUUIDs(pair.src)
		if err != nil {
			return model.Schedule{}, err
		}
		*pair.dst = ids
	}

	return s, nil
}

func (q *Queries) GetSchedule(ctx context.Context, id uuid.UUID) (model.Schedule, error) {
	row := q.db.QueryRow(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = $1`, id)
	s, err := scanSchedule(row)
	if err != nil {
		return model.Schedule{}, fmt.Errorf("getting schedule %s: %w", id, err)
	}
	return s, nil
}

// ListActiveSchedules is consumed by the Schedule Driver's restart-resume
// pass and by maintenance loops.
func (q *Queries) ListActiveSchedules(ctx context.Context) ([]model.Schedule, error) {
	rows, err := q.db.Query(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE status = 'active'`)
	if err != nil {
		return nil, fmt.Errorf("listing active schedules: %w", err)
	}
	defer rows.Close()

	var out []model.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning schedule: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (q *Queries) SetScheduleStatus(ctx context.Context, id uuid.UUID, status model.ScheduleStatus, errorMessage string) error {
	_, err := q.db.Exec(ctx, `UPDATE schedules SET status = $2, error_message = $3, updated_at = now() WHERE id = $1`, id, status, errorMessage)
	if err != nil {
		return fmt.Errorf("setting schedule status %s: %w", id, err)
	}
	return nil
}

func (q *Queries) UpdateScheduleNextRunAt(ctx context.Context, id uuid.UUID, nextRunAt *time.Time) error {
	_, err := q.db.Exec(ctx, `UPDATE schedules SET next_run_at = $2, last_processed_at = now(), updated_at = now() WHERE id = $1`, id, nextRunAt)
	if err != nil {
		return fmt.Errorf("updating next_run_at for %s: %w", id, err)
	}
	return nil
}

// UpdateScheduleInterval persists a freshly-drawn random interval value
// (Sleep & Rotation Controller non-trigger path, §4.4).
func (q *Queries) UpdateScheduleInterval(ctx context.Context, id uuid.UUID, value int) error {
	_, err := q.db.Exec(ctx, `UPDATE schedules SET interval_value = $2, updated_at = now() WHERE id = $1`, id, value)
	if err != nil {
		return fmt.Errorf("updating interval value for %s: %w", id, err)
	}
	return nil
}

type SleepStateParams struct {
	ID                    uuid.UUID
	LastSleepTriggerCount int
	SleepDelayMinutes     int
	SleepDelayStartTime   *time.Time
}

func (q *Queries) UpdateScheduleSleepState(ctx context.Context, p SleepStateParams) error {
	_, err := q.db.Exec(ctx, `
		UPDATE schedules SET
			last_sleep_trigger_count = $2,
			sleep_delay_minutes = $3,
			sleep_delay_start_time = $4,
			updated_at = now()
		WHERE id = $1`,
		p.ID, p.LastSleepTriggerCount, p.SleepDelayMinutes, p.SleepDelayStartTime,
	)
	if err != nil {
		return fmt.Errorf("updating sleep state for %s: %w", p.ID, err)
	}
	return nil
}

func (q *Queries) ClearScheduleSleepState(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, `UPDATE schedules SET sleep_delay_minutes = 0, sleep_delay_start_time = NULL, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("clearing sleep state for %s: %w", id, err)
	}
	return nil
}

type RotationParams struct {
	ID                uuid.UUID
	CurrentlyActive   model.RotationSide
	SelectedAccounts  []uuid.UUID
	RotatedPrincipal  []uuid.UUID
	RotatedSecondary  []uuid.UUID
	LastRotatedAt     time.Time
}

func (q *Queries) UpdateScheduleRotation(ctx context.Context, p RotationParams) error {
	_, err := q.db.Exec(ctx, `
		UPDATE schedules SET
			currently_active = $2,
			selected_accounts = $3,
			rotated_principal = $4,
			rotated_secondary = $5,
			last_rotated_at = $6,
			updated_at = now()
		WHERE id = $1`,
		p.ID, p.CurrentlyActive, uuidsToStrings(p.SelectedAccounts), uuidsToStrings(p.RotatedPrincipal), uuidsToStrings(p.RotatedSecondary), p.LastRotatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating rotation for %s: %w", p.ID, err)
	}
	return nil
}

// UpdateScheduleCommentTemplates persists the Comment-Text Generator's
// grown template pool (commentgen.GrowTemplates) back onto the schedule
// so later batches (and other tenants' restarts) see the accumulated set.
func (q *Queries) UpdateScheduleCommentTemplates(ctx context.Context, id uuid.UUID, templates []string) error {
	raw, err := json.Marshal(templates)
	if err != nil {
		return fmt.Errorf("marshaling comment templates for %s: %w", id, err)
	}
	_, err = q.db.Exec(ctx, `UPDATE schedules SET comment_templates = $2, updated_at = now() WHERE id = $1`, id, raw)
	if err != nil {
		return fmt.Errorf("updating comment templates for %s: %w", id, err)
	}
	return nil
}

func (q *Queries) UpdateScheduleLimitComments(ctx context.Context, id uuid.UUID, value int) error {
	_, err := q.db.Exec(ctx, `UPDATE schedules SET limit_comments_value = $2, updated_at = now() WHERE id = $1`, id, value)
	if err != nil {
		return fmt.Errorf("updating limit_comments for %s: %w", id, err)
	}
	return nil
}

func (q *Queries) SetScheduleLastUsedAccount(ctx context.Context, id, accountID uuid.UUID) error {
	_, err := q.db.Exec(ctx, `UPDATE schedules SET last_used_account_id = $2, updated_at = now() WHERE id = $1`, id, accountID)
	if err != nil {
		return fmt.Errorf("setting last used account for %s: %w", id, err)
	}
	return nil
}

// IncrementScheduleCounter bumps either posted_comments or failed_comments.
func (q *Queries) IncrementScheduleCounter(ctx context.Context, id uuid.UUID, posted bool) error {
	column := "failed_comments"
	if posted {
		column = "posted_comments"
	}
	_, err := q.db.Exec(ctx, fmt.Sprintf(`UPDATE schedules SET %s = %s + 1, total_comments = total_comments + 1, updated_at = now() WHERE id = $1`, column, column), id)
	if err != nil {
		return fmt.Errorf("incrementing schedule counter for %s: %w", id, err)
	}
	return nil
}

// IncrementScheduleErrorCount is the handler-exception recovery path
// (§7): errorCount increments every handler failure; only at the
// configured threshold does the caller escalate to requires_review.
func (q *Queries) IncrementScheduleErrorCount(ctx context.Context, id uuid.UUID) (int, error) {
	var count int
	err := q.db.QueryRow(ctx, `UPDATE schedules SET error_count = error_count + 1, updated_at = now() WHERE id = $1 RETURNING error_count`, id).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("incrementing error count for %s: %w", id, err)
	}
	return count, nil
}

// ReconciledCounters is the result of counting Comments by status for one schedule.
type ReconciledCounters struct {
	Total  int
	Posted int
	Failed int
}

// CountCommentsByStatus powers the progress reconciliation loop (C9, §4.9).
func (q *Queries) CountCommentsByStatus(ctx context.Context, scheduleID uuid.UUID) (ReconciledCounters, error) {
	var c ReconciledCounters
	err := q.db.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE status = 'posted'),
		       count(*) FILTER (WHERE status = 'failed')
		FROM comments WHERE schedule_id = $1`,
		scheduleID,
	).Scan(&c.Total, &c.Posted, &c.Failed)
	if err != nil {
		return ReconciledCounters{}, fmt.Errorf("counting comments for schedule %s: %w", scheduleID, err)
	}
	return c, nil
}

func (q *Queries) SetScheduleCounters(ctx context.Context, id uuid.UUID, c ReconciledCounters) error {
	_, err := q.db.Exec(ctx,
		`UPDATE schedules SET total_comments = $2, posted_comments = $3, failed_comments = $4, updated_at = now() WHERE id = $1`,
		id, c.Total, c.Posted, c.Failed,
	)
	if err != nil {
		return fmt.Errorf("writing reconciled counters for %s: %w", id, err)
	}
	return nil
}

// ResetErrorSchedulesDaily restores error/requires_review schedules to
// active at the daily quota reset (C9, §4.9) — never touches paused or
// completed schedules.
func (q *Queries) ResetErrorSchedulesDaily(ctx context.Context) error {
	_, err := q.db.Exec(ctx, `UPDATE schedules SET status = 'active', error_count = 0, error_message = '', updated_at = now() WHERE status IN ('error', 'requires_review')`)
	if err != nil {
		return fmt.Errorf("resetting error schedules: %w", err)
	}
	return nil
}
