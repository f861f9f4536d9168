package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/duskpost/poster/internal/model"
)

const viewScheduleColumns = `id, user_id, status, target_videos,
	interval_value, interval_unit, interval_is_random, interval_min, interval_max,
	probability, auto_like, min_watch_time, max_watch_time,
	next_run_at, created_at, updated_at`

func scanViewSchedule(row scheduleScanner) (model.ViewSchedule, error) {
	var v model.ViewSchedule
	var targetVideosRaw []byte

	err := row.Scan(
		&v.ID, &v.UserID, &v.Status, &targetVideosRaw,
		&v.Interval.Value, &v.Interval.Unit, &v.Interval.IsRandom, &v.Interval.Min, &v.Interval.Max,
		&v.Probability, &v.AutoLike, &v.MinWatchTime, &v.MaxWatchTime,
		&v.NextRunAt, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return model.ViewSchedule{}, err
	}

	if err := json.Unmarshal(targetVideosRaw, &v.TargetVideos); err != nil {
		return model.ViewSchedule{}, fmt.Errorf("unmarshaling target_videos: %w", err)
	}

	return v, nil
}

// ListActiveViewSchedules is consumed by the View Scheduler's (C11) tick
// loop the same way ListActiveSchedules feeds the Schedule Driver.
func (q *Queries) ListActiveViewSchedules(ctx context.Context) ([]model.ViewSchedule, error) {
	rows, err := q.db.Query(ctx, `SELECT `+viewScheduleColumns+` FROM view_schedules WHERE status = 'active'`)
	if err != nil {
		return nil, fmt.Errorf("listing active view schedules: %w", err)
	}
	defer rows.Close()

	var out []model.ViewSchedule
	for rows.Next() {
		v, err := scanViewSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning view schedule: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// GetViewSchedule loads the full ViewSchedule a simulate-view job's
// consumer needs (probability, auto-like, watch-time bounds) — the job
// payload itself only carries the schedule and video ids.
func (q *Queries) GetViewSchedule(ctx context.Context, id uuid.UUID) (model.ViewSchedule, error) {
	row := q.db.QueryRow(ctx, `SELECT `+viewScheduleColumns+` FROM view_schedules WHERE id = $1`, id)
	v, err := scanViewSchedule(row)
	if err != nil {
		return model.ViewSchedule{}, fmt.Errorf("getting view schedule %s: %w", id, err)
	}
	return v, nil
}

func (q *Queries) UpdateViewScheduleNextRunAt(ctx context.Context, id uuid.UUID, nextRunAt *time.Time) error {
	_, err := q.db.Exec(ctx, `UPDATE view_schedules SET next_run_at = $2, updated_at = now() WHERE id = $1`, id, nextRunAt)
	if err != nil {
		return fmt.Errorf("updating view schedule next_run_at %s: %w", id, err)
	}
	return nil
}
