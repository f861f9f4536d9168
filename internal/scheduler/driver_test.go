package scheduler

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/duskpost/poster/internal/model"
)

func TestLockTTL(t *testing.T) {
	tests := []struct {
		name     string
		interval model.Interval
		want     time.Duration
	}{
		{"floors at minLockTTL for a short interval", model.Interval{Value: 1, Unit: model.IntervalMinutes}, minLockTTL},
		{"scales to 90% of the interval", model.Interval{Value: 100, Unit: model.IntervalMinutes}, 90 * time.Minute},
		{"caps at maxLockTTL for a long interval", model.Interval{Value: 10, Unit: model.IntervalDays}, maxLockTTL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sched := model.Schedule{Interval: tt.interval}
			if got := LockTTL(sched); got != tt.want {
				t.Errorf("LockTTL() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLockName(t *testing.T) {
	id := uuid.New()
	want := "schedule_processing:" + id.String()
	if got := LockName(id); got != want {
		t.Errorf("LockName() = %q, want %q", got, want)
	}
}

func TestNextCronFire(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	next, err := nextCronFire("0 * * * *", from)
	if err != nil {
		t.Fatalf("nextCronFire() error = %v", err)
	}
	want := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("nextCronFire() = %v, want %v", next, want)
	}
}

func TestNextCronFire_InvalidExpression(t *testing.T) {
	if _, err := nextCronFire("not a cron expression", time.Now()); err == nil {
		t.Error("nextCronFire() error = nil, want an error for an invalid expression")
	}
}

func TestNextIntervalFire_StoredFutureNextRunAt(t *testing.T) {
	d := &Driver{}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	sched := model.Schedule{NextRunAt: &future}

	got := d.nextIntervalFire(nil, sched, now)
	if !got.Equal(future) {
		t.Errorf("nextIntervalFire() = %v, want stored NextRunAt %v", got, future)
	}
}

func TestNextIntervalFire_FutureStartDate(t *testing.T) {
	d := &Driver{}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	start := now.Add(2 * time.Hour)
	sched := model.Schedule{StartDate: &start}

	got := d.nextIntervalFire(nil, sched, now)
	if !got.Equal(start) {
		t.Errorf("nextIntervalFire() = %v, want future StartDate %v", got, start)
	}
}

func TestNextIntervalFire_AlreadyPosted(t *testing.T) {
	d := &Driver{}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sched := model.Schedule{PostedComments: 3}

	got := d.nextIntervalFire(nil, sched, now)
	if !got.Equal(now) {
		t.Errorf("nextIntervalFire() = %v, want immediate fire at %v once comments have already posted", got, now)
	}
}
