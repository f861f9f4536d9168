package rotation

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/duskpost/poster/internal/model"
)

func TestMaybeSleep_NoLimitConfigured(t *testing.T) {
	c := &Controller{}
	sched := model.Schedule{LimitComments: model.LimitComments{Value: 0}}

	triggered, err := c.MaybeSleep(context.Background(), sched)
	if err != nil {
		t.Fatalf("MaybeSleep() error = %v", err)
	}
	if triggered {
		t.Error("MaybeSleep() = true, want false when LimitComments.Value <= 0")
	}
}

func TestMaybeSleep_BelowThreshold(t *testing.T) {
	c := &Controller{}
	sched := model.Schedule{
		LimitComments:         model.LimitComments{Value: 10},
		PostedComments:        5,
		LastSleepTriggerCount: 0,
	}

	triggered, err := c.MaybeSleep(context.Background(), sched)
	if err != nil {
		t.Fatalf("MaybeSleep() error = %v", err)
	}
	if triggered {
		t.Error("MaybeSleep() = true, want false below the limit threshold")
	}
}

func TestMaybeSleep_AlreadyTriggeredForBracket(t *testing.T) {
	c := &Controller{}
	// 20 posted / 10 per bracket = trigger bracket 2, already recorded.
	sched := model.Schedule{
		LimitComments:         model.LimitComments{Value: 10},
		PostedComments:        20,
		LastSleepTriggerCount: 2,
	}

	triggered, err := c.MaybeSleep(context.Background(), sched)
	if err != nil {
		t.Fatalf("MaybeSleep() error = %v", err)
	}
	if triggered {
		t.Error("MaybeSleep() = true, want false when the bracket already triggered (idempotency guard)")
	}
}

func TestMaybeRotate_RotationDisabled(t *testing.T) {
	c := &Controller{}
	sched := model.Schedule{RotationEnabled: false}

	rotated, err := c.MaybeRotate(context.Background(), sched, uuid.New())
	if err != nil {
		t.Fatalf("MaybeRotate() error = %v", err)
	}
	if rotated {
		t.Error("MaybeRotate() = true, want false when rotation is disabled")
	}
}

func TestAppendIfMissing(t *testing.T) {
	a, b := uuid.New(), uuid.New()

	list := appendIfMissing(nil, a)
	if len(list) != 1 || list[0] != a {
		t.Fatalf("appendIfMissing(nil, a) = %v, want [a]", list)
	}

	list = appendIfMissing(list, a)
	if len(list) != 1 {
		t.Fatalf("appendIfMissing(list, a) grew the list for a duplicate: %v", list)
	}

	list = appendIfMissing(list, b)
	if len(list) != 2 || list[1] != b {
		t.Fatalf("appendIfMissing(list, b) = %v, want [a b]", list)
	}
}

func TestAllPresent(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	if allPresent(nil, []uuid.UUID{a}) {
		t.Error("allPresent(nil pool, ...) = true, want false for an empty pool")
	}
	if allPresent([]uuid.UUID{a, b}, []uuid.UUID{a}) {
		t.Error("allPresent() = true, want false when b hasn't been seen")
	}
	if !allPresent([]uuid.UUID{a, b}, []uuid.UUID{a, b, c}) {
		t.Error("allPresent() = false, want true when every pool member has been seen (seen may be a superset)")
	}
}
