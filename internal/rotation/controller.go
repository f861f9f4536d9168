// Package rotation implements the Sleep & Rotation Controller: it
// decides, after each posting cycle, whether a schedule should enter a
// sleep window (LimitComments reached) and whether its active account
// pool should swap from principal to secondary. Grounded on the
// escalation engine's cumulative-timeout/idempotency-guard pattern
// (lastSleepTriggerCount mirrors a.CurrentEscalationTier in
// pkg/escalation/engine.go's processAlert) and the roster scheduler's
// least-served swap logic (pkg/roster/scheduler.go's
// pickPrimary/pickSecondary), repurposed from "assign next duty" to
// "swap active pool".
package rotation

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/duskpost/poster/internal/db"
	"github.com/duskpost/poster/internal/model"
	"github.com/duskpost/poster/internal/telemetry"
)

type Controller struct {
	Queries *db.Queries
}

func New(q *db.Queries) *Controller {
	return &Controller{Queries: q}
}

// MaybeSleep checks whether the schedule has reached its LimitComments
// threshold since the last trigger and, if so, enters a new sleep
// window. It is idempotent: repeated calls within the same posted-count
// bracket do nothing once last_sleep_trigger_count has been recorded
// for that bracket, mirroring the escalation engine's
// CurrentEscalationTier guard against re-escalating the same tier.
func (c *Controller) MaybeSleep(ctx context.Context, sched model.Schedule) (bool, error) {
	if sched.LimitComments.Value <= 0 {
		return false, nil
	}

	triggerEvery := sched.LimitComments.Value
	triggerCount := sched.PostedComments / triggerEvery
	if triggerCount <= sched.LastSleepTriggerCount {
		return false, nil
	}

	delayMinutes := sched.SleepDelayMinutes
	if sched.LimitComments.IsRandom {
		lo, hi := sched.LimitComments.Min, sched.LimitComments.Max
		if hi > lo {
			delayMinutes = lo + rand.Intn(hi-lo+1)
		}
	}
	if delayMinutes <= 0 {
		delayMinutes = 1
	}

	now := time.Now().UTC()
	if err := c.Queries.UpdateScheduleSleepState(ctx, db.SleepStateParams{
		ID:                    sched.ID,
		LastSleepTriggerCount: triggerCount,
		SleepDelayMinutes:     delayMinutes,
		SleepDelayStartTime:   &now,
	}); err != nil {
		return false, fmt.Errorf("recording sleep state for schedule %s: %w", sched.ID, err)
	}

	telemetry.SleepCyclesTotal.Inc()
	return true, nil
}

// MaybeRotate swaps the active account pool between principal and
// secondary when rotation is enabled and every account in the current
// pool has now been used at least once since the last rotation. It is
// the schedule-level analogue of pickPrimary/pickSecondary's fairness
// rule: don't return to a pool until its members have all had a turn.
func (c *Controller) MaybeRotate(ctx context.Context, sched model.Schedule, justUsedAccountID uuid.UUID) (bool, error) {
	if !sched.RotationEnabled {
		return false, nil
	}

	var activePool, exhausted []uuid.UUID
	var otherSide model.RotationSide
	if sched.CurrentlyActive == model.RotationSecondary {
		activePool, exhausted, otherSide = sched.SecondaryAccounts, sched.RotatedSecondary, model.RotationPrincipal
	} else {
		activePool, exhausted, otherSide = sched.PrincipalAccounts, sched.RotatedPrincipal, model.RotationSecondary
	}

	exhausted = appendIfMissing(exhausted, justUsedAccountID)

	if !allPresent(activePool, exhausted) {
		if err := c.persistExhaustion(ctx, sched, exhausted); err != nil {
			return false, err
		}
		return false, nil
	}

	nextPool := sched.PrincipalAccounts
	if otherSide == model.RotationSecondary {
		nextPool = sched.SecondaryAccounts
	}

	params := db.RotationParams{
		ID:               sched.ID,
		CurrentlyActive:  otherSide,
		SelectedAccounts: nextPool,
		LastRotatedAt:    time.Now().UTC(),
	}

	if err := c.Queries.UpdateScheduleRotation(ctx, params); err != nil {
		return false, fmt.Errorf("rotating schedule %s: %w", sched.ID, err)
	}

	telemetry.RotationsTotal.Inc()
	return true, nil
}

func (c *Controller) persistExhaustion(ctx context.Context, sched model.Schedule, exhausted []uuid.UUID) error {
	params := db.RotationParams{
		ID:               sched.ID,
		CurrentlyActive:  sched.CurrentlyActive,
		SelectedAccounts: sched.ActivePool(),
		RotatedPrincipal: sched.RotatedPrincipal,
		RotatedSecondary: sched.RotatedSecondary,
		LastRotatedAt:    time.Now().UTC(),
	}
	if sched.CurrentlyActive == model.RotationSecondary {
		params.RotatedSecondary = exhausted
	} else {
		params.RotatedPrincipal = exhausted
	}
	if err := c.Queries.UpdateScheduleRotation(ctx, params); err != nil {
		return fmt.Errorf("recording rotation progress for schedule %s: %w", sched.ID, err)
	}
	return nil
}

func appendIfMissing(list []uuid.UUID, id uuid.UUID) []uuid.UUID {
	for _, existing := range list {
		if existing == id {
			return list
		}
	}
	return append(list, id)
}

func allPresent(pool, seen []uuid.UUID) bool {
	if len(pool) == 0 {
		return false
	}
	for _, id := range pool {
		found := false
		for _, s := range seen {
			if s == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
