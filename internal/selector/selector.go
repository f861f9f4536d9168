// Package selector picks which Account dispatches the next comment for
// a Schedule. Grounded on the roster scheduler's least-served
// pickPrimary/pickSecondary algorithm (pkg/roster/scheduler.go),
// generalized from "fewest weeks served" to "fewest comments posted
// today" and extended with the random and round-robin selection modes
// a Schedule's AccountSelection can request, plus the two do-not-repeat
// exclusion rules the Schedule Driver's batch dispatcher applies before
// any of those modes run.
package selector

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/google/uuid"

	"github.com/duskpost/poster/internal/cache"
	"github.com/duskpost/poster/internal/db"
	"github.com/duskpost/poster/internal/model"
)

type Selector struct {
	Queries *db.Queries
	Cache   *cache.Cache
	Logger  *slog.Logger
}

func New(q *db.Queries, c *cache.Cache, logger *slog.Logger) *Selector {
	return &Selector{Queries: q, Cache: c, Logger: logger}
}

// Pick returns the next account to dispatch from for one target video,
// honoring (in order): never repeat the schedule's last-used account,
// never repeat the account that last posted on this specific video, the
// schedule's AccountSelection policy, and per-account cooldown. Each
// do-not-repeat rule relaxes itself (via ExcludeLastAccount) rather than
// ever emptying the candidate pool.
func (s *Selector) Pick(ctx context.Context, sched model.Schedule, videoID string) (model.Account, error) {
	pool := sched.ActivePool()
	if len(pool) == 0 {
		return model.Account{}, fmt.Errorf("selector: schedule %s has no accounts in its active pool", sched.ID)
	}

	candidates, err := s.Queries.ListCandidateAccounts(ctx, pool)
	if err != nil {
		return model.Account{}, fmt.Errorf("listing candidate accounts: %w", err)
	}

	candidates, err = s.filterCooldown(ctx, candidates)
	if err != nil {
		return model.Account{}, err
	}
	if len(candidates) == 0 {
		return model.Account{}, fmt.Errorf("selector: no eligible accounts for schedule %s (all inactive or cooling down)", sched.ID)
	}

	// Rule 2 first (per-video last account), then rule 1 (schedule-wide
	// last account) — relaxing rule 2 before rule 1 matches the order
	// the most specific exclusion should be allowed to give way first.
	candidates = s.excludeLastForVideo(ctx, sched, videoID, candidates)
	candidates = s.excludeLastForSchedule(sched, candidates)

	switch sched.AccountSelection {
	case model.SelectionRandom:
		return candidates[rand.Intn(len(candidates))], nil
	case model.SelectionRoundRobin:
		cursor, err := s.Cache.IncrementRoundRobinCursor(ctx, sched.ID.String())
		if err != nil {
			return model.Account{}, err
		}
		idx := int(cursor-1) % len(candidates)
		if idx < 0 {
			idx += len(candidates)
		}
		return candidates[idx], nil
	default: // SelectionSpecific and fallback: least-used-today
		return pickLeastUsed(candidates), nil
	}
}

// excludeLastForSchedule drops sched.LastUsedAccountID, the account
// that posted this schedule's previous comment.
func (s *Selector) excludeLastForSchedule(sched model.Schedule, candidates []model.Account) []model.Account {
	if sched.LastUsedAccountID == nil {
		return candidates
	}
	out := ExcludeLastAccount(candidates, *sched.LastUsedAccountID)
	if len(out) == len(candidates) && contains(candidates, *sched.LastUsedAccountID) {
		s.warnExhausted(sched.ID, "last-used-account")
	}
	return out
}

func contains(accounts []model.Account, id uuid.UUID) bool {
	for _, a := range accounts {
		if a.ID == id {
			return true
		}
	}
	return false
}

// excludeLastForVideo consults the cache marker for which account last
// posted on this video and drops it from the candidate pool.
func (s *Selector) excludeLastForVideo(ctx context.Context, sched model.Schedule, videoID string, candidates []model.Account) []model.Account {
	if videoID == "" {
		return candidates
	}
	lastIDStr, err := s.Cache.LastAccountForVideo(ctx, videoID)
	if err != nil || lastIDStr == "" {
		return candidates
	}
	lastID, err := uuid.Parse(lastIDStr)
	if err != nil {
		return candidates
	}
	out := ExcludeLastAccount(candidates, lastID)
	if len(out) == len(candidates) && contains(candidates, lastID) {
		s.warnExhausted(sched.ID, "last-account-for-video")
	}
	return out
}

func (s *Selector) warnExhausted(scheduleID uuid.UUID, rule string) {
	if s.Logger == nil {
		return
	}
	s.Logger.Warn("selector: candidate pool exhausted, relaxing exclusion rule", "schedule_id", scheduleID, "rule", rule)
}

func (s *Selector) filterCooldown(ctx context.Context, accounts []model.Account) ([]model.Account, error) {
	out := make([]model.Account, 0, len(accounts))
	for _, a := range accounts {
		cooling, err := s.Cache.InCooldown(ctx, a.ID.String())
		if err != nil {
			return nil, fmt.Errorf("checking cooldown for account %s: %w", a.ID, err)
		}
		if !cooling {
			out = append(out, a)
		}
	}
	return out, nil
}

// pickLeastUsed picks the account with the fewest comments posted
// today, mirroring the roster scheduler's fewest-duty-weeks tiebreak.
func pickLeastUsed(accounts []model.Account) model.Account {
	best := accounts[0]
	for _, a := range accounts[1:] {
		if a.CommentCount < best.CommentCount {
			best = a
		}
	}
	return best
}

// ExcludeLastAccount drops the account that posted the previous
// comment on this video, so consecutive posts on the same video are
// never by the same identity.
func ExcludeLastAccount(accounts []model.Account, lastAccountID uuid.UUID) []model.Account {
	if lastAccountID == uuid.Nil {
		return accounts
	}
	out := make([]model.Account, 0, len(accounts))
	for _, a := range accounts {
		if a.ID != lastAccountID {
			out = append(out, a)
		}
	}
	if len(out) == 0 {
		return accounts
	}
	return out
}
