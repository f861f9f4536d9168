package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/duskpost/poster/internal/model"
)

func (q *Queries) GetApiProfile(ctx context.Context, id uuid.UUID) (model.ApiProfile, error) {
	var p model.ApiProfile
	err := q.db.QueryRow(ctx, `
		SELECT id, user_id, client_id, client_secret, redirect_uri, api_key,
		       used_quota, limit_quota, status, exceeded_at, is_active, created_at, updated_at
		FROM api_profiles WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.UserID, &p.ClientID, &p.ClientSecret, &p.RedirectURI, &p.APIKey,
		&p.UsedQuota, &p.LimitQuota, &p.Status, &p.ExceededAt, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return model.ApiProfile{}, fmt.Errorf("getting api profile %s: %w", id, err)
	}
	return p, nil
}

// ActivateApiProfile deactivates every other profile owned by the same user
// and activates the given one, atomically, enforcing the "at most one
// isActive=true profile" invariant (SPEC_FULL.md §3).
func (q *Queries) ActivateApiProfile(ctx context.Context, userID, profileID uuid.UUID) error {
	_, err := q.db.Exec(ctx, `UPDATE api_profiles SET is_active = false, updated_at = now() WHERE user_id = $1 AND id <> $2`, userID, profileID)
	if err != nil {
		return fmt.Errorf("deactivating other api profiles for user %s: %w", userID, err)
	}
	_, err = q.db.Exec(ctx, `UPDATE api_profiles SET is_active = true, updated_at = now() WHERE id = $1`, profileID)
	if err != nil {
		return fmt.Errorf("activating api profile %s: %w", profileID, err)
	}
	return nil
}

// MarkApiProfileExceeded flips an ApiProfile to the exceeded state
// (Posting Worker quota-exceeded outcome, SPEC_FULL.md §4.3).
func (q *Queries) MarkApiProfileExceeded(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := q.db.Exec(ctx, `UPDATE api_profiles SET status = 'exceeded', exceeded_at = $2, updated_at = now() WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("marking api profile %s exceeded: %w", id, err)
	}
	return nil
}

func (q *Queries) IncrementApiProfileUsedQuota(ctx context.Context, id uuid.UUID, amount int64) error {
	_, err := q.db.Exec(ctx, `UPDATE api_profiles SET used_quota = used_quota + $2, updated_at = now() WHERE id = $1`, id, amount)
	if err != nil {
		return fmt.Errorf("incrementing used quota for %s: %w", id, err)
	}
	return nil
}

// ResetApiProfilesDaily is the daily-midnight quota reset (C9, §4.9).
func (q *Queries) ResetApiProfilesDaily(ctx context.Context) error {
	_, err := q.db.Exec(ctx, `UPDATE api_profiles SET used_quota = 0, status = 'not_exceeded', exceeded_at = NULL, updated_at = now()`)
	if err != nil {
		return fmt.Errorf("resetting api profiles: %w", err)
	}
	return nil
}
