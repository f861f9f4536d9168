package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/duskpost/poster/internal/model"
)

func scanAccount(row interface {
	Scan(dest ...any) error
}) (model.Account, error) {
	var a model.Account
	var proxyID *uuid.UUID
	err := row.Scan(
		&a.ID, &a.UserID, &proxyID, &a.ApiProfileID,
		&a.AccessToken, &a.RefreshToken, &a.TokenExpiry,
		&a.ChannelID, &a.ChannelTitle, &a.Status, &a.LastUsed, &a.LastMessage,
		&a.ProxyErrorCount, &a.DuplicationCount, &a.ProxyErrorThreshold,
		&a.CommentCount, &a.LikeCount, &a.DailyUsageDate,
		&a.CreatedAt, &a.UpdatedAt,
	)
	a.ProxyID = proxyID
	return a, err
}

const accountColumns = `id, user_id, proxy_id, api_profile_id,
	access_token, refresh_token, token_expiry,
	channel_id, channel_title, status, last_used, last_message,
	proxy_error_count, duplication_count, proxy_error_threshold,
	comment_count, like_count, daily_usage_date,
	created_at, updated_at`

func (q *Queries) GetAccount(ctx context.Context, id uuid.UUID) (model.Account, error) {
	row := q.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	a, err := scanAccount(row)
	if err != nil {
		return model.Account{}, fmt.Errorf("getting account %s: %w", id, err)
	}
	return a, nil
}

// ListCandidateAccounts returns every active account among ids, for use by
// the Account Selector (C8).
func (q *Queries) ListCandidateAccounts(ctx context.Context, ids []uuid.UUID) ([]model.Account, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ANY($1) AND status = 'active'`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("listing candidate accounts: %w", err)
	}
	defer rows.Close()

	var out []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListActiveAccountsByUser returns every active account owned by a
// User, for the View Scheduler's auto-like step (C11): the like is
// issued from a random active account belonging to the same user as the
// view schedule, not necessarily one of the posting schedule's pool.
func (q *Queries) ListActiveAccountsByUser(ctx context.Context, userID uuid.UUID) ([]model.Account, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = $1 AND status = 'active'`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing active accounts for user %s: %w", userID, err)
	}
	defer rows.Close()

	var out []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (q *Queries) ListActiveProxiesByUser(ctx context.Context, userID uuid.UUID) ([]model.Proxy, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, user_id, host, port, username, password, protocol, status, last_checked, connection_speed, created_at, updated_at
		 FROM proxies WHERE user_id = $1 AND status = 'active'`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing active proxies: %w", err)
	}
	defer rows.Close()

	var out []model.Proxy
	for rows.Next() {
		var p model.Proxy
		if err := rows.Scan(&p.ID, &p.UserID, &p.Host, &p.Port, &p.Username, &p.Password, &p.Protocol, &p.Status, &p.LastChecked, &p.ConnectionSpeed, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning proxy: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type UpdateAccountTokensParams struct {
	ID           uuid.UUID
	AccessToken  string
	RefreshToken string
	TokenExpiry  time.Time
}

func (q *Queries) UpdateAccountTokens(ctx context.Context, p UpdateAccountTokensParams) error {
	_, err := q.db.Exec(ctx,
		`UPDATE accounts SET access_token = $2, refresh_token = $3, token_expiry = $4, updated_at = now() WHERE id = $1`,
		p.ID, p.AccessToken, p.RefreshToken, p.TokenExpiry,
	)
	if err != nil {
		return fmt.Errorf("updating account tokens %s: %w", p.ID, err)
	}
	return nil
}

func (q *Queries) UpdateAccountStatus(ctx context.Context, id uuid.UUID, status model.AccountStatus, lastMessage string) error {
	_, err := q.db.Exec(ctx,
		`UPDATE accounts SET status = $2, last_message = $3, updated_at = now() WHERE id = $1`,
		id, status, lastMessage,
	)
	if err != nil {
		return fmt.Errorf("updating account status %s: %w", id, err)
	}
	return nil
}

func (q *Queries) SetAccountProxy(ctx context.Context, id, proxyID uuid.UUID) error {
	_, err := q.db.Exec(ctx, `UPDATE accounts SET proxy_id = $2, updated_at = now() WHERE id = $1`, id, proxyID)
	if err != nil {
		return fmt.Errorf("rotating proxy for account %s: %w", id, err)
	}
	return nil
}

// ResetAccountProxyErrorCount clears the proxy error counter, used on a
// successful post (SPEC_FULL.md §4.3 Success row).
func (q *Queries) ResetAccountProxyErrorCount(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, `UPDATE accounts SET proxy_error_count = 0, status = 'active', updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("resetting proxy error count for %s: %w", id, err)
	}
	return nil
}

// IncrementAccountProxyErrorCount increments the counter and returns the new
// value alongside the configured threshold so the caller can decide whether
// to flip the account inactive.
func (q *Queries) IncrementAccountProxyErrorCount(ctx context.Context, id uuid.UUID) (count, threshold int, err error) {
	err = q.db.QueryRow(ctx,
		`UPDATE accounts SET proxy_error_count = proxy_error_count + 1, updated_at = now()
		 WHERE id = $1 RETURNING proxy_error_count, proxy_error_threshold`,
		id,
	).Scan(&count, &threshold)
	if err != nil {
		return 0, 0, fmt.Errorf("incrementing proxy error count for %s: %w", id, err)
	}
	return count, threshold, nil
}

func (q *Queries) IncrementAccountDuplicationCount(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, `UPDATE accounts SET duplication_count = duplication_count + 1, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("incrementing duplication count for %s: %w", id, err)
	}
	return nil
}

// RecordAccountComment bumps the daily comment counter, resetting it first
// if dailyUsageDate is stale, and stamps LastUsed.
func (q *Queries) RecordAccountComment(ctx context.Context, id uuid.UUID, today time.Time) error {
	_, err := q.db.Exec(ctx, `
		UPDATE accounts SET
			comment_count = CASE WHEN daily_usage_date = $2 THEN comment_count + 1 ELSE 1 END,
			daily_usage_date = $2,
			last_used = now(),
			updated_at = now()
		WHERE id = $1`,
		id, today,
	)
	if err != nil {
		return fmt.Errorf("recording comment usage for %s: %w", id, err)
	}
	return nil
}

// ResetInactiveAccountsDaily is part of the daily quota reset maintenance
// loop (C9, §4.9): all inactive accounts become active with a clean
// proxy-error counter.
func (q *Queries) ResetInactiveAccountsDaily(ctx context.Context) error {
	_, err := q.db.Exec(ctx, `UPDATE accounts SET status = 'active', proxy_error_count = 0, updated_at = now() WHERE status = 'inactive'`)
	if err != nil {
		return fmt.Errorf("resetting inactive accounts: %w", err)
	}
	return nil
}
