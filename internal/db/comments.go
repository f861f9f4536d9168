package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/duskpost/poster/internal/model"
)

// CommentCursor is the keyset position for ListCommentsPageForSchedule,
// mirroring httpserver.Cursor's (CreatedAt, ID) shape without importing
// the httpserver package from db.
type CommentCursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

const commentColumns = `id, schedule_id, account_id, video_id, parent_id, content,
	status, scheduled_for, posted_at, error_message, retry_count, external_id,
	last_previous_account_id, created_at, updated_at`

func scanComment(row scheduleScanner) (model.Comment, error) {
	var c model.Comment
	err := row.Scan(
		&c.ID, &c.ScheduleID, &c.AccountID, &c.VideoID, &c.ParentID, &c.Content,
		&c.Status, &c.ScheduledFor, &c.PostedAt, &c.ErrorMessage, &c.RetryCount, &c.ExternalID,
		&c.LastPreviousAccountID, &c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}

type CreateCommentParams struct {
	ScheduleID   uuid.UUID
	AccountID    uuid.UUID
	VideoID      string
	ParentID     string
	Content      string
	ScheduledFor *time.Time
}

func (q *Queries) CreateComment(ctx context.Context, p CreateCommentParams) (model.Comment, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO comments (schedule_id, account_id, video_id, parent_id, content, scheduled_for)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+commentColumns,
		p.ScheduleID, p.AccountID, p.VideoID, p.ParentID, p.Content, p.ScheduledFor,
	)
	c, err := scanComment(row)
	if err != nil {
		return model.Comment{}, fmt.Errorf("creating comment: %w", err)
	}
	return c, nil
}

func (q *Queries) GetComment(ctx context.Context, id uuid.UUID) (model.Comment, error) {
	row := q.db.QueryRow(ctx, `SELECT `+commentColumns+` FROM comments WHERE id = $1`, id)
	c, err := scanComment(row)
	if err != nil {
		return model.Comment{}, fmt.Errorf("getting comment %s: %w", id, err)
	}
	return c, nil
}

// CommentWithAccount is the join the Posting Worker loads a queued job
// against: the comment plus the account it will post from.
type CommentWithAccount struct {
	Comment model.Comment
	Account model.Account
}

func (q *Queries) GetCommentWithAccount(ctx context.Context, id uuid.UUID) (CommentWithAccount, error) {
	row := q.db.QueryRow(ctx, `
		SELECT c.`+commentColumns+`, `+prefixedAccountColumns("a")+`
		FROM comments c JOIN accounts a ON a.id = c.account_id
		WHERE c.id = $1`,
		id,
	)

	var out CommentWithAccount
	var proxyID *uuid.UUID
	err := row.Scan(
		&out.Comment.ID, &out.Comment.ScheduleID, &out.Comment.AccountID, &out.Comment.VideoID, &out.Comment.ParentID, &out.Comment.Content,
		&out.Comment.Status, &out.Comment.ScheduledFor, &out.Comment.PostedAt, &out.Comment.ErrorMessage, &out.Comment.RetryCount, &out.Comment.ExternalID,
		&out.Comment.LastPreviousAccountID, &out.Comment.CreatedAt, &out.Comment.UpdatedAt,
		&out.Account.ID, &out.Account.UserID, &proxyID, &out.Account.ApiProfileID,
		&out.Account.AccessToken, &out.Account.RefreshToken, &out.Account.TokenExpiry,
		&out.Account.ChannelID, &out.Account.ChannelTitle, &out.Account.Status, &out.Account.LastUsed, &out.Account.LastMessage,
		&out.Account.ProxyErrorCount, &out.Account.DuplicationCount, &out.Account.ProxyErrorThreshold,
		&out.Account.CommentCount, &out.Account.LikeCount, &out.Account.DailyUsageDate,
		&out.Account.CreatedAt, &out.Account.UpdatedAt,
	)
	if err != nil {
		return CommentWithAccount{}, fmt.Errorf("getting comment-with-account %s: %w", id, err)
	}
	out.Account.ProxyID = proxyID
	return out, nil
}

func prefixedAccountColumns(alias string) string {
	cols := []string{
		"id", "user_id", "proxy_id", "api_profile_id",
		"access_token", "refresh_token", "token_expiry",
		"channel_id", "channel_title", "status", "last_used", "last_message",
		"proxy_error_count", "duplication_count", "proxy_error_threshold",
		"comment_count", "like_count", "daily_usage_date",
		"created_at", "updated_at",
	}
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += alias + "." + c
	}
	return out
}

func (q *Queries) MarkCommentPosted(ctx context.Context, id uuid.UUID, externalID string) error {
	_, err := q.db.Exec(ctx,
		`UPDATE comments SET status = 'posted', posted_at = now(), external_id = $2, updated_at = now() WHERE id = $1`,
		id, externalID,
	)
	if err != nil {
		return fmt.Errorf("marking comment posted %s: %w", id, err)
	}
	return nil
}

func (q *Queries) MarkCommentFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	_, err := q.db.Exec(ctx,
		`UPDATE comments SET status = 'failed', error_message = $2, retry_count = retry_count + 1, updated_at = now() WHERE id = $1`,
		id, errorMessage,
	)
	if err != nil {
		return fmt.Errorf("marking comment failed %s: %w", id, err)
	}
	return nil
}

// SetCommentLastPreviousAccount records the account that posted the most
// recent comment on a video, so the duplicate-content classifier can
// detect an immediate repeat by the same identity.
func (q *Queries) SetCommentLastPreviousAccount(ctx context.Context, id, accountID uuid.UUID) error {
	_, err := q.db.Exec(ctx, `UPDATE comments SET last_previous_account_id = $2, updated_at = now() WHERE id = $1`, id, accountID)
	if err != nil {
		return fmt.Errorf("setting last previous account for comment %s: %w", id, err)
	}
	return nil
}

// RequeueFailedCommentsForSchedule flips every failed comment on a
// schedule back to pending so the Posting Worker's next pass picks them
// up again, and returns how many were requeued.
func (q *Queries) RequeueFailedCommentsForSchedule(ctx context.Context, scheduleID uuid.UUID) (int, error) {
	rows, err := q.db.Query(ctx,
		`UPDATE comments SET status = 'pending', updated_at = now() WHERE schedule_id = $1 AND status = 'failed' RETURNING id`,
		scheduleID,
	)
	if err != nil {
		return 0, fmt.Errorf("requeuing failed comments for schedule %s: %w", scheduleID, err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		count++
	}
	return count, rows.Err()
}

// ListCommentsPageForSchedule returns one page of a schedule's comments,
// newest first, for the control plane's paginated comment-history
// endpoint. Pass limit+1 as the fetch size so the caller can detect
// whether more rows remain (httpserver.NewCursorPage's convention).
func (q *Queries) ListCommentsPageForSchedule(ctx context.Context, scheduleID uuid.UUID, after *CommentCursor, limit int) ([]model.Comment, error) {
	query := `SELECT ` + commentColumns + ` FROM comments WHERE schedule_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`
	args := []any{scheduleID, limit}
	if after != nil {
		query = `SELECT ` + commentColumns + ` FROM comments
			WHERE schedule_id = $1 AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC LIMIT $4`
		args = []any{scheduleID, after.CreatedAt, after.ID, limit}
	}

	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing comments page for schedule %s: %w", scheduleID, err)
	}
	defer rows.Close()

	var out []model.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning comment: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListPendingCommentsForSchedule feeds schedule-resume after a restart.
func (q *Queries) ListPendingCommentsForSchedule(ctx context.Context, scheduleID uuid.UUID) ([]model.Comment, error) {
	rows, err := q.db.Query(ctx, `SELECT `+commentColumns+` FROM comments WHERE schedule_id = $1 AND status = 'pending' ORDER BY created_at`, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("listing pending comments for schedule %s: %w", scheduleID, err)
	}
	defer rows.Close()

	var out []model.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning comment: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
