// Package posting implements the Posting Worker: it dequeues comment
// jobs, refreshes credentials, dispatches the HTTP post through the
// account's proxy, classifies the outcome, and updates Comment,
// Account, ApiProfile, and Schedule state accordingly. Grounded on the
// escalation engine's tick-loop-over-tenants shape
// (pkg/escalation/engine.go's tick/processTenant/processAlert), with
// the in-memory queue traversal replaced by a durable queue.Dequeue
// call per iteration.
package posting

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/duskpost/poster/internal/apperr"
	"github.com/duskpost/poster/internal/broker"
	"github.com/duskpost/poster/internal/cache"
	"github.com/duskpost/poster/internal/db"
	"github.com/duskpost/poster/internal/model"
	"github.com/duskpost/poster/internal/queue"
	"github.com/duskpost/poster/internal/telemetry"
)

// Poster posts one comment to the upstream platform and returns its
// external id. client is a proxy- and credential-scoped HTTP client
// built by broker.BuildTransport for this single dispatch.
type Poster interface {
	PostComment(ctx context.Context, client *http.Client, accessToken, videoID, parentID, content string) (externalID string, err error)
}

// CommentJobPayload is the Queue payload posting jobs carry.
type CommentJobPayload struct {
	CommentID string `json:"commentId"`
}

const leaseTTL = 2 * time.Minute
const maxAttempts = 5

// Worker dequeues and dispatches comment jobs across all tenant schemas.
type Worker struct {
	Pool        *db.Queries // global-schema queries (tenant listing)
	GetTenantDB func(ctx context.Context, slug string) (*db.Queries, func(), error)
	Queue       func(slug string) *queue.Queue
	Cache       func(slug string) *cache.Cache
	Broker      func(slug string) *broker.Broker
	Poster      Poster
	Limiter     *rate.Limiter
	Logger      *slog.Logger
	TokenURL    string
	ProbeTimeout time.Duration
}

// RunTenant drains ready jobs for one tenant's queue until it is empty,
// dispatching each at the rate the global limiter allows.
func (w *Worker) RunTenant(ctx context.Context, slug string) error {
	q := w.Queue(slug)
	for {
		if err := w.Limiter.Wait(ctx); err != nil {
			return err
		}

		job, err := q.Dequeue(ctx, leaseTTL)
		if err != nil {
			return fmt.Errorf("dequeuing for tenant %s: %w", slug, err)
		}
		if job == nil {
			return nil
		}

		if err := w.handle(ctx, slug, *job); err != nil {
			w.Logger.Error("posting job failed", "tenant", slug, "job_id", job.ID, "error", err)
		}
	}
}

func (w *Worker) handle(ctx context.Context, slug string, job queue.Job) error {
	start := time.Now()
	outcome := "success"
	defer func() {
		telemetry.PostProcessingDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	tq, release, err := w.GetTenantDB(ctx, slug)
	if err != nil {
		return fmt.Errorf("acquiring tenant db for %s: %w", slug, err)
	}
	defer release()

	var payload CommentJobPayload
	if err := decodeJobPayload(job, &payload); err != nil {
		outcome = "handler_exception"
		return w.deadLetter(ctx, slug, job, err)
	}

	commentID, err := parseUUID(payload.CommentID)
	if err != nil {
		outcome = "handler_exception"
		return w.deadLetter(ctx, slug, job, err)
	}

	cw, err := tq.GetCommentWithAccount(ctx, commentID)
	if err != nil {
		outcome = "handler_exception"
		return w.handleFailure(ctx, slug, tq, job, cw.Comment, err)
	}

	result, postErr := w.dispatch(ctx, slug, tq, cw)
	if postErr == nil {
		outcome = "success"
		return w.handleSuccess(ctx, slug, tq, job, cw, result)
	}

	outcome = string(apperr.ClassifyUpstreamText(postErr.Error()))
	return w.handleFailure(ctx, slug, tq, job, cw.Comment, postErr)
}

type dispatchResult struct {
	ExternalID string
}

func (w *Worker) dispatch(ctx context.Context, slug string, tq *db.Queries, cw db.CommentWithAccount) (dispatchResult, error) {
	acct := cw.Account

	profile, err := tq.GetApiProfile(ctx, acct.ApiProfileID)
	if err != nil {
		return dispatchResult{}, apperr.Wrap(apperr.KindHandlerException, "loading api profile", err)
	}

	br := w.Broker(slug)
	acct, err = br.Refresh(ctx, profile, acct, 5*time.Minute)
	if err != nil {
		return dispatchResult{}, err
	}

	var proxy *model.Proxy
	if acct.ProxyID != nil {
		p, err := tq.GetProxy(ctx, *acct.ProxyID)
		if err != nil {
			return dispatchResult{}, apperr.Wrap(apperr.KindProxyError, "loading proxy", err)
		}
		proxy = &p
	}

	httpClient, err := broker.BuildTransport(proxy, w.ProbeTimeout)
	if err != nil {
		return dispatchResult{}, err
	}

	externalID, err := w.Poster.PostComment(ctx, httpClient, acct.AccessToken, cw.Comment.VideoID, cw.Comment.ParentID, cw.Comment.Content)
	if err != nil {
		return dispatchResult{}, err
	}

	return dispatchResult{ExternalID: externalID}, nil
}

func (w *Worker) handleSuccess(ctx context.Context, slug string, tq *db.Queries, job queue.Job, cw db.CommentWithAccount, result dispatchResult) error {
	if err := tq.MarkCommentPosted(ctx, cw.Comment.ID, result.ExternalID); err != nil {
		return fmt.Errorf("marking comment posted: %w", err)
	}
	if err := tq.ResetAccountProxyErrorCount(ctx, cw.Account.ID); err != nil {
		w.Logger.Warn("resetting proxy error count", "account_id", cw.Account.ID, "error", err)
	}
	if err := tq.RecordAccountComment(ctx, cw.Account.ID, time.Now().UTC()); err != nil {
		w.Logger.Warn("recording account comment usage", "account_id", cw.Account.ID, "error", err)
	}
	if err := tq.IncrementApiProfileUsedQuota(ctx, cw.Account.ApiProfileID, 1); err != nil {
		w.Logger.Warn("incrementing api profile quota", "api_profile_id", cw.Account.ApiProfileID, "error", err)
	}
	if err := tq.IncrementScheduleCounter(ctx, cw.Comment.ScheduleID, true); err != nil {
		w.Logger.Warn("incrementing schedule counter", "schedule_id", cw.Comment.ScheduleID, "error", err)
	}
	if err := w.Cache(slug).SetLastAccountForVideo(ctx, cw.Comment.VideoID, cw.Account.ID.String(), time.Hour); err != nil {
		w.Logger.Warn("recording last account for video", "video_id", cw.Comment.VideoID, "error", err)
	}
	telemetry.CommentsPostedTotal.WithLabelValues(cw.Comment.ScheduleID.String()).Inc()
	return w.Queue(slug).Ack(ctx, job.ID)
}

func (w *Worker) handleFailure(ctx context.Context, slug string, tq *db.Queries, job queue.Job, comment model.Comment, postErr error) error {
	kind := apperr.ClassifyUpstreamText(postErr.Error())
	telemetry.CommentsFailedTotal.WithLabelValues(string(kind)).Inc()

	switch kind {
	case apperr.KindQuotaExceeded:
		telemetry.QuotaExceededTotal.Inc()
		if err := tq.MarkApiProfileExceeded(ctx, comment.AccountID, time.Now().UTC()); err != nil {
			w.Logger.Warn("marking api profile exceeded", "error", err)
		}
	case apperr.KindProxyError:
		telemetry.ProxyErrorsTotal.Inc()
		count, threshold, err := tq.IncrementAccountProxyErrorCount(ctx, comment.AccountID)
		if err != nil {
			w.Logger.Warn("incrementing proxy error count", "error", err)
		} else if count >= threshold {
			_ = tq.UpdateAccountStatus(ctx, comment.AccountID, model.AccountInactive, postErr.Error())
		}
	case apperr.KindDuplicateContent:
		_ = tq.IncrementAccountDuplicationCount(ctx, comment.AccountID)
	}

	if err := tq.MarkCommentFailed(ctx, comment.ID, postErr.Error()); err != nil {
		w.Logger.Error("marking comment failed", "error", err)
	}
	if err := tq.IncrementScheduleCounter(ctx, comment.ScheduleID, false); err != nil {
		w.Logger.Warn("incrementing schedule failure counter", "error", err)
	}

	if kind == apperr.KindHandlerException && job.Attempts+1 < maxAttempts {
		backoffDelay := time.Duration(1<<uint(job.Attempts)) * time.Second
		jitter := time.Duration(rand.Int63n(int64(time.Second)))
		return w.Queue(slug).Retry(ctx, job, time.Now().Add(backoffDelay+jitter))
	}

	return w.deadLetter(ctx, slug, job, postErr)
}

func (w *Worker) deadLetter(ctx context.Context, slug string, job queue.Job, cause error) error {
	if errCount, err := w.scheduleErrorCount(ctx, slug, job); err == nil {
		w.Logger.Warn("job dead-lettered", "job_id", job.ID, "error_count", errCount, "cause", cause)
	}
	return w.Queue(slug).DeadLetter(ctx, job, cause.Error())
}

func decodeJobPayload(job queue.Job, out any) error {
	if err := json.Unmarshal(job.Payload, out); err != nil {
		return apperr.Wrap(apperr.KindHandlerException, "decoding job payload", err)
	}
	return nil
}

func parseUUID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, apperr.Wrap(apperr.KindHandlerException, "parsing job comment id", err)
	}
	return id, nil
}

func (w *Worker) scheduleErrorCount(ctx context.Context, slug string, job queue.Job) (int, error) {
	var payload CommentJobPayload
	if err := decodeJobPayload(job, &payload); err != nil {
		return 0, err
	}
	commentID, err := parseUUID(payload.CommentID)
	if err != nil {
		return 0, err
	}
	tq, release, err := w.GetTenantDB(ctx, slug)
	if err != nil {
		return 0, err
	}
	defer release()
	comment, err := tq.GetComment(ctx, commentID)
	if err != nil {
		return 0, err
	}
	return tq.IncrementScheduleErrorCount(ctx, comment.ScheduleID)
}
