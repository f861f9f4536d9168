package viewscheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/duskpost/poster/internal/broker"
	"github.com/duskpost/poster/internal/db"
	"github.com/duskpost/poster/internal/model"
	"github.com/duskpost/poster/internal/queue"
	"github.com/duskpost/poster/internal/telemetry"
)

// ViewerClient drives one simulated watch session against the external
// Viewer Service: the engine never simulates a view itself, it only
// requests one and waits for it to complete.
type ViewerClient interface {
	SimulateView(ctx context.Context, videoID string, minWatchSeconds, maxWatchSeconds int) error
}

// Liker issues the upstream platform's like action. posting.UpstreamClient
// implements it.
type Liker interface {
	LikeVideo(ctx context.Context, client *http.Client, accessToken, videoID string) error
}

// HTTPViewerClient is a thin JSON-webhook wrapper around *http.Client,
// mirroring commentgen's HTTPMetadataClient/HTTPLLMClient shape.
type HTTPViewerClient struct {
	Client  *http.Client
	BaseURL string
}

func (c *HTTPViewerClient) SimulateView(ctx context.Context, videoID string, minWatchSeconds, maxWatchSeconds int) error {
	payload, err := json.Marshal(map[string]int{"minWatchSeconds": minWatchSeconds, "maxWatchSeconds": maxWatchSeconds})
	if err != nil {
		return fmt.Errorf("marshaling simulate-view request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/videos/%s/simulate-view", c.BaseURL, videoID), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building simulate-view request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("calling viewer service: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("viewer service returned status %d", resp.StatusCode)
	}
	return nil
}

const viewLeaseTTL = 2 * time.Minute

// Worker dequeues simulate-view jobs for one tenant and, per job, rolls
// the view schedule's probability, asks the Viewer Service to perform
// the simulated watch, and — when AutoLike is set — issues a like from
// a random active account belonging to the view schedule's user, routed
// through that account's proxy so both actions share one egress.
type Worker struct {
	Queries      *db.Queries
	Queue        *queue.Queue
	Viewer       ViewerClient
	Liker        Liker
	Broker       *broker.Broker
	ProbeTimeout time.Duration
	Logger       *slog.Logger
}

func NewWorker(q *db.Queries, queueq *queue.Queue, viewer ViewerClient, liker Liker, br *broker.Broker, probeTimeout time.Duration, logger *slog.Logger) *Worker {
	return &Worker{Queries: q, Queue: queueq, Viewer: viewer, Liker: liker, Broker: br, ProbeTimeout: probeTimeout, Logger: logger}
}

// RunTenant drains ready simulate-view jobs for one tenant until the
// queue is empty.
func (w *Worker) RunTenant(ctx context.Context) error {
	for {
		job, err := w.Queue.Dequeue(ctx, viewLeaseTTL)
		if err != nil {
			return fmt.Errorf("dequeuing simulate-view job: %w", err)
		}
		if job == nil {
			return nil
		}
		if err := w.handle(ctx, *job); err != nil {
			w.Logger.Error("simulate-view job failed", "job_id", job.ID, "error", err)
		}
	}
}

func (w *Worker) handle(ctx context.Context, job queue.Job) error {
	var payload ViewJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return w.Queue.DeadLetter(ctx, job, err.Error())
	}
	viewScheduleID, err := uuid.Parse(payload.ViewScheduleID)
	if err != nil {
		return w.Queue.DeadLetter(ctx, job, err.Error())
	}

	sched, err := w.Queries.GetViewSchedule(ctx, viewScheduleID)
	if err != nil {
		return w.Queue.DeadLetter(ctx, job, err.Error())
	}
	if sched.Status != model.ScheduleActive {
		return w.Queue.Ack(ctx, job.ID)
	}

	if !ShouldRun(sched.Probability) {
		return w.Queue.Ack(ctx, job.ID)
	}

	if err := w.Viewer.SimulateView(ctx, payload.VideoID, sched.MinWatchTime, sched.MaxWatchTime); err != nil {
		return w.Queue.Retry(ctx, job, time.Now().Add(30*time.Second))
	}
	telemetry.ViewsSimulatedTotal.Inc()

	if sched.AutoLike {
		if err := w.autoLike(ctx, sched, payload.VideoID); err != nil {
			w.Logger.Warn("auto-like failed", "view_schedule_id", sched.ID, "video_id", payload.VideoID, "error", err)
		}
	}

	return w.Queue.Ack(ctx, job.ID)
}

// autoLike issues a server-side like via a random active account of the
// view schedule's own user, aligned with that account's proxy so the
// watch and the like both appear to originate from one egress.
func (w *Worker) autoLike(ctx context.Context, sched model.ViewSchedule, videoID string) error {
	candidates, err := w.Queries.ListActiveAccountsByUser(ctx, sched.UserID)
	if err != nil {
		return fmt.Errorf("listing active accounts for user %s: %w", sched.UserID, err)
	}
	if len(candidates) == 0 {
		return fmt.Errorf("no active account available to like on behalf of user %s", sched.UserID)
	}
	account := candidates[rand.Intn(len(candidates))]

	profile, err := w.Queries.GetApiProfile(ctx, account.ApiProfileID)
	if err != nil {
		return fmt.Errorf("loading api profile for account %s: %w", account.ID, err)
	}
	account, err = w.Broker.Refresh(ctx, profile, account, 5*time.Minute)
	if err != nil {
		return fmt.Errorf("refreshing token for account %s: %w", account.ID, err)
	}

	var proxy *model.Proxy
	if account.ProxyID != nil {
		p, err := w.Queries.GetProxy(ctx, *account.ProxyID)
		if err != nil {
			return fmt.Errorf("loading proxy for account %s: %w", account.ID, err)
		}
		proxy = &p
	}

	httpClient, err := broker.BuildTransport(proxy, w.ProbeTimeout)
	if err != nil {
		return fmt.Errorf("building transport for account %s: %w", account.ID, err)
	}

	if err := w.Liker.LikeVideo(ctx, httpClient, account.AccessToken, videoID); err != nil {
		return fmt.Errorf("liking video %s: %w", videoID, err)
	}

	telemetry.LikesTotal.Inc()
	return nil
}
