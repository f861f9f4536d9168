// Package queue implements a durable, Redis-backed job queue: a sorted
// set scored by ready-at-unix-ms for scheduling, a hash for payload and
// lease bookkeeping, a SETNX-guarded dedup index, and a dead-letter
// hash for jobs that exhaust their retry budget. Grounded on the
// escalation engine's and roster worker's ticker/lease idioms,
// generalized from in-memory state into a Redis-backed structure so
// queued work survives a process restart.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Job is one unit of queued work: a comment to post, a token to
// refresh, a proxy to probe. Kind discriminates the handler; Payload is
// handler-specific JSON.
type Job struct {
	ID       string
	Kind     string
	Payload  json.RawMessage
	Attempts int
	ReadyAt  time.Time
}

type Queue struct {
	rdb  *redis.Client
	name string
}

func New(rdb *redis.Client, name string) *Queue {
	return &Queue{rdb: rdb, name: name}
}

func (q *Queue) zsetKey() string    { return "queue:" + q.name + ":ready" }
func (q *Queue) hashKey() string    { return "queue:" + q.name + ":jobs" }
func (q *Queue) dedupKey() string   { return "queue:" + q.name + ":dedup" }
func (q *Queue) deadKey() string    { return "queue:" + q.name + ":dead" }
func (q *Queue) leaseKey(id string) string { return "queue:" + q.name + ":lease:" + id }

// Enqueue schedules a job for dispatch at readyAt. If jobID is
// non-empty and already present in the dedup index, Enqueue is a no-op
// (idempotent submission).
func (q *Queue) Enqueue(ctx context.Context, jobID, kind string, payload any, readyAt time.Time) (string, error) {
	if jobID == "" {
		jobID = uuid.NewString()
	}
	if jobID != "" {
		added, err := q.rdb.SetNX(ctx, q.dedupKey()+":"+jobID, "1", 24*time.Hour).Result()
		if err != nil {
			return "", fmt.Errorf("checking dedup index: %w", err)
		}
		if !added {
			return jobID, nil
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling job payload: %w", err)
	}

	job := Job{ID: jobID, Kind: kind, Payload: body, ReadyAt: readyAt}
	jobBytes, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshaling job: %w", err)
	}

	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.hashKey(), jobID, jobBytes)
	pipe.ZAdd(ctx, q.zsetKey(), redis.Z{Score: float64(readyAt.UnixMilli()), Member: jobID})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("enqueuing job %s: %w", jobID, err)
	}
	return jobID, nil
}

// dequeueScript atomically pops the single most-overdue ready job: it
// finds the lowest-scored member with score <= now, removes it from the
// ready set, and returns its id. Keeping the ZRANGEBYSCORE+ZREM pair
// inside one script avoids a race between two workers claiming the same job.
var dequeueScript = redis.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, 1)
if #ids == 0 then
	return nil
end
redis.call("ZREM", KEYS[1], ids[1])
return ids[1]
`)

// Dequeue claims the next ready job (if any) and leases it for
// leaseTTL, during which no other caller may claim it again even after
// a retry-requeue. Returns (nil, nil) when nothing is ready.
func (q *Queue) Dequeue(ctx context.Context, leaseTTL time.Duration) (*Job, error) {
	res, err := dequeueScript.Run(ctx, q.rdb, []string{q.zsetKey()}, time.Now().UnixMilli()).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeuing: %w", err)
	}
	if res == nil {
		return nil, nil
	}
	jobID, _ := res.(string)
	if jobID == "" {
		return nil, nil
	}

	raw, err := q.rdb.HGet(ctx, q.hashKey(), jobID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching job %s body: %w", jobID, err)
	}

	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("decoding job %s: %w", jobID, err)
	}

	if err := q.rdb.Set(ctx, q.leaseKey(jobID), "1", leaseTTL).Err(); err != nil {
		return nil, fmt.Errorf("leasing job %s: %w", jobID, err)
	}

	return &job, nil
}

// RenewLease extends a held lease, for long-running handlers.
func (q *Queue) RenewLease(ctx context.Context, jobID string, leaseTTL time.Duration) error {
	if err := q.rdb.Expire(ctx, q.leaseKey(jobID), leaseTTL).Err(); err != nil {
		return fmt.Errorf("renewing lease for job %s: %w", jobID, err)
	}
	return nil
}

// Ack removes a job entirely: it completed (successfully or with a
// terminal failure already recorded elsewhere).
func (q *Queue) Ack(ctx context.Context, jobID string) error {
	pipe := q.rdb.TxPipeline()
	pipe.HDel(ctx, q.hashKey(), jobID)
	pipe.Del(ctx, q.leaseKey(jobID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("acking job %s: %w", jobID, err)
	}
	return nil
}

// Retry re-schedules a job for another attempt at a later readyAt,
// bumping its attempt counter. The caller decides the backoff delay.
func (q *Queue) Retry(ctx context.Context, job Job, readyAt time.Time) error {
	job.Attempts++
	job.ReadyAt = readyAt
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling retried job %s: %w", job.ID, err)
	}

	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.hashKey(), job.ID, body)
	pipe.ZAdd(ctx, q.zsetKey(), redis.Z{Score: float64(readyAt.UnixMilli()), Member: job.ID})
	pipe.Del(ctx, q.leaseKey(job.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("retrying job %s: %w", job.ID, err)
	}
	return nil
}

// DeadLetter moves a job to the dead-letter hash and removes it from
// live state, for handler-exception jobs that exhausted retries.
func (q *Queue) DeadLetter(ctx context.Context, job Job, reason string) error {
	record := map[string]any{"job": job, "reason": reason, "deadAt": time.Now().UTC()}
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshaling dead-letter record for %s: %w", job.ID, err)
	}

	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.deadKey(), job.ID, body)
	pipe.HDel(ctx, q.hashKey(), job.ID)
	pipe.Del(ctx, q.leaseKey(job.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("dead-lettering job %s: %w", job.ID, err)
	}
	return nil
}

// Depth reports the number of jobs currently waiting in the ready set,
// for the QueueDepth gauge.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	n, err := q.rdb.ZCard(ctx, q.zsetKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("measuring queue depth: %w", err)
	}
	return n, nil
}
