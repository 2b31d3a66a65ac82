package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	jobsKey       = "stayreserve:jobs"
	processingKey = "stayreserve:jobs:processing"
	payloadsKey   = "stayreserve:jobs:payload"
	deadKey       = "stayreserve:jobs:dead"

	// leaseDuration bounds how long a claimed job may run before another
	// runner instance may reclaim it.  Handlers are short database
	// transactions, so a minute is generous.
	leaseDuration = time.Minute
)

// Store persists scheduled jobs.  Schedule with an existing key
// replaces the earlier job, which is what makes (type, uuid) an
// idempotency key.  Due hands out jobs under a lease rather than
// deleting them: a job stays in the store until the runner calls Ack
// (or reschedules it), so a crash mid-handler surrenders the lease and
// the job is handed out again once the lease lapses.
type Store interface {
	Schedule(ctx context.Context, job Job) error
	Cancel(ctx context.Context, typ JobType, uuid string) error
	Due(ctx context.Context, now time.Time, limit int) ([]Job, error)
	Ack(ctx context.Context, job Job) error
	Bury(ctx context.Context, job Job, cause error) error
}

// RedisStore keeps pending jobs in a sorted set scored by fire time and
// claimed jobs in a second sorted set scored by lease deadline, with
// the payloads in a companion hash keyed by the job key.  Exhausted
// jobs land on a dead-letter list for operator inspection.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// claimScript atomically moves a member from the source sorted set into
// the processing set scored with the new lease deadline.  The ZREM
// result is the claim: a member another runner already moved yields 0.
var claimScript = redis.NewScript(`
if redis.call("ZREM", KEYS[1], ARGV[1]) == 1 then
	redis.call("ZADD", KEYS[2], ARGV[2], ARGV[1])
	return 1
end
return 0
`)

func (s *RedisStore) Schedule(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.Key(), err)
	}
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, jobsKey, redis.Z{
		Score:  float64(job.FireAt.Unix()),
		Member: job.Key(),
	})
	pipe.HSet(ctx, payloadsKey, job.Key(), payload)
	// Rescheduling a claimed job (the retry path) releases its lease.
	pipe.ZRem(ctx, processingKey, job.Key())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("schedule job %s: %w", job.Key(), err)
	}
	return nil
}

func (s *RedisStore) Cancel(ctx context.Context, typ JobType, uuid string) error {
	key := Job{Type: typ, UUID: uuid}.Key()
	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, jobsKey, key)
	pipe.ZRem(ctx, processingKey, key)
	pipe.HDel(ctx, payloadsKey, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cancel job %s: %w", key, err)
	}
	return nil
}

// Due returns up to limit jobs whose fire time has passed, each claimed
// under a fresh lease.  Jobs whose earlier lease lapsed (the holder
// crashed or stalled) are reclaimed the same way, which is what makes
// delivery at-least-once across process restarts.
func (s *RedisStore) Due(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	jobs, err := s.claimFrom(ctx, jobsKey, now, limit)
	if err != nil {
		return jobs, err
	}
	if len(jobs) < limit {
		stale, err := s.claimFrom(ctx, processingKey, now, limit-len(jobs))
		if err != nil {
			return append(jobs, stale...), err
		}
		jobs = append(jobs, stale...)
	}
	return jobs, nil
}

func (s *RedisStore) claimFrom(ctx context.Context, source string, now time.Time, limit int) ([]Job, error) {
	keys, err := s.client.ZRangeByScore(ctx, source, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.Unix(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list due jobs: %w", err)
	}

	deadline := now.Add(leaseDuration).Unix()
	var jobs []Job
	for _, key := range keys {
		claimed, err := claimScript.Run(ctx, s.client, []string{source, processingKey}, key, deadline).Int()
		if err != nil {
			return jobs, fmt.Errorf("claim job %s: %w", key, err)
		}
		if claimed == 0 {
			continue
		}
		payload, err := s.client.HGet(ctx, payloadsKey, key).Result()
		if errors.Is(err, redis.Nil) {
			// Cancelled between listing and claim; drop the stray member.
			s.client.ZRem(ctx, processingKey, key)
			continue
		}
		if err != nil {
			return jobs, fmt.Errorf("load job %s: %w", key, err)
		}

		var job Job
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			s.buryRaw(ctx, key, payload, fmt.Errorf("corrupt payload: %w", err))
			s.client.ZRem(ctx, processingKey, key)
			s.client.HDel(ctx, payloadsKey, key)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Ack removes a finished job from the store.  The runner calls it after
// the handler returned or the job was buried; until then the job stays
// leased and recoverable.
func (s *RedisStore) Ack(ctx context.Context, job Job) error {
	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, processingKey, job.Key())
	pipe.HDel(ctx, payloadsKey, job.Key())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ack job %s: %w", job.Key(), err)
	}
	return nil
}

// deadJob is the dead-letter record for a job that exhausted its
// retries or could not be decoded.
type deadJob struct {
	Job      Job       `json:"job"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

func (s *RedisStore) Bury(ctx context.Context, job Job, cause error) error {
	record, err := json.Marshal(deadJob{Job: job, Error: cause.Error(), FailedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal dead job %s: %w", job.Key(), err)
	}
	if err := s.client.LPush(ctx, deadKey, record).Err(); err != nil {
		return fmt.Errorf("bury job %s: %w", job.Key(), err)
	}
	return nil
}

func (s *RedisStore) buryRaw(ctx context.Context, key, payload string, cause error) {
	record, err := json.Marshal(map[string]string{
		"key":       key,
		"payload":   payload,
		"error":     cause.Error(),
		"failed_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	s.client.LPush(ctx, deadKey, record)
}
