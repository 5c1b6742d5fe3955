// Package queue runs export jobs over a Redis stream with a consumer group.
//
// Job state is a JSON record next to the stream, so the API can poll it
// without touching the stream. Failed attempts wait in a sorted set until
// their backoff elapses and are then put back on the stream. Entries left
// pending by a crashed consumer are reclaimed once they have been idle long
// enough.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"formpilot/internal/util"
	"formpilot/pkg/domain"
)

// Handler processes one job and returns the object key of its result.
type Handler func(ctx context.Context, job domain.ExportJob) (string, error)

// DefaultJobTTL is how long job records are kept when Config.JobTTL is zero.
const DefaultJobTTL = 24 * time.Hour

// Config tunes an ExportQueue. Zero values take defaults.
type Config struct {
	Client redis.UniversalClient
	// Stream is the stream name; the job records and retry set derive their keys from it.
	Stream   string
	Group    string
	Consumer string

	MaxRetries int
	RetryDelay time.Duration
	MaxBackoff time.Duration
	JobTTL     time.Duration

	Block     time.Duration
	ClaimIdle time.Duration
	Poll      time.Duration
	MaxLen    int64
	Batch     int64
}

func (c Config) withDefaults() Config {
	def := func(v *time.Duration, d time.Duration) {
		if *v <= 0 {
			*v = d
		}
	}
	if c.Stream = strings.TrimSpace(c.Stream); c.Stream == "" {
		c.Stream = "formpilot:exports"
	}
	if c.Group = strings.TrimSpace(c.Group); c.Group == "" {
		c.Group = "exporters"
	}
	if c.Consumer = strings.TrimSpace(c.Consumer); c.Consumer == "" {
		c.Consumer = util.NewID()
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	def(&c.RetryDelay, 2*time.Second)
	def(&c.MaxBackoff, time.Minute)
	def(&c.JobTTL, DefaultJobTTL)
	def(&c.Block, 5*time.Second)
	def(&c.ClaimIdle, time.Minute)
	def(&c.Poll, time.Second)
	if c.MaxLen <= 0 {
		c.MaxLen = 10000
	}
	if c.Batch <= 0 {
		c.Batch = 10
	}
	return c
}

// ExportQueue is a Redis-backed queue of export jobs.
type ExportQueue struct {
	client redis.UniversalClient
	cfg    Config
	group  sync.Once
	wg     sync.WaitGroup
	now    func() time.Time
}

func NewExportQueue(cfg Config) (*ExportQueue, error) {
	if cfg.Client == nil {
		return nil, errors.New("redis client required")
	}
	return &ExportQueue{client: cfg.Client, cfg: cfg.withDefaults(), now: time.Now}, nil
}

// record is the stored form of a job. It keeps the fields the API hides.
type record struct {
	ID        string              `json:"id"`
	FormID    string              `json:"formId"`
	UserID    string              `json:"userId"`
	Status    domain.ExportStatus `json:"status"`
	Error     string              `json:"error,omitempty"`
	Attempts  int                 `json:"attempts"`
	ObjectKey string              `json:"objectKey,omitempty"`
	CreatedAt time.Time           `json:"createdAt"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

func (r record) job() domain.ExportJob {
	return domain.ExportJob{
		ID:           r.ID,
		FormID:       r.FormID,
		UserID:       r.UserID,
		Status:       r.Status,
		ErrorMessage: r.Error,
		Attempts:     r.Attempts,
		ObjectKey:    r.ObjectKey,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func (q *ExportQueue) jobKey(id string) string { return q.cfg.Stream + ":job:" + id }
func (q *ExportQueue) retryKey() string { return q.cfg.Stream + ":retry" }

// Enqueue records a queued job for the form and appends it to the stream.
func (q *ExportQueue) Enqueue(ctx context.Context, formID, userID string) (domain.ExportJob, error) {
	formID = strings.TrimSpace(formID)
	if formID == "" {
		return domain.ExportJob{}, errors.New("formId required")
	}
	now := q.now().UTC()
	rec := record{
		ID:        util.NewID(),
		FormID:    formID,
		UserID:    userID,
		Status:    domain.ExportQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := q.save(ctx, rec); err != nil {
		return domain.ExportJob{}, err
	}
	if err := q.client.XAdd(ctx, q.addArgs(rec.ID)).Err(); err != nil {
		return domain.ExportJob{}, fmt.Errorf("queue export: %w", err)
	}
	return rec.job(), nil
}

// GetJob returns the job with its current status.
func (q *ExportQueue) GetJob(ctx context.Context, jobID string) (domain.ExportJob, bool, error) {
	rec, ok, err := q.load(ctx, strings.TrimSpace(jobID))
	if err != nil || !ok {
		return domain.ExportJob{}, ok, err
	}
	return rec.job(), true, nil
}

// Start runs concurrency consumers and one retry scheduler until ctx is done.
func (q *ExportQueue) Start(ctx context.Context, concurrency int, handler Handler) {
	q.group.Do(func() {
		err := q.client.XGroupCreateMkStream(ctx, q.cfg.Stream, q.cfg.Group, "$").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			util.LoggerFromContext(ctx).Warn("export queue group create failed", "stream", q.cfg.Stream, "err", err)
		}
	})
	for i := 0; i < max(concurrency, 1); i++ {
		q.wg.Add(1)
		go func(consumer string) {
			defer q.wg.Done()
			q.consume(ctx, consumer, handler)
		}(fmt.Sprintf("%s-%d", q.cfg.Consumer, i))
	}
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.scheduleRetries(ctx)
	}()
}

// Wait blocks until every goroutine started by Start has returned. Jobs in
// flight when ctx was cancelled finish their handler first.
func (q *ExportQueue) Wait() {
	q.wg.Wait()
}

func (q *ExportQueue) consume(ctx context.Context, consumer string, handler Handler) {
	logger := util.LoggerFromContext(ctx).With("consumer", consumer)
	for ctx.Err() == nil {
		stale, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   q.cfg.Stream,
			Group:    q.cfg.Group,
			Consumer: consumer,
			MinIdle:  q.cfg.ClaimIdle,
			Start:    "0-0",
			Count:    q.cfg.Batch,
		}).Result()
		if err == nil {
			for _, msg := range stale {
				q.handle(ctx, msg, handler)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.cfg.Group,
			Consumer: consumer,
			Streams:  []string{q.cfg.Stream, ">"},
			Count:    q.cfg.Batch,
			Block:    q.cfg.Block,
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				logger.Warn("export queue read failed", "err", err)
				wait(ctx, q.cfg.RetryDelay)
			}
			continue
		}
		for _, s := range streams {
			for _, msg := range s.Messages {
				q.handle(ctx, msg, handler)
			}
		}
	}
}

func (q *ExportQueue) handle(ctx context.Context, msg redis.XMessage, handler Handler) {
	jobID, _ := msg.Values["job"].(string)
	rec, ok, err := q.load(ctx, jobID)
	if err != nil {
		// Left pending; reclaimed after ClaimIdle.
		return
	}
	if !ok || rec.Status == domain.ExportDone || rec.Status == domain.ExportFailed {
		q.drop(ctx, msg.ID)
		return
	}
	rec.Attempts++
	rec.Status = domain.ExportProcessing
	rec.UpdatedAt = q.now().UTC()
	if err := q.save(ctx, rec); err != nil {
		return
	}

	logger := util.LoggerFromContext(ctx).With("job_id", rec.ID, "form_id", rec.FormID, "attempt", rec.Attempts)
	objectKey, err := handler(ctx, rec.job())
	rec.UpdatedAt = q.now().UTC()
	switch {
	case err == nil:
		rec.Status, rec.Error, rec.ObjectKey = domain.ExportDone, "", objectKey
		logger.Info("export job done", "object_key", objectKey)
	case rec.Attempts >= q.cfg.MaxRetries:
		rec.Status, rec.Error = domain.ExportFailed, err.Error()
		logger.Error("export job failed", "err", err)
	default:
		rec.Status, rec.Error = domain.ExportQueued, err.Error()
		delay := q.backoff(rec.Attempts)
		logger.Warn("export job retry scheduled", "err", err, "delay", delay.String())
		if err := q.save(ctx, rec); err != nil {
			return
		}
		q.deferRetry(ctx, msg.ID, rec.ID, delay)
		return
	}
	if err := q.save(ctx, rec); err != nil {
		logger.Warn("export job status write failed", "err", err)
		return
	}
	q.drop(ctx, msg.ID)
}

// backoff doubles RetryDelay per attempt, capped at MaxBackoff.
func (q *ExportQueue) backoff(attempt int) time.Duration {
	d := q.cfg.RetryDelay
	for i := 1; i < attempt && d < q.cfg.MaxBackoff; i++ {
		d *= 2
	}
	return min(d, q.cfg.MaxBackoff)
}

// deferRetry parks the job in the retry set and retires the stream entry atomically.
func (q *ExportQueue) deferRetry(ctx context.Context, msgID, jobID string, delay time.Duration) {
	due := q.now().Add(delay).UnixMilli()
	pipe := q.client.TxPipeline()
	pipe.ZAdd(ctx, q.retryKey(), redis.Z{Score: float64(due), Member: jobID})
	pipe.XAck(ctx, q.cfg.Stream, q.cfg.Group, msgID)
	pipe.XDel(ctx, q.cfg.Stream, msgID)
	if _, err := pipe.Exec(ctx); err != nil {
		util.LoggerFromContext(ctx).Warn("export retry park failed", "job_id", jobID, "err", err)
	}
}

func (q *ExportQueue) scheduleRetries(ctx context.Context) {
	ticker := time.NewTicker(q.cfg.Poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := q.promoteDue(ctx); err != nil && ctx.Err() == nil {
				util.LoggerFromContext(ctx).Warn("export retry promotion failed", "err", err)
			}
		}
	}
}

// promoteDue moves retries whose backoff has elapsed back onto the stream.
// ZREM decides the winner when several instances promote at once.
func (q *ExportQueue) promoteDue(ctx context.Context) (int, error) {
	due, err := q.client.ZRangeByScore(ctx, q.retryKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprint(q.now().UnixMilli()),
		Count: q.cfg.Batch,
	}).Result()
	if err != nil {
		return 0, err
	}
	promoted := 0
	for _, jobID := range due {
		removed, err := q.client.ZRem(ctx, q.retryKey(), jobID).Result()
		if err != nil {
			return promoted, err
		}
		if removed == 0 {
			continue
		}
		if err := q.client.XAdd(ctx, q.addArgs(jobID)).Err(); err != nil {
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}

func (q *ExportQueue) addArgs(jobID string) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: q.cfg.Stream,
		MaxLen: q.cfg.MaxLen,
		Approx: true,
		Values: map[string]any{"job": jobID},
	}
}

func (q *ExportQueue) drop(ctx context.Context, msgID string) {
	pipe := q.client.Pipeline()
	pipe.XAck(ctx, q.cfg.Stream, q.cfg.Group, msgID)
	pipe.XDel(ctx, q.cfg.Stream, msgID)
	_, _ = pipe.Exec(ctx)
}

func (q *ExportQueue) save(ctx context.Context, rec record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := q.client.Set(ctx, q.jobKey(rec.ID), data, q.cfg.JobTTL).Err(); err != nil {
		return fmt.Errorf("save export job: %w", err)
	}
	return nil
}

func (q *ExportQueue) load(ctx context.Context, jobID string) (record, bool, error) {
	if jobID == "" {
		return record{}, false, nil
	}
	data, err := q.client.Get(ctx, q.jobKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return record{}, false, nil
	}
	if err != nil {
		return record{}, false, fmt.Errorf("load export job: %w", err)
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return record{}, false, fmt.Errorf("decode export job %s: %w", jobID, err)
	}
	return rec, true, nil
}

func wait(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
