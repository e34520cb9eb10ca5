// Package jobs runs background work through Redis-backed queues. Each
// queue is a list of JSON job payloads with a companion sorted set for
// delayed retries and capped lists for completed/failed history.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/stjgraph/stjrag/metrics"
)

// Queue names.
const (
	QueueResourceProcess = "resource-process"
	QueueDocumentProcess = "document-process"
)

// Per-queue worker concurrency.
var queueConcurrency = map[string]int{
	QueueResourceProcess: 1,
	QueueDocumentProcess: 2,
}

const (
	maxAttempts      = 3
	retryBackoffBase = 5 * time.Second
	keepCompleted    = 100
	keepFailed       = 50
	drainTimeout     = 10 * time.Second
)

// ErrBrokerUnavailable is returned by Enqueue when the broker cannot be
// reached. There is no synchronous fallback.
var ErrBrokerUnavailable = errors.New("jobs: broker unavailable")

// Job is one unit of queued work.
type Job struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Data     json.RawMessage `json:"data"`
	Attempts int             `json:"attempts"`
	Progress int             `json:"progress"`

	queue  string
	runner *Runner
}

// ReportProgress publishes a progress percentage for this job.
func (j *Job) ReportProgress(ctx context.Context, pct int) {
	j.Progress = pct
	j.runner.publishProgress(ctx, j, pct)
}

// Handler processes one job. A returned error triggers the retry policy.
type Handler func(ctx context.Context, job *Job) error

// Runner owns the broker connection and the worker pools.
type Runner struct {
	rdb      *redis.Client
	log      *slog.Logger
	handlers map[string]Handler

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewRunner connects to Redis at the given URL. The connection is shared
// and safe for concurrent use.
func NewRunner(redisURL string, log *slog.Logger) (*Runner, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	return &Runner{
		rdb:      redis.NewClient(opts),
		log:      log.With("component", "jobs"),
		handlers: make(map[string]Handler),
		stop:     make(chan struct{}),
	}, nil
}

// Handle registers the handler for a queue. Must be called before Start.
func (r *Runner) Handle(queue string, h Handler) {
	r.handlers[queue] = h
}

// Healthy reports whether the broker is reachable.
func (r *Runner) Healthy(ctx context.Context) bool {
	return r.rdb.Ping(ctx).Err() == nil
}

func queueKey(queue string) string        { return "jobs:" + queue }
func processingKey(queue string) string   { return "jobs:" + queue + ":processing" }
func delayedKey(queue string) string      { return "jobs:" + queue + ":delayed" }
func completedKey(queue string) string    { return "jobs:" + queue + ":completed" }
func failedKey(queue string) string       { return "jobs:" + queue + ":failed" }
func progressChannel(queue string) string { return "jobs:" + queue + ":progress" }

// Enqueue pushes a job onto a queue and returns its id. When the broker
// is down it returns an empty id with ErrBrokerUnavailable; callers must
// surface an "async processing required" failure, not run inline.
func (r *Runner) Enqueue(ctx context.Context, queue, name string, data any) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshaling job data: %w", err)
	}

	job := Job{
		ID:   uuid.NewString(),
		Name: name,
		Data: raw,
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshaling job: %w", err)
	}

	if err := r.rdb.LPush(ctx, queueKey(queue), payload).Err(); err != nil {
		r.log.Error("enqueue failed", "queue", queue, "job", name, "error", err)
		return "", fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}

	r.log.Info("job enqueued", "queue", queue, "job", name, "id", job.ID)
	return job.ID, nil
}

// Start launches the worker pools and the delayed-job mover. Workers run
// until Stop is called.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true

	for queue, n := range queueConcurrency {
		if _, ok := r.handlers[queue]; !ok {
			continue
		}
		r.requeueOrphans(queue)
		for i := 0; i < n; i++ {
			r.wg.Add(1)
			go r.worker(queue)
		}
		r.wg.Add(1)
		go r.moveDelayed(queue)
	}
	r.log.Info("job runners started")
}

// Stop stops accepting work, waits for in-flight jobs up to the drain
// timeout, then closes the broker connection.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		r.rdb.Close()
		return
	}
	r.mu.Unlock()

	close(r.stop)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.log.Info("job runners drained")
	case <-time.After(drainTimeout):
		r.log.Warn("drain timeout exceeded, forcing shutdown")
	}

	r.rdb.Close()
}

// worker pops and runs jobs from one queue until stopped.
func (r *Runner) worker(queue string) {
	defer r.wg.Done()
	handler := r.handlers[queue]

	for {
		select {
		case <-r.stop:
			return
		default:
		}

		// Atomically move the job onto the processing list so a crash
		// between pop and the terminal record cannot lose it. Short poll
		// timeout keeps shutdown responsive.
		payload, err := r.rdb.BLMove(context.Background(), queueKey(queue), processingKey(queue),
			"RIGHT", "LEFT", 2*time.Second).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				r.log.Warn("queue pop failed", "queue", queue, "error", err)
				select {
				case <-r.stop:
					return
				case <-time.After(time.Second):
				}
			}
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			r.log.Error("discarding malformed job payload", "queue", queue, "error", err)
			r.clearProcessing(queue, payload)
			continue
		}
		job.queue = queue
		job.runner = r

		r.runJob(queue, &job, handler)
		r.clearProcessing(queue, payload)
	}
}

// clearProcessing removes a job payload from the processing list once a
// terminal record or retry entry has been written.
func (r *Runner) clearProcessing(queue, payload string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.rdb.LRem(ctx, processingKey(queue), 1, payload).Err(); err != nil {
		r.log.Warn("clearing in-flight job failed", "queue", queue, "error", err)
	}
}

// listMover is the slice of the Redis client the orphan sweep needs.
type listMover interface {
	LMove(ctx context.Context, source, destination, srcpos, destpos string) *redis.StringCmd
}

// requeueOrphans returns jobs stranded on the processing list by a
// previous crash back onto their queue.
func (r *Runner) requeueOrphans(queue string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	moved, err := drainProcessing(ctx, r.rdb, queue)
	if err != nil {
		r.log.Warn("requeueing orphaned jobs failed", "queue", queue, "error", err)
	}
	if moved > 0 {
		r.log.Info("requeued orphaned jobs", "queue", queue, "count", moved)
	}
}

func drainProcessing(ctx context.Context, c listMover, queue string) (int, error) {
	moved := 0
	for {
		_, err := c.LMove(ctx, processingKey(queue), queueKey(queue), "RIGHT", "LEFT").Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return moved, nil
			}
			return moved, err
		}
		moved++
	}
}

func (r *Runner) runJob(queue string, job *Job, handler Handler) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel the in-flight job when shutdown begins so the handler can
	// stop at its next I/O boundary.
	go func() {
		select {
		case <-r.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	job.Attempts++
	start := time.Now()
	err := handler(ctx, job)
	if err == nil {
		metrics.JobsProcessed.WithLabelValues(queue, "completed").Inc()
		r.record(queue, completedKey(queue), job, "")
		r.log.Info("job completed", "queue", queue, "job", job.Name, "id", job.ID,
			"attempt", job.Attempts, "duration_ms", time.Since(start).Milliseconds())
		return
	}

	if ctx.Err() != nil {
		err = fmt.Errorf("cancelled during shutdown: %w", err)
	}

	if job.Attempts < maxAttempts {
		delay := retryBackoffBase * time.Duration(1<<(job.Attempts-1))
		r.log.Warn("job failed, scheduling retry", "queue", queue, "job", job.Name,
			"id", job.ID, "attempt", job.Attempts, "delay", delay, "error", err)
		r.scheduleRetry(queue, job, delay)
		return
	}

	metrics.JobsProcessed.WithLabelValues(queue, "failed").Inc()
	r.record(queue, failedKey(queue), job, err.Error())
	r.log.Error("job failed permanently", "queue", queue, "job", job.Name,
		"id", job.ID, "attempts", job.Attempts, "error", err)
}

// scheduleRetry parks the job in the delayed set until its backoff
// expires.
func (r *Runner) scheduleRetry(queue string, job *Job, delay time.Duration) {
	payload, err := json.Marshal(job)
	if err != nil {
		r.log.Error("marshaling retry payload", "id", job.ID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	readyAt := float64(time.Now().Add(delay).UnixMilli())
	if err := r.rdb.ZAdd(ctx, delayedKey(queue), redis.Z{Score: readyAt, Member: payload}).Err(); err != nil {
		r.log.Error("scheduling retry failed", "id", job.ID, "error", err)
	}
}

// moveDelayed promotes due retries back onto the queue once per second.
func (r *Runner) moveDelayed(queue string) {
	defer r.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		now := fmt.Sprintf("%d", time.Now().UnixMilli())
		due, err := r.rdb.ZRangeByScore(ctx, delayedKey(queue), &redis.ZRangeBy{
			Min: "-inf", Max: now,
		}).Result()
		if err != nil {
			cancel()
			continue
		}

		for _, payload := range due {
			pipe := r.rdb.TxPipeline()
			pipe.ZRem(ctx, delayedKey(queue), payload)
			pipe.LPush(ctx, queueKey(queue), payload)
			if _, err := pipe.Exec(ctx); err != nil {
				r.log.Warn("promoting delayed job failed", "queue", queue, "error", err)
			}
		}
		cancel()
	}
}

// record appends a terminal job entry to a capped history list.
func (r *Runner) record(queue, key string, job *Job, errMsg string) {
	entry, err := json.Marshal(map[string]any{
		"id":       job.ID,
		"name":     job.Name,
		"attempts": job.Attempts,
		"error":    errMsg,
		"at":       time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}

	keep := keepCompleted
	if key == failedKey(queue) {
		keep = keepFailed
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pipe := r.rdb.TxPipeline()
	pipe.LPush(ctx, key, entry)
	pipe.LTrim(ctx, key, 0, int64(keep-1))
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.Warn("recording job history failed", "queue", queue, "error", err)
	}
}

// publishProgress emits a progress event on the queue's pub/sub channel.
func (r *Runner) publishProgress(ctx context.Context, job *Job, pct int) {
	event, err := json.Marshal(map[string]any{
		"id":       job.ID,
		"name":     job.Name,
		"progress": pct,
	})
	if err != nil {
		return
	}
	if err := r.rdb.Publish(ctx, progressChannel(job.queue), event).Err(); err != nil {
		r.log.Debug("progress publish failed", "id", job.ID, "error", err)
	}
}

// RetryBackoff exposes the retry delay for a given attempt. Attempt 1 is
// the first failure.
func RetryBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return retryBackoffBase * time.Duration(1<<(attempt-1))
}
