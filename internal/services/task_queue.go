package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/huangang/trackmirror/internal/config"
	"github.com/huangang/trackmirror/pkg/logger"
)

const (
	TaskTypeMirrorSync = "mirror:sync"
)

// SyncTask asks for one Pull-then-Push run of a mirror.
type SyncTask struct {
	MirrorID uint   `json:"mirror_id"`
	Trigger  string `json:"trigger"` // schedule, manual, cli
}

// TaskQueue hands mirror runs to whatever executes them.
type TaskQueue interface {
	// Enqueue adds a task to the queue
	Enqueue(task *SyncTask) error
	// IsAsync returns true if queue processes tasks asynchronously
	IsAsync() bool
	// Close gracefully shuts down the queue
	Close() error
}

var (
	globalTaskQueue TaskQueue
	taskQueueOnce   sync.Once
)

// InitTaskQueue initializes the global task queue based on config
func InitTaskQueue(cfg *config.Config) TaskQueue {
	taskQueueOnce.Do(func() {
		if cfg.Redis.Enabled {
			queue, err := NewAsyncQueue(&cfg.Redis, cfg.Sync.LockTTL())
			if err != nil {
				logger.Warnf("[TaskQueue] Redis unavailable, falling back to sync mode: %v", err)
				globalTaskQueue = NewSyncQueue(cfg.Sync.Concurrency)
			} else {
				logger.Infof("[TaskQueue] Async queue initialized with Redis at %s", cfg.Redis.Addr)
				globalTaskQueue = queue
			}
		} else {
			logger.Infof("[TaskQueue] Sync queue initialized (Redis disabled)")
			globalTaskQueue = NewSyncQueue(cfg.Sync.Concurrency)
		}
	})
	return globalTaskQueue
}

// GetTaskQueue returns the global task queue instance
func GetTaskQueue() TaskQueue {
	return globalTaskQueue
}

// AsyncQueue implements TaskQueue using asynq (Redis-based)
type AsyncQueue struct {
	client    *asynq.Client
	uniqueTTL time.Duration
}

// NewAsyncQueue creates a Redis-based queue. A mirror already waiting in the
// queue is not enqueued again until uniqueTTL passes.
func NewAsyncQueue(cfg *config.RedisConfig, uniqueTTL time.Duration) (*AsyncQueue, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	client := asynq.NewClient(redisOpt)

	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()

	if _, err := inspector.Queues(); err != nil {
		client.Close()
		return nil, err
	}

	return &AsyncQueue{client: client, uniqueTTL: uniqueTTL}, nil
}

// Enqueue adds a mirror run to the async queue
func (q *AsyncQueue) Enqueue(task *SyncTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}

	// Runs are not retried: the next scheduled run resumes from the watermarks.
	t := asynq.NewTask(TaskTypeMirrorSync, payload)
	info, err := q.client.Enqueue(t,
		asynq.Queue("default"),
		asynq.MaxRetry(0),
		asynq.Unique(q.uniqueTTL),
	)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		logger.Infof("[AsyncQueue] Mirror %d already queued", task.MirrorID)
		return nil
	}
	if err != nil {
		return err
	}

	logger.Infof("[AsyncQueue] Task enqueued: id=%s, queue=%s, mirror=%d", info.ID, info.Queue, task.MirrorID)
	return nil
}

// IsAsync returns true for async queue
func (q *AsyncQueue) IsAsync() bool {
	return true
}

// Close closes the async queue client
func (q *AsyncQueue) Close() error {
	return q.client.Close()
}

// SyncQueue runs tasks in-process on a bounded number of goroutines (no Redis).
type SyncQueue struct {
	processor func(context.Context, *SyncTask) error
	slots     chan struct{}
	wg        sync.WaitGroup
}

// NewSyncQueue creates an in-process queue running at most concurrency mirrors at once.
func NewSyncQueue(concurrency int) *SyncQueue {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &SyncQueue{slots: make(chan struct{}, concurrency)}
}

// SetProcessor sets the function to process tasks
func (q *SyncQueue) SetProcessor(processor func(context.Context, *SyncTask) error) {
	q.processor = processor
}

// Enqueue starts the task in the background and returns immediately.
func (q *SyncQueue) Enqueue(task *SyncTask) error {
	if q.processor == nil {
		logger.Warnf("[SyncQueue] no processor set, task for mirror %d dropped", task.MirrorID)
		return nil
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.slots <- struct{}{}
		defer func() { <-q.slots }()

		if err := q.processor(context.Background(), task); err != nil {
			logger.Errorf("[SyncQueue] Mirror %d run failed: %v", task.MirrorID, err)
		}
	}()

	return nil
}

// Wait blocks until every enqueued task has finished.
func (q *SyncQueue) Wait() {
	q.wg.Wait()
}

// IsAsync returns false for sync queue
func (q *SyncQueue) IsAsync() bool {
	return false
}

// Close waits for running tasks.
func (q *SyncQueue) Close() error {
	q.wg.Wait()
	return nil
}
