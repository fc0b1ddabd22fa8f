package worker

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-pkgz/pool"
	"github.com/rs/zerolog"
)

// Processor handles one job. *Handler is the production implementation.
type Processor interface {
	Process(ctx context.Context, msg *Message) error
}

// PoolConfig holds worker pool configuration.
type PoolConfig struct {
	Workers        int
	BatchSize      int
	WorkerChanSize int
	JobTimeout     time.Duration
	MaxRetries     int
	RetryBase      time.Duration // backoff is RetryBase * 2^retries plus jitter
}

// DefaultPoolConfig returns default pool configuration.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		Workers:        8,
		BatchSize:      1,
		WorkerChanSize: 100,
		JobTimeout:     2 * time.Minute, // oracle call plus provider round trips
		MaxRetries:     3,
		RetryBase:      time.Second,
	}
}

// PoolMetrics holds pool counters.
type PoolMetrics struct {
	JobsProcessed  int64
	JobsFailed     int64
	JobsRetried    int64
	AvgProcessTime int64 // milliseconds
	QueueSize      int32
}

// Pool runs jobs on a go-pkgz/pool worker group with per-job timeout and
// retry with exponential backoff. Jobs that exhaust retries, or are still
// waiting on a retry at shutdown, are left unsettled for their source to
// redeliver.
type Pool struct {
	handler Processor
	config  *PoolConfig

	pool *pool.WorkerGroup[*Message]

	ctx    context.Context
	cancel context.CancelFunc

	metrics *PoolMetrics
	log     zerolog.Logger

	retries sync.WaitGroup
	started bool
	mu      sync.Mutex
}

type messageWorker struct {
	pool *Pool
}

// Do implements pool.Worker.
func (w *messageWorker) Do(ctx context.Context, msg *Message) error {
	return w.pool.processJob(ctx, msg)
}

func NewPool(handler Processor, config *PoolConfig, log zerolog.Logger) *Pool {
	defaults := DefaultPoolConfig()
	if config == nil {
		config = defaults
	}
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.WorkerChanSize <= 0 {
		config.WorkerChanSize = defaults.WorkerChanSize
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = defaults.JobTimeout
	}
	if config.RetryBase <= 0 {
		config.RetryBase = defaults.RetryBase
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		handler: handler,
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
		metrics: &PoolMetrics{},
		log:     log.With().Str("component", "worker_pool").Logger(),
	}
}

// Start starts the worker group.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil
	}

	p.pool = pool.New[*Message](p.config.Workers, &messageWorker{pool: p}).
		WithBatchSize(p.config.BatchSize).
		WithWorkerChanSize(p.config.WorkerChanSize).
		WithContinueOnError()

	if err := p.pool.Go(p.ctx); err != nil {
		p.log.Error().Err(err).Msg("failed to start pool")
		return err
	}
	p.started = true

	p.log.Info().
		Int("workers", p.config.Workers).
		Int("batch_size", p.config.BatchSize).
		Msg("worker pool started")
	return nil
}

// Stop drains submitted jobs and stops the workers.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	wg := p.pool
	p.mu.Unlock()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer closeCancel()

	if err := wg.Close(closeCtx); err != nil {
		p.log.Warn().Err(err).Msg("error closing pool")
	}
	p.cancel()
	p.retries.Wait()

	p.log.Info().
		Int64("processed", atomic.LoadInt64(&p.metrics.JobsProcessed)).
		Int64("failed", atomic.LoadInt64(&p.metrics.JobsFailed)).
		Msg("worker pool stopped")
}

// Submit queues a job. It returns false when the pool is not running.
func (p *Pool) Submit(msg *Message) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started || p.pool == nil {
		return false
	}

	atomic.AddInt32(&p.metrics.QueueSize, 1)
	p.pool.Submit(msg)
	return true
}

func (p *Pool) processJob(ctx context.Context, msg *Message) error {
	start := time.Now()
	defer atomic.AddInt32(&p.metrics.QueueSize, -1)

	jobCtx, cancel := context.WithTimeout(ctx, p.config.JobTimeout)
	defer cancel()

	err := p.handler.Process(jobCtx, msg)
	p.updateAvgProcessTime(time.Since(start).Milliseconds())

	if err == nil {
		atomic.AddInt64(&p.metrics.JobsProcessed, 1)
		msg.settle()
		return nil
	}

	log := p.log.With().
		Str("job_id", msg.ID).
		Str("job_type", msg.Type).
		Int("retries", msg.Retries).
		Logger()

	if IsPermanent(err) {
		atomic.AddInt64(&p.metrics.JobsFailed, 1)
		log.Error().Err(err).Interface("payload", msg.Payload).Msg("job permanently failed")
		msg.settle()
		return err
	}
	if msg.Retries >= p.config.MaxRetries {
		atomic.AddInt64(&p.metrics.JobsFailed, 1)
		log.Error().Err(err).Msg("job exhausted retries, left for redelivery")
		return err
	}

	msg.Retries++
	atomic.AddInt64(&p.metrics.JobsRetried, 1)
	backoff := p.config.RetryBase*time.Duration(1<<msg.Retries) +
		time.Duration(rand.Int63n(int64(p.config.RetryBase)/2+1))
	log.Warn().Err(err).Dur("backoff", backoff).Msg("job failed, retrying")

	p.retries.Add(1)
	go func() {
		defer p.retries.Done()
		select {
		case <-p.ctx.Done():
			atomic.AddInt64(&p.metrics.JobsFailed, 1)
			log.Warn().Msg("retry abandoned at shutdown, left for redelivery")
		case <-time.After(backoff):
			if !p.Submit(msg) {
				atomic.AddInt64(&p.metrics.JobsFailed, 1)
			}
		}
	}()
	return err
}

func (p *Pool) updateAvgProcessTime(elapsed int64) {
	current := atomic.LoadInt64(&p.metrics.AvgProcessTime)
	if current == 0 {
		atomic.StoreInt64(&p.metrics.AvgProcessTime, elapsed)
		return
	}
	atomic.StoreInt64(&p.metrics.AvgProcessTime, (current*9+elapsed)/10)
}

// GetMetrics returns a snapshot of the pool counters.
func (p *Pool) GetMetrics() PoolMetrics {
	return PoolMetrics{
		JobsProcessed:  atomic.LoadInt64(&p.metrics.JobsProcessed),
		JobsFailed:     atomic.LoadInt64(&p.metrics.JobsFailed),
		JobsRetried:    atomic.LoadInt64(&p.metrics.JobsRetried),
		AvgProcessTime: atomic.LoadInt64(&p.metrics.AvgProcessTime),
		QueueSize:      atomic.LoadInt32(&p.metrics.QueueSize),
	}
}
