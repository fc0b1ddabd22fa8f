package bootstrap

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"rule_server/adapter/in/worker"
	"rule_server/config"
	"rule_server/internal/stream"
	"rule_server/pkg/logger"
)

// Worker consumes rules.run jobs from the stream and runs them on a pool.
type Worker struct {
	pool     *worker.Pool
	consumer *stream.Consumer
	deps     *Dependencies

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	zlog   zerolog.Logger
}

func NewWorker(ctx context.Context, cfg *config.Config) (*Worker, func(), error) {
	deps, cleanup, err := NewDependencies(ctx, cfg)
	if err != nil {
		logger.WithError(err).Error("failed to initialize dependencies")
		return nil, nil, err
	}
	return NewWorkerWithDeps(cfg, deps), cleanup, nil
}

// NewWorkerWithDeps builds a worker over existing dependencies, so api and
// worker can share connections in "all" mode.
func NewWorkerWithDeps(cfg *config.Config, deps *Dependencies) *Worker {
	zlog := logger.Default().Zerolog()

	pool := worker.NewPool(worker.NewHandler(deps.Runner), &worker.PoolConfig{
		Workers:    cfg.WorkerConcurrency,
		JobTimeout: cfg.JobTimeout(),
		MaxRetries: cfg.JobMaxRetries,
	}, zlog)

	ctx, cancel := context.WithCancel(context.Background())

	return &Worker{
		pool:     pool,
		consumer: stream.NewConsumer(deps.Stream, pool, cfg.WorkerID),
		deps:     deps,
		ctx:      ctx,
		cancel:   cancel,
		zlog:     zlog,
	}
}

// Start runs the pool and the stream consumer until Stop is called.
func (w *Worker) Start() error {
	if err := w.pool.Start(); err != nil {
		return err
	}

	if err := w.consumer.Start(w.ctx); err != nil {
		w.pool.Stop()
		return err
	}
	w.zlog.Info().Msg("rule worker started")

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.consumer.Wait()
	}()

	<-w.ctx.Done()
	return nil
}

// Stop stops reading new jobs, then drains the pool.
func (w *Worker) Stop() {
	w.cancel()
	w.wg.Wait()
	w.pool.Stop()

	m := w.pool.GetMetrics()
	w.zlog.Info().
		Int64("processed", m.JobsProcessed).
		Int64("failed", m.JobsFailed).
		Int64("retried", m.JobsRetried).
		Msg("rule worker stopped")
}

func (w *Worker) GetMetrics() worker.PoolMetrics {
	return w.pool.GetMetrics()
}
