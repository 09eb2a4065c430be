package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/natsumeaurlia/exam-forge-integrations/internal/models"
	"github.com/natsumeaurlia/exam-forge-integrations/internal/provider"
	"github.com/natsumeaurlia/exam-forge-integrations/pkg/jobs"
)

const claimBatchSize = 50

// retrySource claims due retry rows and resolves their owning integration.
type retrySource interface {
	DueRetries(ctx context.Context, now time.Time, limit int) ([]models.WebhookRetry, error)
	IntegrationIDForDelivery(ctx context.Context, deliveryID string) (string, error)
}

type integrationLoader interface {
	FindByID(ctx context.Context, id string) (*models.Integration, error)
}

// managerResolver prefers the live emitter registry; the factory is the
// fallback for integrations not currently registered (e.g. after restart).
type managerResolver interface {
	Manager(id string) (*provider.WebhookManager, bool)
}

// RetryWorker polls the durable retry schedule and re-drives failed
// deliveries through a worker pool. Because the schedule lives in Postgres,
// retries survive process restarts and are claimed at most once across
// instances.
type RetryWorker struct {
	retries      retrySource
	integrations integrationLoader
	registry     managerResolver
	factory      provider.ManagerFactory
	interval     time.Duration
	logger       *zap.Logger

	queue  *jobs.Queue
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// RetryWorkerConfig tunes the polling loop.
type RetryWorkerConfig struct {
	Interval    time.Duration
	Concurrency int
	Logger      *zap.Logger
}

// NewRetryWorker constructs the worker.
func NewRetryWorker(retries retrySource, integrations integrationLoader, registry managerResolver, factory provider.ManagerFactory, cfg RetryWorkerConfig) *RetryWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	w := &RetryWorker{
		retries:      retries,
		integrations: integrations,
		registry:     registry,
		factory:      factory,
		interval:     cfg.Interval,
		logger:       cfg.Logger,
	}
	w.queue = jobs.NewQueue("webhook-retries", w.handle, jobs.QueueConfig{
		Workers: cfg.Concurrency,
		Logger:  cfg.Logger,
	})
	return w
}

// Start launches the queue workers and the polling loop.
func (w *RetryWorker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.queue.Start(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.poll(ctx)
			}
		}
	}()
	w.logger.Info("retry worker started", zap.Duration("interval", w.interval))
}

// Stop halts polling and drains in-flight jobs.
func (w *RetryWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.queue.Stop()
	w.logger.Info("retry worker stopped")
}

func (w *RetryWorker) poll(ctx context.Context) {
	retries, err := w.retries.DueRetries(ctx, time.Now().UTC(), claimBatchSize)
	if err != nil {
		w.logger.Error("failed to claim due retries", zap.Error(err))
		return
	}
	for _, retry := range retries {
		if err := w.queue.Enqueue(jobs.Job{ID: retry.ID, Type: "webhook_retry", Payload: retry}); err != nil {
			w.logger.Warn("failed to enqueue retry", zap.String("retry_id", retry.ID), zap.Error(err))
		}
	}
}

func (w *RetryWorker) handle(ctx context.Context, job jobs.Job) error {
	retry, ok := job.Payload.(models.WebhookRetry)
	if !ok {
		w.logger.Error("unexpected retry payload", zap.String("job_id", job.ID))
		return nil
	}

	manager, err := w.resolve(ctx, retry.DeliveryID)
	if err != nil {
		w.logger.Error("failed to resolve webhook manager for retry",
			zap.String("delivery_id", retry.DeliveryID), zap.Error(err))
		return err
	}
	if manager == nil {
		// Integration was deleted after the retry was scheduled.
		w.logger.Warn("dropping retry for missing integration", zap.String("delivery_id", retry.DeliveryID))
		return nil
	}

	if err := manager.RetryDelivery(ctx, retry.DeliveryID, retry.Attempt); err != nil {
		// The manager has already marked the delivery failed and, when
		// attempts remain, scheduled the next row. Nothing further to do.
		w.logger.Warn("webhook retry failed",
			zap.String("delivery_id", retry.DeliveryID),
			zap.Int("attempt", retry.Attempt),
			zap.Error(err))
	}
	return nil
}

func (w *RetryWorker) resolve(ctx context.Context, deliveryID string) (*provider.WebhookManager, error) {
	integrationID, err := w.retries.IntegrationIDForDelivery(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	if manager, ok := w.registry.Manager(integrationID); ok {
		return manager, nil
	}

	integration, err := w.integrations.FindByID(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	if integration == nil {
		return nil, nil
	}
	return w.factory(integration)
}
