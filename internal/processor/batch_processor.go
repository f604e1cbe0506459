package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"propwatch/server/config"
	"propwatch/server/internal/database"
	"propwatch/server/internal/models"
	"propwatch/server/internal/queue"
)

// ListingSaver persists one batch of listings.
type ListingSaver interface {
	SaveProperties(properties []*models.Property) error
}

// BatchProcessor drains the ingest queue and persists listing batches,
// retrying transient storage failures.
type BatchProcessor struct {
	saver     ListingSaver
	logger    *logrus.Logger
	config    *config.Config
	queue     *queue.ListingQueue
	jobs      chan []*models.Property
	waitGroup sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewBatchProcessor creates a processor reading from the given queue.
func NewBatchProcessor(saver ListingSaver, q *queue.ListingQueue, cfg *config.Config, logger *logrus.Logger) *BatchProcessor {
	ctx, cancel := context.WithCancel(context.Background())
	return &BatchProcessor{
		saver:  saver,
		queue:  q,
		config: cfg,
		logger: logger,
		jobs:   make(chan []*models.Property),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the queue and launches the worker pool.
func (p *BatchProcessor) Start() {
	for i := 0; i < p.config.BatchProcessing.ProcessorCount; i++ {
		p.waitGroup.Add(1)
		go p.work()
	}

	p.queue.Subscribe(func(batch []*models.Property) error {
		select {
		case p.jobs <- batch:
			return nil
		case <-p.ctx.Done():
			return p.ctx.Err()
		}
	})
}

// Stop shuts down the workers and waits for in-flight batches.
func (p *BatchProcessor) Stop() {
	p.cancel()
	p.waitGroup.Wait()
}

func (p *BatchProcessor) work() {
	defer p.waitGroup.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case batch := <-p.jobs:
			if err := p.ProcessBatch(batch); err != nil {
				p.logger.WithError(err).WithField("batch_size", len(batch)).
					Error("Dropping listing batch")
			}
		}
	}
}

// ProcessBatch persists one batch. Only retryable storage errors (a busy or
// locked database) are retried; validation and conflict errors fail fast.
func (p *BatchProcessor) ProcessBatch(batch []*models.Property) error {
	var err error
	for attempt := 0; attempt <= p.config.BatchProcessing.MaxRetries; attempt++ {
		if attempt > 0 {
			p.logger.WithFields(logrus.Fields{
				"attempt":     attempt,
				"max_retries": p.config.BatchProcessing.MaxRetries,
			}).Info("Retrying listing batch")

			select {
			case <-p.ctx.Done():
				return p.ctx.Err()
			case <-time.After(p.config.BatchProcessing.RetryDelay):
			}
		}

		err = p.saver.SaveProperties(batch)
		if err == nil {
			p.logger.WithField("batch_size", len(batch)).Info("Persisted listing batch")
			return nil
		}
		if !database.IsRetryable(err) {
			return fmt.Errorf("failed to persist batch: %w", err)
		}
		p.logger.WithError(err).Warn("Transient failure persisting listing batch")
	}

	return fmt.Errorf("failed to persist batch after %d retries: %w",
		p.config.BatchProcessing.MaxRetries, err)
}
