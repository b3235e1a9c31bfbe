package sync

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"scheduling-sync-service/internal/config"
	"scheduling-sync-service/internal/logger"
	"scheduling-sync-service/internal/provider"
	"scheduling-sync-service/internal/store"
)

// Delivery is one webhook notification from the provider. Deliveries
// arrive at-least-once and out of order; the store's LWW upsert makes
// replays and stale payloads harmless.
type Delivery struct {
	ID         string
	ProjectID  string
	Kind       string
	Event      provider.RemoteEvent
	ReceivedAt time.Time
}

// DeliveryProcessor drains queued webhook deliveries with a small
// worker pool, upserting each through the classifier. Only events of
// actively mapped types are applied; the shared callback URL receives
// deliveries for everything. A full queue drops the delivery; the
// polling backstop reconciles the loss.
type DeliveryProcessor struct {
	store     store.Store
	queue     chan Delivery
	workers   int
	batchSize int
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewDeliveryProcessor(st store.Store, cfg config.SyncConfig) *DeliveryProcessor {
	workers := cfg.DeliveryWorkers
	if workers <= 0 {
		workers = 2
	}
	queueSize := cfg.DeliveryQueueSize
	if queueSize <= 0 {
		queueSize = 256
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &DeliveryProcessor{
		store:     st,
		queue:     make(chan Delivery, queueSize),
		workers:   workers,
		batchSize: 32,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (p *DeliveryProcessor) Start() {
	logger.Log.Info("Starting delivery processor", zap.Int("workers", p.workers))
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
}

func (p *DeliveryProcessor) Stop() {
	p.cancel()
	p.wg.Wait()
	logger.Log.Info("Stopped delivery processor")
}

// Enqueue is non-blocking so the webhook receiver can always answer
// the provider quickly. Returns false when the queue is full.
func (p *DeliveryProcessor) Enqueue(d Delivery) bool {
	select {
	case p.queue <- d:
		return true
	default:
		logger.Log.Warn("Delivery queue full, dropping delivery",
			zap.String("projectID", d.ProjectID),
			zap.String("deliveryID", d.ID),
		)
		return false
	}
}

func (p *DeliveryProcessor) run(id int) {
	defer p.wg.Done()

	var batch []Delivery

	ticker := time.NewTicker(500 * time.Millisecond) // Flush batch every 500ms
	defer ticker.Stop()

	for {
		select {
		case d := <-p.queue:
			batch = append(batch, d)
			if len(batch) >= p.batchSize {
				p.processBatch(id, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				p.processBatch(id, batch)
				batch = batch[:0]
			}

		case <-p.ctx.Done():
			// Drain before the final flush: queued deliveries were
			// already acknowledged with 202 and must not die with us.
			for {
				select {
				case d := <-p.queue:
					batch = append(batch, d)
				default:
					if len(batch) > 0 {
						p.processBatch(id, batch)
					}
					return
				}
			}
		}
	}
}

func (p *DeliveryProcessor) processBatch(workerID int, batch []Delivery) {
	logger.Log.Debug("Processing delivery batch",
		zap.Int("workerID", workerID),
		zap.Int("size", len(batch)),
	)

	tracked := make(map[string]map[string]bool)

	failed := 0
	for _, d := range batch {
		types, ok := tracked[d.ProjectID]
		if !ok {
			var err error
			if types, err = p.trackedTypes(d.ProjectID); err != nil {
				failed++
				logger.Log.Error("Failed to load mappings for delivery",
					zap.Int("workerID", workerID),
					zap.String("projectID", d.ProjectID),
					zap.Error(err),
				)
				continue
			}
			tracked[d.ProjectID] = types
		}
		if !types[d.Event.EventTypeID] {
			logger.Log.Debug("Dropping delivery for untracked event type",
				zap.String("projectID", d.ProjectID),
				zap.String("eventTypeID", d.Event.EventTypeID),
				zap.String("remoteEventID", d.Event.ID),
			)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_, err := p.store.UpsertEvent(ctx, eventRow(d.ProjectID, d.Event, d.ReceivedAt))
		cancel()
		if err != nil {
			failed++
			logger.Log.Error("Failed to apply delivery",
				zap.Int("workerID", workerID),
				zap.String("projectID", d.ProjectID),
				zap.String("remoteEventID", d.Event.ID),
				zap.Error(err),
			)
		}
	}

	if failed > 0 {
		logger.Log.Warn("Delivery batch finished with failures",
			zap.Int("workerID", workerID),
			zap.Int("failed", failed),
			zap.Int("total", len(batch)),
		)
	}
}

func (p *DeliveryProcessor) trackedTypes(projectID string) (map[string]bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mappings, err := p.store.ListActiveMappings(ctx, projectID)
	if err != nil {
		return nil, err
	}
	types := make(map[string]bool, len(mappings))
	for _, m := range mappings {
		types[m.RemoteEventTypeID] = true
	}
	return types, nil
}
