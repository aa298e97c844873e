package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	pool "main/internal/domain/entity/pool"
)

// BatchConfig controls batching thresholds for trigger-event ingestion.
type BatchConfig struct {
	Size    int
	Timeout time.Duration
}

// eventBuffer aggregates trigger events until the size threshold or timeout
// is reached, then hands the batch to the reconciler in one call.
type eventBuffer struct {
	cfg     BatchConfig
	mu      sync.Mutex
	events  []pool.TriggerEvent
	timer   *time.Timer
	flushFn func(context.Context, []pool.TriggerEvent) error
	logger  *logrus.Entry
	ctx     context.Context
}

func newEventBuffer(cfg BatchConfig, flushFn func(context.Context, []pool.TriggerEvent) error, logger *logrus.Entry) *eventBuffer {
	return &eventBuffer{
		cfg:     cfg,
		flushFn: flushFn,
		logger:  logger,
	}
}

func (eb *eventBuffer) setContext(ctx context.Context) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	eb.ctx = ctx
}

func (eb *eventBuffer) enqueue(event pool.TriggerEvent) error {
	eb.mu.Lock()
	ctx := eb.ctx
	if ctx == nil {
		eb.mu.Unlock()
		return errors.New("event buffer is not running")
	}
	if err := ctx.Err(); err != nil {
		eb.mu.Unlock()
		return err
	}
	eb.events = append(eb.events, event)
	var batch []pool.TriggerEvent
	limit := eb.cfg.Size
	if limit <= 0 {
		limit = 1
	}
	if len(eb.events) >= limit {
		batch = eb.takeBatchLocked()
	} else if eb.timer == nil && eb.cfg.Timeout > 0 {
		eb.startTimerLocked()
	}
	eb.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	return eb.flushWithContext(ctx, batch)
}

func (eb *eventBuffer) startTimerLocked() {
	timeout := eb.cfg.Timeout
	if timeout <= 0 {
		return
	}
	eb.timer = time.AfterFunc(timeout, func() {
		batch := eb.takeBatch()
		if len(batch) == 0 {
			return
		}
		eb.mu.Lock()
		ctx := eb.ctx
		eb.mu.Unlock()
		if err := eb.flushWithContext(ctx, batch); err != nil && eb.logger != nil {
			eb.logger.WithError(err).Warn("batch flush failed")
		}
	})
}

func (eb *eventBuffer) takeBatch() []pool.TriggerEvent {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	return eb.takeBatchLocked()
}

func (eb *eventBuffer) takeBatchLocked() []pool.TriggerEvent {
	if eb.timer != nil {
		eb.timer.Stop()
		eb.timer = nil
	}
	if len(eb.events) == 0 {
		return nil
	}
	batch := make([]pool.TriggerEvent, len(eb.events))
	copy(batch, eb.events)
	eb.events = eb.events[:0]
	return batch
}

func (eb *eventBuffer) flushWithContext(ctx context.Context, batch []pool.TriggerEvent) error {
	if len(batch) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	if err := eb.flushFn(ctx, batch); err != nil {
		return err
	}
	if eb.logger != nil {
		eb.logger.WithFields(logrus.Fields{
			"size":    len(batch),
			"took_ms": time.Since(start).Milliseconds(),
		}).Debug("flushed trigger batch")
	}
	return nil
}

func (eb *eventBuffer) drain(ctx context.Context) error {
	batch := eb.takeBatch()
	if len(batch) == 0 {
		return nil
	}
	return eb.flushWithContext(ctx, batch)
}
