package api

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

// ExporterConfig sizes the event export worker pool.
type ExporterConfig struct {
	Workers        int
	Buffer         int
	Timeout        time.Duration
	HandoffTimeout time.Duration
}

func (c ExporterConfig) withDefaults() ExporterConfig {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.Buffer <= 0 {
		c.Buffer = 1024
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.HandoffTimeout < 0 {
		c.HandoffTimeout = 0
	}
	return c
}

// EventExporter hands confirmed mutation events to a sink on background
// workers. A saturated pool drops events instead of stalling requests.
type EventExporter struct {
	sink   EventSink
	logger *log.Logger
	cfg    ExporterConfig

	mu     sync.RWMutex
	jobs   chan domain.Event
	closed bool
	wg     sync.WaitGroup
}

// NewEventExporter starts the worker pool.
func NewEventExporter(sink EventSink, logger *log.Logger, cfg ExporterConfig) *EventExporter {
	if sink == nil {
		panic("api.NewEventExporter: sink is nil")
	}
	if logger == nil {
		panic("api.NewEventExporter: logger is nil")
	}
	cfg = cfg.withDefaults()
	x := &EventExporter{
		sink:   sink,
		logger: logger,
		cfg:    cfg,
		jobs:   make(chan domain.Event, cfg.Buffer),
	}
	for i := 0; i < cfg.Workers; i++ {
		x.wg.Add(1)
		go x.worker(i)
	}
	logger.Infof("event exporter started, workers: %d, buffer: %d, timeout: %v, handoff: %v", cfg.Workers, cfg.Buffer, cfg.Timeout, cfg.HandoffTimeout)
	return x
}

func (x *EventExporter) worker(id int) {
	defer x.wg.Done()
	for ev := range x.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), x.cfg.Timeout)
		err := x.sink.ExportEvent(ctx, ev)
		cancel()
		if err != nil {
			x.logger.WithFields(log.Fields{
				"worker":  id,
				"kind":    ev.Kind,
				"task_id": ev.ID(),
				"version": ev.Version,
			}).WithError(err).Error("event export failed")
		}
	}
}

// Submit queues ev for export. It waits at most HandoffTimeout for buffer
// capacity and reports whether the event was accepted.
func (x *EventExporter) Submit(ev domain.Event) bool {
	if x == nil {
		return false
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return false
	}

	select {
	case x.jobs <- ev:
		return true
	default:
	}

	if x.cfg.HandoffTimeout <= 0 {
		x.logger.WithField("task_id", ev.ID()).Warn("export buffer saturated; event dropped")
		return false
	}

	timer := time.NewTimer(x.cfg.HandoffTimeout)
	defer timer.Stop()
	select {
	case x.jobs <- ev:
		return true
	case <-timer.C:
		x.logger.WithField("task_id", ev.ID()).Warn("export buffer saturated; event dropped")
		return false
	}
}

// Stop refuses new events, drains the buffer and waits for the workers.
func (x *EventExporter) Stop() {
	x.mu.Lock()
	if x.closed {
		x.mu.Unlock()
		return
	}
	x.closed = true
	close(x.jobs)
	x.mu.Unlock()

	x.wg.Wait()
}
