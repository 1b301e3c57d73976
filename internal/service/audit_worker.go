package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/persistorai/seovault/internal/metrics"
	"github.com/persistorai/seovault/internal/models"
)

const processTimeout = 10 * time.Second

// Appender writes a single audit event.
type Appender interface {
	Append(ctx context.Context, ev models.NewAuditEvent) (int64, error)
}

// AuditWorker buffers audit events that must not delay the caller (such as
// rate limit denials) and writes them from a single goroutine.
type AuditWorker struct {
	appender Appender
	log      *logrus.Logger
	jobs     chan models.NewAuditEvent
}

// NewAuditWorker creates an AuditWorker with the given queue capacity.
func NewAuditWorker(appender Appender, log *logrus.Logger, queueSize int) *AuditWorker {
	if queueSize <= 0 {
		queueSize = 1000
	}
	return &AuditWorker{
		appender: appender,
		log:      log,
		jobs:     make(chan models.NewAuditEvent, queueSize),
	}
}

// Enqueue adds an event. Non-blocking; drops the event if the queue is full.
func (w *AuditWorker) Enqueue(ev models.NewAuditEvent) {
	select {
	case w.jobs <- ev:
		metrics.AuditQueueDepth.Set(float64(len(w.jobs)))
	default:
		metrics.AuditWriteFailures.WithLabelValues(ev.EventType).Inc()
		w.log.WithField("event_type", ev.EventType).Warn("audit queue full, dropping event")
	}
}

// Run processes events until the context is cancelled, then drains the queue.
func (w *AuditWorker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		case ev := <-w.jobs:
			w.process(ev)
		}
	}
}

func (w *AuditWorker) drain() {
	for {
		select {
		case ev := <-w.jobs:
			w.process(ev)
		default:
			return
		}
	}
}

func (w *AuditWorker) process(ev models.NewAuditEvent) {
	metrics.AuditQueueDepth.Set(float64(len(w.jobs)))

	ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
	defer cancel()

	if _, err := w.appender.Append(ctx, ev); err != nil {
		w.log.WithError(err).WithField("event_type", ev.EventType).Warn("audit write failed")
	}
}
