package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gzhole/promptshield/internal/logging"
)

var (
	// ErrQueueFull is returned by Submit when the event was dropped.
	ErrQueueFull = errors.New("audit queue full")
	ErrClosed    = errors.New("audit dispatcher closed")
)

// DefaultQueueSize is used when NewDispatcher is given a non-positive size.
const DefaultQueueSize = 1024

const writeTimeout = 5 * time.Second

// Observer is notified about events that never reached the sink.
type Observer interface {
	AuditDropped()
	AuditFailed()
}

// recorder is implemented by sinks that can store the full event.
type recorder interface {
	Record(ctx context.Context, ev Event) Receipt
}

// Dispatcher moves events to a sink on a single background worker.
type Dispatcher struct {
	sink     Sink
	queue    chan Event
	logger   *zap.Logger
	observer Observer

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewDispatcher starts the worker. logger and observer may be nil.
func NewDispatcher(sink Sink, size int, logger *zap.Logger, observer Observer) *Dispatcher {
	if size <= 0 {
		size = DefaultQueueSize
	}
	d := &Dispatcher{
		sink:     sink,
		queue:    make(chan Event, size),
		logger:   logging.OrNop(logger),
		observer: observer,
		done:     make(chan struct{}),
	}
	go d.run()
	return d
}

// Submit enqueues ev without blocking.
func (d *Dispatcher) Submit(ev Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.queue <- ev:
		return nil
	default:
		d.logger.Warn("audit queue full, dropping event",
			zap.String("agent_id", ev.AgentID), zap.String("action", ev.Action))
		if d.observer != nil {
			d.observer.AuditDropped()
		}
		return ErrQueueFull
	}
}

// Close stops accepting events and waits for the queue to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for ev := range d.queue {
		d.write(ev)
	}
}

func (d *Dispatcher) write(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	var rcpt Receipt
	if r, ok := d.sink.(recorder); ok {
		rcpt = r.Record(ctx, ev)
	} else {
		rcpt = d.sink.LogSecurityEvent(ctx, ev.AgentID, EventType(ev.Action), Severity(ev.RiskScore), EvidenceHash(ev.Evidence))
	}

	if !rcpt.Success {
		d.logger.Warn("audit write failed",
			zap.String("agent_id", ev.AgentID),
			zap.String("request_id", ev.RequestID),
			zap.String("error", rcpt.Error))
		if d.observer != nil {
			d.observer.AuditFailed()
		}
		return
	}
	d.logger.Debug("audit event recorded",
		zap.String("request_id", ev.RequestID), zap.String("tx_hash", rcpt.TxHash))
}
