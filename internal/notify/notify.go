// Package notify delivers short user-facing messages without blocking the
// caller. Messages are queued and handed to a Backend on a background
// goroutine; when the queue is full new messages are dropped.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultQueueSize bounds the number of undelivered messages.
const DefaultQueueSize = 32

// Message is one notification.
type Message struct {
	Title string
	Body  string
	Time  time.Time
}

// Backend shows a message to the user.
type Backend interface {
	Send(ctx context.Context, m Message) error
	Close() error
}

// Notifier is satisfied by Dispatcher and Nop.
type Notifier interface {
	Notify(title, body string)
}

// Nop discards every message.
type Nop struct{}

func (Nop) Notify(string, string) {}

// Dispatcher queues messages for a Backend.
type Dispatcher struct {
	backend Backend
	log     *slog.Logger
	timeout time.Duration

	queue   chan Message
	dropped atomic.Uint64
	failed  atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
}

// Options tune a Dispatcher.
type Options struct {
	QueueSize int
	// Timeout bounds each Backend.Send call.
	Timeout time.Duration
	Logger  *slog.Logger
}

// NewDispatcher starts delivering to backend.
func NewDispatcher(backend Backend, opts Options) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	d := &Dispatcher{
		backend: backend,
		log:     opts.Logger.With(slog.String("component", "notify")),
		timeout: opts.Timeout,
		queue:   make(chan Message, opts.QueueSize),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Notify queues a message. It never blocks; a full queue drops the message.
func (d *Dispatcher) Notify(title, body string) {
	m := Message{Title: title, Body: body, Time: time.Now()}
	defer func() {
		// queue closed by Close
		if recover() != nil {
			d.dropped.Add(1)
		}
	}()
	select {
	case d.queue <- m:
	default:
		d.dropped.Add(1)
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for m := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := d.backend.Send(ctx, m); err != nil {
			d.failed.Add(1)
			d.log.Debug("notification failed", "title", m.Title, "error", err)
		}
		cancel()
	}
}

// Dropped returns how many messages were discarded because the queue was
// full or closed.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Failed returns how many deliveries the backend rejected.
func (d *Dispatcher) Failed() uint64 {
	return d.failed.Load()
}

// Close delivers what is queued, then closes the backend.
func (d *Dispatcher) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.queue)
		<-d.done
		err = d.backend.Close()
	})
	return err
}

// LogBackend writes messages to a logger. It is the fallback when no
// desktop notification service is reachable.
type LogBackend struct {
	Logger *slog.Logger
}

func (b LogBackend) Send(_ context.Context, m Message) error {
	b.Logger.Info(m.Body, "title", m.Title)
	return nil
}

func (LogBackend) Close() error { return nil }
