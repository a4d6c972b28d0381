// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package notify delivers passcodes off the request path. Delivery is best
// effort: failures are logged and never reach the caller that issued the code.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/oliverandrich/otpgate/internal/config"
	"codeberg.org/oliverandrich/otpgate/internal/i18n"
	"golang.org/x/text/language"
)

// Sender delivers one passcode to one recipient.
type Sender interface {
	SendOTP(ctx context.Context, email, code string) error
}

type message struct {
	email  string
	code   string
	locale string
}

// Queue buffers outgoing passcodes and hands them to a pool of workers.
type Queue struct {
	sender  Sender
	jobs    chan message
	workers int
	timeout time.Duration

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Int64
	sent    atomic.Int64
	failed  atomic.Int64
}

// NewQueue creates a queue in front of sender. Call Start before Dispatch.
func NewQueue(sender Sender, cfg config.NotifyConfig) *Queue {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 64
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Queue{
		sender:  sender,
		jobs:    make(chan message, size),
		workers: workers,
		timeout: timeout,
	}
}

// Start launches the workers. They run until Stop is called.
func (q *Queue) Start() {
	for range q.workers {
		q.wg.Add(1)
		go q.work()
	}
}

// Dispatch enqueues a passcode without blocking. When the buffer is full or
// the queue is stopped the message is dropped. Only the locale is taken from
// ctx; delivery outlives the request.
func (q *Queue) Dispatch(ctx context.Context, email, code string) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.dropped.Add(1)
		slog.Warn("otp_delivery_dropped", "email", email, "reason", "queue_stopped")
		return
	}

	select {
	case q.jobs <- message{email: email, code: code, locale: i18n.GetLocale(ctx)}:
	default:
		q.dropped.Add(1)
		slog.Warn("otp_delivery_dropped", "email", email, "reason", "queue_full")
	}
}

// Stop refuses new messages, then waits for queued ones to drain or for ctx
// to end, whichever comes first.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the delivered, failed and dropped counts.
func (q *Queue) Stats() (sent, failed, dropped int64) {
	return q.sent.Load(), q.failed.Load(), q.dropped.Load()
}

func (q *Queue) work() {
	defer q.wg.Done()
	for msg := range q.jobs {
		q.deliver(msg)
	}
}

func (q *Queue) deliver(msg message) {
	defer func() {
		if r := recover(); r != nil {
			q.failed.Add(1)
			slog.Error("otp_delivery_panic", "email", msg.email, "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()
	ctx = i18n.WithLocale(ctx, language.Make(msg.locale))

	if err := q.sender.SendOTP(ctx, msg.email, msg.code); err != nil {
		q.failed.Add(1)
		slog.Error("otp_delivery_failed", "email", msg.email, "error", err)
		return
	}
	q.sent.Add(1)
	slog.Debug("otp_delivered", "email", msg.email)
}
