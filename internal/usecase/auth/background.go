package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultTaskTimeout bounds a single background task.
const DefaultTaskTimeout = 10 * time.Second

// Background runs fire-and-forget side effects such as audit writes and
// email delivery. Tasks are detached from the caller's cancellation, have
// their own timeout, and only ever log their failures.
type Background struct {
	logger  *slog.Logger
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewBackground constructs a runner. A zero timeout uses DefaultTaskTimeout.
func NewBackground(logger *slog.Logger, timeout time.Duration) *Background {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}
	return &Background{logger: logger, timeout: timeout}
}

// Go schedules fn. Values from ctx stay visible to fn but its cancellation
// does not propagate. Tasks submitted after Wait has been called are dropped.
func (b *Background) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.logger.Warn("background task dropped after shutdown", "task", name)
		return
	}
	b.wg.Add(1)
	b.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	go func() {
		defer b.wg.Done()
		taskCtx, cancel := context.WithTimeout(detached, b.timeout)
		defer cancel()

		if err := b.run(taskCtx, fn); err != nil {
			b.logger.Warn("background task failed", "task", name, "error", err)
		}
	}()
}

func (b *Background) run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

// Wait stops accepting new tasks and blocks until in-flight ones finish or
// ctx is done.
func (b *Background) Wait(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
