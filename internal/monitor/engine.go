package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrEngineStarted is returned by Add once the engine is running.
var ErrEngineStarted = errors.New("engine already started")

// Engine runs one Loop per source, each on its own goroutine, and is the
// control surface for starting, stopping and inspecting them.
type Engine struct {
	logger *slog.Logger

	mu      sync.Mutex
	loops   []*Loop
	cancel  context.CancelFunc
	started bool
	wg      sync.WaitGroup
}

func NewEngine(logger *slog.Logger) *Engine {
	return &Engine{logger: logger.With("component", "engine")}
}

// Add registers a loop. Loops must be added before Start.
func (e *Engine) Add(l *Loop) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return ErrEngineStarted
	}
	e.loops = append(e.loops, l)
	e.logger.Info("registered loop", "source", l.Source())
	return nil
}

// Start launches every registered loop. Calling Start twice is a no-op.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true

	ctx, e.cancel = context.WithCancel(ctx)
	for _, l := range e.loops {
		e.wg.Add(1)
		go func(l *Loop) {
			defer e.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("loop exited on panic", "source", l.Source(), "panic", r)
				}
			}()
			l.Run(ctx)
		}(l)
	}
	e.logger.Info("engine started", "loops", len(e.loops))
}

// RequestStop asks every loop to stop at its next sleep boundary. It does
// not wait; use Wait for that.
func (e *Engine) RequestStop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.logger.Info("stop requested")
		e.cancel()
	}
}

// Wait blocks until every loop has returned or ctx is done. On timeout the
// loops keep running and ctx's error is returned.
func (e *Engine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		e.logger.Warn("loops still running at shutdown deadline")
		return ctx.Err()
	}
}

// Status reports every loop in registration order.
func (e *Engine) Status() []LoopStatus {
	e.mu.Lock()
	loops := append([]*Loop(nil), e.loops...)
	e.mu.Unlock()

	out := make([]LoopStatus, 0, len(loops))
	for _, l := range loops {
		out = append(out, l.Status())
	}
	return out
}
