// SPDX-License-Identifier: MPL-2.0

package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/balloon/balloon/internal/hook"
)

// DefaultFrameInterval is roughly 60 frames per second.
const DefaultFrameInterval = 16 * time.Millisecond

// ErrNotRunning is returned by Reset outside the Running state.
var ErrNotRunning = errors.New("engine is not running")

// Engine drives a hook table like a game loop. It is single-use: once
// stopped or failed, create a new Engine.
type Engine struct {
	state   atomic.Int32
	stateMu sync.Mutex
	lastErr error

	hooks     *hook.Table
	interval  time.Duration
	maxFrames uint64
	frames    atomic.Uint64
	resets    atomic.Uint64
	logger    *log.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startedCh chan struct{}
	doneCh    chan struct{}
	doneOnce  sync.Once
	errCh     chan error
	resetCh   chan chan error
}

// New returns an engine firing the points of hooks.
func New(hooks *hook.Table, opts ...Option) *Engine {
	e := &Engine{
		hooks:     hooks,
		interval:  DefaultFrameInterval,
		logger:    log.Default(),
		startedCh: make(chan struct{}),
		doneCh:    make(chan struct{}),
		errCh:     make(chan error, 1),
		resetCh:   make(chan chan error),
	}
	e.state.Store(int32(StateCreated))
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the current state (atomic, lock-free read).
func (e *Engine) State() State { return State(e.state.Load()) }

// IsRunning reports whether frames are being produced.
func (e *Engine) IsRunning() bool { return e.State() == StateRunning }

// Frames returns the number of frames processed so far.
func (e *Engine) Frames() uint64 { return e.frames.Load() }

// Resets returns the number of level resets performed by Reset.
func (e *Engine) Resets() uint64 { return e.resets.Load() }

// Err returns a channel of hook errors raised while running. It is
// closed once the engine reached a terminal state.
func (e *Engine) Err() <-chan error { return e.errCh }

// Done is closed once the engine reached a terminal state.
func (e *Engine) Done() <-chan struct{} { return e.doneCh }

// Started is closed once the engine is running.
func (e *Engine) Started() <-chan struct{} { return e.startedCh }

// LastError returns the error that failed the engine, or nil.
func (e *Engine) LastError() error {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.lastErr
}

// Start fires EngineInit and the first PostReset, then runs the frame
// loop in the background. A failing startup point ends the engine right
// away, after EngineEnd gave the handlers a chance to clean up.
func (e *Engine) Start(ctx context.Context) error {
	select {
	case <-ctx.Done():
		err := fmt.Errorf("context cancelled before start: %w", ctx.Err())
		e.fail(err)
		e.finish()
		return err
	default:
	}
	if !e.state.CompareAndSwap(int32(StateCreated), int32(StateStarting)) {
		return fmt.Errorf("cannot start engine in state %s", e.State())
	}

	if err := e.hooks.Fire(ctx, hook.EngineInit); err != nil {
		e.abortStart(err, false)
		return err
	}
	if err := e.hooks.Fire(ctx, hook.PostReset); err != nil {
		e.abortStart(err, true)
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	if !e.state.CompareAndSwap(int32(StateStarting), int32(StateRunning)) {
		cancel()
		return fmt.Errorf("engine left the starting state: %s", e.State())
	}
	close(e.startedCh)
	e.logger.Debug("engine running", "interval", e.interval, "max_frames", e.maxFrames)

	e.wg.Add(1)
	go e.loop(loopCtx)
	return nil
}

// Stop ends the frame loop and waits for PreClearAll and EngineEnd to
// fire. It reports whether this call initiated the stop.
func (e *Engine) Stop() bool {
	initiated := e.transitionToStopping()
	if e.State() == StateStopped && !initiated {
		e.finish()
	}
	e.wg.Wait()
	return initiated
}

// Wait blocks until the engine stopped and returns LastError.
func (e *Engine) Wait(ctx context.Context) error {
	select {
	case <-e.doneCh:
		return e.LastError()
	case <-ctx.Done():
		return fmt.Errorf("waiting for engine: %w", ctx.Err())
	}
}

// Reset reloads the level: PreClearAll then PostReset fire on the loop
// goroutine between two frames.
func (e *Engine) Reset(ctx context.Context) error {
	if !e.IsRunning() {
		return ErrNotRunning
	}
	reply := make(chan error, 1)
	select {
	case e.resetCh <- reply:
	case <-e.doneCh:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) loop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.teardown()
			return

		case reply := <-e.resetCh:
			reply <- e.reset(ctx)

		case <-ticker.C:
			if err := e.hooks.Fire(ctx, hook.PostProcess); err != nil && ctx.Err() == nil {
				e.sendError(err)
			}
			if n := e.frames.Add(1); e.maxFrames > 0 && n >= e.maxFrames {
				e.logger.Debug("frame budget reached", "frames", n)
				e.transitionToStopping()
				e.teardown()
				return
			}
		}
	}
}

func (e *Engine) reset(ctx context.Context) error {
	e.resets.Add(1)
	clearErr := e.hooks.Fire(ctx, hook.PreClearAll)
	resetErr := e.hooks.Fire(ctx, hook.PostReset)
	return errors.Join(clearErr, resetErr)
}

// teardown clears the scene and ends the engine. The loop context is
// already cancelled here, so the points fire on a fresh one.
func (e *Engine) teardown() {
	ctx := context.Background()
	if err := e.hooks.Fire(ctx, hook.PreClearAll); err != nil {
		e.sendError(err)
	}
	if err := e.hooks.Fire(ctx, hook.EngineEnd); err != nil {
		e.sendError(err)
	}
	e.state.Store(int32(StateStopped))
	e.logger.Debug("engine stopped", "frames", e.Frames())
	e.finish()
}

// abortStart unwinds a failed startup. cleared tells whether the scene
// was set up and needs PreClearAll first.
func (e *Engine) abortStart(err error, cleared bool) {
	ctx := context.Background()
	if cleared {
		if cerr := e.hooks.Fire(ctx, hook.PreClearAll); cerr != nil {
			e.logger.Warn("clear after failed start", "err", cerr)
		}
	}
	if eerr := e.hooks.Fire(ctx, hook.EngineEnd); eerr != nil {
		e.logger.Warn("engine end after failed start", "err", eerr)
	}
	e.fail(err)
	e.finish()
}

func (e *Engine) fail(err error) {
	e.stateMu.Lock()
	e.lastErr = err
	e.stateMu.Unlock()
	e.state.Store(int32(StateFailed))
	if e.cancel != nil {
		e.cancel()
	}
	e.sendError(err)
}

// transitionToStopping moves a live engine to Stopping and cancels the
// loop. It returns false when the engine was never started or is already
// stopping or stopped.
func (e *Engine) transitionToStopping() bool {
	for {
		current := e.State()
		switch current {
		case StateCreated:
			if e.state.CompareAndSwap(int32(StateCreated), int32(StateStopped)) {
				return false
			}
		case StateRunning:
			if !e.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
				continue
			}
			if e.cancel != nil {
				e.cancel()
			}
			return true
		default:
			return false
		}
	}
}

func (e *Engine) sendError(err error) {
	select {
	case e.errCh <- err:
	default:
		e.logger.Warn("engine error dropped", "err", err)
	}
}

func (e *Engine) finish() {
	e.doneOnce.Do(func() {
		close(e.doneCh)
		close(e.errCh)
	})
}
