package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrInvalidState = errors.New("runner: invalid state transition")
	ErrDrainTimeout = errors.New("runner: drain timeout")
)

type Options struct {
	Drainer      Drainer
	Hooks        Hooks
	DrainTimeout time.Duration
	// Banner receives the startup banner; nil disables it.
	Banner io.Writer
	Logger *slog.Logger
}

type LifecycleRunner struct {
	state    int32
	ctx      context.Context
	cancel   context.CancelFunc
	onceStop sync.Once
	opts     Options
	stopErr  error
	logger   *slog.Logger
}

func NewLifecycleRunner(opts Options) *LifecycleRunner {
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LifecycleRunner{
		state:  int32(StateNew),
		ctx:    ctx,
		cancel: cancel,
		opts:   opts,
		logger: logger,
	}
}

// Run starts the hooks and blocks until ctx is done or Stop is called, then
// drains.
func (r *LifecycleRunner) Run(ctx context.Context) error {
	if !r.casState(StateNew, StateStarting) {
		return ErrInvalidState
	}
	PrintBanner(r.opts.Banner)
	if ctx != nil {
		r.ctx, r.cancel = context.WithCancel(ctx)
	}
	if r.opts.Hooks.OnStart != nil {
		if err := r.opts.Hooks.OnStart(r.ctx); err != nil {
			r.setState(StateStopped)
			r.cancel()
			return fmt.Errorf("start: %w", err)
		}
	}
	r.setState(StateRunning)
	r.logger.Info("runner_started", "version", Version)
	<-r.ctx.Done()
	return r.stop()
}

func (r *LifecycleRunner) Stop() error {
	r.cancel()
	return r.stop()
}

func (r *LifecycleRunner) State() State {
	return State(atomic.LoadInt32(&r.state))
}

func (r *LifecycleRunner) stop() error {
	r.onceStop.Do(func() {
		r.setState(StateDraining)
		started := time.Now()
		r.logger.Info("runner_draining", "timeout_ms", r.opts.DrainTimeout.Milliseconds())
		if r.opts.Drainer != nil {
			done := make(chan struct{})
			go func() {
				if err := r.opts.Drainer.Drain(); err != nil {
					r.logger.Warn("drain_failed", "error", err.Error())
				}
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(r.opts.DrainTimeout):
				r.stopErr = ErrDrainTimeout
				if a, ok := r.opts.Drainer.(Aborter); ok {
					r.logger.Warn("drain_timeout_abort")
					a.Abort()
					<-done
				}
			}
		}
		if r.opts.Hooks.OnStop != nil {
			ctx, cancel := context.WithTimeout(context.Background(), r.opts.DrainTimeout)
			if err := r.opts.Hooks.OnStop(ctx); err != nil && r.stopErr == nil {
				r.stopErr = err
			}
			cancel()
		}
		r.setState(StateStopped)
		r.logger.Info("runner_stopped", "drain_ms", time.Since(started).Milliseconds())
	})
	return r.stopErr
}

func (r *LifecycleRunner) casState(from, to State) bool {
	return atomic.CompareAndSwapInt32(&r.state, int32(from), int32(to))
}

func (r *LifecycleRunner) setState(s State) {
	atomic.StoreInt32(&r.state, int32(s))
}
