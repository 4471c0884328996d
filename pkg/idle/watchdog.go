package idle

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultTimeout     = 5 * time.Second
	DefaultMaxAttempts = 3
)

type Config struct {
	Timeout     time.Duration
	MaxAttempts int
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	return c
}

// NudgeFunc delivers a check-in. attempt starts at 1.
type NudgeFunc func(ctx context.Context, attempt int)

// Watchdog nudges a quiet participant after Timeout, at most MaxAttempts
// times between genuine inputs. One Watchdog belongs to one session.
//
// Nudges run while holding the session lock passed to New, so a nudge never
// interleaves with a turn transition. A timer that fired while the session
// was busy is dropped if Touch or Arm ran in the meantime.
type Watchdog struct {
	cfg     Config
	session sync.Locker
	nudge   NudgeFunc
	logger  *slog.Logger

	mu       sync.Mutex
	ctx      context.Context
	timer    *time.Timer
	gen      uint64
	attempts int
	running  bool
}

func New(cfg Config, session sync.Locker, nudge NudgeFunc, logger *slog.Logger) *Watchdog {
	if session == nil {
		session = &sync.Mutex{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watchdog{
		cfg:     cfg.withDefaults(),
		session: session,
		nudge:   nudge,
		logger:  logger,
	}
}

// Start arms the timer. Nudges receive ctx; Stop is implied when ctx ends.
func (w *Watchdog) Start(ctx context.Context) {
	w.mu.Lock()
	w.ctx = ctx
	w.running = true
	w.armLocked()
	w.mu.Unlock()
	context.AfterFunc(ctx, w.Stop)
}

func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.running = false
	w.gen++
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

// Touch records genuine input: the attempt counter goes back to zero and the
// countdown restarts.
func (w *Watchdog) Touch() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts = 0
	w.armLocked()
}

// Arm restarts the countdown without clearing the attempt counter. The
// engine calls it after it finishes speaking.
func (w *Watchdog) Arm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.armLocked()
}

func (w *Watchdog) Attempts() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.attempts
}

func (w *Watchdog) armLocked() {
	w.gen++
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	if !w.running || w.attempts >= w.cfg.MaxAttempts {
		return
	}
	gen := w.gen
	w.timer = time.AfterFunc(w.cfg.Timeout, func() { w.fire(gen) })
}

func (w *Watchdog) fire(gen uint64) {
	w.session.Lock()
	defer w.session.Unlock()

	w.mu.Lock()
	if !w.running || gen != w.gen || w.attempts >= w.cfg.MaxAttempts {
		w.mu.Unlock()
		return
	}
	w.attempts++
	attempt := w.attempts
	ctx := w.ctx
	w.armLocked()
	w.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	w.logger.Debug("idle_nudge", "attempt", attempt, "max_attempts", w.cfg.MaxAttempts)
	if w.nudge != nil {
		w.nudge(ctx, attempt)
	}
}
