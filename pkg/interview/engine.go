package interview

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/harunnryd/interviewflow/pkg/answers"
	"github.com/harunnryd/interviewflow/pkg/conversation"
	"github.com/harunnryd/interviewflow/pkg/errorsx"
	"github.com/harunnryd/interviewflow/pkg/events"
	"github.com/harunnryd/interviewflow/pkg/graph"
	"github.com/harunnryd/interviewflow/pkg/idle"
	"github.com/harunnryd/interviewflow/pkg/llm"
	"github.com/harunnryd/interviewflow/pkg/transports"
)

var (
	// ErrTimeBudget is the cancellation cause when MaxDuration elapses.
	ErrTimeBudget = errors.New("interview time budget exceeded")
	// ErrDisconnected is the cancellation cause when the participant leaves.
	ErrDisconnected = errors.New("participant disconnected")
)

type Config struct {
	History conversation.Policy
	// FollowUpThreshold is the highest rubric score that still triggers a
	// follow-up question.
	FollowUpThreshold int
	// MaxDuration bounds a session; zero disables the budget.
	MaxDuration time.Duration
	Idle        idle.Config
	// IdlePrompt is spoken when the gateway cannot phrase a nudge.
	IdlePrompt string
	// Context is used when the participant brings no interview context.
	Context ContextData
	// CloseTimeout bounds closing remarks after the session context ended.
	CloseTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		History:           conversation.DefaultPolicy(),
		FollowUpThreshold: 1,
		MaxDuration:       5 * time.Minute,
		Idle:              idle.Config{Timeout: idle.DefaultTimeout, MaxAttempts: idle.DefaultMaxAttempts},
		IdlePrompt:        "Are you still there?",
		CloseTimeout:      10 * time.Second,
	}
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

func WithObserver(o events.Observer) Option { return func(e *Engine) { e.observer = o } }

// WithSink hands the final answer map to s when a session ends.
func WithSink(s answers.Sink) Option { return func(e *Engine) { e.sink = s } }

// Engine runs interviews over one graph. It holds no per-session state and
// may run any number of sessions concurrently.
type Engine struct {
	graph    *graph.Graph
	gateway  llm.Gateway
	resolver *Resolver
	cfg      Config
	observer events.Observer
	sink     answers.Sink
	logger   *slog.Logger
}

func NewEngine(g *graph.Graph, gateway llm.Gateway, cfg Config, opts ...Option) (*Engine, error) {
	if g == nil {
		return nil, errorsx.New(errorsx.ReasonMalformedGraph, "graph is nil")
	}
	if _, ok := g.InitialNode(); !ok {
		return nil, errorsx.New(errorsx.ReasonMalformedGraph, "graph has no start node")
	}
	if gateway == nil {
		return nil, errorsx.New(errorsx.ReasonConfigInvalid, "gateway is nil")
	}
	if cfg.IdlePrompt == "" {
		cfg.IdlePrompt = DefaultConfig().IdlePrompt
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = DefaultConfig().CloseTimeout
	}
	e := &Engine{
		graph:    g,
		gateway:  gateway,
		cfg:      cfg,
		observer: events.NoopObserver{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.resolver = NewResolver(gateway, e.logger)
	return e, nil
}

// Result summarises a finished session.
type Result struct {
	SessionID string
	Reason    errorsx.ReasonCode
	Rationale string
	Answers   map[string]string
	Visited   []string
	Duration  time.Duration
}

// NewSession creates a session record bound to the engine's graph.
func (e *Engine) NewSession() *Session {
	return newSession(e.graph)
}

// Run creates a session and drives it to completion.
func (e *Engine) Run(ctx context.Context, t transports.Transport) (Result, error) {
	return e.RunSession(ctx, e.NewSession(), t)
}

// RunSession drives sess over t until the session finishes, the participant
// leaves, the time budget runs out or ctx is cancelled. The returned error is
// non-nil only for fatal script or engine failures.
func (e *Engine) RunSession(ctx context.Context, sess *Session, t transports.Transport) (Result, error) {
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if e.cfg.MaxDuration > 0 {
		var stop context.CancelFunc
		runCtx, stop = context.WithTimeoutCause(runCtx, e.cfg.MaxDuration, ErrTimeBudget)
		defer stop()
	}

	r := &run{
		Engine:    e,
		ctx:       runCtx,
		parent:    ctx,
		sess:      sess,
		transport: t,
		logger:    e.logger.With("session_id", sess.ID, "transport", t.Name()),
	}
	defer func() { _ = t.Close() }()

	participant, err := t.WaitForParticipant(runCtx)
	if err != nil {
		sess.mu.Lock()
		sess.end(r.cancelReason(), "")
		sess.close()
		sess.mu.Unlock()
		return r.finishRun(), nil
	}
	sess.context = e.cfg.Context.Merge(ContextFromMetadata(participant.Metadata))
	r.logger.Info("session_started", "participant_id", participant.ID)
	r.emit(events.KindSessionStarted, nil, map[string]any{"participant_id": participant.ID})

	r.watchdog = idle.New(e.cfg.Idle, &sess.mu, r.nudge, r.logger)
	inputs := make(chan string)
	go r.readTransport(runCtx, cancel, inputs)

	sess.mu.Lock()
	start, _ := e.graph.InitialNode()
	err = r.handoff(handoff{to: StateGreeting, node: start})
	sess.mu.Unlock()
	if err != nil && runCtx.Err() == nil {
		return r.fail(err), err
	}
	r.watchdog.Start(runCtx)
	defer r.watchdog.Stop()

	for {
		select {
		case <-sess.Done():
			return r.finishRun(), r.fatal
		case <-runCtx.Done():
			r.abort(r.cancelReason())
			return r.finishRun(), r.fatal
		case text := <-inputs:
			sess.mu.Lock()
			if sess.closed {
				sess.mu.Unlock()
				continue
			}
			r.watchdog.Touch()
			err := r.onInput(text)
			if !sess.closed {
				r.watchdog.Arm()
			}
			sess.mu.Unlock()
			if err != nil && runCtx.Err() == nil {
				return r.fail(err), err
			}
		}
	}
}

// readTransport drains t.Recv() independently of turn processing so that a
// disconnect cancels an in-flight gateway call. Text is queued in arrival
// order until the session loop takes it.
func (r *run) readTransport(ctx context.Context, cancel context.CancelCauseFunc, inputs chan<- string) {
	recv := r.transport.Recv()
	var pending []string
	for {
		var out chan<- string
		var next string
		if len(pending) > 0 {
			out, next = inputs, pending[0]
		}
		select {
		case <-ctx.Done():
			return
		case out <- next:
			pending = pending[1:]
		case evt, ok := <-recv:
			if !ok || evt.Kind == transports.EventDisconnect {
				cancel(ErrDisconnected)
				return
			}
			if evt.Kind == transports.EventText && evt.Text != "" {
				pending = append(pending, evt.Text)
			}
		}
	}
}

// cancelReason maps the run context's cause to an end reason.
func (r *run) cancelReason() errorsx.ReasonCode {
	switch cause := context.Cause(r.ctx); {
	case errors.Is(cause, ErrTimeBudget):
		return errorsx.ReasonTimeBudgetExceeded
	case errors.Is(cause, ErrDisconnected):
		return errorsx.ReasonParticipantDisconnected
	}
	return errorsx.ReasonSessionAborted
}

// abort forces the session into Ending from any state. On a time budget the
// participant still hears the closing line; other causes tear down at once.
func (r *run) abort(reason errorsx.ReasonCode) {
	r.sess.mu.Lock()
	defer r.sess.mu.Unlock()
	if r.sess.closed {
		return
	}
	r.sess.end(reason, "")
	if r.sess.state != StateEnding {
		h := handoff{to: StateEnding, node: r.sess.node, reason: reason}
		if err := r.sess.transition(h, endingRole, r.cfg.History); err != nil {
			r.logger.Error("abort_transition_failed", "error", err.Error())
		} else {
			r.emitHandler()
		}
	}
	if reason == errorsx.ReasonTimeBudgetExceeded {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.parent), r.cfg.CloseTimeout)
		r.ctx = ctx
		r.say(closingLine, false)
		cancel()
	}
	r.sess.close()
}

func (r *run) fail(err error) Result {
	r.sess.mu.Lock()
	r.sess.end(errorsx.Reason(err), err.Error())
	r.sess.close()
	r.sess.mu.Unlock()
	r.logger.Error("session_failed", "error", err.Error(), "reason", string(errorsx.Reason(err)))
	return r.finishRun()
}

func (r *run) finishRun() Result {
	snap := r.sess.Snapshot()
	res := Result{
		SessionID: snap.ID,
		Reason:    snap.Reason,
		Rationale: snap.Rationale,
		Answers:   snap.Answers,
		Visited:   snap.Visited,
		Duration:  time.Since(r.sess.started),
	}
	if r.sink != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.parent), r.cfg.CloseTimeout)
		if err := r.sink.Save(ctx, res.SessionID, res.Answers); err != nil {
			r.logger.Warn("answers_sink_failed", "error", err.Error())
		}
		cancel()
	}
	r.logger.Info("session_ended", "reason", string(res.Reason), "answers", len(res.Answers), "duration_ms", res.Duration.Milliseconds())
	r.emit(events.KindSessionEnded, map[string]string{events.TagReason: string(res.Reason)},
		map[string]any{"rationale": res.Rationale, "answers": len(res.Answers)})
	return res
}
