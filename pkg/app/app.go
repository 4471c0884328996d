package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/harunnryd/interviewflow/pkg/answers"
	"github.com/harunnryd/interviewflow/pkg/config"
	"github.com/harunnryd/interviewflow/pkg/errorsx"
	"github.com/harunnryd/interviewflow/pkg/events"
	"github.com/harunnryd/interviewflow/pkg/graph"
	"github.com/harunnryd/interviewflow/pkg/interview"
	"github.com/harunnryd/interviewflow/pkg/llm"
	"github.com/harunnryd/interviewflow/pkg/logging"
	"github.com/harunnryd/interviewflow/pkg/observers"
	"github.com/harunnryd/interviewflow/pkg/redact"
	"github.com/harunnryd/interviewflow/pkg/resilience"
)

// App is a fully wired interview engine with its observers and sink.
type App struct {
	Config     config.Config
	Logger     *slog.Logger
	Graph      *graph.Graph
	Gateway    llm.Gateway
	Engine     *interview.Engine
	Sink       answers.Sink
	Prometheus *observers.PrometheusObserver
	Timeline   *observers.TimelineObserver

	async  *events.AsyncObserver
	redis  *redis.Client
	cancel context.CancelFunc
}

type Options struct {
	Providers *ProviderRegistry
	// Graph overrides cfg.Graph.Path.
	Graph *graph.Graph
	// Observers receive events in addition to the configured ones.
	Observers []events.Observer
}

// New builds everything the config describes. Call Close when done.
func New(cfg config.Config, logger *slog.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	redact.SetEnabled(cfg.Privacy.RedactPII)
	logger.Info("interviewflow_init",
		"environment", cfg.Environment,
		"gateway", cfg.Gateway.Provider,
		"transport", cfg.Transport.Provider,
		"answers_sink", cfg.Answers.Sink,
	)

	g := opts.Graph
	if g == nil {
		loaded, err := LoadGraph(cfg.Graph.Path)
		if err != nil {
			return nil, err
		}
		g = loaded
	}

	providers := opts.Providers
	if providers == nil {
		providers = DefaultProviders()
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{Config: cfg, Logger: logger, Graph: g, cancel: cancel}

	obsList := []events.Observer{
		observers.NewLoggerObserver(logging.NewComponentLogger(logger, "events"), logging.ParseLevel(cfg.Observability.EventLogLevel)),
	}
	if cfg.Observability.Prometheus {
		a.Prometheus = observers.NewPrometheusObserver("interviewflow")
		obsList = append(obsList, a.Prometheus)
	}
	if dir := strings.TrimSpace(cfg.Observability.TimelineDir); dir != "" {
		a.Timeline = observers.NewTimelineObserver(dir)
		obsList = append(obsList, a.Timeline)
		if days := cfg.Observability.RetentionDays; days > 0 {
			go a.Timeline.RunRetention(ctx, time.Duration(days)*24*time.Hour, time.Hour, logger)
		}
	}
	obsList = append(obsList, opts.Observers...)
	a.async = events.NewAsyncObserver(observers.NewMultiObserver(obsList...), 2048)

	gw, err := a.buildGateway(providers)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Gateway = gw

	sink, err := a.buildSink()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Sink = sink

	engineOpts := []interview.Option{
		interview.WithLogger(logging.NewComponentLogger(logger, "interview")),
		interview.WithObserver(a.async),
	}
	if sink != nil {
		engineOpts = append(engineOpts, interview.WithSink(sink))
	}
	eng, err := interview.NewEngine(g, gw, cfg.EngineConfig(), engineOpts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Engine = eng
	return a, nil
}

// LoadGraph reads and validates an interview script.
func LoadGraph(path string) (*graph.Graph, error) {
	g, err := graph.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load graph %s: %w", path, err)
	}
	if err := g.Validate(); err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("graph %s: %w", path, err), errorsx.ReasonMalformedGraph)
	}
	return g, nil
}

// buildGateway wraps the provider so every call is retried once, bounded by
// a per-attempt timeout, and short-circuited while the provider is down.
func (a *App) buildGateway(providers *ProviderRegistry) (llm.Gateway, error) {
	gc := a.Config.Gateway
	base, err := providers.BuildGateway(gc.Provider, gc.Settings)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonConfigInvalid)
	}
	retried := llm.NewRetryGateway(base, llm.RetryConfig{
		MaxAttempts:    gc.RetryAttempts,
		AttemptTimeout: time.Duration(gc.TimeoutMS) * time.Millisecond,
		Backoff:        resilience.Backoff{Base: 100 * time.Millisecond, Max: time.Second, Jitter: 0.2},
	})
	breaker := llm.NewCircuitBreakerGateway(retried,
		resilience.NewCircuitBreaker(gc.BreakerThreshold, time.Duration(gc.BreakerCooldownMS)*time.Millisecond))
	breaker.SetObserver(a.async)
	return breaker, nil
}

func (a *App) buildSink() (answers.Sink, error) {
	ac := a.Config.Answers
	var sink answers.Sink
	switch strings.ToLower(ac.Sink) {
	case "none":
		return nil, nil
	case "redis":
		a.redis = redis.NewClient(&redis.Options{Addr: ac.RedisAddr})
		sink = answers.NewRedisSink(a.redis,
			answers.WithPrefix(ac.RedisPrefix),
			answers.WithTTL(time.Duration(ac.TTLMS)*time.Millisecond))
		sink = answers.Retrying{Sink: sink, Policy: resilience.NewRetryPolicy(2, resilience.Backoff{Base: 200 * time.Millisecond, Jitter: 0.2})}
	default:
		sink = answers.NewMemorySink()
	}
	if a.Config.Privacy.RedactPII {
		sink = answers.Redacting{Sink: sink}
	}
	return sink, nil
}

// Observer is the event fan-out shared by every session.
func (a *App) Observer() events.Observer { return a.async }

// Close flushes events and releases the timeline files and Redis client.
func (a *App) Close() error {
	a.cancel()
	if a.async != nil {
		a.async.Close()
	}
	var errs error
	if a.Timeline != nil {
		errs = errors.Join(errs, a.Timeline.Close())
	}
	if a.redis != nil {
		errs = errors.Join(errs, a.redis.Close())
	}
	return errs
}
