package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/harunnryd/interviewflow/pkg/answers"
	"github.com/harunnryd/interviewflow/pkg/app"
	"github.com/harunnryd/interviewflow/pkg/config"
	"github.com/harunnryd/interviewflow/pkg/errorsx"
	"github.com/harunnryd/interviewflow/pkg/resilience"
	"github.com/harunnryd/interviewflow/pkg/transports"
	"github.com/harunnryd/interviewflow/pkg/transports/twilio"
	"github.com/harunnryd/interviewflow/pkg/transports/websocket"
)

var errDraining = errors.New("server is draining")

// Server exposes interview sessions over HTTP. Every websocket connection and
// every SMS conversation runs one session.
type Server struct {
	app    *app.App
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	ws  *websocket.Upgrader
	sms *twilio.Hub

	mu       sync.Mutex
	wg       sync.WaitGroup
	active   atomic.Int64
	draining atomic.Bool
	router   chi.Router
}

// New wires routes for the configured transport. The websocket endpoint is
// always available; the SMS webhook only when transport.provider is
// twilio_sms.
func New(a *app.App, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{app: a, logger: logger, ctx: ctx, cancel: cancel}

	tc := a.Config.Transport
	var wsCfg websocket.Config
	if strings.EqualFold(tc.Provider, "websocket") {
		if err := config.DecodeSettings(tc.Settings, &wsCfg); err != nil {
			cancel()
			return nil, errorsx.Wrap(fmt.Errorf("transport.settings: %w", err), errorsx.ReasonConfigInvalid)
		}
	}
	s.ws = websocket.NewUpgrader(wsCfg, logger.With("transport", "websocket"))

	if strings.EqualFold(tc.Provider, "twilio_sms") {
		var smsCfg twilio.Config
		if err := config.ValidateSettings(tc.Settings, twilioSchema); err != nil {
			cancel()
			return nil, errorsx.Wrap(fmt.Errorf("transport.settings: %w", err), errorsx.ReasonConfigInvalid)
		}
		if err := config.DecodeSettings(tc.Settings, &smsCfg); err != nil {
			cancel()
			return nil, errorsx.Wrap(fmt.Errorf("transport.settings: %w", err), errorsx.ReasonConfigInvalid)
		}
		s.sms = twilio.NewHub(ctx, smsCfg, s.serveSession, logger.With("transport", "twilio_sms"))
	}

	s.router = s.routes()
	return s, nil
}

var twilioSchema = config.Schema{
	Required: []string{"account_sid", "auth_token"},
	Optional: []string{"from_number", "public_url", "sms_path", "validate_signature"},
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.app.Prometheus != nil {
		r.Method(http.MethodGet, "/metrics", s.app.Prometheus.Handler())
	}
	r.Get("/sessions/ws", s.handleWebsocket)
	r.Get("/sessions/{id}/answers", s.handleAnswers)
	if s.sms != nil {
		r.Method(http.MethodPost, s.sms.Path(), s.sms)
		r.Post("/sessions/sms", s.handleInvite)
	}
	return r
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

// Active reports how many sessions are running.
func (s *Server) Active() int64 { return s.active.Load() }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	code := http.StatusOK
	if s.draining.Load() {
		status = "draining"
		code = http.StatusServiceUnavailable
	}
	body := map[string]any{
		"status":          status,
		"active_sessions": s.active.Load(),
		"gateway":         s.app.Gateway.Name(),
	}
	if b, ok := s.app.Gateway.(interface{ State() resilience.BreakerState }); ok {
		body["gateway_breaker"] = b.State().String()
	}
	if s.sms != nil {
		for k, v := range s.sms.ReadyFields() {
			body[k] = v
		}
	}
	writeJSON(w, code, body)
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		http.Error(w, errDraining.Error(), http.StatusServiceUnavailable)
		return
	}
	if !s.begin() {
		http.Error(w, errDraining.Error(), http.StatusServiceUnavailable)
		return
	}
	t, err := s.ws.Upgrade(w, r)
	if err != nil {
		s.end()
		s.logger.Warn("websocket_upgrade_failed", "error", err.Error(), "remote", r.RemoteAddr)
		return
	}
	go func() {
		defer s.end()
		s.run(s.ctx, t)
	}()
}

type inviteRequest struct {
	To string `json:"to"`
}

func (s *Server) handleInvite(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		http.Error(w, errDraining.Error(), http.StatusServiceUnavailable)
		return
	}
	var body inviteRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	conv, err := s.sms.Invite(body.To)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"to": conv.Number()})
}

func (s *Server) handleAnswers(w http.ResponseWriter, r *http.Request) {
	if s.app.Sink == nil {
		http.Error(w, "answers sink disabled", http.StatusNotFound)
		return
	}
	got, err := s.app.Sink.Load(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, answers.ErrNotFound), errors.Is(err, answers.ErrInvalidID):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		s.logger.Error("answers_load_failed", "error", err.Error())
		http.Error(w, "answers unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, got)
}

// begin registers a session unless the server is draining.
func (s *Server) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining.Load() {
		return false
	}
	s.wg.Add(1)
	s.active.Add(1)
	return true
}

func (s *Server) end() {
	s.active.Add(-1)
	s.wg.Done()
}

// serveSession is the SMS hub callback; it blocks until the session ends.
func (s *Server) serveSession(ctx context.Context, t transports.Transport) {
	if !s.begin() {
		_ = t.Close()
		return
	}
	defer s.end()
	s.run(ctx, t)
}

func (s *Server) run(ctx context.Context, t transports.Transport) {
	res, err := s.app.Engine.Run(ctx, t)
	if err != nil {
		s.logger.Error("session_error", "session_id", res.SessionID, "error", err.Error(),
			"reason", string(errorsx.Reason(err)))
		return
	}
	s.logger.Info("session_done", "session_id", res.SessionID, "reason", string(res.Reason),
		"duration_ms", res.Duration.Milliseconds())
}

// Drain refuses new sessions, ends SMS conversations and waits for every
// running session to finish.
func (s *Server) Drain() error {
	s.mu.Lock()
	s.draining.Store(true)
	s.mu.Unlock()
	if s.sms != nil {
		s.sms.Drain()
	}
	s.wg.Wait()
	return nil
}

// Abort cancels every running session.
func (s *Server) Abort() { s.cancel() }

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("response_encode_failed", "error", err.Error())
	}
}
