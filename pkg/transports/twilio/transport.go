package twilio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/harunnryd/interviewflow/pkg/transports"
)

type Config struct {
	AccountSID        string `mapstructure:"account_sid"`
	AuthToken         string `mapstructure:"auth_token"`
	FromNumber        string `mapstructure:"from_number"`
	PublicURL         string `mapstructure:"public_url"`
	SMSPath           string `mapstructure:"sms_path"`
	ValidateSignature bool   `mapstructure:"validate_signature"`
}

func (c Config) withDefaults() Config {
	if c.SMSPath == "" {
		c.SMSPath = "/twilio/sms"
	}
	return c
}

type messageCreator interface {
	CreateMessage(params *api.CreateMessageParams) (*api.ApiV2010Message, error)
}

// SessionFunc is invoked once per new conversation, in its own goroutine.
type SessionFunc func(ctx context.Context, t transports.Transport)

// Hub routes inbound SMS webhooks to one conversation per phone number and
// sends outbound speech as messages.
type Hub struct {
	cfg       Config
	client    messageCreator
	onSession SessionFunc
	logger    *slog.Logger
	ctx       context.Context

	mu       sync.Mutex
	sessions map[string]*Conversation
	draining atomic.Bool
}

func NewHub(ctx context.Context, cfg Config, onSession SessionFunc, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return &Hub{
		cfg:       cfg.withDefaults(),
		onSession: onSession,
		logger:    logger,
		ctx:       ctx,
		sessions:  make(map[string]*Conversation),
	}
}

func (h *Hub) Path() string { return h.cfg.SMSPath }

func (h *Hub) ReadyFields() map[string]any {
	return map[string]any{"sms_webhook_url": h.webhookURL()}
}

func (h *Hub) restClient() (messageCreator, error) {
	if h.client != nil {
		return h.client, nil
	}
	if h.cfg.AccountSID == "" || h.cfg.AuthToken == "" {
		return nil, errors.New("missing twilio credentials")
	}
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: h.cfg.AccountSID,
		Password: h.cfg.AuthToken,
	})
	h.client = rest.Api
	return h.client, nil
}

// Invite opens a conversation with number and starts its session. The
// participant counts as joined immediately.
func (h *Hub) Invite(to string) (*Conversation, error) {
	to = strings.TrimSpace(to)
	if to == "" || h.cfg.FromNumber == "" {
		return nil, errors.New("to/from required")
	}
	conv, created := h.conversation(to)
	if !created {
		return nil, fmt.Errorf("conversation with %s already active", to)
	}
	h.start(conv)
	return conv, nil
}

// Drain stops accepting new conversations and closes active ones.
func (h *Hub) Drain() {
	h.draining.Store(true)
	h.mu.Lock()
	convs := make([]*Conversation, 0, len(h.sessions))
	for _, c := range h.sessions {
		convs = append(convs, c)
	}
	h.mu.Unlock()
	for _, c := range convs {
		c.disconnect()
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if h.cfg.ValidateSignature && !h.validateRequest(r) {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	from := strings.TrimSpace(r.PostForm.Get("From"))
	body := strings.TrimSpace(r.PostForm.Get("Body"))
	if from == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	conv, created := h.lookup(from)
	switch {
	case conv == nil:
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	case isOptOut(body):
		conv.disconnect()
	case created:
		h.start(conv)
		// The first message only opens the session; the greeting follows.
	default:
		conv.deliver(body)
	}
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("<Response></Response>"))
}

func (h *Hub) lookup(from string) (*Conversation, bool) {
	h.mu.Lock()
	if c, ok := h.sessions[from]; ok {
		h.mu.Unlock()
		return c, false
	}
	h.mu.Unlock()
	if h.draining.Load() {
		return nil, false
	}
	return h.conversation(from)
}

func (h *Hub) conversation(number string) (*Conversation, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.sessions[number]; ok {
		return c, false
	}
	c := &Conversation{
		hub:    h,
		number: number,
		recvCh: make(chan transports.Event, 32),
	}
	h.sessions[number] = c
	return c, true
}

func (h *Hub) start(c *Conversation) {
	if h.onSession == nil {
		return
	}
	go h.onSession(h.ctx, c)
}

func (h *Hub) forget(number string) {
	h.mu.Lock()
	delete(h.sessions, number)
	h.mu.Unlock()
}

func (h *Hub) send(to, body string) error {
	client, err := h.restClient()
	if err != nil {
		return err
	}
	params := &api.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(h.cfg.FromNumber)
	params.SetBody(body)
	resp, err := client.CreateMessage(params)
	if err != nil {
		return err
	}
	if resp == nil || resp.Sid == nil {
		return errors.New("missing message sid")
	}
	h.logger.Debug("twilio_sms_sent", "sid", *resp.Sid)
	return nil
}

func (h *Hub) validateRequest(r *http.Request) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" || h.cfg.AuthToken == "" {
		return false
	}
	params := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	validator := twilioclient.NewRequestValidator(h.cfg.AuthToken)
	return validator.Validate(h.requestURL(r), params, signature)
}

func (h *Hub) requestURL(r *http.Request) string {
	if h.cfg.PublicURL != "" {
		return strings.TrimRight(h.cfg.PublicURL, "/") + r.URL.RequestURI()
	}
	scheme := "https"
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func (h *Hub) webhookURL() string {
	if h.cfg.PublicURL == "" {
		return h.cfg.SMSPath
	}
	return strings.TrimRight(h.cfg.PublicURL, "/") + h.cfg.SMSPath
}

func isOptOut(body string) bool {
	switch strings.ToUpper(body) {
	case "STOP", "STOPALL", "UNSUBSCRIBE", "CANCEL", "END", "QUIT":
		return true
	}
	return false
}

// Conversation is the per-number transport handed to the session.
type Conversation struct {
	hub    *Hub
	number string
	recvCh chan transports.Event
	mu     sync.Mutex
	closed bool
}

func (c *Conversation) Name() string { return "twilio_sms" }

func (c *Conversation) Number() string { return c.number }

// WaitForParticipant returns at once: a conversation exists only after the
// participant texted in or was invited.
func (c *Conversation) WaitForParticipant(ctx context.Context) (transports.Participant, error) {
	if err := ctx.Err(); err != nil {
		return transports.Participant{}, err
	}
	return transports.Participant{ID: c.number}, nil
}

func (c *Conversation) Recv() <-chan transports.Event { return c.recvCh }

func (c *Conversation) Speak(ctx context.Context, cmd transports.SpeakCommand) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return transports.ErrClosed
	}
	if strings.TrimSpace(cmd.Text) == "" {
		return nil
	}
	return c.hub.send(c.number, cmd.Text)
}

func (c *Conversation) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.recvCh)
	c.hub.forget(c.number)
	return nil
}

func (c *Conversation) deliver(text string) {
	if text == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if !transports.Deliver(c.recvCh, transports.TextEvent(text)) {
		c.hub.logger.Warn("twilio_sms_dropped", "reason", "buffer_full")
	}
}

func (c *Conversation) disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	transports.Deliver(c.recvCh, transports.DisconnectEvent())
}

var _ transports.Transport = (*Conversation)(nil)
