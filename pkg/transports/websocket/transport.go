package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/harunnryd/interviewflow/pkg/transports"
)

// Wire messages. The client sends "hello" first (optionally with interview
// metadata), then "text" for each utterance and "bye" to leave. The server
// sends "speak" and a final "end".
const (
	TypeHello = "hello"
	TypeText  = "text"
	TypeBye   = "bye"
	TypeSpeak = "speak"
	TypeEnd   = "end"
)

type Message struct {
	Type               string          `json:"type"`
	Text               string          `json:"text,omitempty"`
	ParticipantID      string          `json:"participant_id,omitempty"`
	Metadata           json.RawMessage `json:"metadata,omitempty"`
	AllowInterruptions bool            `json:"allow_interruptions,omitempty"`
}

type Config struct {
	AllowAnyOrigin bool          `mapstructure:"allow_any_origin"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
}

func (c Config) withDefaults() Config {
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	return c
}

// Upgrader turns HTTP requests into per-session transports.
type Upgrader struct {
	cfg      Config
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewUpgrader(cfg Config, logger *slog.Logger) *Upgrader {
	if logger == nil {
		logger = slog.Default()
	}
	u := &Upgrader{
		cfg:    cfg.withDefaults(),
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	u.upgrader.CheckOrigin = u.checkOrigin
	return u
}

// Upgrade completes the handshake and starts the read and write loops.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request) (*Transport, error) {
	conn, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newTransport(conn, u.cfg, u.logger), nil
}

func (u *Upgrader) checkOrigin(r *http.Request) bool {
	if u.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	originHost := strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://")
	for _, allowed := range u.cfg.AllowedOrigins {
		a := strings.TrimRight(strings.TrimSpace(allowed), "/")
		if a == "" {
			continue
		}
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}

// Transport is one interview over one websocket connection.
type Transport struct {
	conn   *websocket.Conn
	cfg    Config
	logger *slog.Logger

	recvCh chan transports.Event
	sendCh chan []byte
	joined chan struct{}
	done   chan struct{}

	mu          sync.Mutex
	participant transports.Participant
	closed      atomic.Bool
	closeOnce   sync.Once
}

func newTransport(conn *websocket.Conn, cfg Config, logger *slog.Logger) *Transport {
	t := &Transport{
		conn:   conn,
		cfg:    cfg,
		logger: logger,
		recvCh: make(chan transports.Event, 64),
		sendCh: make(chan []byte, 64),
		joined: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go t.readLoop()
	go t.writeLoop()
	return t
}

func (t *Transport) Name() string { return "websocket" }

func (t *Transport) WaitForParticipant(ctx context.Context) (transports.Participant, error) {
	select {
	case <-ctx.Done():
		return transports.Participant{}, ctx.Err()
	case <-t.done:
		return transports.Participant{}, transports.ErrClosed
	case <-t.joined:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.participant, nil
	}
}

func (t *Transport) Recv() <-chan transports.Event { return t.recvCh }

func (t *Transport) Speak(ctx context.Context, cmd transports.SpeakCommand) error {
	return t.enqueue(ctx, Message{Type: TypeSpeak, Text: cmd.Text, AllowInterruptions: cmd.AllowInterruptions})
}

func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		if b, err := json.Marshal(Message{Type: TypeEnd}); err == nil {
			select {
			case t.sendCh <- b:
			default:
			}
		}
		t.closed.Store(true)
		close(t.done)
	})
	return nil
}

func (t *Transport) enqueue(ctx context.Context, msg Message) error {
	if t.closed.Load() {
		return transports.ErrClosed
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case t.sendCh <- b:
		return nil
	case <-t.done:
		return transports.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transport) join(p transports.Participant) {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.joined:
		return
	default:
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	t.participant = p
	close(t.joined)
}

func (t *Transport) readLoop() {
	defer func() {
		_ = t.Close()
		transports.Deliver(t.recvCh, transports.DisconnectEvent())
		close(t.recvCh)
	}()
	for {
		_, raw, err := t.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.logger.Debug("websocket_read_error", "error", err.Error())
			}
			return
		}
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.logger.Debug("websocket_bad_message", "error", err.Error())
			continue
		}
		switch msg.Type {
		case TypeHello:
			t.join(transports.Participant{ID: msg.ParticipantID, Metadata: string(msg.Metadata)})
		case TypeText:
			// A client that skips hello joins on its first utterance.
			t.join(transports.Participant{})
			if strings.TrimSpace(msg.Text) == "" {
				continue
			}
			if !transports.Deliver(t.recvCh, transports.TextEvent(msg.Text)) {
				t.logger.Warn("websocket_recv_dropped")
			}
		case TypeBye:
			return
		}
	}
}

func (t *Transport) writeLoop() {
	ping := time.NewTicker(t.cfg.PingInterval)
	defer ping.Stop()
	defer t.conn.Close()
	for {
		select {
		case b := <-t.sendCh:
			if err := t.write(b); err != nil {
				return
			}
		case <-ping.C:
			if err := t.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(t.cfg.WriteTimeout)); err != nil {
				return
			}
		case <-t.done:
			for {
				select {
				case b := <-t.sendCh:
					_ = t.write(b)
				default:
					_ = t.conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
						time.Now().Add(t.cfg.WriteTimeout))
					return
				}
			}
		}
	}
}

func (t *Transport) write(b []byte) error {
	_ = t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, b)
}

var _ transports.Transport = (*Transport)(nil)
