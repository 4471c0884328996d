package mock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/interviewflow/pkg/transports"
)

// Transport is an in-memory transport for local testing and integration.
// It implements the transports.Transport interface without any network dependency.
type Transport struct {
	participant transports.Participant
	joined      chan struct{}
	recvCh      chan transports.Event
	spokenCh    chan transports.SpeakCommand
	closed      atomic.Bool
	mu          sync.Mutex
	spoken      []transports.SpeakCommand
}

// New returns a transport whose participant has already joined.
func New(p transports.Participant) *Transport {
	t := NewPending(p)
	t.Join()
	return t
}

// NewPending returns a transport that blocks WaitForParticipant until Join.
func NewPending(p transports.Participant) *Transport {
	if p.ID == "" {
		p.ID = "participant"
	}
	return &Transport{
		participant: p,
		joined:      make(chan struct{}),
		recvCh:      make(chan transports.Event, 256),
		spokenCh:    make(chan transports.SpeakCommand, 256),
	}
}

func (t *Transport) Name() string { return "mock" }

func (t *Transport) Join() {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.joined:
	default:
		close(t.joined)
	}
}

func (t *Transport) WaitForParticipant(ctx context.Context) (transports.Participant, error) {
	select {
	case <-ctx.Done():
		return transports.Participant{}, ctx.Err()
	case <-t.joined:
		return t.participant, nil
	}
}

func (t *Transport) Recv() <-chan transports.Event { return t.recvCh }

func (t *Transport) Speak(ctx context.Context, cmd transports.SpeakCommand) error {
	if t.closed.Load() {
		return transports.ErrClosed
	}
	t.mu.Lock()
	t.spoken = append(t.spoken, cmd)
	t.mu.Unlock()
	select {
	case t.spokenCh <- cmd:
	default:
	}
	return nil
}

func (t *Transport) Close() error {
	if t.closed.CompareAndSwap(false, true) {
		t.mu.Lock()
		close(t.recvCh)
		t.mu.Unlock()
	}
	return nil
}

// Push injects participant text.
func (t *Transport) Push(text string) {
	t.push(transports.TextEvent(text))
}

// Disconnect signals that the participant left.
func (t *Transport) Disconnect() {
	t.push(transports.DisconnectEvent())
}

func (t *Transport) push(evt transports.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed.Load() {
		return
	}
	transports.Deliver(t.recvCh, evt)
}

// Said waits for the next outbound speech.
func (t *Transport) Said(timeout time.Duration) (transports.SpeakCommand, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case cmd := <-t.spokenCh:
		return cmd, true
	case <-timer.C:
		return transports.SpeakCommand{}, false
	}
}

// Spoken returns every outbound command so far.
func (t *Transport) Spoken() []transports.SpeakCommand {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]transports.SpeakCommand(nil), t.spoken...)
}

func (t *Transport) Closed() bool { return t.closed.Load() }

var _ transports.Transport = (*Transport)(nil)
