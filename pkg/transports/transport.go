package transports

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("transport closed")

type EventKind string

const (
	EventText       EventKind = "text"
	EventDisconnect EventKind = "disconnect"
)

// Event is one inbound signal from the participant. Text events carry
// already-transcribed speech or typed input.
type Event struct {
	Kind EventKind
	Text string
	At   time.Time
}

func TextEvent(text string) Event { return Event{Kind: EventText, Text: text, At: time.Now()} }

func DisconnectEvent() Event { return Event{Kind: EventDisconnect, At: time.Now()} }

// Participant describes who joined. Metadata is the raw participant metadata,
// typically JSON carrying interview context.
type Participant struct {
	ID       string
	Metadata string
}

type SpeakCommand struct {
	Text               string
	AllowInterruptions bool
}

// Transport is the per-session I/O boundary. Implementations own their own
// network lifecycle. Recv may be closed once the participant is gone.
type Transport interface {
	Name() string
	WaitForParticipant(ctx context.Context) (Participant, error)
	Recv() <-chan Event
	Speak(ctx context.Context, cmd SpeakCommand) error
	Close() error
}

// ReadyReporter allows transports to expose readiness metadata (e.g., webhook URLs).
// Implementations are optional and used for informational logging only.
type ReadyReporter interface {
	ReadyFields() map[string]any
}

// Deliver pushes evt without blocking. It reports false when the buffer is
// full.
func Deliver(ch chan Event, evt Event) bool {
	select {
	case ch <- evt:
		return true
	default:
		return false
	}
}
