package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/harunnryd/interviewflow/pkg/transports"
)

// Transport runs an interview in a terminal: each input line is one
// utterance, and "/quit" or EOF leaves.
type Transport struct {
	in     io.Reader
	out    io.Writer
	prompt string

	recvCh    chan transports.Event
	startOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

func New(in io.Reader, out io.Writer) *Transport {
	return &Transport{
		in:     in,
		out:    out,
		prompt: "> ",
		recvCh: make(chan transports.Event, 16),
	}
}

func (t *Transport) Name() string { return "console" }

func (t *Transport) WaitForParticipant(ctx context.Context) (transports.Participant, error) {
	if err := ctx.Err(); err != nil {
		return transports.Participant{}, err
	}
	t.startOnce.Do(func() { go t.readLoop() })
	return transports.Participant{ID: "console"}, nil
}

func (t *Transport) Recv() <-chan transports.Event { return t.recvCh }

func (t *Transport) Speak(ctx context.Context, cmd transports.SpeakCommand) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return transports.ErrClosed
	}
	_, err := fmt.Fprintf(t.out, "\ninterviewer: %s\n%s", cmd.Text, t.prompt)
	return err
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		_, _ = fmt.Fprintln(t.out)
	}
	return nil
}

func (t *Transport) readLoop() {
	scanner := bufio.NewScanner(t.in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			break
		}
		t.recvCh <- transports.TextEvent(line)
	}
	t.recvCh <- transports.DisconnectEvent()
}

var _ transports.Transport = (*Transport)(nil)
