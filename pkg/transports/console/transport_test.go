package console

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/interviewflow/pkg/transports"
)

func TestConsoleLinesAndQuit(t *testing.T) {
	var out bytes.Buffer
	tr := New(strings.NewReader("ready\n\n/quit\nignored\n"), &out)
	if _, err := tr.WaitForParticipant(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	want := []transports.EventKind{transports.EventText, transports.EventDisconnect}
	for i, kind := range want {
		select {
		case evt := <-tr.Recv():
			if evt.Kind != kind {
				t.Fatalf("event %d: expected %s, got %s", i, kind, evt.Kind)
			}
		case <-time.After(time.Second):
			t.Fatalf("event %d missing", i)
		}
	}
	if err := tr.Speak(context.Background(), transports.SpeakCommand{Text: "Welcome"}); err != nil {
		t.Fatalf("speak: %v", err)
	}
	if !strings.Contains(out.String(), "interviewer: Welcome") {
		t.Fatalf("unexpected output %q", out.String())
	}
	_ = tr.Close()
	if err := tr.Speak(context.Background(), transports.SpeakCommand{Text: "late"}); err != transports.ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
