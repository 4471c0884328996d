package twilio

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/harunnryd/interviewflow/pkg/transports"
)

type stubCreator struct {
	mu   sync.Mutex
	sent []*api.CreateMessageParams
}

func (s *stubCreator) CreateMessage(params *api.CreateMessageParams) (*api.ApiV2010Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, params)
	sid := "SM123"
	return &api.ApiV2010Message{Sid: &sid}, nil
}

func postSMS(t *testing.T, h http.Handler, from, body string) int {
	t.Helper()
	form := url.Values{"From": {from}, "Body": {body}}
	req := httptest.NewRequest(http.MethodPost, "/twilio/sms", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestHubRoutesByNumber(t *testing.T) {
	started := make(chan transports.Transport, 2)
	hub := NewHub(context.Background(), Config{FromNumber: "+200"}, func(ctx context.Context, tr transports.Transport) {
		started <- tr
	}, nil)
	stub := &stubCreator{}
	hub.client = stub

	if code := postSMS(t, hub, "+100", "hi"); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	var tr transports.Transport
	select {
	case tr = <-started:
	case <-time.After(time.Second):
		t.Fatalf("session not started")
	}
	p, err := tr.WaitForParticipant(context.Background())
	if err != nil || p.ID != "+100" {
		t.Fatalf("unexpected participant %+v err=%v", p, err)
	}

	postSMS(t, hub, "+100", "I am ready")
	select {
	case evt := <-tr.Recv():
		if evt.Kind != transports.EventText || evt.Text != "I am ready" {
			t.Fatalf("unexpected event %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatalf("no inbound event")
	}

	if err := tr.Speak(context.Background(), transports.SpeakCommand{Text: "First question"}); err != nil {
		t.Fatalf("speak: %v", err)
	}
	if len(stub.sent) != 1 || *stub.sent[0].To != "+100" || *stub.sent[0].From != "+200" || *stub.sent[0].Body != "First question" {
		t.Fatalf("unexpected outbound params")
	}

	postSMS(t, hub, "+100", "STOP")
	select {
	case evt := <-tr.Recv():
		if evt.Kind != transports.EventDisconnect {
			t.Fatalf("expected disconnect on opt-out, got %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatalf("no disconnect")
	}
	_ = tr.Close()
	if err := tr.Speak(context.Background(), transports.SpeakCommand{Text: "late"}); err != transports.ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}

	// A closed conversation frees the number for a new session.
	postSMS(t, hub, "+100", "hello again")
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatalf("expected a fresh session")
	}
}

func TestHubRejectsUnsignedWhenValidating(t *testing.T) {
	hub := NewHub(context.Background(), Config{AuthToken: "secret", ValidateSignature: true}, nil, nil)
	if code := postSMS(t, hub, "+100", "hi"); code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestInviteRequiresNumbers(t *testing.T) {
	hub := NewHub(context.Background(), Config{}, nil, nil)
	if _, err := hub.Invite("+100"); err == nil {
		t.Fatalf("expected error without from number")
	}
	hub = NewHub(context.Background(), Config{FromNumber: "+200"}, nil, nil)
	if _, err := hub.Invite("+100"); err != nil {
		t.Fatalf("invite: %v", err)
	}
	if _, err := hub.Invite("+100"); err == nil {
		t.Fatalf("expected duplicate invite to fail")
	}
}

func TestHubDrainRefusesNewNumbers(t *testing.T) {
	hub := NewHub(context.Background(), Config{}, nil, nil)
	hub.Drain()
	if code := postSMS(t, hub, "+300", "hi"); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while draining, got %d", code)
	}
}
