package interview

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/interviewflow/pkg/errorsx"
	"github.com/harunnryd/interviewflow/pkg/graph"
	"github.com/harunnryd/interviewflow/pkg/llm"
	"github.com/harunnryd/interviewflow/pkg/logging"
	"github.com/harunnryd/interviewflow/pkg/providers/mock"
)

func candidates(n int) []graph.Node {
	out := make([]graph.Node, n)
	for i := range out {
		out[i] = graph.Node{ID: "q" + strconv.Itoa(i+1), Type: graph.NodeQuestion, Content: "Question " + strconv.Itoa(i+1)}
	}
	return out
}

func TestResolveSingleCandidateSkipsGateway(t *testing.T) {
	gw := mock.NewGateway(mock.Config{})
	r := NewResolver(gw, logging.Nop())
	res, err := r.Resolve(context.Background(), nil, candidates(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.FastPath || res.Node.ID != "q1" {
		t.Fatalf("expected fast path to q1, got %+v", res)
	}
	if len(gw.Requests()) != 0 {
		t.Fatalf("fast path must not call the gateway")
	}
}

func TestResolveNoCandidates(t *testing.T) {
	r := NewResolver(mock.NewGateway(mock.Config{}), logging.Nop())
	_, err := r.Resolve(context.Background(), nil, nil)
	if !errorsx.HasReason(err, errorsx.ReasonNoOutgoingEdge) {
		t.Fatalf("expected no_outgoing_edge, got %v", err)
	}
}

func TestResolvePicksNumberedOption(t *testing.T) {
	gw := mock.NewGateway(mock.Config{})
	gw.On(llm.PurposeResolveBranch, mock.Text("3"))
	r := NewResolver(gw, logging.Nop())

	res, err := r.Resolve(context.Background(), nil, candidates(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Node.ID != "q3" || res.Index != 2 || res.Fallback {
		t.Fatalf("unexpected resolution %+v", res)
	}
	req := gw.Requests()[0]
	if !strings.Contains(req.Instructions, "1. Question 1") || !strings.Contains(req.Instructions, "3. Question 3") {
		t.Fatalf("options must be numbered from 1, got %q", req.Instructions)
	}
	if req.ToolChoice.Mode != llm.ToolChoiceNone {
		t.Fatalf("resolution must not offer tools")
	}
}

func TestResolveUnusableRepliesFallBackToFirst(t *testing.T) {
	replies := []string{"", "none of them", "0", "7", "-", "-2", "I think option three", "option twelve"}
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 40; i++ {
		reply := replies[rng.Intn(len(replies))]
		gw := mock.NewGateway(mock.Config{})
		gw.On(llm.PurposeResolveBranch, mock.Text(reply))
		res, err := NewResolver(gw, logging.Nop()).Resolve(context.Background(), nil, candidates(2))
		if err != nil {
			t.Fatalf("reply %q: unexpected error %v", reply, err)
		}
		if res.Index != 0 || res.Node.ID != "q1" || !res.Fallback {
			t.Fatalf("reply %q: expected fallback to q1, got %+v", reply, res)
		}
		if res.Reason != errorsx.ReasonAmbiguousResolution {
			t.Fatalf("reply %q: expected ambiguous_resolution, got %s", reply, res.Reason)
		}
	}
}

func TestResolveGatewayErrorFallsBack(t *testing.T) {
	gw := mock.NewGateway(mock.Config{})
	gw.On(llm.PurposeResolveBranch, mock.Fail(errors.New("503")))
	res, err := NewResolver(gw, logging.Nop()).Resolve(context.Background(), nil, candidates(2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Fallback || res.Reason != errorsx.ReasonGatewayUnavailable || res.Node.ID != "q1" {
		t.Fatalf("unexpected resolution %+v", res)
	}
}

func TestResolveHonorsCancellation(t *testing.T) {
	gw := mock.NewGateway(mock.Config{})
	gw.On(llm.PurposeResolveBranch, mock.Reply{Text: "2", Delay: time.Minute})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewResolver(gw, logging.Nop()).Resolve(ctx, nil, candidates(2))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestParseSelection(t *testing.T) {
	cases := []struct {
		text  string
		n     int
		index int
		ok    bool
	}{
		{"2", 3, 1, true},
		{" 1\n", 3, 0, true},
		{"Option 3, because of the answer", 3, 2, true},
		{"2 or 3", 3, 1, true},
		{"4", 3, 0, false},
		{"0", 3, 0, false},
		{"-2", 2, 0, false},
		{"two", 3, 0, false},
		{"", 3, 0, false},
		{"99999999999999999999", 3, 0, false},
	}
	for _, tc := range cases {
		idx, ok := ParseSelection(tc.text, tc.n)
		if ok != tc.ok || idx != tc.index {
			t.Fatalf("ParseSelection(%q, %d) = %d, %v; want %d, %v", tc.text, tc.n, idx, ok, tc.index, tc.ok)
		}
	}
}
