package interview

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/interviewflow/pkg/answers"
	"github.com/harunnryd/interviewflow/pkg/errorsx"
	"github.com/harunnryd/interviewflow/pkg/events"
	"github.com/harunnryd/interviewflow/pkg/graph"
	"github.com/harunnryd/interviewflow/pkg/llm"
	"github.com/harunnryd/interviewflow/pkg/logging"
	"github.com/harunnryd/interviewflow/pkg/providers/mock"
	"github.com/harunnryd/interviewflow/pkg/transports"
	mocktransport "github.com/harunnryd/interviewflow/pkg/transports/mock"
)

const waitTimeout = 2 * time.Second

type runResult struct {
	res Result
	err error
}

type harness struct {
	t    *testing.T
	gw   *mock.Gateway
	tr   *mocktransport.Transport
	obs  *events.MemoryObserver
	sess *Session
	done chan runResult
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Idle.Timeout = time.Minute
	return cfg
}

func start(t *testing.T, g *graph.Graph, gw *mock.Gateway, cfg Config, opts ...Option) *harness {
	t.Helper()
	return startCtx(t, context.Background(), g, gw, cfg, opts...)
}

func startCtx(t *testing.T, ctx context.Context, g *graph.Graph, gw *mock.Gateway, cfg Config, opts ...Option) *harness {
	t.Helper()
	obs := events.NewMemoryObserver()
	opts = append([]Option{WithObserver(obs), WithLogger(logging.Nop())}, opts...)
	eng, err := NewEngine(g, gw, cfg, opts...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	h := &harness{
		t:    t,
		gw:   gw,
		tr:   mocktransport.New(transports.Participant{ID: "cand"}),
		obs:  obs,
		sess: eng.NewSession(),
		done: make(chan runResult, 1),
	}
	go func() {
		res, err := eng.RunSession(ctx, h.sess, h.tr)
		h.done <- runResult{res, err}
	}()
	return h
}

func (h *harness) said() string {
	h.t.Helper()
	cmd, ok := h.tr.Said(waitTimeout)
	if !ok {
		h.t.Fatalf("nothing was spoken")
	}
	return cmd.Text
}

// saidUntil skips utterances, such as idle nudges, until want is spoken.
func (h *harness) saidUntil(want string) {
	h.t.Helper()
	for {
		cmd, ok := h.tr.Said(waitTimeout)
		if !ok {
			h.t.Fatalf("never heard %q", want)
		}
		if cmd.Text == want {
			return
		}
	}
}

func (h *harness) wait() (Result, error) {
	h.t.Helper()
	select {
	case r := <-h.done:
		return r.res, r.err
	case <-time.After(waitTimeout):
		h.t.Fatalf("session did not finish")
		return Result{}, nil
	}
}

func (h *harness) states() []string {
	var out []string
	for _, ev := range h.obs.Filter(events.KindHandlerEntered) {
		out = append(out, ev.Tag(events.TagState))
	}
	return out
}

func mustGraph(t *testing.T, nodes []graph.Node, edges []graph.Edge) *graph.Graph {
	t.Helper()
	g, err := graph.New(nodes, edges)
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	return g
}

func edge(id, from, to string) graph.Edge { return graph.Edge{ID: id, Source: from, Target: to} }

func linear(t *testing.T, followUp bool) *graph.Graph {
	return mustGraph(t, []graph.Node{
		{ID: "start", Type: graph.NodeStart},
		{ID: "q1", Type: graph.NodeQuestion, Content: "Tell me about a project you led.", Criteria: "ownership", FollowUpEnabled: followUp},
		{ID: "end", Type: graph.NodeEnd},
	}, []graph.Edge{edge("e1", "start", "q1"), edge("e2", "q1", "end")})
}

func branching(t *testing.T) *graph.Graph {
	return mustGraph(t, []graph.Node{
		{ID: "start", Type: graph.NodeStart},
		{ID: "b", Type: graph.NodeBranch},
		{ID: "q1", Type: graph.NodeQuestion, Content: "Describe a backend system you built."},
		{ID: "q2", Type: graph.NodeQuestion, Content: "Describe a frontend you shipped."},
		{ID: "end", Type: graph.NodeEnd},
	}, []graph.Edge{
		edge("e1", "start", "b"),
		edge("e2", "b", "q1"),
		edge("e3", "b", "q2"),
		edge("e4", "q1", "end"),
		edge("e5", "q2", "end"),
	})
}

func TestScenarioLinearSingleEdge(t *testing.T) {
	gw := mock.NewGateway(mock.Config{})
	gw.On(llm.PurposeGreet, mock.Text("Hi, I'm your interviewer. Ready?"))
	gw.On(llm.PurposeReply, mock.Call(capConfirmReady, nil), mock.Call(capTransition, nil))
	gw.On(llm.PurposeAsk, mock.Text("Tell me about a project you led."))
	gw.On(llm.PurposeClose, mock.Call(capFinish, nil))

	h := start(t, linear(t, false), gw, testConfig())
	if got := h.said(); !strings.Contains(got, "Ready?") {
		t.Fatalf("unexpected greeting %q", got)
	}
	h.tr.Push("yes, let's go")
	if got := h.said(); got != "Tell me about a project you led." {
		t.Fatalf("unexpected question %q", got)
	}
	h.tr.Push("I led the billing migration.")
	if got := h.said(); got != closingLine {
		t.Fatalf("expected closing line, got %q", got)
	}
	res, err := h.wait()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"greeting", "deciding_next", "asking", "deciding_next", "ending"}
	if got := h.states(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected states %v, got %v", want, got)
	}
	if n := gw.Calls(llm.PurposeAsk); n != 1 {
		t.Fatalf("expected exactly one ask call, got %d", n)
	}
	if n := gw.Calls(llm.PurposeResolveBranch); n != 0 {
		t.Fatalf("expected no branch resolution calls, got %d", n)
	}
	if res.Reason != errorsx.ReasonCompleted {
		t.Fatalf("expected completed, got %s", res.Reason)
	}
	if res.Answers["q1"] != "I led the billing migration." {
		t.Fatalf("unexpected answers %v", res.Answers)
	}
	if strings.Join(res.Visited, ",") != "start,q1,end" {
		t.Fatalf("unexpected visit order %v", res.Visited)
	}
	if !h.tr.Closed() {
		t.Fatalf("expected transport closed")
	}
}

func TestScenarioBranchSelectsNumberedOption(t *testing.T) {
	gw := mock.NewGateway(mock.Config{})
	gw.On(llm.PurposeReply, mock.Call(capConfirmReady, nil))
	gw.On(llm.PurposeResolveBranch, mock.Text("2"))
	gw.On(llm.PurposeAsk, mock.Text("Describe a frontend you shipped."))

	h := start(t, branching(t), gw, testConfig())
	h.said()
	h.tr.Push("ready")
	if got := h.said(); got != "Describe a frontend you shipped." {
		t.Fatalf("expected q2 to be asked, got %q", got)
	}
	snap := h.sess.Snapshot()
	if snap.NodeID != "q2" || snap.State != StateAsking {
		t.Fatalf("expected asking q2, got %s %s", snap.State, snap.NodeID)
	}
	if n := gw.Calls(llm.PurposeResolveBranch); n != 1 {
		t.Fatalf("expected one resolution call, got %d", n)
	}
	resolved := h.obs.Filter(events.KindBranchResolved)
	last := resolved[len(resolved)-1]
	if last.Fields["chosen"] != "q2" || last.Fields["fallback"] != false {
		t.Fatalf("unexpected resolution event %+v", last)
	}
	if n := gatewayEvents(h.obs, events.KindGatewayCall, llm.PurposeResolveBranch); n != 1 {
		t.Fatalf("expected one resolve_branch gateway_call event, got %d", n)
	}
	h.tr.Disconnect()
	res, _ := h.wait()
	if res.Reason != errorsx.ReasonParticipantDisconnected {
		t.Fatalf("expected disconnect reason, got %s", res.Reason)
	}
}

func TestScenarioBranchFallsBackToFirstCandidate(t *testing.T) {
	gw := mock.NewGateway(mock.Config{})
	gw.On(llm.PurposeReply, mock.Call(capConfirmReady, nil))
	gw.On(llm.PurposeResolveBranch, mock.Text("I think option three"))
	gw.On(llm.PurposeAsk, mock.Text("Describe a backend system you built."))

	h := start(t, branching(t), gw, testConfig())
	h.said()
	h.tr.Push("ready")
	if got := h.said(); got != "Describe a backend system you built." {
		t.Fatalf("expected fallback to q1, got %q", got)
	}
	if snap := h.sess.Snapshot(); snap.NodeID != "q1" {
		t.Fatalf("expected q1, got %s", snap.NodeID)
	}
	resolved := h.obs.Filter(events.KindBranchResolved)
	last := resolved[len(resolved)-1]
	if last.Tag(events.TagReason) != string(errorsx.ReasonAmbiguousResolution) {
		t.Fatalf("expected ambiguous_resolution tag, got %+v", last.Tags)
	}
	h.tr.Disconnect()
	h.wait()
}

func TestBranchGatewayFailureIsRecorded(t *testing.T) {
	down := errorsx.Wrap(errors.New("503"), errorsx.ReasonGatewayUnavailable)
	gw := mock.NewGateway(mock.Config{})
	gw.On(llm.PurposeReply, mock.Call(capConfirmReady, nil))
	gw.On(llm.PurposeResolveBranch, mock.Fail(down))
	gw.On(llm.PurposeAsk, mock.Text("Describe a backend system you built."))

	h := start(t, branching(t), gw, testConfig())
	h.said()
	h.tr.Push("ready")
	h.said()
	if n := gatewayEvents(h.obs, events.KindGatewayError, llm.PurposeResolveBranch); n != 1 {
		t.Fatalf("expected one resolve_branch gateway_error event, got %d", n)
	}
	for _, ev := range h.obs.Filter(events.KindGatewayError) {
		if ev.Tag(events.TagReason) != string(errorsx.ReasonGatewayUnavailable) {
			t.Fatalf("unexpected reason tag %+v", ev.Tags)
		}
	}
	h.tr.Disconnect()
	h.wait()
}

func gatewayEvents(obs *events.MemoryObserver, kind events.Kind, purpose llm.Purpose) int {
	n := 0
	for _, ev := range obs.Filter(kind) {
		if ev.Tag(events.TagPurpose) == string(purpose) {
			n++
		}
	}
	return n
}

func TestScenarioFollowUpStaysOnNode(t *testing.T) {
	gw := mock.NewGateway(mock.Config{})
	gw.On(llm.PurposeReply,
		mock.Call(capConfirmReady, nil),
		mock.Call(capFollowUp, map[string]any{"score": float64(1), "rationale": "no concrete example"}),
		mock.Call(capTransition, nil))
	gw.On(llm.PurposeAsk, mock.Text("Tell me about a project you led."))
	gw.On(llm.PurposeFollowUp, mock.Text("Can you give a concrete example?"))
	gw.On(llm.PurposeClose, mock.Call(capFinish, nil))

	h := start(t, linear(t, true), gw, testConfig())
	h.said()
	h.tr.Push("ready")
	h.said()
	h.tr.Push("I did some stuff.")
	if got := h.said(); got != "Can you give a concrete example?" {
		t.Fatalf("expected follow-up, got %q", got)
	}
	snap := h.sess.Snapshot()
	if snap.NodeID != "q1" || snap.State != StateAsking {
		t.Fatalf("follow-up must not leave the node, got %s %s", snap.State, snap.NodeID)
	}
	if h.obs.Count(events.KindFollowUpAsked) != 1 {
		t.Fatalf("expected one follow_up_asked event")
	}
	reqs := gw.Requests()
	followUpReq := reqs[len(reqs)-1]
	if followUpReq.Purpose != llm.PurposeFollowUp || !strings.Contains(followUpReq.Instructions, "no concrete example") {
		t.Fatalf("follow-up must carry the rationale, got %+v", followUpReq)
	}

	h.tr.Push("I migrated billing to a new provider in six weeks.")
	if got := h.said(); got != closingLine {
		t.Fatalf("expected closing after transition, got %q", got)
	}
	res, err := h.wait()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Answers["q1"] != "I did some stuff.\nI migrated billing to a new provider in six weeks." {
		t.Fatalf("unexpected joined answer %q", res.Answers["q1"])
	}
}

func TestFollowUpAboveThresholdMovesOn(t *testing.T) {
	gw := mock.NewGateway(mock.Config{})
	gw.On(llm.PurposeReply,
		mock.Call(capConfirmReady, nil),
		mock.Call(capFollowUp, map[string]any{"score": float64(2), "rationale": "lacks examples"}))
	gw.On(llm.PurposeClose, mock.Call(capFinish, nil))

	h := start(t, linear(t, true), gw, testConfig())
	h.said()
	h.tr.Push("ready")
	h.said()
	h.tr.Push("An adequate answer.")
	if got := h.said(); got != closingLine {
		t.Fatalf("expected to move on, got %q", got)
	}
	h.wait()
	if gw.Calls(llm.PurposeFollowUp) != 0 {
		t.Fatalf("no follow-up expected above threshold")
	}
}

func TestFollowUpThresholdIsConfigurable(t *testing.T) {
	gw := mock.NewGateway(mock.Config{})
	gw.On(llm.PurposeReply,
		mock.Call(capConfirmReady, nil),
		mock.Call(capFollowUp, map[string]any{"score": float64(2), "rationale": "lacks examples"}))
	gw.On(llm.PurposeFollowUp, mock.Text("Could you add an example?"))

	cfg := testConfig()
	cfg.FollowUpThreshold = 2
	h := start(t, linear(t, true), gw, cfg)
	h.said()
	h.tr.Push("ready")
	h.said()
	h.tr.Push("An adequate answer.")
	if got := h.said(); got != "Could you add an example?" {
		t.Fatalf("expected follow-up at threshold 2, got %q", got)
	}
	h.tr.Disconnect()
	h.wait()
}

func TestFollowUpNotOfferedWhenDisabled(t *testing.T) {
	gw := mock.NewGateway(mock.Config{})
	gw.On(llm.PurposeReply,
		mock.Call(capConfirmReady, nil),
		mock.Call(capFollowUp, map[string]any{"score": float64(0)}))

	h := start(t, linear(t, false), gw, testConfig())
	h.said()
	h.tr.Push("ready")
	h.said()
	h.tr.Push("dunno")
	waitFor(t, func() bool { return len(gw.Requests()) >= 4 })

	reqs := gw.Requests()
	for _, tool := range reqs[len(reqs)-1].Tools {
		if tool.Name == capFollowUp {
			t.Fatalf("follow_up must not be offered on a node without it")
		}
	}
	if h.obs.Count(events.KindFollowUpAsked) != 0 || h.sess.Snapshot().NodeID != "q1" {
		t.Fatalf("unavailable capability must be ignored")
	}
	h.tr.Disconnect()
	h.wait()
}

func TestPrematureTermination(t *testing.T) {
	gw := mock.NewGateway(mock.Config{})
	gw.On(llm.PurposeReply,
		mock.Call(capConfirmReady, nil),
		mock.Call(capEndPrematurely, map[string]any{"rationale": "abusive language"}))
	gw.On(llm.PurposeClose, mock.Call(capFinish, nil))

	h := start(t, branching(t), gw, testConfig())
	h.said()
	h.tr.Push("ready")
	h.said()
	h.tr.Push("something abusive")
	if got := h.said(); got != closingLine {
		t.Fatalf("expected closing, got %q", got)
	}
	res, err := h.wait()
	if err != nil {
		t.Fatalf("premature termination is not an error: %v", err)
	}
	if res.Reason != errorsx.ReasonPrematureTermination || res.Rationale != "abusive language" {
		t.Fatalf("unexpected end %s %q", res.Reason, res.Rationale)
	}
	for _, req := range gw.Requests() {
		if req.Purpose == llm.PurposeClose && !strings.Contains(req.Instructions, "abusive language") {
			t.Fatalf("closing instruction must carry the rationale")
		}
	}
	ended := h.obs.Filter(events.KindSessionEnded)
	if len(ended) != 1 || ended[0].Tag(events.TagReason) != string(errorsx.ReasonPrematureTermination) {
		t.Fatalf("unexpected session_ended events %+v", ended)
	}
}

func TestGreetingCancel(t *testing.T) {
	gw := mock.NewGateway(mock.Config{})
	gw.On(llm.PurposeReply, mock.Call(capConfirmCancel, nil), mock.Call(capFinish, nil))
	gw.On(llm.PurposeClose, mock.Text("No problem, thanks for your time."))

	h := start(t, linear(t, false), gw, testConfig())
	h.said()
	h.tr.Push("actually I'm not ready")
	if got := h.said(); got != "No problem, thanks for your time." {
		t.Fatalf("unexpected closing remarks %q", got)
	}
	// Closing remarks without finish wait in Ending; the next turn finishes.
	h.tr.Push("bye")
	if got := h.said(); got != closingLine {
		t.Fatalf("expected finish, got %q", got)
	}
	res, _ := h.wait()
	if res.Reason != errorsx.ReasonCandidateCancelled {
		t.Fatalf("expected candidate_cancelled, got %s", res.Reason)
	}
	if gw.Calls(llm.PurposeAsk) != 0 {
		t.Fatalf("no question should be asked after cancel")
	}
}

func TestNoOutgoingEdgeEndsGracefully(t *testing.T) {
	g := mustGraph(t, []graph.Node{
		{ID: "start", Type: graph.NodeStart},
		{ID: "q1", Type: graph.NodeQuestion, Content: "Why us?"},
	}, []graph.Edge{edge("e1", "start", "q1")})
	gw := mock.NewGateway(mock.Config{})
	gw.On(llm.PurposeReply, mock.Call(capConfirmReady, nil), mock.Call(capTransition, nil))
	gw.On(llm.PurposeClose, mock.Call(capFinish, nil))

	h := start(t, g, gw, testConfig())
	h.said()
	h.tr.Push("ready")
	h.said()
	h.tr.Push("Because of the mission.")
	if got := h.said(); got != closingLine {
		t.Fatalf("expected graceful close, got %q", got)
	}
	res, err := h.wait()
	if !errorsx.HasReason(err, errorsx.ReasonNoOutgoingEdge) {
		t.Fatalf("expected no_outgoing_edge error, got %v", err)
	}
	if res.Reason != errorsx.ReasonNoOutgoingEdge {
		t.Fatalf("expected no_outgoing_edge reason, got %s", res.Reason)
	}
}

func TestGatewayFailureFallsBackToScript(t *testing.T) {
	down := errorsx.Wrap(errors.New("connection refused"), errorsx.ReasonGatewayUnavailable)
	gw := mock.NewGateway(mock.Config{})
	gw.On(llm.PurposeGreet, mock.Fail(down))
	gw.On(llm.PurposeReply, mock.Call(capConfirmReady, nil))
	gw.On(llm.PurposeAsk, mock.Fail(down))

	h := start(t, linear(t, false), gw, testConfig())
	if got := h.said(); !strings.Contains(got, "Are you ready to start the interview?") {
		t.Fatalf("expected scripted greeting, got %q", got)
	}
	h.tr.Push("ready")
	if got := h.said(); got != "Tell me about a project you led." {
		t.Fatalf("expected node content, got %q", got)
	}
	if h.obs.Count(events.KindGatewayError) != 2 {
		t.Fatalf("expected two gateway_error events, got %d", h.obs.Count(events.KindGatewayError))
	}
	h.tr.Disconnect()
	h.wait()
}

func TestTimeBudgetEndsSession(t *testing.T) {
	gw := mock.NewGateway(mock.Config{})
	cfg := testConfig()
	cfg.MaxDuration = 80 * time.Millisecond

	h := start(t, linear(t, false), gw, cfg)
	h.said()
	if got := h.said(); got != closingLine {
		t.Fatalf("expected closing line on time budget, got %q", got)
	}
	res, err := h.wait()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Reason != errorsx.ReasonTimeBudgetExceeded {
		t.Fatalf("expected time_budget_exceeded, got %s", res.Reason)
	}
	if snap := h.sess.Snapshot(); snap.State != StateEnding || !snap.Closed {
		t.Fatalf("expected closed in ending, got %+v", snap)
	}
}

func TestCancellationDuringResolutionIsAtomic(t *testing.T) {
	gw := mock.NewGateway(mock.Config{})
	gw.On(llm.PurposeReply, mock.Call(capConfirmReady, nil))
	gw.On(llm.PurposeResolveBranch, mock.Reply{Text: "1", Delay: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := startCtx(t, ctx, branching(t), gw, testConfig())
	h.said()
	h.tr.Push("ready")
	waitFor(t, func() bool { return gw.Calls(llm.PurposeResolveBranch) == 1 })
	cancel()

	res, err := h.wait()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Reason != errorsx.ReasonSessionAborted {
		t.Fatalf("expected session_aborted, got %s", res.Reason)
	}
	for _, id := range res.Visited {
		if id == "q1" || id == "q2" {
			t.Fatalf("interrupted resolution must not be applied, visited %v", res.Visited)
		}
	}
	if snap := h.sess.Snapshot(); snap.NodeID != "b" || snap.State != StateEnding {
		t.Fatalf("expected ending at branch node, got %s %s", snap.State, snap.NodeID)
	}
}

func TestDisconnectInterruptsGatewayCall(t *testing.T) {
	gw := mock.NewGateway(mock.Config{})
	gw.On(llm.PurposeReply, mock.Call(capConfirmReady, nil))
	gw.On(llm.PurposeAsk, mock.Reply{Text: "Q?", Delay: time.Minute})

	h := start(t, linear(t, false), gw, testConfig())
	h.said()
	h.tr.Push("ready")
	waitFor(t, func() bool { return gw.Calls(llm.PurposeAsk) == 1 })
	h.tr.Disconnect()

	res, err := h.wait()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Reason != errorsx.ReasonParticipantDisconnected {
		t.Fatalf("expected participant_disconnected, got %s", res.Reason)
	}
	for _, cmd := range h.tr.Spoken() {
		if cmd.Text == "Q?" {
			t.Fatalf("question spoken after the participant left")
		}
	}
}

func TestInputQueuedWhileGatewayBusy(t *testing.T) {
	gw := mock.NewGateway(mock.Config{})
	gw.On(llm.PurposeGreet, mock.Reply{Text: "Ready?", Delay: 50 * time.Millisecond})
	gw.On(llm.PurposeReply, mock.Text("Great."))

	h := start(t, linear(t, false), gw, testConfig())
	h.tr.Push("hello")
	if got := h.said(); got != "Ready?" {
		t.Fatalf("expected greeting, got %q", got)
	}
	if got := h.said(); got != "Great." {
		t.Fatalf("input sent during the greeting was lost, got %q", got)
	}
	h.tr.Disconnect()
	h.wait()
}

func TestIdleNudgesAreCapped(t *testing.T) {
	gw := mock.NewGateway(mock.Config{ResponseText: "Are you still with me?"})
	cfg := testConfig()
	cfg.Idle.Timeout = 15 * time.Millisecond
	cfg.Idle.MaxAttempts = 2

	h := start(t, linear(t, false), gw, cfg)
	h.said()
	waitFor(t, func() bool { return gw.Calls(llm.PurposeNudge) == 2 })
	time.Sleep(60 * time.Millisecond)
	if n := gw.Calls(llm.PurposeNudge); n != 2 {
		t.Fatalf("expected 2 nudges, got %d", n)
	}
	reqs := gw.Requests()
	var attempts []string
	for _, r := range reqs {
		if r.Purpose == llm.PurposeNudge {
			attempts = append(attempts, r.Instructions)
		}
	}
	if !strings.Contains(attempts[0], "attempt 1") || !strings.Contains(attempts[1], "attempt 2") {
		t.Fatalf("unexpected nudge instructions %v", attempts)
	}
	if h.sess.Snapshot().Closed {
		t.Fatalf("watchdog must not end the session")
	}
	h.tr.Disconnect()
	h.wait()
}

func TestIdleNudgeFallsBackToPrompt(t *testing.T) {
	gw := mock.NewGateway(mock.Config{})
	gw.On(llm.PurposeNudge, mock.Fail(errors.New("timeout")))
	cfg := testConfig()
	cfg.Idle.Timeout = 15 * time.Millisecond
	cfg.Idle.MaxAttempts = 1
	cfg.IdlePrompt = "Hello? Are you there?"

	h := start(t, linear(t, false), gw, cfg)
	h.said()
	if got := h.said(); got != "Hello? Are you there?" {
		t.Fatalf("expected configured prompt, got %q", got)
	}
	h.tr.Disconnect()
	h.wait()
}

func TestSilenceInEndingFinishes(t *testing.T) {
	gw := mock.NewGateway(mock.Config{})
	gw.On(llm.PurposeReply, mock.Call(capConfirmCancel, nil))
	gw.On(llm.PurposeClose, mock.Text("Thanks anyway."))
	cfg := testConfig()
	cfg.Idle.Timeout = 20 * time.Millisecond

	h := start(t, linear(t, false), gw, cfg)
	h.said()
	h.tr.Push("no")
	h.saidUntil("Thanks anyway.")
	h.saidUntil(closingLine)
	res, _ := h.wait()
	if res.Reason != errorsx.ReasonCandidateCancelled {
		t.Fatalf("unexpected reason %s", res.Reason)
	}
}

func TestCarryOverNeverDuplicatesItems(t *testing.T) {
	gw := mock.NewGateway(mock.Config{})
	gw.On(llm.PurposeReply,
		mock.Call(capConfirmReady, nil),
		mock.Call(capFollowUp, map[string]any{"score": float64(0), "rationale": "empty"}),
		mock.Call(capTransition, nil))
	gw.On(llm.PurposeClose, mock.Call(capFinish, nil))

	h := start(t, linear(t, true), gw, testConfig())
	h.said()
	h.tr.Push("ready")
	h.said()
	h.tr.Push("hmm")
	h.said()
	h.tr.Push("a real answer")
	h.said()
	h.wait()

	for _, req := range gw.Requests() {
		seen := map[string]bool{}
		for _, it := range req.History {
			if seen[it.ID] {
				t.Fatalf("duplicate item %s in %s request", it.ID, req.Purpose)
			}
			seen[it.ID] = true
		}
		if len(req.History) > 0 && req.History[0].Role == "function_result" {
			t.Fatalf("history must not start with an orphaned function result")
		}
	}
	if prev := h.sess.PreviousHandler(); prev == nil || prev.State != StateDecidingNext {
		t.Fatalf("expected the deciding handler as previous, got %+v", prev)
	}
}

func TestAnswersHandedToSink(t *testing.T) {
	gw := mock.NewGateway(mock.Config{})
	gw.On(llm.PurposeReply, mock.Call(capConfirmReady, nil), mock.Call(capTransition, nil))
	gw.On(llm.PurposeClose, mock.Call(capFinish, nil))
	sink := answers.NewMemorySink()

	h := start(t, linear(t, false), gw, testConfig(), WithSink(sink))
	h.said()
	h.tr.Push("ready")
	h.said()
	h.tr.Push("my answer")
	h.said()
	res, _ := h.wait()

	got, err := sink.Load(context.Background(), res.SessionID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got["q1"] != "my answer" {
		t.Fatalf("unexpected stored answers %v", got)
	}
}

func TestParticipantContextShapesPrompt(t *testing.T) {
	gw := mock.NewGateway(mock.Config{})
	eng, err := NewEngine(linear(t, false), gw, testConfig(), WithLogger(logging.Nop()))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	tr := mocktransport.New(transports.Participant{
		ID:       "cand",
		Metadata: `{"type":"interview_context","scout_name":"Ava","company_name":"Acme"}`,
	})
	done := make(chan struct{})
	go func() {
		_, _ = eng.Run(context.Background(), tr)
		close(done)
	}()
	if _, ok := tr.Said(waitTimeout); !ok {
		t.Fatalf("no greeting")
	}
	greet := gw.Requests()[0]
	if !strings.Contains(greet.Instructions, "I'm Ava from Acme") {
		t.Fatalf("greeting should be personalised, got %q", greet.Instructions)
	}
	if !strings.Contains(greet.History[0].Text, "You are Ava") {
		t.Fatalf("persona prompt missing from history")
	}
	tr.Disconnect()
	<-done
}

func TestNewEngineRejectsMissingGateway(t *testing.T) {
	if _, err := NewEngine(linear(t, false), nil, testConfig()); !errorsx.HasReason(err, errorsx.ReasonConfigInvalid) {
		t.Fatalf("expected config_invalid, got %v", err)
	}
	if _, err := NewEngine(nil, mock.NewGateway(mock.Config{}), testConfig()); !errorsx.HasReason(err, errorsx.ReasonMalformedGraph) {
		t.Fatalf("expected malformed_graph, got %v", err)
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	g := linear(t, false)
	gwA := mock.NewGateway(mock.Config{})
	gwA.On(llm.PurposeReply, mock.Call(capConfirmReady, nil))
	gwB := mock.NewGateway(mock.Config{})

	a := start(t, g, gwA, testConfig())
	b := start(t, g, gwB, testConfig())
	a.said()
	b.said()
	a.tr.Push("ready")
	a.said()
	if a.sess.Snapshot().State != StateAsking || b.sess.Snapshot().State != StateGreeting {
		t.Fatalf("sessions leaked state: %s %s", a.sess.Snapshot().State, b.sess.Snapshot().State)
	}
	a.tr.Disconnect()
	b.tr.Disconnect()
	a.wait()
	b.wait()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met")
}
