package interview

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harunnryd/interviewflow/pkg/conversation"
	"github.com/harunnryd/interviewflow/pkg/errorsx"
	"github.com/harunnryd/interviewflow/pkg/graph"
)

// Handler is one active turn-handler: its state, the node it owns and its
// private conversation history.
type Handler struct {
	State State
	Node  graph.Node
	Items []conversation.Item
}

// newHandler builds the next handler. History carries over from prev, then
// the handler's own instructions are appended.
func newHandler(state State, node graph.Node, prev *Handler, instructions string, policy conversation.Policy) *Handler {
	var inherited []conversation.Item
	if prev != nil {
		inherited = prev.Items
	}
	return &Handler{
		State: state,
		Node:  node,
		Items: conversation.CarryOver(inherited, nil, instructions, policy),
	}
}

func (h *Handler) append(items ...conversation.Item) {
	h.Items = append(h.Items, items...)
}

// Session is the per-interview record. Every mutation happens with mu held;
// the engine holds it across a whole turn and the idle watchdog holds it
// while nudging.
type Session struct {
	ID string

	mu      sync.Mutex
	graph   *graph.Graph
	context ContextData
	started time.Time

	state   State
	node    graph.Node
	handler *Handler
	prev    *Handler
	answers map[string]string
	visited []string

	reason    errorsx.ReasonCode
	rationale string
	closed    bool
	done      chan struct{}
}

func newSession(g *graph.Graph) *Session {
	start, _ := g.InitialNode()
	return &Session{
		ID:      uuid.NewString(),
		graph:   g,
		started: time.Now(),
		state:   StateGreeting,
		node:    start,
		answers: make(map[string]string),
		done:    make(chan struct{}),
	}
}

// Snapshot is a consistent copy of the session's position.
type Snapshot struct {
	ID        string
	State     State
	NodeID    string
	Answers   map[string]string
	Visited   []string
	Reason    errorsx.ReasonCode
	Rationale string
	Closed    bool
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		ID:        s.ID,
		State:     s.state,
		NodeID:    s.node.ID,
		Answers:   s.answersLocked(),
		Visited:   append([]string(nil), s.visited...),
		Reason:    s.reason,
		Rationale: s.rationale,
		Closed:    s.closed,
	}
}

// Answers returns a copy of the recorded answers keyed by node id.
func (s *Session) Answers() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answersLocked()
}

func (s *Session) answersLocked() map[string]string {
	out := make(map[string]string, len(s.answers))
	for k, v := range s.answers {
		out[k] = v
	}
	return out
}

// Done is closed once the session has finished.
func (s *Session) Done() <-chan struct{} { return s.done }

// PreviousHandler returns the handler that was active before the current
// one. Only one hop is retained.
func (s *Session) PreviousHandler() *Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prev
}

func (s *Session) recordAnswer(nodeID, text string) {
	if prior, ok := s.answers[nodeID]; ok && prior != "" {
		s.answers[nodeID] = prior + "\n" + text
		return
	}
	s.answers[nodeID] = text
}

// transition applies a handoff. Validation happens before any field is
// touched, so a rejected transition leaves the record unchanged.
func (s *Session) transition(h handoff, instructions string, policy conversation.Policy) error {
	if s.handler != nil && !transitionValid(s.state, h.to) {
		return invalidTransition(s.state, h.to)
	}
	next := newHandler(h.to, h.node, s.handler, instructions, policy)
	if h.to == StateEnding && s.reason == "" {
		s.reason = h.reason
		if s.reason == "" {
			s.reason = errorsx.ReasonCompleted
		}
		s.rationale = h.rationale
	}
	s.prev = s.handler
	s.handler = next
	s.state = h.to
	if s.node.ID != h.node.ID || len(s.visited) == 0 {
		s.visited = append(s.visited, h.node.ID)
	}
	s.node = h.node
	return nil
}

// end marks the reason without changing state; used by teardown paths.
func (s *Session) end(reason errorsx.ReasonCode, rationale string) {
	if s.reason == "" {
		s.reason = reason
		s.rationale = rationale
	}
}

func (s *Session) close() {
	if s.closed {
		return
	}
	if s.reason == "" {
		s.reason = errorsx.ReasonCompleted
	}
	s.closed = true
	close(s.done)
}
