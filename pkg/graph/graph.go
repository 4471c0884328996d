package graph

import (
	"errors"
	"fmt"

	"github.com/harunnryd/interviewflow/pkg/errorsx"
)

// Graph is the read-only interview script. Build it with New; it is never
// mutated afterwards.
type Graph struct {
	nodes    map[string]Node
	order    []string
	edges    []Edge
	outgoing map[string][]Edge
	incoming map[string][]Edge
	start    string
}

// Successors is the result of NextNodeIDs. Start and Question nodes have a
// deterministic successor (Single); Branch nodes hand back every target.
type Successors struct {
	ids    []string
	branch bool
}

// Single returns the deterministic successor of a Start or Question node.
func (s Successors) Single() (string, bool) {
	if s.branch || len(s.ids) == 0 {
		return "", false
	}
	return s.ids[0], true
}

// IDs returns every candidate target in edge declaration order.
func (s Successors) IDs() []string {
	return append([]string(nil), s.ids...)
}

// IsBranch reports whether the successors came from a Branch node.
func (s Successors) IsBranch() bool { return s.branch }

func (s Successors) Len() int { return len(s.ids) }

// New indexes nodes and edges. It fails with a malformed_graph reason when node
// ids collide, an edge points at an unknown node, or there is not exactly one
// Start node.
func New(nodes []Node, edges []Edge) (*Graph, error) {
	g := &Graph{
		nodes:    make(map[string]Node, len(nodes)),
		order:    make([]string, 0, len(nodes)),
		edges:    append([]Edge(nil), edges...),
		outgoing: make(map[string][]Edge),
		incoming: make(map[string][]Edge),
	}
	starts := 0
	for _, n := range nodes {
		if n.ID == "" {
			return nil, errorsx.New(errorsx.ReasonMalformedGraph, "node with empty id")
		}
		if _, dup := g.nodes[n.ID]; dup {
			return nil, errorsx.New(errorsx.ReasonMalformedGraph, fmt.Sprintf("duplicate node id %q", n.ID))
		}
		g.nodes[n.ID] = n
		g.order = append(g.order, n.ID)
		if n.Type == NodeStart {
			starts++
			g.start = n.ID
		}
	}
	switch {
	case starts == 0:
		return nil, errorsx.New(errorsx.ReasonMalformedGraph, "graph has no start node")
	case starts > 1:
		return nil, errorsx.New(errorsx.ReasonMalformedGraph, fmt.Sprintf("graph has %d start nodes", starts))
	}
	for _, e := range g.edges {
		if _, ok := g.nodes[e.Source]; !ok {
			return nil, errorsx.New(errorsx.ReasonMalformedGraph, fmt.Sprintf("edge %q references unknown source %q", e.ID, e.Source))
		}
		if _, ok := g.nodes[e.Target]; !ok {
			return nil, errorsx.New(errorsx.ReasonMalformedGraph, fmt.Sprintf("edge %q references unknown target %q", e.ID, e.Target))
		}
		g.outgoing[e.Source] = append(g.outgoing[e.Source], e)
		g.incoming[e.Target] = append(g.incoming[e.Target], e)
	}
	return g, nil
}

// Node looks up a node by id.
func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// InitialNode returns the unique Start node.
func (g *Graph) InitialNode() (Node, bool) {
	return g.Node(g.start)
}

// NextNodeIDs returns the successors of id. Callers must not ask for the
// successors of an End node.
func (g *Graph) NextNodeIDs(id string) (Successors, error) {
	n, ok := g.nodes[id]
	if !ok {
		return Successors{}, errorsx.New(errorsx.ReasonMalformedGraph, fmt.Sprintf("unknown node %q", id))
	}
	targets := g.targets(id)
	switch n.Type {
	case NodeEnd:
		return Successors{}, errorsx.New(errorsx.ReasonInvalidTransition, fmt.Sprintf("node %q is an end node", id))
	case NodeBranch:
		return Successors{ids: targets, branch: true}, nil
	default:
		if len(targets) == 0 {
			return Successors{}, errorsx.New(errorsx.ReasonNoOutgoingEdge, fmt.Sprintf("%s node %q has no outgoing edge", n.Type, id))
		}
		return Successors{ids: targets}, nil
	}
}

// PreviousNodeIDs returns the sources of every edge pointing at id.
func (g *Graph) PreviousNodeIDs(id string) []string {
	in := g.incoming[id]
	out := make([]string, 0, len(in))
	for _, e := range in {
		out = append(out, e.Source)
	}
	return out
}

// QuestionIDs returns question node ids in declaration order.
func (g *Graph) QuestionIDs() []string {
	var out []string
	for _, id := range g.order {
		if g.nodes[id].Type == NodeQuestion {
			out = append(out, id)
		}
	}
	return out
}

// Nodes returns every node in declaration order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

func (g *Graph) Edges() []Edge {
	return append([]Edge(nil), g.edges...)
}

// Validate runs the authoring checks New does not: every Start and Question
// node needs an outgoing edge, and Start must reach a terminal node (an End
// node or a Branch with no targets).
func (g *Graph) Validate() error {
	var errs []error
	for _, id := range g.order {
		n := g.nodes[id]
		if (n.Type == NodeStart || n.Type == NodeQuestion) && len(g.outgoing[id]) == 0 {
			errs = append(errs, errorsx.New(errorsx.ReasonNoOutgoingEdge, fmt.Sprintf("%s node %q has no outgoing edge", n.Type, id)))
		}
	}
	if !g.terminalReachable() {
		errs = append(errs, errorsx.New(errorsx.ReasonMalformedGraph, "no end node is reachable from start"))
	}
	return errors.Join(errs...)
}

// Reachable returns the number of nodes reachable from Start, Start included.
func (g *Graph) Reachable() int {
	seen := map[string]bool{}
	g.walk(g.start, seen)
	return len(seen)
}

func (g *Graph) terminalReachable() bool {
	seen := map[string]bool{}
	g.walk(g.start, seen)
	for id := range seen {
		n := g.nodes[id]
		if n.Type == NodeEnd || (n.Type == NodeBranch && len(g.outgoing[id]) == 0) {
			return true
		}
	}
	return false
}

func (g *Graph) walk(id string, seen map[string]bool) {
	if seen[id] {
		return
	}
	seen[id] = true
	for _, e := range g.outgoing[id] {
		g.walk(e.Target, seen)
	}
}

func (g *Graph) targets(id string) []string {
	out := make([]string, 0, len(g.outgoing[id]))
	for _, e := range g.outgoing[id] {
		out = append(out, e.Target)
	}
	return out
}
