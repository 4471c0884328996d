package graph

import "strings"

// NodeType is the closed set of script step kinds.
type NodeType int

const (
	NodeEnd NodeType = iota
	NodeStart
	NodeQuestion
	NodeBranch
)

// ParseNodeType maps a script type tag to a NodeType.
// Unrecognized tags map to NodeEnd so a bad script stops instead of crashing.
func ParseNodeType(tag string) NodeType {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "start":
		return NodeStart
	case "question":
		return NodeQuestion
	case "branch", "branching":
		return NodeBranch
	case "end", "conclusion":
		return NodeEnd
	default:
		return NodeEnd
	}
}

func (t NodeType) String() string {
	switch t {
	case NodeStart:
		return "start"
	case NodeQuestion:
		return "question"
	case NodeBranch:
		return "branch"
	default:
		return "end"
	}
}

// Node is one step of the interview script.
type Node struct {
	ID              string
	Type            NodeType
	Content         string
	Criteria        string
	FollowUpEnabled bool
}

// Edge is a directed transition between two nodes. Type and the handles are
// editor routing metadata and do not affect traversal.
type Edge struct {
	ID           string
	Source       string
	Target       string
	Type         string
	SourceHandle string
	TargetHandle string
}
