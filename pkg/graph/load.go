package graph

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/harunnryd/interviewflow/pkg/errorsx"
)

// Format selects the encoding of a script description.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Description is the declarative script as produced by the flow editor.
type Description struct {
	Nodes []NodeDescription `json:"nodes" yaml:"nodes"`
	Edges []EdgeDescription `json:"edges" yaml:"edges"`
}

type NodeDescription struct {
	ID   string   `json:"id" yaml:"id"`
	Type string   `json:"type" yaml:"type"`
	Data NodeData `json:"data" yaml:"data"`
}

// NodeData accepts both followUpEnabled and the older follow_up_toggle key.
type NodeData struct {
	Content         string `json:"content" yaml:"content"`
	Criteria        string `json:"criteria" yaml:"criteria"`
	FollowUpEnabled *bool  `json:"followUpEnabled" yaml:"followUpEnabled"`
	FollowUpToggle  *bool  `json:"follow_up_toggle" yaml:"follow_up_toggle"`
}

type EdgeDescription struct {
	ID           string `json:"id" yaml:"id"`
	Source       string `json:"source" yaml:"source"`
	Target       string `json:"target" yaml:"target"`
	Type         string `json:"type" yaml:"type"`
	SourceHandle string `json:"sourceHandle" yaml:"sourceHandle"`
	TargetHandle string `json:"targetHandle" yaml:"targetHandle"`
}

// Build converts a description into an indexed Graph.
func Build(desc Description) (*Graph, error) {
	nodes := make([]Node, 0, len(desc.Nodes))
	for _, nd := range desc.Nodes {
		followUp := false
		switch {
		case nd.Data.FollowUpEnabled != nil:
			followUp = *nd.Data.FollowUpEnabled
		case nd.Data.FollowUpToggle != nil:
			followUp = *nd.Data.FollowUpToggle
		}
		nodes = append(nodes, Node{
			ID:              nd.ID,
			Type:            ParseNodeType(nd.Type),
			Content:         nd.Data.Content,
			Criteria:        nd.Data.Criteria,
			FollowUpEnabled: followUp,
		})
	}
	edges := make([]Edge, 0, len(desc.Edges))
	for _, ed := range desc.Edges {
		edges = append(edges, Edge{
			ID:           ed.ID,
			Source:       ed.Source,
			Target:       ed.Target,
			Type:         ed.Type,
			SourceHandle: ed.SourceHandle,
			TargetHandle: ed.TargetHandle,
		})
	}
	return New(nodes, edges)
}

// Parse decodes a description in the given format and builds the graph.
func Parse(data []byte, format Format) (*Graph, error) {
	var desc Description
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &desc)
	case FormatJSON, "":
		err = json.Unmarshal(data, &desc)
	default:
		return nil, errorsx.New(errorsx.ReasonMalformedGraph, fmt.Sprintf("unsupported graph format %q", format))
	}
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("decode graph: %w", err), errorsx.ReasonMalformedGraph)
	}
	return Build(desc)
}

// LoadFile reads a script from disk, picking the format from the extension.
func LoadFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph: %w", err)
	}
	return Parse(data, FormatFromPath(path))
}

func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}
