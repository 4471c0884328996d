package llm

import (
	"context"

	"github.com/harunnryd/interviewflow/pkg/conversation"
)

// Purpose labels why the engine is calling the gateway. Providers ignore it;
// logs, metrics and scripted test gateways key on it.
type Purpose string

const (
	PurposeGreet         Purpose = "greet"
	PurposeAsk           Purpose = "ask"
	PurposeReply         Purpose = "reply"
	PurposeFollowUp      Purpose = "follow_up"
	PurposeResolveBranch Purpose = "resolve_branch"
	PurposeClose         Purpose = "close"
	PurposeNudge         Purpose = "nudge"
)

// Tool is a capability the model may invoke. Parameters is a JSON schema
// object.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

type ToolChoiceMode string

const (
	ToolChoiceAuto  ToolChoiceMode = "auto"
	ToolChoiceNone  ToolChoiceMode = "none"
	ToolChoiceNamed ToolChoiceMode = "named"
)

type ToolChoice struct {
	Mode ToolChoiceMode
	Name string
}

func ChooseAuto() ToolChoice { return ToolChoice{Mode: ToolChoiceAuto} }

func ChooseNone() ToolChoice { return ToolChoice{Mode: ToolChoiceNone} }

// ForceTool requires the model to call the named tool.
func ForceTool(name string) ToolChoice { return ToolChoice{Mode: ToolChoiceNamed, Name: name} }

// Request is one generate call: handler history plus a one-off instruction.
type Request struct {
	Purpose      Purpose
	Instructions string
	History      []conversation.Item
	Tools        []Tool
	ToolChoice   ToolChoice
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type Response struct {
	Text         string
	ToolCalls    []conversation.ToolCall
	FinishReason string
	Usage        Usage
}

// FirstToolCall returns the first tool call, if any.
func (r Response) FirstToolCall() (conversation.ToolCall, bool) {
	if len(r.ToolCalls) == 0 {
		return conversation.ToolCall{}, false
	}
	return r.ToolCalls[0], true
}

// Gateway is the reasoning service: instructions and history in, text or a
// tool call out. Implementations must honor ctx cancellation.
type Gateway interface {
	Generate(ctx context.Context, req Request) (Response, error)
	Name() string
}
