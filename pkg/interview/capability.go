package interview

import (
	"fmt"

	"github.com/harunnryd/interviewflow/pkg/conversation"
	"github.com/harunnryd/interviewflow/pkg/errorsx"
	"github.com/harunnryd/interviewflow/pkg/events"
	"github.com/harunnryd/interviewflow/pkg/graph"
	"github.com/harunnryd/interviewflow/pkg/llm"
)

const (
	capConfirmReady   = "confirm_ready"
	capConfirmCancel  = "confirm_cancel"
	capFollowUp       = "follow_up"
	capTransition     = "transition"
	capEndPrematurely = "end_prematurely"
	capFinish         = "finish"
)

// capability is one function the gateway may call. ack is recorded as the
// call's result before run executes, so call and result stay adjacent.
type capability struct {
	tool llm.Tool
	ack  string
	run  func(r *run, call conversation.ToolCall) (*handoff, error)
}

var capabilityTable map[string]capability

func init() {
	rationale := map[string]any{"type": "string", "description": "Why the answer was weak, or why the session must end."}
	capabilityTable = map[string]capability{
		capConfirmReady: {
			tool: llm.Tool{
				Name:        capConfirmReady,
				Description: "Call this function if the user confirms they are ready to start the interview.",
			},
			ack: "starting interview",
			run: confirmReady,
		},
		capConfirmCancel: {
			tool: llm.Tool{
				Name:        capConfirmCancel,
				Description: "Call this function if the user confirms they want to cancel the interview, or if they are not ready to start the interview.",
			},
			ack: "cancelling interview",
			run: confirmCancel,
		},
		capFollowUp: {
			tool: llm.Tool{
				Name: capFollowUp,
				Description: "Evaluate the candidate's answer using this rubric: " + rubric +
					"\nIf the answer is weak, call this function with the score and a rationale stating why the answer was too weak.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"score":     map[string]any{"type": "integer", "minimum": 0, "maximum": 3},
						"rationale": rationale,
					},
					"required": []string{"score", "rationale"},
				},
			},
			ack: "asking follow-up",
			run: followUp,
		},
		capTransition: {
			tool: llm.Tool{
				Name:        capTransition,
				Description: "Call this function if the user's answer is satisfactory, to move on to the next question. Only use it once the user did answer the question.",
			},
			ack: "moving on",
			run: transitionAway,
		},
		capEndPrematurely: {
			tool: llm.Tool{
				Name:        capEndPrematurely,
				Description: "Call this function to end the interview immediately for cause, for example abusive input.",
				Parameters: map[string]any{
					"type":       "object",
					"properties": map[string]any{"rationale": rationale},
					"required":   []string{"rationale"},
				},
			},
			ack: "ending interview",
			run: endPrematurely,
		},
		capFinish: {
			tool: llm.Tool{
				Name:        capFinish,
				Description: "Call this function after thanking the candidate to end the session.",
			},
			ack: "session finished",
			run: finish,
		},
	}
}

// toolsFor lists the capabilities a handler offers. follow_up exists only on
// nodes that enable it.
func toolsFor(state State, node graph.Node) []llm.Tool {
	names := stateTable[state].capabilities
	out := make([]llm.Tool, 0, len(names))
	for _, name := range names {
		if name == capFollowUp && !node.FollowUpEnabled {
			continue
		}
		out = append(out, capabilityTable[name].tool)
	}
	return out
}

func allowed(state State, node graph.Node, name string) (capability, bool) {
	for _, t := range toolsFor(state, node) {
		if t.Name == name {
			return capabilityTable[name], true
		}
	}
	return capability{}, false
}

func confirmReady(r *run, _ conversation.ToolCall) (*handoff, error) {
	start, ok := r.graph.InitialNode()
	if !ok {
		return nil, errorsx.New(errorsx.ReasonMalformedGraph, "graph has no start node")
	}
	return &handoff{to: StateDecidingNext, node: start}, nil
}

func confirmCancel(r *run, _ conversation.ToolCall) (*handoff, error) {
	return &handoff{to: StateEnding, node: r.sess.node, reason: errorsx.ReasonCandidateCancelled}, nil
}

// followUp deepens the current question without leaving the node. A score
// above the threshold means the answer was adequate after all.
func followUp(r *run, call conversation.ToolCall) (*handoff, error) {
	score, ok := llm.IntArg(call.Arguments, "score")
	if !ok {
		score = 0
	}
	why := llm.StringArg(call.Arguments, "rationale")
	if score > r.cfg.FollowUpThreshold {
		r.logger.Info("follow_up_above_threshold", "node_id", r.sess.node.ID, "score", score)
		return transitionAway(r, call)
	}
	r.emit(events.KindFollowUpAsked, map[string]string{events.TagNodeID: r.sess.node.ID},
		map[string]any{"score": score, "rationale": why})

	resp, err := r.generate(llm.PurposeFollowUp, followUpInstruction(why), nil, llm.ChooseNone())
	if err != nil {
		if r.ctx.Err() != nil {
			return nil, err
		}
		r.logger.Warn("follow_up_fallback", "error", err.Error())
		r.say(followUpLine, true)
		return nil, nil
	}
	r.sayReply(resp.Text, followUpLine)
	return nil, nil
}

func transitionAway(r *run, _ conversation.ToolCall) (*handoff, error) {
	return &handoff{to: StateDecidingNext, node: r.sess.node}, nil
}

func endPrematurely(r *run, call conversation.ToolCall) (*handoff, error) {
	why := llm.StringArg(call.Arguments, "rationale")
	if why == "" {
		why = "ended by interviewer"
	}
	return &handoff{
		to:        StateEnding,
		node:      r.sess.node,
		reason:    errorsx.ReasonPrematureTermination,
		rationale: why,
	}, nil
}

func finish(r *run, _ conversation.ToolCall) (*handoff, error) {
	r.say(closingLine, false)
	r.sess.close()
	return nil, nil
}

func unknownCapability(name string) string {
	return fmt.Sprintf("function %q is not available right now", name)
}
