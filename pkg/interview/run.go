package interview

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/harunnryd/interviewflow/pkg/conversation"
	"github.com/harunnryd/interviewflow/pkg/errorsx"
	"github.com/harunnryd/interviewflow/pkg/events"
	"github.com/harunnryd/interviewflow/pkg/graph"
	"github.com/harunnryd/interviewflow/pkg/idle"
	"github.com/harunnryd/interviewflow/pkg/llm"
	"github.com/harunnryd/interviewflow/pkg/transports"
)

// handoff names the next handler.
type handoff struct {
	to        State
	node      graph.Node
	reason    errorsx.ReasonCode
	rationale string
}

// run is the state of one RunSession call. All methods except the watchdog
// callback expect sess.mu to be held by the caller.
type run struct {
	*Engine
	ctx       context.Context
	parent    context.Context
	sess      *Session
	transport transports.Transport
	watchdog  *idle.Watchdog
	logger    *slog.Logger
	fatal     error
}

// handoff applies h and runs entry actions until a handler settles. Chained
// Deciding-Next hops are bounded by the graph size.
func (r *run) handoff(h handoff) error {
	limit := len(r.graph.Nodes()) + 2
	for hops := 0; ; hops++ {
		if hops > limit {
			r.fatal = errorsx.New(errorsx.ReasonMalformedGraph, "graph cycles without reaching a question or end node")
			h = handoff{to: StateEnding, node: r.sess.node, reason: errorsx.ReasonMalformedGraph}
		}
		if r.sess.state == StateEnding && h.to == StateEnding && r.sess.handler != nil {
			return nil
		}
		prevNode := r.sess.node.ID
		first := r.sess.handler == nil
		if err := r.sess.transition(h, r.instructionsFor(h), r.cfg.History); err != nil {
			return err
		}
		r.emitHandler()
		if first || prevNode != h.node.ID {
			r.emit(events.KindNodeReached, map[string]string{
				events.TagNodeID:   h.node.ID,
				events.TagNodeType: h.node.Type.String(),
			}, nil)
		}
		next, err := stateTable[h.to].entry(r)
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}
		h = *next
	}
}

func (r *run) instructionsFor(h handoff) string {
	persona := BuildSystemPrompt(r.sess.context)
	switch h.to {
	case StateDecidingNext:
		return persona + "\n\n" + decidingRole
	case StateEnding:
		return persona + "\n\n" + endingRole
	default:
		return persona
	}
}

func (r *run) emitHandler() {
	r.logger.Info("handler_entered", "state", r.sess.state.String(), "node_id", r.sess.node.ID)
	r.emit(events.KindHandlerEntered, map[string]string{
		events.TagState:  r.sess.state.String(),
		events.TagNodeID: r.sess.node.ID,
	}, nil)
}

func (r *run) emit(kind events.Kind, tags map[string]string, fields map[string]any) {
	r.observer.RecordEvent(events.Event{
		Kind:      kind,
		SessionID: r.sess.ID,
		Time:      time.Now(),
		Tags:      tags,
		Fields:    fields,
	})
}

// generate calls the gateway with the active handler's history.
func (r *run) generate(purpose llm.Purpose, instructions string, tools []llm.Tool, choice llm.ToolChoice) (llm.Response, error) {
	history := append([]conversation.Item(nil), r.sess.handler.Items...)
	started := time.Now()
	resp, err := r.gateway.Generate(r.ctx, llm.Request{
		Purpose:      purpose,
		Instructions: instructions,
		History:      history,
		Tools:        tools,
		ToolChoice:   choice,
	})
	r.recordGatewayCall(purpose, started, err)
	return resp, err
}

func (r *run) recordGatewayCall(purpose llm.Purpose, started time.Time, err error) {
	ev := events.Event{
		Kind:      events.KindGatewayCall,
		SessionID: r.sess.ID,
		Time:      time.Now(),
		Value:     float64(time.Since(started).Milliseconds()),
		Tags:      map[string]string{events.TagPurpose: string(purpose), events.TagProvider: r.gateway.Name()},
	}
	if err != nil {
		ev.Kind = events.KindGatewayError
		ev.Tags[events.TagReason] = string(errorsx.Reason(err))
	}
	r.observer.RecordEvent(ev)
}

// say speaks text and records it as assistant output.
func (r *run) say(text string, interruptible bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	r.sess.handler.append(conversation.Assistant(text))
	if err := r.transport.Speak(r.ctx, transports.SpeakCommand{Text: text, AllowInterruptions: interruptible}); err != nil {
		r.logger.Warn("speak_failed", "error", err.Error(), "reason", string(errorsx.ReasonTransportSend))
	}
}

// sayReply speaks the gateway's text, or fallback when it is empty.
func (r *run) sayReply(text, fallback string) {
	if strings.TrimSpace(text) == "" {
		text = fallback
	}
	r.say(text, true)
}

// onInput handles one participant utterance in the active handler.
func (r *run) onInput(text string) error {
	h := r.sess.handler
	h.append(conversation.User(text))
	if r.sess.state == StateAsking {
		r.sess.recordAnswer(r.sess.node.ID, text)
	}
	r.logger.Debug("participant_input", "state", r.sess.state.String(), "text", text)

	state, node := r.sess.state, r.sess.node
	instructions := ""
	if state == StateEnding {
		instructions = closeInstruction
	}
	resp, err := r.generate(llm.PurposeReply, instructions, toolsFor(state, node), llm.ChooseAuto())
	if err != nil {
		if r.ctx.Err() != nil {
			return err
		}
		r.logger.Warn("reply_fallback", "error", err.Error())
		if state == StateEnding {
			_, err := finish(r, conversation.ToolCall{})
			return err
		}
		r.say(repeatLine, true)
		return nil
	}
	r.say(resp.Text, true)

	call, ok := resp.FirstToolCall()
	if !ok {
		return nil
	}
	return r.dispatch(call)
}

func (r *run) dispatch(call conversation.ToolCall) error {
	h := r.sess.handler
	h.append(conversation.FunctionCall(call))
	c, ok := allowed(r.sess.state, r.sess.node, call.Name)
	if !ok {
		r.logger.Warn("capability_unavailable", "name", call.Name, "state", r.sess.state.String())
		h.append(conversation.FunctionResult(call.ID, unknownCapability(call.Name)))
		return nil
	}
	h.append(conversation.FunctionResult(call.ID, c.ack))
	r.logger.Info("capability_called", "name", call.Name, "state", r.sess.state.String(), "node_id", r.sess.node.ID)
	next, err := c.run(r, call)
	if err != nil || next == nil {
		return err
	}
	return r.handoff(*next)
}

// nudge is the idle watchdog callback. The watchdog holds sess.mu.
func (r *run) nudge(ctx context.Context, attempt int) {
	if r.sess.closed || r.sess.handler == nil {
		return
	}
	r.emit(events.KindNudgeSent, map[string]string{events.TagState: r.sess.state.String()},
		map[string]any{"attempt": attempt})
	if r.sess.state == StateEnding {
		// Silence after closing remarks ends the session.
		_, _ = finish(r, conversation.ToolCall{})
		return
	}
	resp, err := r.generate(llm.PurposeNudge, idleInstruction(attempt), nil, llm.ChooseNone())
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.logger.Warn("nudge_fallback", "attempt", attempt, "error", err.Error())
		r.say(r.cfg.IdlePrompt, true)
		return
	}
	r.sayReply(resp.Text, r.cfg.IdlePrompt)
}

func enterGreeting(r *run) (*handoff, error) {
	greeting := CreateGreeting(r.sess.context)
	resp, err := r.generate(llm.PurposeGreet, fmt.Sprintf(greetInstruction, greeting), nil, llm.ChooseNone())
	if err != nil {
		if r.ctx.Err() != nil {
			return nil, err
		}
		r.logger.Warn("greeting_fallback", "error", err.Error())
		r.say(greeting+greetFallback, true)
		return nil, nil
	}
	r.sayReply(resp.Text, greeting+greetFallback)
	return nil, nil
}

func enterAsking(r *run) (*handoff, error) {
	node := r.sess.node
	resp, err := r.generate(llm.PurposeAsk, askInstruction(node), nil, llm.ChooseNone())
	if err != nil {
		if r.ctx.Err() != nil {
			return nil, err
		}
		r.logger.Warn("ask_fallback", "node_id", node.ID, "error", err.Error())
		r.say(node.Content, true)
		return nil, nil
	}
	r.sayReply(resp.Text, node.Content)
	return nil, nil
}

// enterDecidingNext resolves the successor of the current node. It speaks
// nothing.
func enterDecidingNext(r *run) (*handoff, error) {
	node := r.sess.node
	if node.Type == graph.NodeEnd {
		return &handoff{to: StateEnding, node: node}, nil
	}
	succ, err := r.graph.NextNodeIDs(node.ID)
	if err != nil {
		if !errorsx.Fatal(err) {
			return nil, err
		}
		r.fatal = err
		r.logger.Error("script_error", "node_id", node.ID, "error", err.Error(), "reason", string(errorsx.Reason(err)))
		return &handoff{to: StateEnding, node: node, reason: errorsx.Reason(err)}, nil
	}

	candidates := make([]graph.Node, 0, succ.Len())
	for _, id := range succ.IDs() {
		n, ok := r.graph.Node(id)
		if !ok {
			r.logger.Warn("successor_missing", "node_id", node.ID, "target", id)
			continue
		}
		candidates = append(candidates, n)
	}
	if len(candidates) == 0 {
		r.logger.Info("no_successors", "node_id", node.ID)
		return &handoff{to: StateEnding, node: node}, nil
	}

	started := time.Now()
	res, err := r.resolver.Resolve(r.ctx, r.sess.handler.Items, candidates)
	if len(candidates) > 1 {
		callErr := err
		if callErr == nil {
			callErr = res.Err
		}
		r.recordGatewayCall(llm.PurposeResolveBranch, started, callErr)
	}
	if err != nil {
		return nil, err
	}
	r.emit(events.KindBranchResolved, map[string]string{
		events.TagNodeID: node.ID,
		events.TagReason: string(res.Reason),
	}, map[string]any{
		"chosen":     res.Node.ID,
		"index":      res.Index,
		"candidates": len(candidates),
		"fast_path":  res.FastPath,
		"fallback":   res.Fallback,
	})

	next := res.Node
	switch next.Type {
	case graph.NodeQuestion:
		return &handoff{to: StateAsking, node: next}, nil
	case graph.NodeEnd:
		return &handoff{to: StateEnding, node: next}, nil
	default:
		return &handoff{to: StateDecidingNext, node: next}, nil
	}
}

func enterEnding(r *run) (*handoff, error) {
	instruction := closeInstruction
	if r.sess.reason == errorsx.ReasonPrematureTermination {
		instruction = prematureInstruction(r.sess.rationale)
	}
	resp, err := r.generate(llm.PurposeClose, instruction, toolsFor(StateEnding, r.sess.node), llm.ChooseAuto())
	if err != nil {
		if r.ctx.Err() != nil {
			return nil, err
		}
		r.logger.Warn("closing_fallback", "error", err.Error())
		return finish(r, conversation.ToolCall{})
	}
	r.say(resp.Text, false)
	if call, ok := resp.FirstToolCall(); ok {
		return nil, r.dispatch(call)
	}
	return nil, nil
}
