package mock

import (
	"context"
	"sync"
	"time"

	"github.com/harunnryd/interviewflow/pkg/conversation"
	"github.com/harunnryd/interviewflow/pkg/llm"
)

// Reply is one scripted gateway answer.
type Reply struct {
	Text     string
	ToolCall *conversation.ToolCall
	Err      error
	// Delay simulates latency; it honors ctx cancellation.
	Delay time.Duration
}

func Text(text string) Reply { return Reply{Text: text} }

func Call(name string, args map[string]any) Reply {
	return Reply{ToolCall: &conversation.ToolCall{ID: conversation.NewID(), Name: name, Arguments: args}}
}

func Fail(err error) Reply { return Reply{Err: err} }

type Config struct {
	// ResponseText answers any purpose without a scripted reply.
	ResponseText string `mapstructure:"response_text"`
}

// Gateway is a scripted, in-memory reasoning gateway. Replies are queued per
// purpose and consumed in order.
type Gateway struct {
	cfg      Config
	mu       sync.Mutex
	queues   map[llm.Purpose][]Reply
	requests []llm.Request
}

func NewGateway(cfg Config) *Gateway {
	if cfg.ResponseText == "" {
		cfg.ResponseText = "mock response"
	}
	return &Gateway{cfg: cfg, queues: make(map[llm.Purpose][]Reply)}
}

func (g *Gateway) Name() string { return "mock" }

// On queues replies for a purpose.
func (g *Gateway) On(purpose llm.Purpose, replies ...Reply) *Gateway {
	g.mu.Lock()
	g.queues[purpose] = append(g.queues[purpose], replies...)
	g.mu.Unlock()
	return g
}

func (g *Gateway) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	reply := Reply{Text: g.cfg.ResponseText}
	if q := g.queues[req.Purpose]; len(q) > 0 {
		reply = q[0]
		g.queues[req.Purpose] = q[1:]
	}
	g.mu.Unlock()

	if reply.Delay > 0 {
		timer := time.NewTimer(reply.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return llm.Response{}, ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return llm.Response{}, err
	}
	if reply.Err != nil {
		return llm.Response{}, reply.Err
	}
	resp := llm.Response{Text: reply.Text, FinishReason: "stop"}
	if reply.ToolCall != nil {
		resp.ToolCalls = []conversation.ToolCall{*reply.ToolCall}
		resp.FinishReason = "tool_calls"
	}
	return resp, nil
}

// Calls counts the requests made for a purpose.
func (g *Gateway) Calls(purpose llm.Purpose) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, r := range g.requests {
		if r.Purpose == purpose {
			n++
		}
	}
	return n
}

// Requests returns a snapshot of every request seen.
func (g *Gateway) Requests() []llm.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]llm.Request(nil), g.requests...)
}

var _ llm.Gateway = (*Gateway)(nil)
