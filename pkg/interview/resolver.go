package interview

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"

	"github.com/harunnryd/interviewflow/pkg/conversation"
	"github.com/harunnryd/interviewflow/pkg/errorsx"
	"github.com/harunnryd/interviewflow/pkg/graph"
	"github.com/harunnryd/interviewflow/pkg/llm"
)

var firstInteger = regexp.MustCompile(`-?\d+`)

// Resolution is the outcome of choosing among successor nodes.
type Resolution struct {
	Node  graph.Node
	Index int
	// FastPath is set when there was a single candidate and no gateway call.
	FastPath bool
	// Fallback is set when the gateway answer was unusable and candidate 0
	// was taken. Reason says why.
	Fallback bool
	Reason   errorsx.ReasonCode
	Reply    string
	// Err is the gateway failure behind a gateway_unavailable fallback.
	Err error
}

// Resolver picks the next node among several candidates.
type Resolver struct {
	gateway llm.Gateway
	logger  *slog.Logger
}

func NewResolver(gateway llm.Gateway, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{gateway: gateway, logger: logger}
}

// Resolve never fails on gateway trouble: unusable or missing output selects
// the first candidate. It only returns an error when ctx is done, or when
// there are no candidates at all.
func (r *Resolver) Resolve(ctx context.Context, history []conversation.Item, candidates []graph.Node) (Resolution, error) {
	switch len(candidates) {
	case 0:
		return Resolution{}, errorsx.New(errorsx.ReasonNoOutgoingEdge, "no candidates to resolve")
	case 1:
		return Resolution{Node: candidates[0], FastPath: true}, nil
	}

	resp, err := r.gateway.Generate(ctx, llm.Request{
		Purpose:      llm.PurposeResolveBranch,
		Instructions: branchPrompt(candidates),
		History:      history,
		ToolChoice:   llm.ChooseNone(),
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Resolution{}, ctxErr
		}
		r.logger.Warn("branch_resolution_fallback",
			"reason", string(errorsx.ReasonGatewayUnavailable),
			"error", err.Error(),
			"candidates", len(candidates))
		res := fallback(candidates, errorsx.ReasonGatewayUnavailable, "")
		res.Err = err
		return res, nil
	}

	idx, ok := ParseSelection(resp.Text, len(candidates))
	if !ok {
		r.logger.Warn("branch_resolution_fallback",
			"reason", string(errorsx.ReasonAmbiguousResolution),
			"candidates", len(candidates))
		return fallback(candidates, errorsx.ReasonAmbiguousResolution, resp.Text), nil
	}
	return Resolution{Node: candidates[idx], Index: idx, Reply: resp.Text}, nil
}

func fallback(candidates []graph.Node, reason errorsx.ReasonCode, reply string) Resolution {
	return Resolution{Node: candidates[0], Fallback: true, Reason: reason, Reply: reply}
}

// ParseSelection reads the first integer in text as a 1-based option number
// and returns the 0-based index.
func ParseSelection(text string, options int) (int, bool) {
	m := firstInteger.FindString(text)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	if err != nil || n < 1 || n > options {
		return 0, false
	}
	return n - 1, true
}
