package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/harunnryd/interviewflow/pkg/conversation"
	"github.com/harunnryd/interviewflow/pkg/llm"
	"github.com/harunnryd/interviewflow/pkg/resilience"
)

// Settings is decoded from gateway.settings in the config file.
type Settings struct {
	APIKey      string   `mapstructure:"api_key"`
	Model       string   `mapstructure:"model"`
	BaseURL     string   `mapstructure:"base_url"`
	Temperature *float64 `mapstructure:"temperature"`
}

// Gateway talks to the Chat Completions API.
type Gateway struct {
	client   openai.Client
	model    string
	settings Settings
}

func NewGateway(s Settings) (*Gateway, error) {
	if strings.TrimSpace(s.APIKey) == "" {
		return nil, errors.New("openai: api_key is required")
	}
	if s.Model == "" {
		s.Model = string(openai.ChatModelGPT4oMini)
	}
	opts := []option.RequestOption{
		option.WithAPIKey(s.APIKey),
		// Retries are owned by llm.RetryGateway.
		option.WithMaxRetries(0),
	}
	if s.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(s.BaseURL))
	}
	return &Gateway{client: openai.NewClient(opts...), model: s.Model, settings: s}, nil
}

func (g *Gateway) Name() string { return "openai" }

func (g *Gateway) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(g.model),
		Messages: toMessages(req),
	}
	if g.settings.Temperature != nil {
		params.Temperature = openai.Float(*g.settings.Temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = mapTools(req.Tools)
		params.ToolChoice = toolChoice(req.ToolChoice)
	}
	completion, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
			return llm.Response{}, resilience.RateLimitError{Provider: g.Name(), Message: apiErr.Error()}
		}
		return llm.Response{}, fmt.Errorf("openai chat completion: %w", err)
	}
	return fromCompletion(completion)
}

func fromCompletion(c *openai.ChatCompletion) (llm.Response, error) {
	if c == nil || len(c.Choices) == 0 {
		return llm.Response{}, errors.New("openai: no choices")
	}
	choice := c.Choices[0]
	resp := llm.Response{
		Text:         strings.TrimSpace(choice.Message.Content),
		FinishReason: string(choice.FinishReason),
		Usage: llm.Usage{
			PromptTokens:     int(c.Usage.PromptTokens),
			CompletionTokens: int(c.Usage.CompletionTokens),
			TotalTokens:      int(c.Usage.TotalTokens),
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		args, err := llm.DecodeArguments(tc.Function.Arguments)
		if err != nil {
			// Keep the call; the capability decides what missing args mean.
			args = map[string]any{}
		}
		resp.ToolCalls = append(resp.ToolCalls, conversation.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return resp, nil
}

// toMessages maps handler history to chat messages. Tool calls and results
// are only sent as complete pairs; the API rejects either half alone.
func toMessages(req llm.Request) []openai.ChatCompletionMessageParamUnion {
	answered := map[string]bool{}
	for _, it := range req.History {
		if it.Role == conversation.RoleFunctionResult {
			answered[it.CallID] = true
		}
	}
	sent := map[string]bool{}
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+1)
	for _, it := range req.History {
		switch it.Role {
		case conversation.RoleSystem:
			out = append(out, openai.SystemMessage(it.Text))
		case conversation.RoleUser:
			out = append(out, openai.UserMessage(it.Text))
		case conversation.RoleAssistant:
			if it.Text != "" {
				out = append(out, openai.AssistantMessage(it.Text))
			}
		case conversation.RoleFunctionCall:
			if it.ToolCall == nil || !answered[it.CallID] {
				continue
			}
			sent[it.CallID] = true
			msg := openai.ChatCompletionAssistantMessageParam{
				ToolCalls: []openai.ChatCompletionMessageToolCallParam{{
					ID: it.ToolCall.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      it.ToolCall.Name,
						Arguments: llm.EncodeArguments(it.ToolCall.Arguments),
					},
				}},
			}
			if it.Text != "" {
				msg.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: param.NewOpt(it.Text)}
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &msg})
		case conversation.RoleFunctionResult:
			if !sent[it.CallID] {
				continue
			}
			out = append(out, openai.ToolMessage(it.Text, it.CallID))
		}
	}
	if req.Instructions != "" {
		out = append(out, openai.SystemMessage(req.Instructions))
	}
	return out
}

func mapTools(tools []llm.Tool) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		params := shared.FunctionParameters{"type": "object", "properties": map[string]any{}}
		if len(t.Parameters) > 0 {
			params = shared.FunctionParameters(t.Parameters)
		}
		out = append(out, openai.ChatCompletionToolParam{
			Type: "function",
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  params,
			},
		})
	}
	return out
}

func toolChoice(tc llm.ToolChoice) openai.ChatCompletionToolChoiceOptionUnionParam {
	switch tc.Mode {
	case llm.ToolChoiceNamed:
		return openai.ChatCompletionToolChoiceOptionUnionParam{
			OfChatCompletionNamedToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
				Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: tc.Name},
			},
		}
	case llm.ToolChoiceNone:
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("none")}
	default:
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("auto")}
	}
}

var _ llm.Gateway = (*Gateway)(nil)
