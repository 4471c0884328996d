package app

import (
	"fmt"
	"sort"
	"strings"

	"github.com/harunnryd/interviewflow/pkg/config"
	"github.com/harunnryd/interviewflow/pkg/llm"
	"github.com/harunnryd/interviewflow/pkg/providers/mock"
	"github.com/harunnryd/interviewflow/pkg/providers/openai"
)

// GatewayFactory builds a reasoning gateway from its settings map.
type GatewayFactory func(settings map[string]any) (llm.Gateway, error)

// ProviderRegistry maps gateway provider names to factories.
type ProviderRegistry struct {
	gateways map[string]GatewayFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{gateways: make(map[string]GatewayFactory)}
}

// DefaultProviders registers the built-in openai and mock gateways.
func DefaultProviders() *ProviderRegistry {
	r := NewProviderRegistry()
	r.RegisterGateway("openai", newOpenAIGateway)
	r.RegisterGateway("mock", newMockGateway)
	return r
}

func (r *ProviderRegistry) RegisterGateway(name string, factory GatewayFactory) {
	r.gateways[normalize(name)] = factory
}

func (r *ProviderRegistry) BuildGateway(provider string, settings map[string]any) (llm.Gateway, error) {
	fn := r.gateways[normalize(provider)]
	if fn == nil {
		return nil, fmt.Errorf("gateway provider not registered: %s (have %s)", provider, strings.Join(r.names(), ", "))
	}
	return fn(settings)
}

func (r *ProviderRegistry) names() []string {
	out := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func normalize(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

var openAISchema = config.Schema{
	Required: []string{"api_key"},
	Optional: []string{"model", "base_url", "temperature"},
}

func newOpenAIGateway(settings map[string]any) (llm.Gateway, error) {
	if err := config.ValidateSettings(settings, openAISchema); err != nil {
		return nil, fmt.Errorf("gateway.settings: %w", err)
	}
	var s openai.Settings
	if err := config.DecodeSettings(settings, &s); err != nil {
		return nil, fmt.Errorf("gateway.settings: %w", err)
	}
	return openai.NewGateway(s)
}

var mockSchema = config.Schema{Optional: []string{"response_text"}}

func newMockGateway(settings map[string]any) (llm.Gateway, error) {
	if err := config.ValidateSettings(settings, mockSchema); err != nil {
		return nil, fmt.Errorf("gateway.settings: %w", err)
	}
	var cfg mock.Config
	if err := config.DecodeSettings(settings, &cfg); err != nil {
		return nil, fmt.Errorf("gateway.settings: %w", err)
	}
	return mock.NewGateway(cfg), nil
}
