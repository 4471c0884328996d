package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/harunnryd/interviewflow/pkg/conversation"
	"github.com/harunnryd/interviewflow/pkg/errorsx"
	"github.com/harunnryd/interviewflow/pkg/idle"
	"github.com/harunnryd/interviewflow/pkg/interview"
)

type Config struct {
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
	Graph         GraphConfig         `mapstructure:"graph"`
	Interview     InterviewConfig     `mapstructure:"interview"`
	History       HistoryConfig       `mapstructure:"history"`
	Idle          IdleConfig          `mapstructure:"idle"`
	Gateway       GatewayConfig       `mapstructure:"gateway"`
	Transport     TransportConfig     `mapstructure:"transport"`
	Server        ServerConfig        `mapstructure:"server"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
	Answers       AnswersConfig       `mapstructure:"answers"`
}

type GraphConfig struct {
	Path string `mapstructure:"path"`
}

type InterviewConfig struct {
	MaxDurationMS     int            `mapstructure:"max_duration_ms"`
	FollowUpThreshold int            `mapstructure:"follow_up_threshold"`
	CloseTimeoutMS    int            `mapstructure:"close_timeout_ms"`
	Context           map[string]any `mapstructure:"context"`
}

type HistoryConfig struct {
	KeepLastN         int  `mapstructure:"keep_last_n"`
	KeepFunctionCalls bool `mapstructure:"keep_function_calls"`
	KeepSystem        bool `mapstructure:"keep_system"`
}

type IdleConfig struct {
	TimeoutMS   int    `mapstructure:"timeout_ms"`
	MaxAttempts int    `mapstructure:"max_attempts"`
	PromptText  string `mapstructure:"prompt_text"`
}

type GatewayConfig struct {
	Provider          string         `mapstructure:"provider"`
	Settings          map[string]any `mapstructure:"settings"`
	TimeoutMS         int            `mapstructure:"timeout_ms"`
	RetryAttempts     int            `mapstructure:"retry_attempts"`
	BreakerThreshold  int            `mapstructure:"breaker_threshold"`
	BreakerCooldownMS int            `mapstructure:"breaker_cooldown_ms"`
}

type TransportConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type ServerConfig struct {
	Addr           string `mapstructure:"addr"`
	DrainTimeoutMS int    `mapstructure:"drain_timeout_ms"`
}

type ObservabilityConfig struct {
	TimelineDir   string `mapstructure:"timeline_dir"`
	RetentionDays int    `mapstructure:"retention_days"`
	Prometheus    bool   `mapstructure:"prometheus"`
	EventLogLevel string `mapstructure:"event_log_level"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

type AnswersConfig struct {
	Sink        string `mapstructure:"sink"`
	RedisAddr   string `mapstructure:"redis_addr"`
	RedisPrefix string `mapstructure:"redis_prefix"`
	TTLMS       int    `mapstructure:"ttl_ms"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	// Empty defaults let INTERVIEWFLOW_GRAPH_PATH and friends bind.
	v.SetDefault("graph.path", "")
	v.SetDefault("gateway.provider", "")
	v.SetDefault("interview.max_duration_ms", 300000)
	v.SetDefault("interview.follow_up_threshold", 1)
	v.SetDefault("interview.close_timeout_ms", 10000)
	v.SetDefault("history.keep_last_n", 6)
	v.SetDefault("history.keep_function_calls", true)
	v.SetDefault("history.keep_system", false)
	v.SetDefault("idle.timeout_ms", 5000)
	v.SetDefault("idle.max_attempts", 3)
	v.SetDefault("idle.prompt_text", "Are you still there?")
	v.SetDefault("gateway.timeout_ms", 8000)
	v.SetDefault("gateway.retry_attempts", 2)
	v.SetDefault("gateway.breaker_threshold", 3)
	v.SetDefault("gateway.breaker_cooldown_ms", 30000)
	v.SetDefault("transport.provider", "websocket")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.drain_timeout_ms", 30000)
	v.SetDefault("observability.prometheus", true)
	v.SetDefault("observability.retention_days", 0)
	v.SetDefault("observability.event_log_level", "debug")
	v.SetDefault("privacy.redact_pii", true)
	v.SetDefault("answers.sink", "memory")
	v.SetDefault("answers.redis_prefix", "interviewflow")
	v.SetDefault("answers.ttl_ms", 86400000)
}

// Default returns the configuration LoadConfig would produce from an empty
// file.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return cfg
}

// LoadConfig reads a YAML file, applies defaults and ${ENV} expansion, and
// validates the result. Environment variables prefixed INTERVIEWFLOW_
// override file values.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("interviewflow")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, errorsx.Wrap(fmt.Errorf("read config: %w", err), errorsx.ReasonConfigInvalid)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errorsx.Wrap(fmt.Errorf("unmarshal: %w", err), errorsx.ReasonConfigInvalid)
	}
	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, errorsx.Wrap(fmt.Errorf("validate config: %w", err), errorsx.ReasonConfigInvalid)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := RequireString(c.Gateway.Provider, "gateway.provider"); err != nil {
		return err
	}
	if err := RequireString(c.Graph.Path, "graph.path"); err != nil {
		return err
	}
	if c.Interview.FollowUpThreshold < 0 || c.Interview.FollowUpThreshold > 3 {
		return fmt.Errorf("interview.follow_up_threshold must be within 0..3, got %d", c.Interview.FollowUpThreshold)
	}
	if c.History.KeepLastN < 0 {
		return fmt.Errorf("history.keep_last_n must not be negative")
	}
	if c.Idle.MaxAttempts < 0 || c.Idle.TimeoutMS < 0 {
		return fmt.Errorf("idle settings must not be negative")
	}
	if c.Gateway.RetryAttempts < 1 {
		return fmt.Errorf("gateway.retry_attempts must be at least 1")
	}
	switch strings.ToLower(c.Answers.Sink) {
	case "", "memory", "none":
	case "redis":
		if err := RequireString(c.Answers.RedisAddr, "answers.redis_addr"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("answers.sink %q is not supported", c.Answers.Sink)
	}
	return nil
}

// EngineConfig maps the file layout onto interview.Config.
func (c Config) EngineConfig() interview.Config {
	return interview.Config{
		History: conversation.Policy{
			KeepLastN:         c.History.KeepLastN,
			KeepFunctionCalls: c.History.KeepFunctionCalls,
			KeepSystem:        c.History.KeepSystem,
		},
		FollowUpThreshold: c.Interview.FollowUpThreshold,
		MaxDuration:       ms(c.Interview.MaxDurationMS),
		Idle: idle.Config{
			Timeout:     ms(c.Idle.TimeoutMS),
			MaxAttempts: c.Idle.MaxAttempts,
		},
		IdlePrompt:   c.Idle.PromptText,
		Context:      interview.ContextData(c.Interview.Context),
		CloseTimeout: ms(c.Interview.CloseTimeoutMS),
	}
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Gateway.Settings = expandSettings(cfg.Gateway.Settings)
	cfg.Transport.Settings = expandSettings(cfg.Transport.Settings)
	cfg.Interview.Context = expandSettings(cfg.Interview.Context)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = expandAny(v)
		}
		return out
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	}
}
