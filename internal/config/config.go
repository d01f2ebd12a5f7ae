package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	StateStore  StateStoreConfig `yaml:"state_store"`
	Evaluator   EvaluatorConfig  `yaml:"evaluator"`
	Planner     PlannerConfig    `yaml:"planner"`
	Pipeline    PipelineConfig   `yaml:"pipeline"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type StateStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type EvaluatorConfig struct {
	Mode       string `yaml:"mode"` // mock, anthropic
	Endpoint   string `yaml:"endpoint"`
	APIKey     string `yaml:"api_key"`
	APIVersion string `yaml:"api_version"`
	Model      string `yaml:"model"`
	MaxTokens  int    `yaml:"max_tokens"`
	TimeoutMS  int    `yaml:"timeout_ms"`
}

type PlannerConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type PipelineConfig struct {
	BatchWindowMS      int `yaml:"batch_window_ms"`
	ContextWindow      int `yaml:"context_window"`
	TopMatches         int `yaml:"top_matches"`
	GuidanceCooldownMS int `yaml:"guidance_cooldown_ms"`
	SaveDebounceMS     int `yaml:"save_debounce_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "fitsignal-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		StateStore: StateStoreConfig{
			Path:          "./data/fitsignal-sessions.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Evaluator: EvaluatorConfig{
			Mode:       "mock",
			Endpoint:   "https://api.anthropic.com",
			APIVersion: "2023-06-01",
			Model:      "claude-3-opus-20240229",
			MaxTokens:  800,
			TimeoutMS:  15000,
		},
		Planner: PlannerConfig{
			Enabled:   true,
			Model:     "claude-3-opus-20240229",
			MaxTokens: 1500,
			TimeoutMS: 45000,
		},
		Pipeline: PipelineConfig{
			BatchWindowMS:      5000,
			ContextWindow:      20,
			TopMatches:         5,
			GuidanceCooldownMS: 180000,
			SaveDebounceMS:     2000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "FITSIGNAL_RUNTIME_NAME")
	overrideString(&cfg.Environment, "FITSIGNAL_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "FITSIGNAL_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "FITSIGNAL_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "FITSIGNAL_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "FITSIGNAL_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "FITSIGNAL_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "FITSIGNAL_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "FITSIGNAL_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "FITSIGNAL_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "FITSIGNAL_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "FITSIGNAL_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "FITSIGNAL_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "FITSIGNAL_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "FITSIGNAL_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "FITSIGNAL_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.StateStore.Path, "FITSIGNAL_STATE_STORE_PATH")
	overrideString(&cfg.StateStore.RetentionMode, "FITSIGNAL_STATE_STORE_RETENTION_MODE")
	overrideInt(&cfg.StateStore.RetentionDays, "FITSIGNAL_STATE_STORE_RETENTION_DAYS")
	overrideInt(&cfg.StateStore.MaxSessions, "FITSIGNAL_STATE_STORE_MAX_SESSIONS")
	overrideBool(&cfg.StateStore.VacuumOnStart, "FITSIGNAL_STATE_STORE_VACUUM_ON_START")
	overrideString(&cfg.Evaluator.Mode, "FITSIGNAL_EVALUATOR_MODE")
	overrideString(&cfg.Evaluator.Endpoint, "FITSIGNAL_EVALUATOR_ENDPOINT")
	overrideString(&cfg.Evaluator.APIKey, "FITSIGNAL_EVALUATOR_API_KEY")
	overrideString(&cfg.Evaluator.APIVersion, "FITSIGNAL_EVALUATOR_API_VERSION")
	overrideString(&cfg.Evaluator.Model, "FITSIGNAL_EVALUATOR_MODEL")
	overrideInt(&cfg.Evaluator.MaxTokens, "FITSIGNAL_EVALUATOR_MAX_TOKENS")
	overrideInt(&cfg.Evaluator.TimeoutMS, "FITSIGNAL_EVALUATOR_TIMEOUT_MS")
	overrideBool(&cfg.Planner.Enabled, "FITSIGNAL_PLANNER_ENABLED")
	overrideString(&cfg.Planner.Model, "FITSIGNAL_PLANNER_MODEL")
	overrideInt(&cfg.Planner.MaxTokens, "FITSIGNAL_PLANNER_MAX_TOKENS")
	overrideInt(&cfg.Planner.TimeoutMS, "FITSIGNAL_PLANNER_TIMEOUT_MS")
	overrideInt(&cfg.Pipeline.BatchWindowMS, "FITSIGNAL_PIPELINE_BATCH_WINDOW_MS")
	overrideInt(&cfg.Pipeline.ContextWindow, "FITSIGNAL_PIPELINE_CONTEXT_WINDOW")
	overrideInt(&cfg.Pipeline.TopMatches, "FITSIGNAL_PIPELINE_TOP_MATCHES")
	overrideInt(&cfg.Pipeline.GuidanceCooldownMS, "FITSIGNAL_PIPELINE_GUIDANCE_COOLDOWN_MS")
	overrideInt(&cfg.Pipeline.SaveDebounceMS, "FITSIGNAL_PIPELINE_SAVE_DEBOUNCE_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.StateStore.Path == "" {
		return errors.New("state_store.path must not be empty")
	}
	switch cfg.StateStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("state_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.StateStore.RetentionDays < 0 {
		return errors.New("state_store.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	switch cfg.Evaluator.Mode {
	case "mock", "anthropic":
	default:
		return errors.New("evaluator.mode must be one of mock|anthropic")
	}
	if cfg.Evaluator.Mode == "anthropic" {
		if cfg.Evaluator.Endpoint == "" {
			return errors.New("evaluator.endpoint must be set when mode=anthropic")
		}
		if cfg.Evaluator.APIKey == "" {
			return errors.New("evaluator.api_key must be set when mode=anthropic")
		}
		if cfg.Evaluator.Model == "" {
			return errors.New("evaluator.model must be set when mode=anthropic")
		}
	}
	if cfg.Evaluator.MaxTokens < 0 {
		return errors.New("evaluator.max_tokens must be >= 0")
	}
	if cfg.Evaluator.TimeoutMS <= 0 {
		return errors.New("evaluator.timeout_ms must be positive")
	}
	if cfg.Planner.Enabled && cfg.Planner.TimeoutMS <= 0 {
		return errors.New("planner.timeout_ms must be positive when planner is enabled")
	}
	if cfg.Pipeline.BatchWindowMS <= 0 {
		return errors.New("pipeline.batch_window_ms must be positive")
	}
	if cfg.Pipeline.ContextWindow <= 0 {
		return errors.New("pipeline.context_window must be positive")
	}
	if cfg.Pipeline.TopMatches <= 0 {
		return errors.New("pipeline.top_matches must be positive")
	}
	if cfg.Pipeline.GuidanceCooldownMS < 0 {
		return errors.New("pipeline.guidance_cooldown_ms must be >= 0")
	}
	if cfg.Pipeline.SaveDebounceMS < 0 {
		return errors.New("pipeline.save_debounce_ms must be >= 0")
	}
	return nil
}
