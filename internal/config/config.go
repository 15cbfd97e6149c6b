// Package config loads the minime YAML configuration, applies environment
// overrides and resolves env(NAME) secret references.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/szaher/minime/internal/memory"
	"github.com/szaher/minime/internal/secrets"
	"github.com/szaher/minime/internal/store"
)

// DefaultPath is used when no --config flag is given.
const DefaultPath = "minime.yaml"

// Config is the full process configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Model     ModelConfig     `yaml:"model"`
	Providers ProvidersConfig `yaml:"providers"`
	Memory    memory.Config   `yaml:"memory"`
	Store     StoreConfig     `yaml:"store"`
	Persona   PersonaConfig   `yaml:"persona"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Session   SessionConfig   `yaml:"session"`
	Events    EventsConfig    `yaml:"events"`
	Notify    NotifyConfig    `yaml:"notify"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Calendar  CalendarConfig  `yaml:"calendar"`
	RAG       RAGConfig       `yaml:"rag"`
	Geo       GeoConfig       `yaml:"geo"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	APIKey         string   `yaml:"api_key"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type ModelConfig struct {
	Chat         string  `yaml:"chat"`
	Summary      string  `yaml:"summary"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float64 `yaml:"temperature"`
	TopP         float64 `yaml:"top_p"`
	MaxToolTurns int     `yaml:"max_tool_turns"`
}

type ProvidersConfig struct {
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`
	AWSRegion       string `yaml:"aws_region"`
}

type StoreConfig struct {
	Backend       string   `yaml:"backend"`
	DynamoTable   string   `yaml:"dynamodb_table"`
	PostgresDSN   string   `yaml:"postgres_dsn"`
	EtcdEndpoints []string `yaml:"etcd_endpoints"`
	EtcdPrefix    string   `yaml:"etcd_prefix"`
}

// PersonaConfig holds the system prompt. PromptFile wins over Prompt when set.
type PersonaConfig struct {
	Name       string `yaml:"name"`
	Prompt     string `yaml:"prompt"`
	PromptFile string `yaml:"prompt_file"`
}

type RateLimitConfig struct {
	PerMinute float64 `yaml:"per_minute"`
	Burst     int     `yaml:"burst"`
}

type SessionConfig struct {
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	SweepSchedule string        `yaml:"sweep_schedule"`
}

type EventsConfig struct {
	BusName     string `yaml:"bus_name"`
	EventBridge bool   `yaml:"eventbridge"`
}

type NotifyConfig struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

type ArchiveConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

type CalendarConfig struct {
	ServiceAccountFile string `yaml:"service_account_file"`
	CalendarID         string `yaml:"calendar_id"`
	TimeZone           string `yaml:"time_zone"`

	// Availability is an expr rule evaluated against the requested slot.
	Availability string `yaml:"availability"`
}

type RAGConfig struct {
	PineconeAPIKey string `yaml:"pinecone_api_key"`
	IndexHost      string `yaml:"index_host"`
	Namespace      string `yaml:"namespace"`
	TopK           int    `yaml:"top_k"`
	TopN           int    `yaml:"top_n"`
	RerankModel    string `yaml:"rerank_model"`

	// Notion database exported by `minime ingest`.
	NotionAPIKey        string `yaml:"notion_api_key"`
	NotionDatabaseID    string `yaml:"notion_database_id"`
	NotionTitleProperty string `yaml:"notion_title_property"`
}

type GeoConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
}

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// Default returns a configuration with every field set to its default.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080"},
		Model: ModelConfig{
			Chat:         "anthropic/claude-haiku-4-5",
			Summary:      "bedrock/eu.amazon.nova-micro-v1:0",
			MaxTokens:    1024,
			Temperature:  0.7,
			TopP:         0.9,
			MaxToolTurns: 5,
		},
		Providers: ProvidersConfig{AWSRegion: "eu-central-1"},
		Memory:    memory.DefaultConfig(),
		Store:     StoreConfig{Backend: store.BackendMemory, EtcdPrefix: "/minime"},
		Persona:   PersonaConfig{Name: "Mini-Me"},
		RateLimit: RateLimitConfig{PerMinute: 4, Burst: 6},
		Session:   SessionConfig{IdleTimeout: 30 * time.Minute, SweepSchedule: "@every 1m"},
		Events:    EventsConfig{BusName: "default"},
		Archive:   ArchiveConfig{Prefix: "transcripts"},
		Calendar:  CalendarConfig{CalendarID: "primary", TimeZone: "UTC"},
		RAG:       RAGConfig{Namespace: "default", TopK: 40, TopN: 20, RerankModel: "bge-reranker-v2-m3"},
		Geo:       GeoConfig{Enabled: true, BaseURL: "http://ip-api.com"},
		Telemetry: TelemetryConfig{LogLevel: "info", ServiceName: "minime"},
	}
}

// Load reads the file at path over the defaults, applies environment
// overrides, resolves secret references and validates the result. A missing
// file at DefaultPath is not an error.
func Load(ctx context.Context, path string) (*Config, error) {
	return load(ctx, path, os.LookupEnv, secrets.NewEnvResolver())
}

func load(ctx context.Context, path string, lookup func(string) (string, bool), resolver secrets.Resolver) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && path == DefaultPath:
	default:
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg.applyEnv(lookup)
	if err := cfg.resolveSecrets(ctx, resolver); err != nil {
		return nil, err
	}
	if cfg.Persona.PromptFile != "" {
		prompt, err := os.ReadFile(cfg.Persona.PromptFile)
		if err != nil {
			return nil, fmt.Errorf("reading persona prompt: %w", err)
		}
		cfg.Persona.Prompt = string(prompt)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	overrides := []struct {
		name string
		dst  *string
	}{
		{"ANTHROPIC_API_KEY", &c.Providers.AnthropicAPIKey},
		{"OPENAI_API_KEY", &c.Providers.OpenAIAPIKey},
		{"OPENAI_BASE_URL", &c.Providers.OpenAIBaseURL},
		{"AWS_REGION", &c.Providers.AWSRegion},
		{"MINIME_STORE", &c.Store.Backend},
		{"DYNAMODB_TABLE", &c.Store.DynamoTable},
		{"DATABASE_URL", &c.Store.PostgresDSN},
		{"PINECONE_API_KEY", &c.RAG.PineconeAPIKey},
		{"NOTION_API_KEY", &c.RAG.NotionAPIKey},
		{"NOTION_DB_ID", &c.RAG.NotionDatabaseID},
		{"GOOGLE_SERVICE_ACCOUNT", &c.Calendar.ServiceAccountFile},
		{"SES_FROM_EMAIL", &c.Notify.From},
		{"SES_TO_EMAIL", &c.Notify.To},
		{"EVENT_BUS_NAME", &c.Events.BusName},
		{"MINIME_API_KEY", &c.Server.APIKey},
	}
	for _, o := range overrides {
		if v, ok := lookup(o.name); ok && v != "" {
			*o.dst = v
		}
	}
}

// secretFields lists the fields that may hold env(NAME) references and whose
// values are scrubbed from logs.
func (c *Config) secretFields() []*string {
	return []*string{
		&c.Providers.AnthropicAPIKey,
		&c.Providers.OpenAIAPIKey,
		&c.Store.PostgresDSN,
		&c.RAG.PineconeAPIKey,
		&c.RAG.NotionAPIKey,
		&c.Server.APIKey,
	}
}

func (c *Config) resolveSecrets(ctx context.Context, r secrets.Resolver) error {
	for _, field := range c.secretFields() {
		v, err := secrets.Expand(ctx, r, *field)
		if err != nil {
			return fmt.Errorf("resolving secret: %w", err)
		}
		*field = v
	}
	return nil
}

// Secrets returns the non-empty resolved secret values.
func (c *Config) Secrets() []string {
	var out []string
	for _, field := range c.secretFields() {
		if *field != "" {
			out = append(out, *field)
		}
	}
	return out
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Memory.Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.Store.Backend {
	case "", store.BackendMemory:
	case store.BackendDynamoDB:
		if c.Store.DynamoTable == "" {
			errs = append(errs, errors.New("store.dynamodb_table is required for the dynamodb backend"))
		}
	case store.BackendPostgres:
		if c.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("store.postgres_dsn is required for the postgres backend"))
		}
	case store.BackendEtcd:
		if len(c.Store.EtcdEndpoints) == 0 {
			errs = append(errs, errors.New("store.etcd_endpoints is required for the etcd backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}
	for _, m := range []string{c.Model.Chat, c.Model.Summary} {
		if err := checkModel(m); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Model.TopP <= 0 || c.Model.TopP > 1 {
		errs = append(errs, errors.New("model.top_p must be in (0, 1]"))
	}
	if c.Model.MaxToolTurns < 1 {
		errs = append(errs, errors.New("model.max_tool_turns must be at least 1"))
	}
	if c.RateLimit.PerMinute <= 0 || c.RateLimit.Burst < 1 {
		errs = append(errs, errors.New("rate_limit.per_minute and rate_limit.burst must be positive"))
	}
	if c.Session.IdleTimeout <= 0 {
		errs = append(errs, errors.New("session.idle_timeout must be positive"))
	}
	return errors.Join(errs...)
}

func checkModel(model string) error {
	if model == "" {
		return errors.New("model names must not be empty")
	}
	provider, _, ok := strings.Cut(model, "/")
	if !ok {
		return nil
	}
	switch strings.ToLower(provider) {
	case "anthropic", "openai", "bedrock":
		return nil
	default:
		return fmt.Errorf("unknown model provider %q in %q", provider, model)
	}
}

// StoreOptions converts the store section for store.Open.
func (c *Config) StoreOptions() store.Options {
	return store.Options{
		Backend:       c.Store.Backend,
		Region:        c.Providers.AWSRegion,
		DynamoTable:   c.Store.DynamoTable,
		PostgresDSN:   c.Store.PostgresDSN,
		EtcdEndpoints: c.Store.EtcdEndpoints,
		EtcdPrefix:    c.Store.EtcdPrefix,
	}
}
