package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	"github.com/szaher/minime/internal/agent"
	"github.com/szaher/minime/internal/awsutil"
	"github.com/szaher/minime/internal/calendar"
	"github.com/szaher/minime/internal/config"
	"github.com/szaher/minime/internal/expr"
	"github.com/szaher/minime/internal/llm"
	"github.com/szaher/minime/internal/memory"
	"github.com/szaher/minime/internal/notify"
	"github.com/szaher/minime/internal/rag"
	"github.com/szaher/minime/internal/secrets"
	"github.com/szaher/minime/internal/store"
	"github.com/szaher/minime/internal/telemetry"
	"github.com/szaher/minime/internal/tools"
)

// deps holds the process-wide components shared by every command.
type deps struct {
	cfg     *config.Config
	logger  *slog.Logger
	redact  *secrets.RedactFilter
	metrics *telemetry.Metrics
	store   store.Store
	close   func()

	summaryClient llm.Client
	summaryModel  string
}

func newDeps(ctx context.Context) (*deps, error) {
	cfg, err := config.Load(ctx, configPath)
	if err != nil {
		return nil, err
	}

	level, err := telemetry.ParseLevel(cfg.Telemetry.LogLevel)
	if err != nil {
		return nil, err
	}
	if verbose {
		level = slog.LevelDebug
	}
	logger, redact := telemetry.NewLogger(os.Stderr, level)
	redact.AddSecret(cfg.Secrets()...)
	slog.SetDefault(logger)

	st, closeStore, err := store.Open(ctx, cfg.StoreOptions())
	if err != nil {
		return nil, err
	}
	logger.Debug("conversation store ready", "backend", cfg.Store.Backend)

	return &deps{
		cfg:     cfg,
		logger:  logger,
		redact:  redact,
		metrics: telemetry.NewMetrics(),
		store:   st,
		close:   closeStore,
	}, nil
}

func (d *deps) providerConfig() llm.ProviderConfig {
	return llm.ProviderConfig{
		AnthropicAPIKey: d.cfg.Providers.AnthropicAPIKey,
		OpenAIAPIKey:    d.cfg.Providers.OpenAIAPIKey,
		OpenAIBaseURL:   d.cfg.Providers.OpenAIBaseURL,
		AWSRegion:       d.cfg.Providers.AWSRegion,
		Logger:          d.logger,
	}
}

// summarizer returns the cheaper model client used for summaries and query
// rewriting. It is created on first use.
func (d *deps) summarizer(ctx context.Context) (llm.Client, string, error) {
	if d.summaryClient != nil {
		return d.summaryClient, d.summaryModel, nil
	}
	client, model, err := llm.NewClientForModel(ctx, d.cfg.Model.Summary, d.providerConfig())
	if err != nil {
		return nil, "", fmt.Errorf("summary model: %w", err)
	}
	d.summaryClient, d.summaryModel = client, model
	return client, model, nil
}

func (d *deps) opener(ctx context.Context) (memory.Opener, error) {
	client, model, err := d.summarizer(ctx)
	if err != nil {
		return memory.Opener{}, err
	}
	return memory.Opener{
		Store:      d.store,
		Summarizer: memory.NewLLMSummarizer(client, model),
		Options: []memory.Option{
			memory.WithConfig(d.cfg.Memory),
			memory.WithLogger(d.logger),
			memory.WithRecorder(d.metrics),
		},
	}, nil
}

func personaPrompt(cfg *config.Config) string {
	if cfg.Persona.Prompt != "" {
		return cfg.Persona.Prompt
	}
	return agent.DefaultPersona(cfg.Persona.Name)
}

func (d *deps) tools(ctx context.Context) (*tools.Registry, error) {
	registry := tools.NewRegistry(
		tools.NewCurrentTime(),
		tools.NewConvertTime(),
		tools.NewUpdateUserInfo(d.store, d.logger),
	)
	registry.SetRecorder(d.metrics.RecordToolCall)

	loc, err := time.LoadLocation(d.cfg.Calendar.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("calendar time zone: %w", err)
	}
	var rule *expr.Rule
	if d.cfg.Calendar.Availability != "" {
		if rule, err = expr.Compile(d.cfg.Calendar.Availability); err != nil {
			return nil, fmt.Errorf("calendar availability: %w", err)
		}
	}
	var cal calendar.Scheduler = calendar.Unconfigured{}
	creds, err := calendar.LoadCredentials(d.cfg.Calendar.ServiceAccountFile)
	switch {
	case errors.Is(err, calendar.ErrNotConfigured):
		d.logger.Warn("calendar not configured, meeting requests will be declined")
	case err != nil:
		return nil, err
	default:
		if cal, err = calendar.NewGoogleCalendar(ctx, creds, "", d.cfg.Calendar.CalendarID); err != nil {
			return nil, err
		}
	}
	registry.Register(tools.NewScheduleMeeting(cal, rule, loc, d.cfg.Persona.Name, d.logger))

	if d.cfg.RAG.IndexHost == "" || d.cfg.RAG.PineconeAPIKey == "" {
		d.logger.Warn("document index not configured, search_docs disabled")
		return registry, nil
	}
	client, model, err := d.summarizer(ctx)
	if err != nil {
		return nil, err
	}
	index, err := d.index()
	if err != nil {
		return nil, err
	}
	registry.Register(tools.NewSearchDocs(index, rag.NewRewriter(client, model), d.cfg.RAG.TopK, d.cfg.RAG.TopN, d.logger))
	return registry, nil
}

// index connects to the configured Pinecone index.
func (d *deps) index() (*rag.PineconeIndex, error) {
	conn, err := rag.DialPinecone(d.cfg.RAG.PineconeAPIKey, d.cfg.RAG.IndexHost, d.cfg.RAG.Namespace)
	if err != nil {
		return nil, err
	}
	return rag.NewPineconeIndex(conn, d.cfg.RAG.RerankModel), nil
}

func (d *deps) agent(ctx context.Context) (*agent.Agent, memory.Opener, error) {
	opener, err := d.opener(ctx)
	if err != nil {
		return nil, memory.Opener{}, err
	}
	registry, err := d.tools(ctx)
	if err != nil {
		return nil, memory.Opener{}, err
	}
	client, model, err := llm.NewClientForModel(ctx, d.cfg.Model.Chat, d.providerConfig())
	if err != nil {
		return nil, memory.Opener{}, fmt.Errorf("chat model: %w", err)
	}

	a := agent.New(client, opener, registry, agent.Config{
		Model:        model,
		MaxTokens:    d.cfg.Model.MaxTokens,
		Temperature:  llm.Float(d.cfg.Model.Temperature),
		TopP:         llm.Float(d.cfg.Model.TopP),
		MaxToolTurns: d.cfg.Model.MaxToolTurns,
		Persona:      personaPrompt(d.cfg),
	}, agent.WithLogger(d.logger), agent.WithRecorder(d.metrics))
	return a, opener, nil
}

// reporter builds the end-of-conversation reporter. It returns nil when no
// sender or recipient is configured.
func (d *deps) reporter(ctx context.Context) (*notify.Reporter, error) {
	if d.cfg.Notify.From == "" || d.cfg.Notify.To == "" {
		return nil, nil
	}
	client, model, err := d.summarizer(ctx)
	if err != nil {
		return nil, err
	}
	awsCfg, err := awsutil.Load(ctx, d.cfg.Providers.AWSRegion)
	if err != nil {
		return nil, err
	}
	mailer := notify.NewSESMailer(sesv2.NewFromConfig(awsCfg))
	summarizer := memory.NewLLMSummarizer(client, model, memory.WithPrompt(memory.ConversationPrompt))
	return notify.NewReporter(d.store, summarizer, mailer, d.cfg.Notify.From, d.cfg.Notify.To, d.logger), nil
}
