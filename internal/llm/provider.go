package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/szaher/minime/internal/awsutil"
)

// Provider identifies an LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderBedrock   Provider = "bedrock"
)

// ProviderConfig carries the credentials the provider clients need.
type ProviderConfig struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	AWSRegion       string
	Logger          *slog.Logger
}

// ParseModelString splits a model string into provider and model name.
//
//	"bedrock/eu.amazon.nova-micro-v1:0" → (bedrock, "eu.amazon.nova-micro-v1:0")
//	"openai/gpt-4o-mini"                → (openai, "gpt-4o-mini")
//	"claude-haiku-4-5"                  → (anthropic, "claude-haiku-4-5")
//	"gpt-4o"                            → (openai, "gpt-4o")
//	"amazon.nova-lite-v1:0"             → (bedrock, "amazon.nova-lite-v1:0")
func ParseModelString(model string) (Provider, string) {
	if i := strings.Index(model, "/"); i > 0 {
		name := model[i+1:]
		switch strings.ToLower(model[:i]) {
		case "openai":
			return ProviderOpenAI, name
		case "anthropic":
			return ProviderAnthropic, name
		case "bedrock":
			return ProviderBedrock, name
		}
	}

	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "gpt-"), strings.HasPrefix(lower, "o3"), strings.HasPrefix(lower, "o4"):
		return ProviderOpenAI, model
	case strings.Contains(lower, "amazon."), strings.Contains(lower, "anthropic.claude"), strings.Contains(lower, "meta.llama"):
		return ProviderBedrock, model
	default:
		return ProviderAnthropic, model
	}
}

// NewClientForModel builds the client for a model string and returns the bare
// model name to put on requests.
func NewClientForModel(ctx context.Context, model string, cfg ProviderConfig) (Client, string, error) {
	provider, name := ParseModelString(model)
	if name == "" {
		return nil, "", fmt.Errorf("model %q has no name", model)
	}

	switch provider {
	case ProviderOpenAI:
		return NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.Logger), name, nil
	case ProviderBedrock:
		awsCfg, err := awsutil.Load(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, "", err
		}
		return NewBedrockClient(bedrockruntime.NewFromConfig(awsCfg), cfg.Logger), name, nil
	default:
		return NewAnthropicClient(cfg.AnthropicAPIKey, cfg.Logger), name, nil
	}
}
