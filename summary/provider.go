package summary

import (
	"context"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/bedrock"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/mykhaliev/agent-scenario-runner/logger"
	"github.com/mykhaliev/agent-scenario-runner/model"
)

// NewJudgeLLM builds the LLM used for post-run analysis from the document's
// ai_summary configuration block.
func NewJudgeLLM(ctx context.Context, cfg model.AISummary) (llms.Model, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("ai_summary requires a model")
	}

	switch cfg.Provider {
	case model.ProviderOpenAI:
		opts := []openai.Option{
			openai.WithToken(cfg.Token),
			openai.WithModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
			logger.Logger.Debug("Using custom base URL", "url", cfg.BaseURL)
		}
		return openai.New(opts...)

	case model.ProviderAnthropic:
		return anthropic.New(
			anthropic.WithModel(cfg.Model),
			anthropic.WithToken(cfg.Token),
		)

	case model.ProviderAmazonAnthropic:
		awsCfg, err := config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.Location),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.Token,
				cfg.Secret,
				"",
			)),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		brc := bedrockruntime.NewFromConfig(awsCfg)
		return bedrock.New(
			bedrock.WithClient(brc),
			bedrock.WithModel(cfg.Model),
		)

	case model.ProviderAzure:
		if cfg.Version == "" {
			return nil, fmt.Errorf("Azure provider requires version")
		}
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("Azure provider requires base URL")
		}
		opts := []openai.Option{
			openai.WithModel(cfg.Model),
			openai.WithAPIVersion(cfg.Version),
			openai.WithBaseURL(cfg.BaseURL),
		}
		// "entra_id" uses DefaultAzureCredential; anything else is API key.
		if strings.ToLower(cfg.AuthType) == "entra_id" {
			cred, err := azidentity.NewDefaultAzureCredential(nil)
			if err != nil {
				return nil, fmt.Errorf("failed to create Azure credential: %w", err)
			}
			token, err := cred.GetToken(ctx, policy.TokenRequestOptions{
				Scopes: []string{"https://cognitiveservices.azure.com/.default"},
			})
			if err != nil {
				return nil, fmt.Errorf("failed to get Azure token: %w", err)
			}
			opts = append(opts, openai.WithAPIType(openai.APITypeAzureAD))
			opts = append(opts, openai.WithToken(token.Token))
		} else {
			if cfg.Token == "" {
				return nil, fmt.Errorf("Azure provider requires token when using api_key authentication")
			}
			opts = append(opts, openai.WithAPIType(openai.APITypeAzure))
			opts = append(opts, openai.WithToken(cfg.Token))
		}
		return openai.New(opts...)

	default:
		return nil, fmt.Errorf("unsupported provider type: %s", cfg.Provider)
	}
}
