package subagent

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

// apiSystemPrompt frames API-backed invocations. The API backend has no
// tool loop of its own, so the model is asked to produce a unified diff
// that the caller applies.
const apiSystemPrompt = `You are a focused coding agent working on one subtask of a larger plan.
Produce a single unified diff implementing the requested change and nothing else.
Begin the diff with "--- " on its own line. If the subtask cannot be completed,
respond with a line starting with "BLOCKED:" followed by the reason.`

// APIBackend runs subtasks against the Anthropic Messages API, either
// directly or through AWS Bedrock.
type APIBackend struct {
	client anthropic.Client
	model  anthropic.Model
	name   string
	ready  bool
}

// APIConfig configures an APIBackend.
type APIConfig struct {
	// Model is the model identifier to invoke.
	Model string
	// APIKey is the Anthropic API key; falls back to ANTHROPIC_API_KEY.
	APIKey string
	// UseBedrock routes requests through AWS Bedrock using the default
	// AWS credential chain.
	UseBedrock bool
	// AWSRegion overrides the region for Bedrock.
	AWSRegion string
}

// NewAPIBackend creates an API backend. The returned backend reports
// unavailable (rather than erroring) when credentials are missing, so
// the router can fall through to another backend.
func NewAPIBackend(ctx context.Context, cfg APIConfig) (*APIBackend, error) {
	b := &APIBackend{
		model: anthropic.Model(cfg.Model),
		name:  "api",
	}
	if cfg.UseBedrock {
		b.name = "bedrock"
	}
	if b.model == "" {
		b.model = anthropic.ModelClaudeSonnet4_5_20250929
	}

	if cfg.UseBedrock {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.AWSRegion))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		b.client = anthropic.NewClient(bedrock.WithConfig(awsCfg))
		b.ready = true
		return b, nil
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return b, nil
	}
	b.client = anthropic.NewClient(option.WithAPIKey(apiKey))
	b.ready = true
	return b, nil
}

// Name identifies this backend.
func (b *APIBackend) Name() string { return b.name }

// Available reports whether credentials were resolved at construction.
func (b *APIBackend) Available() bool { return b.ready }

// Invoke sends the instructions as a single Messages call and extracts
// the diff or blockage from the response text.
func (b *APIBackend) Invoke(ctx context.Context, req Request) (*Result, error) {
	resp, err := b.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     b.model,
		MaxTokens: 8192,
		System: []anthropic.TextBlockParam{
			{Text: apiSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Instructions)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("messages api: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(variant.Text)
		}
	}
	output := text.String()

	if blocked, reason := parseBlocked(output); blocked {
		return &Result{Success: false, Output: output, Error: reason}, nil
	}

	result := &Result{Success: true, Output: output}
	if idx := strings.Index(output, "--- "); idx >= 0 {
		result.Diff = output[idx:]
	}
	return result, nil
}

// parseBlocked detects the backend's blocked marker in a response.
func parseBlocked(output string) (bool, string) {
	for _, line := range strings.Split(output, "\n") {
		if strings.HasPrefix(line, "BLOCKED:") {
			return true, strings.TrimSpace(strings.TrimPrefix(line, "BLOCKED:"))
		}
	}
	return false, ""
}

// Verify APIBackend implements Backend at compile time.
var _ Backend = (*APIBackend)(nil)
