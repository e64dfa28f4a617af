package handlers

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"

	"github.com/ShayCichocki/maestro/internal/executor"
)

// LLMClient is the model client behind the llm_call handler. It keeps
// a running token tally so step results can report usage.
type LLMClient struct {
	inner   anthropic.Client
	model   anthropic.Model
	tracker *TokenTracker
}

// LLMConfig selects the model and transport for an LLMClient.
type LLMConfig struct {
	// Model is the model to call. Empty picks a default.
	Model anthropic.Model
	// APIKey overrides the ANTHROPIC_API_KEY environment variable.
	APIKey string
	// UseAWSBedrock routes requests through AWS Bedrock instead of the
	// Anthropic API.
	UseAWSBedrock bool
	// AWSRegion is the Bedrock region, when set.
	AWSRegion string
	// AWSProfile is the shared-config profile to load, when set.
	AWSProfile string
}

// NewLLMClient builds the client for the configured transport. The
// direct API path requires a key; the Bedrock path resolves credentials
// through the AWS default chain.
func NewLLMClient(cfg LLMConfig) (*LLMClient, error) {
	var opts []option.RequestOption

	if cfg.UseAWSBedrock {
		ctx := context.Background()

		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}

		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	inner := anthropic.NewClient(opts...)

	model := cfg.Model
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}
	if cfg.UseAWSBedrock {
		model = translateModelForBedrock(model)
	}

	return &LLMClient{
		inner:   inner,
		model:   model,
		tracker: &TokenTracker{},
	}, nil
}

// translateModelForBedrock maps API model names onto Bedrock
// cross-region inference profile ids (us.anthropic.{model}-v1:0).
// Unknown names pass through unchanged.
func translateModelForBedrock(model anthropic.Model) anthropic.Model {
	bedrockModels := map[anthropic.Model]string{
		anthropic.ModelClaudeSonnet4_20250514:  "us.anthropic.claude-sonnet-4-20250514-v1:0",
		anthropic.ModelClaude3_7Sonnet20250219: "us.anthropic.claude-3-7-sonnet-20250219-v1:0",
		anthropic.ModelClaude3_5Haiku20241022:  "us.anthropic.claude-3-5-haiku-20241022-v1:0",
		anthropic.ModelClaudeOpus4_1_20250805:  "us.anthropic.claude-opus-4-1-20250805-v1:0",
	}

	if bedrockModel, ok := bedrockModels[model]; ok {
		return anthropic.Model(bedrockModel)
	}
	return model
}

// Tracker exposes the client's running token tally.
func (c *LLMClient) Tracker() *TokenTracker {
	return c.tracker
}

// Complete sends one user message and returns the concatenated text
// blocks of the response.
func (c *LLMClient) Complete(ctx context.Context, system, prompt string, maxTokens int64) (string, error) {
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := c.inner.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("message request: %w", err)
	}

	c.tracker.Add(resp.Usage.InputTokens, resp.Usage.OutputTokens)

	var text string
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text += variant.Text
		}
	}
	return text, nil
}

// LLMCall returns a handler that sends a prompt to the model and records
// the text response. Params: "prompt" (required), "system", "model",
// "max_tokens".
func LLMCall(client *LLMClient) executor.HandlerFunc {
	return func(ctx context.Context, params map[string]any, ec *executor.Context) (any, error) {
		prompt, _ := params["prompt"].(string)
		if prompt == "" {
			return nil, fmt.Errorf("llm_call requires a prompt param")
		}
		system, _ := params["system"].(string)

		maxTokens := int64(0)
		switch v := params["max_tokens"].(type) {
		case float64:
			maxTokens = int64(v)
		case int:
			maxTokens = int64(v)
		}

		text, err := client.Complete(ctx, system, prompt, maxTokens)
		if err != nil {
			return nil, err
		}

		in, out := client.tracker.Total()
		return map[string]any{
			"text":       text,
			"tokens_in":  in,
			"tokens_out": out,
		}, nil
	}
}

// TokenTracker accumulates token usage across calls. Handlers read it
// to attach usage to step results.
type TokenTracker struct {
	mu        sync.Mutex
	inputTok  int64
	outputTok int64
	calls     int
}

// Add folds one response's usage into the tally.
func (t *TokenTracker) Add(input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inputTok += input
	t.outputTok += output
	t.calls++
}

// Total returns the accumulated input and output token counts.
func (t *TokenTracker) Total() (input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inputTok, t.outputTok
}

// Calls returns how many responses have been tallied.
func (t *TokenTracker) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}
