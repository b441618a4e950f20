package agent

import (
	"context"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/avandras/agentcore/internal/logging"
	"github.com/avandras/agentcore/pkg/models"
)

// DefaultMaxIterations bounds the tool-use loop when a request doesn't
// specify its own cap.
const DefaultMaxIterations = 25

const defaultSystemPrompt = "You are an AI assistant helping with software development tasks."

// ClientConfig contains configuration for creating an AnthropicExecutor.
type ClientConfig struct {
	// Model is the Claude model to use.
	Model string
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY.
	APIKey string
	// UseAWSBedrock indicates whether to use AWS Bedrock instead of the
	// direct API.
	UseAWSBedrock bool
	// AWSRegion is the AWS region for Bedrock (e.g. "us-west-2").
	AWSRegion string
	// AWSProfile is the optional AWS profile name to use.
	AWSProfile string
}

// AnthropicExecutor implements Executor against the Anthropic Messages API,
// running a tool-use loop in which every tool call is authorized through
// the environment's gate before executing locally.
type AnthropicExecutor struct {
	client anthropic.Client
	model  anthropic.Model
	logger *logging.DebugLogger
}

// NewAnthropicExecutor creates an executor from the given client config.
func NewAnthropicExecutor(cfg ClientConfig, logger *logging.DebugLogger) (*AnthropicExecutor, error) {
	var opts []option.RequestOption

	if cfg.UseAWSBedrock {
		ctx := context.Background()

		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(cfg.AWSProfile))
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

	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}
	if logger == nil {
		logger = logging.NopLogger()
	}

	return &AnthropicExecutor{
		client: anthropic.NewClient(opts...),
		model:  model,
		logger: logger,
	}, nil
}

// Execute runs the agent loop: call the model, execute any tool-use blocks
// (each gated through env.Gate), feed results back, and stop at end of
// turn or the iteration cap.
func (e *AnthropicExecutor) Execute(ctx context.Context, req Request, env Env) (*Result, error) {
	model := e.model
	if req.Model != "" {
		model = anthropic.Model(req.Model)
	}

	maxIterations := req.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}

	systemPrompt := req.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}

	runner := NewToolRunner(env.WorkingDir)
	tools := ToolDefinitions(req.AvailableTools)

	result := &Result{}
	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
	}

	for result.Iterations < maxIterations {
		result.Iterations++

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     model,
			MaxTokens: 8192,
			System: []anthropic.TextBlockParam{
				{Text: systemPrompt},
			},
			Messages: messages,
			Tools:    tools,
		})
		if err != nil {
			return nil, fmt.Errorf("messages API: %w", err)
		}

		result.Usage.Add(models.TokenUsage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		})

		var assistantBlocks []anthropic.ContentBlockParamUnion
		var toolResultBlocks []anthropic.ContentBlockParamUnion

		for _, block := range resp.Content {
			switch variant := block.AsAny().(type) {
			case anthropic.TextBlock:
				assistantBlocks = append(assistantBlocks, anthropic.NewTextBlock(variant.Text))

			case anthropic.ToolUseBlock:
				assistantBlocks = append(assistantBlocks,
					anthropic.NewToolUseBlock(variant.ID, variant.Input, variant.Name))

				toolResult := e.runGatedTool(ctx, req, env, runner, variant)
				result.ToolsUsed = append(result.ToolsUsed, variant.Name)

				toolResultBlocks = append(toolResultBlocks,
					anthropic.NewToolResultBlock(variant.ID, toolResult.Content, toolResult.IsError))
			}
		}

		if resp.StopReason == anthropic.StopReasonEndTurn {
			var finalText string
			for _, block := range resp.Content {
				if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
					finalText += variant.Text
				}
			}
			result.Success = true
			result.Output = finalText
			return result, nil
		}

		messages = append(messages, anthropic.NewAssistantMessage(assistantBlocks...))
		if len(toolResultBlocks) > 0 {
			messages = append(messages, anthropic.NewUserMessage(toolResultBlocks...))
		}
	}

	result.Error = fmt.Sprintf("max iterations (%d) reached", maxIterations)
	return result, nil
}

// runGatedTool authorizes one tool-use block through the gate and executes
// it locally when allowed. Denials come back to the model as error tool
// results rather than aborting the invocation.
func (e *AnthropicExecutor) runGatedTool(ctx context.Context, req Request, env Env, runner *ToolRunner, block anthropic.ToolUseBlock) ToolResult {
	if env.Gate != nil {
		call := ClassifyToolCall(block.Name, block.Input)
		decision := env.Gate.PreExecutionCheck(req.AgentID, call)
		for _, w := range decision.Warnings {
			e.logger.Log("[executor] agent %s tool %s: %s", req.AgentID, block.Name, w)
		}
		if !decision.Allowed {
			e.logger.Log("[executor] agent %s tool %s denied: %s", req.AgentID, block.Name, decision.Reason)
			return ToolResult{
				Content: fmt.Sprintf("Tool call rejected: %s", decision.Reason),
				IsError: true,
			}
		}
	}

	return runner.Run(ctx, block.Name, block.Input)
}

// Verify AnthropicExecutor implements Executor at compile time.
var _ Executor = (*AnthropicExecutor)(nil)
