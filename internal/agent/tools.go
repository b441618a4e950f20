package agent

import (
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/avandras/agentcore/internal/pipeline"
)

// builtinTools is the set of tool names this executor can serve.
var builtinTools = []string{"Read", "Write", "Edit", "Bash"}

// ToolDefinitions returns the tool schemas offered to the model, filtered
// by an optional allow-list.
func ToolDefinitions(allowed []string) []anthropic.ToolUnionParam {
	permit := func(name string) bool {
		if len(allowed) == 0 {
			return true
		}
		for _, a := range allowed {
			if a == name {
				return true
			}
		}
		return false
	}

	var defs []anthropic.ToolUnionParam

	if permit("Read") {
		defs = append(defs, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        "Read",
				Description: anthropic.String("Read a file from the filesystem. Returns file contents with line numbers."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]interface{}{
						"file_path": map[string]interface{}{
							"type":        "string",
							"description": "Absolute path to the file to read",
						},
						"offset": map[string]interface{}{
							"type":        "integer",
							"description": "Line number to start reading from (1-indexed, optional)",
						},
						"limit": map[string]interface{}{
							"type":        "integer",
							"description": "Maximum number of lines to read (optional)",
						},
					},
					Required: []string{"file_path"},
				},
			},
		})
	}

	if permit("Write") {
		defs = append(defs, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        "Write",
				Description: anthropic.String("Write content to a file. Creates parent directories if needed."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]interface{}{
						"file_path": map[string]interface{}{
							"type":        "string",
							"description": "Absolute path to the file to write",
						},
						"content": map[string]interface{}{
							"type":        "string",
							"description": "Content to write to the file",
						},
					},
					Required: []string{"file_path", "content"},
				},
			},
		})
	}

	if permit("Edit") {
		defs = append(defs, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        "Edit",
				Description: anthropic.String("Edit a file by replacing text. The old_string must be unique unless replace_all is true."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]interface{}{
						"file_path": map[string]interface{}{
							"type":        "string",
							"description": "Absolute path to the file to edit",
						},
						"old_string": map[string]interface{}{
							"type":        "string",
							"description": "The exact text to find and replace",
						},
						"new_string": map[string]interface{}{
							"type":        "string",
							"description": "The text to replace it with",
						},
						"replace_all": map[string]interface{}{
							"type":        "boolean",
							"description": "If true, replace all occurrences (default: false)",
						},
					},
					Required: []string{"file_path", "old_string", "new_string"},
				},
			},
		})
	}

	if permit("Bash") {
		defs = append(defs, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        "Bash",
				Description: anthropic.String("Execute a bash command and return the output."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]interface{}{
						"command": map[string]interface{}{
							"type":        "string",
							"description": "The bash command to execute",
						},
						"timeout": map[string]interface{}{
							"type":        "integer",
							"description": "Timeout in milliseconds (optional)",
						},
					},
					Required: []string{"command"},
				},
			},
		})
	}

	return defs
}

// ClassifyToolCall maps a tool invocation onto the pipeline's permission
// vocabulary so the gate can authorize it.
func ClassifyToolCall(name string, input json.RawMessage) pipeline.ToolCall {
	call := pipeline.ToolCall{Tool: name}

	var params struct {
		FilePath string `json:"file_path"`
		Command  string `json:"command"`
	}
	// Malformed input still gets classified; the tool itself rejects it.
	_ = json.Unmarshal(input, &params)

	switch name {
	case "Read":
		call.Action = pipeline.ActionRead
		call.Path = params.FilePath
	case "Write", "Edit":
		call.Action = pipeline.ActionWrite
		call.Path = params.FilePath
	case "Bash":
		call.Action = pipeline.ActionExecute
		call.Command = params.Command
	default:
		// Unknown tools are treated as executes with no target, which the
		// standard policy denies unless auto-approved.
		call.Action = pipeline.ActionExecute
		call.Path = params.FilePath
		call.Command = params.Command
	}

	return call
}
