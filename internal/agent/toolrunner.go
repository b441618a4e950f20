package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// maxBashOutput truncates runaway command output.
const maxBashOutput = 30000

// ToolRunner executes the built-in tool calls locally.
type ToolRunner struct {
	workDir string
}

// NewToolRunner creates a tool runner rooted at the given working directory.
func NewToolRunner(workDir string) *ToolRunner {
	return &ToolRunner{workDir: workDir}
}

// ToolResult represents the result of one tool execution.
type ToolResult struct {
	Content string
	IsError bool
}

// Run executes a tool by name with the given JSON input.
func (r *ToolRunner) Run(ctx context.Context, name string, input json.RawMessage) ToolResult {
	switch name {
	case "Read":
		return r.runRead(input)
	case "Write":
		return r.runWrite(input)
	case "Edit":
		return r.runEdit(input)
	case "Bash":
		return r.runBash(ctx, input)
	default:
		return ToolResult{Content: fmt.Sprintf("Unknown tool: %s", name), IsError: true}
	}
}

func (r *ToolRunner) runRead(input json.RawMessage) ToolResult {
	var params struct {
		FilePath string `json:"file_path"`
		Offset   int    `json:"offset"`
		Limit    int    `json:"limit"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return ToolResult{Content: fmt.Sprintf("Invalid parameters: %v", err), IsError: true}
	}

	path := r.resolvePath(params.FilePath)
	content, err := os.ReadFile(path)
	if err != nil {
		return ToolResult{Content: fmt.Sprintf("Failed to read file: %v", err), IsError: true}
	}

	lines := strings.Split(string(content), "\n")

	start := 0
	if params.Offset > 0 {
		start = params.Offset - 1
		if start >= len(lines) {
			return ToolResult{Content: "Offset beyond end of file", IsError: true}
		}
	}

	end := len(lines)
	if params.Limit > 0 && start+params.Limit < end {
		end = start + params.Limit
	}

	var result strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&result, "%6d\t%s\n", i+1, lines[i])
	}

	return ToolResult{Content: result.String()}
}

func (r *ToolRunner) runWrite(input json.RawMessage) ToolResult {
	var params struct {
		FilePath string `json:"file_path"`
		Content  string `json:"content"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return ToolResult{Content: fmt.Sprintf("Invalid parameters: %v", err), IsError: true}
	}

	path := r.resolvePath(params.FilePath)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return ToolResult{Content: fmt.Sprintf("Failed to create directory: %v", err), IsError: true}
	}
	if err := os.WriteFile(path, []byte(params.Content), 0644); err != nil {
		return ToolResult{Content: fmt.Sprintf("Failed to write file: %v", err), IsError: true}
	}

	return ToolResult{Content: fmt.Sprintf("Successfully wrote %d bytes to %s", len(params.Content), params.FilePath)}
}

func (r *ToolRunner) runEdit(input json.RawMessage) ToolResult {
	var params struct {
		FilePath   string `json:"file_path"`
		OldString  string `json:"old_string"`
		NewString  string `json:"new_string"`
		ReplaceAll bool   `json:"replace_all"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return ToolResult{Content: fmt.Sprintf("Invalid parameters: %v", err), IsError: true}
	}

	path := r.resolvePath(params.FilePath)
	content, err := os.ReadFile(path)
	if err != nil {
		return ToolResult{Content: fmt.Sprintf("Failed to read file: %v", err), IsError: true}
	}

	contentStr := string(content)
	count := strings.Count(contentStr, params.OldString)
	if count == 0 {
		return ToolResult{Content: "old_string not found in file", IsError: true}
	}
	if !params.ReplaceAll && count > 1 {
		return ToolResult{
			Content: fmt.Sprintf("old_string found %d times; must be unique or use replace_all=true", count),
			IsError: true,
		}
	}

	var newContent string
	if params.ReplaceAll {
		newContent = strings.ReplaceAll(contentStr, params.OldString, params.NewString)
	} else {
		newContent = strings.Replace(contentStr, params.OldString, params.NewString, 1)
	}

	if err := os.WriteFile(path, []byte(newContent), 0644); err != nil {
		return ToolResult{Content: fmt.Sprintf("Failed to write file: %v", err), IsError: true}
	}

	if params.ReplaceAll {
		return ToolResult{Content: fmt.Sprintf("Replaced %d occurrences", count)}
	}
	return ToolResult{Content: "Edit successful"}
}

func (r *ToolRunner) runBash(ctx context.Context, input json.RawMessage) ToolResult {
	var params struct {
		Command string `json:"command"`
		Timeout int    `json:"timeout"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return ToolResult{Content: fmt.Sprintf("Invalid parameters: %v", err), IsError: true}
	}

	timeout := 120 * time.Second
	if params.Timeout > 0 {
		timeout = time.Duration(params.Timeout) * time.Millisecond
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "bash", "-c", params.Command)
	cmd.Dir = r.workDir

	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return ToolResult{
				Content: fmt.Sprintf("Command timed out after %v:\n%s", timeout, string(output)),
				IsError: true,
			}
		}
		return ToolResult{
			Content: fmt.Sprintf("%s\nError: %v", string(output), err),
			IsError: true,
		}
	}

	result := string(output)
	if len(result) > maxBashOutput {
		result = result[:maxBashOutput] + "\n... (output truncated)"
	}

	return ToolResult{Content: result}
}

// resolvePath makes relative paths relative to the working directory.
func (r *ToolRunner) resolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(r.workDir, path)
}
