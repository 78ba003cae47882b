package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/taskhive/taskhive/pkg/models"
)

const (
	maxOutputChars = 50000
	maxRawOutput   = 10 * 1024 * 1024 // 10MB per stream before truncation
	defaultTimeout = 120 * time.Second
	maxTimeout     = 600 * time.Second
)

// BashTool executes shell commands with a caller-overridable timeout.
// Non-zero exit is reported as a failed result carrying the captured
// output, never as an error escaping the tool.
type BashTool struct {
	WorkingDir string
}

func (t *BashTool) Name() string { return "Bash" }

func (t *BashTool) Description() string {
	return "Execute a bash command. Use for git, npm, system commands, etc."
}

func (t *BashTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The bash command to execute",
			},
			"timeout": map[string]any{
				"type":        "number",
				"description": "Timeout in milliseconds (max 600000)",
			},
			"working_directory": map[string]any{
				"type":        "string",
				"description": "Working directory for the command",
			},
		},
		"required": []string{"command"},
	}
}

func (t *BashTool) Execute(ctx context.Context, input map[string]any) models.ToolResult {
	command := stringInput(input, "command")
	if command == "" {
		return failure("command is required", errors.New("command is required"))
	}

	timeout := defaultTimeout
	if ms := intInput(input, "timeout"); ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
		if timeout > maxTimeout {
			timeout = maxTimeout
		}
	}
	cwd := stringInput(input, "working_directory")
	if cwd == "" {
		cwd = t.WorkingDir
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	cmd.Dir = cwd
	cmd.Env = append(os.Environ(), "FORCE_COLOR=0")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdout, n: maxRawOutput}
	cmd.Stderr = &limitedWriter{w: &stderr, n: maxRawOutput}

	err := cmd.Run()
	output := stdout.String()
	if stderr.Len() > 0 {
		output += "\nSTDERR:\n" + stderr.String()
	}
	output = truncateOutput(output)

	if err != nil {
		msg := err.Error()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			msg = fmt.Sprintf("command timed out after %s", timeout)
		}
		return models.ToolResult{
			Success: false,
			Output:  truncateOutput(output + "\nError: " + msg),
			Error:   msg,
		}
	}

	if output == "" {
		output = "(no output)"
	}
	return models.ToolResult{Success: true, Output: output}
}

func truncateOutput(s string) string {
	if len(s) > maxOutputChars {
		return s[:maxOutputChars] + "\n... (output truncated)"
	}
	return s
}

// limitedWriter discards bytes past n; command output is bounded even when
// a process floods stdout.
type limitedWriter struct {
	w *bytes.Buffer
	n int
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if l.w.Len() >= l.n {
		return len(p), nil
	}
	if remain := l.n - l.w.Len(); len(p) > remain {
		l.w.Write(p[:remain])
		return len(p), nil
	}
	return l.w.Write(p)
}
