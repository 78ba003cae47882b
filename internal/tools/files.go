package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/taskhive/taskhive/pkg/models"
)

const (
	maxFileSize = 1024 * 1024 // 1MB
	maxLines    = 2000
)

// ReadTool returns file contents with line numbers, bounded by size and
// line-count limits.
type ReadTool struct{}

func (t *ReadTool) Name() string { return "Read" }

func (t *ReadTool) Description() string {
	return "Read a file from the filesystem. Returns file contents with line numbers."
}

func (t *ReadTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"file_path": map[string]any{
				"type":        "string",
				"description": "Absolute path to the file to read",
			},
			"offset": map[string]any{
				"type":        "number",
				"description": "Line number to start reading from (1-indexed)",
			},
			"limit": map[string]any{
				"type":        "number",
				"description": "Number of lines to read",
			},
		},
		"required": []string{"file_path"},
	}
}

func (t *ReadTool) Execute(ctx context.Context, input map[string]any) models.ToolResult {
	filePath := stringInput(input, "file_path")
	offset := intInput(input, "offset")
	if offset < 1 {
		offset = 1
	}
	limit := intInput(input, "limit")
	if limit <= 0 {
		limit = maxLines
	}

	info, err := os.Stat(filePath)
	if err != nil {
		return failure("Failed to read file: "+err.Error(), err)
	}
	if info.Size() > maxFileSize {
		err := errors.New("file too large")
		return failure(fmt.Sprintf("File too large (%d bytes). Max: %d bytes", info.Size(), maxFileSize), err)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return failure("Failed to read file: "+err.Error(), err)
	}

	lines := strings.Split(string(data), "\n")
	start := offset - 1
	if start > len(lines) {
		start = len(lines)
	}
	end := start + limit
	if end > len(lines) {
		end = len(lines)
	}

	var b strings.Builder
	for i, line := range lines[start:end] {
		fmt.Fprintf(&b, "%6d→%s", start+i+1, line)
		if start+i+1 < end {
			b.WriteByte('\n')
		}
	}
	return models.ToolResult{Success: true, Output: b.String()}
}

// WriteTool creates or overwrites a file, making parent directories as
// needed. Content is always UTF-8 text.
type WriteTool struct{}

func (t *WriteTool) Name() string { return "Write" }

func (t *WriteTool) Description() string {
	return "Write content to a file. Creates the file if it does not exist."
}

func (t *WriteTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"file_path": map[string]any{
				"type":        "string",
				"description": "Absolute path to the file to write",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Content to write to the file",
			},
		},
		"required": []string{"file_path", "content"},
	}
}

func (t *WriteTool) Execute(ctx context.Context, input map[string]any) models.ToolResult {
	filePath := stringInput(input, "file_path")
	content := stringInput(input, "content")
	if filePath == "" {
		return failure("file_path is required", errors.New("file_path is required"))
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return failure("Failed to write file: "+err.Error(), err)
	}
	if err := os.WriteFile(filePath, []byte(content), 0o644); err != nil {
		return failure("Failed to write file: "+err.Error(), err)
	}
	return models.ToolResult{Success: true, Output: "File written successfully: " + filePath}
}

// EditTool replaces an exact substring in a file. Ambiguous edits (multiple
// occurrences without replace_all) fail with the file untouched.
type EditTool struct{}

func (t *EditTool) Name() string { return "Edit" }

func (t *EditTool) Description() string {
	return "Edit a file by replacing a specific string with new content."
}

func (t *EditTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"file_path": map[string]any{
				"type":        "string",
				"description": "Absolute path to the file to edit",
			},
			"old_string": map[string]any{
				"type":        "string",
				"description": "The exact string to replace",
			},
			"new_string": map[string]any{
				"type":        "string",
				"description": "The new string to replace it with",
			},
			"replace_all": map[string]any{
				"type":        "boolean",
				"description": "Replace all occurrences (default: false)",
			},
		},
		"required": []string{"file_path", "old_string", "new_string"},
	}
}

func (t *EditTool) Execute(ctx context.Context, input map[string]any) models.ToolResult {
	filePath := stringInput(input, "file_path")
	oldString := stringInput(input, "old_string")
	newString := stringInput(input, "new_string")
	replaceAll := boolInput(input, "replace_all")

	data, err := os.ReadFile(filePath)
	if err != nil {
		return failure("Failed to edit file: "+err.Error(), err)
	}
	content := string(data)

	if !strings.Contains(content, oldString) {
		err := errors.New("string not found")
		return failure("old_string not found in file", err)
	}
	occurrences := strings.Count(content, oldString)
	if occurrences > 1 && !replaceAll {
		err := errors.New("multiple occurrences found")
		return failure(fmt.Sprintf("Found %d occurrences. Use replace_all: true or provide more context.", occurrences), err)
	}

	var updated string
	if replaceAll {
		updated = strings.ReplaceAll(content, oldString, newString)
	} else {
		updated = strings.Replace(content, oldString, newString, 1)
	}
	if err := os.WriteFile(filePath, []byte(updated), 0o644); err != nil {
		return failure("Failed to edit file: "+err.Error(), err)
	}
	return models.ToolResult{Success: true, Output: "File edited successfully: " + filePath}
}
