package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/taskhive/taskhive/pkg/models"
)

const (
	maxGlobResults = 500
	grepTimeout    = 30 * time.Second
)

// skipDirs are dependency and version-control directories excluded from
// glob results.
var skipDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"vendor":       true,
}

// GlobTool finds files matching a glob pattern under a root directory.
type GlobTool struct {
	WorkingDir string
}

func (t *GlobTool) Name() string { return "Glob" }

func (t *GlobTool) Description() string {
	return `Find files matching a glob pattern (e.g., "**/*.go", "cmd/**/*.go")`
}

func (t *GlobTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{
				"type":        "string",
				"description": "Glob pattern to match files",
			},
			"path": map[string]any{
				"type":        "string",
				"description": "Directory to search in (defaults to the working directory)",
			},
		},
		"required": []string{"pattern"},
	}
}

func (t *GlobTool) Execute(ctx context.Context, input map[string]any) models.ToolResult {
	pattern := stringInput(input, "pattern")
	if pattern == "" {
		return failure("pattern is required", errors.New("pattern is required"))
	}
	root := stringInput(input, "path")
	if root == "" {
		root = t.WorkingDir
	}

	var matches []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if len(matches) >= maxGlobResults {
			return filepath.SkipAll
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		if globMatch(pattern, rel) {
			abs, err := filepath.Abs(path)
			if err != nil {
				abs = path
			}
			matches = append(matches, abs)
		}
		return nil
	})
	if err != nil {
		return failure("Glob failed: "+err.Error(), err)
	}

	if len(matches) == 0 {
		return models.ToolResult{Success: true, Output: "No files found"}
	}
	return models.ToolResult{Success: true, Output: strings.Join(matches, "\n")}
}

// globMatch matches a relative path against a pattern. "**/" prefixes match
// at any depth; patterns without a separator match the base name anywhere.
func globMatch(pattern, rel string) bool {
	rel = filepath.ToSlash(rel)
	if ok, _ := filepath.Match(pattern, rel); ok {
		return true
	}
	if rest, found := strings.CutPrefix(pattern, "**/"); found {
		if ok, _ := filepath.Match(rest, filepath.Base(rel)); ok {
			return true
		}
		segs := strings.Split(rel, "/")
		for i := 1; i < len(segs); i++ {
			if ok, _ := filepath.Match(rest, strings.Join(segs[i:], "/")); ok {
				return true
			}
		}
		return false
	}
	if !strings.Contains(pattern, "/") {
		if ok, _ := filepath.Match(pattern, filepath.Base(rel)); ok {
			return true
		}
	}
	return false
}

// GrepTool searches file contents with ripgrep. Exit code 1 ("no matches")
// is a successful empty result, distinct from an invocation failure.
type GrepTool struct {
	WorkingDir string
}

func (t *GrepTool) Name() string { return "Grep" }

func (t *GrepTool) Description() string {
	return "Search for a pattern in files using ripgrep (rg)"
}

func (t *GrepTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{
				"type":        "string",
				"description": "Regex pattern to search for",
			},
			"path": map[string]any{
				"type":        "string",
				"description": "File or directory to search in",
			},
			"glob": map[string]any{
				"type":        "string",
				"description": `File glob filter (e.g., "*.go")`,
			},
			"context": map[string]any{
				"type":        "number",
				"description": "Lines of context around matches",
			},
			"case_insensitive": map[string]any{
				"type":        "boolean",
				"description": "Case insensitive search",
			},
		},
		"required": []string{"pattern"},
	}
}

func (t *GrepTool) Execute(ctx context.Context, input map[string]any) models.ToolResult {
	pattern := stringInput(input, "pattern")
	if pattern == "" {
		return failure("pattern is required", errors.New("pattern is required"))
	}
	searchPath := stringInput(input, "path")
	if searchPath == "" {
		searchPath = t.WorkingDir
	}
	if searchPath == "" {
		searchPath = "."
	}

	args := []string{"--color=never", "--line-number"}
	if boolInput(input, "case_insensitive") {
		args = append(args, "-i")
	}
	if n := intInput(input, "context"); n > 0 {
		args = append(args, fmt.Sprintf("-C%d", n))
	}
	if g := stringInput(input, "glob"); g != "" {
		args = append(args, "--glob="+g)
	}
	args = append(args, "--", pattern, searchPath)

	ctx, cancel := context.WithTimeout(ctx, grepTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "rg", args...)
	var stdout bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdout, n: maxRawOutput}

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			// rg exits 1 when nothing matched.
			return models.ToolResult{Success: true, Output: "No matches found"}
		}
		return failure("Grep failed: "+err.Error(), err)
	}

	output := truncateOutput(stdout.String())
	if output == "" {
		output = "No matches found"
	}
	return models.ToolResult{Success: true, Output: output}
}
