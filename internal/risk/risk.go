// Package risk classifies requested tool actions into low/medium/high tiers.
// High-risk actions require human approval before execution; the policy is
// injectable so deployments can tighten or loosen gating.
package risk

import (
	"bytes"
	"encoding/json"
	"regexp"
)

// Level is the classification of a requested action's potential for harm.
type Level string

const (
	Low    Level = "low"
	Medium Level = "medium"
	High   Level = "high"
)

// Policy decides the risk tier of a tool action and whether it needs a
// human decision before running.
type Policy interface {
	Classify(toolName string, input map[string]any) Level
	RequiresApproval(level Level) bool
}

// destructivePatterns match command lines or serialized inputs that must
// never run without a human decision.
var destructivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)rm\s+(-rf?|--recursive)\s+[\/~]`),
	regexp.MustCompile(`(?i)sudo\s+rm`),
	regexp.MustCompile(`(?i)DROP\s+(DATABASE|TABLE)`),
	regexp.MustCompile(`(?i)DELETE\s+FROM\s+\w+\s*;?\s*$`),
	regexp.MustCompile(`(?i)git\s+push\s+.*--force`),
	regexp.MustCompile(`(?i)chmod\s+777`),
	regexp.MustCompile(`(?i)curl.*\|\s*(bash|sh)`),
	regexp.MustCompile(`(?i)>\s*\/etc\/`),
	regexp.MustCompile(`(?i)mkfs\.`),
	regexp.MustCompile(`(?i)dd\s+if=`),
	regexp.MustCompile(`:\(\)\{ :\|:& \};:`), // fork bomb
	regexp.MustCompile(`(?i)>\s*\/dev\/(sda|hd|nvme)`),
}

// readOnlyCommand matches shell verbs that only inspect state.
var readOnlyCommand = regexp.MustCompile(`^(ls|pwd|cat|head|tail|grep|find|which|echo|date|whoami|id|env|git status|git log|git diff|npm list)`)

// DefaultPolicy is the built-in rule set: destructive signatures are high
// regardless of tool; shell commands are low only when read-only; file
// mutations are medium; reads and searches are low. Approval is required
// iff the level is High.
type DefaultPolicy struct{}

func (DefaultPolicy) Classify(toolName string, input map[string]any) Level {
	serialized := serializeInput(input)
	for _, pat := range destructivePatterns {
		if pat.Match(serialized) {
			return High
		}
	}

	switch toolName {
	case "Bash":
		command, _ := input["command"].(string)
		if readOnlyCommand.MatchString(command) {
			return Low
		}
		return Medium
	case "Write", "Edit":
		return Medium
	}
	return Low
}

func (DefaultPolicy) RequiresApproval(level Level) bool {
	return level == High
}

var _ Policy = DefaultPolicy{}

// serializeInput renders the input for signature matching. HTML escaping is
// off: "> /etc/hosts" must stay byte-identical or the redirect signatures
// never fire.
func serializeInput(input map[string]any) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(input); err != nil {
		return nil
	}
	return buf.Bytes()
}
