package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/taskhive/taskhive/internal/approval"
	"github.com/taskhive/taskhive/internal/config"
	"github.com/taskhive/taskhive/internal/events"
	"github.com/taskhive/taskhive/internal/llm"
	"github.com/taskhive/taskhive/internal/orchestrator"
	"github.com/taskhive/taskhive/internal/store"
)

func newRunCmd() *cobra.Command {
	var (
		name      string
		taskType  string
		model     string
		maxTokens int
		dir       string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run one task to completion, answering approval prompts interactively",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")
			home := config.MustHomeFrom(cmd.Context())
			cfg, err := config.Load(home)
			if err != nil {
				return err
			}
			if cfg.APIKey == "" {
				return fmt.Errorf("ANTHROPIC_API_KEY is not set (put it in %s/.env or the environment)", home)
			}

			st, err := store.Open(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			orch := orchestrator.New(orchestrator.Options{
				Store:  st,
				Gate:   approval.NewGate(cfg.ApprovalTTL.Std()),
				Client: llm.NewClient(cfg.APIBaseURL, cfg.APIKey),
				Config: &cfg,
			})
			defer func() { _ = orch.Shutdown(cmd.Context()) }()

			sub := orch.Hub().Subscribe()
			defer orch.Hub().Unsubscribe(sub)

			sessionCfg := map[string]any{}
			if model != "" {
				sessionCfg["model"] = model
			}
			if maxTokens > 0 {
				sessionCfg["max_tokens"] = maxTokens
			}
			if dir != "" {
				sessionCfg["working_dir"] = dir
			}
			if name == "" {
				name = truncatePrompt(prompt)
			}

			sess, err := orch.CreateSession(cmd.Context(), name, taskType, sessionCfg)
			if err != nil {
				return err
			}
			if err := orch.Start(cmd.Context(), sess.ID, prompt); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "session %s started\n", sess.ID)

			stdin := bufio.NewScanner(cmd.InOrStdin())
			for {
				var ev events.Event
				select {
				case ev = <-sub:
				case <-cmd.Context().Done():
					_ = orch.Stop(sess.ID)
					return cmd.Context().Err()
				}
				if ev.SessionID != "" && ev.SessionID != sess.ID {
					continue
				}

				if asJSON {
					if b := events.MarshalJSONEvent(ev); b != nil {
						_, _ = fmt.Fprintln(out, string(b))
					}
				} else {
					printEvent(out, ev)
				}

				switch ev.Type {
				case events.TypeApprovalNeeded:
					approved := askApproval(out, stdin, ev)
					if err := orch.ResolveApproval(cmd.Context(), ev.ApprovalID, approved); err != nil {
						return err
					}
				case events.TypeCompleted:
					in, outTok, err := st.UsageTotals(cmd.Context(), sess.ID)
					if err == nil {
						_, _ = fmt.Fprintf(out, "done (tokens: %d in, %d out)\n", in, outTok)
					}
					return nil
				case events.TypeFailed:
					return fmt.Errorf("session failed: %s", ev.Error)
				case events.TypeStopped:
					return nil
				}
			}
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Session name (default: truncated prompt)")
	cmd.Flags().StringVar(&taskType, "task-type", "", "Optional task type label")
	cmd.Flags().StringVar(&model, "model", "", "Model override for this session")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "Max tokens per model call for this session")
	cmd.Flags().StringVar(&dir, "dir", "", "Working directory for tools (default: from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit events as JSON lines")
	return cmd
}

func truncatePrompt(prompt string) string {
	const max = 60
	if len(prompt) <= max {
		return prompt
	}
	return prompt[:max] + "..."
}

func printEvent(out io.Writer, ev events.Event) {
	switch ev.Type {
	case events.TypeLog:
		_, _ = fmt.Fprintf(out, "[%s] %s\n", ev.Level, ev.Message)
	case events.TypeStatus:
		_, _ = fmt.Fprintf(out, "status: %s\n", ev.Status)
	case events.TypeProgress:
		if ev.Progress != nil {
			_, _ = fmt.Fprintf(out, "progress: %d%%\n", *ev.Progress)
		}
	case events.TypeAPIUsage:
		_, _ = fmt.Fprintf(out, "usage: %d in / %d out (%s)\n", ev.InputTokens, ev.OutputTokens, ev.Model)
	}
}

func askApproval(out io.Writer, stdin *bufio.Scanner, ev events.Event) bool {
	tool := ""
	command := ""
	if ev.ToolUse != nil {
		tool = ev.ToolUse.Name
		command = string(events.MarshalToolInput(ev.ToolUse.Input))
	}
	_, _ = fmt.Fprintf(out, "\n%s-risk action requires approval:\n  tool: %s\n  input: %s\nApprove? [y/N]: ", ev.RiskLevel, tool, command)
	if !stdin.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(stdin.Text()))
	return answer == "y" || answer == "yes"
}
