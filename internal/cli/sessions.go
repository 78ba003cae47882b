package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskhive/taskhive/internal/config"
	"github.com/taskhive/taskhive/internal/store"
	"github.com/taskhive/taskhive/pkg/models"
)

func newSessionsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			st, err := store.Open(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			sessions, err := st.ListSessions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(sessions) == 0 {
				_, _ = fmt.Fprintln(out, "no sessions")
				return nil
			}
			for _, s := range sessions {
				_, _ = fmt.Fprintf(out, "%s  %-9s  %3d%%  %s  %s\n",
					s.ID, s.Status, s.Progress, s.CreatedAt.Format(time.RFC3339), s.Name)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", models.DefaultSessionListLimit, "Maximum sessions to list")
	return cmd
}

func newLogsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "logs <session-id>",
		Short: "Show a session's log lines in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			st, err := store.Open(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			if _, err := st.GetSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			logs, err := st.ListLogs(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, l := range logs {
				_, _ = fmt.Fprintf(out, "%s [%s] %s\n", l.CreatedAt.Format(time.RFC3339), l.Level, l.Message)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", models.DefaultLogListLimit, "Maximum log lines to show")
	return cmd
}

func newApprovalsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "List approvals still awaiting a decision",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			st, err := store.Open(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			pending, err := st.ListPendingApprovals(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(pending) == 0 {
				_, _ = fmt.Fprintln(out, "no pending approvals")
				return nil
			}
			for _, a := range pending {
				_, _ = fmt.Fprintf(out, "%s  session=%s  %s  %s  %s\n",
					a.ApprovalID, a.SessionID, a.RiskLevel, a.ToolName, a.Command)
			}
			return nil
		},
	}
	return cmd
}
