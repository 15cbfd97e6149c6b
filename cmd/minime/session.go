package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and administer stored sessions",
	}
	cmd.AddCommand(newSessionShowCmd())
	cmd.AddCommand(newSessionHistoryCmd())
	cmd.AddCommand(newSessionClearCmd())
	cmd.AddCommand(newSessionReportCmd())
	return cmd
}

func newSessionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print the memory snapshot and stored profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, err := newDeps(ctx)
			if err != nil {
				return err
			}
			defer d.close()

			opener, err := d.opener(ctx)
			if err != nil {
				return err
			}
			mgr, err := opener.Open(ctx, args[0])
			if err != nil {
				return err
			}
			info, err := d.store.GetUserInfo(ctx, args[0])
			if err != nil {
				return err
			}

			data, err := json.MarshalIndent(map[string]interface{}{
				"session_id":    args[0],
				"memory":        mgr.Memory(),
				"window_tokens": mgr.WindowTokens(),
				"user_info":     info,
			}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func newSessionHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <session-id>",
		Short: "Print the full stored conversation log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, err := newDeps(ctx)
			if err != nil {
				return err
			}
			defer d.close()

			msgs, err := d.store.GetConversation(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(msgs) == 0 {
				fmt.Fprintln(out, "no messages")
				return nil
			}
			for _, m := range msgs {
				fmt.Fprintf(out, "%s  %-9s  %s\n", m.Timestamp.UTC().Format(time.RFC3339), m.Role, m.Content)
			}
			return nil
		},
	}
}

func newSessionClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <session-id>",
		Short: "Delete every stored item of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, err := newDeps(ctx)
			if err != nil {
				return err
			}
			defer d.close()

			if err := d.store.ClearConversation(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared session %s\n", args[0])
			return nil
		},
	}
}

func newSessionReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report <session-id>",
		Short: "Build and email the end-of-conversation report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, err := newDeps(ctx)
			if err != nil {
				return err
			}
			defer d.close()

			reporter, err := d.reporter(ctx)
			if err != nil {
				return err
			}
			if reporter == nil {
				return fmt.Errorf("notify.from and notify.to must be configured")
			}
			report, err := reporter.Send(ctx, args[0])
			if err != nil {
				return err
			}
			if report == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "no messages, nothing sent")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.Body())
			return nil
		},
	}
}
