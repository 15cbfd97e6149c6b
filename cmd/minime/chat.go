package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/szaher/minime/internal/agent"
	"github.com/szaher/minime/internal/session"
)

func newChatCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the persona in the terminal",
		Long:  "Interactive chat through the same agent and session memory the gateway uses. Replies stream to stdout; an empty line or EOF ends the session.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			d, err := newDeps(ctx)
			if err != nil {
				return err
			}
			defer d.close()

			a, _, err := d.agent(ctx)
			if err != nil {
				return err
			}
			if sessionID == "" {
				sessionID = session.GenerateID()
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "session %s\n", sessionID)
			return chatLoop(ctx, a, sessionID, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Session ID to resume (default: new session)")
	return cmd
}

// turnRunner runs one chat turn. *agent.Agent satisfies it.
type turnRunner interface {
	Chat(ctx context.Context, sessionID, message string, onChunk agent.ChunkFunc) (*agent.Result, error)
}

func chatLoop(ctx context.Context, a turnRunner, sessionID string, in io.Reader, out, errOut io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			return nil
		}

		res, err := a.Chat(ctx, sessionID, line, func(text string) {
			fmt.Fprint(out, text)
		})
		fmt.Fprintln(out)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(errOut, "turn failed: %v\n", err)
			continue
		}
		if verbose {
			stats := map[string]interface{}{
				"turns":       res.Turns,
				"duration_ms": res.Duration.Milliseconds(),
				"tokens":      res.Usage,
				"tool_calls":  len(res.ToolCalls),
			}
			data, _ := json.MarshalIndent(stats, "", "  ")
			fmt.Fprintf(errOut, "%s\n", data)
		}
	}
}
