package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/stratuscode/stratus/internal/agent"
	"github.com/stratuscode/stratus/internal/rpc"
	"github.com/stratuscode/stratus/internal/signal"
)

var backendFlags SessionFlags

var backendCmd = &cobra.Command{
	Use:   "backend",
	Short: "Serve the assistant over JSON-RPC on stdio",
	Long: `Run the turn controller as a child process for a terminal UI.

Requests and notifications are newline-delimited JSON-RPC 2.0 messages on
stdin and stdout. Logs go to stderr.`,
	Args: cobra.NoArgs,
	RunE: runBackend,
}

func init() {
	AddSessionFlags(backendCmd, &backendFlags)
	backendCmd.Flags().Bool("resume", false, "Resume the most recent session")
	rootCmd.AddCommand(backendCmd)
}

func runBackend(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background())
	defer stop()

	conn := rpc.NewConn(os.Stdin, os.Stdout)
	a, err := newApp(&backendFlags, rpc.NewNotifier(conn), true)
	if err != nil {
		return err
	}
	defer a.Close()

	if resume, _ := cmd.Flags().GetBool("resume"); resume {
		if sess, err := a.store.GetCurrent(ctx); err == nil {
			if err := a.ctrl.LoadSession(ctx, sess.ID); err != nil {
				slog.Warn("could not resume session", "session", sess.ID, "error", err)
			}
		}
	}

	srv := rpc.NewServer(conn, a.ctrl, rpc.Options{
		Store:      a.store,
		Index:      a.index,
		Todos:      a.todos,
		Questions:  a.questions,
		History:    a.history,
		Models:     func() []agent.ModelEntry { return agent.Models(a.cfg) },
		BaseModel:  a.model,
		ProjectDir: a.projectDir,
	})
	slog.Info("backend serving", "project", a.projectDir, "session", a.ctrl.SessionID())
	if err := srv.Serve(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("backend: %w", err)
	}
	return nil
}
