package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agentsim/agentsim/internal/client"
	"github.com/agentsim/agentsim/internal/logging"
	"github.com/agentsim/agentsim/internal/protocol"
)

var (
	// Stream command flags
	interruptOnSignal bool
)

// streamCmd represents the stream command
var streamCmd = &cobra.Command{
	Use:   "stream <session-id>",
	Short: "Attach to a session and print its output",
	Long: `Attach to a running or finished session and print its output.

Buffered output is replayed first, then live output follows until the
session finishes. With --interrupt, a Ctrl+C is forwarded to the
session as a graceful interrupt instead of just detaching.`,
	Example: `  # Attach to a session
  agentsim stream 6c5e9b2a-...

  # Attach and forward Ctrl+C to the session
  agentsim stream --interrupt 6c5e9b2a-...`,
	Args: cobra.ExactArgs(1),
	RunE: runStream,
}

func init() {
	rootCmd.AddCommand(streamCmd)

	streamCmd.Flags().BoolVar(&interruptOnSignal, "interrupt", false, "forward Ctrl+C to the session as a graceful interrupt")
}

func runStream(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	c := client.NewClient(serverURL, cfg.Stream, logging.Default())
	sessionID := args[0]

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			if interruptOnSignal {
				fmt.Fprintf(os.Stderr, "Forwarding interrupt to session %s\n", sessionID)
				if _, err := c.Interrupt(context.Background(), sessionID); err != nil {
					fmt.Fprintf(os.Stderr, "Failed to interrupt session: %v\n", err)
				}
				// Keep streaming: the session's final output and status
				// still arrive before the stream closes.
				return
			}
			cancel()
		case <-ctx.Done():
		}
	}()

	err := streamSession(ctx, c, sessionID)
	if err == context.Canceled {
		return nil
	}
	return err
}

// streamSession attaches to a session stream and prints frames until it
// closes. Output lines keep their original stream: stdout lines go to
// stdout, stderr lines to stderr.
func streamSession(ctx context.Context, c *client.Client, sessionID string) error {
	return c.Stream(ctx, sessionID, func(msg interface{}) error {
		switch m := msg.(type) {
		case *protocol.ConnectedMessage:
			fmt.Fprintf(os.Stderr, "Attached to session %s: %s\n", m.SessionID, m.Command)

		case *protocol.OutputMessage:
			if m.Stream == protocol.StreamStderr {
				fmt.Fprintln(os.Stderr, m.Content)
			} else {
				fmt.Println(m.Content)
			}

		case *protocol.StatusMessage:
			if m.ExitCode != nil {
				fmt.Fprintf(os.Stderr, "Session %s: %s (exit code %d)\n", m.SessionID, m.Status, *m.ExitCode)
			} else {
				fmt.Fprintf(os.Stderr, "Session %s: %s\n", m.SessionID, m.Status)
			}

		case *protocol.ErrorMessage:
			fmt.Fprintf(os.Stderr, "Session error (%s): %s\n", m.ErrorCode, m.Message)
		}
		return nil
	})
}
