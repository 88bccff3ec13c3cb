package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentsim/agentsim/internal/client"
	"github.com/agentsim/agentsim/internal/logging"
)

var (
	// Start command flags
	followOutput bool
)

// startCmd represents the start command
var startCmd = &cobra.Command{
	Use:   "start [--follow] -- <command> [args...]",
	Short: "Start a session on the agentsim server",
	Long: `Start a session on the agentsim session server.

The server spawns the given command, captures its output into a
per-session buffer, and makes it available through the status, logs,
and stream endpoints. With --follow the command attaches to the stream
immediately and prints output until the session finishes.`,
	Example: `  # Start the counting agent as a session
  agentsim start -- agentsim run --task count

  # Start and follow the output until the session ends
  agentsim start --follow -- agentsim run --task process --delay 0.1

  # Start against a remote server
  agentsim start --server-url http://remote:9000 -- agentsim run`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return fmt.Errorf("command is required after -- separator")
		}
		return nil
	},
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)

	startCmd.Flags().BoolVarP(&followOutput, "follow", "f", false, "attach to the session stream and print output")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	c := client.NewClient(serverURL, cfg.Stream, logging.Default())

	command := args[0]
	commandArgs := args[1:]

	info, err := c.StartSession(cmd.Context(), command, commandArgs)
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	if verbose {
		fmt.Printf("Command: %s\n", strings.Join(args, " "))
		fmt.Printf("Server: %s\n", serverURL)
	}
	fmt.Printf("Session started: %s\n", info.SessionID)

	if !followOutput {
		fmt.Printf("Follow it with: agentsim stream %s\n", info.SessionID)
		return nil
	}

	return streamSession(cmd.Context(), c, info.SessionID)
}
