package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentsim/agentsim/internal/agent"
	"github.com/agentsim/agentsim/internal/config"
	"github.com/agentsim/agentsim/internal/errors"
)

var (
	// Run command flags
	runTask  string
	runDelay float64
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run [--task TASK] [--delay SECONDS]",
	Short: "Run the simulated agent",
	Long: `Run the simulated agent in the foreground.

The agent executes one of three canned step sequences, printing a tagged
progress line per step and sleeping between steps. SIGINT and SIGTERM
request a graceful stop: the sequence ends at its next checkpoint, an
in-flight sleep is allowed to complete, and the process exits with
status 1.

Tasks:
  count    20 numbered counts
  analyze  8 labeled analysis steps with synthetic insights and a score
  process  5 files with 5 sub-steps each`,
	Example: `  # Run the default counting task
  agentsim run

  # Run the analysis task with a faster delay
  agentsim run --task analyze --delay 0.1

  # Run without any delay (useful under supervision tests)
  agentsim run --task process --delay 0`,
	RunE: runAgent,
}

func init() {
	rootCmd.AddCommand(runCmd)

	// Run-specific flags (these will override config file values)
	runCmd.Flags().StringVar(&runTask, "task", "", fmt.Sprintf("task to perform: %s (overrides config)", strings.Join(config.ValidTasks, ", ")))
	runCmd.Flags().Float64Var(&runDelay, "delay", 0, "delay between outputs in seconds (overrides config)")
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	task := cfg.Agent.Task
	if cmd.Flags().Changed("task") {
		task = runTask
	}

	delaySeconds := cfg.Agent.Delay
	if cmd.Flags().Changed("delay") {
		delaySeconds = runDelay
	}

	// Reject unknown tasks before any task output is produced.
	if !config.IsValidTask(task) {
		return errors.ValidationError("UNKNOWN_TASK",
			fmt.Sprintf("invalid task %q (valid tasks: %s)", task, strings.Join(config.ValidTasks, ", ")), nil)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			fmt.Println("\n[INFO] Received interrupt signal, shutting down gracefully...")
			cancel()
		case <-ctx.Done():
		}
	}()

	printBanner(task, delaySeconds)

	delay := time.Duration(delaySeconds * float64(time.Second))
	result, err := agent.Run(ctx, task, delay, os.Stdout)
	if err != nil {
		return err
	}

	if result.Interrupted {
		fmt.Println("\n[WARNING] Task was interrupted!")
		return errors.ErrInterrupted
	}

	fmt.Println("\n[INFO] Agent finished successfully")
	return nil
}

// printBanner prints the startup banner before the task runs.
func printBanner(task string, delaySeconds float64) {
	sep := strings.Repeat("=", 50)
	fmt.Println(sep)
	fmt.Println("Agent Simulator")
	fmt.Println(sep)
	fmt.Printf("Task: %s\n", task)
	fmt.Printf("Delay: %gs\n", delaySeconds)
	fmt.Println(sep)
	fmt.Println()
}
