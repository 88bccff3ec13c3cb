package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentsim/agentsim/internal/config"
	"github.com/agentsim/agentsim/internal/logging"
)

var (
	// Global flags
	configFile string
	serverURL  string
	verbose    bool

	// Global configuration
	appConfig *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "agentsim",
	Short: "agentsim - simulated agent fixture and session server",
	Long: `agentsim simulates a long-running agent process for exercising
process-supervision tooling: it prints tagged progress lines on a delay
and stops gracefully when interrupted.

Besides running the agent directly, agentsim can supervise agent
processes as sessions: the serve command exposes an HTTP API that starts
commands, buffers their output, and streams it to clients over
WebSocket. The start and stream commands are the matching client side.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags available to all commands
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is $AGENTSIM_CONFIG or ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server-url", getDefaultServerURL(), "session server URL for client commands (default is $AGENTSIM_SERVER_URL or http://localhost:9000)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	configPath := configFile

	if configPath == "" {
		// Check for AGENTSIM_CONFIG environment variable
		if envConfig := os.Getenv("AGENTSIM_CONFIG"); envConfig != "" {
			configPath = envConfig
		}
		// Otherwise let config package handle auto-discovery
	}

	var err error
	appConfig, err = config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Override verbose setting from command line flag if provided
	if verbose {
		appConfig.Logging.Verbose = true
	}

	// Derive the client server URL from config unless the flag or
	// environment set one explicitly.
	if serverURL == "" || serverURL == getDefaultServerURL() {
		if os.Getenv("AGENTSIM_SERVER_URL") == "" {
			serverURL = fmt.Sprintf("http://%s:%d", appConfig.Server.Host, appConfig.Server.Port)
		}
	}

	logger, err := logging.NewLogger(appConfig.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logging: %v\n", err)
		os.Exit(1)
	}
	logging.SetDefault(logger)
}

// getDefaultServerURL returns the default server URL, checking environment variables
func getDefaultServerURL() string {
	if url := os.Getenv("AGENTSIM_SERVER_URL"); url != "" {
		return url
	}
	return "http://localhost:9000"
}

// GetConfig returns the global configuration
// This should be called after cobra initialization
func GetConfig() *config.Config {
	if appConfig == nil {
		// Fallback to default config if not initialized
		return config.DefaultConfig()
	}
	return appConfig
}
