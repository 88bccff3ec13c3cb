package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentsim/agentsim/internal/logging"
	"github.com/agentsim/agentsim/internal/metrics"
	"github.com/agentsim/agentsim/internal/server"
)

var (
	// Serve command flags
	serveHost string
	servePort int
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the agentsim session server",
	Long: `Start the agentsim session server which provides:
- Session API for starting and interrupting agent processes
- Per-session ring buffer of recent output lines
- WebSocket streaming of live output to attached clients
- Periodic cleanup of old finished sessions

Sessions typically run the agentsim fixture itself (agentsim run), but
any command line can be supervised.`,
	Example: `  # Start server with default settings (localhost:9000)
  agentsim serve

  # Start server on a specific host and port
  agentsim serve --host 0.0.0.0 --port 8080

  # Start a session against it
  agentsim start --follow -- agentsim run --task analyze`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Serve-specific flags (these will override config file values)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "host to bind the server to (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	host := cfg.Server.Host
	port := cfg.Server.Port
	if serveHost != "" {
		host = serveHost
	}
	if servePort != 0 {
		port = servePort
	}

	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", port)
	}
	if host == "" {
		return fmt.Errorf("host cannot be empty")
	}

	logger, err := logging.NewServerLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logger.Close()

	monitor := metrics.NewMonitor()
	monitor.SetLogger(logger.Logger)

	sessionManager := server.NewSessionManager(cfg.Server, logger, monitor)
	defer sessionManager.Close()

	apiServer := server.NewServer(sessionManager, cfg.Server, logger)

	httpServer := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", host, port),
		Handler:     apiServer.Routes(),
		ReadTimeout: cfg.Server.ReadTimeout,
		// No WriteTimeout: stream connections are long-lived and enforce
		// their own per-frame write deadlines after the upgrade.
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Session server listening",
			"addr", httpServer.Addr,
			"buffer_lines", cfg.Server.BufferLines,
			"session_max_age", cfg.Server.SessionMaxAge.String())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// Periodic cleanup of old finished sessions.
	cleanupCtx, cleanupCancel := context.WithCancel(cmd.Context())
	defer cleanupCancel()
	go runCleanupLoop(cleanupCtx, sessionManager, cfg.Server.SessionMaxAge)

	fmt.Fprintf(os.Stderr, "Server is ready to accept connections on http://%s:%d\n", host, port)
	fmt.Fprintf(os.Stderr, "Start a session with: agentsim start --server-url http://%s:%d -- agentsim run\n", host, port)
	fmt.Fprintf(os.Stderr, "Press Ctrl+C to stop the server.\n")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		logger.Info("Shutting down", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err.Error())
	}

	monitor.LogSummary()
	logger.Info("Server stopped")
	return nil
}

// runCleanupLoop drops old finished sessions on a timer until ctx ends.
func runCleanupLoop(ctx context.Context, sm *server.SessionManager, maxAge time.Duration) {
	interval := maxAge / 4
	if interval > 10*time.Minute {
		interval = 10 * time.Minute
	}
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sm.CleanupSessions()
		}
	}
}
