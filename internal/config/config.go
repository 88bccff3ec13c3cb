// Package config provides configuration management for agentsim.
//
// Configuration is loaded in order of precedence (highest to lowest):
// 1. Command line flags
// 2. Environment variables (AGENTSIM_ prefix)
// 3. Configuration file (YAML, JSON, TOML)
// 4. Default values
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete agentsim configuration.
type Config struct {
	Agent   AgentConfig   `mapstructure:"agent" yaml:"agent"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Stream  StreamConfig  `mapstructure:"stream" yaml:"stream"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// AgentConfig contains defaults for the simulated agent run.
type AgentConfig struct {
	// Task is one of count, analyze, process.
	Task string `mapstructure:"task" yaml:"task"`
	// Delay is the pause between progress lines, in seconds.
	Delay float64 `mapstructure:"delay" yaml:"delay"`
}

// ServerConfig contains session server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// StopGracePeriod is how long an interrupted process gets before SIGKILL.
	StopGracePeriod time.Duration `mapstructure:"stop_grace_period" yaml:"stop_grace_period"`
	// SessionMaxAge is the age after which finished sessions are cleaned up.
	SessionMaxAge time.Duration `mapstructure:"session_max_age" yaml:"session_max_age"`
	// BufferLines is the per-session capacity of the recent-output buffer.
	BufferLines int `mapstructure:"buffer_lines" yaml:"buffer_lines"`
}

// StreamConfig contains WebSocket stream client configuration.
type StreamConfig struct {
	ReconnectInitialDelay time.Duration `mapstructure:"reconnect_initial_delay" yaml:"reconnect_initial_delay"`
	ReconnectMaxDelay     time.Duration `mapstructure:"reconnect_max_delay" yaml:"reconnect_max_delay"`
	ReconnectMaxAttempts  int           `mapstructure:"reconnect_max_attempts" yaml:"reconnect_max_attempts"`
	HandshakeTimeout      time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
	PingInterval          time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	OutputFile string `mapstructure:"output_file" yaml:"output_file"`
	Verbose    bool   `mapstructure:"verbose" yaml:"verbose"`
}

// ValidTasks lists the task names the agent knows how to simulate.
var ValidTasks = []string{"count", "analyze", "process"}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Task:  "count",
			Delay: 0.5,
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            9000,
			ReadTimeout:     60 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			StopGracePeriod: 10 * time.Second,
			SessionMaxAge:   time.Hour,
			BufferLines:     1000,
		},
		Stream: StreamConfig{
			ReconnectInitialDelay: 1 * time.Second,
			ReconnectMaxDelay:     30 * time.Second,
			ReconnectMaxAttempts:  10,
			HandshakeTimeout:      10 * time.Second,
			PingInterval:          30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			OutputFile: "",
			Verbose:    false,
		},
	}
}

// DelayDuration converts the configured delay in seconds to a Duration.
func (a AgentConfig) DelayDuration() time.Duration {
	return time.Duration(a.Delay * float64(time.Second))
}

// IsValidTask reports whether task is a known task name.
func IsValidTask(task string) bool {
	for _, t := range ValidTasks {
		if t == task {
			return true
		}
	}
	return false
}

// LoadConfig loads configuration from file, environment, and defaults.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("AGENTSIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.agentsim")
		v.AddConfigPath("/etc/agentsim")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// A missing file is only an error when one was named explicitly.
			if configFile != "" {
				return nil, fmt.Errorf("config file not found: %s", configFile)
			}
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default values in viper.
func setDefaults(v *viper.Viper) {
	defaults := DefaultConfig()

	v.SetDefault("agent.task", defaults.Agent.Task)
	v.SetDefault("agent.delay", defaults.Agent.Delay)

	v.SetDefault("server.host", defaults.Server.Host)
	v.SetDefault("server.port", defaults.Server.Port)
	v.SetDefault("server.read_timeout", defaults.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", defaults.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", defaults.Server.ShutdownTimeout)
	v.SetDefault("server.stop_grace_period", defaults.Server.StopGracePeriod)
	v.SetDefault("server.session_max_age", defaults.Server.SessionMaxAge)
	v.SetDefault("server.buffer_lines", defaults.Server.BufferLines)

	v.SetDefault("stream.reconnect_initial_delay", defaults.Stream.ReconnectInitialDelay)
	v.SetDefault("stream.reconnect_max_delay", defaults.Stream.ReconnectMaxDelay)
	v.SetDefault("stream.reconnect_max_attempts", defaults.Stream.ReconnectMaxAttempts)
	v.SetDefault("stream.handshake_timeout", defaults.Stream.HandshakeTimeout)
	v.SetDefault("stream.ping_interval", defaults.Stream.PingInterval)

	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.format", defaults.Logging.Format)
	v.SetDefault("logging.output_file", defaults.Logging.OutputFile)
	v.SetDefault("logging.verbose", defaults.Logging.Verbose)
}

// validateConfig validates the loaded configuration.
func validateConfig(config *Config) error {
	if !IsValidTask(config.Agent.Task) {
		return fmt.Errorf("agent.task must be one of %s, got %q",
			strings.Join(ValidTasks, ", "), config.Agent.Task)
	}

	if config.Agent.Delay < 0 {
		return fmt.Errorf("agent.delay must be non-negative, got %v", config.Agent.Delay)
	}

	if config.Server.Host == "" {
		return fmt.Errorf("server.host cannot be empty")
	}

	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", config.Server.Port)
	}

	if config.Server.StopGracePeriod <= 0 {
		return fmt.Errorf("server.stop_grace_period must be positive, got %v", config.Server.StopGracePeriod)
	}

	if config.Server.SessionMaxAge <= 0 {
		return fmt.Errorf("server.session_max_age must be positive, got %v", config.Server.SessionMaxAge)
	}

	if config.Server.BufferLines < 1 {
		return fmt.Errorf("server.buffer_lines must be positive, got %d", config.Server.BufferLines)
	}

	if config.Stream.ReconnectMaxAttempts < 0 {
		return fmt.Errorf("stream.reconnect_max_attempts must be non-negative, got %d", config.Stream.ReconnectMaxAttempts)
	}

	if config.Stream.PingInterval <= 0 {
		return fmt.Errorf("stream.ping_interval must be positive, got %v", config.Stream.PingInterval)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[config.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error, got %s", config.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[config.Logging.Format] {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %s", config.Logging.Format)
	}

	return nil
}

// GetEnvVarName returns the environment variable name for a config key.
func GetEnvVarName(key string) string {
	return "AGENTSIM_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}
