package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/artpar/stevedore/internal/core/config"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	// DataDir, when set, anchors the history database and the run log so a
	// service install needs a single writable path.
	DataDir string `mapstructure:"data_dir"`

	Deploy  DeployConfig  `mapstructure:"deploy"`
	Server  ServerConfig  `mapstructure:"server"`
	History HistoryConfig `mapstructure:"history"`
	Log     LogConfig     `mapstructure:"log"`
}

// DeployConfig holds the per-run deployment parameters. Zero values defer to
// the collector's defaults; validation happens there, not here.
type DeployConfig struct {
	RepoURL    string `mapstructure:"repo_url"`
	Token      string `mapstructure:"token"`
	Branch     string `mapstructure:"branch"`
	SSHUser    string `mapstructure:"ssh_user"`
	SSHHost    string `mapstructure:"ssh_host"`
	SSHPort    int    `mapstructure:"ssh_port"`
	KeyPath    string `mapstructure:"key_path"`
	Port       string `mapstructure:"port"`
	AppName    string `mapstructure:"app_name"`
	RemoteDir  string `mapstructure:"remote_dir"`
	Domain     string `mapstructure:"domain"`
	HealthPath string `mapstructure:"health_path"`
	WorkDir    string `mapstructure:"workdir"`
}

// Params converts the raw settings into collector input.
func (c DeployConfig) Params() config.Params {
	return config.Params{
		RepoURL:    c.RepoURL,
		Token:      c.Token,
		Branch:     c.Branch,
		SSHUser:    c.SSHUser,
		SSHHost:    c.SSHHost,
		SSHPort:    c.SSHPort,
		KeyPath:    c.KeyPath,
		PortSpec:   c.Port,
		AppName:    c.AppName,
		RemoteDir:  c.RemoteDir,
		Domain:     c.Domain,
		HealthPath: c.HealthPath,
	}
}

// ServerConfig holds the webhook server configuration.
type ServerConfig struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	Secret string `mapstructure:"secret"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// HistoryConfig holds run history configuration.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment. Every key gets a
// default so environment-only values survive Unmarshal.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("data_dir", "")

	v.SetDefault("deploy.repo_url", "")
	v.SetDefault("deploy.token", "")
	v.SetDefault("deploy.branch", "")
	v.SetDefault("deploy.ssh_user", "")
	v.SetDefault("deploy.ssh_host", "")
	v.SetDefault("deploy.ssh_port", 0)
	v.SetDefault("deploy.key_path", "")
	v.SetDefault("deploy.port", "")
	v.SetDefault("deploy.app_name", "")
	v.SetDefault("deploy.remote_dir", "")
	v.SetDefault("deploy.domain", "")
	v.SetDefault("deploy.health_path", "")
	v.SetDefault("deploy.workdir", ".")

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.secret", "")

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.dsn", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("stevedore")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "stevedore"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		// Only a file that exists and fails to parse is fatal; a missing
		// file means flags, environment, and defaults carry the run.
		if _, ok := err.(viper.ConfigParseError); ok {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	v.SetEnvPrefix("STEVEDORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDerivedPaths(&cfg)
	return &cfg, nil
}

// applyDerivedPaths anchors unset file paths to the data directory.
func applyDerivedPaths(cfg *Config) {
	if cfg.History.DSN == "" {
		dir := cfg.DataDir
		if dir == "" {
			dir = "data"
		}
		cfg.History.DSN = filepath.Join(dir, "stevedore.db")
	}
	if cfg.Log.File == "" {
		if cfg.DataDir == "" {
			cfg.Log.File = "stevedore.log"
		} else {
			cfg.Log.File = filepath.Join(cfg.DataDir, "stevedore.log")
		}
	}
}

// =============================================================================
// Logger Setup
// =============================================================================

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// SetupLogger creates a logger with the configured level and format. When a
// log file is configured every line is mirrored there, appended, so the
// on-disk record survives the terminal session. The caller closes the
// returned closer when done logging.
func SetupLogger(cfg *Config) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var w io.Writer = os.Stdout
	closer := io.Closer(nopCloser{})
	if cfg.Log.File != "" {
		if dir := filepath.Dir(cfg.Log.File); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
			}
		}
		file, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		w = io.MultiWriter(os.Stdout, file)
		closer = file
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler), closer, nil
}
