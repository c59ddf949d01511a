// Package config loads daemon settings from flags, environment variables
// and an optional .env file.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr      string
	AuthToken string
}

// SchedulerConfig holds execution engine settings.
type SchedulerConfig struct {
	MaxConcurrent int
	Tick          time.Duration
}

// MonitorConfig holds monitoring settings.
type MonitorConfig struct {
	Interval time.Duration
}

// WebhookConfig holds generic webhook notification settings.
type WebhookConfig struct {
	URL     string
	Enabled bool
}

// SlackConfig holds Slack notification settings.
type SlackConfig struct {
	WebhookURL string
	Enabled    bool
}

// BarkConfig holds Bark notification settings.
type BarkConfig struct {
	URL       string
	DeviceKey string
	Enabled   bool
}

// EmailConfig holds SMTP notification settings.
type EmailConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	Recipients []string
	Enabled    bool
}

// NotificationConfig holds all notification channel settings.
type NotificationConfig struct {
	Webhook WebhookConfig
	Slack   SlackConfig
	Bark    BarkConfig
	Email   EmailConfig
}

// Config holds all runtime configuration options for the daemon.
type Config struct {
	Server       ServerConfig
	Scheduler    SchedulerConfig
	Monitor      MonitorConfig
	Notification NotificationConfig

	StateDir      string
	LogLevel      string
	ShutdownGrace time.Duration
}

const (
	defaultAddr          = "0.0.0.0:7080"
	defaultLogLevel      = "info"
	defaultMaxConcurrent = 3
	defaultShutdownGrace = 5 * time.Second
)

func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		lower := strings.ToLower(val)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvList(key string) []string {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Parse parses command line flags and environment variables into Config.
// Priority: CLI flags > Environment variables > .env file > defaults.
func Parse() (*Config, error) {
	envFiles := []string{".env"}
	if configDir, err := os.UserConfigDir(); err == nil {
		envFiles = append(envFiles, filepath.Join(configDir, "social-auto-upload", ".env"))
	}
	_ = godotenv.Load(envFiles...) // file is optional

	cfg := &Config{
		Server: ServerConfig{
			Addr:      getEnvString("SAU_ADDR", defaultAddr),
			AuthToken: getEnvString("SAU_AUTH_TOKEN", ""),
		},
		Scheduler: SchedulerConfig{
			MaxConcurrent: getEnvInt("SAU_MAX_CONCURRENT", defaultMaxConcurrent),
			Tick:          getEnvDuration("SAU_SCHEDULER_TICK", time.Second),
		},
		Monitor: MonitorConfig{
			Interval: getEnvDuration("SAU_MONITOR_INTERVAL", 5*time.Second),
		},
		Notification: NotificationConfig{
			Webhook: WebhookConfig{
				URL:     getEnvString("SAU_WEBHOOK_URL", ""),
				Enabled: getEnvBool("SAU_WEBHOOK_ENABLED", false),
			},
			Slack: SlackConfig{
				WebhookURL: getEnvString("SAU_SLACK_WEBHOOK_URL", ""),
				Enabled:    getEnvBool("SAU_SLACK_ENABLED", false),
			},
			Bark: BarkConfig{
				URL:       getEnvString("SAU_BARK_URL", ""),
				DeviceKey: getEnvString("SAU_BARK_DEVICE_KEY", ""),
				Enabled:   getEnvBool("SAU_BARK_ENABLED", false),
			},
			Email: EmailConfig{
				Host:       getEnvString("SAU_SMTP_HOST", ""),
				Port:       getEnvInt("SAU_SMTP_PORT", 587),
				Username:   getEnvString("SAU_SMTP_USERNAME", ""),
				Password:   getEnvString("SAU_SMTP_PASSWORD", ""),
				From:       getEnvString("SAU_SMTP_FROM", ""),
				Recipients: getEnvList("SAU_SMTP_RECIPIENTS"),
				Enabled:    getEnvBool("SAU_SMTP_ENABLED", false),
			},
		},
		StateDir:      getEnvString("SAU_STATE_DIR", ""),
		LogLevel:      getEnvString("SAU_LOG_LEVEL", defaultLogLevel),
		ShutdownGrace: getEnvDuration("SAU_SHUTDOWN_GRACE", defaultShutdownGrace),
	}

	var addr, logLevel, stateDir string
	var maxConcurrent int
	var shutdownGrace time.Duration

	flag.StringVar(&addr, "addr", "", "HTTP listen address (overrides env)")
	flag.StringVar(&stateDir, "state-dir", "", "Directory to store the archive database")
	flag.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.IntVar(&maxConcurrent, "max-concurrent", 0, "Maximum number of tasks running at once")
	flag.DurationVar(&shutdownGrace, "shutdown-grace", 0, "Grace period when shutting down")

	flag.Parse()

	if addr != "" {
		cfg.Server.Addr = addr
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if stateDir != "" {
		cfg.StateDir = stateDir
	}
	if maxConcurrent > 0 {
		cfg.Scheduler.MaxConcurrent = maxConcurrent
	}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "shutdown-grace" {
			cfg.ShutdownGrace = shutdownGrace
		}
	})

	if cfg.StateDir == "" {
		dir, err := defaultStateDir()
		if err != nil {
			return nil, fmt.Errorf("resolve default state dir: %w", err)
		}
		cfg.StateDir = dir
	}

	if cfg.Scheduler.MaxConcurrent < 1 {
		cfg.Scheduler.MaxConcurrent = defaultMaxConcurrent
	}

	return cfg, nil
}

func defaultStateDir() (string, error) {
	baseDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(baseDir, "social-auto-upload")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}
