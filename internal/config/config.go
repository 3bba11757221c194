package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Node    NodeConfig
	API     APIConfig
	Suite   SuiteConfig
	Server  ServerConfig
	Alert   AlertConfig
	Tracing TracingConfig
	Log     LogConfig
}

type NodeConfig struct {
	Binary              string
	Count               int
	BasePort            int
	DataRoot            string
	StartupTimeout      time.Duration
	StartupPollInterval time.Duration
	StartDelay          time.Duration
	StopGrace           time.Duration
}

type APIConfig struct {
	RequestTimeout     time.Duration
	RateRPS            float64
	RateBurst          int
	BreakerFailures    int
	BreakerOpenTimeout time.Duration
}

type SuiteConfig struct {
	Mode               string
	ContinuousInterval time.Duration
	Duration           time.Duration
	ReportPath         string
}

type ServerConfig struct {
	StatusPort int
}

type AlertConfig struct {
	SlackWebhookURL string
	WebhookURL      string
	Cooldown        time.Duration
}

type TracingConfig struct {
	Enabled  bool
	Endpoint string
	Insecure bool
}

type LogConfig struct {
	Level string
}

const (
	SuiteModeSingle     = "single"
	SuiteModeContinuous = "continuous"
)

// Load reads the configuration from the environment. It does not
// validate: callers merge any flag overrides first and then call
// Validate once on the final config.
func Load() *Config {
	return &Config{
		Node: NodeConfig{
			Binary:              getEnv("NODE_BINARY", "./target/release/gillean"),
			Count:               getEnvInt("NODE_COUNT", 3),
			BasePort:            getEnvInt("NODE_BASE_PORT", 3000),
			DataRoot:            getEnv("NODE_DATA_ROOT", "./data"),
			StartupTimeout:      time.Duration(getEnvInt("NODE_STARTUP_TIMEOUT_SEC", 30)) * time.Second,
			StartupPollInterval: time.Duration(getEnvInt("NODE_STARTUP_POLL_MS", 1000)) * time.Millisecond,
			StartDelay:          time.Duration(getEnvInt("NODE_START_DELAY_SEC", 2)) * time.Second,
			StopGrace:           time.Duration(getEnvInt("NODE_STOP_GRACE_SEC", 10)) * time.Second,
		},
		API: APIConfig{
			RequestTimeout:     time.Duration(getEnvInt("API_TIMEOUT_SEC", 10)) * time.Second,
			RateRPS:            getEnvFloat("API_RATE_RPS", 50),
			RateBurst:          getEnvInt("API_RATE_BURST", 20),
			BreakerFailures:    getEnvInt("API_BREAKER_FAILURES", 5),
			BreakerOpenTimeout: time.Duration(getEnvInt("API_BREAKER_OPEN_SEC", 30)) * time.Second,
		},
		Suite: SuiteConfig{
			Mode:               getEnv("SUITE_MODE", SuiteModeSingle),
			ContinuousInterval: time.Duration(getEnvInt("SUITE_INTERVAL_SEC", 30)) * time.Second,
			Duration:           time.Duration(getEnvInt("SUITE_DURATION_SEC", 0)) * time.Second,
			ReportPath:         getEnv("SUITE_REPORT_PATH", "test_report.txt"),
		},
		Server: ServerConfig{
			StatusPort: getEnvInt("STATUS_PORT", 8080),
		},
		Alert: AlertConfig{
			SlackWebhookURL: getEnv("ALERT_SLACK_WEBHOOK_URL", ""),
			WebhookURL:      getEnv("ALERT_WEBHOOK_URL", ""),
			Cooldown:        time.Duration(getEnvInt("ALERT_COOLDOWN_MIN", 5)) * time.Minute,
		},
		Tracing: TracingConfig{
			Enabled:  getEnvBool("TRACING_ENABLED", false),
			Endpoint: getEnv("TRACING_ENDPOINT", ""),
			Insecure: getEnvBool("TRACING_INSECURE", true),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}
}

// Validate checks the merged configuration.
func (c *Config) Validate() error {
	if c.Node.Binary == "" {
		return fmt.Errorf("NODE_BINARY is required")
	}
	if c.Node.Count < 1 {
		return fmt.Errorf("NODE_COUNT must be at least 1")
	}
	if c.Node.BasePort < 1 || c.Node.BasePort > 65535-c.Node.Count {
		return fmt.Errorf("NODE_BASE_PORT %d leaves no room for %d nodes", c.Node.BasePort, c.Node.Count)
	}
	if c.Suite.Mode != SuiteModeSingle && c.Suite.Mode != SuiteModeContinuous {
		return fmt.Errorf("SUITE_MODE must be %q or %q", SuiteModeSingle, SuiteModeContinuous)
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("TRACING_ENDPOINT is required when TRACING_ENABLED is true")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
