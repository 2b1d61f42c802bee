package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Queue      QueueConfig      `yaml:"queue"`
	Retention  RetentionConfig  `yaml:"retention"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Webhooks   WebhooksConfig   `yaml:"webhooks"`
	Exports    ExportConfig     `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type QueueConfig struct {
	// DrainBudget caps the wall-clock time of one drain pass. Zero means
	// no budget; batch syncs are allowed to run for tens of hours.
	DrainBudget  time.Duration `yaml:"drain_budget"`
	BatchSize    int           `yaml:"batch_size"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Lease        time.Duration `yaml:"lease"`
}

type RetentionConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Interval    time.Duration `yaml:"interval"`
	MaxAgeDays  int           `yaml:"max_age_days"`
	SoftAgeDays int           `yaml:"soft_age_days"`
	MaxRows     int           `yaml:"max_rows"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	Port      int                `yaml:"port"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

// WebhooksConfig maps inbound webhook actions onto queue work.
type WebhooksConfig struct {
	Routes []WebhookRoute `yaml:"routes"`
}

// WebhookRoute describes the tasks one webhook action fans out into.
type WebhookRoute struct {
	Action string        `yaml:"action"`
	Tasks  []WebhookTask `yaml:"tasks"`
}

type WebhookTask struct {
	Type      string `yaml:"type"`
	TypeGroup string `yaml:"type_group"`
	Title     string `yaml:"title"`
	// IDField names the body field holding the remote identifier the
	// task concerns. Empty means the task has no single remote subject.
	IDField string `yaml:"id_field"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; it only feeds os.ExpandEnv below.
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.Retention.MaxRows < 0 || c.Retention.MaxAgeDays < 0 || c.Retention.SoftAgeDays < 0 {
		return errors.New("retention values must not be negative")
	}

	if c.Retention.SoftAgeDays > c.Retention.MaxAgeDays {
		return errors.New("retention soft_age_days must not exceed max_age_days")
	}

	return ValidateWebhookRoutes(c.Webhooks.Routes)
}

func ValidateWebhookRoutes(routes []WebhookRoute) error {
	seen := make(map[string]bool)
	for _, route := range routes {
		if route.Action == "" {
			return errors.New("webhook route with empty action")
		}
		if seen[route.Action] {
			return fmt.Errorf("duplicate webhook action: %s", route.Action)
		}
		seen[route.Action] = true
		for _, task := range route.Tasks {
			if task.Type == "" {
				return fmt.Errorf("webhook action %s has a task with empty type", route.Action)
			}
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}

	// Queue defaults
	if c.Queue.BatchSize == 0 {
		c.Queue.BatchSize = 50
	}
	if c.Queue.PollInterval == 0 {
		c.Queue.PollInterval = 5 * time.Second
	}
	if c.Queue.Lease == 0 {
		c.Queue.Lease = 30 * time.Minute
	}

	// Retention defaults mirror the backoffice contract: 30 days hard,
	// 7 days soft once over the 1000-row cap.
	if c.Retention.MaxAgeDays == 0 {
		c.Retention.MaxAgeDays = 30
	}
	if c.Retention.SoftAgeDays == 0 {
		c.Retention.SoftAgeDays = 7
	}
	if c.Retention.MaxRows == 0 {
		c.Retention.MaxRows = 1000
	}
	if c.Retention.Interval == 0 {
		c.Retention.Interval = time.Hour
	}
}
