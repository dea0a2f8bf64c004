package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Reports   ReportsConfig   `mapstructure:"reports"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Storage backends
const (
	BackendGorm   = "gorm"
	BackendCSV    = "csv"
	BackendMemory = "memory"
)

// StorageConfig selects the repository backend
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	DataDir string `mapstructure:"data_dir"`
}

// Database drivers
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	Path     string `mapstructure:"path"`
}

// ReportsConfig holds report generation settings
type ReportsConfig struct {
	OutputDir    string        `mapstructure:"output_dir"`
	Format       string        `mapstructure:"format"`
	Workers      int           `mapstructure:"workers"`
	QueueSize    int           `mapstructure:"queue_size"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// SchedulerConfig holds the periodic report schedule
type SchedulerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Cron    string `mapstructure:"cron"`
}

// DeliveryConfig holds Gmail API settings for mailing finished reports
type DeliveryConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	RefreshToken string   `mapstructure:"refresh_token"`
	UserEmail    string   `mapstructure:"user_email"`
	Recipients   []string `mapstructure:"recipients"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig loads configuration from a .env file, environment variables
// and an optional config file
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Environment variables override config file
	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Delivery.Recipients = splitList(strings.Join(cfg.Delivery.Recipients, ","))

	return &cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("storage.backend", BackendGorm)
	v.SetDefault("storage.data_dir", "./data")

	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "email_forwarding.db")

	v.SetDefault("reports.output_dir", "./reports")
	v.SetDefault("reports.format", "pdf")
	v.SetDefault("reports.workers", 2)
	v.SetDefault("reports.queue_size", 64)
	v.SetDefault("reports.max_attempts", 3)
	v.SetDefault("reports.retry_backoff", "2s")

	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.cron", "0 0 6 * * *")

	v.SetDefault("delivery.enabled", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars(v *viper.Viper) {
	// Server
	v.BindEnv("server.port", "SERVER_PORT")
	v.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	v.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")

	// Storage
	v.BindEnv("storage.backend", "STORAGE_BACKEND")
	v.BindEnv("storage.data_dir", "STORAGE_DATA_DIR")

	// Database
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("database.sslmode", "DB_SSLMODE")
	v.BindEnv("database.path", "DB_PATH")

	// Reports
	v.BindEnv("reports.output_dir", "REPORTS_DIR")
	v.BindEnv("reports.format", "REPORTS_FORMAT")
	v.BindEnv("reports.workers", "REPORTS_WORKERS")
	v.BindEnv("reports.queue_size", "REPORTS_QUEUE_SIZE")
	v.BindEnv("reports.max_attempts", "REPORTS_MAX_ATTEMPTS")
	v.BindEnv("reports.retry_backoff", "REPORTS_RETRY_BACKOFF")

	// Scheduler
	v.BindEnv("scheduler.enabled", "SCHEDULER_ENABLED")
	v.BindEnv("scheduler.cron", "SCHEDULER_CRON")

	// Delivery
	v.BindEnv("delivery.enabled", "DELIVERY_ENABLED")
	v.BindEnv("delivery.client_id", "GMAIL_CLIENT_ID")
	v.BindEnv("delivery.client_secret", "GMAIL_CLIENT_SECRET")
	v.BindEnv("delivery.refresh_token", "GMAIL_REFRESH_TOKEN")
	v.BindEnv("delivery.user_email", "GMAIL_USER_EMAIL")
	v.BindEnv("delivery.recipients", "DELIVERY_RECIPIENTS")

	// Logging
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("log.format", "LOG_FORMAT")
}

// GetDSN returns the database connection string for the configured driver
func (c *DatabaseConfig) GetDSN() string {
	switch c.Driver {
	case DriverPostgres:
		return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
			c.Host, c.User, c.Password, c.DBName, c.Port, c.SSLMode)
	case DriverSQLite:
		return c.Path
	default:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			c.User, c.Password, c.Host, c.Port, c.DBName)
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Storage.Backend {
	case BackendGorm:
		if err := c.Database.validate(); err != nil {
			return err
		}
	case BackendCSV:
		if c.Storage.DataDir == "" {
			return fmt.Errorf("storage data_dir is required for the csv backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if c.Reports.OutputDir == "" {
		return fmt.Errorf("reports output_dir is required")
	}
	switch strings.ToLower(c.Reports.Format) {
	case "pdf", "txt", "text":
	default:
		return fmt.Errorf("reports format must be pdf or txt, got %q", c.Reports.Format)
	}
	if c.Reports.Workers <= 0 {
		return fmt.Errorf("reports workers must be greater than 0")
	}
	if c.Reports.QueueSize <= 0 {
		return fmt.Errorf("reports queue_size must be greater than 0")
	}
	if c.Reports.MaxAttempts <= 0 {
		return fmt.Errorf("reports max_attempts must be greater than 0")
	}

	if c.Scheduler.Enabled && c.Scheduler.Cron == "" {
		return fmt.Errorf("scheduler cron expression is required when the scheduler is enabled")
	}

	if c.Delivery.Enabled {
		if c.Delivery.ClientID == "" || c.Delivery.ClientSecret == "" || c.Delivery.RefreshToken == "" {
			return fmt.Errorf("Gmail OAuth2 credentials are required when delivery is enabled")
		}
		if len(c.Delivery.Recipients) == 0 {
			return fmt.Errorf("at least one delivery recipient is required when delivery is enabled")
		}
	}

	return nil
}

func (c *DatabaseConfig) validate() error {
	switch c.Driver {
	case DriverSQLite:
		if c.Path == "" {
			return fmt.Errorf("database path is required for sqlite")
		}
	case DriverMySQL, DriverPostgres:
		if c.Host == "" || c.User == "" || c.DBName == "" {
			return fmt.Errorf("database host, user, and dbname are required")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Driver)
	}
	return nil
}
