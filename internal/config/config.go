package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"fx-rate-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Average   AverageConfig   `mapstructure:"average"`
	Mailer    MailerConfig    `mapstructure:"mailer"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	API       APIConfig       `mapstructure:"api"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SchedulerConfig governs when pipeline runs trigger.
type SchedulerConfig struct {
	TriggerTimes     []string      `mapstructure:"trigger_times"`
	Timezone         string        `mapstructure:"timezone"`
	BusinessDaysOnly bool          `mapstructure:"business_days_only"`
	AdvisoryLockKey  int64         `mapstructure:"advisory_lock_key"`
	StartupDelay     time.Duration `mapstructure:"startup_delay"`
}

// ProviderConfig covers the upstream FX rate API.
type ProviderConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	AccessKey      string        `mapstructure:"access_key"`
	Base           string        `mapstructure:"base"`
	Target         string        `mapstructure:"target"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// AverageConfig parameterises the trailing average window.
type AverageConfig struct {
	WindowYears int `mapstructure:"window_years"`
}

// MailerConfig carries SMTP connectivity.
type MailerConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	StartTLS bool          `mapstructure:"starttls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// NotifyConfig tunes notification dispatch.
type NotifyConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	SendTimeout   time.Duration `mapstructure:"send_timeout"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
}

// APIConfig sets the read-projection HTTP server behaviour.
type APIConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FXALERT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "fxalert")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("scheduler.trigger_times", []string{"09:00", "12:00"})
	v.SetDefault("scheduler.timezone", "Asia/Seoul")
	v.SetDefault("scheduler.business_days_only", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x46584c54))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("provider.base_url", "https://api.exchangerate.host")
	v.SetDefault("provider.base", "USD")
	v.SetDefault("provider.target", "KRW")
	v.SetDefault("provider.request_timeout", "20s")
	v.SetDefault("provider.user_agent", "fxalert/1.0")

	v.SetDefault("average.window_years", 3)

	v.SetDefault("mailer.host", "smtp.gmail.com")
	v.SetDefault("mailer.port", 587)
	v.SetDefault("mailer.from", "FX Alert <noreply@example.com>")
	v.SetDefault("mailer.starttls", true)
	v.SetDefault("mailer.timeout", "15s")

	v.SetDefault("notify.enabled", true)
	v.SetDefault("notify.max_concurrent", 1)
	v.SetDefault("notify.send_timeout", "10s")
	v.SetDefault("notify.subject_prefix", "[FX Alert]")

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.addr", ":8080")
	v.SetDefault("api.shutdown_timeout", "5s")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if len(c.Scheduler.TriggerTimes) == 0 {
		return fmt.Errorf("scheduler.trigger_times must not be empty")
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("scheduler.timezone %q is not a valid location: %w", c.Scheduler.Timezone, err)
	}
	if c.Average.WindowYears <= 0 {
		return fmt.Errorf("average.window_years must be greater than zero")
	}
	if c.Provider.Base == "" || c.Provider.Target == "" {
		return fmt.Errorf("provider.base and provider.target are required")
	}
	if c.Notify.MaxConcurrent <= 0 {
		return fmt.Errorf("notify.max_concurrent must be greater than zero")
	}
	if c.Notify.SendTimeout <= 0 {
		return fmt.Errorf("notify.send_timeout must be greater than zero")
	}
	if c.Notify.Enabled {
		if c.Mailer.Host == "" {
			return fmt.Errorf("mailer.host must be configured when notify is enabled")
		}
		if c.Mailer.From == "" {
			return fmt.Errorf("mailer.from must be configured when notify is enabled")
		}
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	return nil
}

// Location resolves the scheduler timezone. Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
