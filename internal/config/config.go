package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/jwalitptl/canopy-portal/pkg/security"
)

type Config struct {
	Server    ServerConfig            `mapstructure:"server"`
	Log       LogConfig               `mapstructure:"log"`
	Database  DatabaseConfig          `mapstructure:"database"`
	Backend   BackendConfig           `mapstructure:"backend"`
	Redis     RedisConfig             `mapstructure:"redis"`
	Session   SessionConfig           `mapstructure:"session"`
	Password  security.PasswordPolicy `mapstructure:"password"`
	Forms     FormsConfig             `mapstructure:"forms"`
	RateLimit RateLimitConfig         `mapstructure:"rate_limit"`
	Security  SecurityConfig          `mapstructure:"security"`
	Mail      MailConfig              `mapstructure:"mail"`
	Notify    NotifyConfig            `mapstructure:"notify"`
	Audit     AuditConfig             `mapstructure:"audit"`

	// Secrets never come from the config file.
	Secrets Secrets `mapstructure:"-"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// BackendConfig selects the persistence collaborator.
type BackendConfig struct {
	// Driver is "postgres" or "memory".
	Driver string `mapstructure:"driver"`
	// Seed populates the memory backend with demo accounts.
	Seed           bool          `mapstructure:"seed"`
	BreakerTimeout time.Duration `mapstructure:"breaker_timeout"`
	// BreakerFailures is the consecutive transient failures that open the circuit.
	BreakerFailures int `mapstructure:"breaker_failures"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type SessionConfig struct {
	// AdminWindow is the one authoritative admin session lifetime.
	AdminWindow time.Duration `mapstructure:"admin_window"`
	// StorageTTL bounds how long a server-side slot outlives its session.
	StorageTTL time.Duration `mapstructure:"storage_ttl"`
	// Store is "cookie", "memory" or "redis".
	Store string `mapstructure:"store"`
	// Codec is "aead" or "jwt".
	Codec        string `mapstructure:"codec"`
	CookieSecure bool   `mapstructure:"cookie_secure"`
	CookieDomain string `mapstructure:"cookie_domain"`
}

type FormsConfig struct {
	IdleTTL         time.Duration `mapstructure:"idle_ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type SecurityConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type MailConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type NotifyConfig struct {
	// Broker publishes notices to redis in addition to the log.
	Broker  bool   `mapstructure:"broker"`
	Channel string `mapstructure:"channel"`
}

type AuditConfig struct {
	// RetentionDays is how long audit rows are kept. Zero keeps them forever.
	RetentionDays   int           `mapstructure:"retention_days"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// Secrets are read from PORTAL_* environment variables.
type Secrets struct {
	SessionKey   string `envconfig:"SESSION_KEY"`
	DBPassword   string `envconfig:"DB_PASSWORD"`
	SMTPPassword string `envconfig:"SMTP_PASSWORD"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "0s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("log.level", "info")

	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("backend.driver", "postgres")
	v.SetDefault("backend.breaker_timeout", "30s")
	v.SetDefault("backend.breaker_failures", 5)

	v.SetDefault("session.admin_window", "10m")
	v.SetDefault("session.storage_ttl", "720h")
	v.SetDefault("session.store", "cookie")
	v.SetDefault("session.codec", "aead")
	v.SetDefault("session.cookie_secure", true)

	defaults := security.DefaultPasswordPolicy()
	v.SetDefault("password.min_length", defaults.MinLength)
	v.SetDefault("password.max_length", defaults.MaxLength)
	v.SetDefault("password.require_upper", defaults.RequireUpper)
	v.SetDefault("password.require_lower", defaults.RequireLower)
	v.SetDefault("password.require_digit", defaults.RequireDigit)
	v.SetDefault("password.require_special", defaults.RequireSpecial)

	v.SetDefault("forms.idle_ttl", "2h")
	v.SetDefault("forms.cleanup_interval", "10m")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 1)
	v.SetDefault("rate_limit.burst", 5)

	v.SetDefault("mail.port", 587)

	v.SetDefault("notify.channel", "portal.notices")

	v.SetDefault("audit.retention_days", 0)
	v.SetDefault("audit.cleanup_interval", "1h")
}

// LoadConfig reads config.yaml from the given directories (or . and ./config),
// lets PORTAL_* environment variables override any key and loads secrets.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("portal")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := envconfig.Process("portal", &config.Secrets); err != nil {
		return nil, fmt.Errorf("failed to load secrets: %w", err)
	}
	if config.Secrets.DBPassword != "" {
		config.Database.Password = config.Secrets.DBPassword
	}
	if config.Secrets.SMTPPassword != "" {
		config.Mail.Password = config.Secrets.SMTPPassword
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Backend.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("config: unknown backend driver %q", c.Backend.Driver)
	}
	switch c.Session.Store {
	case "cookie", "memory", "redis":
	default:
		return fmt.Errorf("config: unknown session store %q", c.Session.Store)
	}
	switch c.Session.Codec {
	case "aead", "jwt":
	default:
		return fmt.Errorf("config: unknown session codec %q", c.Session.Codec)
	}
	if c.Session.AdminWindow <= 0 {
		return errors.New("config: session.admin_window must be positive")
	}
	if c.Password.MinLength < 1 {
		return errors.New("config: password.min_length must be at least 1")
	}
	if c.Session.Store == "redis" && c.Redis.URL == "" {
		return errors.New("config: redis.url is required for the redis session store")
	}
	return nil
}
