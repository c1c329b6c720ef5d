package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/marshalcore/backend/internal/domain/transfer"
	"github.com/spf13/viper"
)

// Gateway modes
const (
	GatewayModeLive      = "live"
	GatewayModeSimulated = "simulated"
)

// Backends for locks and recipient handle caches
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds all application configuration
type Config struct {
	App        AppConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Log        LogConfig
	HTTP       HTTPConfig
	Gateway    GatewayConfig
	Recipients map[string]RecipientConfig
	Retry      RetryConfig
	Lock       LockConfig
	Dispatch   DispatchConfig
	Telemetry  TelemetryConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver          string // postgres or sqlite
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string // database name, or file path / DSN for sqlite
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
	LogLevel        string
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns the host:port address
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodySize     int64
}

// GatewayConfig holds payment gateway settings
type GatewayConfig struct {
	Mode           string // live or simulated
	BaseURL        string
	SecretKey      string
	Timeout        time.Duration
	Source         string // funding source sent with each transfer, e.g. "balance"
	Currency       string
	HandleCache    string // memory or redis
	HandleCacheTTL time.Duration
}

// RecipientConfig holds the bank details of one fixed recipient
type RecipientConfig struct {
	AccountName   string `mapstructure:"account_name"`
	AccountNumber string `mapstructure:"account_number"`
	BankCode      string `mapstructure:"bank_code"`
	Currency      string `mapstructure:"currency"`
}

// RetryConfig holds the automatic retry and recovery sweep settings
type RetryConfig struct {
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	SweepEnabled   bool
	SweepInterval  time.Duration
	SweepAge       time.Duration
	SweepBatchSize int
}

// Policy converts the retry settings to a domain retry policy
func (r RetryConfig) Policy() transfer.RetryPolicy {
	return transfer.RetryPolicy{
		MaxRetries: r.MaxRetries,
		BaseDelay:  r.BaseDelay,
		MaxDelay:   r.MaxDelay,
	}
}

// LockConfig holds the per-payment lock settings
type LockConfig struct {
	Backend     string // memory or redis
	TTL         time.Duration
	WaitTimeout time.Duration
	KeyPrefix   string
}

// DispatchConfig holds settings for background split runs
type DispatchConfig struct {
	Timeout time.Duration
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0)
	ServiceName       string
	Insecure          bool          // Use insecure (non-TLS) connection (development only)
	MetricsInterval   time.Duration // Metric export interval
	DBTraceEnabled    bool          // Enable database query tracing (otelgorm)
	DBLogFullSQL      bool          // Include query variables in spans (dev only)
	DBSlowQueryThresh time.Duration
}

// Load loads configuration from a .env file, config.toml and environment variables.
// Priority (highest to lowest):
// 1. Environment variables with SPLIT_ prefix (e.g., SPLIT_GATEWAY_SECRET_KEY)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./backend")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("SPLIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
			LogLevel:        v.GetString("database.log_level"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:     v.GetDuration("http.read_timeout"),
			WriteTimeout:    v.GetDuration("http.write_timeout"),
			IdleTimeout:     v.GetDuration("http.idle_timeout"),
			ShutdownTimeout: v.GetDuration("http.shutdown_timeout"),
			MaxBodySize:     v.GetInt64("http.max_body_size"),
		},
		Gateway: GatewayConfig{
			Mode:           v.GetString("gateway.mode"),
			BaseURL:        v.GetString("gateway.base_url"),
			SecretKey:      v.GetString("gateway.secret_key"),
			Timeout:        v.GetDuration("gateway.timeout"),
			Source:         v.GetString("gateway.source"),
			Currency:       v.GetString("gateway.currency"),
			HandleCache:    v.GetString("gateway.handle_cache"),
			HandleCacheTTL: v.GetDuration("gateway.handle_cache_ttl"),
		},
		Recipients: loadRecipients(v),
		Retry: RetryConfig{
			MaxRetries:     v.GetInt("retry.max_retries"),
			BaseDelay:      v.GetDuration("retry.base_delay"),
			MaxDelay:       v.GetDuration("retry.max_delay"),
			SweepEnabled:   v.GetBool("retry.sweep_enabled"),
			SweepInterval:  v.GetDuration("retry.sweep_interval"),
			SweepAge:       v.GetDuration("retry.sweep_age"),
			SweepBatchSize: v.GetInt("retry.sweep_batch_size"),
		},
		Lock: LockConfig{
			Backend:     v.GetString("lock.backend"),
			TTL:         v.GetDuration("lock.ttl"),
			WaitTimeout: v.GetDuration("lock.wait_timeout"),
			KeyPrefix:   v.GetString("lock.key_prefix"),
		},
		Dispatch: DispatchConfig{
			Timeout: v.GetDuration("dispatch.timeout"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadRecipients reads the [recipients.<type>] tables.
// Fixed recipient types are always probed so environment variables alone can configure them.
func loadRecipients(v *viper.Viper) map[string]RecipientConfig {
	keys := map[string]struct{}{}
	for k := range v.GetStringMap("recipients") {
		keys[strings.ToLower(k)] = struct{}{}
	}
	for _, t := range transfer.AllRecipientTypes() {
		keys[strings.ToLower(string(t))] = struct{}{}
	}

	out := make(map[string]RecipientConfig, len(keys))
	for k := range keys {
		prefix := "recipients." + k + "."
		rc := RecipientConfig{
			AccountName:   v.GetString(prefix + "account_name"),
			AccountNumber: v.GetString(prefix + "account_number"),
			BankCode:      v.GetString(prefix + "bank_code"),
			Currency:      v.GetString(prefix + "currency"),
		}
		if rc == (RecipientConfig{}) {
			continue
		}
		out[k] = rc
	}
	return out
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "split-transfers"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverPostgres
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "payments"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Database.LogLevel == "" {
		cfg.Database.LogLevel = "warn"
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 60 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 30 * time.Second
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20
	}
	if cfg.Gateway.Mode == "" {
		cfg.Gateway.Mode = GatewayModeSimulated
	}
	if cfg.Gateway.BaseURL == "" {
		cfg.Gateway.BaseURL = "https://api.paystack.co"
	}
	if cfg.Gateway.Timeout == 0 {
		cfg.Gateway.Timeout = 30 * time.Second
	}
	if cfg.Gateway.Source == "" {
		cfg.Gateway.Source = "balance"
	}
	if cfg.Gateway.Currency == "" {
		cfg.Gateway.Currency = "NGN"
	}
	if cfg.Gateway.HandleCache == "" {
		cfg.Gateway.HandleCache = BackendMemory
	}
	if cfg.Gateway.HandleCacheTTL == 0 {
		cfg.Gateway.HandleCacheTTL = 24 * time.Hour
	}
	if cfg.App.Env != "production" {
		applyRecipientDefaults(cfg)
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry.MaxRetries = transfer.DefaultMaxRetries
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = transfer.DefaultBaseDelay
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = transfer.DefaultMaxDelay
	}
	if cfg.Retry.SweepInterval == 0 {
		cfg.Retry.SweepInterval = time.Minute
	}
	if cfg.Retry.SweepAge == 0 {
		cfg.Retry.SweepAge = 2 * time.Minute
	}
	if cfg.Retry.SweepBatchSize == 0 {
		cfg.Retry.SweepBatchSize = 50
	}
	if cfg.Lock.Backend == "" {
		cfg.Lock.Backend = BackendMemory
	}
	if cfg.Lock.TTL == 0 {
		cfg.Lock.TTL = 5 * time.Minute
	}
	if cfg.Lock.WaitTimeout == 0 {
		cfg.Lock.WaitTimeout = 10 * time.Second
	}
	if cfg.Lock.KeyPrefix == "" {
		cfg.Lock.KeyPrefix = "split:lock:"
	}
	if cfg.Dispatch.Timeout == 0 {
		cfg.Dispatch.Timeout = 2 * time.Minute
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 60 * time.Second
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
}

// developmentRecipients are placeholder accounts for local and simulated runs.
// Production must configure every recipient explicitly.
var developmentRecipients = map[string]RecipientConfig{
	"director_general": {AccountName: "Director General", AccountNumber: "0000000001", BankCode: "000"},
	"tech_services":    {AccountName: "Technical Services", AccountNumber: "0000000002", BankCode: "000"},
}

func applyRecipientDefaults(cfg *Config) {
	if cfg.Recipients == nil {
		cfg.Recipients = map[string]RecipientConfig{}
	}
	for name, rc := range developmentRecipients {
		if _, ok := cfg.Recipients[name]; !ok {
			cfg.Recipients[name] = rc
		}
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.Driver != DriverPostgres && c.Database.Driver != DriverSQLite {
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.Database.Driver)
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	switch c.Gateway.Mode {
	case GatewayModeLive:
		if c.Gateway.SecretKey == "" {
			return fmt.Errorf("gateway.secret_key is required in %s mode", GatewayModeLive)
		}
		if _, err := url.ParseRequestURI(c.Gateway.BaseURL); err != nil {
			return fmt.Errorf("gateway.base_url is invalid: %w", err)
		}
	case GatewayModeSimulated:
	default:
		return fmt.Errorf("gateway.mode must be %q or %q, got %q", GatewayModeLive, GatewayModeSimulated, c.Gateway.Mode)
	}
	if !isBackend(c.Gateway.HandleCache) {
		return fmt.Errorf("gateway.handle_cache must be %q or %q, got %q", BackendMemory, BackendRedis, c.Gateway.HandleCache)
	}
	if !isBackend(c.Lock.Backend) {
		return fmt.Errorf("lock.backend must be %q or %q, got %q", BackendMemory, BackendRedis, c.Lock.Backend)
	}
	// a run may hold the payment lock for up to dispatch.timeout
	if c.Lock.TTL <= c.Dispatch.Timeout {
		return fmt.Errorf("lock.ttl (%s) must be greater than dispatch.timeout (%s)", c.Lock.TTL, c.Dispatch.Timeout)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries cannot be negative")
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry.max_delay (%s) cannot be less than retry.base_delay (%s)", c.Retry.MaxDelay, c.Retry.BaseDelay)
	}

	if _, err := c.RecipientDirectory(); err != nil {
		return err
	}

	if c.App.Env == "production" {
		if c.Gateway.Mode == GatewayModeSimulated {
			return fmt.Errorf("gateway.mode cannot be %q in production", GatewayModeSimulated)
		}
		if c.Database.Driver != DriverPostgres {
			return fmt.Errorf("database.driver must be %q in production", DriverPostgres)
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

func isBackend(b string) bool {
	return b == BackendMemory || b == BackendRedis
}

// RecipientDirectory builds the immutable recipient directory from the [recipients] tables.
// Unset currencies fall back to gateway.currency.
func (c *Config) RecipientDirectory() (transfer.RecipientDirectory, error) {
	names := make([]string, 0, len(c.Recipients))
	for name := range c.Recipients {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make(map[transfer.RecipientType]transfer.RecipientDescriptor, len(names))
	for _, name := range names {
		rc := c.Recipients[name]
		t := transfer.RecipientType(strings.ToUpper(name))
		if !t.IsValid() {
			return transfer.RecipientDirectory{}, fmt.Errorf("recipients.%s: %w", name, transfer.ErrUnknownRecipient)
		}
		currency := rc.Currency
		if currency == "" {
			currency = c.Gateway.Currency
		}
		entries[t] = transfer.RecipientDescriptor{
			AccountName:   rc.AccountName,
			AccountNumber: rc.AccountNumber,
			BankCode:      rc.BankCode,
			Currency:      currency,
		}
	}

	dir, err := transfer.NewRecipientDirectory(entries)
	if err != nil {
		return transfer.RecipientDirectory{}, fmt.Errorf("recipients: %w", err)
	}
	return dir, nil
}

// IsProduction returns true when running in production
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// DSN returns the database connection string with properly escaped values.
// For sqlite the DBName is returned unchanged.
func (d *DatabaseConfig) DSN() string {
	if d.Driver == DriverSQLite {
		return d.DBName
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
