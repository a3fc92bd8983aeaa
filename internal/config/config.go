// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Upstream service identifiers used as keys of Config.Services.
const (
	ServiceSettingsHS = "settings_hs"
	ServiceRepair     = "repair"
	ServiceNovaPoshta = "novaposhta"
	ServiceTurboSMS   = "turbosms"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig             `yaml:"server"`
	Identity      IdentityConfig           `yaml:"identity"`
	Services      map[string]ServiceConfig `yaml:"services"`
	Storage       StorageConfig            `yaml:"storage"`
	Settings      SettingsConfig           `yaml:"settings"`
	Verification  VerificationConfig       `yaml:"verification"`
	Configurator  ConfiguratorConfig       `yaml:"configurator"`
	Repair        RepairConfig             `yaml:"repair"`
	NovaPoshta    NovaPoshtaConfig         `yaml:"novaposhta"`
	Fleet         FleetConfig              `yaml:"fleet"`
	Profile       ProfileConfig            `yaml:"profile"`
	Access        AccessConfig             `yaml:"access"`
	Observability ObservabilityConfig      `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// IdentityConfig describes Firebase ID token verification.
type IdentityConfig struct {
	Issuer       string            `yaml:"issuer"`
	Audience     string            `yaml:"audience"`
	JWKSURL      string            `yaml:"jwks_url"`
	JWKSCacheTTL time.Duration     `yaml:"jwks_cache_ttl"`
	Algorithms   []string          `yaml:"algorithms"`
	ClaimPaths   map[string]string `yaml:"claim_paths"`
}

// ServiceConfig describes an upstream HTTP service.
type ServiceConfig struct {
	BaseURL        string               `yaml:"base_url"`
	Timeout        time.Duration        `yaml:"timeout"`
	Auth           ServiceAuthConfig    `yaml:"auth"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry          RetryConfig          `yaml:"retry"`
}

// ServiceAuthConfig describes how requests to an upstream are authenticated.
// Strategy is one of "none", "basic" or "bearer". Secrets are read from the
// named environment variables.
type ServiceAuthConfig struct {
	Strategy    string `yaml:"strategy"`
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
	TokenEnv    string `yaml:"token_env"`
}

// CircuitBreakerConfig describes circuit breaker settings per service.
type CircuitBreakerConfig struct {
	FailureThreshold   int           `yaml:"failure_threshold"`
	SuccessThreshold   int           `yaml:"success_threshold"`
	Timeout            time.Duration `yaml:"timeout"`
	ErrorRateThreshold float64       `yaml:"error_rate_threshold"`
	ErrorRateWindow    time.Duration `yaml:"error_rate_window"`
}

// RetryConfig describes retry settings per service.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffInitial    time.Duration `yaml:"backoff_initial"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
	IdempotentOnly    bool          `yaml:"idempotent_only"`
}

// StorageConfig describes the shared database connections.
type StorageConfig struct {
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
}

// PostgresConfig describes the pgx connection pool.
type PostgresConfig struct {
	DSNEnv          string        `yaml:"dsn_env"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig describes the Redis connection.
type RedisConfig struct {
	AddrEnv     string `yaml:"addr_env"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`
}

// StoreConfig selects a store implementation.
type StoreConfig struct {
	Driver string `yaml:"driver"`
}

// CacheConfig describes cache settings.
type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// SettingsConfig describes the boat settings integration.
type SettingsConfig struct {
	DefaultLocalization string      `yaml:"default_localization"`
	DefaultChipType     string      `yaml:"default_chip_type"`
	PushPath            string      `yaml:"push_path"`
	SchemaCache         CacheConfig `yaml:"schema_cache"`
	Store               StoreConfig `yaml:"store"`
}

// Verification code providers.
const (
	ProviderAuto     = "auto"
	ProviderTurboSMS = "turbosms"
	ProviderPortal   = "portal"
	ProviderLog      = "log"
)

// VerificationConfig describes phone verification. Provider selects who
// generates and delivers codes: "turbosms" sends locally generated codes,
// "portal" lets the repair portal generate and send them, "log" only logs
// them and "auto" picks turbosms when its token is present and log otherwise.
type VerificationConfig struct {
	Provider        string        `yaml:"provider"`
	CodeLength      int           `yaml:"code_length"`
	CodeTTL         time.Duration `yaml:"code_ttl"`
	ResendCooldown  time.Duration `yaml:"resend_cooldown"`
	MaxAttempts     int           `yaml:"max_attempts"`
	MessageTemplate string        `yaml:"message_template"`
	SenderName      string        `yaml:"sender_name"`
	TokenSecretEnv  string        `yaml:"token_secret_env"`
	TokenTTL        time.Duration `yaml:"token_ttl"`
	Store           StoreConfig   `yaml:"store"`
}

// ConfiguratorConfig describes the configurator share surface.
type ConfiguratorConfig struct {
	PublicBaseURL string `yaml:"public_base_url"`
	QRSize        int    `yaml:"qr_size"`
}

// RepairConfig describes the repair portal integration. PDFFontPath points
// at a TTF font with Cyrillic glyphs; without it summaries fall back to a
// Latin-1 core font.
type RepairConfig struct {
	PDFFontPath string `yaml:"pdf_font_path"`
}

// NovaPoshtaConfig describes the Nova Poshta integration.
type NovaPoshtaConfig struct {
	APIKeyEnv string      `yaml:"api_key_env"`
	Cache     CacheConfig `yaml:"cache"`
}

// FleetConfig describes reservoir and share persistence.
type FleetConfig struct {
	ShareTTL           time.Duration `yaml:"share_ttl"`
	SharePurgeSchedule string        `yaml:"share_purge_schedule"`
	Store              StoreConfig   `yaml:"store"`
	// SeedFile optionally lists boats and distributors loaded at startup.
	SeedFile string `yaml:"seed_file"`
}

// ProfileConfig describes per-user document persistence.
type ProfileConfig struct {
	Store StoreConfig `yaml:"store"`
}

// AccessConfig describes boat capability resolution.
type AccessConfig struct {
	// PolicyFile maps roles to capabilities granted on every boat. When
	// empty the developer role gets "*".
	PolicyFile string      `yaml:"policy_file"`
	Cache      CacheConfig `yaml:"cache"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    35 * time.Second,
			HandlerTimeout:  32 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type", "Accept-Language",
					"X-Correlation-Id", "X-Phone-Token"},
				MaxAge: 86400,
			},
		},
		Identity: IdentityConfig{
			JWKSURL:      "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com",
			JWKSCacheTTL: 1 * time.Hour,
			Algorithms:   []string{"RS256"},
			ClaimPaths: map[string]string{
				"subject_id":     "sub",
				"email":          "email",
				"phone_number":   "phone_number",
				"roles":          "role",
				"distributor_id": "distributor_id",
			},
		},
		Services: map[string]ServiceConfig{
			ServiceSettingsHS: {Timeout: 30 * time.Second, Auth: ServiceAuthConfig{Strategy: "basic"}},
			ServiceRepair:     {BaseURL: "https://portal.runferry.com/api/hs/facebook", Timeout: 30 * time.Second},
			ServiceNovaPoshta: {BaseURL: "https://api.novaposhta.ua/v2.0/json/", Timeout: 15 * time.Second},
			ServiceTurboSMS:   {BaseURL: "https://api.turbosms.ua", Timeout: 15 * time.Second, Auth: ServiceAuthConfig{Strategy: "bearer", TokenEnv: "TURBOSMS_TOKEN"}},
		},
		Storage: StorageConfig{
			Postgres: PostgresConfig{
				DSNEnv:          "PORTAL_DATABASE_URL",
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
			Redis: RedisConfig{
				AddrEnv: "PORTAL_REDIS_ADDR",
			},
		},
		Settings: SettingsConfig{
			DefaultLocalization: "en_US",
			DefaultChipType:     "chip_type",
			SchemaCache:         CacheConfig{TTL: 10 * time.Minute, MaxEntries: 500},
			Store:               StoreConfig{Driver: DriverMemory},
		},
		Verification: VerificationConfig{
			Provider:        ProviderAuto,
			CodeLength:      6,
			CodeTTL:         5 * time.Minute,
			ResendCooldown:  60 * time.Second,
			MaxAttempts:     5,
			MessageTemplate: "Verification code: %s",
			SenderName:      "RunFerry",
			TokenSecretEnv:  "PORTAL_VERIFICATION_SECRET",
			TokenTTL:        30 * time.Minute,
			Store:           StoreConfig{Driver: DriverMemory},
		},
		Configurator: ConfiguratorConfig{
			PublicBaseURL: "http://localhost:5173",
			QRSize:        256,
		},
		NovaPoshta: NovaPoshtaConfig{
			APIKeyEnv: "NOVAPOSHTA_API_KEY",
			Cache:     CacheConfig{TTL: 1 * time.Hour, MaxEntries: 2000},
		},
		Fleet: FleetConfig{
			ShareTTL:           7 * 24 * time.Hour,
			SharePurgeSchedule: "@every 1h",
			Store:              StoreConfig{Driver: DriverMemory},
		},
		Profile: ProfileConfig{
			Store: StoreConfig{Driver: DriverMemory},
		},
		Access: AccessConfig{
			Cache: CacheConfig{TTL: 1 * time.Minute, MaxEntries: 10000},
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Identity.Issuer == "" {
		errs = append(errs, "identity.issuer is required")
	}
	if c.Identity.JWKSURL == "" {
		errs = append(errs, "identity.jwks_url is required")
	}
	if c.Identity.Audience == "" {
		errs = append(errs, "identity.audience is required")
	}

	for _, id := range []string{ServiceSettingsHS, ServiceRepair, ServiceNovaPoshta} {
		if c.Services[id].BaseURL == "" {
			errs = append(errs, fmt.Sprintf("services.%s.base_url is required", id))
		}
	}
	for id, svc := range c.Services {
		switch svc.Auth.Strategy {
		case "", "none", "basic", "bearer":
		default:
			errs = append(errs, fmt.Sprintf("services.%s.auth.strategy %q is not supported", id, svc.Auth.Strategy))
		}
	}

	if c.Verification.CodeLength < 4 || c.Verification.CodeLength > 6 {
		errs = append(errs, "verification.code_length must be between 4 and 6")
	}
	if c.Verification.CodeTTL <= 0 {
		errs = append(errs, "verification.code_ttl must be positive")
	}
	if c.Verification.MaxAttempts < 0 {
		errs = append(errs, "verification.max_attempts must not be negative")
	}
	switch c.Verification.Provider {
	case ProviderAuto, ProviderTurboSMS, ProviderPortal, ProviderLog:
	default:
		errs = append(errs, fmt.Sprintf("verification.provider %q is not supported", c.Verification.Provider))
	}

	errs = append(errs, checkDriver("settings.store", c.Settings.Store.Driver, DriverMemory, DriverPostgres)...)
	errs = append(errs, checkDriver("verification.store", c.Verification.Store.Driver, DriverMemory, DriverRedis)...)
	errs = append(errs, checkDriver("fleet.store", c.Fleet.Store.Driver, DriverMemory, DriverPostgres)...)
	errs = append(errs, checkDriver("profile.store", c.Profile.Store.Driver, DriverMemory, DriverPostgres)...)

	if c.Fleet.ShareTTL <= 0 {
		errs = append(errs, "fleet.share_ttl must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// UsesDriver reports whether any store is configured with the given driver.
func (c *Config) UsesDriver(driver string) bool {
	for _, d := range []string{
		c.Settings.Store.Driver,
		c.Verification.Store.Driver,
		c.Fleet.Store.Driver,
		c.Profile.Store.Driver,
	} {
		if d == driver {
			return true
		}
	}
	return false
}

func checkDriver(field, driver string, allowed ...string) []string {
	for _, a := range allowed {
		if driver == a {
			return nil
		}
	}
	return []string{fmt.Sprintf("%s.driver %q is not one of %s", field, driver, strings.Join(allowed, ", "))}
}

// applyEnvOverrides reads PORTAL_* environment variables and overrides config
// values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORTAL_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PORTAL_IDENTITY_ISSUER"); v != "" {
		cfg.Identity.Issuer = v
	}
	if v := os.Getenv("PORTAL_IDENTITY_JWKS_URL"); v != "" {
		cfg.Identity.JWKSURL = v
	}
	if v := os.Getenv("PORTAL_IDENTITY_AUDIENCE"); v != "" {
		cfg.Identity.Audience = v
	}
	if v := os.Getenv("PORTAL_SETTINGS_HS_URL"); v != "" {
		setBaseURL(cfg, ServiceSettingsHS, v)
	}
	if v := os.Getenv("PORTAL_REPAIR_URL"); v != "" {
		setBaseURL(cfg, ServiceRepair, v)
	}
	if v := os.Getenv("PORTAL_PUBLIC_BASE_URL"); v != "" {
		cfg.Configurator.PublicBaseURL = v
	}
	if v := os.Getenv("PORTAL_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("PORTAL_STORE_DRIVER"); v != "" {
		// A single switch for the SQL-backed stores; verification keeps its own.
		cfg.Settings.Store.Driver = v
		cfg.Fleet.Store.Driver = v
		cfg.Profile.Store.Driver = v
	}
}

func setBaseURL(cfg *Config, id, url string) {
	if cfg.Services == nil {
		cfg.Services = make(map[string]ServiceConfig)
	}
	svc := cfg.Services[id]
	svc.BaseURL = url
	cfg.Services[id] = svc
}

// Secret returns the value of the environment variable named by envName, or
// "" when envName is empty.
func Secret(envName string) string {
	if envName == "" {
		return ""
	}
	return os.Getenv(envName)
}
