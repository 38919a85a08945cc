// Package config provides configuration management for the VigilOps orchestrator.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the orchestrator.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Docker        DockerConfig        `mapstructure:"docker"`
	Sandbox       SandboxConfig       `mapstructure:"sandbox"`
	Vault         VaultConfig         `mapstructure:"vault"`
	FileProxy     FileProxyConfig     `mapstructure:"fileProxy"`
	Tenancy       TenancyConfig       `mapstructure:"tenancy"`
	ConfigService ConfigServiceConfig `mapstructure:"configService"`
	NATS          NATSConfig          `mapstructure:"nats"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Persistence   PersistenceConfig   `mapstructure:"persistence"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// DockerConfig holds Docker client configuration for the sandbox runtime.
type DockerConfig struct {
	Host           string `mapstructure:"host"`
	APIVersion     string `mapstructure:"apiVersion"`
	DefaultNetwork string `mapstructure:"defaultNetwork"`
}

// SandboxConfig holds sandbox lifecycle configuration.
type SandboxConfig struct {
	// Image is the agent container image started for each investigation.
	Image string `mapstructure:"image"`

	// Namespace is the logical namespace sandboxes are created in. It is
	// forwarded on every router request as X-Sandbox-Namespace.
	Namespace string `mapstructure:"namespace"`

	// AgentPort is the port the in-sandbox agent listens on (X-Sandbox-Port).
	AgentPort int `mapstructure:"agentPort"`

	// RouterURL is the base URL of the internal sandbox router gateway.
	RouterURL string `mapstructure:"routerUrl"`

	// TTL is the sandbox lifetime in seconds. The runtime's lifecycle
	// controller deletes the sandbox at created_at + TTL.
	TTL int `mapstructure:"ttl"`

	// ReadyTimeout bounds wait-for-ready in seconds.
	ReadyTimeout int `mapstructure:"readyTimeout"`

	// ReadyPollInterval is the readiness poll interval in seconds.
	ReadyPollInterval int `mapstructure:"readyPollInterval"`

	// RequestTimeout bounds a single /execute round trip in seconds.
	RequestTimeout int `mapstructure:"requestTimeout"`
}

// VaultConfig holds sandbox JWT minting configuration.
type VaultConfig struct {
	JWTSecret      string `mapstructure:"jwtSecret"`
	TokenTTL       int    `mapstructure:"tokenTtl"`       // in seconds
	ReuseThreshold int    `mapstructure:"reuseThreshold"` // in seconds
}

// FileProxyConfig holds credential-proof file proxy configuration.
type FileProxyConfig struct {
	// PublicBaseURL is the externally reachable address of this server,
	// used to build proxy_url values handed to sandboxes.
	PublicBaseURL string `mapstructure:"publicBaseUrl"`

	TokenTTL        int `mapstructure:"tokenTtl"`        // in seconds
	UpstreamTimeout int `mapstructure:"upstreamTimeout"` // in seconds
}

// TenancyConfig holds defaults applied when a request carries no tenant context.
type TenancyConfig struct {
	DefaultTenantID string `mapstructure:"defaultTenantId"`
	DefaultTeamID   string `mapstructure:"defaultTeamId"`
}

// ConfigServiceConfig holds the external configuration service endpoint.
type ConfigServiceConfig struct {
	BaseURL    string `mapstructure:"baseUrl"`
	AdminToken string `mapstructure:"adminToken"`
	Timeout    int    `mapstructure:"timeout"` // in seconds
}

// NATSConfig holds NATS messaging configuration.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// DatabaseConfig holds optional PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// PersistenceConfig selects the investigation record store backend.
type PersistenceConfig struct {
	Driver     string `mapstructure:"driver"`     // sqlite or postgres
	SQLitePath string `mapstructure:"sqlitePath"` // path to the sqlite database file
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// TTLDuration returns the sandbox TTL as a time.Duration.
func (s *SandboxConfig) TTLDuration() time.Duration {
	return time.Duration(s.TTL) * time.Second
}

// ReadyTimeoutDuration returns the readiness timeout as a time.Duration.
func (s *SandboxConfig) ReadyTimeoutDuration() time.Duration {
	return time.Duration(s.ReadyTimeout) * time.Second
}

// ReadyPollIntervalDuration returns the readiness poll interval as a time.Duration.
func (s *SandboxConfig) ReadyPollIntervalDuration() time.Duration {
	return time.Duration(s.ReadyPollInterval) * time.Second
}

// RequestTimeoutDuration returns the execute request timeout as a time.Duration.
func (s *SandboxConfig) RequestTimeoutDuration() time.Duration {
	return time.Duration(s.RequestTimeout) * time.Second
}

// TokenTTLDuration returns the JWT TTL as a time.Duration.
func (v *VaultConfig) TokenTTLDuration() time.Duration {
	return time.Duration(v.TokenTTL) * time.Second
}

// ReuseThresholdDuration returns the JWT reuse threshold as a time.Duration.
func (v *VaultConfig) ReuseThresholdDuration() time.Duration {
	return time.Duration(v.ReuseThreshold) * time.Second
}

// TokenTTLDuration returns the download token TTL as a time.Duration.
func (f *FileProxyConfig) TokenTTLDuration() time.Duration {
	return time.Duration(f.TokenTTL) * time.Second
}

// UpstreamTimeoutDuration returns the upstream download budget as a time.Duration.
func (f *FileProxyConfig) UpstreamTimeoutDuration() time.Duration {
	return time.Duration(f.UpstreamTimeout) * time.Second
}

// TimeoutDuration returns the config service request timeout as a time.Duration.
func (c *ConfigServiceConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("VIGILOPS_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	// Long write timeout: /investigate holds the response open for the
	// lifetime of the investigation stream.
	v.SetDefault("server.writeTimeout", 600)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	// Docker defaults
	v.SetDefault("docker.host", "unix:///var/run/docker.sock")
	v.SetDefault("docker.apiVersion", "1.41")
	v.SetDefault("docker.defaultNetwork", "vigilops-network")

	// Sandbox defaults
	v.SetDefault("sandbox.image", "vigilops/investigation-agent:latest")
	v.SetDefault("sandbox.namespace", "vigilops-sandboxes")
	v.SetDefault("sandbox.agentPort", 8888)
	v.SetDefault("sandbox.routerUrl", "http://sandbox-router:8080")
	v.SetDefault("sandbox.ttl", 7200)
	v.SetDefault("sandbox.readyTimeout", 120)
	v.SetDefault("sandbox.readyPollInterval", 2)
	v.SetDefault("sandbox.requestTimeout", 300)

	// Vault defaults: 24h JWTs, re-mint inside the last 30 minutes
	v.SetDefault("vault.jwtSecret", "")
	v.SetDefault("vault.tokenTtl", 86400)
	v.SetDefault("vault.reuseThreshold", 1800)

	// File proxy defaults
	v.SetDefault("fileProxy.publicBaseUrl", "http://localhost:8080")
	v.SetDefault("fileProxy.tokenTtl", 3600)
	v.SetDefault("fileProxy.upstreamTimeout", 300)

	// Tenancy defaults for local single-tenant mode
	v.SetDefault("tenancy.defaultTenantId", "local")
	v.SetDefault("tenancy.defaultTeamId", "default")

	// Config service defaults - empty base URL disables routing lookups
	v.SetDefault("configService.baseUrl", "")
	v.SetDefault("configService.adminToken", "")
	v.SetDefault("configService.timeout", 10)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "vigilops-orchestrator")
	v.SetDefault("nats.maxReconnects", 10)

	// Database defaults (optional; persistence.driver selects the backend)
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "vigilops")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbName", "vigilops")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	// Persistence defaults
	v.SetDefault("persistence.driver", "sqlite")
	v.SetDefault("persistence.sqlitePath", "~/.vigilops/vigilops.db")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix VIGILOPS_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory
// or /etc/vigilops/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("VIGILOPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for env vars whose names differ from config keys.
	_ = v.BindEnv("sandbox.routerUrl", "VIGILOPS_SANDBOX_ROUTER_URL")
	_ = v.BindEnv("sandbox.image", "VIGILOPS_SANDBOX_IMAGE")
	_ = v.BindEnv("sandbox.namespace", "VIGILOPS_SANDBOX_NAMESPACE")
	_ = v.BindEnv("fileProxy.publicBaseUrl", "VIGILOPS_FILE_PROXY_BASE_URL")
	_ = v.BindEnv("vault.jwtSecret", "VIGILOPS_VAULT_JWT_SECRET")
	_ = v.BindEnv("tenancy.defaultTenantId", "VIGILOPS_DEFAULT_TENANT_ID")
	_ = v.BindEnv("tenancy.defaultTeamId", "VIGILOPS_DEFAULT_TEAM_ID")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/vigilops/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
// In development mode (default), most fields are optional.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Sandbox.AgentPort <= 0 || cfg.Sandbox.AgentPort > 65535 {
		errs = append(errs, "sandbox.agentPort must be between 1 and 65535")
	}
	if cfg.Sandbox.TTL <= 0 {
		errs = append(errs, "sandbox.ttl must be positive")
	}
	if cfg.Sandbox.ReadyTimeout <= 0 {
		errs = append(errs, "sandbox.readyTimeout must be positive")
	}

	if cfg.Vault.TokenTTL <= 0 {
		errs = append(errs, "vault.tokenTtl must be positive")
	}
	if cfg.Vault.ReuseThreshold <= 0 || cfg.Vault.ReuseThreshold >= cfg.Vault.TokenTTL {
		errs = append(errs, "vault.reuseThreshold must be positive and below vault.tokenTtl")
	}
	// Dev mode: generate a throwaway signing secret when none is configured.
	if cfg.Vault.JWTSecret == "" {
		cfg.Vault.JWTSecret = generateDevSecret()
	}

	if cfg.FileProxy.TokenTTL <= 0 {
		errs = append(errs, "fileProxy.tokenTtl must be positive")
	}

	if cfg.Database.Host != "" {
		if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
			errs = append(errs, "database.port must be between 1 and 65535")
		}
		if cfg.Database.User == "" {
			errs = append(errs, "database.user is required when database.host is set")
		}
		if cfg.Database.DBName == "" {
			errs = append(errs, "database.dbName is required when database.host is set")
		}
	}

	switch cfg.Persistence.Driver {
	case "sqlite", "postgres", "":
	default:
		errs = append(errs, "persistence.driver must be one of: sqlite, postgres")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// generateDevSecret generates a random signing secret for development mode.
// In production, operators should set VIGILOPS_VAULT_JWT_SECRET.
func generateDevSecret() string {
	return fmt.Sprintf("dev-secret-change-in-production-%d", time.Now().UnixNano())
}
