package core

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultAuthURL        = "https://auth.mercadolibre.com.co/authorization"
	DefaultTokenURL       = "https://api.mercadolibre.com/oauth/token"
	DefaultBaseURL        = "https://api.mercadolibre.com"
	DefaultRedirectURI    = "http://localhost:3000"
	DefaultRefreshMargin  = 60 * time.Second
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = 2 * time.Second
	DefaultMaxBackoff     = 10 * time.Second
	DefaultPageSize       = 50
	DefaultBatchSize      = 20
	MaxBatchSize          = 20
	DefaultOrderLimit     = 50
)

const (
	StorageDriverFile     = "file"
	StorageDriverSQLite   = "sqlite"
	StorageDriverPostgres = "postgres"
	StorageDriverRedis    = "redis"
)

type OAuthConfig struct {
	ClientID       string        `koanf:"client_id" mapstructure:"client_id"`
	ClientSecret   string        `koanf:"client_secret" mapstructure:"client_secret"`
	RedirectURI    string        `koanf:"redirect_uri" mapstructure:"redirect_uri"`
	AuthURL        string        `koanf:"auth_url" mapstructure:"auth_url"`
	TokenURL       string        `koanf:"token_url" mapstructure:"token_url"`
	RefreshMargin  time.Duration `koanf:"refresh_margin" mapstructure:"refresh_margin"`
	RequestTimeout time.Duration `koanf:"request_timeout" mapstructure:"request_timeout"`
}

type APIConfig struct {
	BaseURL        string        `koanf:"base_url" mapstructure:"base_url"`
	Timeout        time.Duration `koanf:"timeout" mapstructure:"timeout"`
	MaxAttempts    int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff time.Duration `koanf:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff" mapstructure:"max_backoff"`
	PageSize       int           `koanf:"page_size" mapstructure:"page_size"`
	BatchSize      int           `koanf:"batch_size" mapstructure:"batch_size"`
}

type AuditConfig struct {
	OrderLimit         int    `koanf:"order_limit" mapstructure:"order_limit"`
	TruthTablePath     string `koanf:"truth_table_path" mapstructure:"truth_table_path"`
	ReportPath         string `koanf:"report_path" mapstructure:"report_path"`
	CaseInsensitiveSKU bool   `koanf:"case_insensitive_sku" mapstructure:"case_insensitive_sku"`
}

type StorageConfig struct {
	Driver        string        `koanf:"driver" mapstructure:"driver"`
	TokenFile     string        `koanf:"token_file" mapstructure:"token_file"`
	DSN           string        `koanf:"dsn" mapstructure:"dsn"`
	RedisAddr     string        `koanf:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword string        `koanf:"redis_password" mapstructure:"redis_password"`
	RedisDB       int           `koanf:"redis_db" mapstructure:"redis_db"`
	EncryptionKey string        `koanf:"encryption_key" mapstructure:"encryption_key"`
	PingTimeout   time.Duration `koanf:"ping_timeout" mapstructure:"ping_timeout"`
	Debug         bool          `koanf:"debug" mapstructure:"debug"`
}

type Config struct {
	ServiceName string        `koanf:"service_name" mapstructure:"service_name"`
	OAuth       OAuthConfig   `koanf:"oauth" mapstructure:"oauth"`
	API         APIConfig     `koanf:"api" mapstructure:"api"`
	Audit       AuditConfig   `koanf:"audit" mapstructure:"audit"`
	Storage     StorageConfig `koanf:"storage" mapstructure:"storage"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "delta",
		OAuth: OAuthConfig{
			RedirectURI:    DefaultRedirectURI,
			AuthURL:        DefaultAuthURL,
			TokenURL:       DefaultTokenURL,
			RefreshMargin:  DefaultRefreshMargin,
			RequestTimeout: 30 * time.Second,
		},
		API: APIConfig{
			BaseURL:        DefaultBaseURL,
			Timeout:        30 * time.Second,
			MaxAttempts:    DefaultMaxAttempts,
			InitialBackoff: DefaultInitialBackoff,
			MaxBackoff:     DefaultMaxBackoff,
			PageSize:       DefaultPageSize,
			BatchSize:      DefaultBatchSize,
		},
		Audit: AuditConfig{
			OrderLimit:     DefaultOrderLimit,
			TruthTablePath: "sku_truth.csv",
			ReportPath:     "report.csv",
		},
		Storage: StorageConfig{
			Driver:      StorageDriverFile,
			TokenFile:   "tokens.json",
			PingTimeout: 5 * time.Second,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if err := c.OAuth.Validate(); err != nil {
		return err
	}
	if err := c.API.Validate(); err != nil {
		return err
	}
	if c.Audit.OrderLimit <= 0 {
		return fmt.Errorf("core: audit.order_limit must be positive")
	}
	return c.Storage.Validate()
}

func (c OAuthConfig) Validate() error {
	if strings.TrimSpace(c.ClientID) == "" {
		return fmt.Errorf("core: oauth.client_id is required")
	}
	for name, raw := range map[string]string{
		"oauth.auth_url":     c.AuthURL,
		"oauth.token_url":    c.TokenURL,
		"oauth.redirect_uri": c.RedirectURI,
	} {
		if err := validateAbsoluteURL(name, raw); err != nil {
			return err
		}
	}
	if c.RefreshMargin < 0 {
		return fmt.Errorf("core: oauth.refresh_margin must not be negative")
	}
	return nil
}

func (c APIConfig) Validate() error {
	if err := validateAbsoluteURL("api.base_url", c.BaseURL); err != nil {
		return err
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("core: api.max_attempts must be positive")
	}
	if c.InitialBackoff <= 0 || c.MaxBackoff <= 0 {
		return fmt.Errorf("core: api backoff durations must be positive")
	}
	if c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("core: api.max_backoff must be >= api.initial_backoff")
	}
	if c.PageSize <= 0 || c.BatchSize <= 0 {
		return fmt.Errorf("core: api.page_size and api.batch_size must be positive")
	}
	if c.BatchSize > MaxBatchSize {
		return fmt.Errorf("core: api.batch_size must be at most %d", MaxBatchSize)
	}
	return nil
}

func (c StorageConfig) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Driver)) {
	case StorageDriverFile:
		if strings.TrimSpace(c.TokenFile) == "" {
			return fmt.Errorf("core: storage.token_file is required for the file driver")
		}
	case StorageDriverSQLite, StorageDriverPostgres:
		if strings.TrimSpace(c.DSN) == "" {
			return fmt.Errorf("core: storage.dsn is required for the %s driver", c.Driver)
		}
	case StorageDriverRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			return fmt.Errorf("core: storage.redis_addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("core: storage.driver %q is invalid", c.Driver)
	}
	return nil
}

// PersistenceConfig adapts the storage settings to the go-persistence-bun
// client contract.
func (c StorageConfig) PersistenceConfig(identifier string) PersistenceConfig {
	return PersistenceConfig{storage: c, identifier: identifier}
}

type PersistenceConfig struct {
	storage    StorageConfig
	identifier string
}

func (c PersistenceConfig) GetDebug() bool { return c.storage.Debug }

func (c PersistenceConfig) GetDriver() string {
	if strings.EqualFold(c.storage.Driver, StorageDriverSQLite) {
		return "sqlite3"
	}
	return strings.ToLower(strings.TrimSpace(c.storage.Driver))
}

func (c PersistenceConfig) GetServer() string { return c.storage.DSN }

func (c PersistenceConfig) GetPingTimeout() time.Duration {
	if c.storage.PingTimeout <= 0 {
		return 5 * time.Second
	}
	return c.storage.PingTimeout
}

func (c PersistenceConfig) GetOtelIdentifier() string {
	if strings.TrimSpace(c.identifier) == "" {
		return "delta"
	}
	return c.identifier
}

func validateAbsoluteURL(name string, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("core: %s is required", name)
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("core: %s must be an absolute url", name)
	}
	return nil
}
