package core

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

// LoadConfig resolves defaults < loader values < runtime overrides into a
// validated Config.
func LoadConfig(ctx context.Context, loader RawConfigLoader, runtime Config) (Config, error) {
	defaults := DefaultConfig()
	loaded, err := NewCfgxConfigProvider(loader).Load(ctx, defaults)
	if err != nil {
		return Config{}, err
	}
	return GoOptionsResolver{}.Resolve(defaults, loaded, runtime)
}

type StaticConfigLoader struct {
	Values map[string]any
}

func (l StaticConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type envBinding struct {
	section string
	key     string
	kind    string
}

var envBindings = map[string]envBinding{
	"DELTA_SERVICE_NAME":         {key: "service_name", kind: "string"},
	"APP_ID":                     {section: "oauth", key: "client_id", kind: "string"},
	"DELTA_CLIENT_ID":            {section: "oauth", key: "client_id", kind: "string"},
	"CLIENT_SECRET":              {section: "oauth", key: "client_secret", kind: "string"},
	"DELTA_CLIENT_SECRET":        {section: "oauth", key: "client_secret", kind: "string"},
	"REDIRECT_URI":               {section: "oauth", key: "redirect_uri", kind: "string"},
	"DELTA_REDIRECT_URI":         {section: "oauth", key: "redirect_uri", kind: "string"},
	"DELTA_AUTH_URL":             {section: "oauth", key: "auth_url", kind: "string"},
	"DELTA_TOKEN_URL":            {section: "oauth", key: "token_url", kind: "string"},
	"DELTA_REFRESH_MARGIN":       {section: "oauth", key: "refresh_margin", kind: "duration"},
	"DELTA_API_BASE_URL":         {section: "api", key: "base_url", kind: "string"},
	"DELTA_API_TIMEOUT":          {section: "api", key: "timeout", kind: "duration"},
	"DELTA_API_MAX_ATTEMPTS":     {section: "api", key: "max_attempts", kind: "int"},
	"DELTA_API_INITIAL_BACKOFF":  {section: "api", key: "initial_backoff", kind: "duration"},
	"DELTA_API_MAX_BACKOFF":      {section: "api", key: "max_backoff", kind: "duration"},
	"DELTA_API_PAGE_SIZE":        {section: "api", key: "page_size", kind: "int"},
	"DELTA_API_BATCH_SIZE":       {section: "api", key: "batch_size", kind: "int"},
	"DELTA_AUDIT_ORDER_LIMIT":    {section: "audit", key: "order_limit", kind: "int"},
	"DELTA_TRUTH_TABLE":          {section: "audit", key: "truth_table_path", kind: "string"},
	"DELTA_REPORT_PATH":          {section: "audit", key: "report_path", kind: "string"},
	"DELTA_CASE_INSENSITIVE_SKU": {section: "audit", key: "case_insensitive_sku", kind: "bool"},
	"DELTA_STORAGE_DRIVER":       {section: "storage", key: "driver", kind: "string"},
	"DELTA_TOKEN_FILE":           {section: "storage", key: "token_file", kind: "string"},
	"DATABASE_URL":               {section: "storage", key: "dsn", kind: "string"},
	"DELTA_DATABASE_URL":         {section: "storage", key: "dsn", kind: "string"},
	"DELTA_REDIS_ADDR":           {section: "storage", key: "redis_addr", kind: "string"},
	"DELTA_REDIS_PASSWORD":       {section: "storage", key: "redis_password", kind: "string"},
	"DELTA_REDIS_DB":             {section: "storage", key: "redis_db", kind: "int"},
	"DELTA_ENCRYPTION_KEY":       {section: "storage", key: "encryption_key", kind: "string"},
	"DELTA_STORAGE_DEBUG":        {section: "storage", key: "debug", kind: "bool"},
	"DELTA_STORAGE_PING_TIMEOUT": {section: "storage", key: "ping_timeout", kind: "duration"},
}

// EnvConfigLoader maps process environment variables into the raw config
// tree. DELTA_* names win over the legacy APP_ID/CLIENT_SECRET/REDIRECT_URI
// and DATABASE_URL names when both are set.
type EnvConfigLoader struct {
	Lookup func(key string) (string, bool)
}

func (l EnvConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	lookup := l.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	raw := map[string]any{}
	apply := func(name string, binding envBinding) error {
		value, ok := lookup(name)
		if !ok || strings.TrimSpace(value) == "" {
			return nil
		}
		parsed, err := parseEnvValue(binding.kind, strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("core: env %s: %w", name, err)
		}
		target := raw
		if binding.section != "" {
			section, _ := raw[binding.section].(map[string]any)
			if section == nil {
				section = map[string]any{}
				raw[binding.section] = section
			}
			target = section
		}
		target[binding.key] = parsed
		return nil
	}
	// legacy names first so DELTA_* overrides them
	for name, binding := range envBindings {
		if strings.HasPrefix(name, "DELTA_") {
			continue
		}
		if err := apply(name, binding); err != nil {
			return nil, err
		}
	}
	for name, binding := range envBindings {
		if !strings.HasPrefix(name, "DELTA_") {
			continue
		}
		if err := apply(name, binding); err != nil {
			return nil, err
		}
	}
	if dsn, ok := storageDSN(raw); ok && driverUnset(raw) {
		storage := raw["storage"].(map[string]any)
		storage["driver"] = driverForDSN(dsn)
	}
	return raw, nil
}

func parseEnvValue(kind string, value string) (any, error) {
	switch kind {
	case "int":
		return strconv.Atoi(value)
	case "bool":
		return strconv.ParseBool(value)
	case "duration":
		return time.ParseDuration(value)
	default:
		return value, nil
	}
}

func storageDSN(raw map[string]any) (string, bool) {
	storage, _ := raw["storage"].(map[string]any)
	if storage == nil {
		return "", false
	}
	dsn, _ := storage["dsn"].(string)
	return dsn, strings.TrimSpace(dsn) != ""
}

func driverUnset(raw map[string]any) bool {
	storage, _ := raw["storage"].(map[string]any)
	_, ok := storage["driver"]
	return !ok
}

func driverForDSN(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return StorageDriverPostgres
	}
	return StorageDriverSQLite
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = StaticConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	put := func(target map[string]any, key string, value any, zero bool) {
		if includeZero || !zero {
			target[key] = value
		}
	}
	put(layer, "service_name", cfg.ServiceName, strings.TrimSpace(cfg.ServiceName) == "")

	oauth := map[string]any{}
	put(oauth, "client_id", cfg.OAuth.ClientID, strings.TrimSpace(cfg.OAuth.ClientID) == "")
	put(oauth, "client_secret", cfg.OAuth.ClientSecret, strings.TrimSpace(cfg.OAuth.ClientSecret) == "")
	put(oauth, "redirect_uri", cfg.OAuth.RedirectURI, strings.TrimSpace(cfg.OAuth.RedirectURI) == "")
	put(oauth, "auth_url", cfg.OAuth.AuthURL, strings.TrimSpace(cfg.OAuth.AuthURL) == "")
	put(oauth, "token_url", cfg.OAuth.TokenURL, strings.TrimSpace(cfg.OAuth.TokenURL) == "")
	put(oauth, "refresh_margin", cfg.OAuth.RefreshMargin, cfg.OAuth.RefreshMargin == 0)
	put(oauth, "request_timeout", cfg.OAuth.RequestTimeout, cfg.OAuth.RequestTimeout == 0)
	putSection(layer, "oauth", oauth)

	api := map[string]any{}
	put(api, "base_url", cfg.API.BaseURL, strings.TrimSpace(cfg.API.BaseURL) == "")
	put(api, "timeout", cfg.API.Timeout, cfg.API.Timeout == 0)
	put(api, "max_attempts", cfg.API.MaxAttempts, cfg.API.MaxAttempts == 0)
	put(api, "initial_backoff", cfg.API.InitialBackoff, cfg.API.InitialBackoff == 0)
	put(api, "max_backoff", cfg.API.MaxBackoff, cfg.API.MaxBackoff == 0)
	put(api, "page_size", cfg.API.PageSize, cfg.API.PageSize == 0)
	put(api, "batch_size", cfg.API.BatchSize, cfg.API.BatchSize == 0)
	putSection(layer, "api", api)

	audit := map[string]any{}
	put(audit, "order_limit", cfg.Audit.OrderLimit, cfg.Audit.OrderLimit == 0)
	put(audit, "truth_table_path", cfg.Audit.TruthTablePath, strings.TrimSpace(cfg.Audit.TruthTablePath) == "")
	put(audit, "report_path", cfg.Audit.ReportPath, strings.TrimSpace(cfg.Audit.ReportPath) == "")
	put(audit, "case_insensitive_sku", cfg.Audit.CaseInsensitiveSKU, !cfg.Audit.CaseInsensitiveSKU)
	putSection(layer, "audit", audit)

	storage := map[string]any{}
	put(storage, "driver", cfg.Storage.Driver, strings.TrimSpace(cfg.Storage.Driver) == "")
	put(storage, "token_file", cfg.Storage.TokenFile, strings.TrimSpace(cfg.Storage.TokenFile) == "")
	put(storage, "dsn", cfg.Storage.DSN, strings.TrimSpace(cfg.Storage.DSN) == "")
	put(storage, "redis_addr", cfg.Storage.RedisAddr, strings.TrimSpace(cfg.Storage.RedisAddr) == "")
	put(storage, "redis_password", cfg.Storage.RedisPassword, cfg.Storage.RedisPassword == "")
	put(storage, "redis_db", cfg.Storage.RedisDB, cfg.Storage.RedisDB == 0)
	put(storage, "encryption_key", cfg.Storage.EncryptionKey, cfg.Storage.EncryptionKey == "")
	put(storage, "ping_timeout", cfg.Storage.PingTimeout, cfg.Storage.PingTimeout == 0)
	put(storage, "debug", cfg.Storage.Debug, !cfg.Storage.Debug)
	putSection(layer, "storage", storage)

	return layer
}

func putSection(layer map[string]any, key string, section map[string]any) {
	if len(section) == 0 {
		return
	}
	layer[key] = section
}
