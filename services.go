package delta

import (
	"context"

	"github.com/juanbarco92/delta/core"
)

type Config = core.Config

type OAuthConfig = core.OAuthConfig
type APIConfig = core.APIConfig
type AuditConfig = core.AuditConfig
type StorageConfig = core.StorageConfig

type Credential = core.Credential
type TokenStore = core.TokenStore
type AuditRecord = core.AuditRecord
type ItemDetail = core.ItemDetail

func DefaultConfig() Config {
	return core.DefaultConfig()
}

// LoadConfig layers DELTA_* environment values over the defaults and then
// runtime over both.
func LoadConfig(ctx context.Context, runtime Config) (Config, error) {
	return core.LoadConfig(ctx, core.EnvConfigLoader{}, runtime)
}
