package app

import (
	"github.com/ent0n29/voicerelay/internal/auth"
	"github.com/ent0n29/voicerelay/internal/config"
)

// AuthInfo describes how upstream connections will authenticate.
type AuthInfo struct {
	Mode    string
	Sources []string
}

// resolveCredentials prefers the static API key and otherwise chains the
// token sources the environment supports: client secret first, then managed
// identity.
func resolveCredentials(cfg config.Config) (*auth.Provider, AuthInfo) {
	if cfg.VoiceLiveAPIKey != "" {
		return auth.NewProvider(cfg.VoiceLiveAPIKey, cfg.TokenScopes, nil), AuthInfo{Mode: "api-key"}
	}

	var (
		chain   auth.Chain
		sources []string
	)
	if cfg.AzureTenantID != "" && cfg.AzureClientID != "" && cfg.AzureClientSecret != "" {
		chain = append(chain, auth.ClientSecretSource{
			TenantID:     cfg.AzureTenantID,
			ClientID:     cfg.AzureClientID,
			ClientSecret: cfg.AzureClientSecret,
		})
		sources = append(sources, "client-secret")
	}
	chain = append(chain, auth.ManagedIdentitySource{ClientID: cfg.ManagedIdentityClientID})
	sources = append(sources, "managed-identity")

	return auth.NewProvider("", cfg.TokenScopes, chain), AuthInfo{Mode: "token", Sources: sources}
}
