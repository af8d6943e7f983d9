package auth

import (
	"fmt"
	"os"

	"github.com/nkazure/azblobber/storage/common"
)

// Environment variables consulted when a credential field is not given explicitly.
// This is the only naming convention recognised.
const (
	EnvTenantID      = "blob_TenantID"
	EnvClientID      = "blob_ClientID"
	EnvClientSecret  = "blob_ClientSecret"
	EnvOIDCToken     = "blob_OIDCToken"
	EnvAuthorityHost = "blob_AuthorityHost"
)

// Config holds the app registration used to obtain storage tokens.
type Config struct {
	// Service principal.
	TenantID     string
	ClientID     string
	ClientSecret string

	// OIDCToken is a pre-issued OIDC token used as a client assertion instead of ClientSecret.
	OIDCToken string

	// AuthorityHost overrides the identity provider base URL, e.g. https://login.microsoftonline.com.
	AuthorityHost string
}

// WithEnvFallback returns a copy of c where every empty field is filled from its environment variable.
func (c Config) WithEnvFallback() Config {
	return c.withLookup(os.Getenv)
}

func (c Config) withLookup(getenv func(string) string) Config {
	fill := func(v *string, key string) {
		if *v == "" {
			*v = getenv(key)
		}
	}

	fill(&c.TenantID, EnvTenantID)
	fill(&c.ClientID, EnvClientID)
	fill(&c.ClientSecret, EnvClientSecret)
	fill(&c.OIDCToken, EnvOIDCToken)
	fill(&c.AuthorityHost, EnvAuthorityHost)

	return c
}

// Validate reports a configuration error when neither authentication method is complete.
func (c Config) Validate() error {
	switch {
	case c.useOIDC():
		return nil
	case c.TenantID != "" && c.ClientID != "" && c.ClientSecret != "":
		return nil
	default:
		return common.NewError(common.ErrConfig, "validate credentials",
			fmt.Errorf("%s, %s and %s (or %s) are required, as arguments or environment", EnvTenantID, EnvClientID, EnvClientSecret, EnvOIDCToken))
	}
}

func (c Config) useOIDC() bool {
	return c.OIDCToken != "" && c.TenantID != "" && c.ClientID != ""
}
