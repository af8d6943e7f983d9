package auth

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
)

// TokenProvider produces a bearer token for StorageScope.
type TokenProvider interface {
	GetValidToken(ctx context.Context) (Token, error)
}

var _ azcore.TokenCredential = (*Credential)(nil)

// Credential adapts a TokenProvider to the storage SDK's credential interface.
type Credential struct {
	provider TokenProvider
}

// NewCredential returns a Credential backed by p.
func NewCredential(p TokenProvider) *Credential {
	return &Credential{provider: p}
}

// GetToken ignores the requested scopes; storage has exactly one relevant scope and the
// provider always requests it. Provider errors are returned unchanged.
func (c *Credential) GetToken(ctx context.Context, _ policy.TokenRequestOptions) (azcore.AccessToken, error) {
	tok, err := c.provider.GetValidToken(ctx)
	if err != nil {
		return azcore.AccessToken{}, err
	}

	return azcore.AccessToken{Token: tok.Value, ExpiresOn: tok.ExpiresAt}, nil
}
