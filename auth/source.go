package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/cloud"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/oauth2/microsoft"

	"github.com/nkazure/azblobber/storage/common"
)

const (
	// StorageScope is the only scope storage tokens are requested for.
	// Tokens for other audiences, such as Graph, are rejected by the storage service.
	StorageScope = "https://storage.azure.com/.default"

	// DefaultTokenLifetime is assumed when the identity provider omits expires_in.
	DefaultTokenLifetime = 3600 * time.Second

	// MaxTokenLifetime caps expires_in.
	MaxTokenLifetime = 365 * 24 * time.Hour
)

// Source performs one token request against an identity provider.
type Source interface {
	Fetch(ctx context.Context) (Token, error)
}

// NewSource picks the authentication method from c.
// Priority: OIDC client assertion, then client secret.
func NewSource(c Config, opts ...Option) (Source, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	if c.useOIDC() {
		return NewAssertionSource(c, opts...)
	}

	return NewClientSecretSource(c, opts...)
}

// ClientSecretSource requests tokens with the OAuth2 client-credentials grant.
type ClientSecretSource struct {
	cfg        clientcredentials.Config
	httpClient *http.Client
	now        func() time.Time
}

// NewClientSecretSource creates a source for the service principal in c.
func NewClientSecretSource(c Config, opts ...Option) (*ClientSecretSource, error) {
	if c.TenantID == "" || c.ClientID == "" || c.ClientSecret == "" {
		return nil, common.NewError(common.ErrConfig, "client secret source", errors.New("tenant id, client id and client secret are required"))
	}

	o := newOptions(opts)

	return &ClientSecretSource{
		cfg: clientcredentials.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			TokenURL:     tokenURL(c.AuthorityHost, c.TenantID),
			Scopes:       []string{StorageScope},
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		httpClient: o.httpClient,
		now:        o.now,
	}, nil
}

// Fetch requests a new token. The expiry is computed from the time the request was issued.
func (s *ClientSecretSource) Fetch(ctx context.Context) (Token, error) {
	if s.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	}

	requested := s.now()

	tok, err := s.cfg.Token(ctx)
	if err != nil {
		return Token{}, classifyTokenError(err)
	}

	return Token{Value: tok.AccessToken, ExpiresAt: requested.Add(lifetime(tok))}, nil
}

func tokenURL(authorityHost, tenantID string) string {
	if authorityHost == "" {
		return microsoft.AzureADEndpoint(tenantID).TokenURL
	}

	return strings.TrimSuffix(authorityHost, "/") + "/" + url.PathEscape(tenantID) + "/oauth2/v2.0/token"
}

// lifetime reads expires_in, which providers send as a number or a string of seconds.
func lifetime(tok *oauth2.Token) time.Duration {
	var secs int64

	switch v := tok.Extra("expires_in").(type) {
	case float64:
		secs = int64(min(v, MaxTokenLifetime.Seconds()))
	case int64:
		secs = v
	case string:
		secs, _ = strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	}

	if secs <= 0 {
		return DefaultTokenLifetime
	}

	if secs > int64(MaxTokenLifetime/time.Second) {
		return MaxTokenLifetime
	}

	return time.Duration(secs) * time.Second
}

func classifyTokenError(err error) error {
	const op = "acquire token"

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return common.NewError(common.ErrTransport, op, err)
	}

	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		if rErr.Response != nil && rErr.Response.StatusCode >= http.StatusInternalServerError {
			return common.NewError(common.ErrTransport, op, err)
		}

		return common.NewError(common.ErrAuth, op, err)
	}

	var uErr *url.Error
	if errors.As(err, &uErr) {
		return common.NewError(common.ErrTransport, op, err)
	}

	// Malformed responses, including a missing access_token.
	return common.NewError(common.ErrAuth, op, err)
}

// AssertionSource requests tokens with an OIDC token as the client assertion.
type AssertionSource struct {
	cred *azidentity.ClientAssertionCredential
}

// NewAssertionSource creates a source for the OIDC token in c.
func NewAssertionSource(c Config, opts ...Option) (*AssertionSource, error) {
	if c.TenantID == "" || c.ClientID == "" || c.OIDCToken == "" {
		return nil, common.NewError(common.ErrConfig, "assertion source", errors.New("tenant id, client id and OIDC token are required"))
	}

	o := newOptions(opts)

	credOpts := &azidentity.ClientAssertionCredentialOptions{}
	if c.AuthorityHost != "" {
		credOpts.ClientOptions = azcore.ClientOptions{Cloud: cloud.Configuration{ActiveDirectoryAuthorityHost: c.AuthorityHost}}
	}
	if o.httpClient != nil {
		credOpts.ClientOptions.Transport = o.httpClient
	}

	oidcToken := c.OIDCToken
	getAssertion := func(context.Context) (string, error) {
		return oidcToken, nil
	}

	cred, err := azidentity.NewClientAssertionCredential(c.TenantID, c.ClientID, getAssertion, credOpts)
	if err != nil {
		return nil, common.NewError(common.ErrConfig, "assertion source", fmt.Errorf("create client assertion credential, %w", err))
	}

	return &AssertionSource{cred: cred}, nil
}

// Fetch requests a token for StorageScope.
func (s *AssertionSource) Fetch(ctx context.Context) (Token, error) {
	tok, err := s.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{StorageScope}})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Token{}, common.NewError(common.ErrTransport, "acquire token", err)
		}

		var authErr *azidentity.AuthenticationFailedError
		if errors.As(err, &authErr) {
			return Token{}, common.NewError(common.ErrAuth, "acquire token", err)
		}

		return Token{}, common.NewError(common.ErrTransport, "acquire token", err)
	}

	return Token{Value: tok.Token, ExpiresAt: tok.ExpiresOn}, nil
}
