package azuretest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// IdentityProvider is a fake OAuth2 token endpoint serving the client-credentials grant at
// /{tenant}/oauth2/v2.0/token. Issued tokens are "token-1", "token-2", and so on.
type IdentityProvider struct {
	*httptest.Server

	mu       sync.Mutex
	requests []TokenRequest

	// ExpiresIn is reported in seconds; zero omits the field.
	ExpiresIn int
	// Status, when non-zero, fails every request with an OAuth2 error body.
	Status int
	// OmitAccessToken answers with a success response lacking access_token.
	OmitAccessToken bool
	// ClientSecret, when set, is the only accepted secret.
	ClientSecret string
}

// TokenRequest is a received token request.
type TokenRequest struct {
	Tenant       string
	ClientID     string
	ClientSecret string
	GrantType    string
	Scope        string
}

// NewIdentityProvider starts an IdentityProvider. It is closed with the test.
func NewIdentityProvider(t testing.TB) *IdentityProvider {
	t.Helper()

	p := &IdentityProvider{ExpiresIn: 3600}
	p.Server = httptest.NewServer(http.HandlerFunc(p.serveHTTP))
	t.Cleanup(p.Close)

	return p
}

// AuthorityHost is the base URL to configure clients with.
func (p *IdentityProvider) AuthorityHost() string {
	return p.URL
}

// Requests returns the token requests received so far.
func (p *IdentityProvider) Requests() []TokenRequest {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]TokenRequest(nil), p.requests...)
}

// Configure changes the provider behavior under its lock.
func (p *IdentityProvider) Configure(f func(p *IdentityProvider)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	f(p)
}

func (p *IdentityProvider) serveHTTP(w http.ResponseWriter, r *http.Request) {
	tenant, ok := strings.CutSuffix(strings.TrimPrefix(r.URL.Path, "/"), "/oauth2/v2.0/token")
	if !ok || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	req := TokenRequest{
		Tenant:       tenant,
		ClientID:     r.PostForm.Get("client_id"),
		ClientSecret: r.PostForm.Get("client_secret"),
		GrantType:    r.PostForm.Get("grant_type"),
		Scope:        r.PostForm.Get("scope"),
	}
	p.requests = append(p.requests, req)

	switch {
	case p.Status != 0:
		writeOAuthError(w, p.Status, "invalid_client", "rejected by test")
		return
	case p.ClientSecret != "" && req.ClientSecret != p.ClientSecret:
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client", "AADSTS7000215: Invalid client secret provided.")
		return
	}

	body := map[string]any{"token_type": "Bearer"}
	if !p.OmitAccessToken {
		body["access_token"] = fmt.Sprintf("token-%d", len(p.requests))
	}
	if p.ExpiresIn != 0 {
		body["expires_in"] = p.ExpiresIn
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func writeOAuthError(w http.ResponseWriter, status int, code, desc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "error_description": desc})
}
