// Package auth provides the two authentication schemes accepted by the
// Communication Services email endpoint: shared-key request signing and
// service-principal bearer tokens.
package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultAuthorityHost is the token issuer for service principals.
	DefaultAuthorityHost = "https://login.microsoftonline.com"
	// DefaultScope is the resource scope requested for outgoing tokens.
	DefaultScope = "https://communication.azure.com/.default"

	// A cached token is refreshed this long before its expiry.
	tokenRefreshMargin = time.Minute
	// TTL assumed when the token endpoint reports no expiry at all.
	fallbackTokenTTL = 10 * time.Minute

	defaultExchangeTimeout = 10 * time.Second
)

// Credential selects the authentication scheme of a client. Exactly one
// variant backs a client: shared key or service principal.
type Credential interface {
	// Signer returns the request signer for this credential variant.
	Signer() Signer
}

// SharedKeyCredential authenticates requests with a static base64 access
// key via HMAC signing.
type SharedKeyCredential struct {
	key []byte
}

// NewSharedKeyCredential decodes and validates a base64 access key. A
// malformed key fails here, before any request is signed.
func NewSharedKeyCredential(accessKey string) (*SharedKeyCredential, error) {
	accessKey = strings.TrimSpace(accessKey)
	if accessKey == "" {
		return nil, &SigningError{Reason: "access key is required"}
	}
	key, err := base64.StdEncoding.DecodeString(accessKey)
	if err != nil {
		return nil, &SigningError{Reason: "access key is not valid base64", Err: err}
	}
	return &SharedKeyCredential{key: key}, nil
}

// Signer returns the HMAC request signer for this key.
func (c *SharedKeyCredential) Signer() Signer {
	return &HMACSigner{key: c.key}
}

// ServicePrincipalConfig configures the service-principal credential.
type ServicePrincipalConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string

	// AuthorityHost overrides the token issuer. Defaults to
	// DefaultAuthorityHost.
	AuthorityHost string
	// Scope overrides the requested resource scope. Defaults to
	// DefaultScope.
	Scope string
	// ExchangeTimeout bounds a single token exchange.
	ExchangeTimeout time.Duration
	HTTPClient      *http.Client
}

// ServicePrincipalCredential authenticates requests with OAuth2
// client-credentials bearer tokens. The token cache is scoped to the
// credential instance and refreshed on demand; concurrent callers observing
// an expired token await one in-flight refresh instead of issuing duplicate
// exchanges.
type ServicePrincipalCredential struct {
	cfg        ServicePrincipalConfig
	httpClient *http.Client

	mu        sync.RWMutex
	token     string
	expiresAt time.Time

	now func() time.Time
}

// NewServicePrincipalCredential creates a service-principal credential.
func NewServicePrincipalCredential(cfg ServicePrincipalConfig) (*ServicePrincipalCredential, error) {
	if strings.TrimSpace(cfg.TenantID) == "" {
		return nil, fmt.Errorf("tenant id is required")
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, fmt.Errorf("client id is required")
	}
	if strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, fmt.Errorf("client secret is required")
	}
	if strings.TrimSpace(cfg.AuthorityHost) == "" {
		cfg.AuthorityHost = DefaultAuthorityHost
	}
	if strings.TrimSpace(cfg.Scope) == "" {
		cfg.Scope = DefaultScope
	}
	if cfg.ExchangeTimeout <= 0 {
		cfg.ExchangeTimeout = defaultExchangeTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.ExchangeTimeout}
	}
	return &ServicePrincipalCredential{
		cfg:        cfg,
		httpClient: httpClient,
		now:        time.Now,
	}, nil
}

// Signer returns the bearer-token request signer for this credential.
func (c *ServicePrincipalCredential) Signer() Signer {
	return &BearerSigner{tokens: c}
}

// Token returns a valid access token, refreshing the cache when the current
// token is missing or within the refresh margin of its expiry. Exchange
// failures are not retried here; they surface as a *TokenError.
func (c *ServicePrincipalCredential) Token(ctx context.Context) (string, error) {
	c.mu.RLock()
	token, ok := c.cachedLocked()
	c.mu.RUnlock()
	if ok {
		return token, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Another caller may have refreshed while this one waited on the lock.
	if token, ok := c.cachedLocked(); ok {
		return token, nil
	}

	token, expiresAt, err := c.exchange(ctx)
	if err != nil {
		recordTokenRefresh("failure")
		return "", err
	}
	c.token = token
	c.expiresAt = expiresAt
	recordTokenRefresh("success")
	return token, nil
}

func (c *ServicePrincipalCredential) cachedLocked() (string, bool) {
	if c.token == "" {
		return "", false
	}
	if !c.now().Before(c.expiresAt.Add(-tokenRefreshMargin)) {
		return "", false
	}
	return c.token, true
}

// tokenResponse models the token endpoint response for the
// client-credentials grant.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
}

func (c *ServicePrincipalCredential) exchange(ctx context.Context) (string, time.Time, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("scope", c.cfg.Scope)

	tokenURL := strings.TrimRight(c.cfg.AuthorityHost, "/") + "/" + c.cfg.TenantID + "/oauth2/v2.0/token"

	cctx, cancel := context.WithTimeout(ctx, c.cfg.ExchangeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", time.Time{}, &TokenError{Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, &TokenError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", time.Time{}, &TokenError{Err: err}
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", time.Time{}, &TokenError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return "", time.Time{}, &TokenError{Err: fmt.Errorf("decode token response: %w", err)}
	}
	if strings.TrimSpace(token.AccessToken) == "" {
		return "", time.Time{}, &TokenError{Err: errors.New("token endpoint did not return access_token")}
	}

	issuedAt := c.now()
	expiresAt := issuedAt.Add(fallbackTokenTTL)
	if token.ExpiresIn > 0 {
		expiresAt = issuedAt.Add(time.Duration(token.ExpiresIn) * time.Second)
	} else if exp, ok := tokenExpiry(token.AccessToken); ok {
		expiresAt = exp
	}
	return token.AccessToken, expiresAt, nil
}

// tokenExpiry extracts the exp claim of a JWT access token without
// verifying the signature. The service validates the token; the client only
// needs the expiry to schedule refreshes.
func tokenExpiry(accessToken string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
