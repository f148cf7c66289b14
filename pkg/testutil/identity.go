package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// FakeIdentityServer is a stand-in for the identity token endpoint. It
// serves the client-credentials grant, minting signed JWTs whose expiry it
// controls, and can validate tokens it issued.
type FakeIdentityServer struct {
	server     *httptest.Server
	signingKey []byte
	tokenTTL   time.Duration

	mu        sync.Mutex
	exchanges int
}

// FakeIdentityServerOption customizes a FakeIdentityServer.
type FakeIdentityServerOption func(*FakeIdentityServer)

// WithTokenTTL sets the lifetime of issued tokens. The default is one hour.
func WithTokenTTL(ttl time.Duration) FakeIdentityServerOption {
	return func(f *FakeIdentityServer) {
		f.tokenTTL = ttl
	}
}

// NewFakeIdentityServer starts a fake token endpoint. The server is closed
// automatically when the test finishes.
func NewFakeIdentityServer(t *testing.T, opts ...FakeIdentityServerOption) *FakeIdentityServer {
	t.Helper()

	f := &FakeIdentityServer{
		signingKey: []byte("fake-identity-signing-key"),
		tokenTTL:   time.Hour,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

// URL returns the server's base URL, usable as an authority host.
func (f *FakeIdentityServer) URL() string {
	return f.server.URL
}

// ExchangeCount returns the number of token exchanges served.
func (f *FakeIdentityServer) ExchangeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exchanges
}

// ValidateToken reports whether the token was issued by this server and has
// not expired.
func (f *FakeIdentityServer) ValidateToken(token string) bool {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return f.signingKey, nil
	})
	return err == nil && parsed.Valid
}

func (f *FakeIdentityServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/oauth2/v2.0/token") {
		http.NotFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if r.PostForm.Get("grant_type") != "client_credentials" {
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type")
		return
	}
	clientID := r.PostForm.Get("client_id")
	if clientID == "" || r.PostForm.Get("client_secret") == "" {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client")
		return
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    f.server.URL,
		Subject:   clientID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(f.tokenTTL)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(f.signingKey)
	if err != nil {
		http.Error(w, "sign token", http.StatusInternalServerError)
		return
	}

	f.mu.Lock()
	f.exchanges++
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int(f.tokenTTL.Seconds()),
	})
}

func writeOAuthError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}
