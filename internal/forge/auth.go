// Package forge implements jules.Forge against GitHub's REST API: issues,
// pulls, refs, contents, checks, and milestones, authenticating either as
// a GitHub App installation or with a static personal access token (spec.md
// section 6 env vars GITHUB_APP_ID / GITHUB_APP_PRIVATE_KEY(_BASE64) /
// GITHUB_APP_INSTALLATION_ID, or GITHUB_TOKEN).
package forge

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jules-labs/fleet/internal/httpclient"
	"github.com/jules-labs/fleet/pkg/jules"
)

// TokenSource produces a bearer token for GitHub API calls, refreshing it
// as needed. Mirrors internal/auth.ConfigTokenManager's store+mutex+
// refresh-on-expiry shape from the teacher SDK, generalised to GitHub
// App installation tokens instead of a UAA OAuth2 grant.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource wrapping a fixed personal access token.
type StaticToken string

func (t StaticToken) Token(ctx context.Context) (string, error) { return string(t), nil }

// AppTokenSource exchanges a GitHub App's RS256-signed JWT for a
// short-lived installation access token, caching it until shortly before
// expiry.
type AppTokenSource struct {
	appID          string
	installationID string
	privateKey     *rsa.PrivateKey
	http           *httpclient.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewAppTokenSource parses pemKey (PKCS#1 or PKCS#8 RSA private key) and
// builds a TokenSource for the given App/installation IDs. http must be
// configured with BaseURL "https://api.github.com".
func NewAppTokenSource(appID, installationID string, pemKey []byte, http *httpclient.Client) (*AppTokenSource, error) {
	key, err := parseRSAPrivateKey(pemKey)
	if err != nil {
		return nil, jules.NewError(jules.KindAuthentication, "parsing GitHub App private key", err, "")
	}
	return &AppTokenSource{appID: appID, installationID: installationID, privateKey: key, http: http}, nil
}

func parseRSAPrivateKey(pemKey []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemKey)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	keyAny, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := keyAny.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	return key, nil
}

// DecodePrivateKey decodes GITHUB_APP_PRIVATE_KEY_BASE64, falling back to
// treating the input as raw PEM if it isn't valid base64 (matching
// GITHUB_APP_PRIVATE_KEY's plain-PEM convention).
func DecodePrivateKey(raw string) []byte {
	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil {
		return decoded
	}
	return []byte(raw)
}

func (s *AppTokenSource) appJWT() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-30 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(8 * time.Minute)),
		Issuer:    s.appID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(s.privateKey)
}

// Token returns a cached installation token, refreshing when fewer than a
// minute remains on it.
func (s *AppTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Until(s.expiresAt) > time.Minute {
		return s.token, nil
	}

	appJWT, err := s.appJWT()
	if err != nil {
		return "", jules.NewError(jules.KindAuthentication, "signing app JWT", err, "")
	}

	resp, err := s.http.Do(ctx, &httpclient.Request{
		Method: "POST",
		Path:   "/app/installations/" + url.PathEscape(s.installationID) + "/access_tokens",
		Headers: map[string]string{
			"Authorization": "Bearer " + appJWT,
			"Accept":        "application/vnd.github+json",
		},
	})
	if err != nil {
		return "", err
	}

	var body struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return "", jules.NewError(jules.KindAuthentication, "decoding installation token response", err, "")
	}
	s.token = body.Token
	s.expiresAt = body.ExpiresAt
	return s.token, nil
}
