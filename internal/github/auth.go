package github

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AppTokenSource mints short-lived installation tokens for a GitHub App.
// A single token is cached and refreshed lazily once it gets within the
// safety margin of its expiry.
type AppTokenSource struct {
	appID          int64
	installationID int64
	key            *rsa.PrivateKey
	base           string
	margin         time.Duration
	http           *http.Client

	mu      sync.Mutex
	token   string
	expires time.Time
}

func NewAppTokenSource(appID, installationID int64, privateKeyPEM, baseURL string, margin time.Duration) (*AppTokenSource, error) {
	if appID < 1 || installationID < 1 {
		return nil, fmt.Errorf("github app id and installation id are required")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(privateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("parse github app private key: %w", err)
	}
	return &AppTokenSource{
		appID:          appID,
		installationID: installationID,
		key:            key,
		base:           baseURL,
		margin:         margin,
		http:           &http.Client{},
	}, nil
}

// Token returns a valid installation token, reusing the cached one while
// it is still comfortably inside its lifetime.
func (s *AppTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Now().Before(s.expires.Add(-s.margin)) {
		return s.token, nil
	}

	appJWT, err := s.signAppJWT()
	if err != nil {
		return "", err
	}

	token, expires, err := s.exchange(ctx, appJWT)
	if err != nil {
		return "", err
	}
	s.token = token
	s.expires = expires
	return token, nil
}

func (s *AppTokenSource) signAppJWT() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    fmt.Sprintf("%d", s.appID),
		IssuedAt:  jwt.NewNumericDate(now.Add(-30 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(9 * time.Minute)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign app jwt: %w", err)
	}
	return signed, nil
}

func (s *AppTokenSource) exchange(ctx context.Context, appJWT string) (string, time.Time, error) {
	url := fmt.Sprintf("%s/app/installations/%d/access_tokens", s.base, s.installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("Authorization", "Bearer "+appJWT)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", time.Time{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", time.Time{}, fmt.Errorf("installation token request failed: %s", resp.Status)
	}

	var out struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", time.Time{}, fmt.Errorf("decode installation token: %w", err)
	}
	if out.Token == "" {
		return "", time.Time{}, fmt.Errorf("installation token response had no token")
	}
	return out.Token, out.ExpiresAt, nil
}
