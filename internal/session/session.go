// Package session implements the exchange Session Manager: a
// client-credentials grant, a refresh-token grant, and a token accessor
// safe for many concurrent readers. Grounded on
// original_source/src/auth/AuthManager.* for the grant semantics (the
// refresh token is preserved across a refresh, never reissued) and on the
// teacher's internal/exchange/auth.go for the struct/constructor/narrow-
// accessor shape.
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Sonugupta2001/trading-gateway/internal/config"
	"github.com/Sonugupta2001/trading-gateway/internal/exchange"
	"github.com/Sonugupta2001/trading-gateway/internal/model"
)

// authResult is the upstream public/auth result shape.
type authResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Manager holds the current bearer token pair and performs the grants that
// obtain/refresh it. Readers of Token() never block on network; writers
// (Authenticate, Refresh) serialize under the same RWMutex.
type Manager struct {
	http         *resty.Client
	clientID     string
	clientSecret string
	logger       *slog.Logger

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	obtainedAt   time.Time
	expiresAt    time.Time
}

// New creates a Session Manager against the given HTTP client and
// credentials. The client is expected to share base URL/retry policy with
// the rest of the gateway (exchange.NewHTTPClient).
func New(http *resty.Client, cfg config.ExchangeConfig, logger *slog.Logger) *Manager {
	return &Manager{
		http:         http,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		logger:       logger.With("component", "session"),
	}
}

// Authenticate performs a client_credentials grant and stores both tokens.
func (m *Manager) Authenticate(ctx context.Context) error {
	return m.grant(ctx, "client_credentials", "")
}

// Refresh performs a refresh_token grant using the stored refresh token.
// Idempotent on success: the access token is replaced, the refresh token
// kept, exactly as original_source/src/auth/AuthManager.cpp's
// makeAuthRequest("refresh_token", refreshToken) does.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.RLock()
	rt := m.refreshToken
	m.mu.RUnlock()
	if rt == "" {
		return model.ErrAuthUnavailable("no refresh token: authenticate() was never called")
	}
	return m.grant(ctx, "refresh_token", rt)
}

// Token returns the current access token. Never blocks on network.
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accessToken
}

type authParams struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

func (m *Manager) grant(ctx context.Context, grantType, refreshToken string) error {
	req := exchange.NewRequest("public/auth", authParams{
		GrantType:    grantType,
		ClientID:     m.clientID,
		ClientSecret: m.clientSecret,
		RefreshToken: refreshToken,
	})

	var envelope exchange.Response
	resp, err := m.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&envelope).
		Post("public/auth")
	if err != nil {
		return model.ErrAuthUnavailable(err.Error())
	}
	if resp.IsError() {
		return model.ErrAuthUnavailable(resp.Status())
	}
	if envelope.Error != nil {
		return model.ErrAuthRejected(envelope.Error.Message)
	}
	if len(envelope.Result) == 0 {
		return model.ErrAuthMalformed("response has no result object")
	}

	var result authResult
	if err := json.Unmarshal(envelope.Result, &result); err != nil {
		return model.ErrAuthMalformed(err.Error())
	}
	if result.AccessToken == "" {
		return model.ErrAuthMalformed("response missing access_token")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.accessToken = result.AccessToken
	if grantType == "client_credentials" {
		m.refreshToken = result.RefreshToken
	}
	m.obtainedAt = time.Now()
	if result.ExpiresIn > 0 {
		m.expiresAt = m.obtainedAt.Add(time.Duration(result.ExpiresIn) * time.Second)
	}
	m.logger.Info("session token updated", "grant_type", grantType)
	return nil
}
