package token

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sthaha/emseepee/internal/domain"
)

const refreshTimeout = 30 * time.Second

// HTTPRefresher performs a standard refresh-token grant against an OAuth
// token endpoint.
type HTTPRefresher struct {
	tokenURL     string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	logger       *slog.Logger
}

// NewHTTPRefresher creates a refresher for the given token endpoint.
func NewHTTPRefresher(tokenURL, clientID, clientSecret string, logger *slog.Logger) *HTTPRefresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPRefresher{
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient: &http.Client{
			Timeout: refreshTimeout,
		},
		logger: logger,
	}
}

// tokenResponse is the wire shape of a token grant response
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// Refresh exchanges the refresh token for a new credential.
func (r *HTTPRefresher) Refresh(ctx context.Context, refreshToken string) (domain.Credential, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", r.clientID)
	form.Set("client_secret", r.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return domain.Credential{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	r.logger.Debug("token refresh request", "url", r.tokenURL)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.logger.Error("token refresh request failed", "error", err)
		return domain.Credential{}, fmt.Errorf("token endpoint: %w", domain.ErrServerUnreachable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		r.logger.Error("token refresh rejected", "status", resp.StatusCode, "body", string(body))
		return domain.Credential{}, fmt.Errorf("token endpoint returned %d: %w", resp.StatusCode, domain.ErrAuthFailed)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return domain.Credential{}, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tr.AccessToken == "" {
		return domain.Credential{}, fmt.Errorf("token response missing access token: %w", domain.ErrAuthFailed)
	}

	return domain.Credential{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		Expiry:       time.Now().UTC().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, nil
}
