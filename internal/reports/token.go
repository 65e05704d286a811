package reports

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/merchbaseco/bidbeacon-sub001/internal/types"

	"golang.org/x/sync/singleflight"
)

// tokenExpirySkew renews the cached token this long before the vendor says it
// expires, so a token never goes stale mid-request.
const tokenExpirySkew = 60 * time.Second

// OAuthTokenSourceConfig holds the configuration for creating an
// OAuthTokenSource.
type OAuthTokenSourceConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	RefreshToken string
	Logger       *slog.Logger
}

// OAuthTokenSource implements TokenSource with the OAuth2 refresh-token
// grant. The long-lived refresh token comes from config (SSM in deployed
// environments); access tokens are cached in memory and renewed on demand.
// Concurrent renewals are collapsed into one HTTP call via singleflight so a
// burst of report jobs does not stampede the token endpoint.
type OAuthTokenSource struct {
	base         *BaseClient
	tokenURL     string
	clientID     string
	clientSecret string
	refreshToken string
	logger       *slog.Logger

	group singleflight.Group
	nowFn func() time.Time // for testability; defaults to time.Now

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

// NewOAuthTokenSource creates a new OAuthTokenSource. The httpClient timeout
// should be strict; token calls sit on the critical path of every export.
func NewOAuthTokenSource(httpClient *http.Client, cfg OAuthTokenSourceConfig) *OAuthTokenSource {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := NewBaseClient(
		httpClient,
		"reports-oauth",
		RetryPolicy{
			MaxRetries: 1,
			MinWait:    500 * time.Millisecond,
			MaxWait:    3 * time.Second,
		},
		"BidBeacon/1.0",
	)

	return &OAuthTokenSource{
		base:         base,
		tokenURL:     cfg.TokenURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		refreshToken: cfg.RefreshToken,
		logger:       logger,
		nowFn:        time.Now,
	}
}

// NewOAuthTokenSourceWithBase creates an OAuthTokenSource with a
// pre-configured BaseClient. This is useful for testing when you want to
// control the BaseClient configuration (e.g., disable retries).
func NewOAuthTokenSourceWithBase(base *BaseClient, cfg OAuthTokenSourceConfig) *OAuthTokenSource {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &OAuthTokenSource{
		base:         base,
		tokenURL:     cfg.TokenURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		refreshToken: cfg.RefreshToken,
		logger:       logger,
		nowFn:        time.Now,
	}
}

// Token returns a valid access token, renewing through the token endpoint
// when the cached one is missing or within the expiry skew.
func (s *OAuthTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.accessToken != "" && s.nowFn().Before(s.expiresAt.Add(-tokenExpirySkew)) {
		token := s.accessToken
		s.mu.Unlock()
		return token, nil
	}
	s.mu.Unlock()

	// One renewal at a time; concurrent callers share the result.
	v, err, _ := s.group.Do("refresh", func() (any, error) {
		return s.renew(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token so the next Token call renews. Callers
// use it after a 401 to recover from server-side revocation.
func (s *OAuthTokenSource) Invalidate() {
	s.mu.Lock()
	s.accessToken = ""
	s.expiresAt = time.Time{}
	s.mu.Unlock()
}

// renew performs the refresh-token grant and updates the cache.
func (s *OAuthTokenSource) renew(ctx context.Context) (string, error) {
	params := url.Values{}
	params.Set("grant_type", "refresh_token")
	params.Set("refresh_token", s.refreshToken)
	params.Set("client_id", s.clientID)
	params.Set("client_secret", s.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(params.Encode()))
	if err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create token renewal request",
			err,
		)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.base.Do(req)
	if err != nil {
		return "", types.NewAppError(
			types.ErrCodeUpstreamAuth,
			"token renewal request failed",
			err,
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", types.NewAppError(
			types.ErrCodeUpstreamAuth,
			fmt.Sprintf("token renewal rejected (%d): %s", resp.StatusCode, string(body)),
			nil,
		)
	}

	var tokenResp oauthTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", types.NewAppError(
			types.ErrCodeUpstreamAuth,
			"failed to decode token renewal response",
			err,
		)
	}

	if tokenResp.AccessToken == "" {
		return "", types.NewAppError(
			types.ErrCodeUpstreamAuth,
			"token endpoint returned empty access token",
			nil,
		)
	}

	expiresIn := time.Duration(tokenResp.ExpiresIn) * time.Second
	if expiresIn <= 0 {
		expiresIn = 30 * time.Minute
	}

	s.mu.Lock()
	s.accessToken = tokenResp.AccessToken
	s.expiresAt = s.nowFn().Add(expiresIn)
	s.mu.Unlock()

	s.logger.Debug("access token renewed", "expires_in", expiresIn.String())

	return tokenResp.AccessToken, nil
}

type oauthTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// StaticTokenSource returns the same token on every call. Used by tests and
// the local stub registry.
type StaticTokenSource string

// Token returns the static token.
func (s StaticTokenSource) Token(context.Context) (string, error) {
	return string(s), nil
}

// Compile-time interface compliance checks.
var _ TokenSource = (*OAuthTokenSource)(nil)
var _ TokenSource = StaticTokenSource("")
