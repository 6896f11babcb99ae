package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

var (
	// ErrTokenExchangeFailed indicates the provider rejected the code exchange.
	ErrTokenExchangeFailed = errors.New("oauth.token_exchange_failed")
	// ErrTokenResponseMalformed indicates the token endpoint returned a body
	// that is not a JSON object.
	ErrTokenResponseMalformed = errors.New("oauth.token_response_malformed")
	// ErrUserInfoFetchFailed indicates the provider's user-info endpoint
	// returned a non-success status.
	ErrUserInfoFetchFailed = errors.New("oauth.user_info_fetch_failed")
)

// Exchanger drives the three-stage authorization-code protocol against a
// selected provider adapter. Stages never retry; each failure surfaces
// immediately to the caller.
type Exchanger struct {
	httpClient *http.Client
	states     StateStore
	logger     *zap.Logger
}

// NewExchanger constructs an Exchanger. A nil client gets the default timeout;
// a nil state store disables state issuance; a nil logger is replaced with a
// no-op logger.
func NewExchanger(httpClient *http.Client, states StateStore, logger *zap.Logger) *Exchanger {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exchanger{
		httpClient: httpClient,
		states:     states,
		logger:     logger,
	}
}

// BuildAuthorizeURL returns the fully-formed authorization URL for the
// provider. No network call is made. When a state store is configured a
// one-time state token is embedded for CSRF binding.
func (exchanger *Exchanger) BuildAuthorizeURL(ctx context.Context, provider Provider) (string, error) {
	parameters := url.Values{}
	parameters.Set("response_type", "code")
	parameters.Set("client_id", provider.ClientID())
	parameters.Set("redirect_uri", provider.RedirectURI())
	parameters.Set("scope", provider.Scopes())

	if exchanger.states != nil {
		stateToken, stateErr := exchanger.states.Issue(ctx)
		if stateErr != nil {
			return "", fmt.Errorf("oauth.authorize_url.state: %w", stateErr)
		}
		parameters.Set("state", stateToken)
	}

	return provider.AuthorizeEndpoint() + "?" + parameters.Encode(), nil
}

// VerifyState consumes a previously issued state token. Callers skip the check
// when no state store is configured.
func (exchanger *Exchanger) VerifyState(ctx context.Context, stateToken string) error {
	if exchanger.states == nil {
		return nil
	}
	return exchanger.states.Consume(ctx, stateToken)
}

// ExchangeCode posts the authorization code to the provider's token endpoint
// and returns the decoded token payload. Callers must check the payload
// carries an access token before proceeding.
func (exchanger *Exchanger) ExchangeCode(ctx context.Context, provider Provider, code string) (map[string]any, error) {
	form := url.Values{}
	form.Set("code", code)
	form.Set("client_id", provider.ClientID())
	form.Set("client_secret", provider.ClientSecret())
	form.Set("redirect_uri", provider.RedirectURI())
	form.Set("grant_type", "authorization_code")

	request, buildErr := http.NewRequestWithContext(ctx, http.MethodPost, provider.TokenEndpoint(), strings.NewReader(form.Encode()))
	if buildErr != nil {
		return nil, fmt.Errorf("oauth.exchange.request: %w", buildErr)
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for headerName, headerValue := range provider.AuthHeader() {
		request.Header.Set(headerName, headerValue)
	}

	response, requestErr := exchanger.httpClient.Do(request)
	if requestErr != nil {
		return nil, fmt.Errorf("oauth.exchange.request: %w", requestErr)
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		body, _ := io.ReadAll(response.Body)
		exchanger.logger.Error("token exchange rejected",
			zap.String("provider", provider.Name()),
			zap.Int("status", response.StatusCode))
		return nil, fmt.Errorf("oauth.exchange.status_%d: %w: %s", response.StatusCode, ErrTokenExchangeFailed, string(body))
	}

	var payload map[string]any
	if decodeErr := json.NewDecoder(response.Body).Decode(&payload); decodeErr != nil {
		return nil, fmt.Errorf("oauth.exchange.decode: %w", ErrTokenResponseMalformed)
	}
	return payload, nil
}

// FetchUserData retrieves the provider's user-info document with the access
// token and asks the adapter to normalize it.
func (exchanger *Exchanger) FetchUserData(ctx context.Context, provider Provider, accessToken string) (ExternalIdentity, error) {
	request, buildErr := http.NewRequestWithContext(ctx, http.MethodGet, provider.UserInfoEndpoint(), nil)
	if buildErr != nil {
		return ExternalIdentity{}, fmt.Errorf("oauth.user_info.request: %w", buildErr)
	}
	request.Header.Set("Authorization", "Bearer "+accessToken)

	response, requestErr := exchanger.httpClient.Do(request)
	if requestErr != nil {
		return ExternalIdentity{}, fmt.Errorf("oauth.user_info.request: %w", requestErr)
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		body, _ := io.ReadAll(response.Body)
		exchanger.logger.Error("user info fetch rejected",
			zap.String("provider", provider.Name()),
			zap.Int("status", response.StatusCode))
		return ExternalIdentity{}, fmt.Errorf("oauth.user_info.status_%d: %w: %s", response.StatusCode, ErrUserInfoFetchFailed, string(body))
	}

	var raw map[string]any
	if decodeErr := json.NewDecoder(response.Body).Decode(&raw); decodeErr != nil {
		return ExternalIdentity{}, fmt.Errorf("oauth.user_info.decode: %w", decodeErr)
	}

	identity, normalizeErr := provider.NormalizeUserData(ctx, raw, accessToken)
	if normalizeErr != nil {
		return ExternalIdentity{}, fmt.Errorf("oauth.user_info.normalize: %w", normalizeErr)
	}
	return identity, nil
}
