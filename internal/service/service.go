package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tmarkov/authgate/internal/authcore"
	"github.com/tmarkov/authgate/internal/directory"
	"github.com/tmarkov/authgate/internal/oauth"
)

// Config carries the token-issuance settings shared by every flow.
type Config struct {
	TokenSigningKey []byte
	TokenIssuer     string
	TokenTTL        time.Duration
}

// TokenResponse is the bearer credential returned by login flows.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Service composes the directory, the OAuth exchanger, and the token signer
// into the register, password-login, and OAuth-login flows. It owns the
// translation of internal failures into the external error taxonomy.
type Service struct {
	configuration Config
	users         *directory.Directory
	providers     oauth.Config
	exchanger     *oauth.Exchanger
	httpClient    *http.Client
	clock         authcore.Clock
	logger        *zap.Logger
	metrics       authcore.MetricsRecorder
}

// New constructs a Service. Nil optional collaborators get no-op defaults.
func New(configuration Config, users *directory.Directory, providers oauth.Config, exchanger *oauth.Exchanger, httpClient *http.Client, clock authcore.Clock, logger *zap.Logger, metrics authcore.MetricsRecorder) *Service {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: oauth.DefaultHTTPTimeout}
	}
	if clock == nil {
		clock = authcore.NewSystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = authcore.NewCounterMetrics()
	}
	return &Service{
		configuration: configuration,
		users:         users,
		providers:     providers,
		exchanger:     exchanger,
		httpClient:    httpClient,
		clock:         clock,
		logger:        logger,
		metrics:       metrics,
	}
}

// Register creates a user record for the supplied credentials.
func (service *Service) Register(ctx context.Context, email string, password string, fullName string) (*directory.User, error) {
	createdUser, createErr := service.users.Create(ctx, email, password, fullName)
	if createErr != nil {
		if errors.Is(createErr, directory.ErrUserAlreadyExists) {
			service.metrics.Increment("register.duplicate")
			return nil, authcore.NewClientError(fmt.Sprintf("A user with email '%s' already exists.", directory.NormalizeEmail(email)))
		}
		service.metrics.Increment("register.failure")
		return nil, fmt.Errorf("service.register: %w", createErr)
	}
	service.metrics.Increment("register.success")
	return createdUser, nil
}

// PasswordLogin authenticates an email/password pair and mints a bearer token.
func (service *Service) PasswordLogin(ctx context.Context, email string, password string) (TokenResponse, error) {
	authenticatedUser, authErr := service.users.Authenticate(ctx, email, password)
	if authErr != nil {
		if errors.Is(authErr, directory.ErrInvalidCredentials) {
			service.metrics.Increment("login.failure")
			return TokenResponse{}, authcore.NewClientError("Invalid credentials")
		}
		return TokenResponse{}, fmt.Errorf("service.login: %w", authErr)
	}
	response, mintErr := service.mintTokenResponse(authenticatedUser.Email)
	if mintErr != nil {
		return TokenResponse{}, mintErr
	}
	service.metrics.Increment("login.success")
	return response, nil
}

// OAuthLoginURL builds the authorization URL for the named provider.
func (service *Service) OAuthLoginURL(ctx context.Context, providerName string) (string, error) {
	provider, providerErr := oauth.NewProvider(providerName, service.providers, service.httpClient)
	if providerErr != nil {
		if errors.Is(providerErr, oauth.ErrUnsupportedProvider) {
			return "", authcore.NewClientError(fmt.Sprintf("Unsupported OAuth provider: %s", providerName))
		}
		return "", fmt.Errorf("service.oauth_url: %w", providerErr)
	}
	authorizeURL, buildErr := service.exchanger.BuildAuthorizeURL(ctx, provider)
	if buildErr != nil {
		service.logger.Error("authorize url construction failed",
			zap.String("provider", providerName),
			zap.Error(buildErr))
		return "", fmt.Errorf("service.oauth_url: %w", buildErr)
	}
	return authorizeURL, nil
}

// OAuthCallback drives the code exchange, identity normalization, and user
// reconciliation, then mints a bearer token for the resulting user.
func (service *Service) OAuthCallback(ctx context.Context, providerName string, code string, state string) (TokenResponse, error) {
	if strings.TrimSpace(code) == "" {
		service.metrics.Increment("oauth.callback.missing_code")
		return TokenResponse{}, authcore.NewClientError("Authorization code not provided")
	}

	provider, providerErr := oauth.NewProvider(providerName, service.providers, service.httpClient)
	if providerErr != nil {
		if errors.Is(providerErr, oauth.ErrUnsupportedProvider) {
			return TokenResponse{}, authcore.NewClientError(fmt.Sprintf("Unsupported OAuth provider: %s", providerName))
		}
		return TokenResponse{}, fmt.Errorf("service.oauth_callback: %w", providerErr)
	}

	// State is validated only when the provider echoes one back; the
	// callback contract itself requires only the code.
	if strings.TrimSpace(state) != "" {
		if stateErr := service.exchanger.VerifyState(ctx, state); stateErr != nil {
			service.metrics.Increment("oauth.callback.bad_state")
			return TokenResponse{}, authcore.NewClientError("Invalid or expired state parameter")
		}
	}

	tokenPayload, exchangeErr := service.exchanger.ExchangeCode(ctx, provider, code)
	if exchangeErr != nil {
		service.metrics.Increment("oauth.callback.exchange_failure")
		service.logger.Error("code exchange failed",
			zap.String("provider", providerName),
			zap.Error(exchangeErr))
		return TokenResponse{}, fmt.Errorf("service.oauth_callback.exchange: %w", exchangeErr)
	}

	accessToken, _ := tokenPayload["access_token"].(string)
	if accessToken == "" {
		service.metrics.Increment("oauth.callback.missing_token")
		return TokenResponse{}, authcore.NewClientError("Failed to retrieve access token")
	}

	identity, fetchErr := service.exchanger.FetchUserData(ctx, provider, accessToken)
	if fetchErr != nil {
		service.metrics.Increment("oauth.callback.user_info_failure")
		service.logger.Error("user info fetch failed",
			zap.String("provider", providerName),
			zap.Error(fetchErr))
		return TokenResponse{}, fmt.Errorf("service.oauth_callback.user_info: %w", fetchErr)
	}
	if identity.Email == "" {
		service.metrics.Increment("oauth.callback.missing_email")
		return TokenResponse{}, authcore.NewClientError("Email not provided by the OAuth provider")
	}

	reconciledUser, reconcileErr := service.users.FindOrCreateOAuthUser(ctx, identity.Email, provider.Name(), identity.ID, identity.Name)
	if reconcileErr != nil {
		service.metrics.Increment("oauth.callback.reconcile_failure")
		service.logger.Error("oauth user reconciliation failed",
			zap.String("provider", providerName),
			zap.Error(reconcileErr))
		return TokenResponse{}, fmt.Errorf("service.oauth_callback.reconcile: %w", reconcileErr)
	}

	response, mintErr := service.mintTokenResponse(reconciledUser.Email)
	if mintErr != nil {
		return TokenResponse{}, mintErr
	}
	service.metrics.Increment("oauth.callback.success")
	return response, nil
}

// VerifySubject validates a bearer token and returns the subject email.
func (service *Service) VerifySubject(tokenString string) (string, bool) {
	return authcore.VerifyAccessToken(service.clock, tokenString, service.configuration.TokenIssuer, service.configuration.TokenSigningKey)
}

// UserByEmail resolves a user record for an authenticated subject.
func (service *Service) UserByEmail(ctx context.Context, email string) (*directory.User, error) {
	return service.users.FindByEmail(ctx, email)
}

func (service *Service) mintTokenResponse(subjectEmail string) (TokenResponse, error) {
	signedToken, _, mintErr := authcore.MintAccessToken(service.clock, subjectEmail, service.configuration.TokenIssuer, service.configuration.TokenSigningKey, service.configuration.TokenTTL)
	if mintErr != nil {
		return TokenResponse{}, fmt.Errorf("service.mint_token: %w", mintErr)
	}
	return TokenResponse{AccessToken: signedToken, TokenType: "bearer"}, nil
}
