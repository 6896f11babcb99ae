package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrUnsupportedProvider indicates the requested provider name is not part of
// the configured set. This is a caller mistake, not a server fault.
var ErrUnsupportedProvider = errors.New("oauth.unsupported_provider")

// DefaultHTTPTimeout bounds outbound calls to provider endpoints. Provider
// round trips are the dominant latency surface, so the bound is explicit
// rather than inherited from http.DefaultClient.
const DefaultHTTPTimeout = 15 * time.Second

// ExternalIdentity is the canonical identity record every provider response
// is normalized into.
type ExternalIdentity struct {
	ID    string
	Email string
	Name  string
}

// ProviderConfig carries per-provider credentials fixed at startup. Endpoint
// overrides exist for tests that stand in fake provider servers; production
// deployments leave them empty and use the provider-fixed URLs.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string

	AuthorizeEndpointOverride string
	TokenEndpointOverride     string
	UserInfoEndpointOverride  string
	EmailsEndpointOverride    string
}

// Config groups the configuration of every supported provider.
type Config struct {
	Google   ProviderConfig
	GitHub   ProviderConfig
	LinkedIn ProviderConfig
}

// Provider encapsulates one external OAuth provider: its endpoints,
// credentials, scopes, and response-shape normalization.
type Provider interface {
	Name() string
	ClientID() string
	ClientSecret() string
	RedirectURI() string
	AuthorizeEndpoint() string
	TokenEndpoint() string
	UserInfoEndpoint() string
	Scopes() string
	// AuthHeader returns the provider-specific headers required on the
	// token-exchange request.
	AuthHeader() map[string]string
	// NormalizeUserData maps the provider's user-info response shape into the
	// canonical identity record. Some providers need the access token for a
	// follow-up call.
	NormalizeUserData(ctx context.Context, raw map[string]any, accessToken string) (ExternalIdentity, error)
}

// NewProvider resolves a provider name to its configured adapter.
func NewProvider(name string, configuration Config, httpClient *http.Client) (Provider, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "google":
		return &googleProvider{config: configuration.Google}, nil
	case "github":
		return &githubProvider{config: configuration.GitHub, httpClient: httpClient}, nil
	case "linkedin":
		return &linkedinProvider{config: configuration.LinkedIn}, nil
	default:
		return nil, fmt.Errorf("oauth.provider_factory: %w: %s", ErrUnsupportedProvider, name)
	}
}

// stringClaim reads a string field from a decoded JSON object, formatting
// numeric identifiers (GitHub ids arrive as JSON numbers) without an exponent.
func stringClaim(raw map[string]any, key string) string {
	value, present := raw[key]
	if !present || value == nil {
		return ""
	}
	switch typed := value.(type) {
	case string:
		return typed
	case float64:
		return fmt.Sprintf("%.0f", typed)
	default:
		return fmt.Sprintf("%v", typed)
	}
}
