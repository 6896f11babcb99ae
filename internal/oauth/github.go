package oauth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

const (
	githubAuthorizeEndpoint = "https://github.com/login/oauth/authorize"
	githubTokenEndpoint     = "https://github.com/login/oauth/access_token"
	githubUserInfoEndpoint  = "https://api.github.com/user"
	githubEmailsEndpoint    = "https://api.github.com/user/emails"
)

// ErrEmailLookupFailed indicates GitHub's email listing endpoint could not be
// read, leaving no verified address to join on.
var ErrEmailLookupFailed = errors.New("oauth.github.email_lookup_failed")

type githubProvider struct {
	config     ProviderConfig
	httpClient *http.Client
}

func (provider *githubProvider) Name() string {
	return "github"
}

func (provider *githubProvider) ClientID() string {
	return provider.config.ClientID
}

func (provider *githubProvider) ClientSecret() string {
	return provider.config.ClientSecret
}

func (provider *githubProvider) RedirectURI() string {
	return provider.config.RedirectURI
}

func (provider *githubProvider) AuthorizeEndpoint() string {
	if provider.config.AuthorizeEndpointOverride != "" {
		return provider.config.AuthorizeEndpointOverride
	}
	return githubAuthorizeEndpoint
}

func (provider *githubProvider) TokenEndpoint() string {
	if provider.config.TokenEndpointOverride != "" {
		return provider.config.TokenEndpointOverride
	}
	return githubTokenEndpoint
}

func (provider *githubProvider) UserInfoEndpoint() string {
	if provider.config.UserInfoEndpointOverride != "" {
		return provider.config.UserInfoEndpointOverride
	}
	return githubUserInfoEndpoint
}

func (provider *githubProvider) emailsEndpoint() string {
	if provider.config.EmailsEndpointOverride != "" {
		return provider.config.EmailsEndpointOverride
	}
	return githubEmailsEndpoint
}

func (provider *githubProvider) Scopes() string {
	return "user:email"
}

// AuthHeader builds the Basic credentials GitHub requires on the token
// exchange, alongside the JSON accept header (GitHub defaults to form-encoded
// responses otherwise).
func (provider *githubProvider) AuthHeader() map[string]string {
	credentials := provider.config.ClientID + ":" + provider.config.ClientSecret
	encoded := base64.StdEncoding.EncodeToString([]byte(credentials))
	return map[string]string{
		"Accept":        "application/json",
		"Authorization": "Basic " + encoded,
	}
}

// NormalizeUserData maps GitHub's user schema and resolves the primary email
// with a second authenticated call, because /user does not reliably include
// one.
func (provider *githubProvider) NormalizeUserData(ctx context.Context, raw map[string]any, accessToken string) (ExternalIdentity, error) {
	identity := ExternalIdentity{
		ID:    stringClaim(raw, "id"),
		Email: stringClaim(raw, "email"),
		Name:  stringClaim(raw, "name"),
	}
	if identity.Name == "" {
		identity.Name = stringClaim(raw, "login")
	}

	primaryEmail, lookupErr := provider.fetchPrimaryEmail(ctx, accessToken)
	if lookupErr != nil {
		return ExternalIdentity{}, lookupErr
	}
	if primaryEmail != "" {
		identity.Email = primaryEmail
	}
	return identity, nil
}

func (provider *githubProvider) fetchPrimaryEmail(ctx context.Context, accessToken string) (string, error) {
	request, buildErr := http.NewRequestWithContext(ctx, http.MethodGet, provider.emailsEndpoint(), nil)
	if buildErr != nil {
		return "", fmt.Errorf("oauth.github.emails_request: %w", buildErr)
	}
	request.Header.Set("Authorization", "Bearer "+accessToken)
	request.Header.Set("Accept", "application/json")

	response, requestErr := provider.httpClient.Do(request)
	if requestErr != nil {
		return "", fmt.Errorf("oauth.github.emails_request: %w", requestErr)
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(response.Body)
		return "", fmt.Errorf("oauth.github.emails_status_%d: %w: %s", response.StatusCode, ErrEmailLookupFailed, string(body))
	}

	var emailRecords []struct {
		Email   string `json:"email"`
		Primary bool   `json:"primary"`
	}
	if decodeErr := json.NewDecoder(response.Body).Decode(&emailRecords); decodeErr != nil {
		return "", fmt.Errorf("oauth.github.emails_decode: %w", decodeErr)
	}
	for _, record := range emailRecords {
		if record.Primary {
			return record.Email, nil
		}
	}
	return "", nil
}
