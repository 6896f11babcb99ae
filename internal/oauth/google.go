package oauth

import "context"

const (
	googleAuthorizeEndpoint = "https://accounts.google.com/o/oauth2/v2/auth"
	googleTokenEndpoint     = "https://oauth2.googleapis.com/token"
	googleUserInfoEndpoint  = "https://www.googleapis.com/oauth2/v2/userinfo"
)

type googleProvider struct {
	config ProviderConfig
}

func (provider *googleProvider) Name() string {
	return "google"
}

func (provider *googleProvider) ClientID() string {
	return provider.config.ClientID
}

func (provider *googleProvider) ClientSecret() string {
	return provider.config.ClientSecret
}

func (provider *googleProvider) RedirectURI() string {
	return provider.config.RedirectURI
}

func (provider *googleProvider) AuthorizeEndpoint() string {
	if provider.config.AuthorizeEndpointOverride != "" {
		return provider.config.AuthorizeEndpointOverride
	}
	return googleAuthorizeEndpoint
}

func (provider *googleProvider) TokenEndpoint() string {
	if provider.config.TokenEndpointOverride != "" {
		return provider.config.TokenEndpointOverride
	}
	return googleTokenEndpoint
}

func (provider *googleProvider) UserInfoEndpoint() string {
	if provider.config.UserInfoEndpointOverride != "" {
		return provider.config.UserInfoEndpointOverride
	}
	return googleUserInfoEndpoint
}

func (provider *googleProvider) Scopes() string {
	return "openid profile email"
}

func (provider *googleProvider) AuthHeader() map[string]string {
	return map[string]string{"Content-Type": "application/x-www-form-urlencoded"}
}

// NormalizeUserData reads Google's userinfo schema directly.
func (provider *googleProvider) NormalizeUserData(ctx context.Context, raw map[string]any, accessToken string) (ExternalIdentity, error) {
	return ExternalIdentity{
		ID:    stringClaim(raw, "id"),
		Email: stringClaim(raw, "email"),
		Name:  stringClaim(raw, "name"),
	}, nil
}
