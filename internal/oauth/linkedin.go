package oauth

import "context"

const (
	linkedinAuthorizeEndpoint = "https://www.linkedin.com/oauth/v2/authorization"
	linkedinTokenEndpoint     = "https://www.linkedin.com/oauth/v2/accessToken"
	linkedinUserInfoEndpoint  = "https://api.linkedin.com/v2/userinfo"
)

type linkedinProvider struct {
	config ProviderConfig
}

func (provider *linkedinProvider) Name() string {
	return "linkedin"
}

func (provider *linkedinProvider) ClientID() string {
	return provider.config.ClientID
}

func (provider *linkedinProvider) ClientSecret() string {
	return provider.config.ClientSecret
}

func (provider *linkedinProvider) RedirectURI() string {
	return provider.config.RedirectURI
}

func (provider *linkedinProvider) AuthorizeEndpoint() string {
	if provider.config.AuthorizeEndpointOverride != "" {
		return provider.config.AuthorizeEndpointOverride
	}
	return linkedinAuthorizeEndpoint
}

func (provider *linkedinProvider) TokenEndpoint() string {
	if provider.config.TokenEndpointOverride != "" {
		return provider.config.TokenEndpointOverride
	}
	return linkedinTokenEndpoint
}

func (provider *linkedinProvider) UserInfoEndpoint() string {
	if provider.config.UserInfoEndpointOverride != "" {
		return provider.config.UserInfoEndpointOverride
	}
	return linkedinUserInfoEndpoint
}

func (provider *linkedinProvider) Scopes() string {
	return "openid profile email"
}

func (provider *linkedinProvider) AuthHeader() map[string]string {
	return map[string]string{"Content-Type": "application/x-www-form-urlencoded"}
}

// NormalizeUserData reads the OpenID claim set LinkedIn returns from its
// userinfo endpoint.
func (provider *linkedinProvider) NormalizeUserData(ctx context.Context, raw map[string]any, accessToken string) (ExternalIdentity, error) {
	displayName := stringClaim(raw, "name")
	if displayName == "" {
		displayName = "LinkedIn User"
	}
	return ExternalIdentity{
		ID:    stringClaim(raw, "sub"),
		Email: stringClaim(raw, "email"),
		Name:  displayName,
	}, nil
}
