package auth

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"gwi.com/review-autoreply/internal/store"
)

const scopeBusinessManage = "https://www.googleapis.com/auth/business.manage"

// GoogleProvider runs the OAuth consent flow that links a Business Profile
// account and identifies the user.
type GoogleProvider struct {
	config           *oauth2.Config
	httpClient       *http.Client
	userinfoEndpoint string
}

type ProviderOption func(*GoogleProvider)

// WithOAuthEndpoint replaces Google's authorization and token URLs.
func WithOAuthEndpoint(endpoint oauth2.Endpoint) ProviderOption {
	return func(p *GoogleProvider) { p.config.Endpoint = endpoint }
}

// WithUserinfoEndpoint points profile lookups at another host.
func WithUserinfoEndpoint(endpoint string) ProviderOption {
	return func(p *GoogleProvider) { p.userinfoEndpoint = endpoint }
}

func WithProviderHTTPClient(hc *http.Client) ProviderOption {
	return func(p *GoogleProvider) { p.httpClient = hc }
}

func NewGoogleProvider(clientID, clientSecret, redirectURL string, opts ...ProviderOption) *GoogleProvider {
	p := &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes: []string{
				scopeBusinessManage,
				oauth2api.UserinfoProfileScope,
				oauth2api.UserinfoEmailScope,
			},
			Endpoint: google.Endpoint,
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// OAuthConfig is shared with Credentials so refreshes use the same client.
func (p *GoogleProvider) OAuthConfig() *oauth2.Config {
	return p.config
}

// AuthCodeURL asks for offline access and forces the consent screen so a
// refresh token is always issued.
func (p *GoogleProvider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := p.config.Exchange(p.withHTTPClient(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	return token, nil
}

// FetchProfile reads the Google identity behind token.
func (p *GoogleProvider) FetchProfile(ctx context.Context, token *oauth2.Token) (store.Profile, error) {
	ctx = p.withHTTPClient(ctx)
	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, p.config.TokenSource(ctx, token)))}
	if p.userinfoEndpoint != "" {
		opts = append(opts, option.WithEndpoint(p.userinfoEndpoint))
	}

	srv, err := oauth2api.NewService(ctx, opts...)
	if err != nil {
		return store.Profile{}, fmt.Errorf("unable to create OAuth2 client: %w", err)
	}
	info, err := srv.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return store.Profile{}, fmt.Errorf("unable to get user info: %w", err)
	}

	return store.Profile{
		ExternalUserID: info.Id,
		DisplayName:    info.Name,
		Email:          info.Email,
		AvatarURL:      info.Picture,
	}, nil
}

func (p *GoogleProvider) withHTTPClient(ctx context.Context) context.Context {
	if p.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}
