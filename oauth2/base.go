package oauth2

import (
	"context"
	"net/http"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

type BaseOAuth2 struct {
	ClientId     string
	ClientSecret string
	CallbackURL  string
	// HTTPClient is used for token exchange. Nil means http.DefaultClient.
	HTTPClient  *http.Client
	oauthConfig oauth2.Config
	mux         *http.ServeMux
}

func NewBaseOAuth2(clientId string, clientSecret string, callbackUrl string) *BaseOAuth2 {
	if clientId == "" {
		clientId = os.Getenv("OAUTH2_CLIENT_ID")
	}
	if clientSecret == "" {
		clientSecret = os.Getenv("OAUTH2_CLIENT_SECRET")
	}
	if callbackUrl == "" {
		callbackUrl = os.Getenv("OAUTH2_CALLBACK_URL")
	}
	out := &BaseOAuth2{
		ClientId:     clientId,
		ClientSecret: clientSecret,
		CallbackURL:  callbackUrl,
		mux:          http.NewServeMux(),
		oauthConfig: oauth2.Config{
			ClientID:     clientId,
			ClientSecret: clientSecret,
			RedirectURL:  callbackUrl,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
	}
	out.setupHandlers()
	return out
}

func (b *BaseOAuth2) setupHandlers() {
	b.mux.HandleFunc("/{$}", OauthRedirector(&b.oauthConfig))
}

// Handler serves the redirect at "/" and the provider callback at "/callback/".
// Mount it with http.StripPrefix.
func (b *BaseOAuth2) Handler() http.Handler {
	return b.mux
}

// SetOAuthEndpoint overrides the provider endpoints.
func (b *BaseOAuth2) SetOAuthEndpoint(endpoint oauth2.Endpoint) {
	b.oauthConfig.Endpoint = endpoint
}

func (b *BaseOAuth2) SetHTTPClient(client *http.Client) {
	b.HTTPClient = client
}

func (b *BaseOAuth2) exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if b.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, b.HTTPClient)
	}
	return b.oauthConfig.Exchange(ctx, code)
}
