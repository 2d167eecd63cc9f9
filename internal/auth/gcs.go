package auth

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// gcsEndpoint is Google's OAuth2 token endpoint, used to exchange a
// refresh token for a short-lived access token.
var gcsEndpoint = oauth2.Endpoint{
	AuthURL:  "https://accounts.google.com/o/oauth2/auth",
	TokenURL: "https://oauth2.googleapis.com/token",
}

// gcsAuthenticator mirrors the original gs_authenticator: it holds a
// long-lived refresh token and exchanges it for a short-lived access
// token on demand, refreshing once the cached token has expired rather
// than on every request; a token close to expiry is still reused.
type gcsAuthenticator struct {
	cfg *oauth2.Config

	mu          sync.Mutex
	accessToken string
	expiry      time.Time
	refreshTok  string
}

func newGCSAuthenticator(clientID, clientSecret, refreshToken string) *gcsAuthenticator {
	return &gcsAuthenticator{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     gcsEndpoint,
			Scopes:       []string{"https://www.googleapis.com/auth/devstorage.read_write"},
		},
		refreshTok: refreshToken,
	}
}

// Sign adds a Bearer Authorization header, refreshing the cached
// access token first if it has expired.
func (a *gcsAuthenticator) Sign(req *http.Request) error {
	token, err := a.currentToken(req.Context())
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func (a *gcsAuthenticator) currentToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.accessToken != "" && time.Now().Before(a.expiry) {
		return a.accessToken, nil
	}

	token, err := a.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: a.refreshTok}).Token()
	if err != nil {
		return "", err
	}

	a.accessToken = token.AccessToken
	a.expiry = token.Expiry
	if refreshed := token.RefreshToken; refreshed != "" {
		a.refreshTok = refreshed
	}
	return a.accessToken, nil
}
