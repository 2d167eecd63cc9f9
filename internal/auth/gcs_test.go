package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestGCSAuthenticatorRefreshesAndSignsBearer(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok-1","expires_in":3600,"token_type":"Bearer"}`))
	}))
	defer ts.Close()

	a := newGCSAuthenticator("client-id", "client-secret", "refresh-tok")
	a.cfg.Endpoint = oauth2.Endpoint{TokenURL: ts.URL}

	req, err := http.NewRequest(http.MethodGet, "https://storage.googleapis.com/bucket/key", nil)
	require.NoError(t, err)

	require.NoError(t, a.Sign(req))
	assert.True(t, strings.HasPrefix(req.Header.Get("Authorization"), "Bearer tok-1"))

	// Second sign within the token's lifetime must not hit the token
	// endpoint again.
	req2, _ := http.NewRequest(http.MethodGet, "https://storage.googleapis.com/bucket/key2", nil)
	require.NoError(t, a.Sign(req2))
	assert.Equal(t, 1, calls)
}
