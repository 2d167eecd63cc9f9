package auth

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHMACSignerSetsAuthorizationHeader(t *testing.T) {
	s := newHMACSigner(hmacParams{
		accessKeyID:  "AKIDEXAMPLE",
		secretKey:    "secret",
		headerPrefix: awsHeaderPrefix,
		metaPrefix:   awsMetaPrefix,
	})

	req, err := http.NewRequest(http.MethodGet, "https://bucket.example.com/key", nil)
	require.NoError(t, err)

	require.NoError(t, s.Sign(req))

	auth := req.Header.Get("Authorization")
	assert.True(t, strings.HasPrefix(auth, "AWS AKIDEXAMPLE:"))
	assert.NotEmpty(t, req.Header.Get("Date"))
}

func TestHMACSignerDeterministicForSameRequest(t *testing.T) {
	s := newHMACSigner(hmacParams{
		accessKeyID:  "AKID",
		secretKey:    "secret",
		headerPrefix: fvsHeaderPrefix,
		metaPrefix:   fvsMetaPrefix,
	})

	req1, _ := http.NewRequest(http.MethodGet, "https://example.com/a", nil)
	req1.Header.Set("Date", "Mon, 02 Jan 2006 15:04:05 GMT")
	req2, _ := http.NewRequest(http.MethodGet, "https://example.com/a", nil)
	req2.Header.Set("Date", "Mon, 02 Jan 2006 15:04:05 GMT")

	require.NoError(t, s.Sign(req1))
	require.NoError(t, s.Sign(req2))
	assert.Equal(t, req1.Header.Get("Authorization"), req2.Header.Get("Authorization"))
}

func TestNewRejectsUnknownService(t *testing.T) {
	_, err := New(Config{Service: "bogus"})
	assert.Error(t, err)
}

func TestNewBuildsEachKnownService(t *testing.T) {
	for _, svc := range []Service{ServiceAWSV2, ServiceAWSV4, ServiceGCS, ServiceFVS, ServiceIIJGIO} {
		a, err := New(Config{Service: svc, Region: "us-east-1"})
		require.NoError(t, err, svc)
		assert.NotNil(t, a, svc)
	}
}

func TestHookDelegatesToAuthenticator(t *testing.T) {
	s := newHMACSigner(hmacParams{accessKeyID: "id", secretKey: "secret", headerPrefix: awsHeaderPrefix, metaPrefix: awsMetaPrefix})
	hook := Hook(s)

	req, _ := http.NewRequest(http.MethodGet, "https://example.com/x", nil)
	require.NoError(t, hook(req))
	assert.NotEmpty(t, req.Header.Get("Authorization"))
}
