package auth

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"sort"
	"strings"
	"time"
)

const (
	awsHeaderPrefix    = "x-amz-"
	awsMetaPrefix      = "x-amz-meta-"
	fvsHeaderPrefix    = "x-fvs-"
	fvsMetaPrefix      = "x-fvs-meta-"
	iijgioHeaderPrefix = "x-iijgio-"
	iijgioMetaPrefix   = "x-iijgio-meta-"
)

type hmacParams struct {
	accessKeyID  string
	secretKey    string
	headerPrefix string
	metaPrefix   string
}

// hmacSigner implements the legacy AWS signature v2 scheme: an
// Authorization header built from an HMAC-SHA1 over a canonicalized
// request string. FVS and IIJGIO are modeled as the same algorithm
// under their own header prefix — both are S3-compatible clones whose
// own sign() implementations are this same canonical-string-plus-HMAC
// scheme against a differently-prefixed header set, not a distinct
// signing method.
type hmacSigner struct {
	params hmacParams
}

func newHMACSigner(p hmacParams) *hmacSigner {
	return &hmacSigner{params: p}
}

// Sign adds a Date header (if absent) and an Authorization header
// computed over the canonicalized request, following the legacy
// "AWS accessKeyID:signature" form.
func (s *hmacSigner) Sign(req *http.Request) error {
	if req.Header.Get("Date") == "" {
		req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}

	canonical := s.canonicalize(req)
	mac := hmac.New(sha1.New, []byte(s.params.secretKey))
	mac.Write([]byte(canonical))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	req.Header.Set("Authorization", "AWS "+s.params.accessKeyID+":"+signature)
	return nil
}

// canonicalize builds the string-to-sign: verb, content MD5,
// content-type, date, canonicalized x-*-headers, then the resource
// path (bucket + key, stripped of query parameters).
func (s *hmacSigner) canonicalize(req *http.Request) string {
	var b strings.Builder
	b.WriteString(req.Method)
	b.WriteByte('\n')
	b.WriteString(req.Header.Get("Content-MD5"))
	b.WriteByte('\n')
	b.WriteString(req.Header.Get("Content-Type"))
	b.WriteByte('\n')
	b.WriteString(req.Header.Get("Date"))
	b.WriteByte('\n')
	b.WriteString(s.canonicalizedHeaders(req))
	b.WriteString(req.URL.Path)
	return b.String()
}

func (s *hmacSigner) canonicalizedHeaders(req *http.Request) string {
	var keys []string
	for k := range req.Header {
		lk := strings.ToLower(k)
		if strings.HasPrefix(lk, s.params.headerPrefix) {
			keys = append(keys, lk)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte(':')
		b.WriteString(strings.Join(req.Header.Values(httpCanonicalHeaderName(k)), ","))
		b.WriteByte('\n')
	}
	return b.String()
}

func httpCanonicalHeaderName(lower string) string {
	return http.CanonicalHeaderKey(lower)
}
