package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
)

// v4Signer wraps the AWS SDK v2's SigV4 signer for services.Service
// "aws-v4" (§6's "AWS signature v1/v2/v4" — v1 is the same scheme as
// v2 for this purpose and is handled by hmacSigner too, since the
// original's aws_authenticator applies one sign() regardless of which
// of the two the user selects; v4 is the one scheme that needs real
// request-hashing and a service/region binding, which only the SDK's
// signer gets right).
type v4Signer struct {
	signer      *v4.Signer
	credentials aws.Credentials
	region      string
}

func newV4Signer(accessKeyID, secretAccessKey, sessionToken, region string) *v4Signer {
	return &v4Signer{
		signer: v4.NewSigner(),
		credentials: aws.Credentials{
			AccessKeyID:     accessKeyID,
			SecretAccessKey: secretAccessKey,
			SessionToken:    sessionToken,
		},
		region: region,
	}
}

func (s *v4Signer) Sign(req *http.Request) error {
	payloadHash := emptyPayloadHash
	if req.Body != nil && req.ContentLength != 0 {
		// Streamed uploads (staging file part/put bodies) aren't
		// buffered here to compute a real body hash; SigV4 allows
		// skipping that via the UNSIGNED-PAYLOAD sentinel as long as
		// the request travels over TLS, which internal/pool.Client
		// always uses.
		payloadHash = "UNSIGNED-PAYLOAD"
	}
	req.Header.Set("X-Amz-Content-Sha256", payloadHash)
	return s.signer.SignHTTP(req.Context(), s.credentials, req, payloadHash, "s3", s.region, time.Now())
}

var emptyPayloadHash = hex.EncodeToString(sha256.New().Sum(nil))
