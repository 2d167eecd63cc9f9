package auth

import (
	"fmt"
	"net/http"

	reqpool "github.com/objectfs/objectfs/internal/pool"
)

// Authenticator signs an outgoing request in place, adding whatever
// headers its service requires. One Authenticator is built per
// backend and shared across every request worker.
type Authenticator interface {
	Sign(req *http.Request) error
}

// Hook adapts an Authenticator into the pre-request hook
// internal/pool.Client calls before every send.
func Hook(a Authenticator) reqpool.PreRequestHook {
	return func(req *http.Request) error {
		return a.Sign(req)
	}
}

// Service names one of the signing schemes §6 lists as recognized.
type Service string

const (
	ServiceAWSV2  Service = "aws-v2"
	ServiceAWSV4  Service = "aws-v4"
	ServiceGCS    Service = "google-storage"
	ServiceFVS    Service = "fvs"
	ServiceIIJGIO Service = "iijgio"
)

// Config selects and parameterizes one Authenticator.
type Config struct {
	Service Service

	// AWS v2/v4 and the HMAC-compatible services (FVS, IIJGIO).
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Region          string // required for v4; ignored by v2-style signers

	// Google Cloud Storage OAuth2.
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// New builds the Authenticator cfg.Service names.
func New(cfg Config) (Authenticator, error) {
	switch cfg.Service {
	case ServiceAWSV2:
		return newHMACSigner(hmacParams{
			accessKeyID: cfg.AccessKeyID,
			secretKey:   cfg.SecretAccessKey,
			headerPrefix: awsHeaderPrefix,
			metaPrefix:   awsMetaPrefix,
		}), nil
	case ServiceAWSV4:
		return newV4Signer(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken, cfg.Region), nil
	case ServiceGCS:
		return newGCSAuthenticator(cfg.ClientID, cfg.ClientSecret, cfg.RefreshToken), nil
	case ServiceFVS:
		return newHMACSigner(hmacParams{
			accessKeyID:  cfg.AccessKeyID,
			secretKey:    cfg.SecretAccessKey,
			headerPrefix: fvsHeaderPrefix,
			metaPrefix:   fvsMetaPrefix,
		}), nil
	case ServiceIIJGIO:
		return newHMACSigner(hmacParams{
			accessKeyID:  cfg.AccessKeyID,
			secretKey:    cfg.SecretAccessKey,
			headerPrefix: iijgioHeaderPrefix,
			metaPrefix:   iijgioMetaPrefix,
		}), nil
	default:
		return nil, fmt.Errorf("auth: unrecognized service %q", cfg.Service)
	}
}
