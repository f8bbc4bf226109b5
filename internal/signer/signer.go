// Package signer abstracts signature production over pluggable providers:
// an in-process development RSA key, an external signing CLI (cosign-style
// keyless, key file, or remote KMS URI), and AWS KMS. At most one provider
// is active per process; hot-swap is not supported.
package signer

import (
	"context"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/inkform/trustcore/internal/shared/config"
	"github.com/inkform/trustcore/internal/shared/errors"
)

// Provider tags carried in evidence.
const (
	ProviderDev         = "dev"
	ProviderExternalCLI = "external_cli"
	ProviderKMS         = "kms"
)

const (
	AlgorithmRSASHA256       = "RSA-SHA256"
	AlgorithmECDSAP256SHA256 = "ECDSA-P256-SHA256"
)

// CertEntry is one element of a bundle's certificate chain. A dev provider
// carries only a public key; a real chain carries PEM certificates.
type CertEntry struct {
	PEM       *string `json:"pem"`
	PublicKey string  `json:"publicKey,omitempty"`
	Algorithm string  `json:"algorithm,omitempty"`
}

// Bundle is the uniform result of a signing operation. Providers must not
// leak provider-specific state other than through CertChain and KeyID.
type Bundle struct {
	Provider      string      `json:"provider"`
	Algorithm     string      `json:"algorithm"`
	SignatureBlob string      `json:"signatureBlob"`
	CertChain     []CertEntry `json:"certChain"`
	KeyID         string      `json:"keyId,omitempty"`

	// BundleJSON holds the transparency bundle emitted by the external CLI;
	// the sigstore_bundle TSA mode passes it through. Never persisted as
	// part of the signature bundle itself.
	BundleJSON string `json:"-"`
}

// Signer produces a SignatureBundle for canonical payload bytes. Failures
// are ErrSignerUnavailable, ErrSignerRejected, or ErrSignerTimeout.
type Signer interface {
	Sign(ctx context.Context, payload []byte) (*Bundle, error)
	Provider() string
}

// New constructs the configured provider. Unknown providers are rejected at
// config load; this switch is exhaustive over the validated set.
func New(ctx context.Context, cfg config.SignerConfig) (Signer, error) {
	switch cfg.Provider {
	case "dev":
		return NewDevSigner()

	case "external_cli":
		return NewCLISigner(cfg), nil

	case "kms_aws":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, errors.SignerUnavailable(err)
		}
		return NewKMSSigner(ctx, kms.NewFromConfig(awsCfg), cfg.KMSURI)

	default:
		return nil, errors.BadRequest("unknown signer provider " + cfg.Provider)
	}
}
