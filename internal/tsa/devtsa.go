package tsa

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/inkform/trustcore/internal/canonical"
	"github.com/inkform/trustcore/internal/shared/errors"
	"github.com/inkform/trustcore/internal/signer"
)

const devAccuracyMs = 1000

// DevStamper synthesizes a simulated RFC 3161-like token and signs it with
// the dev key. The token is clearly labeled internal_dev_tsa; it is not a
// third-party proof.
type DevStamper struct {
	dev       *signer.DevSigner
	policyOID string

	// now is overridable in tests
	now func() time.Time
}

func NewDevStamper(dev *signer.DevSigner, policyOID string) *DevStamper {
	return &DevStamper{dev: dev, policyOID: policyOID, now: time.Now}
}

func (s *DevStamper) Mode() string { return "dev" }

func (s *DevStamper) Stamp(ctx context.Context, payload []byte, sig *signer.Bundle) (*Token, error) {
	return s.stamp(ctx, payload, false)
}

// stamp builds and signs the token. The fallback marker has to be part of
// the signed body, so it is set here rather than by the caller afterwards.
func (s *DevStamper) stamp(ctx context.Context, payload []byte, fallback bool) (*Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.TsaTimeout(err)
	}

	nonce, err := randomHex(16)
	if err != nil {
		return nil, errors.TsaUnavailable(err)
	}
	serial, err := randomHex(8)
	if err != nil {
		return nil, errors.TsaUnavailable(err)
	}

	genTime := s.now().UTC().Truncate(time.Microsecond)
	digest := sha256.Sum256(payload)

	token := &Token{
		Type:                TypeDev,
		FallbackFromRFC3161: fallback,
		PolicyOID:           s.policyOID,
		GenTime:             &genTime,
		Nonce:               nonce,
		Serial:              serial,
		AccuracyMs:          devAccuracyMs,
		MessageImprint: &MessageImprint{
			HashAlgorithm: "sha256",
			HashBase64:    base64.StdEncoding.EncodeToString(digest[:]),
		},
		Issuer: TypeDev,
	}

	// Sign the canonical serialization of the token body, then attach the
	// signature and the public key.
	body, err := canonical.Marshal(token)
	if err != nil {
		return nil, errors.Wrap(err, "serialize dev tsa token")
	}
	bodyDigest := sha256.Sum256(body)
	sigBytes, err := s.dev.CryptoSigner().Sign(rand.Reader, bodyDigest[:], crypto.SHA256)
	if err != nil {
		return nil, errors.TsaRejected(fmt.Sprintf("dev tsa sign failed: %v", err))
	}

	token.SignatureBase64 = base64.StdEncoding.EncodeToString(sigBytes)
	token.Cert = s.dev.PublicKeyPEM()
	return token, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
