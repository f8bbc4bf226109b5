package signer

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"

	"github.com/inkform/trustcore/internal/shared/errors"
)

// DevSigner signs with an RSA-2048 key generated at construction. The key
// lives only for the process lifetime; evidence it produces is explicitly
// non-production and verifiers surface a warning for provider "dev".
type DevSigner struct {
	key    *rsa.PrivateKey
	pubPEM string
}

// NewDevSigner generates a fresh RSA-2048 keypair.
func NewDevSigner() (*DevSigner, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, errors.SignerUnavailable(fmt.Errorf("generate dev key: %w", err))
	}
	return NewDevSignerFromKey(key)
}

// NewDevSignerFromKey wraps an existing key so tests can inject a
// deterministic one.
func NewDevSignerFromKey(key *rsa.PrivateKey) (*DevSigner, error) {
	spki, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, errors.SignerUnavailable(fmt.Errorf("encode dev public key: %w", err))
	}
	pubPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: spki}))
	return &DevSigner{key: key, pubPEM: pubPEM}, nil
}

func (s *DevSigner) Provider() string {
	return ProviderDev
}

// Sign produces an RSA-SHA256 signature over payload. The cert chain
// carries only the public key; there is no real certificate.
func (s *DevSigner) Sign(ctx context.Context, payload []byte) (*Bundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.SignerTimeout(err)
	}

	digest := sha256.Sum256(payload)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, errors.SignerRejected(fmt.Sprintf("dev sign failed: %v", err))
	}

	return &Bundle{
		Provider:      ProviderDev,
		Algorithm:     AlgorithmRSASHA256,
		SignatureBlob: base64.StdEncoding.EncodeToString(sig),
		CertChain: []CertEntry{{
			PEM:       nil,
			PublicKey: s.pubPEM,
			Algorithm: AlgorithmRSASHA256,
		}},
	}, nil
}

// CryptoSigner exposes the dev key for the dev TSA, which signs its tokens
// with the same key.
func (s *DevSigner) CryptoSigner() crypto.Signer {
	return s.key
}

// PublicKeyPEM returns the SPKI public key in PEM form.
func (s *DevSigner) PublicKeyPEM() string {
	return s.pubPEM
}

// PrivateKeyPEM returns the PKCS8 private key in PEM form. Development
// tooling only; the key is never persisted by the core.
func (s *DevSigner) PrivateKeyPEM() (string, error) {
	pkcs8, err := x509.MarshalPKCS8PrivateKey(s.key)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8})), nil
}

// VerifyDev checks an RSA-SHA256 signature against an SPKI PEM public key.
// Used by verifiers and tests; mutating any payload byte fails.
func VerifyDev(pubPEM string, payload []byte, signatureB64 string) error {
	block, _ := pem.Decode([]byte(pubPEM))
	if block == nil {
		return fmt.Errorf("invalid public key PEM")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return fmt.Errorf("parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("public key is not RSA")
	}
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	digest := sha256.Sum256(payload)
	return rsa.VerifyPKCS1v15(rsaPub, crypto.SHA256, digest[:], sig)
}
