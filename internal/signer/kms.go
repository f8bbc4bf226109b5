package signer

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/inkform/trustcore/internal/shared/errors"
)

// KMSAPI is the narrow slice of the AWS KMS client the signer needs, so
// tests can substitute a fake.
type KMSAPI interface {
	Sign(ctx context.Context, params *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error)
	GetPublicKey(ctx context.Context, params *kms.GetPublicKeyInput, optFns ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error)
}

// KMSSigner signs via AWS KMS with RSASSA_PKCS1_V1_5_SHA_256 over the
// payload digest. The key never leaves KMS; the bundle carries the SPKI
// public key and the key id.
type KMSSigner struct {
	client KMSAPI
	keyID  string
	pubPEM string
}

func NewKMSSigner(ctx context.Context, client KMSAPI, keyID string) (*KMSSigner, error) {
	resp, err := client.GetPublicKey(ctx, &kms.GetPublicKeyInput{KeyId: aws.String(keyID)})
	if err != nil {
		return nil, errors.SignerUnavailable(fmt.Errorf("get KMS public key: %w", err))
	}
	if _, err := x509.ParsePKIXPublicKey(resp.PublicKey); err != nil {
		return nil, errors.SignerUnavailable(fmt.Errorf("parse KMS public key: %w", err))
	}
	pubPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: resp.PublicKey}))

	return &KMSSigner{client: client, keyID: keyID, pubPEM: pubPEM}, nil
}

func (s *KMSSigner) Provider() string {
	return ProviderKMS
}

func (s *KMSSigner) Sign(ctx context.Context, payload []byte) (*Bundle, error) {
	digest := sha256.Sum256(payload)

	resp, err := s.client.Sign(ctx, &kms.SignInput{
		KeyId:            aws.String(s.keyID),
		Message:          digest[:],
		MessageType:      kmstypes.MessageTypeDigest,
		SigningAlgorithm: kmstypes.SigningAlgorithmSpecRsassaPkcs1V15Sha256,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.SignerTimeout(ctxErr)
		}
		return nil, errors.SignerUnavailable(fmt.Errorf("KMS sign: %w", err))
	}

	return &Bundle{
		Provider:      ProviderKMS,
		Algorithm:     AlgorithmRSASHA256,
		SignatureBlob: base64.StdEncoding.EncodeToString(resp.Signature),
		CertChain: []CertEntry{{
			PublicKey: s.pubPEM,
			Algorithm: AlgorithmRSASHA256,
		}},
		KeyID: s.keyID,
	}, nil
}
