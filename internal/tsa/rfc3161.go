package tsa

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/sha256"
	"encoding/asn1"
	"encoding/base64"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/digitorus/timestamp"
	"github.com/inkform/trustcore/internal/shared/config"
	"github.com/inkform/trustcore/internal/shared/errors"
	"github.com/inkform/trustcore/internal/signer"
)

const (
	mediaTypeTSQuery = "application/timestamp-query"
	mediaTypeTSReply = "application/timestamp-reply"

	tsaConnectTimeout = 10 * time.Second
	tsaTotalTimeout   = 30 * time.Second
	tsaMaxReplyBytes  = 10 << 20
)

// TSQEncoder builds the DER TimeStampReq for a SHA-256 digest. It is a pure
// function digest → bytes; the two implementations are a native encoder and
// the openssl CLI collaborator.
type TSQEncoder interface {
	Encode(ctx context.Context, digest []byte) ([]byte, error)
}

// RFC3161Stamper POSTs a DER TSQ to a timestamp authority and stores the
// request and reply base64 in the token.
type RFC3161Stamper struct {
	url     string
	encoder TSQEncoder
	client  *http.Client
}

func NewRFC3161Stamper(cfg config.TSAConfig) (*RFC3161Stamper, error) {
	var encoder TSQEncoder
	if cfg.UseContainer {
		encoder = &OpenSSLTSQEncoder{
			PolicyOID:    cfg.PolicyOID,
			CertReq:      cfg.CertReq,
			UseContainer: true,
		}
	} else {
		oid, err := parseOID(cfg.PolicyOID)
		if err != nil {
			return nil, errors.BadRequest(fmt.Sprintf("invalid TSA_POLICY_OID: %v", err))
		}
		encoder = &NativeTSQEncoder{PolicyOID: oid, CertReq: cfg.CertReq}
	}

	return &RFC3161Stamper{
		url:     cfg.URL,
		encoder: encoder,
		client: &http.Client{
			Timeout: tsaTotalTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: tsaConnectTimeout}).DialContext,
			},
		},
	}, nil
}

func (s *RFC3161Stamper) Mode() string { return "rfc3161" }

func (s *RFC3161Stamper) Stamp(ctx context.Context, payload []byte, sig *signer.Bundle) (*Token, error) {
	digest := sha256.Sum256(payload)

	tsq, err := s.encoder.Encode(ctx, digest[:])
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(tsq))
	if err != nil {
		return nil, errors.TsaUnavailable(err)
	}
	req.Header.Set("Content-Type", mediaTypeTSQuery)

	resp, err := s.client.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, errors.TsaTimeout(err)
		}
		return nil, errors.TsaUnavailable(err)
	}
	defer resp.Body.Close()

	reply, err := io.ReadAll(io.LimitReader(resp.Body, tsaMaxReplyBytes))
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, errors.TsaTimeout(err)
		}
		return nil, errors.TsaUnavailable(err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, errors.TsaRejected(fmt.Sprintf("tsa returned status %d", resp.StatusCode))
	}

	// Confirm the reply covers our digest before trusting it as evidence.
	ts, err := timestamp.ParseResponse(reply)
	if err != nil {
		return nil, errors.TsaRejected(fmt.Sprintf("unparseable timestamp reply: %v", err))
	}
	if !bytes.Equal(ts.HashedMessage, digest[:]) {
		return nil, errors.TsaRejected("timestamp reply covers a different digest")
	}

	genTime := ts.Time.UTC()
	return &Token{
		Type:          TypeRFC3161,
		URL:           s.url,
		RequestBase64: base64.StdEncoding.EncodeToString(tsq),
		ReplyBase64:   base64.StdEncoding.EncodeToString(reply),
		GenTime:       &genTime,
	}, nil
}

// NativeTSQEncoder builds the TimeStampReq with the digitorus ASN.1 encoder.
type NativeTSQEncoder struct {
	PolicyOID asn1.ObjectIdentifier
	CertReq   bool
}

func (e *NativeTSQEncoder) Encode(ctx context.Context, digest []byte) ([]byte, error) {
	nonce, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, errors.TsaUnavailable(err)
	}

	req := &timestamp.Request{
		HashAlgorithm: crypto.SHA256,
		HashedMessage: digest,
		Certificates:  e.CertReq,
		Nonce:         nonce,
		TSAPolicyOID:  e.PolicyOID,
	}

	der, err := req.Marshal()
	if err != nil {
		return nil, errors.TsaRejected(fmt.Sprintf("encode timestamp request: %v", err))
	}
	return der, nil
}

func parseOID(dotted string) (asn1.ObjectIdentifier, error) {
	if dotted == "" {
		return nil, nil
	}
	parts := strings.Split(dotted, ".")
	oid := make(asn1.ObjectIdentifier, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("bad OID component %q", p)
		}
		oid = append(oid, n)
	}
	return oid, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
