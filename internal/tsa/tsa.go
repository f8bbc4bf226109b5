package tsa

import (
	"context"
	"time"

	"github.com/inkform/trustcore/internal/shared/config"
	"github.com/inkform/trustcore/internal/shared/errors"
	"github.com/inkform/trustcore/internal/signer"
)

// Stamper obtains a time-stamp token for canonical payload bytes. The
// signature bundle is passed so the sigstore_bundle mode can reuse the
// transparency bundle emitted by the external signer. Failures are
// ErrTsaUnavailable, ErrTsaRejected, or ErrTsaTimeout.
type Stamper interface {
	Stamp(ctx context.Context, payload []byte, sig *signer.Bundle) (*Token, error)
	Mode() string
}

// New constructs the configured stamper. A dev signer is required for the
// dev mode and for the rfc3161 dev-fallback; main wires a standalone dev
// key when the HSM provider is not dev.
func New(cfg config.TSAConfig, dev *signer.DevSigner) (Stamper, error) {
	switch cfg.Provider {
	case "none":
		return &NoneStamper{}, nil

	case "clock":
		return &ClockStamper{}, nil

	case "dev":
		if dev == nil {
			return nil, errors.BadRequest("TSA_PROVIDER=dev requires a dev key")
		}
		return NewDevStamper(dev, cfg.PolicyOID), nil

	case "rfc3161":
		primary, err := NewRFC3161Stamper(cfg)
		if err != nil {
			return nil, err
		}
		if !cfg.DevFallback {
			return primary, nil
		}
		if dev == nil {
			return nil, errors.BadRequest("TSA_DEV_FALLBACK requires a dev key")
		}
		return &FallbackStamper{primary: primary, dev: NewDevStamper(dev, cfg.PolicyOID)}, nil

	case "sigstore_bundle":
		return &SigstoreStamper{}, nil

	default:
		return nil, errors.BadRequest("unknown tsa provider " + cfg.Provider)
	}
}

// NoneStamper returns an empty token. Explicit dev scenarios only.
type NoneStamper struct{}

func (s *NoneStamper) Mode() string { return "none" }

func (s *NoneStamper) Stamp(ctx context.Context, payload []byte, sig *signer.Bundle) (*Token, error) {
	return &Token{Type: TypeNone}, nil
}

// ClockStamper returns the wall clock. Not a timestamp proof; verifiers
// treat it as advisory only.
type ClockStamper struct {
	// now is overridable in tests
	now func() time.Time
}

func (s *ClockStamper) Mode() string { return "clock" }

func (s *ClockStamper) Stamp(ctx context.Context, payload []byte, sig *signer.Bundle) (*Token, error) {
	nowFn := s.now
	if nowFn == nil {
		nowFn = time.Now
	}
	t := nowFn().UTC()
	return &Token{Type: TypeClock, GenTime: &t}, nil
}

// SigstoreStamper passes through the bundle emitted by the external CLI
// signer.
type SigstoreStamper struct{}

func (s *SigstoreStamper) Mode() string { return "sigstore_bundle" }

func (s *SigstoreStamper) Stamp(ctx context.Context, payload []byte, sig *signer.Bundle) (*Token, error) {
	if sig == nil || sig.BundleJSON == "" {
		return nil, errors.TsaRejected("signer did not produce a sigstore bundle")
	}
	return &Token{Type: TypeSigstore, BundleJSON: sig.BundleJSON}, nil
}
