package tsa

import (
	"context"

	"github.com/inkform/trustcore/internal/shared/logger"
	"github.com/inkform/trustcore/internal/shared/metrics"
	"github.com/inkform/trustcore/internal/signer"
)

// FallbackStamper substitutes the dev TSA when the RFC 3161 authority
// fails. The downgrade is never silent: the token carries
// fallbackFromRfc3161=true and a metric counts every substitution.
type FallbackStamper struct {
	primary *RFC3161Stamper
	dev     *DevStamper
}

func (s *FallbackStamper) Mode() string { return "rfc3161" }

func (s *FallbackStamper) Stamp(ctx context.Context, payload []byte, sig *signer.Bundle) (*Token, error) {
	token, err := s.primary.Stamp(ctx, payload, sig)
	if err == nil {
		return token, nil
	}

	logger.Warn(ctx, "rfc3161 tsa failed, falling back to dev tsa", "error", err.Error())
	metrics.RecordTSAFallback()

	token, devErr := s.dev.stamp(ctx, payload, true)
	if devErr != nil {
		// The primary failure is the one operators need to see.
		return nil, err
	}
	return token, nil
}
