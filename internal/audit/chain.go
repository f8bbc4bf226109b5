package audit

import (
	"context"
	"sync"
	"time"

	"github.com/inkform/trustcore/internal/canonical"
	"github.com/inkform/trustcore/internal/shared/errors"
	"github.com/inkform/trustcore/internal/shared/metrics"
)

// Verification is the result of recomputing a chain. FirstBadSeq is the
// earliest tampered or mislinked event when OK is false.
type Verification struct {
	OK          bool   `json:"ok"`
	FirstBadSeq *int64 `json:"firstBadSeq,omitempty"`
}

// Chain serializes appends per envelope and computes the hash linkage.
// Appending to one envelope is strictly serialized; operations on distinct
// envelopes proceed concurrently.
type Chain struct {
	repo Repository

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	// now is overridable in tests
	now func() time.Time
}

func NewChain(repo Repository) *Chain {
	return &Chain{
		repo:  repo,
		locks: make(map[string]*sync.Mutex),
		now:   time.Now,
	}
}

func (c *Chain) envelopeLock(envelopeID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.locks[envelopeID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[envelopeID] = l
	}
	return l
}

// Append chains a new event onto an envelope.
func (c *Chain) Append(ctx context.Context, envelopeID, kind string, payload map[string]any) (*Event, error) {
	return c.AppendSealed(ctx, envelopeID, kind, payload, nil)
}

// AppendSealed chains a new event and, when seal is non-nil, persists the
// seal record atomically with it. The seal's EvidenceID is set to the
// event's hash. A stale head is retried internally once, then surfaced as
// ErrChainConflict.
func (c *Chain) AppendSealed(ctx context.Context, envelopeID, kind string, payload map[string]any, seal *SealRecord) (*Event, error) {
	// Reject unrepresentable payloads before taking the lock or touching
	// the store.
	if _, err := canonical.Marshal(payload); err != nil {
		return nil, err
	}

	l := c.envelopeLock(envelopeID)
	l.Lock()
	defer l.Unlock()

	e, err := c.buildAndInsert(ctx, envelopeID, kind, payload, seal)
	if errors.Is(err, errors.ErrChainConflict) {
		e, err = c.buildAndInsert(ctx, envelopeID, kind, payload, seal)
	}
	if err != nil {
		return nil, err
	}

	metrics.RecordAuditEvent(kind)
	return e, nil
}

func (c *Chain) buildAndInsert(ctx context.Context, envelopeID, kind string, payload map[string]any, seal *SealRecord) (*Event, error) {
	head, err := c.repo.Head(ctx, envelopeID)
	if err != nil {
		return nil, err
	}

	seq := int64(0)
	prev := GenesisPrevHash
	occurredAt := c.now().UTC().Truncate(time.Microsecond)
	if head != nil {
		seq = head.Seq + 1
		prev = head.EventHash
		// occurredAt is non-decreasing within an envelope; ties allowed.
		if occurredAt.Before(head.OccurredAt) {
			occurredAt = head.OccurredAt
		}
	}

	canonicalPayload, err := canonical.Marshal(payload)
	if err != nil {
		return nil, err
	}

	e := &Event{
		Seq:           seq,
		EnvelopeID:    envelopeID,
		Kind:          kind,
		OccurredAt:    occurredAt,
		Payload:       payload,
		PrevEventHash: prev,
		EventHash:     ComputeEventHash(prev, canonicalPayload),
	}

	if seal != nil {
		seal.EvidenceID = e.EventHash
		seal.EnvelopeID = envelopeID
		seal.CreatedAt = occurredAt
	}

	if err := c.repo.Insert(ctx, e, seal); err != nil {
		return nil, err
	}
	return e, nil
}

// Head returns the latest event of an envelope, nil when empty.
func (c *Chain) Head(ctx context.Context, envelopeID string) (*Event, error) {
	return c.repo.Head(ctx, envelopeID)
}

// Verify recomputes every hash and checks linkage and seq contiguity.
// Corruption does not stop new appends; operators must investigate.
func (c *Chain) Verify(ctx context.Context, envelopeID string) (*Verification, error) {
	events, err := c.repo.List(ctx, envelopeID)
	if err != nil {
		return nil, err
	}

	expectedPrev := GenesisPrevHash
	for i, e := range events {
		bad := e.Seq != int64(i) || e.PrevEventHash != expectedPrev
		if !bad {
			recomputed, err := e.Recompute()
			if err != nil {
				bad = true
			} else {
				bad = recomputed != e.EventHash
			}
		}
		if bad {
			firstBad := e.Seq
			metrics.RecordChainVerification("corrupt")
			return &Verification{OK: false, FirstBadSeq: &firstBad}, nil
		}
		expectedPrev = e.EventHash
	}

	metrics.RecordChainVerification("ok")
	return &Verification{OK: true}, nil
}

// Export returns the full ordered chain for audit download.
func (c *Chain) Export(ctx context.Context, envelopeID string) ([]Event, error) {
	return c.repo.List(ctx, envelopeID)
}

// Seals returns the envelope's signature evidence records.
func (c *Chain) Seals(ctx context.Context, envelopeID string) ([]SealRecord, error) {
	return c.repo.Seals(ctx, envelopeID)
}
