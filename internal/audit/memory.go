package audit

import (
	"context"
	"sync"

	"github.com/inkform/trustcore/internal/canonical"
	"github.com/inkform/trustcore/internal/shared/errors"
)

// MemoryRepository mirrors the Postgres semantics in memory, including the
// (envelope_id, seq) uniqueness check. Used by tests and STORE_BACKEND=memory.
type MemoryRepository struct {
	mu     sync.RWMutex
	chains map[string][]Event
	seals  map[string][]SealRecord
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		chains: make(map[string][]Event),
		seals:  make(map[string][]SealRecord),
	}
}

func (r *MemoryRepository) Head(ctx context.Context, envelopeID string) (*Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chain := r.chains[envelopeID]
	if len(chain) == 0 {
		return nil, nil
	}
	head := chain[len(chain)-1]
	return &head, nil
}

func (r *MemoryRepository) Insert(ctx context.Context, e *Event, seal *SealRecord) error {
	// Round-trip the payload through its canonical form so stored events
	// behave like rows read back from the database.
	payloadJSON, err := canonical.Marshal(e.Payload)
	if err != nil {
		return errors.Wrap(err, "canonicalize event payload")
	}
	stored := *e
	if err := decodePayload(payloadJSON, &stored.Payload); err != nil {
		return errors.StoreUnavailable(err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	chain := r.chains[e.EnvelopeID]
	if int64(len(chain)) != e.Seq {
		return errors.ChainConflict(e.EnvelopeID)
	}

	r.chains[e.EnvelopeID] = append(chain, stored)
	if seal != nil {
		r.seals[e.EnvelopeID] = append(r.seals[e.EnvelopeID], *seal)
	}
	return nil
}

func (r *MemoryRepository) List(ctx context.Context, envelopeID string) ([]Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chain := r.chains[envelopeID]
	out := make([]Event, len(chain))
	copy(out, chain)
	return out, nil
}

func (r *MemoryRepository) Seals(ctx context.Context, envelopeID string) ([]SealRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seals := r.seals[envelopeID]
	out := make([]SealRecord, len(seals))
	copy(out, seals)
	return out, nil
}

// Tamper overwrites a stored event's payload in place, bypassing the
// append-only rule. Test hook for verifying tamper detection; the Postgres
// schema blocks the equivalent UPDATE.
func (r *MemoryRepository) Tamper(envelopeID string, seq int64, payload map[string]any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	chain := r.chains[envelopeID]
	if seq < 0 || seq >= int64(len(chain)) {
		return false
	}
	chain[seq].Payload = payload
	return true
}
