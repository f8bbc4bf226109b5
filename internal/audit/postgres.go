package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/inkform/trustcore/internal/canonical"
	"github.com/inkform/trustcore/internal/shared/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// PostgresRepository stores the chain in trust.audit_events and seal
// records in trust.signature_evidence. The schema revokes UPDATE and DELETE
// so immutability is enforced by the store, not just by convention.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Head(ctx context.Context, envelopeID string) (*Event, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT envelope_id, seq, kind, occurred_at, payload_json, prev_event_hash, event_hash
		FROM trust.audit_events
		WHERE envelope_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`, envelopeID)

	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.StoreUnavailable(err)
	}
	return e, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, e *Event, seal *SealRecord) error {
	payloadJSON, err := canonical.Marshal(e.Payload)
	if err != nil {
		return errors.Wrap(err, "canonicalize event payload")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.StoreUnavailable(err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO trust.audit_events
			(envelope_id, seq, kind, occurred_at, payload_json, prev_event_hash, event_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.EnvelopeID, e.Seq, e.Kind, e.OccurredAt, string(payloadJSON), e.PrevEventHash, e.EventHash)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.ChainConflict(e.EnvelopeID)
		}
		return errors.StoreUnavailable(err)
	}

	if seal != nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO trust.signature_evidence
				(evidence_id, envelope_id, recipient_id, provider, algorithm,
				 signature_blob, cert_chain_json, tsa_token_json, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, seal.EvidenceID, seal.EnvelopeID, seal.RecipientID, seal.Provider, seal.Algorithm,
			seal.SignatureBlob, string(seal.CertChainJSON), string(seal.TsaTokenJSON), seal.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return errors.ChainConflict(e.EnvelopeID)
			}
			return errors.StoreUnavailable(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.StoreUnavailable(err)
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context, envelopeID string) ([]Event, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT envelope_id, seq, kind, occurred_at, payload_json, prev_event_hash, event_hash
		FROM trust.audit_events
		WHERE envelope_id = $1
		ORDER BY seq ASC
	`, envelopeID)
	if err != nil {
		return nil, errors.StoreUnavailable(err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, errors.StoreUnavailable(err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StoreUnavailable(err)
	}
	return events, nil
}

func (r *PostgresRepository) Seals(ctx context.Context, envelopeID string) ([]SealRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT evidence_id, envelope_id, recipient_id, provider, algorithm,
		       signature_blob, cert_chain_json, tsa_token_json, created_at
		FROM trust.signature_evidence
		WHERE envelope_id = $1
		ORDER BY created_at ASC
	`, envelopeID)
	if err != nil {
		return nil, errors.StoreUnavailable(err)
	}
	defer rows.Close()

	var seals []SealRecord
	for rows.Next() {
		var s SealRecord
		var certChain, tsaToken string
		if err := rows.Scan(&s.EvidenceID, &s.EnvelopeID, &s.RecipientID, &s.Provider,
			&s.Algorithm, &s.SignatureBlob, &certChain, &tsaToken, &s.CreatedAt); err != nil {
			return nil, errors.StoreUnavailable(err)
		}
		s.CertChainJSON = []byte(certChain)
		s.TsaTokenJSON = []byte(tsaToken)
		seals = append(seals, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StoreUnavailable(err)
	}
	return seals, nil
}

func scanEvent(row pgx.Row) (*Event, error) {
	var e Event
	var payloadJSON string
	if err := row.Scan(&e.EnvelopeID, &e.Seq, &e.Kind, &e.OccurredAt,
		&payloadJSON, &e.PrevEventHash, &e.EventHash); err != nil {
		return nil, err
	}
	if err := decodePayload([]byte(payloadJSON), &e.Payload); err != nil {
		return nil, fmt.Errorf("decode payload for seq %d: %w", e.Seq, err)
	}
	return &e, nil
}

// decodePayload preserves numeric literals so re-canonicalization is
// byte-stable.
func decodePayload(raw []byte, into *map[string]any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(into)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
