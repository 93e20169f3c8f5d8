// Package store persists the audit event stream and capability
// credentials in Postgres. The in-memory log remains authoritative for
// the running process; this store exists so audit collaborators can
// reconstruct state from the sequential event table alone.
package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/tlabs-xyz/tbtc-v2-sub010/pkg/audit"
	"github.com/tlabs-xyz/tbtc-v2-sub010/pkg/authn"
	"github.com/tlabs-xyz/tbtc-v2-sub010/pkg/domain"
)

type Store struct{ DB *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.DB.Exec(ctx, `
CREATE TABLE IF NOT EXISTS custody_events (
	event_id     TEXT PRIMARY KEY,
	seq          BIGINT NOT NULL,
	kind         TEXT NOT NULL,
	custodian_id TEXT NOT NULL,
	old_value    TEXT NOT NULL DEFAULT '',
	new_value    TEXT NOT NULL DEFAULT '',
	authority    TEXT NOT NULL,
	caller       TEXT NOT NULL DEFAULT '',
	reason       TEXT NOT NULL DEFAULT '',
	amount       BIGINT NOT NULL DEFAULT 0,
	at           TIMESTAMPTZ NOT NULL,
	prev_sum     TEXT NOT NULL DEFAULT '',
	sum          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS custody_events_custodian_idx
	ON custody_events (custodian_id, seq);

CREATE TABLE IF NOT EXISTS credentials (
	token_hash TEXT PRIMARY KEY,
	caller_id  TEXT NOT NULL,
	issued_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	revoked_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS capability_grants (
	caller_id  TEXT NOT NULL,
	capability TEXT NOT NULL,
	granted_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	revoked_at TIMESTAMPTZ,
	PRIMARY KEY (caller_id, capability)
);
`)
	return errors.WithStack(err)
}

// Record implements audit.Sink.
func (s *Store) Record(ctx context.Context, e audit.Event) error {
	_, err := s.DB.Exec(ctx, `
INSERT INTO custody_events (event_id, seq, kind, custodian_id, old_value, new_value, authority, caller, reason, amount, at, prev_sum, sum)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (event_id) DO NOTHING
`, e.ID, int64(e.Seq), string(e.Kind), e.CustodianID, e.Old, e.New, string(e.Authority), e.Caller, e.Reason, int64(e.Amount), e.At, e.PrevSum, e.Sum)
	return errors.WithStack(err)
}

// Events replays the persisted stream for one custodian in sequence
// order, or the full stream when custodianID is empty.
func (s *Store) Events(ctx context.Context, custodianID string) ([]audit.Event, error) {
	rows, err := s.DB.Query(ctx, `
SELECT event_id, seq, kind, custodian_id, old_value, new_value, authority, caller, reason, amount, at, prev_sum, sum
FROM custody_events
WHERE ($1 = '' OR custodian_id = $1)
ORDER BY seq ASC
`, custodianID)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	var out []audit.Event
	for rows.Next() {
		var e audit.Event
		var seq, amount int64
		var kind, authority string
		if err := rows.Scan(&e.ID, &seq, &kind, &e.CustodianID, &e.Old, &e.New, &authority, &e.Caller, &e.Reason, &amount, &e.At, &e.PrevSum, &e.Sum); err != nil {
			return nil, errors.WithStack(err)
		}
		e.Seq = uint64(seq)
		e.Amount = uint64(amount)
		e.Kind = audit.Kind(kind)
		e.Authority = domain.Authority(authority)
		out = append(out, e)
	}
	return out, errors.WithStack(rows.Err())
}

// IssueCredential mints a bearer token for a caller and grants the given
// capabilities. Only the token hash is stored.
func (s *Store) IssueCredential(ctx context.Context, callerID string, caps []domain.Capability) (string, error) {
	token := "ct_" + uuid.NewString()
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return "", errors.WithStack(err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
INSERT INTO credentials (token_hash, caller_id) VALUES ($1, $2)
`, authn.HashToken(token), callerID); err != nil {
		return "", errors.WithStack(err)
	}
	for _, c := range caps {
		if _, err := tx.Exec(ctx, `
INSERT INTO capability_grants (caller_id, capability) VALUES ($1, $2)
ON CONFLICT (caller_id, capability) DO UPDATE SET revoked_at = NULL
`, callerID, string(c)); err != nil {
			return "", errors.WithStack(err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return "", errors.WithStack(err)
	}
	return token, nil
}

// RevokeCapability marks a single grant revoked without touching the
// caller's other capabilities.
func (s *Store) RevokeCapability(ctx context.Context, callerID string, cap domain.Capability) error {
	_, err := s.DB.Exec(ctx, `
UPDATE capability_grants SET revoked_at = now()
WHERE caller_id = $1 AND capability = $2 AND revoked_at IS NULL
`, callerID, string(cap))
	return errors.WithStack(err)
}
