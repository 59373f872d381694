package core

// Store wraps the relational persistence layer. Per spec.md §9, ORM-backed
// mutable models with implicit transactions are replaced here by explicit
// repository functions that accept a transaction handle; invariants are
// enforced inside the transaction, not by a model layer.

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the single shared mutable resource (spec.md §5): every component
// A-F mutates state only through transactions opened here.
type Store struct {
	Pool *pgxpool.Pool
}

// NewStore opens a connection pool against dsn and verifies connectivity.
func NewStore(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, TransientError("parse postgres dsn", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, TransientError("open postgres pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, TransientError("ping postgres", err)
	}
	return &Store{Pool: pool}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() { s.Pool.Close() }

// BeginSerializable opens a SERIALIZABLE transaction, used by the receipt
// flush path and action-queue transitions (spec.md §5).
func (s *Store) BeginSerializable(ctx context.Context) (pgx.Tx, error) {
	return s.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
}

// BeginRepeatableRead opens a REPEATABLE READ transaction, used by the RAV
// persist path (spec.md §5).
func (s *Store) BeginRepeatableRead(ctx context.Context) (pgx.Tx, error) {
	return s.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
}

// isNoRows reports whether err is pgx's "no matching row" sentinel.
func isNoRows(err error) bool {
	return err == pgx.ErrNoRows
}

// isSerializationFailure reports whether err is a retryable Postgres
// serialization conflict (SQLSTATE 40001), per spec.md §4.A.
func isSerializationFailure(err error) bool {
	type sqlStater interface{ SQLState() string }
	if pgErr, ok := err.(sqlStater); ok {
		return pgErr.SQLState() == "40001"
	}
	return false
}

// Schema is the set of DDL statements this module owns (spec.md §3). It is
// idempotent and intended to run once at service start, mirroring how an
// operator would apply a migration before first use.
const Schema = `
CREATE TABLE IF NOT EXISTS allocations (
	allocation_id    TEXT PRIMARY KEY,
	deployment_id    TEXT NOT NULL,
	indexer          TEXT NOT NULL,
	allocated_tokens NUMERIC NOT NULL,
	created_at_epoch BIGINT NOT NULL,
	closed_at_epoch  BIGINT,
	protocol_network TEXT NOT NULL,
	status           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS receipts (
	allocation_id   TEXT NOT NULL,
	signer_address  TEXT NOT NULL,
	id              NUMERIC NOT NULL,
	fees            NUMERIC NOT NULL,
	signature       BYTEA NOT NULL,
	timestamp_ns    NUMERIC NOT NULL,
	nonce           NUMERIC NOT NULL,
	value           NUMERIC NOT NULL,
	protocol_network TEXT NOT NULL,
	PRIMARY KEY (allocation_id, signer_address, id)
);

CREATE TABLE IF NOT EXISTS invalid_receipts (
	allocation_id   TEXT NOT NULL,
	signer_address  TEXT NOT NULL,
	id              NUMERIC NOT NULL,
	fees            NUMERIC NOT NULL,
	signature       BYTEA NOT NULL,
	timestamp_ns    NUMERIC NOT NULL,
	nonce           NUMERIC NOT NULL,
	value           NUMERIC NOT NULL,
	protocol_network TEXT NOT NULL,
	error_log       TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ravs (
	allocation_id   TEXT NOT NULL,
	sender_address  TEXT NOT NULL,
	timestamp_ns    NUMERIC NOT NULL,
	value_aggregate NUMERIC NOT NULL,
	signature       BYTEA NOT NULL,
	is_last         BOOLEAN NOT NULL DEFAULT false,
	is_final        BOOLEAN NOT NULL DEFAULT false,
	redeemed_at     TIMESTAMPTZ,
	protocol_network TEXT NOT NULL,
	PRIMARY KEY (allocation_id, sender_address)
);

CREATE TABLE IF NOT EXISTS allocation_summaries (
	allocation_id   TEXT NOT NULL,
	protocol_network TEXT NOT NULL,
	closed_at       TIMESTAMPTZ,
	collected_fees  NUMERIC NOT NULL DEFAULT 0,
	withdrawn_fees  NUMERIC NOT NULL DEFAULT 0,
	PRIMARY KEY (allocation_id, protocol_network)
);

CREATE TABLE IF NOT EXISTS actions (
	id              BIGSERIAL PRIMARY KEY,
	type            TEXT NOT NULL,
	deployment_id   TEXT NOT NULL,
	allocation_id   TEXT,
	amount          NUMERIC,
	poi             TEXT,
	force           BOOLEAN NOT NULL DEFAULT false,
	source          TEXT NOT NULL,
	reason          TEXT NOT NULL DEFAULT '',
	priority        INT NOT NULL DEFAULT 0,
	protocol_network TEXT NOT NULL,
	status          TEXT NOT NULL,
	transaction     TEXT,
	failure_reason  TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS actions_active_target
	ON actions (deployment_id, protocol_network)
	WHERE status IN ('queued', 'approved');

CREATE TABLE IF NOT EXISTS rules (
	key   TEXT PRIMARY KEY,
	kind  TEXT NOT NULL,
	value TEXT NOT NULL
);
`

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx, letting repository
// functions accept either a transaction handle or the bare pool.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
