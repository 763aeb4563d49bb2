// Package storage provides the Postgres-backed implementation of
// ledger.Store: the conditionally-written snapshot of open positions
// and aggregate risk, plus an append-only history log of closed
// positions for reporting. Uses Postgres via the pgx driver registered
// under database/sql, the same connection idiom the teacher's
// migration and maintenance commands already use.
//
// Schema (applied out of band via migration, not by this package):
//
//	CREATE TABLE ledger_state (
//	    id          SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
//	    version     BIGINT NOT NULL DEFAULT 0,
//	    accumulator JSONB NOT NULL,
//	    positions   JSONB NOT NULL,
//	    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//
//	CREATE TABLE position_history (
//	    id          BIGSERIAL PRIMARY KEY,
//	    symbol      TEXT NOT NULL,
//	    record      JSONB NOT NULL,
//	    written_at  TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
package storage
