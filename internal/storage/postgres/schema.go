// Package postgres provides PostgreSQL implementations of storage interfaces.
package postgres

// Schema contains the SQL statements to create the ledger schema.
// Every statement is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS entity_stats (
    entity_id     TEXT PRIMARY KEY,
    visits        INTEGER NOT NULL DEFAULT 0 CHECK (visits >= 0),
    total_time    DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (total_time >= 0),
    last_seen     TIMESTAMPTZ,
    session_start TIMESTAMPTZ,
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS settings (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS departures (
    id                  BIGSERIAL PRIMARY KEY,
    session_id          TEXT NOT NULL,
    entity_id           TEXT NOT NULL,
    started_at          TIMESTAMPTZ NOT NULL,
    last_seen_at        TIMESTAMPTZ NOT NULL,
    departed_at         TIMESTAMPTZ NOT NULL,
    duration_seconds    DOUBLE PRECISION NOT NULL,
    total_seconds_after DOUBLE PRECISION NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_departures_entity ON departures(entity_id, departed_at DESC);
CREATE INDEX IF NOT EXISTS idx_departures_departed_at ON departures(departed_at DESC);
`
