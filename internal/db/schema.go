package db

import (
	"context"

	"github.com/pkg/errors"
)

// CreateSchema creates all tables and indexes. Safe to call on every start.
func (db *DB) CreateSchema(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return errors.Wrap(err, "create schema")
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS polls (
    id UUID PRIMARY KEY,
    question TEXT NOT NULL,
    options TEXT[] NOT NULL CHECK (cardinality(options) BETWEEN 2 AND 10),
    allow_multiple_votes BOOLEAN NOT NULL DEFAULT FALSE,
    max_votes_per_network INTEGER NOT NULL DEFAULT 3,
    require_verification BOOLEAN NOT NULL DEFAULT FALSE,
    closes_at TIMESTAMPTZ,
    creator_device_id TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS votes (
    id UUID PRIMARY KEY,
    poll_id UUID NOT NULL REFERENCES polls(id),
    option_index INTEGER NOT NULL CHECK (option_index >= 0),
    device_id TEXT NOT NULL,
    network_id TEXT NOT NULL,
    user_agent TEXT,
    descriptor DOUBLE PRECISION[],
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_votes_poll_id ON votes(poll_id);
CREATE INDEX IF NOT EXISTS idx_votes_poll_device ON votes(poll_id, device_id);
CREATE INDEX IF NOT EXISTS idx_votes_poll_network_created ON votes(poll_id, network_id, created_at);
`
