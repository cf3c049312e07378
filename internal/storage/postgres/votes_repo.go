package postgres

import (
	"context"

	"github.com/bwise1/quickpoll_api/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const selectDescriptors = `
    SELECT id, descriptor
    FROM votes
    WHERE poll_id = $1 AND descriptor IS NOT NULL
`

func (s *Store) HasVoted(ctx context.Context, pollID uuid.UUID, deviceID string) (bool, error) {
	var exists bool
	err := s.db.Pool().QueryRow(ctx, `
        SELECT EXISTS(SELECT 1 FROM votes WHERE poll_id = $1 AND device_id = $2)
    `, pollID, deviceID).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "lookup device vote")
	}
	return exists, nil
}

// OptionCounts aggregates in one statement so the counts come from a single
// snapshot and never wait on writers.
func (s *Store) OptionCounts(ctx context.Context, pollID uuid.UUID, options int) ([]int, error) {
	rows, err := s.db.Pool().Query(ctx, `
        SELECT option_index, COUNT(*)
        FROM votes
        WHERE poll_id = $1
        GROUP BY option_index
    `, pollID)
	if err != nil {
		return nil, errors.Wrap(err, "count votes")
	}
	defer rows.Close()

	counts := make([]int, options)
	for rows.Next() {
		var (
			index int
			count int64
		)
		if err := rows.Scan(&index, &count); err != nil {
			return nil, errors.Wrap(err, "scan vote count")
		}
		if index >= 0 && index < options {
			counts[index] = int(count)
		}
	}
	return counts, rows.Err()
}

func (s *Store) PollDescriptors(ctx context.Context, pollID uuid.UUID) ([]model.Descriptor, error) {
	rows, err := s.db.Pool().Query(ctx, selectDescriptors, pollID)
	if err != nil {
		return nil, errors.Wrap(err, "query descriptors")
	}
	return collectDescriptors(rows)
}

func collectDescriptors(rows pgx.Rows) ([]model.Descriptor, error) {
	defer rows.Close()

	var out []model.Descriptor
	for rows.Next() {
		var d model.Descriptor
		if err := rows.Scan(&d.VoteID, &d.Vector); err != nil {
			return nil, errors.Wrap(err, "scan descriptor")
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
