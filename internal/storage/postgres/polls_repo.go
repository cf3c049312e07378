package postgres

import (
	"context"

	"github.com/bwise1/quickpoll_api/internal/model"
	"github.com/bwise1/quickpoll_api/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const pollColumns = `
    id, question, options, allow_multiple_votes, max_votes_per_network,
    require_verification, closes_at, creator_device_id, created_at
`

const selectPollForUpdate = `SELECT ` + pollColumns + ` FROM polls WHERE id = $1 FOR UPDATE`

func (s *Store) CreatePoll(ctx context.Context, poll model.Poll) (model.Poll, error) {
	if poll.ID == uuid.Nil {
		poll.ID = uuid.New()
	}

	query := `
        INSERT INTO polls (
            id, question, options, allow_multiple_votes, max_votes_per_network,
            require_verification, closes_at, creator_device_id
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING ` + pollColumns

	created, err := scanPoll(s.db.Pool().QueryRow(ctx, query,
		poll.ID, poll.Question, poll.Options, poll.Settings.AllowMultipleVotes,
		poll.Settings.NetworkLimit(), poll.Settings.RequireVerification,
		poll.Settings.ClosesAt, poll.CreatorDeviceID,
	))
	if err != nil {
		return model.Poll{}, errors.Wrap(err, "insert poll")
	}
	return created, nil
}

func (s *Store) GetPoll(ctx context.Context, id uuid.UUID) (model.Poll, error) {
	return scanPoll(s.db.Pool().QueryRow(ctx, `SELECT `+pollColumns+` FROM polls WHERE id = $1`, id))
}

func scanPoll(row pgx.Row) (model.Poll, error) {
	var p model.Poll
	err := row.Scan(
		&p.ID, &p.Question, &p.Options, &p.Settings.AllowMultipleVotes,
		&p.Settings.MaxVotesPerNetwork, &p.Settings.RequireVerification,
		&p.Settings.ClosesAt, &p.CreatorDeviceID, &p.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Poll{}, storage.ErrPollNotFound
	}
	if err != nil {
		return model.Poll{}, errors.Wrap(err, "scan poll")
	}
	return p, nil
}
