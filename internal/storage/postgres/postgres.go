// Package postgres implements storage.Store on PostgreSQL through pgx.
//
// WithPollLock opens a READ COMMITTED transaction and takes a row lock on the
// poll with SELECT ... FOR UPDATE before running the callback, so concurrent
// submissions for the same poll queue behind each other while other polls
// proceed in parallel. Every statement after the lock sees the votes committed
// by whoever held it before. Serialization failures, deadlocks and lock
// timeouts are reported as storage.ErrConflict.
package postgres

import (
	"context"
	"time"

	"github.com/bwise1/quickpoll_api/internal/db"
	"github.com/bwise1/quickpoll_api/internal/model"
	"github.com/bwise1/quickpoll_api/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

var _ storage.Store = (*Store)(nil)

// SQLSTATE codes that mean "try the transaction again".
var transientCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
}

type Store struct {
	db *db.DB
}

func New(database *db.DB) *Store {
	return &Store{db: database}
}

func (s *Store) WithPollLock(ctx context.Context, pollID uuid.UUID, fn func(storage.PollTx) error) error {
	err := s.db.RunInTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		poll, err := scanPoll(tx.QueryRow(ctx, selectPollForUpdate, pollID))
		if err != nil {
			return err
		}
		return fn(&pollTx{tx: tx, poll: poll})
	})
	return classify(err)
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && transientCodes[pgErr.Code] {
		return errors.Wrapf(storage.ErrConflict, "sqlstate %s: %s", pgErr.Code, pgErr.Message)
	}
	return err
}

type pollTx struct {
	tx   pgx.Tx
	poll model.Poll
}

func (t *pollTx) Poll() model.Poll { return t.poll }

func (t *pollTx) DeviceHasVoted(ctx context.Context, deviceID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
        SELECT EXISTS(SELECT 1 FROM votes WHERE poll_id = $1 AND device_id = $2)
    `, t.poll.ID, deviceID).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "lookup device vote")
	}
	return exists, nil
}

func (t *pollTx) NetworkActivity(ctx context.Context, networkID string, since time.Time) (storage.WindowActivity, error) {
	var (
		count  int64
		oldest *time.Time
	)
	err := t.tx.QueryRow(ctx, `
        SELECT COUNT(*), MIN(created_at)
        FROM votes
        WHERE poll_id = $1 AND network_id = $2 AND created_at >= $3
    `, t.poll.ID, networkID, since).Scan(&count, &oldest)
	if err != nil {
		return storage.WindowActivity{}, errors.Wrap(err, "count network votes")
	}

	activity := storage.WindowActivity{Count: int(count)}
	if oldest != nil {
		activity.Oldest = *oldest
	}
	return activity, nil
}

func (t *pollTx) Descriptors(ctx context.Context) ([]model.Descriptor, error) {
	rows, err := t.tx.Query(ctx, selectDescriptors, t.poll.ID)
	if err != nil {
		return nil, errors.Wrap(err, "query descriptors")
	}
	return collectDescriptors(rows)
}

func (t *pollTx) InsertVote(ctx context.Context, vote model.Vote) error {
	var descriptor []float64
	if len(vote.Descriptor) > 0 {
		descriptor = vote.Descriptor
	}
	_, err := t.tx.Exec(ctx, `
        INSERT INTO votes (
            id, poll_id, option_index, device_id, network_id, user_agent, descriptor, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `, vote.ID, t.poll.ID, vote.OptionIndex, vote.DeviceID, vote.NetworkID,
		vote.UserAgent, descriptor, vote.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "insert vote")
	}
	return nil
}
