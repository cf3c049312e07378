// Package storage defines the persistence contract the admission pipeline and
// results aggregator are written against.
//
// Concurrency discipline: every write happens inside WithPollLock, which holds
// an exclusive per-poll lock for the whole transaction. Duplicate lookups,
// window counts, descriptor scans and the insert therefore observe one
// consistent state and cannot interleave with another submission for the
// same poll. Implementations report transient failures to take that lock or
// commit (serialization failures, deadlocks, lock timeouts) as ErrConflict so
// callers can retry.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bwise1/quickpoll_api/internal/model"
	"github.com/google/uuid"
)

var (
	ErrPollNotFound = errors.New("poll not found")
	ErrConflict     = errors.New("transaction conflict")
)

// WindowActivity summarises votes from one network identity inside a window.
type WindowActivity struct {
	Count  int
	Oldest time.Time // zero when Count is 0
}

type Store interface {
	CreatePoll(ctx context.Context, poll model.Poll) (model.Poll, error)
	GetPoll(ctx context.Context, id uuid.UUID) (model.Poll, error)
	HasVoted(ctx context.Context, pollID uuid.UUID, deviceID string) (bool, error)
	// OptionCounts returns committed vote counts indexed by option position.
	OptionCounts(ctx context.Context, pollID uuid.UUID, options int) ([]int, error)
	PollDescriptors(ctx context.Context, pollID uuid.UUID) ([]model.Descriptor, error)
	// WithPollLock runs fn in a transaction holding the poll's lock. Changes
	// made through the PollTx become visible only if fn returns nil.
	WithPollLock(ctx context.Context, pollID uuid.UUID, fn func(PollTx) error) error
}

// PollTx is only valid inside the WithPollLock callback that received it.
type PollTx interface {
	Poll() model.Poll
	DeviceHasVoted(ctx context.Context, deviceID string) (bool, error)
	NetworkActivity(ctx context.Context, networkID string, since time.Time) (WindowActivity, error)
	Descriptors(ctx context.Context) ([]model.Descriptor, error)
	InsertVote(ctx context.Context, vote model.Vote) error
}
