// Package memory provides an in-memory implementation of storage.Store used
// for tests and ephemeral runs.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/bwise1/quickpoll_api/internal/model"
	"github.com/bwise1/quickpoll_api/internal/storage"
	"github.com/google/uuid"
)

var _ storage.Store = (*Store)(nil)

type Store struct {
	mu      sync.RWMutex // guards polls, votes and devices
	polls   map[uuid.UUID]model.Poll
	votes   map[uuid.UUID][]model.Vote
	devices map[uuid.UUID]map[string]struct{}

	lockMu sync.Mutex
	locks  map[uuid.UUID]chan struct{} // one-slot semaphore per poll
}

func New() *Store {
	return &Store{
		polls:   make(map[uuid.UUID]model.Poll),
		votes:   make(map[uuid.UUID][]model.Vote),
		devices: make(map[uuid.UUID]map[string]struct{}),
		locks:   make(map[uuid.UUID]chan struct{}),
	}
}

func (s *Store) CreatePoll(_ context.Context, poll model.Poll) (model.Poll, error) {
	if poll.ID == uuid.Nil {
		poll.ID = uuid.New()
	}
	if poll.CreatedAt.IsZero() {
		poll.CreatedAt = time.Now().UTC()
	}
	poll.Options = append([]string(nil), poll.Options...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls[poll.ID] = poll
	return poll, nil
}

func (s *Store) GetPoll(_ context.Context, id uuid.UUID) (model.Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	poll, ok := s.polls[id]
	if !ok {
		return model.Poll{}, storage.ErrPollNotFound
	}
	return poll, nil
}

func (s *Store) HasVoted(_ context.Context, pollID uuid.UUID, deviceID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.devices[pollID][deviceID]
	return ok, nil
}

func (s *Store) OptionCounts(_ context.Context, pollID uuid.UUID, options int) ([]int, error) {
	counts := make([]int, options)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.votes[pollID] {
		if v.OptionIndex >= 0 && v.OptionIndex < options {
			counts[v.OptionIndex]++
		}
	}
	return counts, nil
}

func (s *Store) PollDescriptors(_ context.Context, pollID uuid.UUID) ([]model.Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return descriptors(s.votes[pollID]), nil
}

// WithPollLock serialises callers per poll. A caller waiting for the poll
// gives up with ctx's error when ctx ends first. Inserts are buffered and
// appended to the committed set only when fn succeeds.
func (s *Store) WithPollLock(ctx context.Context, pollID uuid.UUID, fn func(storage.PollTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	lock := s.pollLock(pollID)
	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-lock }()

	poll, err := s.GetPoll(ctx, pollID)
	if err != nil {
		return err
	}

	tx := &pollTx{store: s, poll: poll}
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.votes[pollID] = append(s.votes[pollID], tx.pending...)
	if len(tx.pending) > 0 && s.devices[pollID] == nil {
		s.devices[pollID] = make(map[string]struct{})
	}
	for _, v := range tx.pending {
		s.devices[pollID][v.DeviceID] = struct{}{}
	}
	return nil
}

func (s *Store) pollLock(pollID uuid.UUID) chan struct{} {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[pollID]
	if !ok {
		lock = make(chan struct{}, 1)
		s.locks[pollID] = lock
	}
	return lock
}

type pollTx struct {
	store   *Store
	poll    model.Poll
	pending []model.Vote
}

func (tx *pollTx) Poll() model.Poll { return tx.poll }

// view returns committed votes followed by this transaction's pending ones.
func (tx *pollTx) view() []model.Vote {
	tx.store.mu.RLock()
	committed := tx.store.votes[tx.poll.ID]
	all := make([]model.Vote, 0, len(committed)+len(tx.pending))
	all = append(all, committed...)
	tx.store.mu.RUnlock()
	return append(all, tx.pending...)
}

func (tx *pollTx) DeviceHasVoted(ctx context.Context, deviceID string) (bool, error) {
	if ok, _ := tx.store.HasVoted(ctx, tx.poll.ID, deviceID); ok {
		return true, nil
	}
	for _, v := range tx.pending {
		if v.DeviceID == deviceID {
			return true, nil
		}
	}
	return false, nil
}

func (tx *pollTx) NetworkActivity(_ context.Context, networkID string, since time.Time) (storage.WindowActivity, error) {
	var activity storage.WindowActivity
	for _, v := range tx.view() {
		if v.NetworkID != networkID || v.CreatedAt.Before(since) {
			continue
		}
		activity.Count++
		if activity.Oldest.IsZero() || v.CreatedAt.Before(activity.Oldest) {
			activity.Oldest = v.CreatedAt
		}
	}
	return activity, nil
}

func (tx *pollTx) Descriptors(_ context.Context) ([]model.Descriptor, error) {
	return descriptors(tx.view()), nil
}

func (tx *pollTx) InsertVote(_ context.Context, vote model.Vote) error {
	if vote.ID == uuid.Nil {
		vote.ID = uuid.New()
	}
	vote.PollID = tx.poll.ID
	vote.Descriptor = append([]float64(nil), vote.Descriptor...)
	tx.pending = append(tx.pending, vote)
	return nil
}

func descriptors(votes []model.Vote) []model.Descriptor {
	var out []model.Descriptor
	for _, v := range votes {
		if len(v.Descriptor) == 0 {
			continue
		}
		out = append(out, model.Descriptor{VoteID: v.ID, Vector: v.Descriptor})
	}
	return out
}
