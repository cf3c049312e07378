// Package admission decides whether an incoming vote is recorded.
//
// Checks run cheapest first and the first failure wins:
//
//  1. the poll exists, is open and the option index is on the ballot
//  2. human verification, when configured and required or supplied
//  3. one vote per device identity, unless the poll allows more
//  4. a sliding one-hour limit per network identity
//  5. no near-identical face descriptor already recorded for the poll
//  6. insert the vote
//
// Steps 3 to 6 run inside a single storage.Store.WithPollLock transaction, so
// two racing submissions for the same poll cannot both pass a check that only
// one of them should pass. Transient storage conflicts are retried with
// exponential backoff and are never reported as duplicates.
package admission

import (
	"context"
	"time"

	"github.com/bwise1/quickpoll_api/internal/metrics"
	"github.com/bwise1/quickpoll_api/internal/model"
	"github.com/bwise1/quickpoll_api/internal/similarity"
	"github.com/bwise1/quickpoll_api/internal/storage"
	"github.com/bwise1/quickpoll_api/internal/verify"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// RateWindow is the trailing window for the per-network vote limit.
const RateWindow = time.Hour

const (
	defaultMaxAttempts     = 5
	defaultInitialInterval = 25 * time.Millisecond
)

type Verifier interface {
	Configured() bool
	Verify(ctx context.Context, proof, remoteIP string) (verify.Outcome, error)
}

type Pipeline struct {
	store    storage.Store
	verifier Verifier
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	maxAttempts     uint
	initialInterval time.Duration
	failOpen        bool
}

type Option func(*Pipeline)

func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithRetry bounds how often a transaction that hit a storage conflict is
// attempted, and the first backoff delay between attempts.
func WithRetry(maxAttempts uint, initialInterval time.Duration) Option {
	return func(p *Pipeline) {
		if maxAttempts > 0 {
			p.maxAttempts = maxAttempts
		}
		if initialInterval > 0 {
			p.initialInterval = initialInterval
		}
	}
}

// WithVerificationFailOpen lets votes on polls that require verification
// through when the verification service cannot be reached.
func WithVerificationFailOpen(failOpen bool) Option {
	return func(p *Pipeline) { p.failOpen = failOpen }
}

// New builds a pipeline. A nil or unconfigured verifier disables human
// verification for every poll.
func New(store storage.Store, verifier Verifier, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:           store,
		verifier:        verifier,
		logger:          zap.NewNop(),
		now:             time.Now,
		maxAttempts:     defaultMaxAttempts,
		initialInterval: defaultInitialInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit runs the admission checks for req and records the vote if all pass.
// Refusals are returned as *Rejection; any other error is an infrastructure
// failure.
func (p *Pipeline) Submit(ctx context.Context, req model.AdmissionRequest) (model.Accepted, error) {
	start := time.Now()
	accepted, err := p.submit(ctx, req)
	p.record(req, accepted, err, time.Since(start))
	return accepted, err
}

func (p *Pipeline) submit(ctx context.Context, req model.AdmissionRequest) (model.Accepted, error) {
	if req.DeviceID == "" || req.NetworkID == "" {
		return model.Accepted{}, reject(ReasonMissingIdentity, "A device and network identity are required to vote")
	}
	if len(req.Descriptor) > 0 {
		if err := similarity.ValidateDescriptor(req.Descriptor); err != nil {
			return model.Accepted{}, reject(ReasonInvalidDescriptor, err.Error())
		}
	}

	poll, err := p.store.GetPoll(ctx, req.PollID)
	if errors.Is(err, storage.ErrPollNotFound) {
		return model.Accepted{}, reject(ReasonPollNotFound, "Poll not found")
	}
	if err != nil {
		return model.Accepted{}, errors.Wrap(err, "load poll")
	}
	if poll.ClosedAt(p.now()) {
		return model.Accepted{}, reject(ReasonPollClosed, "This poll is closed")
	}
	if !poll.ValidOption(req.OptionIndex) {
		return model.Accepted{}, reject(ReasonInvalidOption, "Option is not on the ballot")
	}

	if err := p.checkVerification(ctx, poll, req); err != nil {
		return model.Accepted{}, err
	}

	vote := model.Vote{
		ID:          uuid.New(),
		PollID:      poll.ID,
		OptionIndex: req.OptionIndex,
		DeviceID:    req.DeviceID,
		NetworkID:   req.NetworkID,
		UserAgent:   req.UserAgent,
		Descriptor:  req.Descriptor,
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.initialInterval

	attempt := func() (model.Accepted, error) {
		err := p.store.WithPollLock(ctx, poll.ID, func(tx storage.PollTx) error {
			return p.admit(ctx, tx, &vote)
		})
		switch {
		case err == nil:
			return model.Accepted{VoteID: vote.ID}, nil
		case errors.Is(err, storage.ErrConflict):
			p.metrics.AdmissionRetried()
			p.logger.Debug("admission transaction conflict, retrying",
				zap.Stringer("poll_id", poll.ID), zap.Error(err))
			return model.Accepted{}, err
		default:
			return model.Accepted{}, backoff.Permanent(err)
		}
	}

	accepted, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(p.maxAttempts),
	)
	if err != nil {
		if _, ok := AsRejection(err); ok {
			return model.Accepted{}, err
		}
		return model.Accepted{}, errors.Wrap(err, "record vote")
	}
	return accepted, nil
}

// admit runs inside the poll lock. The poll is re-read under the lock so a
// close time or setting is never evaluated from a stale copy.
func (p *Pipeline) admit(ctx context.Context, tx storage.PollTx, vote *model.Vote) error {
	poll := tx.Poll()
	now := p.now()

	if poll.ClosedAt(now) {
		return reject(ReasonPollClosed, "This poll is closed")
	}

	if !poll.Settings.AllowMultipleVotes {
		voted, err := tx.DeviceHasVoted(ctx, vote.DeviceID)
		if err != nil {
			return err
		}
		if voted {
			return duplicate(VariantIdentity)
		}
	}

	limit := poll.Settings.NetworkLimit()
	activity, err := tx.NetworkActivity(ctx, vote.NetworkID, now.Add(-RateWindow))
	if err != nil {
		return err
	}
	if activity.Count >= limit {
		retryAfter := activity.Oldest.Add(RateWindow).Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		return rateLimited(limit, retryAfter)
	}

	if len(vote.Descriptor) > 0 {
		match, found, err := similarity.NewIndex(txDescriptors{tx}).Query(ctx, poll.ID, vote.Descriptor)
		if err != nil {
			return err
		}
		if found && match.IsDuplicate() {
			p.logger.Info("biometric duplicate detected",
				zap.Stringer("poll_id", poll.ID),
				zap.Stringer("matched_vote_id", match.VoteID),
				zap.Float64("score", match.Score))
			return duplicate(VariantBiometric)
		}
	}

	vote.CreatedAt = now
	return tx.InsertVote(ctx, *vote)
}

func (p *Pipeline) checkVerification(ctx context.Context, poll model.Poll, req model.AdmissionRequest) error {
	required := poll.Settings.RequireVerification

	if p.verifier == nil || !p.verifier.Configured() {
		if required || req.VerificationToken != "" {
			// Known abuse surface: without a secret nothing can be verified.
			p.logger.Warn("human verification skipped: verification secret not configured",
				zap.Stringer("poll_id", poll.ID), zap.Bool("required", required))
		}
		return nil
	}

	if req.VerificationToken == "" {
		if required {
			return reject(ReasonVerificationRequired, "Please complete the human verification")
		}
		return nil
	}

	outcome, err := p.verifier.Verify(ctx, req.VerificationToken, req.RemoteIP)
	if err != nil {
		if required && !p.failOpen {
			p.metrics.VerificationError("fail_closed")
			p.logger.Warn("verification service error, rejecting vote",
				zap.Stringer("poll_id", poll.ID), zap.Error(err))
			return reject(ReasonVerificationUnavailable, "Human verification is temporarily unavailable, please try again")
		}
		p.metrics.VerificationError("fail_open")
		p.logger.Warn("verification service error, continuing without verification",
			zap.Stringer("poll_id", poll.ID), zap.Bool("required", required), zap.Error(err))
		return nil
	}
	if !outcome.Success {
		p.logger.Info("verification rejected",
			zap.Stringer("poll_id", poll.ID), zap.Strings("error_codes", outcome.ErrorCodes))
		return reject(ReasonVerificationFailed, "Human verification failed")
	}
	return nil
}

func (p *Pipeline) record(req model.AdmissionRequest, accepted model.Accepted, err error, took time.Duration) {
	if err == nil {
		p.metrics.ObserveAdmission("accepted", took)
		p.logger.Info("vote admitted",
			zap.Stringer("poll_id", req.PollID),
			zap.Stringer("vote_id", accepted.VoteID),
			zap.Int("option_index", req.OptionIndex))
		return
	}
	if r, ok := AsRejection(err); ok {
		p.metrics.ObserveAdmission(string(r.Reason), took)
		p.logger.Info("vote rejected",
			zap.Stringer("poll_id", req.PollID),
			zap.String("reason", string(r.Reason)),
			zap.String("variant", string(r.Variant)))
		return
	}
	p.metrics.ObserveAdmission("error", took)
	p.logger.Error("vote admission failed", zap.Stringer("poll_id", req.PollID), zap.Error(err))
}

// txDescriptors exposes a transaction's descriptors to the similarity index
// so the nearest-neighbour query sees the same state as the insert.
type txDescriptors struct {
	tx storage.PollTx
}

func (t txDescriptors) PollDescriptors(ctx context.Context, _ uuid.UUID) ([]model.Descriptor, error) {
	return t.tx.Descriptors(ctx)
}
