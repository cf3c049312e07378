package admission

import (
	"errors"
	"fmt"
	"time"
)

type Reason string

const (
	ReasonMissingIdentity         Reason = "missing_identity"
	ReasonInvalidDescriptor       Reason = "invalid_descriptor"
	ReasonPollNotFound            Reason = "poll_not_found"
	ReasonPollClosed              Reason = "poll_closed"
	ReasonInvalidOption           Reason = "invalid_option"
	ReasonVerificationRequired    Reason = "verification_required"
	ReasonVerificationFailed      Reason = "verification_failed"
	ReasonVerificationUnavailable Reason = "verification_unavailable"
	ReasonDuplicateVote           Reason = "duplicate_vote"
	ReasonRateLimited             Reason = "rate_limited"
)

// Variant distinguishes the two ways a vote can be a duplicate.
type Variant string

const (
	VariantIdentity  Variant = "identity"
	VariantBiometric Variant = "biometric"
)

var (
	ErrMissingIdentity         = errors.New("device and network identity are required")
	ErrInvalidDescriptor       = errors.New("invalid face descriptor")
	ErrPollNotFound            = errors.New("poll not found")
	ErrPollClosed              = errors.New("poll is closed")
	ErrInvalidOption           = errors.New("invalid option")
	ErrVerificationRequired    = errors.New("human verification required")
	ErrVerificationFailed      = errors.New("human verification failed")
	ErrVerificationUnavailable = errors.New("human verification unavailable")
	ErrDuplicateVote           = errors.New("duplicate vote")
	ErrRateLimited             = errors.New("rate limited")
)

var sentinels = map[Reason]error{
	ReasonMissingIdentity:         ErrMissingIdentity,
	ReasonInvalidDescriptor:       ErrInvalidDescriptor,
	ReasonPollNotFound:            ErrPollNotFound,
	ReasonPollClosed:              ErrPollClosed,
	ReasonInvalidOption:           ErrInvalidOption,
	ReasonVerificationRequired:    ErrVerificationRequired,
	ReasonVerificationFailed:      ErrVerificationFailed,
	ReasonVerificationUnavailable: ErrVerificationUnavailable,
	ReasonDuplicateVote:           ErrDuplicateVote,
	ReasonRateLimited:             ErrRateLimited,
}

// Rejection is returned by Submit when a vote is refused. It unwraps to the
// sentinel for its Reason, so callers can match with errors.Is.
type Rejection struct {
	Reason     Reason
	Variant    Variant       // set for ReasonDuplicateVote
	Limit      int           // set for ReasonRateLimited
	RetryAfter time.Duration // set for ReasonRateLimited
	Message    string
}

func (r *Rejection) Error() string {
	return r.Message
}

func (r *Rejection) Unwrap() error {
	return sentinels[r.Reason]
}

// Retryable reports whether the same submitter may succeed later without
// changing anything but time or their verification proof.
func (r *Rejection) Retryable() bool {
	switch r.Reason {
	case ReasonVerificationRequired, ReasonVerificationFailed, ReasonVerificationUnavailable, ReasonRateLimited:
		return true
	}
	return false
}

func reject(reason Reason, message string) *Rejection {
	return &Rejection{Reason: reason, Message: message}
}

func duplicate(variant Variant) *Rejection {
	msg := "You have already voted in this poll"
	if variant == VariantBiometric {
		msg = "A vote from this person has already been recorded in this poll"
	}
	return &Rejection{Reason: ReasonDuplicateVote, Variant: variant, Message: msg}
}

func rateLimited(limit int, retryAfter time.Duration) *Rejection {
	return &Rejection{
		Reason:     ReasonRateLimited,
		Limit:      limit,
		RetryAfter: retryAfter,
		Message:    fmt.Sprintf("Too many votes from your network: the limit is %d per hour", limit),
	}
}

// AsRejection extracts the Rejection from err, if there is one.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	ok := errors.As(err, &r)
	return r, ok
}
