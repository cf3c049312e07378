package model

import (
	"time"

	"github.com/google/uuid"
)

// Vote is immutable once written.
type Vote struct {
	ID          uuid.UUID `json:"id"`
	PollID      uuid.UUID `json:"poll_id"`
	OptionIndex int       `json:"option_index"`
	DeviceID    string    `json:"-"`
	NetworkID   string    `json:"-"`
	UserAgent   string    `json:"-"`
	Descriptor  []float64 `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// Descriptor is a committed biometric vector and the vote it belongs to.
type Descriptor struct {
	VoteID uuid.UUID
	Vector []float64
}

// AdmissionRequest is one incoming vote before any check has run.
type AdmissionRequest struct {
	PollID            uuid.UUID
	OptionIndex       int
	DeviceID          string
	NetworkID         string
	RemoteIP          string // forwarded to the verification service only
	UserAgent         string
	VerificationToken string
	Descriptor        []float64
}

type Accepted struct {
	VoteID uuid.UUID `json:"vote_id"`
}

type CastVoteRequest struct {
	OptionIndex       *int      `json:"option_index" validate:"required"`
	DeviceID          string    `json:"device_id" validate:"omitempty,max=256"`
	VerificationToken string    `json:"verification_token,omitempty" validate:"omitempty,max=8192"`
	FaceDescriptor    []float64 `json:"face_descriptor,omitempty" validate:"omitempty,descriptor"`
}

type HasVotedResponse struct {
	PollID   uuid.UUID `json:"poll_id"`
	HasVoted bool      `json:"has_voted"`
}
