package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	MinOptions = 2
	MaxOptions = 10

	// DefaultMaxVotesPerNetwork applies when a poll leaves the limit unset or non-positive.
	DefaultMaxVotesPerNetwork = 3
)

type PollSettings struct {
	AllowMultipleVotes  bool       `json:"allow_multiple_votes"`
	MaxVotesPerNetwork  int        `json:"max_votes_per_network"`
	RequireVerification bool       `json:"require_verification"`
	ClosesAt            *time.Time `json:"closes_at,omitempty"`
}

// NetworkLimit is the number of votes one network identity may cast on the
// poll inside the sliding window.
func (s PollSettings) NetworkLimit() int {
	if s.MaxVotesPerNetwork <= 0 {
		return DefaultMaxVotesPerNetwork
	}
	return s.MaxVotesPerNetwork
}

type Poll struct {
	ID              uuid.UUID    `json:"id"`
	Question        string       `json:"question"`
	Options         []string     `json:"options"` // ballot order; votes reference these indexes
	Settings        PollSettings `json:"settings"`
	CreatorDeviceID *string      `json:"-"`
	CreatedAt       time.Time    `json:"created_at"`
}

func (p Poll) ValidOption(index int) bool {
	return index >= 0 && index < len(p.Options)
}

// ClosedAt reports whether the poll stopped accepting votes at or before now.
func (p Poll) ClosedAt(now time.Time) bool {
	return p.Settings.ClosesAt != nil && !now.Before(*p.Settings.ClosesAt)
}

type CreatePollRequest struct {
	Question            string     `json:"question" validate:"required,notblank,max=500"`
	Options             []string   `json:"options" validate:"required,min=2,max=10,unique,dive,required,notblank,max=200"`
	AllowMultipleVotes  bool       `json:"allow_multiple_votes"`
	MaxVotesPerNetwork  int        `json:"max_votes_per_network" validate:"gte=0,lte=10000"`
	RequireVerification bool       `json:"require_verification"`
	ClosesAt            *time.Time `json:"closes_at,omitempty" validate:"omitempty,future"`
	CreatorDeviceID     string     `json:"creator_device_id,omitempty" validate:"omitempty,max=256"`
}

func (req CreatePollRequest) Poll() Poll {
	p := Poll{
		Question: req.Question,
		Options:  req.Options,
		Settings: PollSettings{
			AllowMultipleVotes:  req.AllowMultipleVotes,
			MaxVotesPerNetwork:  req.MaxVotesPerNetwork,
			RequireVerification: req.RequireVerification,
			ClosesAt:            req.ClosesAt,
		},
	}
	if req.CreatorDeviceID != "" {
		creator := req.CreatorDeviceID
		p.CreatorDeviceID = &creator
	}
	return p
}
