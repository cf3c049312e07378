// Package similarity finds near-duplicate biometric descriptors within a poll.
//
// Polls hold at most a few thousand descriptors, so lookups are an exact linear
// scan rather than an approximate index.
package similarity

import (
	"context"
	"math"

	"github.com/bwise1/quickpoll_api/internal/model"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

const (
	// Dimensions is the length of every face descriptor.
	Dimensions = 128

	// Threshold is the cosine score above which two descriptors are treated
	// as the same person.
	Threshold = 0.95
)

var ErrDimension = errors.New("invalid descriptor")

type Match struct {
	VoteID uuid.UUID `json:"vote_id"`
	Score  float64   `json:"score"`
}

// IsDuplicate reports whether m is close enough to block another vote.
func (m Match) IsDuplicate() bool {
	return m.Score > Threshold
}

func ValidateDescriptor(v []float64) error {
	if len(v) != Dimensions {
		return errors.Wrapf(ErrDimension, "want %d dimensions, got %d", Dimensions, len(v))
	}
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return errors.Wrapf(ErrDimension, "component %d is not finite", i)
		}
	}
	return nil
}

// Cosine returns the cosine similarity of a and b in [-1, 1]. Vectors of
// different length or with zero magnitude score 0.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	score := floats.Dot(a, b) / (na * nb)
	return math.Max(-1, math.Min(1, score))
}

// Nearest returns the candidate most similar to q. ok is false when there
// are no candidates.
func Nearest(candidates []model.Descriptor, q []float64) (best Match, ok bool) {
	for _, c := range candidates {
		score := Cosine(c.Vector, q)
		if !ok || score > best.Score {
			best = Match{VoteID: c.VoteID, Score: score}
			ok = true
		}
	}
	return best, ok
}

// DescriptorSource yields the committed descriptors of one poll.
type DescriptorSource interface {
	PollDescriptors(ctx context.Context, pollID uuid.UUID) ([]model.Descriptor, error)
}

// Index answers nearest-neighbour queries scoped to a single poll.
type Index struct {
	source DescriptorSource
}

func NewIndex(source DescriptorSource) *Index {
	return &Index{source: source}
}

func (idx *Index) Query(ctx context.Context, pollID uuid.UUID, vector []float64) (Match, bool, error) {
	candidates, err := idx.source.PollDescriptors(ctx, pollID)
	if err != nil {
		return Match{}, false, err
	}
	m, ok := Nearest(candidates, vector)
	return m, ok, nil
}
