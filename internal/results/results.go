// Package results tallies committed votes for a poll.
package results

import (
	"context"
	"math"

	"github.com/bwise1/quickpoll_api/internal/model"
	"github.com/bwise1/quickpoll_api/internal/storage"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Source is the read side of storage.Store the aggregator needs.
type Source interface {
	GetPoll(ctx context.Context, id uuid.UUID) (model.Poll, error)
	OptionCounts(ctx context.Context, pollID uuid.UUID, options int) ([]int, error)
}

var _ Source = (storage.Store)(nil)

type Aggregator struct {
	source Source
}

func New(source Source) *Aggregator {
	return &Aggregator{source: source}
}

// Results returns per-option counts in ballot order. It never takes the poll
// lock, so it runs alongside admissions and reflects every committed vote.
func (a *Aggregator) Results(ctx context.Context, pollID uuid.UUID) (model.PollResults, error) {
	poll, err := a.source.GetPoll(ctx, pollID)
	if err != nil {
		return model.PollResults{}, err
	}

	counts, err := a.source.OptionCounts(ctx, pollID, len(poll.Options))
	if err != nil {
		return model.PollResults{}, errors.Wrap(err, "count votes")
	}

	return Tally(poll, counts), nil
}

// Tally turns raw counts into results. Percentages are rounded to two
// decimal places and are all 0 when nobody has voted.
func Tally(poll model.Poll, counts []int) model.PollResults {
	out := model.PollResults{
		PollID:   poll.ID,
		Question: poll.Question,
		Options:  make([]model.OptionResult, len(poll.Options)),
	}
	for i := range poll.Options {
		if i < len(counts) {
			out.TotalVotes += counts[i]
		}
	}
	for i, label := range poll.Options {
		opt := model.OptionResult{Index: i, Label: label}
		if i < len(counts) {
			opt.Count = counts[i]
		}
		if out.TotalVotes > 0 {
			opt.Percentage = math.Round(float64(opt.Count)*10000/float64(out.TotalVotes)) / 100
		}
		out.Options[i] = opt
	}
	return out
}
