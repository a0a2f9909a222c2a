package streaming

import (
	"context"
	"errors"
	"fmt"

	"musicy-stream/internal/provider"
)

// Mode names a resolution strategy.
type Mode string

const (
	ModeRace       Mode = "race"
	ModeSequential Mode = "sequential"
)

// AttemptFunc calls one adapter. The resolver supplies it so that per-attempt
// timeouts, URL validation and metrics apply the same way in every mode.
type AttemptFunc func(ctx context.Context, a provider.Adapter) (provider.Result, error)

// Winner is the adapter whose result was accepted.
type Winner struct {
	Provider provider.Endpoint
	Result   provider.Result
}

// Strategy decides how adapters are combined into one resolution. Run returns
// an *ExhaustedError when no adapter succeeds.
type Strategy interface {
	Mode() Mode
	Run(ctx context.Context, id ContentID, adapters []provider.Adapter, attempt AttemptFunc) (Winner, error)
}

// NewStrategy returns the strategy for mode.
func NewStrategy(mode Mode) (Strategy, error) {
	switch mode {
	case ModeRace:
		return Race{}, nil
	case ModeSequential:
		return Sequential{}, nil
	default:
		return nil, fmt.Errorf("unknown resolve strategy %q", mode)
	}
}

// Sequential tries adapters strictly in configured order and stops at the first
// success. Once ctx ends the remaining adapters are recorded as not attempted.
type Sequential struct{}

func (Sequential) Mode() Mode { return ModeSequential }

func (s Sequential) Run(ctx context.Context, id ContentID, adapters []provider.Adapter, attempt AttemptFunc) (Winner, error) {
	failures := make([]*provider.Failure, 0, len(adapters))
	for _, a := range adapters {
		ep := a.Endpoint()
		if ctx.Err() != nil {
			failures = append(failures, &provider.Failure{
				Provider: ep.Name,
				Kind:     ep.Kind,
				Reason:   "not attempted",
				Err:      ErrNotAttempted,
			})
			continue
		}

		res, err := attempt(ctx, a)
		if err == nil {
			return Winner{Provider: ep, Result: res}, nil
		}
		failures = append(failures, asFailure(ep, err))
	}
	return Winner{}, &ExhaustedError{ContentID: id, Mode: s.Mode(), Failures: failures}
}

// Race starts every adapter at once. The first success wins and the shared
// context is cancelled so the rest abort.
type Race struct{}

func (Race) Mode() Mode { return ModeRace }

func (r Race) Run(ctx context.Context, id ContentID, adapters []provider.Adapter, attempt AttemptFunc) (Winner, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		index int
		res   provider.Result
		err   error
	}
	// Buffered so losers finishing after the winner never block.
	results := make(chan outcome, len(adapters))
	for i, a := range adapters {
		go func() {
			res, err := attempt(ctx, a)
			results <- outcome{index: i, res: res, err: err}
		}()
	}

	failures := make([]*provider.Failure, len(adapters))
	for range adapters {
		o := <-results
		if o.err == nil {
			return Winner{Provider: adapters[o.index].Endpoint(), Result: o.res}, nil
		}
		failures[o.index] = asFailure(adapters[o.index].Endpoint(), o.err)
	}
	return Winner{}, &ExhaustedError{ContentID: id, Mode: r.Mode(), Failures: failures}
}

func asFailure(ep provider.Endpoint, err error) *provider.Failure {
	var f *provider.Failure
	if errors.As(err, &f) {
		return f
	}
	return provider.NewFailure(ep, err.Error(), err)
}
