package valuation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/godilite/valuation-server/internal/benchmark"
	"github.com/godilite/valuation-server/internal/metrics"
	"github.com/godilite/valuation-server/internal/questionnaire"
)

const defaultMethodologyTimeout = 250 * time.Millisecond

// Runner evaluates a methodology set concurrently over one immutable fact set.
type Runner struct {
	methodologies []Methodology
	timeout       time.Duration
	logger        *zap.Logger
}

// NewRunner creates a Runner. A non-positive timeout uses the default; an
// empty set uses DefaultMethodologies.
func NewRunner(logger *zap.Logger, timeout time.Duration, methodologies ...Methodology) *Runner {
	if logger == nil {
		l, _ := zap.NewProduction()
		logger = l
	}
	if timeout <= 0 {
		timeout = defaultMethodologyTimeout
	}
	if len(methodologies) == 0 {
		methodologies = DefaultMethodologies()
	}
	return &Runner{
		methodologies: methodologies,
		timeout:       timeout,
		logger:        logger.Named("valuation"),
	}
}

// Methodology returns the methodology registered under id.
func (r *Runner) Methodology(id string) (Methodology, bool) {
	for _, m := range r.methodologies {
		if m.ID() == id {
			return m, true
		}
	}
	return nil, false
}

// Run returns the applicable estimates in set order. A methodology that
// errors, panics or exceeds the timeout is logged and left out. Cancelling
// ctx stops the remaining methodologies and returns what already finished.
func (r *Runner) Run(ctx context.Context, facts questionnaire.Facts, profile benchmark.Profile) []Estimate {
	results := make([]*Estimate, len(r.methodologies))

	g, gctx := errgroup.WithContext(ctx)
	for i, m := range r.methodologies {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			est, err := r.runOne(gctx, m, facts, profile)
			if err != nil {
				if cerr := gctx.Err(); cerr != nil {
					return cerr
				}
				if !errors.Is(err, ErrInapplicable) {
					r.logger.Warn("methodology excluded",
						zap.String("methodology", m.ID()),
						zap.String("industry", facts.Industry()),
						zap.Error(err))
					metrics.ObserveMethodologyFailure(m.ID(), failureReason(err))
				}
				return nil
			}
			if est.Applicable {
				results[i] = &est
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.logger.Warn("methodology run canceled",
			zap.String("industry", facts.Industry()),
			zap.Error(err))
	}

	out := make([]Estimate, 0, len(results))
	for _, est := range results {
		if est != nil {
			out = append(out, *est)
		}
	}
	return out
}

type outcome struct {
	est Estimate
	err error
}

func (r *Runner) runOne(ctx context.Context, m Methodology, facts questionnaire.Facts, profile benchmark.Profile) (Estimate, error) {
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("%w: %v", ErrPanicked, p)}
			}
		}()
		if !m.Applicable(facts, profile) {
			done <- outcome{err: ErrInapplicable}
			return
		}
		est, err := m.Estimate(facts, profile)
		done <- outcome{est: est, err: err}
	}()

	tctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	select {
	case o := <-done:
		if o.err != nil {
			return Estimate{}, o.err
		}
		return o.est, checkEstimate(o.est)
	case <-tctx.Done():
		return Estimate{}, fmt.Errorf("%w: %v", ErrTimedOut, tctx.Err())
	}
}

func checkEstimate(est Estimate) error {
	if !est.Applicable {
		return nil
	}
	if math.IsNaN(est.PointValue) || math.IsInf(est.PointValue, 0) || est.PointValue <= 0 {
		return fmt.Errorf("%w: point value %v", ErrMalformedInput, est.PointValue)
	}
	if math.IsNaN(est.Confidence) || est.Confidence < 0 || est.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v", ErrMalformedInput, est.Confidence)
	}
	if math.IsNaN(est.Weight) || est.Weight < 0 || est.Weight > 1 {
		return fmt.Errorf("%w: weight %v", ErrMalformedInput, est.Weight)
	}
	return nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrPanicked):
		return metrics.ReasonPanic
	case errors.Is(err, ErrTimedOut):
		return metrics.ReasonTimeout
	default:
		return metrics.ReasonError
	}
}
