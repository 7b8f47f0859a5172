// Package strategy scores proposals to decide which providers to negotiate
// with. Strategies compose: wrappers adjust an inner strategy's score from
// observed negotiation history.
package strategy

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/gridnode/gridnode/pkg/events"
	"github.com/gridnode/gridnode/pkg/rest"
)

// Strategy assigns a score to a proposal snapshot. Higher is better;
// negative scores mark proposals not worth pursuing.
type Strategy interface {
	Score(ctx context.Context, proposal *rest.ProposalData) (float64, error)
}

// PriceProperty is the proposal property carrying the provider's hourly
// rate.
const PriceProperty = "grid.com.pricing.rate"

// LeastExpensive prefers cheaper providers: the score is the negated hourly
// rate. Proposals without a parseable rate score at MissingPriceScore.
type LeastExpensive struct {
	// MissingPriceScore is used when the proposal carries no rate.
	MissingPriceScore float64
}

// Score implements Strategy.
func (s LeastExpensive) Score(_ context.Context, proposal *rest.ProposalData) (float64, error) {
	if proposal == nil {
		return 0, fmt.Errorf("score: no proposal data")
	}
	raw, ok := proposal.Properties[PriceProperty]
	if !ok {
		return s.MissingPriceScore, nil
	}
	var rate float64
	switch v := raw.(type) {
	case float64:
		rate = v
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return s.MissingPriceScore, nil
		}
		rate = parsed
	default:
		return s.MissingPriceScore, nil
	}
	return -rate, nil
}

// DecreaseScoreForUnconfirmed dampens the inner strategy's score for
// providers that walked away from agreements. Every rejected agreement
// counts against its provider; a confirmed agreement clears the provider's
// record entirely.
type DecreaseScoreForUnconfirmed struct {
	base   Strategy
	factor float64

	mu         sync.Mutex
	rejections map[string]int
}

// NewDecreaseScoreForUnconfirmed wraps base. factor multiplies the score of
// any provider with at least one unconfirmed agreement on record.
func NewDecreaseScoreForUnconfirmed(base Strategy, factor float64) *DecreaseScoreForUnconfirmed {
	return &DecreaseScoreForUnconfirmed{
		base:       base,
		factor:     factor,
		rejections: make(map[string]int),
	}
}

// Score implements Strategy.
func (s *DecreaseScoreForUnconfirmed) Score(ctx context.Context, proposal *rest.ProposalData) (float64, error) {
	score, err := s.base.Score(ctx, proposal)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if proposal != nil && s.rejections[proposal.IssuerID] > 0 {
		score *= s.factor
	}
	return score, nil
}

// RejectionCount returns the provider's current unconfirmed-agreement count.
func (s *DecreaseScoreForUnconfirmed) RejectionCount(providerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rejections[providerID]
}

// ConsumeEvent updates the per-provider record from one bus event. Events
// other than agreement outcomes are ignored.
func (s *DecreaseScoreForUnconfirmed) ConsumeEvent(ev events.Event) {
	switch e := ev.(type) {
	case events.AgreementRejected:
		s.mu.Lock()
		s.rejections[e.ProviderID]++
		s.mu.Unlock()
	case events.AgreementConfirmed:
		s.mu.Lock()
		s.rejections[e.ProviderID] = 0
		s.mu.Unlock()
	}
}

// Attach subscribes the wrapper to the bus and consumes agreement outcomes
// until ctx is cancelled.
func (s *DecreaseScoreForUnconfirmed) Attach(ctx context.Context, bus *events.Bus) {
	id, queue := bus.Subscribe()
	go func() {
		defer bus.Unsubscribe(id)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-queue:
				if !ok {
					return
				}
				s.ConsumeEvent(ev)
			}
		}
	}()
}
