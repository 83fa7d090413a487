package providers

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/S-Corkum/prd-engine/internal/models"
	"github.com/S-Corkum/prd-engine/internal/observability"
)

const (
	// callDeadline bounds one provider call including retries
	callDeadline = 30 * time.Second

	// consecutiveFailureLimit trips a provider's breaker
	consecutiveFailureLimit = 3

	// cooldownPeriod is how long a tripped provider sits out
	cooldownPeriod = 60 * time.Second

	// transientRetries is the retry budget within one provider attempt
	transientRetries = 3
)

type providerState struct {
	provider Provider
	breaker  *gobreaker.CircuitBreaker

	mu           sync.Mutex
	lastUsed     time.Time
	failureCount int64
	totalCalls   int64
	totalLatency time.Duration
}

func (s *providerState) recordCall(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed = time.Now()
	s.totalCalls++
	s.totalLatency += d
}

func (s *providerState) recordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failureCount++
}

func (s *providerState) snapshot() (lastUsed time.Time, failures, calls int64, avg time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	avg = 0
	if s.totalCalls > 0 {
		avg = s.totalLatency / time.Duration(s.totalCalls)
	}
	return s.lastUsed, s.failureCount, s.totalCalls, avg
}

// Health is one provider's externally visible health record
type Health struct {
	Name            string        `json:"name"`
	Healthy         bool          `json:"healthy"`
	FailureCount    int64         `json:"failure_count"`
	TotalCalls      int64         `json:"total_calls"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
}

// Orchestrator routes calls to the best eligible provider. Eligibility is
// privacy-constrained; among eligible providers the highest priority wins,
// with least-recently-used breaking ties. A provider whose breaker is open
// sits out until the cooldown elapses.
type Orchestrator struct {
	states     []*providerState
	maxPrivacy PrivacyLevel
	preferred  string
	logger     observability.Logger
	metrics    *observability.MetricsClient

	// newBackOff builds the per-attempt retry policy; tests replace it to
	// avoid real exponential waits
	newBackOff func() backoff.BackOff
}

// NewOrchestrator creates an orchestrator over the given providers
func NewOrchestrator(provs []Provider, maxPrivacy PrivacyLevel, preferred string,
	logger observability.Logger, metrics *observability.MetricsClient) *Orchestrator {
	states := make([]*providerState, len(provs))
	for i, p := range provs {
		states[i] = &providerState{
			provider: p,
			breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
				Name:    p.Name(),
				Timeout: cooldownPeriod,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures >= consecutiveFailureLimit
				},
			}),
		}
	}
	return &Orchestrator{
		states:     states,
		maxPrivacy: maxPrivacy,
		preferred:  preferred,
		logger:     logger,
		metrics:    metrics,
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
}

// candidates returns eligible providers in selection order
func (o *Orchestrator) candidates(ctx context.Context) []*providerState {
	var eligible []*providerState
	for _, state := range o.states {
		if state.provider.MaxPrivacyLevel() > o.maxPrivacy {
			continue
		}
		if state.breaker.State() == gobreaker.StateOpen {
			continue
		}
		if !state.provider.IsAvailable(ctx) {
			continue
		}
		eligible = append(eligible, state)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		pi, pj := eligible[i].provider.Priority(), eligible[j].provider.Priority()
		if pi != pj {
			return pi > pj
		}
		li, _, _, _ := eligible[i].snapshot()
		lj, _, _, _ := eligible[j].snapshot()
		return li.Before(lj)
	})

	// A preferred provider jumps the queue when it is eligible at all;
	// otherwise selection falls back to priority with a warning.
	if o.preferred != "" {
		for i, state := range eligible {
			if state.provider.Name() == o.preferred {
				eligible = append([]*providerState{state}, append(eligible[:i:i], eligible[i+1:]...)...)
				return eligible
			}
		}
		o.logger.Warn("preferred provider not eligible, falling back to priority order", map[string]interface{}{
			"preferred": o.preferred,
		})
	}
	return eligible
}

// call runs fn against candidates in order: retries transient failures
// within one provider, then makes at most one fallback hop to the next.
func (o *Orchestrator) call(ctx context.Context, operation string, fn func(ctx context.Context, p Provider) error) (string, error) {
	eligible := o.candidates(ctx)
	if len(eligible) == 0 {
		return "", models.NewError(models.ErrProcessingFailed, "no eligible AI provider is available")
	}
	if len(eligible) > 2 {
		eligible = eligible[:2]
	}

	var lastErr error
	for hop, state := range eligible {
		callCtx, cancel := context.WithTimeout(ctx, callDeadline)
		started := time.Now()

		// One breaker execution per attempt: consecutive transient failures
		// inside a single call trip the breaker, so a provider rate-limiting
		// every attempt is recorded unhealthy for the cooldown period.
		attempt := func() error {
			_, err := state.breaker.Execute(func() (interface{}, error) {
				return nil, fn(callCtx, state.provider)
			})
			if err == nil {
				return nil
			}
			if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
				return backoff.Permanent(err)
			}
			state.recordFailure()
			if !models.KindOf(err).Retryable() {
				return backoff.Permanent(err)
			}
			return err
		}
		err := backoff.Retry(attempt, backoff.WithContext(
			backoff.WithMaxRetries(o.newBackOff(), transientRetries), callCtx))
		cancel()

		state.recordCall(time.Since(started))
		o.metrics.RecordTimer("providers.call.duration", time.Since(started), map[string]string{
			"provider":  state.provider.Name(),
			"operation": operation,
		})

		if err == nil {
			return state.provider.Name(), nil
		}
		lastErr = err
		o.logger.Warn("provider call failed", map[string]interface{}{
			"provider":  state.provider.Name(),
			"operation": operation,
			"hop":       hop,
			"error":     err.Error(),
		})
		if callCtx.Err() != nil && ctx.Err() != nil {
			break
		}
	}
	if models.KindOf(lastErr) == models.ErrProcessingFailed || models.KindOf(lastErr) == models.ErrTimeout {
		return "", lastErr
	}
	return "", models.WrapError(models.ErrProcessingFailed, "all eligible providers failed", lastErr)
}

// GeneratePRD routes a generation call
func (o *Orchestrator) GeneratePRD(ctx context.Context, cmd GenerateCommand, feed ContextFeed) (*GenerateResult, error) {
	var result *GenerateResult
	name, err := o.call(ctx, "generate_prd", func(ctx context.Context, p Provider) error {
		r, err := p.GeneratePRD(ctx, cmd, feed)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Provider = name
	return result, nil
}

// AnalyzeRequirements routes a requirements analysis call
func (o *Orchestrator) AnalyzeRequirements(ctx context.Context, title, description string) (*RequirementsAnalysis, error) {
	var result *RequirementsAnalysis
	_, err := o.call(ctx, "analyze_requirements", func(ctx context.Context, p Provider) error {
		r, err := p.AnalyzeRequirements(ctx, title, description)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, err
}

// AnalyzeMockupImage routes a mockup vision call
func (o *Orchestrator) AnalyzeMockupImage(ctx context.Context, cmd MockupAnalysisCommand) (*models.MockupAnalysis, error) {
	var result *models.MockupAnalysis
	_, err := o.call(ctx, "analyze_mockup", func(ctx context.Context, p Provider) error {
		r, err := p.AnalyzeMockupImage(ctx, cmd)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, err
}

// HealthReport summarizes every registered provider, eligible or not
func (o *Orchestrator) HealthReport() []Health {
	report := make([]Health, len(o.states))
	for i, state := range o.states {
		_, failures, calls, avg := state.snapshot()
		report[i] = Health{
			Name:            state.provider.Name(),
			Healthy:         state.breaker.State() != gobreaker.StateOpen,
			FailureCount:    failures,
			TotalCalls:      calls,
			AvgResponseTime: avg,
		}
	}
	return report
}
