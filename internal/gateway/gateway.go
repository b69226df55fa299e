/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/blnkfinance/onboarding/config"
)

// Policy is the resilience configuration of one downstream.
type Policy struct {
	// Timeout bounds the whole call including retries and back-off waits.
	Timeout time.Duration
	// AttemptTimeout bounds a single attempt. Zero means only Timeout applies.
	AttemptTimeout      time.Duration
	MaxAttempts         int
	InitialBackoff      time.Duration
	MaxBackoff          time.Duration
	Multiplier          float64
	RandomizationFactor float64
	FailureThreshold    uint32
	Window              time.Duration
	Cooldown            time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		Timeout:             10 * time.Second,
		MaxAttempts:         3,
		InitialBackoff:      200 * time.Millisecond,
		MaxBackoff:          5 * time.Second,
		Multiplier:          2,
		RandomizationFactor: 0.5,
		FailureThreshold:    5,
		Window:              time.Minute,
		Cooldown:            30 * time.Second,
	}
}

func PolicyFromConfig(cfg config.GatewayConfig) Policy {
	p := DefaultPolicy()
	if cfg.Timeout > 0 {
		p.Timeout = cfg.Timeout
	}
	p.AttemptTimeout = cfg.AttemptTimeout
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialBackoff > 0 {
		p.InitialBackoff = cfg.InitialBackoff
	}
	if cfg.MaxBackoff > 0 {
		p.MaxBackoff = cfg.MaxBackoff
	}
	if cfg.FailureThreshold > 0 {
		p.FailureThreshold = cfg.FailureThreshold
	}
	if cfg.Window > 0 {
		p.Window = cfg.Window
	}
	if cfg.Cooldown > 0 {
		p.Cooldown = cfg.Cooldown
	}
	return p
}

// Gateway guards calls to named downstreams with timeout, retry and a circuit breaker.
// Each downstream has its own breaker; breakers are created on first use.
type Gateway struct {
	mu            sync.Mutex
	defaultPolicy Policy
	policies      map[string]Policy
	breakers      map[string]*gobreaker.CircuitBreaker
	metrics       MetricsRecorder
}

func New(defaultPolicy Policy, metrics MetricsRecorder) *Gateway {
	if metrics == nil {
		metrics = NopRecorder{}
	}
	return &Gateway{
		defaultPolicy: defaultPolicy,
		policies:      make(map[string]Policy),
		breakers:      make(map[string]*gobreaker.CircuitBreaker),
		metrics:       metrics,
	}
}

// Register overrides the policy of a downstream. It must be called before the first Call to it.
func (g *Gateway) Register(downstream string, p Policy) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.policies[downstream] = p
	delete(g.breakers, downstream)
}

// State reports the breaker state of a downstream, for health endpoints.
func (g *Gateway) State(downstream string) string {
	_, cb := g.resolve(downstream)
	return cb.State().String()
}

func (g *Gateway) resolve(downstream string) (Policy, *gobreaker.CircuitBreaker) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.policies[downstream]
	if !ok {
		p = g.defaultPolicy
	}
	cb, ok := g.breakers[downstream]
	if !ok {
		threshold := p.FailureThreshold
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        downstream,
			MaxRequests: 1,
			Interval:    p.Window,
			Timeout:     p.Cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logrus.WithFields(logrus.Fields{
					"downstream": name,
					"from":       from.String(),
					"to":         to.String(),
				}).Warn("circuit breaker state changed")
				g.metrics.RecordStateChange(name, from.String(), to.String())
			},
		})
		g.breakers[downstream] = cb
	}
	return p, cb
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	b.MaxInterval = p.MaxBackoff
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	b.RandomizationFactor = p.RandomizationFactor
	b.MaxElapsedTime = 0
	b.Reset()

	retries := 0
	if p.MaxAttempts > 1 {
		retries = p.MaxAttempts - 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// Call runs op against downstream. Failures come back as *Error with the Kind set:
// Permanent errors are not retried and do not count against the breaker, transient
// errors are retried with exponential back-off and jitter, and an open breaker
// rejects the call immediately.
func (g *Gateway) Call(ctx context.Context, downstream string, op func(ctx context.Context) error) error {
	p, cb := g.resolve(downstream)

	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	var (
		attempts     int
		executed     int
		permanentErr error
		rejected     error
		lastErr      error
	)

	operation := func() error {
		attempts++
		start := time.Now()
		_, err := cb.Execute(func() (interface{}, error) {
			executed++
			actx := ctx
			if p.AttemptTimeout > 0 {
				var cancel context.CancelFunc
				actx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
				defer cancel()
			}
			opErr := op(actx)
			if opErr != nil && Classify(opErr) == Permanent {
				permanentErr = opErr
				return nil, nil
			}
			return nil, opErr
		})

		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			rejected = err
			g.metrics.RecordAttempt(downstream, CircuitOpen.String(), time.Since(start))
			return backoff.Permanent(err)
		case permanentErr != nil:
			g.metrics.RecordAttempt(downstream, Permanent.String(), time.Since(start))
			return backoff.Permanent(permanentErr)
		case err != nil:
			lastErr = err
			g.metrics.RecordAttempt(downstream, Transient.String(), time.Since(start))
			return err
		}
		g.metrics.RecordAttempt(downstream, "success", time.Since(start))
		return nil
	}

	notify := func(err error, wait time.Duration) {
		logrus.WithFields(logrus.Fields{
			"downstream": downstream,
			"attempt":    attempts,
			"wait":       wait.String(),
		}).WithError(err).Debug("retrying downstream call")
	}

	err := backoff.RetryNotify(operation, p.backOff(ctx), notify)
	if err == nil {
		g.metrics.RecordResult(downstream, "success")
		return nil
	}

	result := &Error{Downstream: downstream, Attempts: attempts, Executed: executed}
	switch {
	case rejected != nil:
		result.Kind = CircuitOpen
		result.Err = rejected
	case permanentErr != nil:
		result.Kind = Permanent
		result.Err = permanentErr
	default:
		result.Kind = Transient
		result.Err = err
		if lastErr != nil && !errors.Is(err, lastErr) {
			result.Err = errors.Join(lastErr, err)
		}
	}
	g.metrics.RecordResult(downstream, result.Kind.String())
	return result
}
