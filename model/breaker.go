package model

import "time"

// BreakerConfig tunes the per-endpoint circuit breaker.
type BreakerConfig struct {
	// Trip is the consecutive-failure count that opens the circuit.
	Trip int

	// Cooldown is how long an open circuit blocks the endpoint before a
	// single probe call is let through.
	Cooldown time.Duration
}

// DefaultBreakerConfig returns the breaker defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Trip:     3,
		Cooldown: 30 * time.Second,
	}
}

// breaker is one endpoint's failure state. Zero value is a closed circuit.
type breaker struct {
	consecutive int
	open        bool
	openedAt    time.Time
	lastSuccess time.Time
	lastFailure time.Time
}

// EndpointHealth is the observable breaker state for one endpoint.
type EndpointHealth struct {
	Usable              bool      `json:"usable"`
	Open                bool      `json:"open"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	OpenedAt            time.Time `json:"openedAt,omitempty"`
	LastSuccess         time.Time `json:"lastSuccess,omitempty"`
	LastFailure         time.Time `json:"lastFailure,omitempty"`
}

// SetBreakerConfig replaces the breaker tuning for all endpoints.
func (r *Registry) SetBreakerConfig(cfg BreakerConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakerC = cfg
}

// ReportSuccess records a successful call, closing the endpoint's circuit.
func (r *Registry) ReportSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return
	}
	e.breaker.consecutive = 0
	e.breaker.open = false
	e.breaker.lastSuccess = time.Now()
}

// ReportFailure records a failed call, opening the circuit once the
// consecutive-failure count reaches the trip threshold.
func (r *Registry) ReportFailure(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return
	}
	e.breaker.consecutive++
	e.breaker.lastFailure = time.Now()
	// At or past the threshold every failure re-arms the cooldown, so a
	// failed probe does not leave the endpoint permanently half-open.
	if e.breaker.consecutive >= r.breakerC.Trip {
		e.breaker.open = true
		e.breaker.openedAt = time.Now()
	}
}

// Usable reports whether an endpoint should receive calls. An open circuit
// blocks the endpoint until the cooldown elapses; after that one probe is
// allowed through, and its outcome closes or re-arms the circuit.
func (r *Registry) Usable(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok || !e.breaker.open {
		return true
	}
	return time.Since(e.breaker.openedAt) > r.breakerC.Cooldown
}

// Health returns the breaker state for one endpoint.
func (r *Registry) Health(name string) (EndpointHealth, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return EndpointHealth{}, false
	}
	b := e.breaker
	usable := !b.open || time.Since(b.openedAt) > r.breakerC.Cooldown
	return EndpointHealth{
		Usable:              usable,
		Open:                b.open,
		ConsecutiveFailures: b.consecutive,
		OpenedAt:            b.openedAt,
		LastSuccess:         b.lastSuccess,
		LastFailure:         b.lastFailure,
	}, true
}

// UsableCandidates filters a capability's chain to usable endpoints. When
// every candidate's circuit is open the full chain is returned, so a call
// is always attempted somewhere.
func (r *Registry) UsableCandidates(c Capability) []string {
	chain := r.Candidates(c)
	usable := make([]string, 0, len(chain))
	for _, name := range chain {
		if r.Usable(name) {
			usable = append(usable, name)
		}
	}
	if len(usable) == 0 {
		return chain
	}
	return usable
}
