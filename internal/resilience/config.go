package resilience

import (
	"time"
)

// FromCircuitConfig converts config values to a CircuitBreakerConfig. The
// breaker trips on server and network failures only.
func FromCircuitConfig(failureThreshold, resetTimeoutSecs int) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	cfg.Name = "research"
	cfg.ShouldTrip = IsServerOrNetwork
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if resetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetTimeoutSecs) * time.Second
	}
	return cfg
}
