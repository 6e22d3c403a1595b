package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestBreaker_ClosedPassesThrough(t *testing.T) {
	b := NewBreaker("scrapeapi", DefaultBreakerConfig())

	var calls int
	err := b.Execute(context.Background(), func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if b.State() != CircuitClosed {
		t.Errorf("expected closed, got %s", b.State())
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker("scrapeapi", BreakerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  time.Minute,
		SuccessThreshold: 1,
	})

	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), func(_ context.Context) error {
			return errors.New("fail")
		})
	}
	if b.State() != CircuitOpen {
		t.Fatalf("expected open after 3 failures, got %s", b.State())
	}

	// A call issued while open is rejected without attempting the network.
	err := b.Execute(context.Background(), func(_ context.Context) error {
		t.Error("fn should not run while circuit is open")
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker("scrapeapi", BreakerConfig{FailureThreshold: 3, RecoveryTimeout: time.Minute})

	for i := 0; i < 2; i++ {
		b.RecordFailure()
	}
	if got := b.Failures(); got != 2 {
		t.Fatalf("expected 2 failures, got %d", got)
	}

	b.RecordSuccess()
	if got := b.Failures(); got != 0 {
		t.Errorf("expected counter reset, got %d", got)
	}
	if b.State() != CircuitClosed {
		t.Errorf("expected closed, got %s", b.State())
	}
}

func TestBreaker_HalfOpenProbeAfterRecoveryTimeout(t *testing.T) {
	now := time.Now()
	b := NewBreaker("scrapeapi", BreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 2,
	})
	b.nowFunc = func() time.Time { return now }

	b.RecordFailure()
	if b.State() != CircuitOpen {
		t.Fatalf("expected open, got %s", b.State())
	}
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected rejection before timeout, got %v", err)
	}

	// After the recovery timeout one probe is admitted.
	now = now.Add(31 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("expected probe admitted, got %v", err)
	}
	if b.State() != CircuitHalfOpen {
		t.Fatalf("expected half-open, got %s", b.State())
	}

	// SuccessThreshold consecutive successes close the circuit.
	b.RecordSuccess()
	if b.State() != CircuitHalfOpen {
		t.Fatalf("one success should not close yet, got %s", b.State())
	}
	b.RecordSuccess()
	if b.State() != CircuitClosed {
		t.Errorf("expected closed after 2 successes, got %s", b.State())
	}
	if b.Failures() != 0 {
		t.Errorf("expected failure counter reset, got %d", b.Failures())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	b := NewBreaker("scrapeapi", BreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  10 * time.Second,
		SuccessThreshold: 2,
	})
	b.nowFunc = func() time.Time { return now }

	b.RecordFailure()
	now = now.Add(11 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("expected probe admitted, got %v", err)
	}

	b.RecordFailure()
	// Immediately after the half-open failure the circuit is open again.
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected reopened circuit, got %v", err)
	}
}

func TestBreakers_OnePerDependency(t *testing.T) {
	reg := NewBreakers(DefaultBreakerConfig())

	a := reg.Get("scrapeapi")
	b := reg.Get("scrapeapi")
	if a != b {
		t.Error("expected same breaker instance for same dependency")
	}
	if reg.Get("google") == a {
		t.Error("expected distinct breaker per dependency")
	}

	states := reg.States()
	if len(states) != 2 {
		t.Errorf("expected 2 breakers, got %d", len(states))
	}
	if states["google"] != CircuitClosed {
		t.Errorf("expected closed, got %s", states["google"])
	}
}
