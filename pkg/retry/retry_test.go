package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	chainErrors "github.com/Ratio1/edge-node-sub002/pkg/errors"
)

func fastConfig(attempts int) *Config {
	return &Config{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Multiplier:  2.0,
		Jitter:      false,
	}
}

func TestPresets(t *testing.T) {
	tests := []struct {
		name     string
		config   *Config
		attempts int
		base     time.Duration
	}{
		{"default", DefaultConfig(), 3, 100 * time.Millisecond},
		{"network", NetworkConfig(), 5, 50 * time.Millisecond},
		{"ledger read", LedgerReadConfig(), 3, 250 * time.Millisecond},
		{"database", DatabaseConfig(), 3, 200 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.config.MaxAttempts != tt.attempts {
				t.Errorf("MaxAttempts = %d, want %d", tt.config.MaxAttempts, tt.attempts)
			}
			if tt.config.BaseDelay != tt.base {
				t.Errorf("BaseDelay = %v, want %v", tt.config.BaseDelay, tt.base)
			}
			if tt.config.MaxDelay < tt.config.BaseDelay {
				t.Error("MaxDelay should not be below BaseDelay")
			}
		})
	}
}

func TestDo_SucceedsAfterTransientFailure(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		calls++
		if calls == 1 {
			return chainErrors.New(chainErrors.ErrorTypeStore, "hgetall", "unavailable")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestDo_MaxAttemptsReached(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(2), func() error {
		calls++
		return chainErrors.New(chainErrors.ErrorTypeNetwork, "call", "refused")
	})

	if err == nil {
		t.Fatal("expected error after max attempts")
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if !chainErrors.IsType(err, chainErrors.ErrorTypeInternal) {
		t.Error("exhausted retries should be wrapped as internal")
	}
	if !chainErrors.IsType(err, chainErrors.ErrorTypeNetwork) {
		t.Error("the last cause should stay reachable")
	}
}

func TestDo_NonRetryableReturnsImmediately(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(5), func() error {
		calls++
		return chainErrors.New(chainErrors.ErrorTypeLedger, "allocate", "execution reverted")
	})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !chainErrors.IsType(err, chainErrors.ErrorTypeLedger) {
		t.Errorf("expected the original ledger error, got %v", err)
	}
}

func TestDo_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := &Config{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: time.Second, Multiplier: 1}

	calls := 0
	err := Do(ctx, config, func() error {
		calls++
		cancel()
		return chainErrors.New(chainErrors.ErrorTypeNetwork, "call", "refused")
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	got, err := DoWithResult(context.Background(), fastConfig(3), func() ([]string, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("connection reset by peer")
		}
		return []string{"7", "9"}, nil
	})

	if err != nil {
		t.Fatalf("DoWithResult() error = %v", err)
	}
	if len(got) != 2 || got[1] != "9" {
		t.Errorf("result = %v", got)
	}
}

func TestDoWithResult_NilConfigUsesDefault(t *testing.T) {
	got, err := DoWithResult(context.Background(), nil, func() (int, error) { return 42, nil })
	if err != nil || got != 42 {
		t.Errorf("got (%d, %v), want (42, nil)", got, err)
	}
}

func TestCalculateDelay(t *testing.T) {
	config := &Config{BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, Multiplier: 2}

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
	for attempt, w := range want {
		if got := config.calculateDelay(attempt); got != w {
			t.Errorf("attempt %d: delay = %v, want %v", attempt, got, w)
		}
	}

	config.Jitter = true
	for range 20 {
		d := config.calculateDelay(0)
		if d < 100*time.Millisecond || d > 110*time.Millisecond {
			t.Fatalf("jittered delay %v outside [100ms, 110ms]", d)
		}
	}
}
