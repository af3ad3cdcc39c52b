package retry

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/halovoice/voice-caller/pkg/errors"
)

func fastConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v, want nil", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_RetriesTransient(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		if calls < 3 {
			return errors.Ef(errors.KindProviderTransient, "rate limited")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDo_DoesNotRetryFatal(t *testing.T) {
	calls := 0
	fatal := errors.Ef(errors.KindProviderFatal, "quota exhausted")
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		return fatal
	})
	if !stderrors.Is(err, fatal) {
		t.Fatalf("Do() error = %v, want the fatal error unwrapped", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (fatal must not be retried)", calls)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		return errors.Ef(errors.KindProviderTransient, "timeout")
	})
	if err == nil {
		t.Fatal("Do() error = nil, want retry exhaustion error")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, fastConfig(), func() error {
		return errors.Ef(errors.KindProviderTransient, "timeout")
	})
	if !stderrors.Is(err, context.Canceled) {
		t.Errorf("Do() error = %v, want context.Canceled", err)
	}
}
