package syno

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	if p.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", p.Attempts)
	}
	if p.Wait != 2*time.Second {
		t.Errorf("Wait = %v, want 2s", p.Wait)
	}
	if p.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v, want 10s", p.Timeout)
	}
}

func TestRetryRecoversFromTransientFailures(t *testing.T) {
	p := RetryPolicy{Attempts: 3, Wait: time.Millisecond}

	calls := 0
	err := p.do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &TransportError{Op: "login", Err: errors.New("connection refused")}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	p := RetryPolicy{Attempts: 3, Wait: time.Millisecond}

	calls := 0
	err := p.do(context.Background(), func(ctx context.Context) error {
		calls++
		return &TransportError{Op: "login", Err: errors.New("timeout")}
	})
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want TransportError", err)
	}
}

func TestRetryStopsOnAPIError(t *testing.T) {
	p := RetryPolicy{Attempts: 3, Wait: time.Millisecond}

	calls := 0
	err := p.do(context.Background(), func(ctx context.Context) error {
		calls++
		return &APIError{Op: "login", Code: 400}
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	var ae *APIError
	if !errors.As(err, &ae) {
		t.Fatalf("err = %v, want APIError", err)
	}
}

func TestRetryStopsOnDataError(t *testing.T) {
	p := RetryPolicy{Attempts: 3, Wait: time.Millisecond}

	calls := 0
	err := p.do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("decode response: unexpected end of JSON input")
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if err == nil {
		t.Fatal("do returned nil, want error")
	}
}

func TestRetryWaitHonorsCancellation(t *testing.T) {
	p := RetryPolicy{Attempts: 3, Wait: time.Minute}
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	start := time.Now()
	err := p.do(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return &TransportError{Op: "login", Err: errors.New("timeout")}
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("cancelled wait took %v", elapsed)
	}
}

func TestRetryAppliesPerAttemptDeadline(t *testing.T) {
	p := RetryPolicy{Attempts: 1, Timeout: 10 * time.Second}

	err := p.do(context.Background(), func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("attempt context has no deadline")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
}

func TestRetryZeroAttemptsRunsOnce(t *testing.T) {
	var p RetryPolicy

	calls := 0
	if err := p.do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	}); err != nil {
		t.Fatalf("do: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
