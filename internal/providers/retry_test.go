package providers

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{Attempts: attempts, MinDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestRetryDoRecoversFromTransientError(t *testing.T) {
	calls := 0
	out, err := RetryDo(context.Background(), fastRetry(3), func() (string, error) {
		calls++
		if calls == 1 {
			return "", &HTTPError{Status: 503, Body: "overloaded"}
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if out != "ok" || calls != 2 {
		t.Fatalf("out=%q calls=%d", out, calls)
	}
}

func TestRetryDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	_, err := RetryDo(context.Background(), fastRetry(3), func() (string, error) {
		calls++
		return "", &HTTPError{Status: 401, Body: "bad key"}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("a 401 must not be retried, calls=%d", calls)
	}
}

func TestRetryDoInvokesContextHook(t *testing.T) {
	var notified []int
	ctx := WithRetryHook(context.Background(), func(attempt, maxAttempts int, _ error) {
		notified = append(notified, attempt)
		if maxAttempts != 3 {
			t.Fatalf("maxAttempts = %d", maxAttempts)
		}
	})

	calls := 0
	_, err := RetryDo(ctx, fastRetry(3), func() (string, error) {
		calls++
		if calls < 3 {
			return "", &HTTPError{Status: 429, Body: "slow down"}
		}
		return "done", nil
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(notified) != 2 || notified[0] != 1 || notified[1] != 2 {
		t.Fatalf("hook calls = %v", notified)
	}
}

func TestRetryDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := RetryDo(ctx, fastRetry(3), func() (string, error) {
		return "", &HTTPError{Status: 503}
	})
	if err != context.Canceled {
		t.Fatalf("err = %v", err)
	}
}

func TestIsRetryableError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&HTTPError{Status: 429}, true},
		{&HTTPError{Status: 502}, true},
		{&HTTPError{Status: 400}, false},
		{fmt.Errorf("read tcp: connection reset by peer"), true},
		{fmt.Errorf("no such model"), false},
		{nil, false},
	}
	for _, c := range cases {
		if got := IsRetryableError(c.err); got != c.want {
			t.Fatalf("IsRetryableError(%v) = %t, want %t", c.err, got, c.want)
		}
	}
}

func TestParseRetryAfterSeconds(t *testing.T) {
	if got := ParseRetryAfter("7"); got != 7*time.Second {
		t.Fatalf("got %v", got)
	}
	if got := ParseRetryAfter(""); got != 0 {
		t.Fatalf("got %v", got)
	}
}

func TestComputeDelayPrefersRetryAfter(t *testing.T) {
	cfg := DefaultRetryConfig()
	err := &HTTPError{Status: 429, RetryAfter: 9 * time.Second}
	if got := computeDelay(cfg, 1, err); got != 9*time.Second {
		t.Fatalf("got %v", got)
	}
}
