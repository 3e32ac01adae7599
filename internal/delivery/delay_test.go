package delivery

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExponentialDelay(t *testing.T) {
	f := ExponentialDelay(30*time.Second, 5*time.Minute)
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 30 * time.Second},
		{1, time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{4, 5 * time.Minute},
		{50, 5 * time.Minute},
	}
	for _, c := range cases {
		if got := f(c.attempt); got != c.want {
			t.Errorf("attempt %d: got %v want %v", c.attempt, got, c.want)
		}
	}
}

func TestExponentialDelay_BaseAboveCap(t *testing.T) {
	if got := ExponentialDelay(time.Hour, time.Minute)(0); got != time.Minute {
		t.Fatalf("got %v; want cap", got)
	}
}

func TestFixedDelay(t *testing.T) {
	f := FixedDelay(3 * time.Second)
	if f(0) != 3*time.Second || f(9) != 3*time.Second {
		t.Fatalf("fixed delay changed with attempt")
	}
}

func TestSleepContext(t *testing.T) {
	if err := sleepContext(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("sleep: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("sleep ignored cancellation")
	}
}
