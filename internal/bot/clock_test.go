package bot

import (
	"testing"
	"time"
)

func TestThinkBudget(t *testing.T) {
	minThink := 100 * time.Millisecond
	maxThink := 10 * time.Second

	cases := []struct {
		name      string
		remaining time.Duration
		increment time.Duration
		want      time.Duration
	}{
		{"long clock capped at max", 300 * time.Second, 5 * time.Second, 10 * time.Second},
		{"one minute no increment", 60 * time.Second, 0, 3 * time.Second},
		{"increment adds half", 20 * time.Second, 10 * time.Second, 6 * time.Second},
		{"short clock floors at min", time.Second, 0, 100 * time.Millisecond},
		{"never more than half remaining", 150 * time.Millisecond, 0, 75 * time.Millisecond},
		{"no clock means min", 0, 0, 100 * time.Millisecond},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := thinkBudget(tc.remaining, tc.increment, minThink, maxThink)
			if got != tc.want {
				t.Fatalf("thinkBudget(%v, %v) = %v, want %v", tc.remaining, tc.increment, got, tc.want)
			}
		})
	}
}

func TestThinkBudgetDefaults(t *testing.T) {
	if got := thinkBudget(60*time.Second, 0, 0, 0); got != 3*time.Second {
		t.Fatalf("got %v, want 3s with zero-value bounds", got)
	}
	if got := thinkBudget(0, 0, 0, 0); got != 100*time.Millisecond {
		t.Fatalf("got %v, want default min", got)
	}
}

func TestDepthFor(t *testing.T) {
	cases := []struct {
		name      string
		remaining time.Duration
		depth     int
		want      int
	}{
		{"panic zone", 9 * time.Second, 15, 5},
		{"under thirty seconds", 29 * time.Second, 15, 8},
		{"under a minute", 59 * time.Second, 15, 12},
		{"comfortable clock", 2 * time.Minute, 15, 15},
		{"never raises configured depth", 29 * time.Second, 6, 6},
		{"zero depth falls back", 2 * time.Minute, 0, 15},
		{"no clock keeps configured", 0, 10, 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := depthFor(tc.remaining, tc.depth); got != tc.want {
				t.Fatalf("depthFor(%v, %d) = %d, want %d", tc.remaining, tc.depth, got, tc.want)
			}
		})
	}
}
