package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func static(name string, r Result) Checker {
	return Func(name, func(context.Context) Result { return r })
}

func TestAggregator_Run(t *testing.T) {
	tests := []struct {
		name     string
		checkers []Checker
		want     Status
	}{
		{"empty", nil, StatusHealthy},
		{"all healthy", []Checker{static("a", Healthy("ok")), static("b", Healthy("ok"))}, StatusHealthy},
		{"one degraded", []Checker{static("a", Healthy("ok")), static("b", Degraded("half-open"))}, StatusDegraded},
		{"unhealthy wins", []Checker{static("a", Degraded("half-open")), static("b", Unhealthy("open", nil))}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := NewAggregator()
			for _, c := range tt.checkers {
				agg.Register(c)
			}
			report := agg.Run(context.Background())
			if report.Status != tt.want {
				t.Errorf("Status = %v, want %v", report.Status, tt.want)
			}
			if len(report.Checks) != len(tt.checkers) {
				t.Errorf("len(Checks) = %d, want %d", len(report.Checks), len(tt.checkers))
			}
			if report.CheckedAt.IsZero() {
				t.Error("CheckedAt not set")
			}
		})
	}
}

func TestAggregator_RegisterReplaces(t *testing.T) {
	agg := NewAggregator()
	agg.Register(static("store", Unhealthy("down", nil)))
	agg.Register(static("store", Healthy("up")))
	agg.Register(static("cache", Healthy("up")))

	if got := agg.Names(); len(got) != 2 || got[0] != "cache" || got[1] != "store" {
		t.Errorf("Names() = %v, want [cache store]", got)
	}
	if got := agg.Run(context.Background()).Status; got != StatusHealthy {
		t.Errorf("Status = %v, want healthy", got)
	}

	agg.Unregister("cache")
	if agg.Has("cache") {
		t.Error("cache still registered")
	}
}

func TestAggregator_Check(t *testing.T) {
	agg := NewAggregator()
	agg.Register(static("store", Degraded("slow")))

	r, err := agg.Check(context.Background(), "store")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if r.Status != StatusDegraded {
		t.Errorf("Status = %v, want degraded", r.Status)
	}
	if r.CheckedAt.IsZero() {
		t.Error("CheckedAt not set")
	}

	if _, err := agg.Check(context.Background(), "missing"); !errors.Is(err, ErrUnknownCheck) {
		t.Errorf("Check(missing) error = %v, want ErrUnknownCheck", err)
	}
}

func TestAggregator_Timeout(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{Timeout: 20 * time.Millisecond})
	agg.Register(Func("stuck", func(ctx context.Context) Result {
		time.Sleep(time.Second)
		return Healthy("late")
	}))
	agg.Register(static("fast", Healthy("ok")))

	start := time.Now()
	report := agg.Run(context.Background())
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Run() took %v, want about the timeout", elapsed)
	}

	stuck := report.Checks["stuck"]
	if stuck.Status != StatusUnhealthy || !errors.Is(stuck.Error, ErrCheckTimeout) {
		t.Errorf("stuck = %+v, want unhealthy ErrCheckTimeout", stuck)
	}
	if report.Checks["fast"].Status != StatusHealthy {
		t.Errorf("fast = %v, want healthy", report.Checks["fast"].Status)
	}
}

func TestAggregator_Panic(t *testing.T) {
	agg := NewAggregator()
	agg.Register(Func("bad", func(context.Context) Result {
		panic("region unmapped")
	}))

	r := agg.Run(context.Background()).Checks["bad"]
	if r.Status != StatusUnhealthy || !errors.Is(r.Error, ErrCheckPanicked) {
		t.Errorf("bad = %+v, want unhealthy ErrCheckPanicked", r)
	}
	if r.Message != "region unmapped" {
		t.Errorf("Message = %q", r.Message)
	}
}

func TestAggregator_Concurrency(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{Concurrency: 2})

	var running, peak atomic.Int32
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		agg.Register(Func(name, func(context.Context) Result {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
			return Healthy("ok")
		}))
	}

	report := agg.Run(context.Background())
	if len(report.Checks) != 6 {
		t.Fatalf("len(Checks) = %d, want 6", len(report.Checks))
	}
	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want at most 2", p)
	}
}
