package reliability

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/zoobzio/clockz"

	"github.com/zoobzio/calltrace"
)

// Reliability tests exercise the pipeline at sizes unsuitable for the unit suite.
// Environment: CALLTRACE_RELIABILITY_LEVEL controls test intensity
//   basic: CI-safe sizes
//   stress: ten times the basic sizes

func TestReliability(t *testing.T) {
	config := getReliabilityConfig()

	switch config.Level {
	case "basic", "stress":
		t.Run("deep_recursion", func(t *testing.T) { testDeepRecursion(t, config) })
		t.Run("buffer_saturation", func(t *testing.T) { testBufferSaturation(t, config) })
		t.Run("unbalanced_stream", testUnbalancedStream)
	default:
		t.Skip("CALLTRACE_RELIABILITY_LEVEL not set, skipping reliability tests")
	}
}

func descend(p *calltrace.Probe, target calltrace.Target, n int) {
	defer p.Enter().Exit()
	if n > 0 {
		p.Call(target, n-1)
		descend(p, target, n-1)
	}
}

// testDeepRecursion verifies that a deep stack reconciles fully, with every
// dispatch Call discarded once its frame's caller returns.
func testDeepRecursion(t *testing.T, config ReliabilityConfig) {
	probe := calltrace.NewProbe().WithClock(clockz.NewFakeClock())
	target := calltrace.Func(descend)

	s, err := calltrace.Start(probe)
	if err != nil {
		t.Fatal(err)
	}
	descend(probe, target, config.Depth)

	trace, stats, err := s.Finish()
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if trace.Pairs() != config.Depth+1 {
		t.Errorf("expected %d frames, got %d", config.Depth+1, trace.Pairs())
	}
	if stats.Orphans != config.Depth {
		t.Errorf("expected %d discarded calls, got %d", config.Depth, stats.Orphans)
	}
}

// testBufferSaturation verifies that a bounded buffer keeps a prefix and the
// truncated stream still reconciles and writes.
func testBufferSaturation(t *testing.T, config ReliabilityConfig) {
	probe := calltrace.NewProbe().WithClock(clockz.NewFakeClock())
	target := calltrace.Func(descend)
	cfg := calltrace.DefaultConfig()
	cfg.MaxEvents = config.MaxEvents
	path := filepath.Join(t.TempDir(), "saturated.json")

	s, err := calltrace.Start(probe, calltrace.WithConfig(cfg))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i*5 < config.Events; i++ {
		descend(probe, target, 1)
	}

	buf := s.Buffer()
	if buf.Len() != config.MaxEvents {
		t.Errorf("expected full buffer of %d, got %d", config.MaxEvents, buf.Len())
	}
	if buf.Dropped() == 0 {
		t.Error("expected dropped notifications")
	}
	if err := s.Stop(path); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
}

// testUnbalancedStream verifies that a corrupted stream is reported, not written.
func testUnbalancedStream(t *testing.T) {
	code := &calltrace.Code{Filename: "a.go", QualName: "a", FirstLine: 1}
	ns := []calltrace.Notification{
		{Kind: calltrace.EventFrameStart, Loc: calltrace.Location{Code: code}},
		{Kind: calltrace.EventFrameReturn, Loc: calltrace.Location{Code: code}, Arg: "nil"},
		{Kind: calltrace.EventFrameReturn, Loc: calltrace.Location{Code: code}, Arg: "nil"},
	}
	if _, _, err := calltrace.Reconcile(ns, 0, nil); !errors.Is(err, calltrace.ErrUnbalanced) {
		t.Errorf("expected ErrUnbalanced, got %v", err)
	}
}
