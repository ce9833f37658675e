package integration

import (
	"encoding/json"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zoobzio/clockz"

	"github.com/zoobzio/calltrace"
)

// Traced is the outcome of one traced run.
//
//nolint:govet // Field alignment optimized for test helper readability
type Traced struct {
	Records []calltrace.Record
	Trace   *calltrace.Trace
	Stats   calltrace.Stats
	Path    string
	Err     error
}

// TraceRun runs fn under a session on src and decodes the written file.
// Probes should use a fake clock so timestamps are deterministic.
func TraceRun(t *testing.T, src calltrace.Source, fn func() error, opts ...calltrace.Option) Traced {
	t.Helper()
	res := Traced{Path: filepath.Join(t.TempDir(), "trace.json")}
	opts = append(opts, calltrace.WithHandler(func(tr *calltrace.Trace, stats calltrace.Stats) {
		res.Trace = tr
		res.Stats = stats
	}))
	res.Err = calltrace.Run(src, res.Path, fn, opts...)
	if res.Trace == nil {
		return res
	}
	res.Records = ReadRecords(t, res.Path)
	return res
}

// ReadRecords decodes a trace file.
func ReadRecords(t *testing.T, path string) []calltrace.Record {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read trace: %v", err)
	}
	var doc struct {
		TraceEvents []calltrace.Record `json:"traceEvents"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("decode trace: %v", err)
	}
	return doc.TraceEvents
}

// AssertWellFormed checks the output invariants of a trace document: spans
// nest properly, every end closes the innermost open begin of the same name,
// timestamps never decrease, and exactly two metadata records come last.
func AssertWellFormed(t *testing.T, records []calltrace.Record) {
	t.Helper()
	if len(records) < 2 {
		t.Fatalf("expected at least the metadata records, got %d", len(records))
	}

	spans := records[:len(records)-2]
	for i, r := range records[len(records)-2:] {
		if r.Ph != calltrace.PhaseMetadata {
			t.Errorf("record %d: expected metadata, got %s", len(spans)+i, r.Ph)
		}
	}

	var stack []string
	var last float64
	for i, r := range spans {
		if r.TS == nil {
			t.Fatalf("record %d: missing ts", i)
		}
		if *r.TS < last {
			t.Errorf("record %d: ts %v before %v", i, *r.TS, last)
		}
		last = *r.TS

		switch r.Ph {
		case calltrace.PhaseBegin:
			stack = append(stack, r.Name)
		case calltrace.PhaseEnd:
			if len(stack) == 0 {
				t.Fatalf("record %d: end %q with nothing open", i, r.Name)
			}
			if top := stack[len(stack)-1]; top != r.Name {
				t.Fatalf("record %d: end %q closes %q", i, r.Name, top)
			}
			stack = stack[:len(stack)-1]
		default:
			t.Fatalf("record %d: unexpected phase %s before metadata", i, r.Ph)
		}
	}
	if len(stack) != 0 {
		t.Errorf("%d spans left open: %v", len(stack), stack)
	}
}

// Program is a randomly shaped instrumented call tree. Each node reports its
// frame and makes a random mix of nested instrumented calls, foreign calls,
// foreign calls that panic and are recovered, and foreign calls that call back
// into instrumented code.
type Program struct {
	probe  *calltrace.Probe
	clock  interface{ Advance(time.Duration) }
	rng    *rand.Rand
	target calltrace.Target
	Nodes  int
}

// NewProgram creates a program driven by seed.
func NewProgram(seed uint64) *Program {
	clock := clockz.NewFakeClock()
	return &Program{
		probe:  calltrace.NewProbe().WithClock(clock),
		clock:  clock,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		target: calltrace.Func((*Program).node),
	}
}

// Probe returns the program's probe.
func (p *Program) Probe() *calltrace.Probe {
	return p.probe
}

// Run executes a tree of the given depth.
func (p *Program) Run(depth int) error {
	p.node(depth)
	return nil
}

func (p *Program) node(depth int) {
	defer p.probe.Enter().Exit()
	p.Nodes++
	p.tick()

	if depth == 0 {
		return
	}
	for i := p.rng.IntN(4); i > 0; i-- {
		switch p.rng.IntN(4) {
		case 0:
			p.probe.Call(p.target, depth-1)
			p.node(depth - 1)
		case 1:
			p.probe.CallForeign(calltrace.Builtin("len"), p.tick, i)
		case 2:
			p.raise()
		case 3:
			p.probe.CallForeign(calltrace.Builtin("apply"), func() {
				p.probe.Call(p.target, depth-1)
				p.node(depth - 1)
			})
		}
	}
}

func (p *Program) raise() {
	defer func() {
		_ = recover()
	}()
	p.probe.CallForeign(calltrace.Builtin("explode"), func() {
		p.tick()
		panic("explode")
	})
}

func (p *Program) tick() {
	p.clock.Advance(time.Duration(p.rng.IntN(5)) * time.Microsecond)
}
