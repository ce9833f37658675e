package calltrace

import (
	"runtime"
	"time"

	"github.com/zoobzio/clockz"
)

// Probe is a Source for instrumented Go code.
//
// Instrumented functions report their frames with
//
//	defer p.Enter().Exit()
//
// and call sites report calls with Call (into another instrumented function)
// or CallForeign (into code that does not report frames). A Probe with no
// subscriber reduces every hook to a nil check.
//
// A Probe is not safe for concurrent use; all hooks must run on the goroutine
// being traced.
type Probe struct {
	clock   clockz.Clock
	epoch   time.Time
	sink    Sink
	sites   map[uintptr]site
	codes   map[string]*Code
	unknown *Code
}

type site struct {
	code   *Code
	offset int
}

// NewProbe creates a probe that timestamps with the real clock.
func NewProbe() *Probe {
	return newProbe(clockz.RealClock)
}

// WithClock returns a new probe with the specified clock.
// Enables clock injection for deterministic testing.
func (*Probe) WithClock(clock clockz.Clock) *Probe {
	return newProbe(clock)
}

func newProbe(clock clockz.Clock) *Probe {
	return &Probe{
		clock:   clock,
		epoch:   clock.Now(),
		sites:   make(map[uintptr]site),
		codes:   make(map[string]*Code),
		unknown: &Code{Filename: unknownFile, QualName: unknownName},
	}
}

// Subscribe starts delivering notifications to sink.
func (p *Probe) Subscribe(sink Sink) error {
	if sink == nil {
		return ErrNotSubscribed
	}
	if p.sink != nil && p.sink != sink {
		return ErrAlreadySubscribed
	}
	p.sink = sink
	return nil
}

// Unsubscribe stops delivery. Safe to call when not subscribed.
func (p *Probe) Unsubscribe() error {
	p.sink = nil
	return nil
}

// Subscribed reports whether the probe currently delivers notifications.
func (p *Probe) Subscribed() bool {
	return p.sink != nil
}

// Now returns nanoseconds elapsed since the probe was created.
func (p *Probe) Now() int64 {
	return p.clock.Now().Sub(p.epoch).Nanoseconds()
}

// Frame is the handle returned by Enter. The zero Frame is inert.
type Frame struct {
	probe *Probe
	loc   Location
}

// Enter reports that the calling function's frame began.
//
//go:noinline
func (p *Probe) Enter() Frame {
	if p.sink == nil {
		return Frame{}
	}
	loc := p.caller()
	p.sink.Deliver(Notification{Kind: EventFrameStart, TS: p.Now(), Loc: loc})
	return Frame{probe: p, loc: loc}
}

// Exit reports that the frame returned without a value.
func (f Frame) Exit() {
	f.finish("nil")
}

// Return reports that the frame returned v.
func (f Frame) Return(v any) {
	f.finish(KindName(v))
}

func (f Frame) finish(retval string) {
	if f.probe == nil || f.probe.sink == nil {
		return
	}
	f.probe.sink.Deliver(Notification{Kind: EventFrameReturn, TS: f.probe.Now(), Loc: f.loc, Arg: retval})
}

// Call reports that the caller is about to call target, an instrumented
// function whose own Enter follows. The first of args, if any, is recorded by
// kind.
//
//go:noinline
func (p *Probe) Call(target Target, args ...any) {
	if p.sink == nil {
		return
	}
	p.sink.Deliver(Notification{Kind: EventCall, TS: p.Now(), Loc: p.caller(), Target: target, Arg: arg0(args)})
}

// CallForeign reports a call into target and runs fn as its body. A normal
// return is reported as CReturn; a panic is reported as CRaise and re-raised.
//
//go:noinline
func (p *Probe) CallForeign(target Target, fn func(), args ...any) {
	if p.sink == nil {
		fn()
		return
	}

	loc := p.caller()
	arg := arg0(args)
	p.sink.Deliver(Notification{Kind: EventCall, TS: p.Now(), Loc: loc, Target: target, Arg: arg})

	completed := false
	defer func() {
		if p.sink == nil {
			return
		}
		kind := EventCReturn
		if !completed {
			kind = EventCRaise
		}
		p.sink.Deliver(Notification{Kind: kind, TS: p.Now(), Loc: loc, Target: target, Arg: arg})
	}()

	fn()
	completed = true
}

// caller resolves the location of the instrumented function that invoked the hook.
func (p *Probe) caller() Location {
	var pcs [1]uintptr
	if runtime.Callers(3, pcs[:]) < 1 {
		return Location{Code: p.unknown}
	}
	s := p.site(pcs[0])
	return Location{Code: s.code, Offset: s.offset}
}

// site maps a return address to its code object and site offset. Offsets are
// ordinals within the code object; the first time a site is seen its line is
// appended to the code's line table under the next ordinal.
func (p *Probe) site(pc uintptr) site {
	if s, ok := p.sites[pc]; ok {
		return s
	}

	frame, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	if frame.Function == "" {
		s := site{code: p.unknown}
		p.sites[pc] = s
		return s
	}

	code, ok := p.codes[frame.Function]
	if !ok {
		first := frame.Line
		if frame.Func != nil {
			_, first = frame.Func.FileLine(frame.Entry)
		}
		code = &Code{
			Filename:  frame.File,
			QualName:  frame.Function,
			FirstLine: first,
		}
		p.codes[frame.Function] = code
	}

	s := site{code: code, offset: len(code.Lines)}
	code.Lines = append(code.Lines, LineEntry{Start: s.offset, Line: frame.Line})
	p.sites[pc] = s
	return s
}

func arg0(args []any) string {
	if len(args) == 0 {
		return Missing
	}
	return KindName(args[0])
}
