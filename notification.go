package calltrace

import (
	"fmt"
	"reflect"
	"runtime"
	"strings"
)

// EventKind identifies the kind of a raw notification.
type EventKind uint8

const (
	// EventCall fires when a call is about to happen on a target.
	EventCall EventKind = iota + 1
	// EventCReturn fires when a foreign (non-instrumented) call returned.
	EventCReturn
	// EventCRaise fires when a foreign call raised. It never produces a span.
	EventCRaise
	// EventFrameStart fires when an instrumented call frame began.
	EventFrameStart
	// EventFrameReturn fires when an instrumented call frame returned.
	EventFrameReturn
)

// String returns the string representation of EventKind.
func (k EventKind) String() string {
	switch k {
	case EventCall:
		return "call"
	case EventCReturn:
		return "c_return"
	case EventCRaise:
		return "c_raise"
	case EventFrameStart:
		return "frame_start"
	case EventFrameReturn:
		return "frame_return"
	default:
		return "unknown"
	}
}

// IsBegin reports whether the kind opens a span.
func (k EventKind) IsBegin() bool {
	return k == EventCall || k == EventFrameStart
}

// IsEnd reports whether the kind closes a span.
func (k EventKind) IsEnd() bool {
	return k == EventCReturn || k == EventFrameReturn
}

// Notification is a single raw event delivered by a Source.
//
// Target is only meaningful for Call, CReturn and CRaise. Arg carries the kind
// name of the first call argument (or Missing) for call events and the kind
// name of the return value for FrameReturn.
type Notification struct {
	Target Target
	Loc    Location
	Arg    string
	TS     int64
	Kind   EventKind
}

// Location identifies a source position inside a code object.
type Location struct {
	Code   *Code
	Offset int
}

// Code describes a routine known to the host runtime.
// A Code is compared by pointer; the same routine must always be delivered
// through the same *Code for line tables to be cached.
type Code struct {
	Filename  string
	QualName  string
	Lines     []LineEntry
	FirstLine int
}

// LineEntry maps the instruction offset where a source line begins to that line.
type LineEntry struct {
	Start int
	Line  int
}

// TargetKind is the runtime kind of a call target.
type TargetKind uint8

const (
	// KindOther is any kind outside the known set; KindName names it.
	KindOther TargetKind = iota
	KindFunction
	KindMethod
	KindBuiltin
	KindMethodDescriptor
	KindMethodWrapper
	KindClassMethodDescriptor
	KindWrapperDescriptor
	KindGetSetDescriptor
	KindMemberDescriptor
	KindType
)

// Target is the callee of a Call, CReturn or CRaise notification.
//
// Ref, when set, is a non-owning reference to the real callee (for example a
// bound method that has not been materialized yet). It takes precedence over
// QualName when resolving the display name.
type Target struct {
	Ref      Referent
	KindName string
	QualName string
	Repr     string
	Kind     TargetKind
}

// Func builds a Target for a Go func value. Method values resolve to KindMethod.
// Build targets once and reuse them; Func consults the runtime symbol table.
func Func(fn any) Target {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return Target{Kind: KindOther, KindName: KindName(fn), Repr: fmt.Sprint(fn)}
	}

	f := runtime.FuncForPC(v.Pointer())
	if f == nil {
		return Target{Kind: KindFunction, Repr: v.Type().String()}
	}

	name := f.Name()
	if strings.HasSuffix(name, "-fm") {
		return Target{Kind: KindMethod, QualName: strings.TrimSuffix(name, "-fm")}
	}
	return Target{Kind: KindFunction, QualName: name}
}

// Builtin builds a Target for a foreign routine known only by name.
func Builtin(name string) Target {
	return Target{Kind: KindBuiltin, QualName: name}
}

// WeakTarget builds a Target that follows a weak reference.
func WeakTarget(ref Referent) Target {
	return Target{Kind: KindOther, KindName: "weakref", Ref: ref}
}

// ProxyTarget builds a Target that follows a callable proxy.
func ProxyTarget(ref Referent) Target {
	return Target{Kind: KindOther, KindName: "weakproxy", Ref: ref}
}

// KindName returns the kind name recorded for a call argument or return value.
func KindName(v any) string {
	if v == nil {
		return "nil"
	}
	return reflect.TypeOf(v).String()
}
