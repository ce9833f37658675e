package calltrace

import (
	"fmt"
	"reflect"
	"strconv"
	"weak"
)

// Span categories for frame and foreign-return events.
const (
	CategoryFrameStart  = "frame_start"
	CategoryFrameReturn = "frame_return"
	CategoryCReturn     = "c_return"
)

const (
	unknownName = "<unknown>"
	unknownFile = "<unknown>"
	unknownKind = "unknown"
)

// Identity is the resolved (name, category) pair of a notification.
type Identity struct {
	Name     Name
	Category Category
}

// Referent is a non-owning handle to a call target.
// Resolve reports false once the referenced value is gone; String is the
// textual fallback used in that case.
type Referent interface {
	Resolve() (string, bool)
	String() string
}

// WeakRef is a Referent that does not keep its value alive.
type WeakRef[T any] struct {
	ptr  weak.Pointer[T]
	name func(*T) string
	repr string
}

// NewWeakRef returns a weak reference to v. name is applied to v while it is
// still reachable and must not retain it.
//
// v should point into the heap. A pointer to a package-level composite
// literal may be statically allocated; such a referent never expires.
func NewWeakRef[T any](v *T, name func(*T) string) *WeakRef[T] {
	return &WeakRef[T]{
		ptr:  weak.Make(v),
		name: name,
		repr: fmt.Sprintf("<weakref at %p>", v),
	}
}

// Resolve returns the display name of the referenced value.
func (w *WeakRef[T]) Resolve() (string, bool) {
	v := w.ptr.Value()
	if v == nil || w.name == nil {
		return "", false
	}
	return w.name(v), true
}

// String returns the textual fallback.
func (w *WeakRef[T]) String() string {
	return w.repr
}

// CategoryOf returns the span category for a target. It is total: kinds outside
// the known set fall back to their own kind name.
func CategoryOf(t Target) Category {
	switch t.Kind {
	case KindFunction:
		return "function"
	case KindMethod:
		return "method"
	case KindBuiltin:
		return "builtin_function"
	case KindMethodDescriptor:
		return "method_descriptor"
	case KindMethodWrapper:
		return "method_wrapper"
	case KindClassMethodDescriptor:
		return "classmethod_descriptor"
	case KindWrapperDescriptor:
		return "wrapper_descriptor"
	case KindGetSetDescriptor:
		return "getset_descriptor"
	case KindMemberDescriptor:
		return "member_descriptor"
	case KindType:
		return "type"
	}
	if t.KindName != "" {
		return t.KindName
	}
	return unknownKind
}

// CallableName returns the qualified display name of a target.
func CallableName(t Target) string {
	if t.Ref != nil {
		if name, ok := t.Ref.Resolve(); ok && name != "" {
			return name
		}
		return t.Ref.String()
	}
	if t.QualName != "" {
		return t.QualName
	}
	if t.Repr != "" {
		return t.Repr
	}
	return unknownName
}

// dispatches reports whether a call of this category enters an instrumented
// frame whose FrameStart inherits the call's args.
func dispatches(cat Category) bool {
	return cat == "function" || cat == "method"
}

// Resolver maps notifications to identities. Line tables are built once per
// code object and kept for the resolver's lifetime.
//
// A referent is resolved once: the first name it yields is reused for every
// later notification, so a call and its return agree even when the referent
// expires in between.
// Not safe for concurrent use.
type Resolver struct {
	lines lineCache
	refs  map[Referent]string
}

// NewResolver creates a resolver with empty caches.
func NewResolver() *Resolver {
	return &Resolver{lines: make(lineCache), refs: make(map[Referent]string)}
}

// Name returns the display name of a target, pinning referents to their
// first resolution.
func (r *Resolver) Name(t Target) string {
	if t.Ref == nil || !reflect.TypeOf(t.Ref).Comparable() {
		return CallableName(t)
	}
	if name, ok := r.refs[t.Ref]; ok {
		return name
	}
	name := CallableName(t)
	r.refs[t.Ref] = name
	return name
}

// Line resolves an instruction offset inside code to a source line.
func (r *Resolver) Line(code *Code, offset int) int {
	if code == nil {
		return 0
	}
	return r.lines.table(code).Lookup(offset)
}

// Call resolves the identity of a Call, CReturn or CRaise notification.
func (r *Resolver) Call(n *Notification) Identity {
	return Identity{
		Name:     join(filename(n.Loc.Code), r.Line(n.Loc.Code, n.Loc.Offset), r.Name(n.Target)),
		Category: CategoryOf(n.Target),
	}
}

// Frame resolves the identity of a FrameStart or FrameReturn code object.
func (*Resolver) Frame(code *Code) Name {
	if code == nil {
		return join(unknownFile, 0, unknownName)
	}
	qual := code.QualName
	if qual == "" {
		qual = unknownName
	}
	return join(filename(code), code.FirstLine, qual)
}

// CachedTables returns the number of line tables built so far.
func (r *Resolver) CachedTables() int {
	return len(r.lines)
}

func filename(code *Code) string {
	if code == nil || code.Filename == "" {
		return unknownFile
	}
	return code.Filename
}

func join(file string, line int, callable string) Name {
	b := make([]byte, 0, len(file)+len(callable)+12)
	b = append(b, file...)
	b = append(b, ':')
	b = strconv.AppendInt(b, int64(line), 10)
	b = append(b, ':')
	b = append(b, callable...)
	return string(b)
}
