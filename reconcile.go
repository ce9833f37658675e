package calltrace

import (
	"errors"
	"fmt"
	"maps"
)

// ErrUnbalanced is returned when a closing notification finds no open span
// left to match. The source delivered more ends than begins.
var ErrUnbalanced = errors.New("unbalanced notification stream")

// Stats describes what reconciliation kept and discarded.
type Stats struct {
	Notifications int // notifications handed to Reconcile
	Leading       int // dropped before the first begin
	Trailing      int // dangling begins dropped from the end
	Orphans       int // begins discarded by pop-and-verify
	Unclosed      int // begins still open when the stream ended
	Spans         int // records in the output
}

// Reconcile matches begin notifications to their end counterparts and returns
// a flat, time-ordered list of properly nested spans. Timestamps are converted
// to microseconds relative to base.
//
// Matching is identity based: a closing notification pops pending begins until
// one carries the same name, discarding every popped begin that does not. Two
// distinct spans with the same identity open at once may be closed out of
// order; that limitation is accepted.
func Reconcile(ns []Notification, base int64, r *Resolver) ([]Span, Stats, error) {
	if r == nil {
		r = NewResolver()
	}
	stats := Stats{Notifications: len(ns)}

	end := len(ns)
	for end > 0 && ns[end-1].Kind.IsBegin() {
		end--
	}
	stats.Trailing = len(ns) - end

	start := 0
	for start < end && !ns[start].Kind.IsBegin() {
		start++
	}
	stats.Leading = start

	rc := reconciler{
		resolver: r,
		base:     base,
		spans:    make([]Span, 0, end-start),
		stack:    make([]int, 0, 64),
	}
	for i := start; i < end; i++ {
		if err := rc.step(&ns[i]); err != nil {
			return nil, stats, fmt.Errorf("notification %d: %w", i, err)
		}
	}

	stats.Orphans = rc.orphans
	stats.Unclosed = len(rc.stack)
	for _, idx := range rc.stack {
		rc.discard(idx)
	}

	spans := rc.compact()
	stats.Spans = len(spans)
	return spans, stats, nil
}

// reconciler holds the output list and the pending-begin stack.
// Discarded spans are tombstoned and removed once in compact.
type reconciler struct {
	resolver *Resolver
	spans    []Span
	dead     []bool
	stack    []int
	base     int64
	orphans  int
}

func (rc *reconciler) step(n *Notification) error {
	switch n.Kind {
	case EventCall:
		id := rc.resolver.Call(n)
		rc.begin(id.Name, id.Category, n.TS, map[string]string{"arg0": argKind(n.Arg)})
	case EventFrameStart:
		var args map[string]string
		if last := len(rc.spans) - 1; last >= 0 && !rc.isDead(last) &&
			rc.spans[last].Phase == PhaseBegin && dispatches(rc.spans[last].Category) {
			args = maps.Clone(rc.spans[last].Args)
		}
		if args == nil {
			args = map[string]string{}
		}
		rc.begin(rc.resolver.Frame(n.Loc.Code), CategoryFrameStart, n.TS, args)
	case EventCReturn:
		name := rc.resolver.Call(n).Name
		if err := rc.close(name); err != nil {
			return err
		}
		rc.end(name, CategoryCReturn, n.TS, map[string]string{"retval": argKind(n.Arg)})
	case EventFrameReturn:
		name := rc.resolver.Frame(n.Loc.Code)
		if err := rc.close(name); err != nil {
			return err
		}
		rc.end(name, CategoryFrameReturn, n.TS, map[string]string{"retval": argKind(n.Arg)})
	case EventCRaise:
		// A raising foreign call only suppresses its CReturn.
	}
	return nil
}

func (rc *reconciler) begin(name Name, cat Category, ts int64, args map[string]string) {
	rc.append(Span{Name: name, Category: cat, Phase: PhaseBegin, TS: rc.micros(ts), Args: args})
	rc.stack = append(rc.stack, len(rc.spans)-1)
}

func (rc *reconciler) end(name Name, cat Category, ts int64, args map[string]string) {
	rc.append(Span{Name: name, Category: cat, Phase: PhaseEnd, TS: rc.micros(ts), Args: args})
}

func (rc *reconciler) append(s Span) {
	rc.spans = append(rc.spans, s)
	if rc.dead != nil {
		rc.dead = append(rc.dead, false)
	}
}

// close pops pending begins until one named name is found.
func (rc *reconciler) close(name Name) error {
	for {
		top := len(rc.stack) - 1
		if top < 0 {
			return fmt.Errorf("%w: no open span for %q", ErrUnbalanced, name)
		}
		idx := rc.stack[top]
		rc.stack = rc.stack[:top]
		if rc.spans[idx].Name == name {
			return nil
		}
		rc.discard(idx)
		rc.orphans++
	}
}

func (rc *reconciler) discard(idx int) {
	if rc.dead == nil {
		rc.dead = make([]bool, len(rc.spans), cap(rc.spans))
	}
	rc.dead[idx] = true
}

func (rc *reconciler) isDead(idx int) bool {
	return rc.dead != nil && rc.dead[idx]
}

func (rc *reconciler) compact() []Span {
	if rc.dead == nil {
		return rc.spans
	}
	out := rc.spans[:0]
	for i := range rc.spans {
		if !rc.dead[i] {
			out = append(out, rc.spans[i])
		}
	}
	clear(rc.spans[len(out):])
	return out
}

func (rc *reconciler) micros(ts int64) float64 {
	return float64(ts-rc.base) / 1000
}

func argKind(arg string) string {
	if arg == "" {
		return Missing
	}
	return arg
}
