package calltrace

import (
	"errors"
	"slices"
	"testing"
)

func TestReconcileBalancedStreamUnchanged(t *testing.T) {
	work := frameCode("main.go", 10, "main.work")
	ns := []Notification{
		frameStart(100, work),
		builtinCall(200, "main.go", 12, "len"),
		cReturn(300, "main.go", 12, "len"),
		frameReturn(400, work),
	}

	spans, stats, err := Reconcile(ns, 100, nil)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	want := []string{
		"B main.go:10:main.work",
		"B main.go:12:len",
		"E main.go:12:len",
		"E main.go:10:main.work",
	}
	if got := spanNames(spans); !slices.Equal(got, want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}

	wantCats := []string{CategoryFrameStart, "builtin_function", CategoryCReturn, CategoryFrameReturn}
	for i, s := range spans {
		if s.Category != wantCats[i] {
			t.Errorf("span %d: expected category %s, got %s", i, wantCats[i], s.Category)
		}
	}

	wantTS := []float64{0, 0.1, 0.2, 0.3}
	for i, s := range spans {
		if s.TS != wantTS[i] {
			t.Errorf("span %d: expected ts %v, got %v", i, wantTS[i], s.TS)
		}
	}

	if spans[1].Args["arg0"] != "int" {
		t.Errorf("Expected arg0=int, got %v", spans[1].Args)
	}
	if spans[2].Args["retval"] != "int" {
		t.Errorf("Expected retval=int on c_return, got %v", spans[2].Args)
	}
	if spans[3].Args["retval"] != "nil" {
		t.Errorf("Expected retval=nil on frame_return, got %v", spans[3].Args)
	}
	if len(spans[0].Args) != 0 {
		t.Errorf("Expected empty args on first frame, got %v", spans[0].Args)
	}

	if stats.Orphans != 0 || stats.Unclosed != 0 || stats.Leading != 0 || stats.Trailing != 0 {
		t.Errorf("Expected nothing pruned, got %+v", stats)
	}
	if stats.Spans != 4 || stats.Notifications != 4 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestReconcileRaiseDiscardsOnlyTheRaisingCall(t *testing.T) {
	ns := []Notification{
		callN(1, "a.go", 3, "A"),
		builtinCall(2, "a.go", 5, "B"),
		cRaise(3, "a.go", 5, "B"),
		frameReturn(4, frameCode("a.go", 3, "A")),
	}

	spans, stats, err := Reconcile(ns, 0, nil)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	want := []string{"B a.go:3:A", "E a.go:3:A"}
	if got := spanNames(spans); !slices.Equal(got, want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	if stats.Orphans != 1 {
		t.Errorf("Expected 1 orphan, got %d", stats.Orphans)
	}
}

func TestReconcileDropsLeadingEnds(t *testing.T) {
	ns := []Notification{
		cReturn(1, "x.go", 1, "X"),
		callN(2, "a.go", 3, "A"),
		frameReturn(3, frameCode("a.go", 3, "A")),
	}

	spans, stats, err := Reconcile(ns, 0, nil)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	want := []string{"B a.go:3:A", "E a.go:3:A"}
	if got := spanNames(spans); !slices.Equal(got, want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	if stats.Leading != 1 {
		t.Errorf("Expected 1 leading notification dropped, got %d", stats.Leading)
	}
}

func TestReconcileDropsTrailingBegins(t *testing.T) {
	ns := []Notification{
		callN(1, "a.go", 3, "A"),
		callN(2, "a.go", 4, "B"),
	}

	spans, stats, err := Reconcile(ns, 0, nil)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if len(spans) != 0 {
		t.Errorf("Expected no spans, got %v", spanNames(spans))
	}
	if stats.Trailing != 2 {
		t.Errorf("Expected 2 trailing notifications dropped, got %d", stats.Trailing)
	}
}

func TestReconcileDiscardsUnclosedBegins(t *testing.T) {
	outer := frameCode("m.go", 1, "outer")
	inner := frameCode("m.go", 20, "inner")
	ns := []Notification{
		frameStart(1, outer),
		frameStart(2, inner),
		frameReturn(3, inner),
	}

	spans, stats, err := Reconcile(ns, 0, nil)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	want := []string{"B m.go:20:inner", "E m.go:20:inner"}
	if got := spanNames(spans); !slices.Equal(got, want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	if stats.Unclosed != 1 {
		t.Errorf("Expected 1 unclosed begin, got %d", stats.Unclosed)
	}
}

func TestReconcileOrphanKeepsSiblingOrder(t *testing.T) {
	parent := frameCode("p.go", 1, "parent")
	child := frameCode("p.go", 30, "child")
	ns := []Notification{
		frameStart(1, parent),
		builtinCall(2, "p.go", 5, "lost"),
		frameStart(3, child),
		frameReturn(4, child),
		frameStart(5, child),
		frameReturn(6, child),
		frameReturn(7, parent),
	}

	spans, stats, err := Reconcile(ns, 0, nil)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	want := []string{
		"B p.go:1:parent",
		"B p.go:30:child",
		"E p.go:30:child",
		"B p.go:30:child",
		"E p.go:30:child",
		"E p.go:1:parent",
	}
	if got := spanNames(spans); !slices.Equal(got, want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	if stats.Orphans != 1 {
		t.Errorf("Expected 1 orphan, got %d", stats.Orphans)
	}

	for i := 1; i < len(spans); i++ {
		if spans[i].TS < spans[i-1].TS {
			t.Errorf("Timestamps decrease at %d: %v < %v", i, spans[i].TS, spans[i-1].TS)
		}
	}
}

func TestReconcileUnderflowIsFatal(t *testing.T) {
	a := frameCode("u.go", 1, "A")
	ns := []Notification{
		frameStart(1, a),
		frameReturn(2, a),
		frameReturn(3, frameCode("u.go", 9, "B")),
	}

	_, _, err := Reconcile(ns, 0, nil)
	if !errors.Is(err, ErrUnbalanced) {
		t.Fatalf("Expected ErrUnbalanced, got %v", err)
	}
}

func TestReconcileFrameInheritsDispatchArgs(t *testing.T) {
	f := frameCode("f.go", 20, "pkg.f")
	call := callN(1, "m.go", 7, "pkg.f")
	call.Arg = "[]int"
	ns := []Notification{
		call,
		frameStart(2, f),
		frameReturn(3, f),
	}

	spans, _, err := Reconcile(ns, 0, nil)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	// The dispatching call itself is never closed and is discarded.
	want := []string{"B f.go:20:pkg.f", "E f.go:20:pkg.f"}
	if got := spanNames(spans); !slices.Equal(got, want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	if spans[0].Args["arg0"] != "[]int" {
		t.Errorf("Expected frame to inherit arg0=[]int, got %v", spans[0].Args)
	}
}

func TestReconcileFrameIgnoresForeignCallArgs(t *testing.T) {
	f := frameCode("f.go", 20, "pkg.cb")
	ns := []Notification{
		builtinCall(1, "m.go", 7, "sort.Slice"),
		frameStart(2, f),
		frameReturn(3, f),
		cReturn(4, "m.go", 7, "sort.Slice"),
	}

	spans, _, err := Reconcile(ns, 0, nil)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if len(spans) != 4 {
		t.Fatalf("Expected 4 spans, got %v", spanNames(spans))
	}
	if len(spans[1].Args) != 0 {
		t.Errorf("Expected frame under foreign call to have no args, got %v", spans[1].Args)
	}
}

func TestReconcileEmpty(t *testing.T) {
	spans, stats, err := Reconcile(nil, 0, nil)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if len(spans) != 0 || stats.Spans != 0 {
		t.Errorf("Expected no spans, got %d", len(spans))
	}
}

func TestReconcileBuildsOneLineTablePerCode(t *testing.T) {
	code := &Code{
		Filename:  "loop.go",
		QualName:  "loop",
		FirstLine: 1,
		Lines:     []LineEntry{{Start: 0, Line: 1}, {Start: 8, Line: 4}},
	}
	var ns []Notification
	for i := 0; i < 50; i++ {
		c := Notification{Kind: EventCall, TS: int64(2 * i), Loc: Location{Code: code, Offset: 8}, Target: Builtin("len")}
		r := c
		r.Kind = EventCReturn
		r.TS++
		ns = append(ns, c, r)
	}

	resolver := NewResolver()
	spans, _, err := Reconcile(ns, 0, resolver)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if len(spans) != 100 {
		t.Errorf("Expected 100 spans, got %d", len(spans))
	}
	if spans[0].Name != "loop.go:4:len" {
		t.Errorf("Expected loop.go:4:len, got %s", spans[0].Name)
	}
	if resolver.CachedTables() != 1 {
		t.Errorf("Expected 1 cached line table, got %d", resolver.CachedTables())
	}
}
