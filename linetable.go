package calltrace

import (
	"slices"
	"sort"
)

// LineTable resolves instruction offsets of one code object to source lines.
// Boundaries are sorted ascending; Lines is parallel to Boundaries.
type LineTable struct {
	Boundaries []int
	Lines      []int
	firstLine  int
}

// NewLineTable builds a table from raw line entries. Entries may arrive in any
// order; for duplicate starts the last entry wins.
func NewLineTable(code *Code) *LineTable {
	t := &LineTable{}
	if code == nil {
		return t
	}
	t.firstLine = code.FirstLine

	entries := slices.Clone(code.Lines)
	slices.SortStableFunc(entries, func(a, b LineEntry) int {
		return a.Start - b.Start
	})

	t.Boundaries = make([]int, 0, len(entries))
	t.Lines = make([]int, 0, len(entries))
	for _, e := range entries {
		if n := len(t.Boundaries); n > 0 && t.Boundaries[n-1] == e.Start {
			t.Lines[n-1] = e.Line
			continue
		}
		t.Boundaries = append(t.Boundaries, e.Start)
		t.Lines = append(t.Lines, e.Line)
	}
	return t
}

// Lookup returns the line of the greatest boundary <= offset.
// Offsets before the first boundary, and empty tables, resolve to the
// code's first line.
func (t *LineTable) Lookup(offset int) int {
	i := sort.SearchInts(t.Boundaries, offset+1) - 1
	if i < 0 {
		return t.firstLine
	}
	return t.Lines[i]
}

// lineCache holds one LineTable per code object.
type lineCache map[*Code]*LineTable

func (c lineCache) table(code *Code) *LineTable {
	if t, ok := c[code]; ok {
		return t
	}
	t := NewLineTable(code)
	c[code] = t
	return t
}
