// Package workload holds the instrumented programs the calltrace CLI can run.
package workload

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/zoobzio/calltrace"
)

// ErrUnknown is returned by Lookup for unregistered names.
var ErrUnknown = errors.New("unknown workload")

// ErrFailed is returned by the "fail" workload.
var ErrFailed = errors.New("workload failed")

// Workload is a program instrumented with a calltrace.Probe.
type Workload struct {
	Run         func(p *calltrace.Probe) error
	Name        string
	Description string
}

var registry = map[string]Workload{}

func register(w Workload) {
	if _, ok := registry[w.Name]; ok {
		panic("workload registered twice: " + w.Name)
	}
	registry[w.Name] = w
}

func init() {
	register(Workload{Name: "matmul", Description: "multiply two random 8x8 matrices", Run: runMatmul})
	register(Workload{Name: "fib", Description: "recursive fibonacci of 12", Run: runFib})
	register(Workload{Name: "raise", Description: "foreign call that panics and is recovered", Run: runRaise})
	register(Workload{Name: "fail", Description: "returns an error after partial work", Run: runFail})
}

// All returns every registered workload sorted by name.
func All() []Workload {
	out := make([]Workload, 0, len(registry))
	for _, w := range registry {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the registered workload names, sorted.
func Names() []string {
	all := All()
	names := make([]string, len(all))
	for i, w := range all {
		names[i] = w.Name
	}
	return names
}

// Lookup returns the workload registered under name.
func Lookup(name string) (Workload, error) {
	w, ok := registry[name]
	if !ok {
		return Workload{}, fmt.Errorf("%w: %q (expected one of: %s)", ErrUnknown, name, strings.Join(Names(), ", "))
	}
	return w, nil
}

func runFib(p *calltrace.Probe) error {
	p.Call(calltrace.Func(Fib), 12)
	Fib(p, 12)
	return nil
}

// Fib computes the n-th fibonacci number recursively, reporting every frame.
func Fib(p *calltrace.Probe, n int) int {
	f := p.Enter()
	r := n
	if n >= 2 {
		p.Call(calltrace.Func(Fib), n-1)
		a := Fib(p, n-1)
		p.Call(calltrace.Func(Fib), n-2)
		r = a + Fib(p, n-2)
	}
	f.Return(r)
	return r
}

func runRaise(p *calltrace.Probe) error {
	defer p.Enter().Exit()

	parse(p, "42")
	parse(p, "forty-two")
	parse(p, "7")
	return nil
}

// parse converts s through a foreign call that panics on bad input; the panic
// is recovered here.
func parse(p *calltrace.Probe, s string) (n int) {
	f := p.Enter()
	defer func() {
		if recover() != nil {
			n = -1
		}
		f.Return(n)
	}()

	p.CallForeign(calltrace.Builtin("strconv.Atoi"), func() {
		v, err := strconv.Atoi(s)
		if err != nil {
			panic(err)
		}
		n = v
	}, s)
	return n
}

func runFail(p *calltrace.Probe) error {
	defer p.Enter().Exit()

	p.Call(calltrace.Func(Fib), 5)
	Fib(p, 5)
	return ErrFailed
}
