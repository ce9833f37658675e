package workload

import (
	"errors"
	"math"
	"math/rand/v2"

	"github.com/zoobzio/calltrace"
)

const matrixSize = 8

// Matrix is a square row-major matrix.
type Matrix struct {
	data []float64
	n    int
}

// NewRandom fills an n by n matrix from rng.
func NewRandom(p *calltrace.Probe, rng *rand.Rand, n int) *Matrix {
	f := p.Enter()
	m := &Matrix{n: n}
	p.CallForeign(calltrace.Builtin("make"), func() {
		m.data = make([]float64, n*n)
	}, n*n)
	for i := range m.data {
		m.data[i] = rng.Float64()
	}
	f.Return(m)
	return m
}

// Mul returns m times o. Every row product is reported as a foreign call.
func (m *Matrix) Mul(p *calltrace.Probe, o *Matrix) *Matrix {
	f := p.Enter()
	out := &Matrix{n: m.n, data: make([]float64, m.n*m.n)}
	for i := 0; i < m.n; i++ {
		row := m.data[i*m.n : (i+1)*m.n]
		p.CallForeign(calltrace.Builtin("dot"), func() {
			for j := 0; j < o.n; j++ {
				var sum float64
				for k, v := range row {
					sum = math.FMA(v, o.data[k*o.n+j], sum)
				}
				out.data[i*out.n+j] = sum
			}
		}, row)
	}
	f.Return(out)
	return out
}

// Trace returns the sum of the diagonal.
func (m *Matrix) Trace() float64 {
	var t float64
	for i := 0; i < m.n; i++ {
		t += m.data[i*m.n+i]
	}
	return t
}

func (*Matrix) traceName() string {
	return "Matrix.Trace"
}

func runMatmul(p *calltrace.Probe) error {
	defer p.Enter().Exit()

	rng := rand.New(rand.NewPCG(1, 2))
	p.Call(calltrace.Func(NewRandom), matrixSize)
	a := NewRandom(p, rng, matrixSize)
	p.Call(calltrace.Func(NewRandom), matrixSize)
	b := NewRandom(p, rng, matrixSize)

	p.Call(calltrace.Func(a.Mul), b)
	c := a.Mul(p, b)

	// The trace is taken through a weak reference so the call target does not
	// keep the product alive.
	var tr float64
	p.CallForeign(calltrace.WeakTarget(calltrace.NewWeakRef(c, (*Matrix).traceName)), func() {
		tr = c.Trace()
	})
	if math.IsNaN(tr) {
		return errors.New("matmul: trace is NaN")
	}
	return nil
}
