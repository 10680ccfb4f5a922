package ingest

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

var baseRates = map[string]float64{
	"EURUSD": 1.0825,
	"GBPUSD": 1.2710,
	"USDJPY": 150.20,
	"USDCHF": 0.8840,
	"AUDUSD": 0.6550,
	"USDCAD": 1.3560,
	"NZDUSD": 0.6080,
}

// Generator produces a synthetic random-walk feed. Pair popularity is
// skewed: the first pair is picked most often and the last one rarely, so
// a demo exercises the fairness of the subscriber mailboxes.
type Generator struct {
	pairs    []string
	interval time.Duration
	pub      Publisher
	rng      *rand.Rand

	rates   []float64
	weights []float64
	total   float64
}

// NewGenerator panics if pairs is empty.
func NewGenerator(pairs []string, interval time.Duration, pub Publisher, seed uint64) *Generator {
	if len(pairs) == 0 {
		panic("ingest: generator needs at least one pair")
	}
	g := &Generator{
		pairs:    pairs,
		interval: interval,
		pub:      pub,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		rates:    make([]float64, len(pairs)),
		weights:  make([]float64, len(pairs)),
	}
	for i, p := range pairs {
		r, ok := baseRates[p]
		if !ok {
			r = 1
		}
		g.rates[i] = r
		g.weights[i] = 1 / float64(i+1) // Zipf-like
		g.total += g.weights[i]
	}
	return g
}

// Next advances one pair by a small relative step and returns it.
func (g *Generator) Next() (string, float64) {
	i := g.pick()
	step := g.rng.NormFloat64() * 0.0002
	g.rates[i] *= math.Exp(step)
	return g.pairs[i], roundTo(g.rates[i], 5)
}

func (g *Generator) pick() int {
	x := g.rng.Float64() * g.total
	for i, w := range g.weights {
		if x < w {
			return i
		}
		x -= w
	}
	return len(g.weights) - 1
}

// Run publishes one tick per interval until ctx is done. A non-positive
// interval publishes as fast as possible.
func (g *Generator) Run(ctx context.Context) error {
	if g.interval <= 0 {
		for ctx.Err() == nil {
			g.pub.Publish(g.Next())
		}
		return nil
	}

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			g.pub.Publish(g.Next())
		}
	}
}

func roundTo(v float64, digits int) float64 {
	p := math.Pow10(digits)
	return math.Round(v*p) / p
}
