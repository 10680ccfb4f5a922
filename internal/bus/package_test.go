package bus_test

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// priceRecorder is a Subscriber that remembers the last rate per pair.
type priceRecorder struct {
	delay time.Duration
	gate  chan struct{}

	mu    sync.Mutex
	last  map[string]float64
	calls int
}

func newRecorder(delay time.Duration) *priceRecorder {
	return &priceRecorder{delay: delay, last: make(map[string]float64)}
}

// newGatedRecorder blocks inside OnPrice until gate is closed.
func newGatedRecorder() *priceRecorder {
	return &priceRecorder{gate: make(chan struct{}), last: make(map[string]float64)}
}

func (r *priceRecorder) OnPrice(ccyPair string, rate float64) error {
	if r.gate != nil {
		<-r.gate
	}
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	r.last[ccyPair] = rate
	r.calls++
	r.mu.Unlock()
	return nil
}

func (r *priceRecorder) prices() map[string]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]float64, len(r.last))
	for k, v := range r.last {
		out[k] = v
	}
	return out
}

func (r *priceRecorder) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}
