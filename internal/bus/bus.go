package bus

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rate-throttler/internal/model"
)

// Bus fans rate updates out to subscribers. Every subscriber gets its own
// Mailbox and worker goroutine, so a slow subscriber only delays itself.
//
// Publish reads an immutable snapshot of the registry and never takes the
// registry lock; Subscribe, Unsubscribe and Close serialize on mu and swap
// in a fresh snapshot.
type Bus struct {
	mu       sync.Mutex
	registry atomic.Pointer[registry]
	closed   bool
	workers  sync.WaitGroup

	logger      *zap.Logger
	metrics     *Metrics
	onFault     FaultHandler
	newStrategy func() Strategy
}

type subscription struct {
	id      string
	sub     Subscriber
	mailbox *Mailbox
	worker  *worker
}

// registry is never mutated after it is stored.
type registry struct {
	bySub map[Subscriber]*subscription
	list  []*subscription
}

func (r *registry) without(s Subscriber) *registry {
	next := &registry{
		bySub: make(map[Subscriber]*subscription, len(r.bySub)),
		list:  make([]*subscription, 0, len(r.list)),
	}
	for _, sn := range r.list {
		if sn.sub == s {
			continue
		}
		next.bySub[sn.sub] = sn
		next.list = append(next.list, sn)
	}
	return next
}

func (r *registry) with(sn *subscription) *registry {
	next := &registry{
		bySub: make(map[Subscriber]*subscription, len(r.bySub)+1),
		list:  make([]*subscription, 0, len(r.list)+1),
	}
	for _, cur := range r.list {
		next.bySub[cur.sub] = cur
		next.list = append(next.list, cur)
	}
	next.bySub[sn.sub] = sn
	next.list = append(next.list, sn)
	return next
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(b *Bus) {
		b.metrics = m
	}
}

// WithFaultHandler routes delivery faults to fn instead of the logger.
func WithFaultHandler(fn FaultHandler) Option {
	return func(b *Bus) {
		b.onFault = fn
	}
}

// WithStrategy sets the constructor used for every new mailbox.
func WithStrategy(fn func() Strategy) Option {
	return func(b *Bus) {
		if fn != nil {
			b.newStrategy = fn
		}
	}
}

// New creates an empty Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		logger:      zap.NewNop(),
		newStrategy: func() Strategy { return NewRankStrategy() },
	}
	for _, opt := range opts {
		opt(b)
	}
	b.registry.Store(&registry{bySub: map[Subscriber]*subscription{}})
	return b
}

// Publish offers the update to every current subscriber. It never blocks
// on subscriber processing and never fails.
func (b *Bus) Publish(ccyPair string, rate float64) {
	u := model.Update{Key: ccyPair, Rate: rate}
	reg := b.registry.Load()

	b.metrics.incPublished()
	for _, sn := range reg.list {
		accepted, coalesced := sn.mailbox.Offer(u)
		switch {
		case !accepted:
			b.metrics.incDropped()
		case coalesced:
			b.metrics.incCoalesced()
		}
	}
}

// OnPrice lets a Bus subscribe to another Bus.
func (b *Bus) OnPrice(ccyPair string, rate float64) error {
	b.Publish(ccyPair, rate)
	return nil
}

// Subscribe registers s and starts its worker. Subscribing an already
// registered subscriber is a no-op.
func (b *Bus) Subscribe(s Subscriber) error {
	if !hashable(s) {
		return ErrNotComparable
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	reg := b.registry.Load()
	if _, ok := reg.bySub[s]; ok {
		return nil
	}

	sn := &subscription{
		id:      uuid.NewString(),
		sub:     s,
		mailbox: NewMailbox(b.newStrategy()),
	}
	b.workers.Add(1)
	sn.worker = startWorker(sn.id, s, sn.mailbox, b.logger, b.metrics, b.onFault, b.workers.Done)

	next := reg.with(sn)
	b.registry.Store(next)
	b.metrics.setSubscribers(len(next.list))
	b.logger.Info("subscribed", zap.String("subscription", sn.id), zap.Int("subscribers", len(next.list)))
	return nil
}

// Unsubscribe removes s. Publishes that start after Unsubscribe returns do
// not reach s; the worker exits on its own once any in-flight OnPrice call
// returns. Unknown subscribers are ignored.
func (b *Bus) Unsubscribe(s Subscriber) {
	if !hashable(s) {
		return
	}

	b.mu.Lock()
	reg := b.registry.Load()
	sn, ok := reg.bySub[s]
	if !ok {
		b.mu.Unlock()
		return
	}
	next := reg.without(s)
	b.registry.Store(next)
	b.mu.Unlock()

	sn.worker.Kill()
	b.metrics.setSubscribers(len(next.list))
	b.logger.Info("unsubscribed", zap.String("subscription", sn.id), zap.Int("subscribers", len(next.list)))
}

// Close unsubscribes everyone and waits for every worker, including ones
// unsubscribed earlier whose callbacks are still running. Calling Close
// again does nothing.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	reg := b.registry.Load()
	b.registry.Store(&registry{bySub: map[Subscriber]*subscription{}})
	b.mu.Unlock()

	for _, sn := range reg.list {
		sn.worker.Kill()
	}
	b.workers.Wait()

	b.metrics.setSubscribers(0)
	b.logger.Info("bus closed", zap.Int("subscribers", len(reg.list)))
}

// hashable reports whether s can be a registry key. A comparable type can
// still hold an uncomparable dynamic value in an interface field, so the
// check hashes s rather than inspecting its type.
func hashable(s Subscriber) (ok bool) {
	if s == nil {
		return false
	}
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	_ = map[Subscriber]struct{}{s: {}}
	return true
}

// Len returns the number of registered subscribers.
func (b *Bus) Len() int {
	return len(b.registry.Load().list)
}

// Subscribed reports whether s is currently registered.
func (b *Bus) Subscribed(s Subscriber) bool {
	if !hashable(s) {
		return false
	}
	_, ok := b.registry.Load().bySub[s]
	return ok
}
