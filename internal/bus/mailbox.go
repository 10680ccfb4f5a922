package bus

import (
	"context"
	"sync"

	"rate-throttler/internal/model"
)

// Mailbox sits between the publisher and exactly one worker.
//
// Offer never blocks; Take blocks until the strategy has something due or
// the mailbox is cancelled. One mutex guards the strategy and the closed
// flag. Wakeups travel through a single-slot channel so an Offer that lands
// between the emptiness check and the wait is never lost.
type Mailbox struct {
	mu       sync.Mutex
	strategy Strategy
	closed   bool

	ready chan struct{}
	done  chan struct{}
	once  sync.Once
}

// NewMailbox wraps strategy. A nil strategy means a RankStrategy.
func NewMailbox(strategy Strategy) *Mailbox {
	if strategy == nil {
		strategy = NewRankStrategy()
	}
	return &Mailbox{
		strategy: strategy,
		ready:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Offer hands u to the strategy. accepted is false when the mailbox was
// already cancelled and u was dropped; coalesced is true when u replaced a
// value that had not been delivered yet.
func (m *Mailbox) Offer(u model.Update) (accepted, coalesced bool) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false, false
	}
	coalesced = m.strategy.Push(u)
	m.mu.Unlock()

	select {
	case m.ready <- struct{}{}:
	default:
		// A wakeup is already pending.
	}
	return true, coalesced
}

// Take returns the next update due for delivery. It returns
// ErrMailboxClosed once the mailbox is cancelled, even if values are still
// buffered, and ctx.Err() if ctx is done first.
func (m *Mailbox) Take(ctx context.Context) (model.Update, error) {
	for {
		u, ok, err := m.next()
		if err != nil {
			return model.Update{}, err
		}
		if ok {
			return u, nil
		}

		select {
		case <-m.ready:
		case <-m.done:
		case <-ctx.Done():
			return model.Update{}, ctx.Err()
		}
	}
}

// Poll is the non-blocking form of Take.
func (m *Mailbox) Poll() (model.Update, bool) {
	u, ok, _ := m.next()
	return u, ok
}

func (m *Mailbox) next() (model.Update, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return model.Update{}, false, ErrMailboxClosed
	}
	u, ok := m.strategy.Pop()
	return u, ok, nil
}

// Cancel marks the mailbox terminal and wakes every waiter. Safe to call
// more than once.
func (m *Mailbox) Cancel() {
	m.once.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		close(m.done)
	})
}

// Done is closed after Cancel.
func (m *Mailbox) Done() <-chan struct{} {
	return m.done
}

// Pending reports whether a value is due for delivery.
func (m *Mailbox) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed && !m.strategy.Empty()
}

// Keys returns the number of distinct pairs the mailbox has seen.
func (m *Mailbox) Keys() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.strategy.Len()
}
