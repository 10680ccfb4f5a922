package bus

import "rate-throttler/internal/model"

// =============================================================================
// DELIVERY FREQUENCY RANK: fairness between pairs
// =============================================================================
//
// Every pair seen by a mailbox keeps two counters:
//   income     updates that arrived for the pair
//   delivered  value of income at the time of the last delivery
//
//   rank = delivered / income        rank ∈ [0, 1]
//
// The pair with the lowest rank is delivered next. Delivery credits the pair
// fully (delivered = income, rank = 1), so a pair that was just delivered
// loses priority to anything that has arrived since. A pair updated once and
// never delivered sits at rank 0 and wins over a hot pair that only slipped
// to n/(n+1) after its last delivery.
//
// Only the latest value per pair is retained: memory is O(pairs), not
// O(updates). When every pair has rank 1 there is nothing to deliver.
//
// Ties go to the pair that was seen first.
// =============================================================================

// Strategy decides which buffered pair is delivered next.
// Implementations are not safe for concurrent use; the Mailbox guards them.
type Strategy interface {
	// Push records an arrival. It reports whether an undelivered value for
	// the same pair was overwritten.
	Push(u model.Update) bool
	// Pop returns the next value due for delivery, or false when every
	// pair is caught up.
	Pop() (model.Update, bool)
	// Empty reports whether Pop would return false.
	Empty() bool
	// Len returns the number of distinct pairs tracked.
	Len() int
}

type keyStat struct {
	latest    model.Update
	income    uint64
	delivered uint64
}

func (s *keyStat) rank() float64 {
	if s.income == 0 {
		return 0
	}
	return float64(s.delivered) / float64(s.income)
}

func (s *keyStat) caughtUp() bool {
	return s.delivered == s.income
}

// RankStrategy implements Strategy using the delivery frequency rank.
type RankStrategy struct {
	stats map[string]*keyStat
	order []*keyStat // first-seen order, drives the tie-break
}

// NewRankStrategy returns an empty RankStrategy.
func NewRankStrategy() *RankStrategy {
	return &RankStrategy{
		stats: make(map[string]*keyStat),
	}
}

func (r *RankStrategy) Push(u model.Update) bool {
	st, ok := r.stats[u.Key]
	if !ok {
		st = &keyStat{latest: u, income: 1}
		r.stats[u.Key] = st
		r.order = append(r.order, st)
		return false
	}

	coalesced := !st.caughtUp()
	st.income++
	st.latest = u
	return coalesced
}

func (r *RankStrategy) Pop() (model.Update, bool) {
	st := r.minRank()
	if st == nil || st.caughtUp() {
		return model.Update{}, false
	}
	st.delivered = st.income
	return st.latest, true
}

func (r *RankStrategy) Empty() bool {
	for _, st := range r.order {
		if !st.caughtUp() {
			return false
		}
	}
	return true
}

func (r *RankStrategy) Len() int {
	return len(r.order)
}

// Rank returns the current rank of key, and false if the key was never seen.
func (r *RankStrategy) Rank(key string) (float64, bool) {
	st, ok := r.stats[key]
	if !ok {
		return 0, false
	}
	return st.rank(), true
}

// minRank scans in first-seen order; strict comparison keeps the earliest
// pair on equal ranks.
func (r *RankStrategy) minRank() *keyStat {
	var best *keyStat
	minRank := 0.0
	for _, st := range r.order {
		rank := st.rank()
		if best == nil || rank < minRank {
			best, minRank = st, rank
		}
	}
	return best
}
