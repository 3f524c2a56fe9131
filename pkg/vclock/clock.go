// Package vclock implements a per-document vector clock.
//
// From Fidge (1988) and Mattern (1989), a vector clock assigns each
// participant its own counter. Two rules govern the clock:
//
//	Local event: before an author's edit is accepted, increment that
//	     author's component by exactly one.
//	Merge: on receiving a remote clock, take the component-wise maximum.
//
// Unlike a scalar Lamport clock, a vector clock can distinguish causally
// ordered events from concurrent ones: clock A dominates B iff A[k] >= B[k]
// for every key present in either clock, and two clocks are concurrent iff
// neither dominates the other.
//
// The LastWriterWins function breaks ties between concurrent writes
// deterministically using wall-clock timestamps and author IDs, giving
// every replica the same outcome without coordination.
//
// Note: Clock is a plain map and not goroutine-safe. Each Clock instance
// is owned by exactly one document; mutation happens only inside the
// document's apply section.
package vclock

import "time"

// Clock maps author identity to a non-negative per-author counter.
type Clock map[string]int64

// New returns an empty clock.
func New() Clock {
	return make(Clock)
}

// Increment advances the author's component by one and returns the new value.
func (c Clock) Increment(author string) int64 {
	c[author]++
	return c[author]
}

// Get returns the author's counter (0 if the author is unknown).
func (c Clock) Get(author string) int64 { return c[author] }

// Merge folds other into c by taking the component-wise maximum.
func (c Clock) Merge(other Clock) {
	for author, count := range other {
		if count > c[author] {
			c[author] = count
		}
	}
}

// Dominates reports whether c >= other on every component present in
// either clock. A clock dominates itself.
func (c Clock) Dominates(other Clock) bool {
	for author, count := range other {
		if c[author] < count {
			return false
		}
	}
	return true
}

// Concurrent reports whether neither clock dominates the other, i.e. the
// two clocks describe causally unrelated histories. Concurrent(c, c) is
// always false.
func (c Clock) Concurrent(other Clock) bool {
	return !c.Dominates(other) && !other.Dominates(c)
}

// Equal reports whether both clocks carry identical counters. Absent keys
// compare equal to zero.
func (c Clock) Equal(other Clock) bool {
	return c.Dominates(other) && other.Dominates(c)
}

// Clone returns a deep copy of the clock.
func (c Clock) Clone() Clock {
	out := make(Clock, len(c))
	for author, count := range c {
		out[author] = count
	}
	return out
}

// LastWriterWins reports whether write A supersedes write B under the
// last-writer-wins rule: the later timestamp wins, and equal timestamps
// are broken by author ID (lexicographically greater wins). For any two
// distinct writes exactly one of LastWriterWins(a, b), LastWriterWins(b, a)
// holds, so every replica resolves the same winner regardless of the
// order it saw the writes in.
func LastWriterWins(tsA time.Time, authorA string, tsB time.Time, authorB string) bool {
	if !tsA.Equal(tsB) {
		return tsA.After(tsB)
	}
	return authorA > authorB
}
