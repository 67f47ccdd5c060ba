package cabs

import (
	"sync/atomic"
)

// Nexter is a threadsafe monotonic sequence generator. The landers use it to
// number the part files they write.
type Nexter struct {
	id *uint64
}

// NexterOption configures a Nexter.
type NexterOption func(n *Nexter)

// NexterStartFrom makes the first call to Next return s.
func NexterStartFrom(s uint64) NexterOption {
	return func(n *Nexter) {
		*n.id = s
	}
}

// NewNexter creates a new sequence generator starting at 0 unless an option
// says otherwise.
func NewNexter(opts ...NexterOption) *Nexter {
	var id uint64
	n := &Nexter{
		id: &id,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Next returns the next value in the sequence.
func (n *Nexter) Next() (nextID uint64) {
	nextID = atomic.AddUint64(n.id, 1)
	return nextID - 1
}

// Last returns the most recently generated value.
func (n *Nexter) Last() (lastID uint64) {
	lastID = atomic.LoadUint64(n.id) - 1
	return
}
