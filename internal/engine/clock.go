package engine

import "sync/atomic"

// TransactionID numbers universe transactions. Ids are strictly increasing
// within one universe and are stamped on changed mutables through ChangeID.
type TransactionID int64

// Clock issues transaction ids.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
// In practice only the universe main loop calls Next().
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock that continues after start.
func NewClockAt(start TransactionID) *Clock {
	c := &Clock{}
	c.seq.Store(int64(start))
	return c
}

// Next returns the next transaction id.
func (c *Clock) Next() TransactionID {
	return TransactionID(c.seq.Add(1))
}

// Current returns the last issued id without incrementing.
func (c *Clock) Current() TransactionID {
	return TransactionID(c.seq.Load())
}
