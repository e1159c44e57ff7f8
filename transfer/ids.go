package transfer

import "sync/atomic"

// IDAllocator hands out transfer ids for the life of the process. Zero is
// never returned.
type IDAllocator struct {
	last atomic.Uint64
}

// Next returns a fresh id.
func (a *IDAllocator) Next() uint64 {
	return a.last.Add(1)
}
