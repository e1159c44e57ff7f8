package transfer

import (
	"fmt"
	"sync"

	"filenet/models"
)

type lookupResult int

const (
	lookupUnknown lookupResult = iota
	lookupActive
	lookupCompleted
	lookupAbandoned
)

// inbox is the assembly channel of one inbound transfer.
type inbox struct {
	desc      models.BlockDescriptor
	blocks    chan Block
	done      chan struct{}
	closeOnce sync.Once
}

func (i *inbox) close() {
	i.closeOnce.Do(func() { close(i.done) })
}

// Registry maps wire transfer ids to the inbox collecting their blocks, and
// remembers ids that already ended so late duplicates can be answered.
type Registry struct {
	mu     sync.Mutex
	active map[uint64]*inbox
	ended  map[uint64]bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		active: make(map[uint64]*inbox),
		ended:  make(map[uint64]bool),
	}
}

func (r *Registry) register(desc models.BlockDescriptor) (*inbox, error) {
	if !desc.Valid() {
		return nil, fmt.Errorf("%w: %+v", ErrInvalidDescriptor, desc)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := desc.TransferID
	if _, ok := r.active[id]; ok {
		return nil, fmt.Errorf("%w: %d", ErrDuplicateTransfer, id)
	}
	if _, ok := r.ended[id]; ok {
		// Blocks that follow the refused announcement must not be taken for
		// late copies of the earlier transfer.
		r.ended[id] = false
		return nil, fmt.Errorf("%w: %d", ErrDuplicateTransfer, id)
	}

	box := &inbox{
		desc:   desc,
		blocks: make(chan Block, 16),
		done:   make(chan struct{}),
	}
	r.active[id] = box
	return box, nil
}

func (r *Registry) lookup(id uint64) (lookupResult, *inbox) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if box, ok := r.active[id]; ok {
		return lookupActive, box
	}
	if completed, ok := r.ended[id]; ok {
		if completed {
			return lookupCompleted, nil
		}
		return lookupAbandoned, nil
	}
	return lookupUnknown, nil
}

// finish removes id from the active set. completed distinguishes a saved
// file from a failed or canceled one.
func (r *Registry) finish(id uint64, completed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if box, ok := r.active[id]; ok {
		box.close()
		delete(r.active, id)
	}
	r.ended[id] = completed
}

// Active is the number of transfers currently collecting blocks.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Known reports whether id is active or has ended.
func (r *Registry) Known(id uint64) bool {
	result, _ := r.lookup(id)
	return result != lookupUnknown
}
