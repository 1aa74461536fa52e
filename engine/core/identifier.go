package core

import (
	"fmt"
	"sync"
)

// IDAllocator hands out small integer identifiers, reusing released ones.
// Identifier 0 is never handed out so it can mean "no object".
type IDAllocator struct {
	mu     sync.Mutex
	owners []interface{}
}

func NewIDAllocator() *IDAllocator {
	return &IDAllocator{owners: make([]interface{}, 1, 100)}
}

func (a *IDAllocator) Acquire(owner interface{}) uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.owners) == 0 {
		a.owners = make([]interface{}, 1, 100)
	}
	if owner == nil {
		owner = struct{}{}
	}
	length := uint32(len(a.owners))
	for i := uint32(1); i < length; i++ {
		// Existing free spot. Take it.
		if a.owners[i] == nil {
			a.owners[i] = owner
			return i
		}
	}
	// No free slots, push a new one.
	a.owners = append(a.owners, owner)
	return uint32(len(a.owners)) - 1
}

func (a *IDAllocator) Release(id uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id == 0 || id >= uint32(len(a.owners)) {
		return fmt.Errorf("identifier release: id '%d' out of range (max=%d). Nothing was done", id, len(a.owners))
	}
	if a.owners[id] == nil {
		return fmt.Errorf("identifier release: id '%d' is not in use", id)
	}
	a.owners[id] = nil
	return nil
}

func (a *IDAllocator) Owner(id uint32) (interface{}, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id == 0 || id >= uint32(len(a.owners)) || a.owners[id] == nil {
		return nil, false
	}
	return a.owners[id], true
}

// InUse reports the number of live identifiers.
func (a *IDAllocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for i := 1; i < len(a.owners); i++ {
		if a.owners[i] != nil {
			n++
		}
	}
	return n
}
