package registry

import (
	"fmt"
	"net"
	"sync"
)

// PortAllocator hands out ports from the configured range. An allocation
// succeeds only when the port is both unassigned in the runtime table and
// actually bindable on the loopback interface.
type PortAllocator struct {
	min, max int

	mu       sync.Mutex
	assigned map[int]string // port -> module_id
}

// NewPortAllocator creates an allocator over [min, max].
func NewPortAllocator(min, max int) *PortAllocator {
	if max < min {
		min, max = max, min
	}
	return &PortAllocator{min: min, max: max, assigned: make(map[int]string)}
}

// Allocate returns the lowest free port >= requested, wrapping around the
// range once. A requested port outside the range scans from the range start.
func (a *PortAllocator) Allocate(moduleID string, requested int) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := requested
	if start < a.min || start > a.max {
		start = a.min
	}

	size := a.max - a.min + 1
	for i := 0; i < size; i++ {
		port := a.min + ((start-a.min)+i)%size
		if _, taken := a.assigned[port]; taken {
			continue
		}
		if !bindable(port) {
			continue
		}
		a.assigned[port] = moduleID
		return port, nil
	}
	return 0, fmt.Errorf("%w: no free port in %d-%d for %s", ErrPortExhausted, a.min, a.max, moduleID)
}

// Release frees a port. Unknown ports are ignored.
func (a *PortAllocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.assigned, port)
}

// bindable probes the port with a real bind that is released immediately.
func bindable(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	l.Close()
	return true
}
