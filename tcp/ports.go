package tcp

import "math/bits"

// minEphemeralPort is the first port handed out by the allocator. Ports
// below it are reserved for well-known services and are only bound
// explicitly.
const minEphemeralPort = 1024

// portAllocator tracks allocated local ports in a bitmap. Ephemeral
// allocation uses a rolling cursor so recently released ports are not
// immediately reused. Single-writer; the manager serializes access.
type portAllocator struct {
	bitmap [65536 / 64]uint64
	cursor uint32
	inUse  int
}

func newPortAllocator() *portAllocator {
	return &portAllocator{cursor: minEphemeralPort}
}

func (pa *portAllocator) isAllocated(port uint16) bool {
	return pa.bitmap[port/64]&(1<<(port%64)) != 0
}

func (pa *portAllocator) set(port uint16) {
	pa.bitmap[port/64] |= 1 << (port % 64)
	pa.inUse++
}

// allocate returns a free ephemeral port, never below minEphemeralPort.
// The cursor rolls forward so consecutive allocations spread across the
// range; it wraps back to minEphemeralPort at the top.
func (pa *portAllocator) allocate() (uint16, error) {
	const span = 65536 - minEphemeralPort
	for i := 0; i < span; i++ {
		port := uint16(pa.cursor)
		pa.cursor++
		if pa.cursor > 0xffff {
			pa.cursor = minEphemeralPort
		}
		if !pa.isAllocated(port) {
			pa.set(port)
			return port, nil
		}
	}
	return 0, ErrNoPortsAvailable
}

// allocateSpecific binds the exact port, failing with [ErrPortInUse] if
// already allocated.
func (pa *portAllocator) allocateSpecific(port uint16) error {
	if pa.isAllocated(port) {
		return ErrPortInUse
	}
	pa.set(port)
	return nil
}

// release frees a previously allocated port. Releasing a free port is a
// no-op.
func (pa *portAllocator) release(port uint16) {
	if !pa.isAllocated(port) {
		return
	}
	pa.bitmap[port/64] &^= 1 << (port % 64)
	pa.inUse--
}

// allocated returns the number of ports currently bound.
func (pa *portAllocator) allocated() int { return pa.inUse }

// allocatedSlow recounts the bitmap. Used to cross-check bookkeeping in
// tests.
func (pa *portAllocator) allocatedSlow() int {
	n := 0
	for _, w := range pa.bitmap {
		n += bits.OnesCount64(w)
	}
	return n
}
