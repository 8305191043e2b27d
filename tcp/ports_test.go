package tcp

import (
	"errors"
	"testing"
)

func TestPortAllocatorNeverBelow1024(t *testing.T) {
	pa := newPortAllocator()
	seen := make(map[uint16]bool)
	for i := 0; i < 2000; i++ {
		port, err := pa.allocate()
		if err != nil {
			t.Fatal(err)
		}
		if port < minEphemeralPort {
			t.Fatalf("allocated reserved port %d", port)
		}
		if seen[port] {
			t.Fatalf("port %d allocated twice", port)
		}
		seen[port] = true
	}
	if pa.allocated() != 2000 || pa.allocatedSlow() != 2000 {
		t.Fatalf("count mismatch: fast=%d slow=%d", pa.allocated(), pa.allocatedSlow())
	}
}

func TestPortAllocatorSpecific(t *testing.T) {
	pa := newPortAllocator()
	if err := pa.allocateSpecific(80); err != nil {
		t.Fatal(err)
	}
	if err := pa.allocateSpecific(80); !errors.Is(err, ErrPortInUse) {
		t.Fatalf("double bind err=%v, want ErrPortInUse", err)
	}
	pa.release(80)
	if err := pa.allocateSpecific(80); err != nil {
		t.Fatalf("rebind after release: %v", err)
	}
	// Releasing a free port is a no-op and keeps counts consistent.
	pa.release(81)
	if pa.allocated() != pa.allocatedSlow() {
		t.Fatalf("count drift: fast=%d slow=%d", pa.allocated(), pa.allocatedSlow())
	}
}

func TestPortAllocatorExhaustion(t *testing.T) {
	pa := newPortAllocator()
	const span = 65536 - minEphemeralPort
	for i := 0; i < span; i++ {
		if _, err := pa.allocate(); err != nil {
			t.Fatalf("allocation %d failed early: %v", i, err)
		}
	}
	if _, err := pa.allocate(); !errors.Is(err, ErrNoPortsAvailable) {
		t.Fatalf("err=%v, want ErrNoPortsAvailable", err)
	}
	pa.release(40000)
	port, err := pa.allocate()
	if err != nil || port != 40000 {
		t.Fatalf("after release got %d,%v", port, err)
	}
}

func TestPortAllocatorCursorRolls(t *testing.T) {
	pa := newPortAllocator()
	a, _ := pa.allocate()
	pa.release(a)
	b, _ := pa.allocate()
	if a == b {
		t.Fatalf("cursor did not roll: %d reused immediately", a)
	}
}
