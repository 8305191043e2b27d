package packet

import (
	"bytes"
	"errors"
	"testing"
)

func TestBufferWriteReadRoundTrip(t *testing.T) {
	b, err := NewBuffer(64)
	if err != nil {
		t.Fatal(err)
	}
	msg := []byte("hello packet buffer")
	if n := b.WriteBytes(msg); n != len(msg) {
		t.Fatalf("wrote %d, want %d", n, len(msg))
	}
	if b.Len() != len(msg) {
		t.Fatalf("Len=%d, want %d", b.Len(), len(msg))
	}
	got := make([]byte, len(msg))
	if n := b.ReadBytes(got); n != len(msg) {
		t.Fatalf("read %d, want %d", n, len(msg))
	}
	if !bytes.Equal(got, msg) {
		t.Fatalf("read %q, want %q", got, msg)
	}
	// All data consumed; subsequent reads are empty, not errors.
	if n := b.ReadBytes(got); n != 0 {
		t.Fatalf("read %d after drain, want 0", n)
	}
}

func TestBufferPartialTransfers(t *testing.T) {
	b, _ := NewBuffer(8)
	n := b.WriteBytes([]byte("0123456789")) // 10 bytes into capacity 8.
	if n != 8 {
		t.Fatalf("short write returned %d, want 8", n)
	}
	if b.Remaining() != 0 {
		t.Fatalf("Remaining=%d, want 0", b.Remaining())
	}
	small := make([]byte, 3)
	if n := b.ReadBytes(small); n != 3 {
		t.Fatalf("partial read %d, want 3", n)
	}
	if string(small) != "012" {
		t.Fatalf("partial read got %q", small)
	}
}

func TestNewBufferSizeValidation(t *testing.T) {
	for _, capacity := range []int{0, -1, MaxPacketSize + 1} {
		if _, err := NewBuffer(capacity); !errors.Is(err, ErrInvalidSize) {
			t.Errorf("NewBuffer(%d) err=%v, want ErrInvalidSize", capacity, err)
		}
	}
	if _, err := NewBuffer(MaxPacketSize); err != nil {
		t.Errorf("NewBuffer(MaxPacketSize) err=%v", err)
	}
}

func TestBufferReserveHeaderSpace(t *testing.T) {
	b, _ := NewBuffer(64)
	payload := []byte("payload")
	b.WriteBytes(payload)
	if err := b.ReserveHeaderSpace(20); err != nil {
		t.Fatal(err)
	}
	if b.Len() != 20+len(payload) {
		t.Fatalf("Len=%d, want %d", b.Len(), 20+len(payload))
	}
	if !bytes.Equal(b.Bytes()[20:], payload) {
		t.Fatalf("payload not shifted: %q", b.Bytes())
	}
	// Reservation overflowing the capacity must fail without mutating.
	if err := b.ReserveHeaderSpace(64); !errors.Is(err, ErrInvalidSize) {
		t.Fatalf("oversize reserve err=%v, want ErrInvalidSize", err)
	}
	if err := b.ReserveHeaderSpace(-1); !errors.Is(err, ErrInvalidSize) {
		t.Fatalf("negative reserve err=%v, want ErrInvalidSize", err)
	}
}

func TestBufferTrimClampsCursors(t *testing.T) {
	b, _ := NewBuffer(32)
	b.WriteBytes([]byte("0123456789"))
	var scratch [6]byte
	b.ReadBytes(scratch[:])
	b.Trim(4) // below both cursors
	if b.Len() != 4 {
		t.Fatalf("Len=%d, want 4", b.Len())
	}
	checkInvariant(t, b)
	// Growing via Trim is a no-op.
	b.Trim(30)
	if b.Len() != 4 {
		t.Fatalf("Trim grew buffer to %d", b.Len())
	}
}

func TestBufferDMAHandoff(t *testing.T) {
	b, _ := NewBuffer(16)
	ptr, capacity := b.AsDMABuffer()
	if ptr == nil || capacity != 16 {
		t.Fatalf("AsDMABuffer ptr=%v cap=%d", ptr, capacity)
	}
	if err := b.SetLength(17); !errors.Is(err, ErrInvalidSize) {
		t.Fatalf("SetLength past capacity err=%v, want ErrInvalidSize", err)
	}
	if err := b.SetLength(12); err != nil {
		t.Fatal(err)
	}
	if b.Len() != 12 {
		t.Fatalf("Len=%d after SetLength, want 12", b.Len())
	}
	_, n := b.PrepareForDMARead()
	if n != 12 {
		t.Fatalf("PrepareForDMARead n=%d, want 12", n)
	}
}

func TestBufferReset(t *testing.T) {
	b, _ := NewBuffer(16)
	b.WriteBytes([]byte("data"))
	b.Reset()
	if !b.IsEmpty() || b.Len() != 0 || b.Remaining() != 16 {
		t.Fatalf("Reset left Len=%d Remaining=%d", b.Len(), b.Remaining())
	}
}

func checkInvariant(t *testing.T, b *Buffer) {
	t.Helper()
	if !(0 <= b.readOff && b.readOff <= b.writeOff && b.writeOff <= b.length && b.length <= len(b.data)) {
		t.Fatalf("cursor invariant violated: read=%d write=%d len=%d cap=%d",
			b.readOff, b.writeOff, b.length, len(b.data))
	}
}

// FuzzBufferCursorInvariant drives a buffer with arbitrary operation
// sequences and asserts the cursor ordering holds after every step.
func FuzzBufferCursorInvariant(f *testing.F) {
	f.Add([]byte{0, 10, 1, 4, 2, 3, 3, 0, 4, 8})
	f.Add([]byte{1, 200, 0, 255, 4, 0, 2, 1})
	f.Fuzz(func(t *testing.T, ops []byte) {
		b, err := NewBuffer(64)
		if err != nil {
			t.Fatal(err)
		}
		var scratch [300]byte
		for i := 0; i+1 < len(ops); i += 2 {
			arg := int(ops[i+1])
			switch ops[i] % 6 {
			case 0:
				b.WriteBytes(scratch[:arg])
			case 1:
				b.ReadBytes(scratch[:arg])
			case 2:
				b.ReserveHeaderSpace(arg)
			case 3:
				b.Trim(arg)
			case 4:
				b.SetLength(arg)
			case 5:
				b.Reset()
			}
			if !(0 <= b.readOff && b.readOff <= b.writeOff && b.writeOff <= b.length && b.length <= len(b.data)) {
				t.Fatalf("op %d(%d): invariant violated read=%d write=%d len=%d",
					ops[i]%6, arg, b.readOff, b.writeOff, b.length)
			}
		}
	})
}
