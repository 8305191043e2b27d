package packet

import (
	"bytes"
	"net/netip"
	"testing"
	"time"
)

func TestPacketFromBytes(t *testing.T) {
	data := []byte("raw frame bytes")
	p, err := FromBytes(data, TypeEthernet)
	if err != nil {
		t.Fatal(err)
	}
	if p.Type() != TypeEthernet || p.Len() != len(data) {
		t.Fatalf("type=%v len=%d", p.Type(), p.Len())
	}
	if !bytes.Equal(p.Data(), data) {
		t.Fatalf("Data=%q", p.Data())
	}
}

func TestPacketCloneIsDeep(t *testing.T) {
	p, err := FromBytes([]byte("original"), TypeIPv4)
	if err != nil {
		t.Fatal(err)
	}
	p.SetInterfaceID(3)
	p.SetTimestamp(time.Unix(1000, 0))
	p.SrcAddr = netip.MustParseAddr("10.0.0.1")
	p.SrcPort = 4242

	q, err := p.Clone()
	if err != nil {
		t.Fatal(err)
	}
	if id, ok := q.InterfaceID(); !ok || id != 3 {
		t.Fatalf("clone iface=%d,%v", id, ok)
	}
	if q.Timestamp() != p.Timestamp() || q.SrcAddr != p.SrcAddr || q.SrcPort != p.SrcPort {
		t.Fatal("clone metadata mismatch")
	}
	// Mutating the clone's buffer must not touch the original.
	q.Data()[0] = 'X'
	if p.Data()[0] == 'X' {
		t.Fatal("clone shares the buffer")
	}
}

func TestPacketHeaderReservation(t *testing.T) {
	p, err := New(TypeTCP)
	if err != nil {
		t.Fatal(err)
	}
	payload := []byte("segment payload")
	if n := p.Append(payload); n != len(payload) {
		t.Fatalf("Append=%d", n)
	}
	if err := p.ReserveHeaders(40); err != nil {
		t.Fatal(err)
	}
	if p.Len() != 40+len(payload) {
		t.Fatalf("Len=%d", p.Len())
	}
	if !bytes.Equal(p.Data()[40:], payload) {
		t.Fatal("payload displaced incorrectly")
	}
	p.Trim(40 + 7)
	if !bytes.Equal(p.Data()[40:], payload[:7]) {
		t.Fatal("trim result mismatch")
	}
}
