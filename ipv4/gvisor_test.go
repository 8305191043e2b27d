package ipv4

import (
	"bytes"
	"net/netip"
	"testing"

	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/header"

	"github.com/kvos/netkern"
)

// Cross-checks our header encoding, checksum and fragmentation fields
// against gVisor's IPv4 codec.

func TestHeaderWireAgainstGvisor(t *testing.T) {
	src := netip.MustParseAddr("10.0.0.1")
	dst := netip.MustParseAddr("10.0.0.2")

	hdr := NewHeader(src, dst, netkern.IPProtoTCP, 100)
	hdr.SetIdentification(0x1234)
	hdr.SetFragmentation(false, true, 5) // MF set, offset 5*8=40 bytes
	hdr.SetChecksum()
	var ours [sizeHeader]byte
	if err := hdr.Put(ours[:]); err != nil {
		t.Fatal(err)
	}

	theirs := make([]byte, header.IPv4MinimumSize)
	gip := header.IPv4(theirs)
	gip.Encode(&header.IPv4Fields{
		TotalLength:    uint16(sizeHeader + 100),
		ID:             0x1234,
		Flags:          header.IPv4FlagMoreFragments,
		FragmentOffset: 40,
		TTL:            64,
		Protocol:       uint8(netkern.IPProtoTCP),
		SrcAddr:        tcpip.AddrFrom4(src.As4()),
		DstAddr:        tcpip.AddrFrom4(dst.As4()),
	})
	gip.SetChecksum(^gip.CalculateChecksum())

	if !bytes.Equal(ours[:], theirs) {
		t.Fatalf("wire mismatch:\n ours  %x\n gVisor %x", ours, theirs)
	}
	// A correct ones' complement checksum makes the full header sum to 0xffff.
	if header.IPv4(ours[:]).CalculateChecksum() != 0xffff {
		t.Fatal("gVisor rejects our header checksum")
	}
}

func TestDecodeGvisorEncodedHeader(t *testing.T) {
	src := netip.MustParseAddr("172.16.0.1")
	dst := netip.MustParseAddr("172.16.0.99")
	wire := make([]byte, header.IPv4MinimumSize)
	gip := header.IPv4(wire)
	gip.Encode(&header.IPv4Fields{
		TotalLength:    512,
		ID:             7,
		Flags:          header.IPv4FlagDontFragment,
		FragmentOffset: 0,
		TTL:            32,
		Protocol:       uint8(netkern.IPProtoUDP),
		SrcAddr:        tcpip.AddrFrom4(src.As4()),
		DstAddr:        tcpip.AddrFrom4(dst.As4()),
	})
	gip.SetChecksum(^gip.CalculateChecksum())

	got, err := DecodeHeader(wire)
	if err != nil {
		t.Fatal(err)
	}
	if got.TotalLength != 512 || got.Identification != 7 || got.TTL != 32 ||
		got.Protocol != netkern.IPProtoUDP || got.SourceAddr != src || got.DestAddr != dst {
		t.Fatalf("decoded %+v", got)
	}
	if !got.DontFragment() || got.MoreFragments() || got.FragmentOffset() != 0 {
		t.Fatalf("flag mismatch: %+v", got.Flags)
	}
	if !got.VerifyChecksum() {
		t.Fatal("gVisor checksum fails our verification")
	}
}
