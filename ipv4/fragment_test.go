package ipv4

import (
	"bytes"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/kvos/netkern"
)

var (
	fragSrc = netip.MustParseAddr("10.0.0.1")
	fragDst = netip.MustParseAddr("10.0.0.2")
)

func patternPayload(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i)
	}
	return p
}

func TestFragmentPacketFits(t *testing.T) {
	f := NewFragmenter(1500, nil)
	pkt := Packet{
		Header:  NewHeader(fragSrc, fragDst, netkern.IPProtoUDP, 100),
		Payload: patternPayload(100),
	}
	frags, err := f.FragmentPacket(pkt)
	if err != nil {
		t.Fatal(err)
	}
	if len(frags) != 1 {
		t.Fatalf("got %d fragments for a fitting packet", len(frags))
	}
	if !bytes.Equal(frags[0].Payload, pkt.Payload) {
		t.Fatal("fitting packet payload modified")
	}
}

func TestFragmentPacketSplits(t *testing.T) {
	const mtu = 1500
	f := NewFragmenter(mtu, nil)
	payload := patternPayload(3000)
	pkt := Packet{
		Header:  NewHeader(fragSrc, fragDst, netkern.IPProtoUDP, len(payload)),
		Payload: payload,
	}
	frags, err := f.FragmentPacket(pkt)
	if err != nil {
		t.Fatal(err)
	}
	if len(frags) < 2 {
		t.Fatalf("got %d fragments, want at least 2", len(frags))
	}
	id := frags[0].Header.Identification
	nextOffset := uint16(0)
	for i, frag := range frags {
		last := i == len(frags)-1
		if frag.TotalSize() > mtu {
			t.Errorf("fragment %d size %d exceeds MTU", i, frag.TotalSize())
		}
		if frag.Header.Identification != id {
			t.Errorf("fragment %d has id %d, want shared %d", i, frag.Header.Identification, id)
		}
		if frag.Header.MoreFragments() == last {
			t.Errorf("fragment %d MF=%v, last=%v", i, frag.Header.MoreFragments(), last)
		}
		if frag.Header.FragmentOffset() != nextOffset {
			t.Errorf("fragment %d offset %d, want %d", i, frag.Header.FragmentOffset(), nextOffset)
		}
		if !last && len(frag.Payload)%8 != 0 {
			t.Errorf("fragment %d payload %d not 8-byte aligned", i, len(frag.Payload))
		}
		if !frag.Header.VerifyChecksum() {
			t.Errorf("fragment %d checksum invalid", i)
		}
		nextOffset += uint16(len(frag.Payload) / 8)
	}
}

func TestFragmentPacketKeepsIdentification(t *testing.T) {
	f := NewFragmenter(100, nil)
	payload := patternPayload(200)
	hdr := NewHeader(fragSrc, fragDst, netkern.IPProtoUDP, len(payload))
	hdr.SetIdentification(0xBEEF)
	frags, err := f.FragmentPacket(Packet{Header: hdr, Payload: payload})
	if err != nil {
		t.Fatal(err)
	}
	if len(frags) < 2 {
		t.Fatalf("got %d fragments, want at least 2", len(frags))
	}
	// Fragments carry the datagram's own identification; the receiver keys
	// reassembly on the sender's chosen value.
	for i, frag := range frags {
		if frag.Header.Identification != 0xBEEF {
			t.Errorf("fragment %d identification=%#x, want original 0xBEEF", i, frag.Header.Identification)
		}
	}
}

func TestFragmentPacketDontFragment(t *testing.T) {
	f := NewFragmenter(1500, nil)
	hdr := NewHeader(fragSrc, fragDst, netkern.IPProtoUDP, 3000)
	hdr.SetFragmentation(true, false, 0)
	_, err := f.FragmentPacket(Packet{Header: hdr, Payload: patternPayload(3000)})
	if !errors.Is(err, ErrFragmentationNeeded) {
		t.Fatalf("err=%v, want ErrFragmentationNeeded", err)
	}
}

func TestFragmentPacketTinyMTU(t *testing.T) {
	f := NewFragmenter(sizeHeader+4, nil) // under one 8-byte quantum of payload
	pkt := Packet{
		Header:  NewHeader(fragSrc, fragDst, netkern.IPProtoUDP, 100),
		Payload: patternPayload(100),
	}
	if _, err := f.FragmentPacket(pkt); !errors.Is(err, ErrPacketTooSmall) {
		t.Fatalf("err=%v, want ErrPacketTooSmall", err)
	}
}

func reassembleFragments(t *testing.T, r *Reassembler, frags []Packet) []byte {
	t.Helper()
	for i, frag := range frags {
		out, err := r.ProcessFragment(frag.Header, frag.Payload)
		if err != nil {
			t.Fatalf("fragment %d: %v", i, err)
		}
		if i < len(frags)-1 && out != nil {
			t.Fatalf("datagram complete after %d of %d fragments", i+1, len(frags))
		}
		if i == len(frags)-1 {
			if out == nil {
				t.Fatal("datagram incomplete after all fragments")
			}
			return out
		}
	}
	return nil
}

func TestReassembleForwardAndReverse(t *testing.T) {
	f := NewFragmenter(1500, nil)
	payload := patternPayload(3000)
	pkt := Packet{
		Header:  NewHeader(fragSrc, fragDst, netkern.IPProtoUDP, len(payload)),
		Payload: payload,
	}
	frags, err := f.FragmentPacket(pkt)
	if err != nil {
		t.Fatal(err)
	}

	r := NewReassembler(ReassemblerConfig{})
	if got := reassembleFragments(t, r, frags); !bytes.Equal(got, payload) {
		t.Fatal("forward-order reassembly mismatch")
	}
	if r.Len() != 0 {
		t.Fatalf("entry retained after completion: Len=%d", r.Len())
	}

	reversed := make([]Packet, len(frags))
	for i := range frags {
		reversed[len(frags)-1-i] = frags[i]
	}
	if got := reassembleFragments(t, r, reversed); !bytes.Equal(got, payload) {
		t.Fatal("reverse-order reassembly mismatch")
	}
}

func TestReassembleUnfragmentedFastPath(t *testing.T) {
	r := NewReassembler(ReassemblerConfig{})
	hdr := NewHeader(fragSrc, fragDst, netkern.IPProtoTCP, 42)
	payload := patternPayload(42)
	out, err := r.ProcessFragment(hdr, payload)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, payload) {
		t.Fatal("fast path payload mismatch")
	}
	if r.Len() != 0 {
		t.Fatal("fast path created an entry")
	}
}

func TestReassembleRejectsOverlap(t *testing.T) {
	r := NewReassembler(ReassemblerConfig{})
	hdr := NewHeader(fragSrc, fragDst, netkern.IPProtoUDP, 0)
	hdr.SetIdentification(9)

	// [0,104) with MF.
	hdr.SetFragmentation(false, true, 0)
	if _, err := r.ProcessFragment(hdr, patternPayload(104)); err != nil {
		t.Fatal(err)
	}
	// [48,152) overlaps the stored range.
	hdr.SetFragmentation(false, true, 6)
	if _, err := r.ProcessFragment(hdr, patternPayload(104)); !errors.Is(err, ErrOverlap) {
		t.Fatalf("err=%v, want ErrOverlap", err)
	}
	// Prior state untouched: the adjacent range still completes the datagram.
	hdr.SetFragmentation(false, false, 13)
	out, err := r.ProcessFragment(hdr, patternPayload(40))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 144 {
		t.Fatalf("reassembled %d bytes, want 144", len(out))
	}
}

func TestReassembleRejectsZeroLengthFragment(t *testing.T) {
	r := NewReassembler(ReassemblerConfig{})
	hdr := NewHeader(fragSrc, fragDst, netkern.IPProtoUDP, 0)
	hdr.SetIdentification(11)

	// [0,8) with MF.
	hdr.SetFragmentation(false, true, 0)
	if _, err := r.ProcessFragment(hdr, patternPayload(8)); err != nil {
		t.Fatal(err)
	}
	// An empty fragment carries no payload bytes and must not be stored; it
	// would never advance the completeness scan.
	hdr.SetFragmentation(false, true, 1)
	if _, err := r.ProcessFragment(hdr, nil); !errors.Is(err, ErrInvalidFragment) {
		t.Fatalf("err=%v, want ErrInvalidFragment", err)
	}
	// The entry's prior state is intact: the final fragment completes it.
	hdr.SetFragmentation(false, false, 1)
	out, err := r.ProcessFragment(hdr, patternPayload(8))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 16 {
		t.Fatalf("reassembled %d bytes, want 16", len(out))
	}
}

func TestReassembleGapStaysIncomplete(t *testing.T) {
	r := NewReassembler(ReassemblerConfig{})
	hdr := NewHeader(fragSrc, fragDst, netkern.IPProtoUDP, 0)
	hdr.SetIdentification(10)

	hdr.SetFragmentation(false, true, 0)
	if out, err := r.ProcessFragment(hdr, patternPayload(64)); err != nil || out != nil {
		t.Fatalf("out=%v err=%v", out, err)
	}
	// Final fragment at offset 16 leaves [64,128) missing.
	hdr.SetFragmentation(false, false, 16)
	out, err := r.ProcessFragment(hdr, patternPayload(32))
	if err != nil {
		t.Fatal(err)
	}
	if out != nil {
		t.Fatal("datagram with a gap reported complete")
	}
	if r.Len() != 1 {
		t.Fatalf("Len=%d, want 1", r.Len())
	}
}

func TestReassemblerTimeout(t *testing.T) {
	clk := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := func() time.Time { return clk }
	r := NewReassembler(ReassemblerConfig{Timeout: time.Minute, CleanupInterval: time.Second, Now: now})

	hdr := NewHeader(fragSrc, fragDst, netkern.IPProtoUDP, 0)
	hdr.SetFragmentation(false, true, 0)
	if _, err := r.ProcessFragment(hdr, patternPayload(64)); err != nil {
		t.Fatal(err)
	}
	clk = clk.Add(2 * time.Minute)
	r.Cleanup()
	if r.Len() != 0 {
		t.Fatalf("stale entry survived cleanup: Len=%d", r.Len())
	}
	if r.Stats().TimedOut != 1 {
		t.Fatalf("stats %+v", r.Stats())
	}
}

func TestReassemblerCleanupSweepsAllExpired(t *testing.T) {
	clk := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := func() time.Time { return clk }
	r := NewReassembler(ReassemblerConfig{Timeout: time.Minute, CleanupInterval: time.Second, Now: now})

	const entries = 6
	for i := 0; i < entries; i++ {
		hdr := NewHeader(fragSrc, fragDst, netkern.IPProtoUDP, 0)
		hdr.SetIdentification(uint16(i))
		hdr.SetFragmentation(false, true, 0)
		if _, err := r.ProcessFragment(hdr, patternPayload(32)); err != nil {
			t.Fatal(err)
		}
	}
	clk = clk.Add(2 * time.Minute)
	// Every expired entry goes in a single sweep, consecutive ones included.
	r.Cleanup()
	if r.Len() != 0 {
		t.Fatalf("after one Cleanup sweep %d expired entries remain, want 0", r.Len())
	}
	if got := r.Stats().TimedOut; got != entries {
		t.Fatalf("TimedOut=%d, want %d", got, entries)
	}
}

func TestReassemblerBoundEvictsOldest(t *testing.T) {
	const maxEntries = 4
	r := NewReassembler(ReassemblerConfig{MaxEntries: maxEntries})
	for i := 0; i <= maxEntries; i++ {
		hdr := NewHeader(fragSrc, fragDst, netkern.IPProtoUDP, 0)
		hdr.SetIdentification(uint16(i))
		hdr.SetFragmentation(false, true, 0)
		if _, err := r.ProcessFragment(hdr, patternPayload(32)); err != nil {
			t.Fatal(err)
		}
	}
	if r.Len() != maxEntries {
		t.Fatalf("Len=%d, want %d", r.Len(), maxEntries)
	}
	st := r.Stats()
	if st.Evictions != 1 {
		t.Fatalf("evictions=%d, want 1", st.Evictions)
	}
	// The evicted entry is the first inserted: completing id=0 now starts a
	// fresh single-fragment entry instead of finishing the old one.
	hdr := NewHeader(fragSrc, fragDst, netkern.IPProtoUDP, 0)
	hdr.SetIdentification(0)
	hdr.SetFragmentation(false, false, 4)
	out, err := r.ProcessFragment(hdr, patternPayload(16))
	if err != nil {
		t.Fatal(err)
	}
	if out != nil {
		t.Fatal("evicted datagram completed from stale state")
	}
}
