package arp

import (
	"errors"
	"fmt"
	"net/netip"
	"testing"
	"time"
)

var (
	testMAC1 = [6]byte{0xde, 0xad, 0xbe, 0xef, 0x00, 0x01}
	testMAC2 = [6]byte{0xde, 0xad, 0xbe, 0xef, 0x00, 0x02}
	testIP1  = netip.MustParseAddr("192.168.1.1")
	testIP2  = netip.MustParseAddr("192.168.1.2")
)

func TestHeaderRoundTrip(t *testing.T) {
	for _, want := range []Header{
		NewRequest(testMAC1, testIP1, testIP2),
		NewReply(testMAC1, testIP1, testMAC2, testIP2),
	} {
		var wire [28]byte
		if err := want.Put(wire[:]); err != nil {
			t.Fatal(err)
		}
		got, err := DecodeHeader(wire[:])
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, want)
		}
	}
}

func TestDecodeHeaderRejectsBadLengths(t *testing.T) {
	hdr := NewRequest(testMAC1, testIP1, testIP2)
	var wire [28]byte
	hdr.Put(wire[:])

	short := wire[:27]
	if _, err := DecodeHeader(short); !errors.Is(err, ErrInvalidPacket) {
		t.Errorf("short packet err=%v, want ErrInvalidPacket", err)
	}

	badHlen := wire
	badHlen[4] = 8 // hardware address length must be 6.
	if _, err := DecodeHeader(badHlen[:]); !errors.Is(err, ErrInvalidPacket) {
		t.Errorf("bad hlen err=%v, want ErrInvalidPacket", err)
	}

	badPlen := wire
	badPlen[5] = 16 // protocol address length must be 4.
	if _, err := DecodeHeader(badPlen[:]); !errors.Is(err, ErrInvalidPacket) {
		t.Errorf("bad plen err=%v, want ErrInvalidPacket", err)
	}
}

// fakeClock steps time manually for deterministic aging tests.
type fakeClock struct{ t time.Time }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}
func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestCacheInsertLookup(t *testing.T) {
	clk := newFakeClock()
	c := NewCache(CacheConfig{Now: clk.now})
	c.Insert(testIP1, testMAC1, false)
	mac, ok := c.Lookup(testIP1)
	if !ok || mac != testMAC1 {
		t.Fatalf("Lookup=%x,%v", mac, ok)
	}
	if _, ok := c.Lookup(testIP2); ok {
		t.Fatal("lookup of unknown IP succeeded")
	}
	// Re-insert updates the MAC.
	c.Insert(testIP1, testMAC2, false)
	if mac, _ := c.Lookup(testIP1); mac != testMAC2 {
		t.Fatalf("after update Lookup=%x", mac)
	}
	if c.Len() != 1 {
		t.Fatalf("Len=%d, want 1", c.Len())
	}
}

func TestCacheBoundEvictsOldest(t *testing.T) {
	clk := newFakeClock()
	const maxSize = 8
	c := NewCache(CacheConfig{MaxSize: maxSize, Now: clk.now})
	first := netip.MustParseAddr("10.0.0.0")
	c.Insert(first, testMAC1, false)
	for i := 1; i <= maxSize; i++ {
		clk.advance(time.Second)
		c.Insert(netip.MustParseAddr(fmt.Sprintf("10.0.0.%d", i)), testMAC1, false)
	}
	if c.Len() != maxSize {
		t.Fatalf("Len=%d, want %d", c.Len(), maxSize)
	}
	// The first-inserted entry is the one evicted.
	if _, ok := c.Lookup(first); ok {
		t.Fatal("oldest entry survived eviction")
	}
}

func TestCacheTimeoutAndPermanent(t *testing.T) {
	clk := newFakeClock()
	c := NewCache(CacheConfig{Timeout: time.Minute, Now: clk.now})
	c.Insert(testIP1, testMAC1, false)
	c.Insert(testIP2, testMAC2, true)
	clk.advance(2 * time.Minute)
	c.Cleanup()
	if _, ok := c.Lookup(testIP1); ok {
		t.Fatal("expired entry survived cleanup")
	}
	if _, ok := c.Lookup(testIP2); !ok {
		t.Fatal("permanent entry removed by cleanup")
	}
	st := c.Stats()
	if st.Entries != 1 || st.PermanentEntries != 1 {
		t.Fatalf("stats %+v", st)
	}
}

func TestCacheMaybeCleanupRateLimited(t *testing.T) {
	clk := newFakeClock()
	c := NewCache(CacheConfig{Timeout: time.Minute, CleanupInterval: time.Minute, Now: clk.now})
	c.Insert(testIP1, testMAC1, false)
	clk.advance(90 * time.Second)
	c.MaybeCleanup() // first sweep runs, removes the expired entry
	c.Insert(testIP1, testMAC1, false)
	clk.advance(90 * time.Second)
	c.MaybeCleanup() // interval elapsed again, sweep runs
	if c.Len() != 0 {
		t.Fatalf("Len=%d after sweeps, want 0", c.Len())
	}
	c.Insert(testIP1, testMAC1, false)
	clk.advance(30 * time.Second)
	// Lookup refreshes, but even if expired this call would be gated.
	c.MaybeCleanup()
	if c.Len() != 1 {
		t.Fatal("rate-limited sweep ran early")
	}
}

func TestProcessorRepliesToRequestForUs(t *testing.T) {
	p := NewProcessor(nil)
	c := NewCache(CacheConfig{})
	localIP := netip.MustParseAddr("192.168.1.10")
	localMAC := [6]byte{2, 0, 0, 0, 0, 1}

	req := NewRequest(testMAC1, testIP1, localIP)
	var wire [28]byte
	req.Put(wire[:])

	reply, err := p.ProcessPacket(wire[:], localIP, localMAC, c)
	if err != nil {
		t.Fatal(err)
	}
	if reply == nil {
		t.Fatal("no reply to request addressed to us")
	}
	if reply.Operation != OpReply || reply.SenderHW != localMAC ||
		reply.SenderProto != localIP || reply.TargetHW != testMAC1 || reply.TargetProto != testIP1 {
		t.Fatalf("bad reply %+v", reply)
	}
	// Sender learned as a side effect.
	if mac, ok := c.Lookup(testIP1); !ok || mac != testMAC1 {
		t.Fatalf("sender not learned: %x,%v", mac, ok)
	}
}

func TestProcessorLearnsWithoutReplying(t *testing.T) {
	p := NewProcessor(nil)
	c := NewCache(CacheConfig{})
	localIP := netip.MustParseAddr("192.168.1.10")

	// Request for somebody else: learn, no reply.
	req := NewRequest(testMAC1, testIP1, testIP2)
	var wire [28]byte
	req.Put(wire[:])
	reply, err := p.ProcessPacket(wire[:], localIP, testMAC2, c)
	if err != nil || reply != nil {
		t.Fatalf("reply=%v err=%v, want nil,nil", reply, err)
	}
	if _, ok := c.Lookup(testIP1); !ok {
		t.Fatal("sender of foreign request not learned")
	}

	// Reply packet: learn, no reply.
	rep := NewReply(testMAC2, testIP2, testMAC1, testIP1)
	rep.Put(wire[:])
	reply, err = p.ProcessPacket(wire[:], localIP, testMAC2, c)
	if err != nil || reply != nil {
		t.Fatalf("reply=%v err=%v, want nil,nil", reply, err)
	}
	if mac, ok := c.Lookup(testIP2); !ok || mac != testMAC2 {
		t.Fatal("sender of reply not learned")
	}
}

func TestProcessorRejectsMalformedBeforeLearning(t *testing.T) {
	p := NewProcessor(nil)
	c := NewCache(CacheConfig{})
	req := NewRequest(testMAC1, testIP1, testIP2)
	var wire [28]byte
	req.Put(wire[:])
	wire[4] = 0 // corrupt hardware address length

	if _, err := p.ProcessPacket(wire[:], testIP2, testMAC2, c); !errors.Is(err, ErrInvalidPacket) {
		t.Fatalf("err=%v, want ErrInvalidPacket", err)
	}
	if c.Len() != 0 {
		t.Fatal("malformed packet mutated the cache")
	}
}
