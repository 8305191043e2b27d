package ipv4

import (
	"log/slog"

	"github.com/kvos/netkern/internal"
)

// Fragmenter splits IPv4 packets exceeding an interface MTU into fragments
// aligned to the 8-byte fragment quantum. Single-writer; the caller
// serializes access.
type Fragmenter struct {
	mtu    int
	nextID uint16
	log    *slog.Logger
}

// NewFragmenter returns a Fragmenter for an interface with the given MTU.
// logger may be nil.
func NewFragmenter(mtu int, logger *slog.Logger) *Fragmenter {
	return &Fragmenter{mtu: mtu, log: logger}
}

// MTU returns the MTU the fragmenter splits against.
func (f *Fragmenter) MTU() int { return f.mtu }

// NextIdentification returns a fresh identification value for a datagram.
// The counter wraps and never hands out the same value twice in a row.
func (f *Fragmenter) NextIdentification() uint16 {
	f.nextID++
	return f.nextID
}

// FragmentPacket splits pkt into fragments that each fit within the MTU.
// A packet that already fits is returned unmodified as a single element.
// Oversize packets carrying the Don't Fragment flag yield
// [ErrFragmentationNeeded]. Fragment payloads are sized to the largest
// multiple of 8 bytes that fits after the header; each fragment keeps the
// packet's own identification so the receiver can match them back up, and
// gets its 8-byte-unit offset, the More Fragments flag on all but the last,
// and a recomputed header checksum.
func (f *Fragmenter) FragmentPacket(pkt Packet) ([]Packet, error) {
	if pkt.TotalSize() <= f.mtu {
		return []Packet{pkt}, nil
	}
	if pkt.Header.DontFragment() {
		return nil, ErrFragmentationNeeded
	}
	maxPayload := (f.mtu - sizeHeader) &^ 7
	if maxPayload <= 0 {
		return nil, ErrPacketTooSmall
	}

	id := pkt.Header.Identification
	payload := pkt.Payload
	frags := make([]Packet, 0, (len(payload)+maxPayload-1)/maxPayload)
	for off := 0; off < len(payload); off += maxPayload {
		end := off + maxPayload
		more := true
		if end >= len(payload) {
			end = len(payload)
			more = false
		}
		frag := Packet{
			Header:  pkt.Header,
			Payload: payload[off:end],
		}
		frag.Header.SetFragmentation(false, more, uint16(off/8))
		frag.Header.TotalLength = uint16(sizeHeader + (end - off))
		frag.Header.SetChecksum()
		frags = append(frags, frag)
	}
	internal.LogAttrs(f.log, slog.LevelDebug, "ipv4.Fragmenter:split",
		slog.Int("id", int(id)), slog.Int("fragments", len(frags)), slog.Int("payload", len(payload)))
	return frags, nil
}
