package arp

import (
	"log/slog"
	"net/netip"

	"github.com/kvos/netkern/internal"
)

// Processor decodes ARP wire packets, learns sender mappings into a [Cache]
// and synthesizes replies to requests addressed to the local host.
type Processor struct {
	log *slog.Logger
}

// NewProcessor returns a Processor. logger may be nil.
func NewProcessor(logger *slog.Logger) *Processor {
	return &Processor{log: logger}
}

// ProcessPacket handles one inbound ARP packet. The sender's mapping is
// learned into cache for every successfully decoded packet, replies and
// requests not addressed to us included. If the packet is a request whose
// target protocol address is localIP a reply header addressed back to the
// sender is returned; otherwise nil. Decode failures are returned before any
// cache mutation.
func (p *Processor) ProcessPacket(pkt []byte, localIP netip.Addr, localMAC [6]byte, cache *Cache) (*Header, error) {
	hdr, err := DecodeHeader(pkt)
	if err != nil {
		return nil, err
	}

	// Learn from all observed traffic.
	cache.Insert(hdr.SenderProto, hdr.SenderHW, false)

	switch hdr.Operation {
	case OpRequest:
		if hdr.TargetProto == localIP {
			reply := NewReply(localMAC, localIP, hdr.SenderHW, hdr.SenderProto)
			internal.LogAttrs(p.log, slog.LevelDebug, "arp.Processor:reply",
				slog.String("to", hdr.SenderProto.String()), internal.SlogAddr6("mac", &hdr.SenderHW))
			return &reply, nil
		}
	case OpReply:
		// Cache update above is all a reply requires.
	default:
		// Other operations unsupported; the sender was still learned.
	}
	return nil, nil
}
