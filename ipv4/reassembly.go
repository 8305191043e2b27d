package ipv4

import (
	"log/slog"
	"net/netip"
	"sort"
	"time"

	"github.com/kvos/netkern"
	"github.com/kvos/netkern/internal"
)

// FragmentID identifies the fragments of a single IP datagram: source,
// destination, protocol and identification together.
type FragmentID struct {
	Src            netip.Addr
	Dst            netip.Addr
	Protocol       netkern.IPProto
	Identification uint16
}

// Fragment is one stored piece of a datagram under reassembly. Offset and
// Length are in bytes within the reassembled payload.
type Fragment struct {
	Data          []byte
	Offset        int
	Length        int
	MoreFragments bool
	Timestamp     time.Time
}

func (f *Fragment) end() int { return f.Offset + f.Length }

// reassemblyEntry accumulates the fragments of one datagram.
type reassemblyEntry struct {
	id        FragmentID
	fragments []Fragment
	createdAt time.Time
}

// addFragment stores frag, rejecting it with [ErrOverlap] if its byte range
// intersects a fragment already held. Zero-length fragments are rejected with
// [ErrInvalidFragment]: they carry no payload and would never advance the
// completeness scan. Nothing is mutated on rejection.
func (e *reassemblyEntry) addFragment(frag Fragment) error {
	if frag.Length <= 0 {
		return ErrInvalidFragment
	}
	for i := range e.fragments {
		have := &e.fragments[i]
		if frag.Offset < have.end() && have.Offset < frag.end() {
			return ErrOverlap
		}
	}
	e.fragments = append(e.fragments, frag)
	return nil
}

// isComplete reports whether the final fragment has arrived and the stored
// fragments tile the payload from offset zero with no gaps.
func (e *reassemblyEntry) isComplete() bool {
	total := -1
	for i := range e.fragments {
		if !e.fragments[i].MoreFragments {
			total = e.fragments[i].end()
			break
		}
	}
	if total < 0 {
		return false
	}
	covered := 0
	for covered < total {
		advanced := false
		for i := range e.fragments {
			if e.fragments[i].Offset == covered {
				covered = e.fragments[i].end()
				advanced = true
				break
			}
		}
		if !advanced {
			return false
		}
	}
	return true
}

// reassemble concatenates the fragments into the original payload. The entry
// must be complete.
func (e *reassemblyEntry) reassemble() ([]byte, error) {
	total := -1
	for i := range e.fragments {
		if !e.fragments[i].MoreFragments {
			total = e.fragments[i].end()
			break
		}
	}
	if total < 0 {
		return nil, ErrIncompleteDatagram
	}
	out := make([]byte, total)
	sort.Slice(e.fragments, func(i, j int) bool {
		return e.fragments[i].Offset < e.fragments[j].Offset
	})
	for i := range e.fragments {
		frag := &e.fragments[i]
		if frag.end() > total {
			return nil, ErrInvalidFragment
		}
		copy(out[frag.Offset:frag.end()], frag.Data)
	}
	return out, nil
}

// ReassemblerConfig configures a [Reassembler]. Zero fields take defaults.
type ReassemblerConfig struct {
	// MaxEntries bounds concurrent reassemblies. Defaults to
	// [MaxReassemblyEntries].
	MaxEntries int
	// Timeout is the age past which partial reassemblies are discarded.
	// Defaults to 60 seconds.
	Timeout time.Duration
	// CleanupInterval rate-limits [Reassembler.Cleanup]. Defaults to 60s.
	CleanupInterval time.Duration
	// Now supplies the time source. Defaults to time.Now.
	Now func() time.Time
	// Logger logs evictions and completions. Nil disables logging.
	Logger *slog.Logger
}

// ReassemblerStats is a snapshot of reassembler activity.
type ReassemblerStats struct {
	ActiveEntries        int
	FragmentsReceived    uint64
	DatagramsReassembled uint64
	Evictions            uint64
	TimedOut             uint64
}

// Reassembler collects IPv4 fragments keyed by [FragmentID] and returns the
// original payload once a datagram is complete. Partial reassemblies are
// bounded in count, evicted oldest-by-insertion past the bound and dropped
// after a timeout. Single-writer; the caller serializes access.
type Reassembler struct {
	entries         map[FragmentID]*reassemblyEntry
	order           []FragmentID
	maxEntries      int
	timeout         time.Duration
	cleanupInterval time.Duration
	lastCleanup     time.Time
	now             func() time.Time
	log             *slog.Logger
	stats           ReassemblerStats
}

// NewReassembler returns a Reassembler configured by cfg.
func NewReassembler(cfg ReassemblerConfig) *Reassembler {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = MaxReassemblyEntries
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 60 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Reassembler{
		entries:         make(map[FragmentID]*reassemblyEntry),
		maxEntries:      cfg.MaxEntries,
		timeout:         cfg.Timeout,
		cleanupInterval: cfg.CleanupInterval,
		now:             cfg.Now,
		log:             cfg.Logger,
	}
}

// ProcessFragment ingests one IPv4 packet. Unfragmented packets return their
// payload immediately. Fragments are stored under their datagram's
// [FragmentID]; when the final fragment arrives and the datagram tiles
// completely the reassembled payload is returned and the entry released.
// A nil payload with a nil error means the datagram is still incomplete.
// Overlapping fragments are rejected with [ErrOverlap] and the entry keeps
// its prior state.
func (r *Reassembler) ProcessFragment(hdr Header, payload []byte) ([]byte, error) {
	if !hdr.MoreFragments() && hdr.FragmentOffset() == 0 {
		// Fast path: not a fragment.
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	}
	r.stats.FragmentsReceived++

	id := FragmentID{
		Src:            hdr.SourceAddr,
		Dst:            hdr.DestAddr,
		Protocol:       hdr.Protocol,
		Identification: hdr.Identification,
	}
	entry, ok := r.entries[id]
	if !ok {
		for len(r.entries) >= r.maxEntries {
			r.evictOldest()
		}
		entry = &reassemblyEntry{id: id, createdAt: r.now()}
		r.entries[id] = entry
		r.order = append(r.order, id)
	}

	frag := Fragment{
		Data:          append([]byte(nil), payload...),
		Offset:        int(hdr.FragmentOffset()) * 8,
		Length:        len(payload),
		MoreFragments: hdr.MoreFragments(),
		Timestamp:     r.now(),
	}
	if err := entry.addFragment(frag); err != nil {
		return nil, err
	}
	if !entry.isComplete() {
		return nil, nil
	}

	datagram, err := entry.reassemble()
	r.remove(id)
	if err != nil {
		return nil, err
	}
	r.stats.DatagramsReassembled++
	internal.LogAttrs(r.log, slog.LevelDebug, "ipv4.Reassembler:complete",
		slog.Int("id", int(id.Identification)), slog.Int("len", len(datagram)))
	return datagram, nil
}

// Cleanup drops partial reassemblies older than the timeout. It is
// rate-limited to run at most once per cleanup interval; callers may invoke
// it on every packet.
func (r *Reassembler) Cleanup() {
	now := r.now()
	if now.Sub(r.lastCleanup) < r.cleanupInterval {
		return
	}
	r.lastCleanup = now
	// remove compacts r.order, so gather the expired IDs before touching it.
	var expired []FragmentID
	for _, id := range r.order {
		if entry, ok := r.entries[id]; ok && now.Sub(entry.createdAt) > r.timeout {
			expired = append(expired, id)
		}
	}
	removed := 0
	for _, id := range expired {
		r.remove(id)
		r.stats.TimedOut++
		removed++
	}
	if removed > 0 {
		internal.LogAttrs(r.log, slog.LevelDebug, "ipv4.Reassembler:cleanup", slog.Int("removed", removed))
	}
}

// Flush discards all partial reassemblies.
func (r *Reassembler) Flush() {
	clear(r.entries)
	r.order = r.order[:0]
}

// Len returns the number of datagrams currently under reassembly.
func (r *Reassembler) Len() int { return len(r.entries) }

// Stats returns a snapshot of reassembler activity.
func (r *Reassembler) Stats() ReassemblerStats {
	s := r.stats
	s.ActiveEntries = len(r.entries)
	return s
}

func (r *Reassembler) evictOldest() {
	for len(r.order) > 0 {
		id := r.order[0]
		if _, ok := r.entries[id]; ok {
			r.remove(id)
			r.stats.Evictions++
			internal.LogAttrs(r.log, slog.LevelDebug, "ipv4.Reassembler:evict",
				slog.Int("id", int(id.Identification)))
			return
		}
		r.order = r.order[1:]
	}
}

func (r *Reassembler) remove(id FragmentID) {
	delete(r.entries, id)
	for i := range r.order {
		if r.order[i] == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}
