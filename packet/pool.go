package packet

import (
	"log/slog"

	"github.com/kvos/netkern/internal"
)

// Pool is a bounded reuse pool of [Buffer]s. Unlike sync.Pool it enforces a
// hard buffer count and fails allocation once the bound is reached, which is
// what a driver RX ring needs to apply backpressure instead of growing.
// Single-writer; the caller serializes access.
type Pool struct {
	free       []*Buffer
	total      int
	maxBuffers int
	log        *slog.Logger
}

// PoolStats is a snapshot of pool occupancy.
type PoolStats struct {
	FreeBuffers  int
	TotalBuffers int
	MaxBuffers   int
}

// NewPool returns a pool bounded at maxBuffers with prealloc buffers
// pre-allocated onto the free list. prealloc is clamped to maxBuffers.
func NewPool(prealloc, maxBuffers int, logger *slog.Logger) *Pool {
	if maxBuffers <= 0 {
		maxBuffers = 1000
	}
	if prealloc > maxBuffers {
		prealloc = maxBuffers
	}
	p := &Pool{
		free:       make([]*Buffer, 0, prealloc),
		maxBuffers: maxBuffers,
		log:        logger,
	}
	for i := 0; i < prealloc; i++ {
		buf, err := NewBuffer(MaxPacketSize)
		if err != nil {
			break
		}
		p.free = append(p.free, buf)
		p.total++
	}
	internal.LogAttrs(p.log, slog.LevelInfo, "packet.Pool:init", slog.Int("buffers", len(p.free)))
	return p
}

// Allocate pops a free buffer and resets it. If the free list is empty and
// the pool has room to grow it allocates a new buffer; otherwise it fails
// with [ErrPoolExhausted]. A failed allocation leaves the pool unchanged.
func (p *Pool) Allocate() (*Buffer, error) {
	if n := len(p.free); n > 0 {
		buf := p.free[n-1]
		p.free = p.free[:n-1]
		buf.Reset()
		return buf, nil
	}
	if p.total < p.maxBuffers {
		buf, err := NewBuffer(MaxPacketSize)
		if err != nil {
			return nil, err
		}
		p.total++
		return buf, nil
	}
	internal.LogAttrs(p.log, slog.LevelWarn, "packet.Pool:exhausted", slog.Int("total", p.total))
	return nil, ErrPoolExhausted
}

// Deallocate transfers buf's ownership back to the pool. If the free list is
// already at the pool bound the buffer is dropped, preventing unbounded growth.
func (p *Pool) Deallocate(buf *Buffer) {
	if buf == nil {
		return
	}
	if len(p.free) < p.maxBuffers {
		p.free = append(p.free, buf)
	}
}

// Stats returns a snapshot of pool occupancy.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		FreeBuffers:  len(p.free),
		TotalBuffers: p.total,
		MaxBuffers:   p.maxBuffers,
	}
}
