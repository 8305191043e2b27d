package packet

// Buffer is a fixed-capacity byte region with independent read and write
// cursors. It is the unit of exchange between a device driver and the
// protocol stack. The cursor invariant
//
//	0 <= readOff <= writeOff <= length <= capacity
//
// holds after every method. A Buffer is exclusively owned by whichever
// Packet or pool slot holds it at any time; it performs no locking.
type Buffer struct {
	data     []byte // len(data) is the capacity and never changes.
	length   int
	readOff  int
	writeOff int
}

// NewBuffer allocates a buffer of the given capacity.
// Returns [ErrInvalidSize] if capacity is not in (0, MaxPacketSize].
func NewBuffer(capacity int) (*Buffer, error) {
	if capacity <= 0 || capacity > MaxPacketSize {
		return nil, ErrInvalidSize
	}
	return &Buffer{data: make([]byte, capacity)}, nil
}

// BufferFromBytes allocates a buffer sized to data and fills it.
func BufferFromBytes(data []byte) (*Buffer, error) {
	b, err := NewBuffer(len(data))
	if err != nil {
		return nil, err
	}
	b.WriteBytes(data)
	return b, nil
}

// Len returns the current data length.
func (b *Buffer) Len() int { return b.length }

// IsEmpty reports whether the buffer holds no data.
func (b *Buffer) IsEmpty() bool { return b.length == 0 }

// Capacity returns the fixed buffer capacity.
func (b *Buffer) Capacity() int { return len(b.data) }

// Remaining returns the space left after the write cursor.
func (b *Buffer) Remaining() int { return len(b.data) - b.writeOff }

// WriteBytes copies min(len(data), Remaining()) bytes at the write cursor
// and returns the count. A short write is not an error.
func (b *Buffer) WriteBytes(data []byte) int {
	n := copy(b.data[b.writeOff:], data)
	b.writeOff += n
	if b.writeOff > b.length {
		b.length = b.writeOff
	}
	return n
}

// ReadBytes copies min(len(dst), unread) bytes at the read cursor into dst
// and returns the count. A short read is not an error.
func (b *Buffer) ReadBytes(dst []byte) int {
	n := copy(dst, b.data[b.readOff:b.length])
	b.readOff += n
	return n
}

// Bytes returns the valid data region of the buffer.
func (b *Buffer) Bytes() []byte { return b.data[:b.length] }

// Reset clears all data and rewinds both cursors.
func (b *Buffer) Reset() {
	b.length = 0
	b.readOff = 0
	b.writeOff = 0
}

// ReserveHeaderSpace shifts existing payload right by headerSize bytes so a
// header can be prepended while building a packet bottom-up. Fails with
// [ErrInvalidSize] if the reservation exceeds the buffer capacity.
func (b *Buffer) ReserveHeaderSpace(headerSize int) error {
	if headerSize < 0 || headerSize > len(b.data) || b.length+headerSize > len(b.data) {
		return ErrInvalidSize
	}
	if b.length > 0 {
		copy(b.data[headerSize:], b.data[:b.length])
	}
	b.length += headerSize
	b.writeOff += headerSize
	b.readOff = 0
	return nil
}

// Trim logically shrinks the buffer to newLen, clamping both cursors.
// Lengths not less than the current length leave the buffer unchanged.
func (b *Buffer) Trim(newLen int) {
	if newLen < 0 || newLen > b.length {
		return
	}
	b.length = newLen
	if b.readOff > newLen {
		b.readOff = newLen
	}
	if b.writeOff > newLen {
		b.writeOff = newLen
	}
}

// AsDMABuffer exposes the raw buffer region for hardware to write into
// directly. The caller must call [Buffer.SetLength] after the external
// write completes and must not use the pointer past the buffer's lifetime.
func (b *Buffer) AsDMABuffer() (ptr *byte, capacity int) {
	return &b.data[0], len(b.data)
}

// SetLength commits n bytes as valid data after a DMA write. This is the
// only place external raw-pointer writes cross the abstraction boundary;
// lengths exceeding the capacity are rejected with [ErrInvalidSize].
func (b *Buffer) SetLength(n int) error {
	if n < 0 || n > len(b.data) {
		return ErrInvalidSize
	}
	b.length = n
	b.writeOff = n
	if b.readOff > n {
		b.readOff = n
	}
	return nil
}

// PrepareForDMARead exposes the unread region for hardware to read from
// directly, returning its start and length.
func (b *Buffer) PrepareForDMARead() (ptr *byte, n int) {
	return &b.data[b.readOff], b.length - b.readOff
}
