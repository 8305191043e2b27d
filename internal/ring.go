package internal

import (
	"errors"
	"io"
)

var (
	errRingBufferFull = errors.New("netkern/ring: buffer full")
	errRingNoData     = errors.New("netkern/ring: empty write")
)

// Ring implements basic ring buffer functionality over a caller-provided
// byte slice. It backs the bounded send and receive queues of TCP
// connections.
type Ring struct {
	// Buf stores data written into Ring with Write and read out with the
	// Read methods. The capacity of Buf is unused.
	Buf []byte
	// Off is the start of readable data, indexing into Buf. If Off==End and
	// End!=0 the buffer is full and data begins at Off.
	Off int
	// End is the end of readable data, exclusive. End==0 means empty.
	End int
}

// Write appends data to the ring buffer that can then be read back in order
// with the Read methods. Fails with no data written if the buffer is full.
func (r *Ring) Write(b []byte) (int, error) {
	if r.isFull() {
		return 0, errRingBufferFull
	} else if len(b) == 0 {
		return 0, errRingNoData
	}
	midFree := r.midFree()
	if midFree > 0 {
		// start     end       off     len(buf)
		//   |  used  |  mfree  |  used  |
		n := copy(r.Buf[r.End:r.Off], b)
		r.End += n
		return n, nil
	} else if r.End == 0 {
		// Ensure writes to an empty buffer begin at Off.
		r.End = r.Off
	}
	// start       off       end      len(buf)
	//   |  sfree   |  used   |  efree   |
	n := copy(r.Buf[r.End:], b)
	r.End += n
	if n < len(b) {
		n2 := copy(r.Buf, b[n:])
		r.End = n2
		n += n2
	}
	return n, nil
}

// Read reads up to len(b) bytes from the ring buffer and advances the read
// pointer. [io.EOF] is returned when no data is available.
func (r *Ring) Read(b []byte) (int, error) {
	n, err := r.read(b)
	if err != nil {
		return n, err
	}
	r.onReadEnd(n)
	return n, nil
}

// ReadPeek reads up to len(b) bytes without advancing the read pointer.
func (r *Ring) ReadPeek(b []byte) (int, error) {
	return r.read(b)
}

// ReadDiscard advances the read pointer n bytes without copying data out.
func (r *Ring) ReadDiscard(n int) error {
	if n <= 0 {
		return errors.New("invalid discard amount")
	}
	buffered := r.Buffered()
	switch {
	case n > buffered:
		return errors.New("discard exceeds length")
	case n == buffered:
		r.Reset()
	case n+r.Off > len(r.Buf):
		r.Off = n - (len(r.Buf) - r.Off)
	default:
		r.Off += n
	}
	return nil
}

func (r *Ring) read(b []byte) (n int, err error) {
	if r.Buffered() == 0 {
		return 0, io.EOF
	}
	if r.End > r.Off {
		return copy(b, r.Buf[r.Off:r.End]), nil
	}
	n = copy(b, r.Buf[r.Off:])
	if n < len(b) {
		n += copy(b[n:], r.Buf[:r.End])
	}
	return n, nil
}

// Reset flushes all data from the ring buffer.
func (r *Ring) Reset() {
	r.Off = 0
	r.End = 0
}

// Size returns the capacity of the ring buffer.
func (r *Ring) Size() int { return len(r.Buf) }

// Buffered returns the amount of bytes ready to be read.
func (r *Ring) Buffered() int { return r.Size() - r.Free() }

// Free returns the amount of bytes that can be written before the buffer is
// full.
func (r *Ring) Free() int {
	if r.End == 0 || r.Off == 0 {
		return len(r.Buf) - r.End
	}
	if r.Off < r.End {
		return r.Off + len(r.Buf) - r.End
	}
	return r.Off - r.End
}

func (r *Ring) midFree() int {
	if r.End >= r.Off || r.End == 0 {
		return 0
	}
	return r.Off - r.End
}

func (r *Ring) isFull() bool {
	return r.End != 0 && (r.End == r.Off || (r.End == len(r.Buf) && r.Off == 0))
}

func (r *Ring) onReadEnd(totalRead int) {
	newOff := r.Off + totalRead
	if newOff > len(r.Buf) {
		newOff -= len(r.Buf)
	}
	if newOff == r.End {
		r.Reset()
	} else if newOff == len(r.Buf) {
		r.Off = 0
	} else {
		r.Off = newOff
	}
}
