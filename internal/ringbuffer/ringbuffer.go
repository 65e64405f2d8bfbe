// Package ringbuffer implements a fixed-capacity circular byte buffer
// used by a virtual file to hold bytes appended past its last
// persisted chunk. Bulk insertion and extraction are exposed as
// pairs of buffer slices (at most two, since the backing array wraps
// at most once) so callers can move data in and out without an
// intermediate copy.
package ringbuffer

// RingBuffer is a fixed-capacity circular buffer of bytes.
type RingBuffer struct {
	buf       []byte
	insertAt  int
	extractAt int
	count     int
}

// New allocates a ring buffer with room for capacity bytes.
func New(capacity int) *RingBuffer {
	return &RingBuffer{buf: make([]byte, capacity)}
}

// Len returns the number of bytes currently stored.
func (r *RingBuffer) Len() int { return r.count }

// Cap returns the total capacity of the buffer.
func (r *RingBuffer) Cap() int { return len(r.buf) }

// Available returns the number of bytes that can still be inserted.
func (r *RingBuffer) Available() int { return len(r.buf) - r.count }

// Empty reports whether the buffer holds no bytes.
func (r *RingBuffer) Empty() bool { return r.count == 0 }

// Full reports whether the buffer has no remaining space.
func (r *RingBuffer) Full() bool { return r.count == len(r.buf) }

// Clear discards all buffered bytes.
func (r *RingBuffer) Clear() {
	r.insertAt, r.extractAt, r.count = 0, 0, 0
}

// Snoop returns a reference to the byte offset bytes past the next
// byte to be extracted, without removing anything. The caller may
// both read and write through the returned pointer.
func (r *RingBuffer) Snoop(offset int) *byte {
	return &r.buf[(r.extractAt+offset)%len(r.buf)]
}

// Insert appends data to the buffer, returning the number of bytes
// actually stored (less than len(data) if the buffer fills up).
func (r *RingBuffer) Insert(data []byte) int {
	n := r.Available()
	if n > len(data) {
		n = len(data)
	}
	for i := 0; i < n; i++ {
		r.buf[r.insertAt] = data[i]
		r.insertAt = (r.insertAt + 1) % len(r.buf)
	}
	r.count += n
	return n
}

// Extract removes up to len(dst) bytes, in FIFO order, copying them
// into dst and returning the number of bytes extracted.
func (r *RingBuffer) Extract(dst []byte) int {
	n := r.count
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = r.buf[r.extractAt]
		r.extractAt = (r.extractAt + 1) % len(r.buf)
	}
	r.count -= n
	return n
}

// BulkInsertionSegments returns up to two slices of the backing array,
// in insertion order, covering all currently available space. Writing
// into these slices and calling FinishInsertion avoids an intermediate
// copy through Insert.
func (r *RingBuffer) BulkInsertionSegments() (first, second []byte) {
	available := r.Available()
	if available == 0 {
		return nil, nil
	}

	if r.insertAt >= r.extractAt {
		first = r.buf[r.insertAt:]
		if r.extractAt > 0 {
			second = r.buf[:r.extractAt]
		}
	} else {
		first = r.buf[r.insertAt : r.insertAt+available]
	}

	return first, second
}

// FinishInsertion advances the insertion point after the caller has
// written directly into the slices returned by BulkInsertionSegments.
func (r *RingBuffer) FinishInsertion(inserted int) {
	if inserted < 0 || inserted > r.Available() {
		panic("ringbuffer: invalid insertion count")
	}
	r.insertAt = (r.insertAt + inserted) % len(r.buf)
	r.count += inserted
}

// BulkExtractionSegments returns up to two slices of the backing
// array, in extraction order, covering all currently buffered bytes.
func (r *RingBuffer) BulkExtractionSegments() (first, second []byte) {
	if r.count == 0 {
		return nil, nil
	}

	if r.insertAt > r.extractAt {
		first = r.buf[r.extractAt:r.insertAt]
	} else {
		first = r.buf[r.extractAt:]
		if r.insertAt > 0 {
			second = r.buf[:r.insertAt]
		}
	}

	return first, second
}

// FinishExtraction advances the extraction point after the caller has
// read directly from the slices returned by BulkExtractionSegments.
func (r *RingBuffer) FinishExtraction(extracted int) {
	if extracted < 0 || extracted > r.count {
		panic("ringbuffer: invalid extraction count")
	}
	r.extractAt = (r.extractAt + extracted) % len(r.buf)
	r.count -= extracted
}
