package chunk

// Segment is one leg of a scatter-gather transfer: a byte slice that
// a Load or Save call will fill or drain in order, stopping partway
// through the list once a chunk's payload is exhausted.
type Segment struct {
	Buf       []byte
	Processed int
}

// List is an ordered sequence of transfer segments.
type List []Segment

// Add appends buf as a new segment.
func (l *List) Add(buf []byte) {
	*l = append(*l, Segment{Buf: buf})
}

// TotalLength returns the sum of every segment's length.
func (l List) TotalLength() int {
	total := 0
	for _, s := range l {
		total += len(s.Buf)
	}
	return total
}
