package chunk

// Fill marks a span of unused, reclaimable space. It carries no
// additional header; every byte beyond the common 4-byte header is
// don't-care padding.
type Fill struct {
	Header *Header
	Index  FileIndex
}

// NewFill builds a Fill chunk sized to the largest chunk size that
// fits within availableSpace.
func NewFill(index FileIndex, availableSpace uint32) *Fill {
	h := NewHeader(0)
	h.SetType(Fill)
	h.SetBestFitSize(availableSpace)
	h.SetAllBytesValid()
	return &Fill{Header: h, Index: index}
}

// LoadFill prepares a Fill chunk for Load from an already-decoded
// common header.
func LoadFill(index FileIndex, commonHeader [MinimumHeaderSizeBytes]byte) *Fill {
	return &Fill{Header: LoadCommonHeader(commonHeader, 0), Index: index}
}

// SetBestFitSize resizes the chunk to the largest size that fits
// within availableSpace, returning the resulting chunk size in bytes.
func (c *Fill) SetBestFitSize(availableSpace uint32) uint {
	size := c.Header.SetBestFitSize(availableSpace)
	c.Header.SetAllBytesValid()
	return size
}

// FillSpaceBytes returns the total span this chunk occupies, header
// included.
func (c *Fill) FillSpaceBytes() uint { return c.Header.ChunkSize() }

// Save recomputes the CRC and writes the chunk, padding its body with
// output from padder (the padding bytes are exactly the reclaimed
// don't-care payload).
func (c *Fill) Save(device Device, padder *Padder) error {
	c.Header.SetCRC(c.Header.InitializeCRC())
	return SaveHeader(device, c.Index, c.Header, padder, true)
}
