package chunk

// maximumVirtualFilenameLength is the number of bytes reserved for a
// virtual file's name, including its terminating NUL. Names longer
// than maximumVirtualFilenameLength-1 bytes are truncated.
const maximumVirtualFilenameLength = 120

// StreamStart marks the first chunk of a virtual file's stream,
// recording the stream identifier and the file's name.
type StreamStart struct {
	Header *Header
	Index  FileIndex
}

// NewStreamStart builds a StreamStart chunk for streamIdentifier
// carrying name.
func NewStreamStart(index FileIndex, streamIdentifier StreamIdentifier, name string) *StreamStart {
	h := NewHeader(numberAdditionalStreamHeaderBytes + maximumVirtualFilenameLength)
	h.SetType(StreamStart)
	h.SetAllBytesValid()

	setLast(h, false)
	setStreamIdentifier(h, streamIdentifier)

	c := &StreamStart{Header: h, Index: index}
	c.SetVirtualFilename(name)
	return c
}

// LoadStreamStart prepares a StreamStart chunk for Load, sizing its
// buffer from an already-decoded common header.
func LoadStreamStart(index FileIndex, commonHeader [MinimumHeaderSizeBytes]byte) *StreamStart {
	return &StreamStart{Header: LoadCommonHeader(commonHeader, numberAdditionalStreamHeaderBytes+maximumVirtualFilenameLength), Index: index}
}

// Load reads this chunk's additional header (stream identifier plus
// name) from device, assuming the common header has already been
// decoded by the caller.
func (c *StreamStart) Load(device Device) error {
	return LoadHeader(device, c.Index, c.Header, false)
}

// Save recomputes the CRC and writes this chunk, padding the remainder
// of the chunk with output from padder.
func (c *StreamStart) Save(device Device, padder *Padder) error {
	c.Header.SetCRC(c.Header.InitializeCRC())
	return SaveHeader(device, c.Index, c.Header, padder, true)
}

// CheckCRC reports whether the stored CRC matches the header content.
func (c *StreamStart) CheckCRC() bool {
	return c.Header.CRC() == c.Header.InitializeCRC()
}

// StreamIdentifier returns the stream identifier this chunk opens.
func (c *StreamStart) StreamIdentifier() StreamIdentifier { return streamIdentifierOf(c.Header) }

// SetStreamIdentifier assigns the stream identifier this chunk opens.
func (c *StreamStart) SetStreamIdentifier(id StreamIdentifier) { setStreamIdentifier(c.Header, id) }

// IsLast reports whether this chunk is also the stream's last chunk
// (an empty virtual file with no StreamData chunks at all).
func (c *StreamStart) IsLast() bool { return isLastOf(c.Header) }

// SetLast sets whether this chunk is also the stream's last chunk.
func (c *StreamStart) SetLast(nowLast bool) { setLast(c.Header, nowLast) }

// SetVirtualFilename stores name into the chunk's name slot, truncating
// to maximumVirtualFilenameLength-1 bytes and zero-padding the rest.
func (c *StreamStart) SetVirtualFilename(name string) {
	slot := streamAdditionalHeader(c.Header)[:maximumVirtualFilenameLength]
	for i := range slot {
		slot[i] = 0
	}
	n := len(name)
	if n > maximumVirtualFilenameLength-1 {
		n = maximumVirtualFilenameLength - 1
	}
	copy(slot, name[:n])
}

// VirtualFilename reads the chunk's name slot back, defensively
// stopping at the first NUL byte in case the slot lacks a terminator.
func (c *StreamStart) VirtualFilename() string {
	slot := streamAdditionalHeader(c.Header)[:maximumVirtualFilenameLength]
	end := 0
	for end < len(slot) && slot[end] != 0 {
		end++
	}
	return string(slot[:end])
}
