package chunk

// streamDataFixedBytes is the size of the StreamData chunk's own
// additional header fields (the 6-byte stream offset) ahead of the
// shared stream identifier/last-flag field.
const streamDataFixedBytes = 6

// StreamData carries a contiguous range of one stream's bytes. Unlike
// FileHeader, StreamStart, and Fill, its payload is never held in the
// header buffer: it is read and written directly against the device
// through a caller-supplied scatter-gather list, since payloads can
// span multiple, non-contiguous caller buffers.
type StreamData struct {
	Header *Header
	Index  FileIndex
}

// NewStreamData builds a StreamData chunk for streamIdentifier at
// offsetInStream, sized to the chunk-size class that best fits
// availableSpace (the free region this chunk has been allocated).
func NewStreamData(index FileIndex, streamIdentifier StreamIdentifier, offsetInStream uint64, availableSpace uint32) *StreamData {
	h := NewHeader(numberAdditionalStreamHeaderBytes + streamDataFixedBytes)
	h.SetType(StreamData)
	h.SetBestFitSize(availableSpace)

	setLast(h, false)
	setStreamIdentifier(h, streamIdentifier)
	setChunkOffset(h, offsetInStream)

	return &StreamData{Header: h, Index: index}
}

// LoadStreamData prepares a StreamData chunk for Load from an
// already-decoded common header.
func LoadStreamData(index FileIndex, commonHeader [MinimumHeaderSizeBytes]byte) *StreamData {
	return &StreamData{
		Header: LoadCommonHeader(commonHeader, numberAdditionalStreamHeaderBytes+streamDataFixedBytes),
		Index:  index,
	}
}

// LoadHeader reads this chunk's additional header (stream identifier,
// last flag, and stream offset) from device, assuming the common
// header has already been decoded by the caller.
func (c *StreamData) LoadHeader(device Device) error {
	return LoadHeader(device, c.Index, c.Header, false)
}

// PayloadSize returns the number of payload bytes this chunk declares,
// derived from the header's valid-byte count.
func (c *StreamData) PayloadSize() uint {
	return c.Header.NumberValidBytes() - numberAdditionalStreamHeaderBytes - streamDataFixedBytes
}

// LoadPayload reads this chunk's payload from device, positioned
// immediately after the additional header, distributing bytes across
// segments in order and stopping once PayloadSize bytes have been
// read. It returns the total number of bytes read.
func (c *StreamData) LoadPayload(device Device, segments List) (int, error) {
	remaining := int(c.PayloadSize())
	total := 0
	for i := range segments {
		if remaining <= 0 {
			break
		}
		seg := &segments[i]
		n := len(seg.Buf)
		if n > remaining {
			n = remaining
		}
		if n == 0 {
			continue
		}
		read, err := readFull(device, seg.Buf[:n])
		seg.Processed = read
		total += read
		remaining -= read
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// SavePayload writes this chunk's header followed by as much of
// segments' content as fits in the chunk's reserved space, recomputing
// the header's valid-byte count and CRC to match what is actually
// written. When padToChunkSize is set, any remaining space in the
// chunk is padded with output from padder.
func (c *StreamData) SavePayload(device Device, segments List, padder *Padder, padToChunkSize bool) error {
	available := c.Header.AdditionalAvailableSpace()
	payloadBytes := segments.TotalLength()
	if uint(payloadBytes) > available {
		payloadBytes = int(available)
	}

	c.Header.SetNumberValidBytes(uint(payloadBytes)+numberAdditionalStreamHeaderBytes+streamDataFixedBytes, false)

	crc := c.Header.InitializeCRC()
	remaining := payloadBytes
	for _, seg := range segments {
		n := len(seg.Buf)
		if n > remaining {
			n = remaining
		}
		if n == 0 {
			continue
		}
		crc = CalculateCRC(crc, seg.Buf[:n])
		remaining -= n
	}
	c.Header.SetCRC(crc)

	if err := device.SetPosition(ToPosition(c.Index)); err != nil {
		return err
	}
	if err := writeFull(device, c.Header.FullHeader()); err != nil {
		return err
	}

	remaining = payloadBytes
	for _, seg := range segments {
		n := len(seg.Buf)
		if n > remaining {
			n = remaining
		}
		if n == 0 {
			continue
		}
		if err := writeFull(device, seg.Buf[:n]); err != nil {
			return err
		}
		remaining -= n
	}

	if padToChunkSize {
		return WriteTail(device, c.Index, c.Header, padder, 0)
	}
	return nil
}

// CheckCRC reports whether the stored CRC matches the header plus the
// payload found in segments (which must hold exactly the bytes most
// recently loaded or to be saved).
func (c *StreamData) CheckCRC(segments List) bool {
	crc := c.Header.InitializeCRC()
	remaining := int(c.PayloadSize())
	for _, seg := range segments {
		n := len(seg.Buf)
		if n > remaining {
			n = remaining
		}
		if n == 0 {
			continue
		}
		crc = CalculateCRC(crc, seg.Buf[:n])
		remaining -= n
	}
	return crc == c.Header.CRC()
}

// StreamIdentifier returns the stream identifier this chunk belongs to.
func (c *StreamData) StreamIdentifier() StreamIdentifier { return streamIdentifierOf(c.Header) }

// SetStreamIdentifier assigns the stream identifier this chunk belongs to.
func (c *StreamData) SetStreamIdentifier(id StreamIdentifier) { setStreamIdentifier(c.Header, id) }

// IsLast reports whether this chunk is the last chunk in its stream.
func (c *StreamData) IsLast() bool { return isLastOf(c.Header) }

// SetLast sets whether this chunk is the last chunk in its stream.
func (c *StreamData) SetLast(nowLast bool) { setLast(c.Header, nowLast) }

// ChunkOffset returns the byte offset, within the owning stream, of
// this chunk's payload.
func (c *StreamData) ChunkOffset() uint64 { return chunkOffsetOf(c.Header) }

// SetChunkOffset assigns the byte offset, within the owning stream, of
// this chunk's payload.
func (c *StreamData) SetChunkOffset(offset uint64) { setChunkOffset(c.Header, offset) }

// setChunkOffset packs a 48-bit little-endian offset into the 6 bytes
// following the shared stream identifier/last-flag field.
func setChunkOffset(h *Header, offset uint64) {
	field := streamAdditionalHeader(h)[:streamDataFixedBytes]
	for i := 0; i < streamDataFixedBytes; i++ {
		field[i] = byte(offset >> (8 * uint(i)))
	}
}

// chunkOffsetOf unpacks the 48-bit offset stored by setChunkOffset.
func chunkOffsetOf(h *Header) uint64 {
	field := streamAdditionalHeader(h)[:streamDataFixedBytes]
	var offset uint64
	for i := 0; i < streamDataFixedBytes; i++ {
		offset |= uint64(field[i]) << (8 * uint(i))
	}
	return offset
}
