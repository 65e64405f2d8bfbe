// Package chunk implements the on-disk chunk format used by the
// container engine: a fixed power-of-two-sized block with a 4-byte
// common header (type, size class, valid-byte count, CRC-16) followed
// by type-specific payload.
package chunk

import "golang.org/x/xerrors"

// FileIndex identifies a 32-byte-aligned position within a container.
// Multiplying by 32 yields the byte offset; the container format is
// limited to 2^32 * 32 bytes (128 GiB) of addressable space.
type FileIndex uint32

// InvalidFileIndex marks an index that does not refer to real storage.
const InvalidFileIndex FileIndex = 1<<32 - 1

// ToPosition converts a file index to a byte offset.
func ToPosition(index FileIndex) uint64 { return uint64(index) * 32 }

// ToFileIndex converts a byte offset to a file index, truncating to
// the enclosing 32-byte boundary.
func ToFileIndex(position uint64) FileIndex { return FileIndex(position / 32) }

// ChunkP2 is the power-of-two size class of a chunk: chunk size in
// bytes is 1 << (p + 5), so p ranges over [0, 7] for sizes [32, 4096].
type ChunkP2 uint8

// ToChunkSize converts a size class to a chunk size in bytes.
func ToChunkSize(p ChunkP2) uint {
	if p > 7 {
		panic("chunk: size class out of range")
	}
	return 1 << (uint(p) + 5)
}

// ToClosestSmallerChunkP2 returns the largest size class whose chunk
// size is less than or equal to spaceMaximum.
func ToClosestSmallerChunkP2(spaceMaximum uint32) ChunkP2 {
	p := log2(spaceMaximum)
	if p <= 5 {
		return 0
	}
	return ChunkP2(p - 5)
}

// ToClosestLargerChunkP2 returns the smallest size class whose chunk
// size is greater than or equal to spaceMinimum.
func ToClosestLargerChunkP2(spaceMinimum uint32) ChunkP2 {
	p := log2(spaceMinimum-1) + 1
	if p <= 5 {
		return 0
	}
	return ChunkP2(p - 5)
}

// Type identifies the kind of data a chunk carries.
type Type uint8

const (
	// FileHeader marks the container's identifying chunk, always at index 0.
	FileHeader Type = 0
	// StreamStart binds a stream identifier to a name.
	StreamStart Type = 1
	// StreamData carries a range of bytes belonging to a stream.
	StreamData Type = 2
	// Fill marks unused, reclaimable space.
	Fill Type = 3
)

const (
	// MinimumHeaderSizeBytes is the size of the common header.
	MinimumHeaderSizeBytes = 4
	// MinimumChunkSize is the smallest legal chunk, header included.
	MinimumChunkSize = 1 << 5
	// MaximumChunkSize is the largest legal chunk, header included.
	MaximumChunkSize = 1 << (7 + 5)
)

// RunningCRC is a CRC-16/0x8005 accumulator value.
type RunningCRC uint16

// Header is the common 4-byte prefix shared by every chunk on disk,
// plus whatever additional header bytes a concrete chunk type reserves
// for its own bookkeeping (stream identifiers, offsets, and so on).
//
// Byte layout (little-endian bit packing within the first two bytes):
//
//	byte 0: bits[1:0] = type, bits[4:2] = size class (p), bits[7:5] = invalid-byte-count low 3 bits
//	byte 1: invalid-byte-count high 8 bits
//	byte 2-3: CRC-16, little-endian
type Header struct {
	raw []byte
}

// NewHeader allocates a fresh header with additionalHeaderBytes of
// reserved space beyond the common 4 bytes, sized to the smallest chunk
// that holds that additional header with no payload bytes.
func NewHeader(additionalHeaderBytes uint) *Header {
	h := &Header{raw: make([]byte, MinimumHeaderSizeBytes+additionalHeaderBytes)}
	h.raw[0] = 0x80
	h.raw[1] = 0x03
	h.SetNumberValidBytes(additionalHeaderBytes, true)
	return h
}

// LoadCommonHeader builds a header from an already-read 4-byte common
// header, sized to hold additionalHeaderBytes of extra header space.
func LoadCommonHeader(commonHeader [MinimumHeaderSizeBytes]byte, additionalHeaderBytes uint) *Header {
	h := &Header{raw: make([]byte, MinimumHeaderSizeBytes+additionalHeaderBytes)}
	copy(h.raw, commonHeader[:])
	return h
}

// LoadSized builds a header from an already-read 4-byte common header,
// sizing the additional header space from the chunk size class and
// invalid byte count encoded within it.
func LoadSized(commonHeader [MinimumHeaderSizeBytes]byte) *Header {
	sp2 := (commonHeader[0] >> 2) & 0x07
	numberInvalidBytes := uint(commonHeader[1])<<3 | uint((commonHeader[0]>>5)&0x07)
	chunkSize := uint(1) << (uint(sp2) + 5)

	h := &Header{raw: make([]byte, chunkSize-numberInvalidBytes)}
	copy(h.raw, commonHeader[:])
	return h
}

// Type returns the chunk type encoded in this header.
func (h *Header) Type() Type { return Type(h.raw[0] & 0x03) }

// SetType updates the chunk type encoded in this header.
func (h *Header) SetType(t Type) {
	h.raw[0] = (h.raw[0] &^ 0x03) | byte(t)&0x03
}

// NumberValidBytes returns the number of valid payload bytes in this
// chunk, including any additional header bytes but excluding the
// common 4-byte header.
func (h *Header) NumberValidBytes() uint {
	numberInvalidBytes := uint(h.raw[1])<<3 | uint((h.raw[0]>>5)&0x07)
	return h.ChunkSize() - numberInvalidBytes - MinimumHeaderSizeBytes
}

// ChunkSize returns the total on-disk size of this chunk, header
// included.
func (h *Header) ChunkSize() uint {
	sp2 := (h.raw[0] >> 2) & 0x07
	return 1 << (uint(sp2) + 5)
}

// SetCRC stores a computed CRC-16 value into the header.
func (h *Header) SetCRC(crc RunningCRC) {
	h.raw[2] = byte(crc)
	h.raw[3] = byte(crc >> 8)
}

// CRC returns the CRC-16 value currently stored in the header.
func (h *Header) CRC() RunningCRC {
	return RunningCRC(h.raw[3])<<8 | RunningCRC(h.raw[2])
}

// FullHeader returns the raw header bytes, common header followed by
// any additional header space.
func (h *Header) FullHeader() []byte { return h.raw }

// FullHeaderSizeBytes returns the total size of the header in bytes.
func (h *Header) FullHeaderSizeBytes() uint { return uint(len(h.raw)) }

// AdditionalHeader returns the header bytes beyond the common 4-byte
// prefix, reserved for use by a concrete chunk type.
func (h *Header) AdditionalHeader() []byte { return h.raw[MinimumHeaderSizeBytes:] }

// AdditionalHeaderSizeBytes returns the number of additional header
// bytes reserved beyond the common 4-byte prefix.
func (h *Header) AdditionalHeaderSizeBytes() uint { return uint(len(h.raw)) - MinimumHeaderSizeBytes }

// AdditionalAvailableSpace returns the number of bytes in the chunk
// available for payload plus additional header, i.e. the chunk size
// minus the total header size currently allocated.
func (h *Header) AdditionalAvailableSpace() uint { return h.ChunkSize() - uint(len(h.raw)) }

// SetNumberValidBytes adjusts the chunk's size class to the smallest
// one that can hold newValidByteCount bytes of payload (additional
// header included), returning the actual number of valid bytes stored
// (which may be clamped down when canGrowChunkSize is false) and
// whether the chunk size class changed.
func (h *Header) SetNumberValidBytes(newValidByteCount uint, canGrowChunkSize bool) (actual uint, chunkSizeChanged bool) {
	currentChunkSize := h.ChunkSize()

	var maximumPayloadSize uint
	if canGrowChunkSize {
		maximumPayloadSize = MaximumChunkSize - MinimumHeaderSizeBytes
	} else {
		maximumPayloadSize = currentChunkSize - MinimumHeaderSizeBytes
	}

	if newValidByteCount > maximumPayloadSize {
		newValidByteCount = maximumPayloadSize
	}

	requiredBits := log2(uint32(newValidByteCount+MinimumHeaderSizeBytes-1)) + 1
	if requiredBits < 5 {
		requiredBits = 5
	}

	newChunkSize := uint(1) << requiredBits
	numberInvalidBytes := newChunkSize - newValidByteCount - MinimumHeaderSizeBytes

	typeCode := h.raw[0] & 0x03
	hdr := uint16(typeCode) | uint16(requiredBits-5)<<2 | uint16(numberInvalidBytes)<<5

	h.raw[0] = byte(hdr)
	h.raw[1] = byte(hdr >> 8)

	return newValidByteCount, newChunkSize != currentChunkSize
}

// SetBestFitSize configures the header's size class to the largest
// chunk that fits within availableSpace. Only the size class changes;
// the invalid-byte count is left as it was (SetAllBytesValid resets
// it). Returns the resulting chunk size, or zero if availableSpace is
// smaller than the minimum chunk size.
func (h *Header) SetBestFitSize(availableSpace uint32) uint {
	var bestFitSize uint
	var p uint8
	if availableSpace < MinimumChunkSize {
		bestFitSize, p = 0, 0
	} else {
		requiredBits := log2(availableSpace)
		if requiredBits > 7+5 {
			requiredBits = 7 + 5
		}
		bestFitSize = 1 << requiredBits
		p = uint8(requiredBits - 5)
	}

	h.raw[0] = (h.raw[0] &^ 0x1C) | (p << 2)
	return bestFitSize
}

// SetAllBytesValid marks every byte in the chunk as valid payload
// without altering the chunk's size class.
func (h *Header) SetAllBytesValid() {
	h.raw[0] &= 0x1F
	h.raw[1] = 0
}

// InitializeCRC seeds a CRC accumulator from the first two header
// bytes and folds in the additional header bytes, ready to be
// extended over the chunk's payload by CalculateCRC.
func (h *Header) InitializeCRC() RunningCRC {
	seed := RunningCRC(h.raw[1])<<8 | RunningCRC(h.raw[0])
	return CalculateCRC(seed, h.AdditionalHeader())
}

// CalculateCRC extends a running CRC-16/0x8005 value over data.
func CalculateCRC(currentCRC RunningCRC, data []byte) RunningCRC {
	for _, b := range data {
		xorValue := crcTable[currentCRC>>8]
		currentCRC = (currentCRC<<8 | RunningCRC(b)) ^ xorValue
	}
	return currentCRC
}

// ErrCorruptChunk indicates a chunk's stored CRC does not match its
// computed CRC.
var ErrCorruptChunk = xerrors.New("chunk: CRC mismatch")

var mulDeBruijnBitTable = [32]uint{
	0, 9, 1, 10, 13, 21, 2, 29, 11, 14, 16, 18, 22, 25, 3, 30,
	8, 12, 20, 28, 15, 17, 24, 7, 19, 27, 23, 6, 26, 5, 4, 31,
}

// log2 returns the floor of the base-2 logarithm of x, using a
// De Bruijn sequence lookup so the result is branch-free and portable.
func log2(x uint32) uint {
	x |= x >> 1
	x |= x >> 2
	x |= x >> 4
	x |= x >> 8
	x |= x >> 16
	return mulDeBruijnBitTable[(x*0x07C4ACDD)>>27]
}

var crcTable = [256]RunningCRC{
	0x0000, 0x8005, 0x800F, 0x000A, 0x801B, 0x001E, 0x0014, 0x8011,
	0x8033, 0x0036, 0x003C, 0x8039, 0x0028, 0x802D, 0x8027, 0x0022,
	0x8063, 0x0066, 0x006C, 0x8069, 0x0078, 0x807D, 0x8077, 0x0072,
	0x0050, 0x8055, 0x805F, 0x005A, 0x804B, 0x004E, 0x0044, 0x8041,
	0x80C3, 0x00C6, 0x00CC, 0x80C9, 0x00D8, 0x80DD, 0x80D7, 0x00D2,
	0x00F0, 0x80F5, 0x80FF, 0x00FA, 0x80EB, 0x00EE, 0x00E4, 0x80E1,
	0x00A0, 0x80A5, 0x80AF, 0x00AA, 0x80BB, 0x00BE, 0x00B4, 0x80B1,
	0x8093, 0x0096, 0x009C, 0x8099, 0x0088, 0x808D, 0x8087, 0x0082,
	0x8183, 0x0186, 0x018C, 0x8189, 0x0198, 0x819D, 0x8197, 0x0192,
	0x01B0, 0x81B5, 0x81BF, 0x01BA, 0x81AB, 0x01AE, 0x01A4, 0x81A1,
	0x01E0, 0x81E5, 0x81EF, 0x01EA, 0x81FB, 0x01FE, 0x01F4, 0x81F1,
	0x81D3, 0x01D6, 0x01DC, 0x81D9, 0x01C8, 0x81CD, 0x81C7, 0x01C2,
	0x0140, 0x8145, 0x814F, 0x014A, 0x815B, 0x015E, 0x0154, 0x8151,
	0x8173, 0x0176, 0x017C, 0x8179, 0x0168, 0x816D, 0x8167, 0x0162,
	0x8123, 0x0126, 0x012C, 0x8129, 0x0138, 0x813D, 0x8137, 0x0132,
	0x0110, 0x8115, 0x811F, 0x011A, 0x810B, 0x010E, 0x0104, 0x8101,
	0x8303, 0x0306, 0x030C, 0x8309, 0x0318, 0x831D, 0x8317, 0x0312,
	0x0330, 0x8335, 0x833F, 0x033A, 0x832B, 0x032E, 0x0324, 0x8321,
	0x0360, 0x8365, 0x836F, 0x036A, 0x837B, 0x037E, 0x0374, 0x8371,
	0x8353, 0x0356, 0x035C, 0x8359, 0x0348, 0x834D, 0x8347, 0x0342,
	0x03C0, 0x83C5, 0x83CF, 0x03CA, 0x83DB, 0x03DE, 0x03D4, 0x83D1,
	0x83F3, 0x03F6, 0x03FC, 0x83F9, 0x03E8, 0x83ED, 0x83E7, 0x03E2,
	0x83A3, 0x03A6, 0x03AC, 0x83A9, 0x03B8, 0x83BD, 0x83B7, 0x03B2,
	0x0390, 0x8395, 0x839F, 0x039A, 0x838B, 0x038E, 0x0384, 0x8381,
	0x0280, 0x8285, 0x828F, 0x028A, 0x829B, 0x029E, 0x0294, 0x8291,
	0x82B3, 0x02B6, 0x02BC, 0x82B9, 0x02A8, 0x82AD, 0x82A7, 0x02A2,
	0x82E3, 0x02E6, 0x02EC, 0x82E9, 0x02F8, 0x82FD, 0x82F7, 0x02F2,
	0x02D0, 0x82D5, 0x82DF, 0x02DA, 0x82CB, 0x02CE, 0x02C4, 0x82C1,
	0x8243, 0x0246, 0x024C, 0x8249, 0x0258, 0x825D, 0x8257, 0x0252,
	0x0270, 0x8275, 0x827F, 0x027A, 0x826B, 0x026E, 0x0264, 0x8261,
	0x0220, 0x8225, 0x822F, 0x022A, 0x823B, 0x023E, 0x0234, 0x8231,
	0x8213, 0x0216, 0x021C, 0x8219, 0x0208, 0x820D, 0x8207, 0x0202,
}
