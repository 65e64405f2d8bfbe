package chunk

import (
	"io"

	"golang.org/x/xerrors"
)

// Device is the narrow positioned-I/O surface this package needs from
// a backing store. icontainer.BlockDevice satisfies it structurally.
type Device interface {
	SetPosition(offset uint64) error
	Position() (uint64, error)
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
}

// LoadHeader reads a chunk's header from device at index into h. When
// includeCommonHeader is true the full header (common 4 bytes plus
// any additional header space) is read; otherwise only the additional
// header is read, on the assumption the caller already has the common
// 4 bytes (e.g. from a traversal that decoded the type first).
func LoadHeader(device Device, index FileIndex, h *Header, includeCommonHeader bool) error {
	var offset uint64
	var dst []byte
	if includeCommonHeader {
		offset = ToPosition(index)
		dst = h.FullHeader()
	} else {
		offset = ToPosition(index) + MinimumHeaderSizeBytes
		dst = h.AdditionalHeader()
	}

	if err := device.SetPosition(offset); err != nil {
		return err
	}
	if _, err := io.ReadFull(device, dst); err != nil {
		return xerrors.Errorf("chunk: load header at index %d: %w", index, err)
	}
	return nil
}

// SaveHeader positions the device at index, writes h's current header
// bytes (common plus additional), and pads the remainder of the chunk
// with padder output when padToChunkSize is set. The caller is
// responsible for calling h.SetCRC with a freshly computed value
// before calling SaveHeader.
func SaveHeader(device Device, index FileIndex, h *Header, padder *Padder, padToChunkSize bool) error {
	if err := device.SetPosition(ToPosition(index)); err != nil {
		return err
	}
	n, err := device.Write(h.FullHeader())
	if err != nil {
		return xerrors.Errorf("chunk: save header at index %d: %w", index, err)
	}
	if n != len(h.FullHeader()) {
		return xerrors.Errorf("chunk: short header write at index %d", index)
	}

	if padToChunkSize {
		return WriteTail(device, index, h, padder, 0)
	}
	return nil
}

// readFull reads exactly len(buf) bytes from device, or as many as are
// available before an error (including io.EOF) is encountered.
func readFull(device Device, buf []byte) (int, error) {
	n, err := io.ReadFull(device, buf)
	if err != nil {
		return n, xerrors.Errorf("chunk: read: %w", err)
	}
	return n, nil
}

// writeFull writes buf to device in full, treating a short write as an error.
func writeFull(device Device, buf []byte) error {
	n, err := device.Write(buf)
	if err != nil {
		return xerrors.Errorf("chunk: write: %w", err)
	}
	if n != len(buf) {
		return xerrors.Errorf("chunk: short write")
	}
	return nil
}

// WriteTail pads the remainder of the chunk at index with
// pseudo-random bytes from padder. When additionalBytes is zero the
// number of bytes needed is computed from the device's current
// position relative to the chunk's end.
func WriteTail(device Device, index FileIndex, h *Header, padder *Padder, additionalBytes uint) error {
	if additionalBytes == 0 {
		pos, err := device.Position()
		if err != nil {
			return err
		}
		chunkEnd := ToPosition(index) + uint64(h.ChunkSize())
		if pos > chunkEnd {
			return xerrors.Errorf("chunk: write position %d past chunk end %d", pos, chunkEnd)
		}
		additionalBytes = uint(chunkEnd - pos)
	}

	if additionalBytes == 0 {
		return nil
	}

	buf := make([]byte, additionalBytes)
	padder.Fill(buf)

	n, err := device.Write(buf)
	if err != nil {
		return xerrors.Errorf("chunk: write tail at index %d: %w", index, err)
	}
	if n != len(buf) {
		return xerrors.Errorf("chunk: short tail write at index %d", index)
	}
	return nil
}
