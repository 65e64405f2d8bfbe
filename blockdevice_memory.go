package icontainer

import (
	"io"

	"github.com/orcaman/writerseeker"
)

// MemoryBlockDevice is a BlockDevice backed by a growable in-memory
// buffer. It always supports truncation, as FileBlockDevice does;
// only the read-only MmapBlockDevice does not.
type MemoryBlockDevice struct {
	ws  writerseeker.WriterSeeker
	pos int64
}

// NewMemoryBlockDevice returns an empty memory-backed device.
func NewMemoryBlockDevice() *MemoryBlockDevice {
	return &MemoryBlockDevice{}
}

func (d *MemoryBlockDevice) Size() (uint64, error) {
	return uint64(d.ws.BytesReader().Len()), nil
}

func (d *MemoryBlockDevice) SetPosition(offset uint64) error {
	size, _ := d.Size()
	if offset > size {
		return newErrorAt(SeekError, offset, "position past end of device")
	}
	d.pos = int64(offset)
	return nil
}

func (d *MemoryBlockDevice) SetPositionLast() error {
	size, _ := d.Size()
	d.pos = int64(size)
	return nil
}

func (d *MemoryBlockDevice) Position() (uint64, error) {
	return uint64(d.pos), nil
}

func (d *MemoryBlockDevice) Read(buf []byte) (int, error) {
	r := d.ws.BytesReader()
	if _, err := r.Seek(d.pos, io.SeekStart); err != nil {
		return 0, newError(FileReadError, err.Error())
	}
	n, err := r.Read(buf)
	d.pos += int64(n)
	if err != nil && err != io.EOF {
		return n, newError(FileReadError, err.Error())
	}
	return n, err
}

func (d *MemoryBlockDevice) Write(buf []byte) (int, error) {
	if _, err := d.ws.Seek(d.pos, io.SeekStart); err != nil {
		return 0, newError(FileWriteError, err.Error())
	}
	n, err := d.ws.Write(buf)
	d.pos += int64(n)
	if err != nil {
		return n, newError(FileWriteError, err.Error())
	}
	if n != len(buf) {
		return n, newError(FileWriteError, io.ErrShortWrite.Error())
	}
	return n, nil
}

func (d *MemoryBlockDevice) SupportsTruncation() bool { return true }

// Truncate shortens the buffer to the current position. writerseeker
// exposes no native shrink operation, so the retained prefix is copied
// into a fresh WriterSeeker.
func (d *MemoryBlockDevice) Truncate() error {
	r := d.ws.BytesReader()
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return newError(FileTruncateError, err.Error())
	}

	retained := make([]byte, d.pos)
	if _, err := io.ReadFull(r, retained); err != nil {
		return newError(FileTruncateError, err.Error())
	}

	d.ws = writerseeker.WriterSeeker{}
	if _, err := d.ws.Write(retained); err != nil {
		return newError(FileTruncateError, err.Error())
	}
	return nil
}

func (d *MemoryBlockDevice) Flush() error { return nil }
