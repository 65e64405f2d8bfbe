package icontainer

import (
	"io"

	"golang.org/x/exp/mmap"
)

// MmapBlockDevice is a read-only BlockDevice backed by a memory-mapped
// file, intended for fast recovery traversal of large containers
// where paging in only the touched chunks beats a full sequential
// read. Every mutating method fails with InvalidOpenMode.
type MmapBlockDevice struct {
	reader *mmap.ReaderAt
	pos    int64
}

// OpenMmapBlockDevice maps path read-only.
func OpenMmapBlockDevice(path string) (*MmapBlockDevice, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, newError(FailedToOpenFile, err.Error())
	}
	return &MmapBlockDevice{reader: r}, nil
}

// Close unmaps the underlying file.
func (d *MmapBlockDevice) Close() error {
	if err := d.reader.Close(); err != nil {
		return newError(FileCloseError, err.Error())
	}
	return nil
}

func (d *MmapBlockDevice) Size() (uint64, error) {
	return uint64(d.reader.Len()), nil
}

func (d *MmapBlockDevice) SetPosition(offset uint64) error {
	if offset > uint64(d.reader.Len()) {
		return newErrorAt(SeekError, offset, "position past end of device")
	}
	d.pos = int64(offset)
	return nil
}

func (d *MmapBlockDevice) SetPositionLast() error {
	d.pos = int64(d.reader.Len())
	return nil
}

func (d *MmapBlockDevice) Position() (uint64, error) { return uint64(d.pos), nil }

func (d *MmapBlockDevice) Read(buf []byte) (int, error) {
	n, err := d.reader.ReadAt(buf, d.pos)
	d.pos += int64(n)
	if err != nil && err != io.EOF {
		return n, newError(FileReadError, err.Error())
	}
	return n, err
}

func (d *MmapBlockDevice) Write([]byte) (int, error) {
	return 0, newError(InvalidOpenMode, "mmap block device is read-only")
}

func (d *MmapBlockDevice) SupportsTruncation() bool { return false }

func (d *MmapBlockDevice) Truncate() error {
	return newError(InvalidOpenMode, "mmap block device is read-only")
}

func (d *MmapBlockDevice) Flush() error { return nil }
