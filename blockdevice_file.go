package icontainer

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// FileBlockDevice is a BlockDevice backed by an os.File. Seeking and
// truncation go through golang.org/x/sys/unix directly rather than
// os.File's portable wrappers so that truncate and fsync failures
// surface as the underlying errno rather than a generic *PathError.
type FileBlockDevice struct {
	file *os.File
}

// OpenFileBlockDevice opens path for reading and writing, creating it
// if it does not already exist.
func OpenFileBlockDevice(path string) (*FileBlockDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, newError(FailedToOpenFile, err.Error())
	}
	return &FileBlockDevice{file: f}, nil
}

// Close releases the underlying file descriptor.
func (d *FileBlockDevice) Close() error {
	if err := d.file.Close(); err != nil {
		return newError(FileCloseError, err.Error())
	}
	return nil
}

func (d *FileBlockDevice) Size() (uint64, error) {
	info, err := d.file.Stat()
	if err != nil {
		return 0, newError(FileReadError, err.Error())
	}
	return uint64(info.Size()), nil
}

func (d *FileBlockDevice) SetPosition(offset uint64) error {
	size, err := d.Size()
	if err != nil {
		return err
	}
	if offset > size {
		return newErrorAt(SeekError, offset, "position past end of device")
	}
	if _, err := unix.Seek(int(d.file.Fd()), int64(offset), io.SeekStart); err != nil {
		return newErrorAt(SeekError, offset, err.Error())
	}
	return nil
}

func (d *FileBlockDevice) SetPositionLast() error {
	size, err := d.Size()
	if err != nil {
		return err
	}
	if _, err := unix.Seek(int(d.file.Fd()), int64(size), io.SeekStart); err != nil {
		return newErrorAt(SeekError, size, err.Error())
	}
	return nil
}

func (d *FileBlockDevice) Position() (uint64, error) {
	pos, err := unix.Seek(int(d.file.Fd()), 0, io.SeekCurrent)
	if err != nil {
		return 0, newError(SeekError, err.Error())
	}
	return uint64(pos), nil
}

func (d *FileBlockDevice) Read(buf []byte) (int, error) {
	n, err := d.file.Read(buf)
	if err != nil && err != io.EOF {
		return n, newError(FileReadError, err.Error())
	}
	return n, err
}

func (d *FileBlockDevice) Write(buf []byte) (int, error) {
	n, err := d.file.Write(buf)
	if err != nil {
		return n, newError(FileWriteError, err.Error())
	}
	if n != len(buf) {
		return n, newError(FileWriteError, io.ErrShortWrite.Error())
	}
	return n, nil
}

func (d *FileBlockDevice) SupportsTruncation() bool { return true }

func (d *FileBlockDevice) Truncate() error {
	pos, err := d.Position()
	if err != nil {
		return err
	}
	if err := unix.Ftruncate(int(d.file.Fd()), int64(pos)); err != nil {
		return newError(FileTruncateError, xerrors.Errorf("ftruncate: %w", err).Error())
	}
	return nil
}

func (d *FileBlockDevice) Flush() error {
	if err := unix.Fsync(int(d.file.Fd())); err != nil {
		return newError(FileFlushError, err.Error())
	}
	return nil
}
