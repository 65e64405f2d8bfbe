package icontainer

import "io"

// BlockDevice is the positioned-I/O collaborator the container engine
// is built against. It deliberately mirrors the narrow surface the
// engine actually drives (sequential position cursor, not arbitrary
// pread/pwrite) so that both a file and an in-memory buffer can
// implement it without adapters.
//
// Read follows the same short-read contract as io.Reader: a read that
// reaches the end of the device returns the bytes available along
// with io.EOF. Write follows io.Writer's short-write contract: an
// implementation that writes fewer bytes than requested must return a
// non-nil error.
type BlockDevice interface {
	// Size returns the current size of the device in bytes.
	Size() (uint64, error)

	// SetPosition moves the cursor to an absolute byte offset. An
	// offset past the current size is rejected.
	SetPosition(offset uint64) error

	// SetPositionLast moves the cursor to the current end of the
	// device, clamping rather than failing.
	SetPositionLast() error

	// Position returns the current cursor offset.
	Position() (uint64, error)

	io.Reader
	io.Writer

	// SupportsTruncation reports whether Truncate is implemented.
	SupportsTruncation() bool

	// Truncate shortens the device to the current cursor position.
	Truncate() error

	// Flush commits any buffered writes to the backing medium.
	Flush() error
}
