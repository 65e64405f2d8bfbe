package icontainer

import "golang.org/x/xerrors"

// ErrorKind identifies which member of the container's closed error
// taxonomy an Error value represents.
type ErrorKind uint8

const (
	// ContainerUnavailable reports use of a virtual file after it has
	// been erased.
	ContainerUnavailable ErrorKind = iota

	// StreamIdentifierMismatch reports a StreamData chunk whose
	// encoded stream id does not match the virtual file it was
	// found under during traversal.
	StreamIdentifierMismatch
	// OffsetMismatch reports a StreamData chunk whose encoded offset
	// differs from the offset its chunk-map entry records.
	OffsetMismatch
	// PayloadSizeMismatch reports a chunk whose declared payload size
	// disagrees with the bytes actually available.
	PayloadSizeMismatch
	// FilenameMismatch reports a StreamStart chunk bound to a name
	// that conflicts with an already-registered virtual file.
	FilenameMismatch
	// FileCreationError reports failure to allocate a new virtual
	// file (for example, when no unused stream identifier is left).
	FileCreationError
	// ContainerDataError reports structurally invalid container
	// contents discovered during traversal (a FileHeader chunk away
	// from index zero, a truncated chunk header, and similar).
	ContainerDataError

	// HeaderIdentifierInvalid reports a FileHeaderChunk whose
	// identifier string does not match what the caller expects.
	HeaderIdentifierInvalid
	// HeaderVersionInvalid reports a FileHeaderChunk whose major
	// version is newer than this implementation supports.
	HeaderVersionInvalid
	// HeaderCrcError reports a chunk whose stored CRC does not match
	// its computed CRC.
	HeaderCrcError

	// SeekError reports a BlockDevice positioning failure.
	SeekError
	// InvalidOpenMode reports an attempt to open a device in a mode
	// that does not support the requested operation.
	InvalidOpenMode
	// FileContainerNotOpen reports an operation attempted before
	// Open or after Close.
	FileContainerNotOpen
	// FailedToOpenFile reports failure to open the backing file.
	FailedToOpenFile
	// FileCloseError reports failure to close the backing file.
	FileCloseError
	// FileReadError reports a BlockDevice read failure.
	FileReadError
	// FileWriteError reports a BlockDevice write failure, including a
	// short write.
	FileWriteError
	// FileTruncateError reports a BlockDevice truncate failure.
	FileTruncateError
	// FileFlushError reports a BlockDevice flush failure.
	FileFlushError
)

var errorKindNames = map[ErrorKind]string{
	ContainerUnavailable:     "container unavailable",
	StreamIdentifierMismatch: "stream identifier mismatch",
	OffsetMismatch:           "offset mismatch",
	PayloadSizeMismatch:      "payload size mismatch",
	FilenameMismatch:         "filename mismatch",
	FileCreationError:        "file creation error",
	ContainerDataError:       "container data error",
	HeaderIdentifierInvalid:  "header identifier invalid",
	HeaderVersionInvalid:     "header version invalid",
	HeaderCrcError:           "header CRC error",
	SeekError:                "seek error",
	InvalidOpenMode:          "invalid open mode",
	FileContainerNotOpen:     "container not open",
	FailedToOpenFile:         "failed to open file",
	FileCloseError:           "file close error",
	FileReadError:            "file read error",
	FileWriteError:           "file write error",
	FileTruncateError:        "file truncate error",
	FileFlushError:           "file flush error",
}

func (k ErrorKind) String() string {
	if s, ok := errorKindNames[k]; ok {
		return s
	}
	return "unknown error"
}

// Error is the container's single fatal-error type. Every error
// returned from this package that is not a plain io error can be
// inspected with errors.As to recover its Kind and, where meaningful,
// the byte Offset at which it was detected.
type Error struct {
	Kind    ErrorKind
	Message string
	// Offset is the byte offset within the container where the error
	// was detected. Negative when not applicable.
	Offset int64
}

func (e *Error) Error() string {
	if e.Offset >= 0 {
		return xerrors.Errorf("%s at offset %d: %s", e.Kind, e.Offset, e.Message).Error()
	}
	return xerrors.Errorf("%s: %s", e.Kind, e.Message).Error()
}

func newError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message, Offset: -1}
}

func newErrorAt(kind ErrorKind, offset uint64, message string) *Error {
	return &Error{Kind: kind, Message: message, Offset: int64(offset)}
}
