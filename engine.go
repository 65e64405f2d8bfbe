// Package icontainer implements a single-file, multi-stream container
// format: many independently named virtual files, each an append- and
// random-access-capable byte stream, packed into chunks within one
// underlying BlockDevice. A container owns its own free-space tracking
// so virtual files can be rewritten, truncated, and erased in place
// without a full rewrite of the container.
package icontainer

import (
	"io"
	"sort"

	"github.com/inesonic/icontainer/internal/chunk"
	"github.com/inesonic/icontainer/internal/freespace"
)

// minorVersionUnset marks an Engine that has not yet opened a container,
// or one whose last open attempt failed.
const minorVersionUnset = 0xFF

// defaultPaddingSeed seeds an Engine's Padder when WithPaddingSeed is
// not supplied. It has no significance beyond being a fixed,
// reproducible starting point.
const defaultPaddingSeed = 0x9E3779B9

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithIgnoreIdentifier disables the identifier check normally performed
// by Open, accepting any container regardless of its recorded
// identifier string.
func WithIgnoreIdentifier() Option {
	return func(e *Engine) { e.ignoreIdentifier = true }
}

// WithMinorVersion sets the minor version written into a newly
// synthesized FileHeader chunk. It has no effect when opening an
// existing container.
func WithMinorVersion(minor uint8) Option {
	return func(e *Engine) { e.newMinorVersion = minor }
}

// WithPaddingSeed seeds the Engine's chunk padding generator, chiefly
// useful for tests that need reproducible on-disk bytes.
func WithPaddingSeed(seed uint32) Option {
	return func(e *Engine) { e.padder = chunk.NewPadder(seed) }
}

// Engine is the container-level bookkeeper: it owns the backing
// BlockDevice, the free-space tracker, and the directory of virtual
// files, and is responsible for the one-time container scan that
// populates both.
type Engine struct {
	device           BlockDevice
	identifier       string
	supportedMajor   uint8
	newMinorVersion  uint8
	ignoreIdentifier bool

	padder  *chunk.Padder
	tracker *freespace.Tracker

	startingIndex       chunk.FileIndex
	currentMinorVersion uint8
	mapsPopulated       bool

	filesByName       map[string]*VirtualFile
	filesByIdentifier map[chunk.StreamIdentifier]*VirtualFile

	lastErr error
}

// New creates an Engine over device. identifier is the magic string
// expected (and written) in the container's FileHeader chunk;
// supportedMajor is the highest major version this Engine can read.
func New(device BlockDevice, identifier string, supportedMajor uint8, opts ...Option) *Engine {
	e := &Engine{
		device:              device,
		identifier:          identifier,
		supportedMajor:      supportedMajor,
		currentMinorVersion: minorVersionUnset,
		startingIndex:       chunk.InvalidFileIndex,
		padder:              chunk.NewPadder(defaultPaddingSeed),
		filesByName:         make(map[string]*VirtualFile),
		filesByIdentifier:   make(map[chunk.StreamIdentifier]*VirtualFile),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.tracker = freespace.New(e.device.Size, e.flushArea)
	return e
}

// Open positions the container at its starting state: reading and
// validating an existing FileHeader chunk, or synthesizing a new one
// over an empty device. Directory construction is deferred until the
// first operation that actually needs it.
func (e *Engine) Open() (status Status, err error) {
	defer func() {
		if err != nil {
			e.currentMinorVersion = minorVersionUnset
			e.startingIndex = chunk.InvalidFileIndex
			e.mapsPopulated = false
		}
		e.filesByName = make(map[string]*VirtualFile)
		e.filesByIdentifier = make(map[chunk.StreamIdentifier]*VirtualFile)
		e.tracker.Clear()
		e.lastErr = err
	}()

	if err = e.device.SetPosition(0); err != nil {
		return status, err
	}

	var common [chunk.MinimumHeaderSizeBytes]byte
	n, readErr := io.ReadFull(e.device, common[:])

	switch {
	case n == len(common):
		fh := chunk.LoadFileHeader(0, common)
		if err = fh.Load(e.device); err != nil {
			return status, err
		}

		if !e.ignoreIdentifier && fh.Identifier() != e.identifier {
			err = newErrorAt(HeaderIdentifierInvalid, 0, "container identifier does not match")
			return status, err
		}

		switch {
		case fh.MajorVersion() < e.supportedMajor:
			status = Status{Kind: StatusVersionDownlevel, ActualVersion: fh.MajorVersion()}
		case fh.MajorVersion() > e.supportedMajor:
			err = newErrorAt(HeaderVersionInvalid, 0, "container major version is newer than supported")
			return status, err
		}

		if !fh.CheckCRC() {
			err = newErrorAt(HeaderCrcError, 0, "file header CRC mismatch")
			return status, err
		}

		e.currentMinorVersion = fh.MinorVersion()
		e.startingIndex = chunk.ToFileIndex(uint64(fh.Header.ChunkSize()))

	case n == 0 && readErr == io.EOF:
		var size uint64
		size, err = e.device.Size()
		if err != nil {
			return status, err
		}
		if size != 0 {
			err = newErrorAt(ContainerDataError, 0, "truncated file header")
			return status, err
		}

		fh := chunk.NewFileHeader(0, e.supportedMajor, e.newMinorVersion, e.identifier)
		if err = fh.Save(e.device, e.padder); err != nil {
			return status, err
		}

		e.currentMinorVersion = e.newMinorVersion
		e.startingIndex = chunk.ToFileIndex(uint64(fh.Header.ChunkSize()))

	default:
		err = newErrorAt(ContainerDataError, 0, "truncated file header")
		return status, err
	}

	var size uint64
	size, err = e.device.Size()
	if err != nil {
		return status, err
	}
	e.mapsPopulated = chunk.ToFileIndex(size) == e.startingIndex

	return status, nil
}

// Close flushes the free-space tracker, every open virtual file, and
// finally the backing device.
func (e *Engine) Close() error {
	if err := e.tracker.Flush(false); err != nil {
		e.lastErr = err
		return err
	}

	for _, name := range e.sortedNames() {
		if err := e.filesByName[name].Flush(); err != nil {
			e.lastErr = err
			return err
		}
	}

	if err := e.device.Flush(); err != nil {
		e.lastErr = err
		return err
	}

	e.lastErr = nil
	return nil
}

// Directory returns a snapshot of the container's name-to-file map,
// scanning the container first if it has not been scanned yet.
func (e *Engine) Directory() (map[string]*VirtualFile, error) {
	if err := e.scanContainer(); err != nil {
		return nil, err
	}

	dir := make(map[string]*VirtualFile, len(e.filesByName))
	for name, vf := range e.filesByName {
		dir[name] = vf
	}
	e.lastErr = nil
	return dir, nil
}

// NewVirtualFile returns the virtual file named name, creating it (with
// a freshly assigned stream identifier) if it does not already exist.
func (e *Engine) NewVirtualFile(name string) (*VirtualFile, error) {
	if err := e.scanContainer(); err != nil {
		return nil, err
	}

	if vf, ok := e.filesByName[name]; ok {
		e.lastErr = nil
		return vf, nil
	}

	id, ok := e.newStreamIdentifier()
	if !ok {
		err := newError(FileCreationError, "stream identifier space exhausted")
		e.lastErr = err
		return nil, err
	}

	vf := newVirtualFile(name, id, e)
	e.registerFile(vf)

	e.lastErr = nil
	return vf, nil
}

// StreamRead performs a single linear pass over the container,
// delivering every stream's payload bytes to its virtual file in
// on-disk order (interleaved across streams), then notifies every
// virtual file that the pass has completed.
func (e *Engine) StreamRead() error {
	if err := e.traverseContainer(false); err != nil {
		e.lastErr = err
		return err
	}

	for _, name := range e.sortedNames() {
		if err := e.filesByName[name].endOfFile(); err != nil {
			e.lastErr = err
			return err
		}
	}

	e.lastErr = nil
	return nil
}

// LastStatus returns the error from the most recently completed public
// operation, or nil if it succeeded.
func (e *Engine) LastStatus() error { return e.lastErr }

// MinorVersion returns the minor version recorded in the container's
// FileHeader chunk. It is only meaningful after a successful Open.
func (e *Engine) MinorVersion() uint8 { return e.currentMinorVersion }

func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.filesByName))
	for name := range e.filesByName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Engine) containerScanNeeded() bool { return !e.mapsPopulated }

func (e *Engine) scanContainer() error {
	if !e.mapsPopulated {
		if err := e.traverseContainer(true); err != nil {
			e.lastErr = err
			return err
		}
	}
	return nil
}

// newStreamIdentifier picks the smallest stream identifier not already
// in use, scanning sequentially from zero.
func (e *Engine) newStreamIdentifier() (chunk.StreamIdentifier, bool) {
	for id := chunk.StreamIdentifier(0); id != chunk.InvalidStreamIdentifier; id++ {
		if _, used := e.filesByIdentifier[id]; !used {
			return id, true
		}
	}
	return 0, false
}

func (e *Engine) registerFile(vf *VirtualFile) {
	e.filesByName[vf.Name()] = vf
	e.filesByIdentifier[vf.streamIdentifier] = vf
}

func (e *Engine) fileRenamed(oldName, newName string) bool {
	vf, ok := e.filesByName[oldName]
	if !ok {
		return false
	}
	delete(e.filesByName, oldName)
	e.filesByName[newName] = vf
	return true
}

func (e *Engine) fileErased(name string) bool {
	vf, ok := e.filesByName[name]
	if !ok {
		return false
	}
	delete(e.filesByName, name)
	delete(e.filesByIdentifier, vf.streamIdentifier)
	return true
}

func (e *Engine) reserveFreeSpaceArea(startingIndex, minimumSize, desiredSize chunk.FileIndex) (freespace.Reservation, error) {
	return e.tracker.Reserve(startingIndex, minimumSize, desiredSize)
}

func (e *Engine) releaseReservation(res freespace.Reservation) error {
	return e.tracker.Release(res)
}

func (e *Engine) newFreeSpaceArea(area freespace.Area, fileUpdateNeeded bool) {
	e.tracker.NewFreeSpaceArea(area, fileUpdateNeeded)
}

func (e *Engine) flushFreeSpace() error {
	return e.tracker.Flush(false)
}

// flushArea is the free-space tracker's flush sink: a dirty region is
// either truncated away (when it reaches end of file and the device
// supports truncation) or overwritten with Fill chunks.
func (e *Engine) flushArea(area freespace.Area) error {
	size, err := e.device.Size()
	if err != nil {
		return err
	}

	if e.device.SupportsTruncation() && chunk.ToPosition(area.End()) >= size {
		if err := e.device.SetPosition(chunk.ToPosition(area.Start)); err != nil {
			return err
		}
		return e.device.Truncate()
	}

	remaining := area
	for remaining.Size > 0 {
		availableSpace := chunk.ToPosition(remaining.Size)
		if availableSpace > chunk.MaximumChunkSize {
			availableSpace = chunk.MaximumChunkSize
		}

		fill := chunk.NewFill(remaining.Start, uint32(availableSpace))
		if err := fill.Save(e.device, e.padder); err != nil {
			return err
		}

		written := chunk.ToFileIndex(uint64(fill.FillSpaceBytes()))
		if err := remaining.ReduceFront(written); err != nil {
			return err
		}
	}
	return nil
}

// traverseContainer performs the single linear scan that underlies
// directory construction, virtual file lookup, and streamed reads. With
// buildMapsOnly set, StreamData payloads are skipped (only their
// header and location are recorded); otherwise each payload is
// delivered to its owning virtual file as it is read.
func (e *Engine) traverseContainer(buildMapsOnly bool) error {
	size, err := e.device.Size()
	if err != nil {
		return err
	}

	var scratch []byte
	if !buildMapsOnly {
		scratch = make([]byte, chunk.MaximumChunkSize)
	}

	position := chunk.ToPosition(e.startingIndex)
	for position < size {
		index := chunk.ToFileIndex(position)

		if err := e.device.SetPosition(position); err != nil {
			return err
		}

		var common [chunk.MinimumHeaderSizeBytes]byte
		n, _ := io.ReadFull(e.device, common[:])
		if n != len(common) {
			return newErrorAt(ContainerDataError, position, "truncated chunk header")
		}

		h := chunk.LoadCommonHeader(common, 0)
		chunkSize := uint64(h.ChunkSize())

		switch h.Type() {
		case chunk.Fill:
			e.tracker.NewFreeSpaceArea(freespace.Area{Start: index, Size: chunk.ToFileIndex(chunkSize)}, false)

		case chunk.StreamStart:
			ss := chunk.LoadStreamStart(index, common)
			if err := ss.Load(e.device); err != nil {
				return err
			}
			if !ss.CheckCRC() {
				return newErrorAt(HeaderCrcError, position, "stream start chunk CRC mismatch")
			}

			name := ss.VirtualFilename()
			if existing, exists := e.filesByName[name]; exists {
				// A file registered by an earlier scan of this same chunk is
				// looked up, not duplicated.
				if existing.startChunkIndex != index {
					return newErrorAt(FilenameMismatch, position, "duplicate virtual filename "+name)
				}
			} else {
				vf := newVirtualFile(name, ss.StreamIdentifier(), e)
				vf.setStreamStartIndex(index)
				e.registerFile(vf)
			}

		case chunk.StreamData:
			sd := chunk.LoadStreamData(index, common)
			if err := sd.LoadHeader(e.device); err != nil {
				return err
			}

			streamID := sd.StreamIdentifier()
			vf, ok := e.filesByIdentifier[streamID]
			if !ok {
				return newErrorAt(StreamIdentifierMismatch, position, "stream data chunk references unknown stream")
			}

			payloadSize := sd.PayloadSize()
			if buildMapsOnly {
				vf.addChunkLocation(index, sd.ChunkOffset(), payloadSize)
			} else {
				var segments chunk.List
				segments.Add(scratch[:payloadSize])
				read, err := sd.LoadPayload(e.device, segments)
				if err != nil {
					return err
				}
				if !sd.CheckCRC(segments) {
					return newErrorAt(HeaderCrcError, position, "stream data chunk CRC mismatch")
				}
				vf.addChunkLocation(index, sd.ChunkOffset(), payloadSize)
				if err := vf.receivedData(scratch[:read]); err != nil {
					return err
				}
			}

		case chunk.FileHeader:
			return newErrorAt(ContainerDataError, position, "file header chunk found away from index 0")

		default:
			return newErrorAt(ContainerDataError, position, "unrecognized chunk type")
		}

		position += chunkSize
	}

	e.mapsPopulated = true
	return nil
}
