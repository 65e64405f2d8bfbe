package icontainer

import (
	"io"
	"sort"

	"golang.org/x/exp/slices"

	"github.com/inesonic/icontainer/internal/chunk"
	"github.com/inesonic/icontainer/internal/freespace"
	"github.com/inesonic/icontainer/internal/ringbuffer"
)

const (
	// tailBufferCapacity bounds how many bytes appended past the last
	// persisted chunk can sit in memory before a write forces a flush.
	tailBufferCapacity = 4096

	// chunkBufferCapacity is the size of the hot-chunk buffer; it must
	// be at least as large as the largest possible chunk payload.
	chunkBufferCapacity = chunk.MaximumChunkSize
)

// chunkMapEntry records where one range of a stream's bytes lives on
// disk.
type chunkMapEntry struct {
	startingIndex chunk.FileIndex
	payloadSize   uint
}

// chunkMap is an ordered map from a stream's byte offset to the chunk
// holding the bytes starting there, standing in for the C++
// implementation's std::map<unsigned long long, ChunkMapData>.
type chunkMap struct {
	keys    []uint64
	entries map[uint64]chunkMapEntry
}

func newChunkMap() *chunkMap {
	return &chunkMap{entries: make(map[uint64]chunkMapEntry)}
}

func (m *chunkMap) lastKey() (uint64, bool) {
	if len(m.keys) == 0 {
		return 0, false
	}
	return m.keys[len(m.keys)-1], true
}

// floor returns the largest key less than or equal to pos, the entry
// whose range may contain pos.
func (m *chunkMap) floor(pos uint64) (uint64, bool) {
	i := sort.Search(len(m.keys), func(i int) bool { return m.keys[i] > pos })
	if i == 0 {
		return 0, false
	}
	return m.keys[i-1], true
}

func (m *chunkMap) keysFrom(pos uint64) []uint64 {
	i := sort.Search(len(m.keys), func(i int) bool { return m.keys[i] >= pos })
	out := make([]uint64, len(m.keys)-i)
	copy(out, m.keys[i:])
	return out
}

func (m *chunkMap) set(offset uint64, e chunkMapEntry) {
	i := sort.Search(len(m.keys), func(i int) bool { return m.keys[i] >= offset })
	if i >= len(m.keys) || m.keys[i] != offset {
		m.keys = slices.Insert(m.keys, i, offset)
	}
	m.entries[offset] = e
}

func (m *chunkMap) truncateFrom(pos uint64) {
	i := sort.Search(len(m.keys), func(i int) bool { return m.keys[i] >= pos })
	for _, k := range m.keys[i:] {
		delete(m.entries, k)
	}
	m.keys = m.keys[:i]
}

// StreamSink receives a virtual file's payload bytes during a
// StreamingReader pass, in on-disk order, followed by one EndOfFile
// call once the pass completes. The zero sink discards everything.
type StreamSink interface {
	ReceivedData(data []byte) error
	EndOfFile() error
}

type discardSink struct{}

func (discardSink) ReceivedData([]byte) error { return nil }
func (discardSink) EndOfFile() error          { return nil }

// VirtualFile is a named, ordered byte stream stored inside a
// container. It is never constructed directly; obtain one from
// Engine.NewVirtualFile or Engine.Directory.
type VirtualFile struct {
	engine           *Engine
	name             string
	streamIdentifier chunk.StreamIdentifier
	startChunkIndex  chunk.FileIndex

	chunkMap *chunkMap

	haveCurrentChunk       bool
	currentChunkKey        uint64
	chunkBuffer            []byte
	chunkBufferFlushNeeded bool

	tailBuffer *ringbuffer.RingBuffer

	currentPosition uint64
	valid           bool

	sink StreamSink
}

func newVirtualFile(name string, streamIdentifier chunk.StreamIdentifier, engine *Engine) *VirtualFile {
	return &VirtualFile{
		engine:           engine,
		name:             name,
		streamIdentifier: streamIdentifier,
		startChunkIndex:  chunk.InvalidFileIndex,
		chunkMap:         newChunkMap(),
		tailBuffer:       ringbuffer.New(tailBufferCapacity),
		valid:            true,
		sink:             discardSink{},
	}
}

func (vf *VirtualFile) report(err error) error {
	if vf.engine != nil {
		vf.engine.lastErr = err
	}
	return err
}

// Name returns this virtual file's current name.
func (vf *VirtualFile) Name() string { return vf.name }

// SetStreamSink installs the sink that receives this file's payload
// bytes during a StreamingReader pass. Passing nil restores the
// default, which discards data.
func (vf *VirtualFile) SetStreamSink(sink StreamSink) {
	if sink == nil {
		sink = discardSink{}
	}
	vf.sink = sink
}

func (vf *VirtualFile) setStreamStartIndex(index chunk.FileIndex) { vf.startChunkIndex = index }

func (vf *VirtualFile) addChunkLocation(startingIndex chunk.FileIndex, baseOffset uint64, payloadSize uint) {
	vf.chunkMap.set(baseOffset, chunkMapEntry{startingIndex: startingIndex, payloadSize: payloadSize})
}

func (vf *VirtualFile) receivedData(data []byte) error { return vf.sink.ReceivedData(data) }
func (vf *VirtualFile) endOfFile() error                { return vf.sink.EndOfFile() }

func (vf *VirtualFile) currentStoredSize() uint64 {
	key, ok := vf.chunkMap.lastKey()
	if !ok {
		return 0
	}
	return key + uint64(vf.chunkMap.entries[key].payloadSize)
}

func (vf *VirtualFile) lastKnownFileIndex() chunk.FileIndex {
	if key, ok := vf.chunkMap.lastKey(); ok {
		return vf.chunkMap.entries[key].startingIndex
	}
	if vf.startChunkIndex != chunk.InvalidFileIndex {
		return vf.startChunkIndex
	}
	return 0
}

// Size determines the virtual file's current size, scanning the
// container first if it has not yet been scanned.
func (vf *VirtualFile) Size() (int64, error) {
	if !vf.valid {
		return -1, vf.report(newError(ContainerUnavailable, "virtual file has been erased"))
	}

	needsScan := vf.engine.containerScanNeeded()
	if err := vf.engine.scanContainer(); err != nil {
		return -1, vf.report(err)
	}

	stored := vf.currentStoredSize()
	if needsScan {
		return int64(stored), vf.report(nil)
	}
	return int64(stored + uint64(vf.tailBuffer.Len())), vf.report(nil)
}

// SetPosition seeks to an absolute offset into the virtual file. An
// offset past the current size is rejected.
func (vf *VirtualFile) SetPosition(newOffset uint64) error {
	if !vf.valid {
		return vf.report(newError(ContainerUnavailable, "virtual file has been erased"))
	}
	size, err := vf.Size()
	if err != nil {
		return err
	}
	if newOffset > uint64(size) {
		return vf.report(newErrorAt(SeekError, newOffset, "seek past end of file"))
	}
	vf.currentPosition = newOffset
	return vf.report(nil)
}

// SetPositionLast seeks to the current end of the virtual file.
func (vf *VirtualFile) SetPositionLast() error {
	if !vf.valid {
		return vf.report(newError(ContainerUnavailable, "virtual file has been erased"))
	}
	size, err := vf.Size()
	if err != nil {
		return err
	}
	vf.currentPosition = uint64(size)
	return vf.report(nil)
}

// Position returns the current file pointer.
func (vf *VirtualFile) Position() int64 { return int64(vf.currentPosition) }

// BytesInWriteCache returns the number of bytes currently held in
// memory (hot chunk plus tail buffer) rather than on disk.
func (vf *VirtualFile) BytesInWriteCache() uint64 {
	cached := uint64(0)
	if vf.chunkBufferFlushNeeded && vf.haveCurrentChunk {
		if entry, ok := vf.chunkMap.entries[vf.currentChunkKey]; ok {
			cached = uint64(entry.payloadSize)
		}
	}
	return cached + uint64(vf.tailBuffer.Len())
}

// loadStreamDataHeader reads a StreamData chunk's common and
// additional header from disk at index, positioning the device
// immediately past the additional header (ready for a payload read).
func (vf *VirtualFile) loadStreamDataHeader(index chunk.FileIndex) (*chunk.StreamData, error) {
	device := vf.engine.device
	if err := device.SetPosition(chunk.ToPosition(index)); err != nil {
		return nil, err
	}
	var common [chunk.MinimumHeaderSizeBytes]byte
	if _, err := io.ReadFull(device, common[:]); err != nil {
		return nil, err
	}
	sd := chunk.LoadStreamData(index, common)
	if err := sd.LoadHeader(device); err != nil {
		return nil, err
	}
	return sd, nil
}

func (vf *VirtualFile) loadStreamStartHeader(index chunk.FileIndex) (*chunk.StreamStart, error) {
	device := vf.engine.device
	if err := device.SetPosition(chunk.ToPosition(index)); err != nil {
		return nil, err
	}
	var common [chunk.MinimumHeaderSizeBytes]byte
	if _, err := io.ReadFull(device, common[:]); err != nil {
		return nil, err
	}
	ss := chunk.LoadStreamStart(index, common)
	if err := ss.Load(device); err != nil {
		return nil, err
	}
	if !ss.CheckCRC() {
		return nil, newErrorAt(HeaderCrcError, chunk.ToPosition(index), "stream start chunk CRC mismatch")
	}
	return ss, nil
}

// checkStreamData verifies a just-loaded StreamData chunk actually
// belongs to this stream at the offset its chunk-map entry claims.
func (vf *VirtualFile) checkStreamData(sd *chunk.StreamData, entry chunkMapEntry, key uint64) error {
	if sd.StreamIdentifier() != vf.streamIdentifier {
		return newErrorAt(StreamIdentifierMismatch, chunk.ToPosition(entry.startingIndex), "stream identifier mismatch")
	}
	if sd.ChunkOffset() != key {
		return newErrorAt(OffsetMismatch, chunk.ToPosition(entry.startingIndex), "chunk offset mismatch")
	}
	return nil
}

// loadChunkIntoBuffer reads the chunk at key into the hot-chunk buffer,
// making it the current chunk.
func (vf *VirtualFile) loadChunkIntoBuffer(key uint64, entry chunkMapEntry) error {
	sd, err := vf.loadStreamDataHeader(entry.startingIndex)
	if err != nil {
		return err
	}
	if err := vf.checkStreamData(sd, entry, key); err != nil {
		return err
	}

	if vf.chunkBuffer == nil {
		vf.chunkBuffer = make([]byte, chunkBufferCapacity)
	}

	var segments chunk.List
	segments.Add(vf.chunkBuffer[:entry.payloadSize])
	read, err := sd.LoadPayload(vf.engine.device, segments)
	if err != nil {
		return err
	}
	if uint(read) != entry.payloadSize {
		return newErrorAt(PayloadSizeMismatch, chunk.ToPosition(entry.startingIndex), "payload size mismatch while loading chunk")
	}
	if !sd.CheckCRC(segments) {
		return newErrorAt(HeaderCrcError, chunk.ToPosition(entry.startingIndex), "stream data chunk CRC mismatch")
	}

	vf.haveCurrentChunk = true
	vf.currentChunkKey = key
	vf.chunkBufferFlushNeeded = false
	return nil
}

// flushChunkBuffer writes the hot chunk's buffered content back to its
// existing on-disk location.
func (vf *VirtualFile) flushChunkBuffer() error {
	entry := vf.chunkMap.entries[vf.currentChunkKey]
	sd := chunk.NewStreamData(entry.startingIndex, vf.streamIdentifier, vf.currentChunkKey, chunk.MaximumChunkSize)

	var segments chunk.List
	segments.Add(vf.chunkBuffer[:entry.payloadSize])
	if err := sd.SavePayload(vf.engine.device, segments, vf.engine.padder, true); err != nil {
		return err
	}

	vf.chunkBufferFlushNeeded = false
	return nil
}

// Read copies up to len(buf) bytes starting at the current position
// into buf, advancing the position by the number of bytes read.
func (vf *VirtualFile) Read(buf []byte) (int, error) {
	if !vf.valid {
		return 0, vf.report(newError(ContainerUnavailable, "virtual file has been erased"))
	}

	size, err := vf.Size()
	if err != nil {
		return 0, err
	}

	var distanceToEOF uint64
	if uint64(size) > vf.currentPosition {
		distanceToEOF = uint64(size) - vf.currentPosition
	}
	toRead := uint64(len(buf))
	if toRead > distanceToEOF {
		toRead = distanceToEOF
	}

	storedSize := vf.currentStoredSize()
	remaining := toRead
	var written uint64

	for remaining > 0 && vf.currentPosition < storedSize {
		key, ok := vf.chunkMap.floor(vf.currentPosition)
		if !ok {
			return int(written), vf.report(newError(ContainerDataError, "chunk map has no entry covering position"))
		}
		entry := vf.chunkMap.entries[key]
		chunkEnd := key + uint64(entry.payloadSize)
		haveThisChunk := vf.haveCurrentChunk && vf.currentChunkKey == key

		if !haveThisChunk && vf.chunkBufferFlushNeeded {
			if err := vf.flushChunkBuffer(); err != nil {
				return int(written), vf.report(err)
			}
		}

		readEnd := vf.currentPosition + remaining
		var n uint64

		switch {
		case haveThisChunk:
			n = chunkEnd - vf.currentPosition
			if n > remaining {
				n = remaining
			}
			copy(buf[written:written+n], vf.chunkBuffer[vf.currentPosition-key:])

		case readEnd > chunkEnd:
			// The read spans past this chunk: stream it straight into the
			// caller's buffer rather than through the hot-chunk buffer.
			sd, err := vf.loadStreamDataHeader(entry.startingIndex)
			if err != nil {
				return int(written), vf.report(err)
			}
			if err := vf.checkStreamData(sd, entry, key); err != nil {
				return int(written), vf.report(err)
			}

			var segments chunk.List
			if vf.currentPosition > key {
				segments.Add(make([]byte, vf.currentPosition-key))
			}
			n = chunkEnd - vf.currentPosition
			segments.Add(buf[written : written+n])

			read, err := sd.LoadPayload(vf.engine.device, segments)
			if err != nil {
				return int(written), vf.report(err)
			}
			if uint(read) != entry.payloadSize {
				return int(written), vf.report(newErrorAt(PayloadSizeMismatch, chunk.ToPosition(entry.startingIndex), "payload size mismatch while reading"))
			}
			if !sd.CheckCRC(segments) {
				return int(written), vf.report(newErrorAt(HeaderCrcError, chunk.ToPosition(entry.startingIndex), "stream data chunk CRC mismatch"))
			}
			vf.haveCurrentChunk = false

		default:
			if err := vf.loadChunkIntoBuffer(key, entry); err != nil {
				return int(written), vf.report(err)
			}
			n = chunkEnd - vf.currentPosition
			if n > remaining {
				n = remaining
			}
			copy(buf[written:written+n], vf.chunkBuffer[vf.currentPosition-key:])
		}

		written += n
		remaining -= n
		vf.currentPosition += n
	}

	if remaining > 0 {
		offset := int(vf.currentPosition - storedSize)
		for i := uint64(0); i < remaining; i++ {
			buf[written+i] = *vf.tailBuffer.Snoop(offset + int(i))
		}
		written += remaining
		vf.currentPosition += remaining
	}

	return int(written), vf.report(nil)
}

// splitProcessed distributes a total consumed-byte count across
// segments in the same order SavePayload (and LoadPayload) consume a
// scatter-gather list, recording each segment's share in its Processed
// field so callers can tell how much of each input slice was used.
func splitProcessed(segments chunk.List, total int) {
	remaining := total
	for i := range segments {
		n := len(segments[i].Buf)
		if n > remaining {
			n = remaining
		}
		segments[i].Processed = n
		remaining -= n
	}
}

// writeNewChunk reserves free space, writes segments as one new
// StreamData chunk, releases any unused remainder of the reservation,
// and records the chunk's location. It returns the chunk written and
// the number of bytes actually consumed from segments.
func (vf *VirtualFile) writeNewChunk(segments chunk.List) (*chunk.StreamData, int, error) {
	reserved, err := vf.engine.reserveFreeSpaceArea(
		vf.lastKnownFileIndex(),
		chunk.ToFileIndex(chunk.MinimumChunkSize),
		chunk.ToFileIndex(chunk.MaximumChunkSize),
	)
	if err != nil {
		return nil, 0, err
	}

	sd := chunk.NewStreamData(reserved.Start, vf.streamIdentifier, vf.currentStoredSize(), uint32(chunk.ToPosition(reserved.Size)))
	if err := sd.SavePayload(vf.engine.device, segments, vf.engine.padder, true); err != nil {
		return nil, 0, err
	}

	written := int(sd.PayloadSize())
	splitProcessed(segments, written)

	writtenSize := chunk.ToFileIndex(uint64(sd.Header.ChunkSize()))
	if err := reserved.ReduceFront(writtenSize); err != nil {
		return nil, 0, err
	}
	if err := vf.engine.releaseReservation(reserved); err != nil {
		return nil, 0, err
	}

	vf.addChunkLocation(sd.Index, sd.ChunkOffset(), uint(written))

	return sd, written, nil
}

// appendLocked is the shared core of Append and Write's append phase:
// it assumes writeStreamStartIfNeeded and a container scan have
// already happened.
func (vf *VirtualFile) appendLocked(data []byte) (int, error) {
	remaining := data

	for uint(vf.tailBuffer.Available()) <= uint(len(remaining)) {
		var segments chunk.List
		first, second := vf.tailBuffer.BulkExtractionSegments()
		if len(first) > 0 {
			segments.Add(first)
		}
		if len(second) > 0 {
			segments.Add(second)
		}
		callerIdx := len(segments)
		segments.Add(remaining)

		if _, _, err := vf.writeNewChunk(segments); err != nil {
			return len(data) - len(remaining), err
		}

		tailWritten := 0
		for i := 0; i < callerIdx; i++ {
			tailWritten += segments[i].Processed
		}
		vf.tailBuffer.FinishExtraction(tailWritten)

		remaining = remaining[segments[callerIdx].Processed:]
	}

	if len(remaining) > 0 {
		n := vf.tailBuffer.Insert(remaining)
		if n != len(remaining) {
			return len(data) - len(remaining) + n, newError(ContainerDataError, "tail buffer insertion short")
		}
	}

	vf.currentPosition = vf.currentStoredSize() + uint64(vf.tailBuffer.Len())
	return len(data), nil
}

// Append writes data to the end of the virtual file regardless of the
// current position, then advances the position to the new end.
func (vf *VirtualFile) Append(data []byte) (int, error) {
	if !vf.valid {
		return 0, vf.report(newError(ContainerUnavailable, "virtual file has been erased"))
	}
	if err := vf.writeStreamStartIfNeeded(); err != nil {
		return 0, vf.report(err)
	}
	if vf.engine.containerScanNeeded() {
		if err := vf.engine.scanContainer(); err != nil {
			return 0, vf.report(err)
		}
	}

	n, err := vf.appendLocked(data)
	return n, vf.report(err)
}

// Write writes data starting at the current position, performing
// read-modify-write on existing chunks, snooping the tail buffer in
// place, and appending past the current end of file as needed.
func (vf *VirtualFile) Write(buf []byte) (int, error) {
	if !vf.valid {
		return 0, vf.report(newError(ContainerUnavailable, "virtual file has been erased"))
	}
	if err := vf.writeStreamStartIfNeeded(); err != nil {
		return 0, vf.report(err)
	}
	if vf.engine.containerScanNeeded() {
		if err := vf.engine.scanContainer(); err != nil {
			return 0, vf.report(err)
		}
	}

	total := len(buf)
	remaining := buf
	storedSize := vf.currentStoredSize()

	for len(remaining) > 0 && vf.currentPosition < storedSize {
		key, ok := vf.chunkMap.floor(vf.currentPosition)
		if !ok {
			return total - len(remaining), vf.report(newError(ContainerDataError, "chunk map has no entry covering position"))
		}
		entry := vf.chunkMap.entries[key]
		chunkEnd := key + uint64(entry.payloadSize)
		haveThisChunk := vf.haveCurrentChunk && vf.currentChunkKey == key

		if !haveThisChunk && vf.chunkBufferFlushNeeded {
			if err := vf.flushChunkBuffer(); err != nil {
				return total - len(remaining), vf.report(err)
			}
		}

		writeEnd := vf.currentPosition + uint64(len(remaining))
		var n uint64

		if writeEnd > chunkEnd {
			// This chunk will be entirely replaced; no need to keep it hot.
			sd := chunk.NewStreamData(entry.startingIndex, vf.streamIdentifier, key, chunk.MaximumChunkSize)

			var segments chunk.List
			if vf.currentPosition == key {
				n = uint64(entry.payloadSize)
				segments.Add(remaining[:n])
			} else {
				if !haveThisChunk {
					if err := vf.loadChunkIntoBuffer(key, entry); err != nil {
						return total - len(remaining), vf.report(err)
					}
				}
				prefixLen := vf.currentPosition - key
				n = chunkEnd - vf.currentPosition
				segments.Add(vf.chunkBuffer[:prefixLen])
				segments.Add(remaining[:n])
			}

			if err := sd.SavePayload(vf.engine.device, segments, vf.engine.padder, true); err != nil {
				return total - len(remaining), vf.report(err)
			}

			vf.haveCurrentChunk = false
			vf.chunkBufferFlushNeeded = false
		} else {
			// The write ends at or before this chunk's end; keep it hot.
			if !haveThisChunk {
				if err := vf.loadChunkIntoBuffer(key, entry); err != nil {
					return total - len(remaining), vf.report(err)
				}
			}
			n = uint64(len(remaining))
			copy(vf.chunkBuffer[vf.currentPosition-key:], remaining[:n])
			vf.chunkBufferFlushNeeded = true
		}

		remaining = remaining[n:]
		vf.currentPosition += n
	}

	tailBufferBase := storedSize
	tailBufferEnd := tailBufferBase + uint64(vf.tailBuffer.Len())

	if len(remaining) > 0 && vf.currentPosition < tailBufferEnd {
		if vf.currentPosition == tailBufferBase && uint64(len(remaining)) >= uint64(vf.tailBuffer.Len()) {
			vf.tailBuffer.Clear()
		} else {
			offset := int(vf.currentPosition - tailBufferBase)
			avail := vf.tailBuffer.Len() - offset
			n := len(remaining)
			if n > avail {
				n = avail
			}
			for i := 0; i < n; i++ {
				*vf.tailBuffer.Snoop(offset+i) = remaining[i]
			}
			remaining = remaining[n:]
			vf.currentPosition += uint64(n)
		}
	}

	if len(remaining) > 0 {
		if _, err := vf.appendLocked(remaining); err != nil {
			return total - len(remaining), vf.report(err)
		}
	}

	return total, vf.report(nil)
}

// writeStreamStartIfNeeded lazily allocates and persists this file's
// StreamStart chunk the first time any mutating operation needs it.
func (vf *VirtualFile) writeStreamStartIfNeeded() error {
	if vf.startChunkIndex != chunk.InvalidFileIndex {
		return nil
	}

	ss := chunk.NewStreamStart(0, vf.streamIdentifier, vf.name)
	size := chunk.ToFileIndex(uint64(ss.Header.ChunkSize()))

	reserved, err := vf.engine.reserveFreeSpaceArea(0, size, size)
	if err != nil {
		return err
	}

	ss.Index = reserved.Start
	if err := ss.Save(vf.engine.device, vf.engine.padder); err != nil {
		return err
	}

	if err := reserved.ReduceFront(size); err != nil {
		return err
	}
	if err := vf.engine.releaseReservation(reserved); err != nil {
		return err
	}

	vf.startChunkIndex = ss.Index
	return nil
}

// flushTailBuffer drains the tail buffer by issuing one or more
// StreamData chunks until it is empty.
func (vf *VirtualFile) flushTailBuffer() error {
	for !vf.tailBuffer.Empty() {
		var segments chunk.List
		first, second := vf.tailBuffer.BulkExtractionSegments()
		if len(first) > 0 {
			segments.Add(first)
		}
		if len(second) > 0 {
			segments.Add(second)
		}

		_, written, err := vf.writeNewChunk(segments)
		if err != nil {
			return err
		}
		vf.tailBuffer.FinishExtraction(written)
	}
	return nil
}

// Flush writes the StreamStart chunk if it does not yet exist, the hot
// chunk if it is dirty, and drains the tail buffer to disk.
func (vf *VirtualFile) Flush() error {
	if !vf.valid {
		return vf.report(newError(ContainerUnavailable, "virtual file has been erased"))
	}
	if err := vf.writeStreamStartIfNeeded(); err != nil {
		return vf.report(err)
	}
	if vf.chunkBufferFlushNeeded {
		if err := vf.flushChunkBuffer(); err != nil {
			return vf.report(err)
		}
	}
	if err := vf.flushTailBuffer(); err != nil {
		return vf.report(err)
	}
	return vf.report(nil)
}

// Truncate discards everything at and after the current position,
// returning the reclaimed chunk space to the free list.
func (vf *VirtualFile) Truncate() error {
	if !vf.valid {
		return vf.report(newError(ContainerUnavailable, "virtual file has been erased"))
	}
	if err := vf.Flush(); err != nil {
		return err
	}

	key, ok := vf.chunkMap.floor(vf.currentPosition)
	if ok {
		entry := vf.chunkMap.entries[key]

		if key < vf.currentPosition {
			sd, err := vf.loadStreamDataHeader(entry.startingIndex)
			if err != nil {
				return vf.report(err)
			}
			if err := vf.checkStreamData(sd, entry, key); err != nil {
				return vf.report(err)
			}

			oldPayload := make([]byte, entry.payloadSize)
			var oldSegments chunk.List
			oldSegments.Add(oldPayload)
			if _, err := sd.LoadPayload(vf.engine.device, oldSegments); err != nil {
				return vf.report(err)
			}
			if !sd.CheckCRC(oldSegments) {
				return vf.report(newErrorAt(HeaderCrcError, chunk.ToPosition(entry.startingIndex), "stream data chunk CRC mismatch"))
			}

			keepLen := vf.currentPosition - key
			newChunk := chunk.NewStreamData(entry.startingIndex, vf.streamIdentifier, key, uint32(sd.Header.ChunkSize()))
			var newSegments chunk.List
			newSegments.Add(oldPayload[:keepLen])
			if err := newChunk.SavePayload(vf.engine.device, newSegments, vf.engine.padder, true); err != nil {
				return vf.report(err)
			}

			oldChunkSize := chunk.ToFileIndex(uint64(sd.Header.ChunkSize()))
			newChunkSize := chunk.ToFileIndex(uint64(newChunk.Header.ChunkSize()))
			if newChunkSize < oldChunkSize {
				vf.engine.newFreeSpaceArea(freespace.Area{Start: entry.startingIndex + newChunkSize, Size: oldChunkSize - newChunkSize}, true)
			}

			vf.chunkMap.set(key, chunkMapEntry{startingIndex: entry.startingIndex, payloadSize: uint(keepLen)})
		}
	}

	for _, key := range vf.chunkMap.keysFrom(vf.currentPosition) {
		entry := vf.chunkMap.entries[key]
		sd, err := vf.loadStreamDataHeader(entry.startingIndex)
		if err != nil {
			return vf.report(err)
		}
		if err := vf.checkStreamData(sd, entry, key); err != nil {
			return vf.report(err)
		}
		vf.engine.newFreeSpaceArea(freespace.Area{Start: entry.startingIndex, Size: chunk.ToFileIndex(uint64(sd.Header.ChunkSize()))}, true)
	}

	vf.chunkMap.truncateFrom(vf.currentPosition)
	vf.haveCurrentChunk = false
	vf.chunkBufferFlushNeeded = false

	return vf.report(nil)
}

// Erase returns every chunk belonging to this file to the free list
// and unregisters it from the container. The VirtualFile is no longer
// usable afterward; every subsequent call fails with
// ContainerUnavailable.
func (vf *VirtualFile) Erase() error {
	if !vf.valid {
		return vf.report(newError(ContainerUnavailable, "virtual file has been erased"))
	}
	if vf.engine.containerScanNeeded() {
		if err := vf.engine.scanContainer(); err != nil {
			return vf.report(err)
		}
	}

	type releasedArea struct {
		start chunk.FileIndex
		size  chunk.FileIndex
	}
	var areas []releasedArea

	if vf.startChunkIndex != chunk.InvalidFileIndex {
		ss, err := vf.loadStreamStartHeader(vf.startChunkIndex)
		if err != nil {
			return vf.report(err)
		}
		if ss.StreamIdentifier() != vf.streamIdentifier {
			return vf.report(newErrorAt(StreamIdentifierMismatch, chunk.ToPosition(vf.startChunkIndex), "stream identifier mismatch"))
		}
		if ss.VirtualFilename() != vf.name {
			return vf.report(newErrorAt(FilenameMismatch, chunk.ToPosition(vf.startChunkIndex), "virtual filename mismatch"))
		}
		areas = append(areas, releasedArea{vf.startChunkIndex, chunk.ToFileIndex(uint64(ss.Header.ChunkSize()))})
	}

	for _, key := range vf.chunkMap.keysFrom(0) {
		entry := vf.chunkMap.entries[key]
		sd, err := vf.loadStreamDataHeader(entry.startingIndex)
		if err != nil {
			return vf.report(err)
		}
		if err := vf.checkStreamData(sd, entry, key); err != nil {
			return vf.report(err)
		}
		areas = append(areas, releasedArea{entry.startingIndex, chunk.ToFileIndex(uint64(sd.Header.ChunkSize()))})
	}

	for _, a := range areas {
		vf.engine.newFreeSpaceArea(freespace.Area{Start: a.start, Size: a.size}, true)
	}
	if err := vf.engine.flushFreeSpace(); err != nil {
		return vf.report(err)
	}

	if !vf.engine.fileErased(vf.name) {
		return vf.report(newError(ContainerDataError, "virtual file was not registered with its container"))
	}

	vf.valid = false
	vf.engine.lastErr = nil
	return nil
}

// Rename changes this file's name. Renaming to the current name is a
// no-op.
func (vf *VirtualFile) Rename(newName string) error {
	if !vf.valid {
		return vf.report(newError(ContainerUnavailable, "virtual file has been erased"))
	}
	if newName == vf.name {
		return vf.report(nil)
	}

	if vf.startChunkIndex != chunk.InvalidFileIndex {
		ss := chunk.NewStreamStart(vf.startChunkIndex, vf.streamIdentifier, newName)
		if err := ss.Save(vf.engine.device, vf.engine.padder); err != nil {
			return vf.report(err)
		}
	}

	oldName := vf.name
	vf.name = newName
	if !vf.engine.fileRenamed(oldName, newName) {
		return vf.report(newError(ContainerDataError, "virtual file was not registered with its container"))
	}

	return vf.report(nil)
}
