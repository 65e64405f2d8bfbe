package icontainer

// StreamingReader drives a single linear pass over a container,
// delivering each stream's payload to its virtual file's StreamSink in
// on-disk order. Because chunks belonging to different streams are
// interleaved on disk in write order rather than grouped by stream,
// sinks should expect ReceivedData calls for several streams to
// interleave during one Run.
//
// This is an alternative to building the full chunk-offset index that
// Engine.Directory/NewVirtualFile populate: it trades random access
// for a single sequential read, useful when only a linear copy or
// inspection of every stream's contents is needed.
type StreamingReader struct {
	engine *Engine
}

// NewStreamingReader creates a StreamingReader over engine. Register a
// sink with VirtualFile.SetStreamSink for each stream of interest
// before calling Run; streams with no sink installed simply discard
// their data.
func NewStreamingReader(engine *Engine) *StreamingReader {
	return &StreamingReader{engine: engine}
}

// Run performs the scan, invoking each stream's sink as its data is
// read and finally its EndOfFile once the pass completes.
func (r *StreamingReader) Run() error {
	return r.engine.StreamRead()
}
