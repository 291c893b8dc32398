package docker

import (
	"encoding/binary"
	"errors"
	"io"
)

// streamType is the first byte of a Docker multiplexed log frame header.
type streamType byte

const (
	streamStdin  streamType = 0
	streamStdout streamType = 1
	streamStderr streamType = 2
)

// frameHeaderSize is the fixed 8-byte header Docker prefixes every chunk
// of multiplexed container log output with when the container was
// started without a TTY: byte 0 is the stream type, bytes 1-3 are
// padding, and bytes 4-7 are a big-endian uint32 payload length.
const frameHeaderSize = 8

// FrameSink receives demultiplexed log payload as it's decoded. Line is
// called once per payload chunk exactly as produced by the daemon; the
// demultiplexer does not buffer across frames to find newlines, matching
// the per-read granularity of the wire format itself.
type FrameSink interface {
	Line(stream streamType, data []byte)
}

// DemuxWriter adapts a FrameSink to io.Writer via a stateful byte-at-a-time
// decoder so it can be fed from io.Copy, or from an arbitrary, uneven
// sequence of Write calls that split frame headers and payloads at any
// byte boundary. This is hand-written rather than delegated to
// github.com/docker/docker/pkg/stdcopy (which the rest of the pack uses)
// because stdcopy assumes a single blocking io.Reader and offers no way to
// assert correctness under adversarial chunk boundaries; see demux_test.go.
type DemuxWriter struct {
	sink FrameSink

	header   [frameHeaderSize]byte
	headerN  int
	payload  []byte
	payloadN int
	wantLen  int
	wantType streamType
}

// NewDemuxWriter returns a writer that decodes Docker's multiplexed stream
// frame format and delivers each payload to sink.
func NewDemuxWriter(sink FrameSink) *DemuxWriter {
	return &DemuxWriter{sink: sink}
}

// Write implements io.Writer. It never returns a short write or an error:
// malformed input simply stops being decoded further. A stream torn down
// mid-frame leaves its residual bytes in the internal buffer rather than
// losing them — call Flush once the underlying stream ends to emit them.
func (w *DemuxWriter) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		if w.headerN < frameHeaderSize {
			n := copy(w.header[w.headerN:], p)
			w.headerN += n
			p = p[n:]
			if w.headerN < frameHeaderSize {
				break
			}
			w.wantType = streamType(w.header[0])
			w.wantLen = int(binary.BigEndian.Uint32(w.header[4:8]))
			w.payload = make([]byte, w.wantLen)
			w.payloadN = 0
		}
		if w.payloadN < w.wantLen {
			n := copy(w.payload[w.payloadN:], p)
			w.payloadN += n
			p = p[n:]
			if w.payloadN < w.wantLen {
				break
			}
		}
		if w.headerN == frameHeaderSize && w.payloadN == w.wantLen {
			// A frame with a zero-length payload carries no text to
			// deliver; skip the Line call rather than handing the sink
			// an empty slice.
			if w.wantLen > 0 {
				w.sink.Line(w.wantType, w.payload)
			}
			w.headerN = 0
			w.payloadN = 0
		}
	}
	return total, nil
}

// Flush emits any bytes left buffered mid-frame as a single final stdout
// line, then resets the decoder. Call it once the underlying stream ends
// (EOF or otherwise) so a container torn down mid-write doesn't silently
// drop its last partial line. The residual bytes are tagged stdout
// regardless of which stream the in-flight frame's header (if complete)
// named, since a torn frame's own type can no longer be trusted.
func (w *DemuxWriter) Flush() {
	var residual []byte
	switch {
	case w.headerN > 0 && w.headerN < frameHeaderSize:
		residual = w.header[:w.headerN]
	case w.headerN == frameHeaderSize && w.payloadN > 0:
		residual = w.payload[:w.payloadN]
	}
	if len(residual) > 0 {
		w.sink.Line(streamStdout, residual)
	}
	w.headerN = 0
	w.payloadN = 0
	w.wantLen = 0
}

// Close flushes any residual buffered bytes. It satisfies io.Closer so a
// DemuxWriter can be deferred like any other writer that needs a final
// flush.
func (w *DemuxWriter) Close() error {
	w.Flush()
	return nil
}

// funcSink adapts a plain function to FrameSink.
type funcSink func(stream streamType, data []byte)

func (f funcSink) Line(stream streamType, data []byte) { f(stream, data) }

// Demux reads r to completion, decoding Docker's multiplexed stream frame
// format and invoking onLine once per decoded payload. It is the
// streaming counterpart used by callers that already hold a reader (the
// ContainerLogs stream and the exec attach stream), as opposed to
// DemuxWriter, used directly where the caller only controls Write calls.
// Residual bytes left in
// the buffer when r ends — a stream torn down mid-frame — are flushed
// once as a final stdout payload rather than dropped.
func Demux(r io.Reader, onLine func(stream streamType, data []byte)) error {
	w := NewDemuxWriter(funcSink(onLine))
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				w.Flush()
				return nil
			}
			w.Flush()
			return err
		}
	}
}
