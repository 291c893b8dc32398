package docker

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookci/hookci/model"
)

type recordedFrame struct {
	stream streamType
	text   string
}

type recordingSink struct {
	frames []recordedFrame
}

func (s *recordingSink) Line(stream streamType, data []byte) {
	s.frames = append(s.frames, recordedFrame{stream: stream, text: string(data)})
}

func encodeFrame(t streamType, payload string) []byte {
	buf := make([]byte, frameHeaderSize+len(payload))
	buf[0] = byte(t)
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(payload)))
	copy(buf[frameHeaderSize:], payload)
	return buf
}

// frameAlignedDecode decodes a full concatenated frame stream in one
// Write call, the baseline every chunked variant must match exactly
// (testable property 8).
func frameAlignedDecode(t *testing.T, stream []byte) []recordedFrame {
	t.Helper()
	sink := &recordingSink{}
	w := NewDemuxWriter(sink)
	n, err := w.Write(stream)
	require.NoError(t, err)
	require.Equal(t, len(stream), n)
	return sink.frames
}

func TestDemuxWriter_FrameAligned(t *testing.T) {
	stream := append(encodeFrame(streamStdout, "hello\n"), encodeFrame(streamStderr, "boom\n")...)

	got := frameAlignedDecode(t, stream)

	want := []recordedFrame{
		{stream: streamStdout, text: "hello\n"},
		{stream: streamStderr, text: "boom\n"},
	}
	assert.Equal(t, want, got)
}

// TestDemuxWriter_ArbitraryChunking verifies property 8: for any
// concatenation of valid frames, the decoded sequence is identical
// regardless of how the byte stream is chunked into successive Write
// calls, including splits that land mid-header and mid-payload.
func TestDemuxWriter_ArbitraryChunking(t *testing.T) {
	full := append(encodeFrame(streamStdout, "line one\n"), append(
		encodeFrame(streamStderr, "line two is a bit longer\n"),
		encodeFrame(streamStdout, "x")...)...)

	want := frameAlignedDecode(t, full)

	for chunkSize := 1; chunkSize <= len(full); chunkSize++ {
		sink := &recordingSink{}
		w := NewDemuxWriter(sink)

		for offset := 0; offset < len(full); offset += chunkSize {
			end := offset + chunkSize
			if end > len(full) {
				end = len(full)
			}
			n, err := w.Write(full[offset:end])
			require.NoError(t, err)
			require.Equal(t, end-offset, n)
		}

		assert.Equalf(t, want, sink.frames, "mismatch at chunk size %d", chunkSize)
	}
}

func TestDemuxWriter_ByteByByte(t *testing.T) {
	full := encodeFrame(streamStderr, "one byte at a time\n")
	sink := &recordingSink{}
	w := NewDemuxWriter(sink)

	for _, b := range full {
		_, err := w.Write([]byte{b})
		require.NoError(t, err)
	}

	require.Len(t, sink.frames, 1)
	assert.Equal(t, streamStderr, sink.frames[0].stream)
	assert.Equal(t, "one byte at a time\n", sink.frames[0].text)
}

func TestDemuxWriter_UnknownStreamTypeTreatedAsStdout(t *testing.T) {
	// stream_type byte 0 (stdin) is never produced by the daemon for a
	// step's output, but the consumer-facing mapping still classifies it
	// as stdout rather than rejecting it, since the demultiplexer itself
	// only decodes the raw byte.
	frame := encodeFrame(streamStdin, "from stdin\n")
	sink := &recordingSink{}
	w := NewDemuxWriter(sink)
	_, err := w.Write(frame)
	require.NoError(t, err)
	require.Len(t, sink.frames, 1)
	assert.Equal(t, streamStdin, sink.frames[0].stream)
	assert.Equal(t, model.Stdout, streamKindOf(sink.frames[0].stream))
}

func TestDemuxWriter_EmptyPayloadSuppressed(t *testing.T) {
	frame := encodeFrame(streamStdout, "")
	sink := &recordingSink{}
	w := NewDemuxWriter(sink)
	_, err := w.Write(frame)
	require.NoError(t, err)
	assert.Empty(t, sink.frames)
}

// TestDemuxWriter_FlushEmitsResidualPayloadAsStdout covers a stream that
// ends mid-payload: the partial bytes already copied into the frame's
// payload buffer must be emitted once, tagged stdout, rather than
// dropped, even though the torn frame's own header said stderr.
func TestDemuxWriter_FlushEmitsResidualPayloadAsStdout(t *testing.T) {
	full := encodeFrame(streamStderr, "partial line, no trailing newline")
	truncated := full[:len(full)-5]

	sink := &recordingSink{}
	w := NewDemuxWriter(sink)
	_, err := w.Write(truncated)
	require.NoError(t, err)
	require.Empty(t, sink.frames, "no frame should be decoded before the payload completes")

	w.Flush()

	require.Len(t, sink.frames, 1)
	assert.Equal(t, streamStdout, sink.frames[0].stream)
	assert.Equal(t, string(truncated[frameHeaderSize:]), sink.frames[0].text)
}

// TestDemuxWriter_FlushEmitsResidualHeaderBytesAsStdout covers a stream
// that ends mid-header, before the stream type / length are even known.
func TestDemuxWriter_FlushEmitsResidualHeaderBytesAsStdout(t *testing.T) {
	full := encodeFrame(streamStdout, "hello\n")
	truncated := full[:3]

	sink := &recordingSink{}
	w := NewDemuxWriter(sink)
	_, err := w.Write(truncated)
	require.NoError(t, err)
	require.Empty(t, sink.frames)

	w.Flush()

	require.Len(t, sink.frames, 1)
	assert.Equal(t, streamStdout, sink.frames[0].stream)
	assert.Equal(t, string(truncated), sink.frames[0].text)
}

// TestDemuxWriter_FlushOnCleanBoundaryEmitsNothing ensures Flush is a
// no-op when the stream happened to end exactly on a frame boundary —
// residual-bytes handling must not manufacture a spurious trailing line.
func TestDemuxWriter_FlushOnCleanBoundaryEmitsNothing(t *testing.T) {
	full := encodeFrame(streamStdout, "complete\n")
	sink := &recordingSink{}
	w := NewDemuxWriter(sink)
	_, err := w.Write(full)
	require.NoError(t, err)
	require.Len(t, sink.frames, 1)

	w.Flush()

	assert.Len(t, sink.frames, 1, "flush after a clean boundary must not add a frame")
}

// TestDemux_FlushesResidualBytesOnEOF exercises the Demux entry point
// (rather than DemuxWriter directly) against a reader whose stream ends
// mid-frame, matching the residual-bytes-at-stream-close behavior
// ContainerLogs consumers depend on.
func TestDemux_FlushesResidualBytesOnEOF(t *testing.T) {
	secondPayload := "0123456789"
	full := append(encodeFrame(streamStdout, "first\n"), encodeFrame(streamStderr, secondPayload)...)
	truncated := full[:len(full)-4]

	var got []recordedFrame
	err := Demux(bytes.NewReader(truncated), func(stream streamType, data []byte) {
		got = append(got, recordedFrame{stream: stream, text: string(data)})
	})
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, recordedFrame{stream: streamStdout, text: "first\n"}, got[0])
	assert.Equal(t, streamStdout, got[1].stream, "residual bytes are always surfaced as stdout")
	assert.Equal(t, secondPayload[:len(secondPayload)-4], got[1].text)
}
