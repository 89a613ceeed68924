package stream_test

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/smartdocai/smartdoc-web-ui/internal/stream"
)

// chunkReader serves its chunks one Read call at a time, so tests can control
// exactly where the transport splits the byte stream.
type chunkReader struct {
	chunks []string
	err    error
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	if n < len(r.chunks[0]) {
		r.chunks[0] = r.chunks[0][n:]
	} else {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func collect(t *testing.T, r io.Reader) ([]stream.Frame, error) {
	t.Helper()
	var frames []stream.Frame
	for frame, err := range stream.Frames(r, nil) {
		if err != nil {
			return frames, err
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

func TestFramesSplitAtAnyOffset(t *testing.T) {
	raw := "event: content\ndata: {\"content\": \"Hello\"}\n\n"

	for offset := 0; offset <= len(raw); offset++ {
		r := &chunkReader{chunks: []string{raw[:offset], raw[offset:]}}

		frames, err := collect(t, r)
		if err != nil {
			t.Fatalf("offset %d: unexpected error: %v", offset, err)
		}
		if len(frames) != 1 {
			t.Fatalf("offset %d: got %d frames, want 1", offset, len(frames))
		}
		if frames[0].Type != "content" {
			t.Errorf("offset %d: frame type = %q, want %q", offset, frames[0].Type, "content")
		}
		if string(frames[0].Data) != `{"content": "Hello"}` {
			t.Errorf("offset %d: frame data = %q", offset, frames[0].Data)
		}
	}
}

func TestFramesMultipleBlocksInOneRead(t *testing.T) {
	raw := "event: start\ndata: {\"chat_id\": \"42\"}\n\n" +
		"event: content\ndata: {\"content\": \"Hi\"}\n\n" +
		"event: content\ndata: {\"content\": \" there\"}\n\n"

	frames, err := collect(t, strings.NewReader(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantTypes := []string{"start", "content", "content"}
	if len(frames) != len(wantTypes) {
		t.Fatalf("got %d frames, want %d", len(frames), len(wantTypes))
	}
	for i, want := range wantTypes {
		if frames[i].Type != want {
			t.Errorf("frame %d type = %q, want %q", i, frames[i].Type, want)
		}
	}
}

func TestFramesSkipsBadBlocks(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{
			name: "Malformed JSON payload",
			raw:  "event: content\ndata: {not json\n\nevent: content\ndata: {\"content\": \"ok\"}\n\n",
			want: 1,
		},
		{
			name: "Missing data line",
			raw:  "event: content\n\nevent: content\ndata: {\"content\": \"ok\"}\n\n",
			want: 1,
		},
		{
			name: "Missing event line",
			raw:  "data: {\"content\": \"orphan\"}\n\nevent: content\ndata: {\"content\": \"ok\"}\n\n",
			want: 1,
		},
		{
			name: "Unknown event type is still decoded",
			raw:  "event: heartbeat\ndata: {}\n\n",
			want: 1,
		},
		{
			name: "Empty stream",
			raw:  "",
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames, err := collect(t, strings.NewReader(tt.raw))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(frames) != tt.want {
				t.Errorf("got %d frames, want %d", len(frames), tt.want)
			}
		})
	}
}

func TestFramesDiscardsUnterminatedTrailer(t *testing.T) {
	raw := "event: content\ndata: {\"content\": \"done\"}\n\nevent: content\ndata: {\"content\": \"cut off"

	frames, err := collect(t, strings.NewReader(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if string(frames[0].Data) != `{"content": "done"}` {
		t.Errorf("frame data = %q", frames[0].Data)
	}
}

func TestFramesYieldsReadError(t *testing.T) {
	readErr := errors.New("connection reset")
	r := &chunkReader{
		chunks: []string{"event: content\ndata: {\"content\": \"partial\"}\n\n"},
		err:    readErr,
	}

	frames, err := collect(t, r)
	if !errors.Is(err, readErr) {
		t.Fatalf("error = %v, want %v", err, readErr)
	}
	if len(frames) != 1 {
		t.Errorf("got %d frames before error, want 1", len(frames))
	}
}
