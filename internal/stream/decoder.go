package stream

import (
	"encoding/json"
	"io"
	"iter"
	"log/slog"
	"strings"
)

// Frame is one decoded `(event type, payload)` unit from the chat streaming
// response. Data is always valid JSON; frames whose payload fails to parse
// are dropped by the decoder.
type Frame struct {
	Type string
	Data json.RawMessage
}

// Frames decodes the backend's blank-line-framed event stream from r into a
// lazy sequence of frames. Each frame is a block of the form
//
//	event: <type>
//	data: <single-line JSON>
//
// terminated by a blank line. Partial frames are buffered across reads, so a
// frame split at any byte offset by the chunked transport still decodes to
// exactly one frame. Blocks missing an event or data line, and blocks whose
// payload is not valid JSON, are skipped without terminating the stream.
//
// The sequence is finite and ends when r is exhausted or returns an error; a
// fresh call is needed for each new stream. A trailing block that was never
// terminated by a blank line is discarded. The wire format caps the payload
// at the first data line, so a payload containing an embedded blank line
// would truncate its frame; the backend only emits single-line JSON.
func Frames(r io.Reader, logger *slog.Logger) iter.Seq2[Frame, error] {
	if logger == nil {
		logger = slog.Default()
	}
	return func(yield func(Frame, error) bool) {
		var buffer string
		chunk := make([]byte, 4096)

		for {
			n, err := r.Read(chunk)
			buffer += string(chunk[:n])

			for {
				block, rest, found := strings.Cut(buffer, "\n\n")
				if !found {
					break
				}
				buffer = rest

				frame, ok := decodeBlock(block, logger)
				if !ok {
					continue
				}
				if !yield(frame, nil) {
					return
				}
			}

			if err != nil {
				if err != io.EOF {
					yield(Frame{}, err)
				}
				return
			}
		}
	}
}

// decodeBlock extracts the event type and data payload from one
// blank-line-terminated block.
func decodeBlock(block string, logger *slog.Logger) (Frame, bool) {
	var eventType, data string
	var haveEvent, haveData bool

	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSuffix(line, "\r")
		switch {
		case !haveEvent && strings.HasPrefix(line, "event:"):
			fields := strings.Fields(line[len("event:"):])
			if len(fields) > 0 {
				eventType = fields[0]
				haveEvent = true
			}
		case !haveData && strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(line[len("data:"):])
			haveData = true
		}
	}

	if !haveEvent || !haveData {
		return Frame{}, false
	}

	if !json.Valid([]byte(data)) {
		logger.Error("Dropping frame with malformed payload",
			slog.String("eventType", eventType),
			slog.String("data", data))
		return Frame{}, false
	}

	return Frame{Type: eventType, Data: json.RawMessage(data)}, true
}
