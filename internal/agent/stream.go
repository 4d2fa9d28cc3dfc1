package agent

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// StreamDone is the sentinel payload that terminates a completion stream.
const StreamDone = "[DONE]"

// maxLineBytes bounds a single protocol line. Delta payloads are small, but
// a blocking-sized response folded into one chunk must still scan.
const maxLineBytes = 1 << 20

// LineStream is a lazy, finite, non-restartable sequence of raw protocol
// lines read from an upstream response body. Lines are delivered exactly as
// received, "data: " prefix included. The caller owns Close.
type LineStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	line    string
}

func NewLineStream(body io.ReadCloser) *LineStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &LineStream{body: body, scanner: scanner}
}

// Scan advances to the next line. It returns false at end of stream or on
// read error; check Err afterwards.
func (s *LineStream) Scan() bool {
	if !s.scanner.Scan() {
		s.line = ""
		return false
	}
	s.line = s.scanner.Text()
	return true
}

// Line returns the line read by the last successful Scan.
func (s *LineStream) Line() string { return s.line }

func (s *LineStream) Err() error { return s.scanner.Err() }

func (s *LineStream) Close() error { return s.body.Close() }

// DecodePayload extracts the payload from an SSE protocol line. It returns
// ok=false for blank lines, comments and non-data fields.
func DecodePayload(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if payload == "" {
		return "", false
	}
	return payload, true
}

// DecodeChunk parses the chunk carried by an SSE protocol line. It returns
// ok=false for non-data lines, the [DONE] sentinel and malformed JSON.
func DecodeChunk(line string) (Chunk, bool) {
	payload, ok := DecodePayload(line)
	if !ok || payload == StreamDone {
		return Chunk{}, false
	}
	var chunk Chunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return Chunk{}, false
	}
	return chunk, true
}
