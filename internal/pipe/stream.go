package pipe

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/bakkerme/agentpipe/internal/agent"
	"github.com/bakkerme/agentpipe/internal/enhance"
)

// streamChunkRunes is the synthetic re-emission chunk size.
const streamChunkRunes = 50

// ChunkStream yields SSE payloads one at a time, without the "data: "
// framing. Synthetic streams replay a precomputed queue; passthrough streams
// pull from the upstream line stream lazily and can interpose trailing
// payloads before the [DONE] sentinel.
type ChunkStream struct {
	queue    []string
	src      *agent.LineStream
	trailing []string
}

func newSyntheticStream(payloads []string) *ChunkStream {
	return &ChunkStream{queue: payloads}
}

func newPassthroughStream(src *agent.LineStream, trailing []string) *ChunkStream {
	return &ChunkStream{src: src, trailing: trailing}
}

// Next returns the next payload. ok=false means the stream is exhausted;
// check Err afterwards.
func (s *ChunkStream) Next() (string, bool) {
	if len(s.queue) > 0 {
		payload := s.queue[0]
		s.queue = s.queue[1:]
		return payload, true
	}
	if s.src == nil {
		return "", false
	}
	for s.src.Scan() {
		payload, ok := agent.DecodePayload(s.src.Line())
		if !ok {
			continue
		}
		if payload == agent.StreamDone && len(s.trailing) > 0 {
			s.queue = append(s.trailing, agent.StreamDone)
			s.trailing = nil
			payload = s.queue[0]
			s.queue = s.queue[1:]
		}
		return payload, true
	}
	return "", false
}

func (s *ChunkStream) Err() error {
	if s.src == nil {
		return nil
	}
	return s.src.Err()
}

func (s *ChunkStream) Close() error {
	if s.src == nil {
		return nil
	}
	return s.src.Close()
}

// syntheticPayloads renders an enhanced response as an OpenAI-compatible
// chunk sequence: a role chunk, the text in fixed-size rune chunks, the
// gallery as one final content chunk, a finish chunk, then [DONE].
func syntheticPayloads(model string, enhanced enhance.Result) []string {
	e := newChunkEmitter(model)
	e.emit(agent.Delta{Role: agent.RoleAssistant}, nil)
	for _, piece := range splitRunes(enhanced.Text, streamChunkRunes) {
		e.emit(agent.Delta{Content: piece}, nil)
	}
	if enhanced.Gallery != "" {
		e.emit(agent.Delta{Content: enhanced.Gallery}, nil)
	}
	finish := "stop"
	e.emit(agent.Delta{}, &finish)
	return append(e.payloads, agent.StreamDone)
}

// notificationPayloads renders the first-turn notification as content chunks
// for interposing into a passthrough stream. No role or finish chunk: the
// upstream stream already carried both.
func notificationPayloads(model, message string) []string {
	e := newChunkEmitter(model)
	for _, piece := range splitRunes("\n\n"+message, streamChunkRunes) {
		e.emit(agent.Delta{Content: piece}, nil)
	}
	return e.payloads
}

// chunkEmitter stamps every chunk of one synthetic stream with the same id,
// timestamp and model.
type chunkEmitter struct {
	id       string
	created  int64
	model    string
	payloads []string
}

func newChunkEmitter(model string) *chunkEmitter {
	return &chunkEmitter{id: newCompletionID(), created: nowUnix(), model: model}
}

func (e *chunkEmitter) emit(delta agent.Delta, finishReason *string) {
	payload, err := json.Marshal(agent.Chunk{
		ID:      e.id,
		Object:  "chat.completion.chunk",
		Created: e.created,
		Model:   e.model,
		Choices: []agent.ChunkChoice{{Delta: delta, FinishReason: finishReason}},
	})
	if err != nil {
		return
	}
	e.payloads = append(e.payloads, string(payload))
}

func splitRunes(s string, size int) []string {
	if s == "" {
		return nil
	}
	runes := []rune(s)
	parts := make([]string, 0, (len(runes)+size-1)/size)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		parts = append(parts, string(runes[start:end]))
	}
	return parts
}

func newCompletionID() string { return "chatcmpl-" + uuid.NewString() }

func nowUnix() int64 { return time.Now().Unix() }
