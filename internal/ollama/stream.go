// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bufio"
	"bytes"
	"io"
	"time"
)

// =============================================================================
// STREAM
// =============================================================================

// Stream is a lazy, single-pass reader over a streaming chat response.
// Each call to Next decodes one NDJSON line from the runtime. Streams are
// not safe for concurrent use.
type Stream struct {
	body   io.ReadCloser
	reader *bufio.Reader

	model      string
	tokenCount int
	done       bool
	eof        bool
	err        error
}

func newStream(body io.ReadCloser, model string) *Stream {
	return &Stream{
		body:   body,
		reader: bufio.NewReader(body),
		model:  model,
	}
}

// Next returns the next chunk. It returns io.EOF after the final chunk
// (the one with Done set) has been delivered. If the body ends before a
// final chunk, or the runtime reports an error mid-stream, Next returns a
// *ClientError and keeps returning it.
func (s *Stream) Next() (StreamChunk, error) {
	for {
		if s.err != nil {
			return StreamChunk{}, s.err
		}
		if s.done {
			return StreamChunk{}, io.EOF
		}
		if s.eof {
			s.err = ErrTruncated
			return StreamChunk{}, s.err
		}

		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			if err != io.EOF {
				s.err = classifyTransportError(err)
				return StreamChunk{}, s.err
			}
			// Try to process the last line even on EOF
			s.eof = true
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var resp chatLine
		if err := json.Unmarshal(line, &resp); err != nil {
			// Skip malformed lines
			continue
		}

		if resp.Error != "" {
			s.err = &ClientError{Type: ErrTypeUpstream, Message: resp.Error}
			return StreamChunk{}, s.err
		}

		return s.chunkFrom(resp), nil
	}
}

func (s *Stream) chunkFrom(resp chatLine) StreamChunk {
	if resp.Model != "" {
		s.model = resp.Model
	}

	content := resp.Message.Content
	if content != "" {
		s.tokenCount++
	}

	chunk := StreamChunk{
		Content:    content,
		Done:       resp.Done,
		DoneReason: resp.DoneReason,
		Model:      s.model,
	}

	// On completion, extract statistics
	if resp.Done {
		s.done = true
		chunk.TotalDuration = time.Duration(resp.TotalDuration)
		chunk.LoadDuration = time.Duration(resp.LoadDuration)
		chunk.PromptEvalDuration = time.Duration(resp.PromptEvalDuration)
		chunk.EvalDuration = time.Duration(resp.EvalDuration)
		chunk.PromptTokens = resp.PromptEvalCount
		chunk.CompletionTokens = resp.EvalCount
	}

	return chunk
}

// Close releases the underlying connection. It is safe to call more than once.
func (s *Stream) Close() error {
	return s.body.Close()
}

// Model returns the model name reported by the stream.
func (s *Stream) Model() string {
	return s.model
}

// TokenCount returns the number of content chunks received so far.
func (s *Stream) TokenCount() int {
	return s.tokenCount
}

// =============================================================================
// STREAM STATISTICS
// =============================================================================

// StreamStats holds statistics collected during streaming.
type StreamStats struct {
	StartTime      time.Time
	FirstTokenTime time.Time
	EndTime        time.Time

	PromptTokens     int
	CompletionTokens int

	TTFT            time.Duration // Time to first token
	TokensPerSecond float64
}

// NewStreamStats creates a new StreamStats with start time set.
func NewStreamStats() *StreamStats {
	return &StreamStats{
		StartTime: time.Now(),
	}
}

// Observe records a chunk. The first non-empty chunk fixes TTFT; the
// final chunk fills in token counts and throughput.
func (s *StreamStats) Observe(chunk StreamChunk) {
	if chunk.Content != "" && s.FirstTokenTime.IsZero() {
		s.FirstTokenTime = time.Now()
		s.TTFT = s.FirstTokenTime.Sub(s.StartTime)
	}

	if chunk.Done {
		s.EndTime = time.Now()
		s.PromptTokens = chunk.PromptTokens
		s.CompletionTokens = chunk.CompletionTokens
		s.TokensPerSecond = chunk.TokensPerSecond()
	}
}

// Duration returns the wall-clock time of the stream so far.
func (s *StreamStats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}
