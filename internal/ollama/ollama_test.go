// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClientWithConfig(&ClientConfig{BaseURL: srv.URL})
}

func writeLines(w http.ResponseWriter, lines ...string) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	for _, line := range lines {
		fmt.Fprintln(w, line)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}

func drain(t *testing.T, s *Stream) (string, error) {
	t.Helper()
	var out string
	for {
		chunk, err := s.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out += chunk.Content
	}
}

// =============================================================================
// CLIENT CONFIG TESTS
// =============================================================================

func TestNewClientWithConfig_Defaults(t *testing.T) {
	c := NewClientWithConfig(&ClientConfig{})

	assert.Equal(t, DefaultBaseURL, c.BaseURL())
	assert.Equal(t, DefaultTimeout, c.config.Timeout)
	assert.Equal(t, DefaultStreamTimeout, c.config.StreamTimeout)
}

func TestNewClientWithConfig_TrimsTrailingSlash(t *testing.T) {
	c := NewClientWithConfig(&ClientConfig{BaseURL: "http://10.0.0.5:11434/"})
	assert.Equal(t, "http://10.0.0.5:11434", c.BaseURL())
}

func TestNewClient_NilConfig(t *testing.T) {
	c := NewClientWithConfig(nil)
	require.NotNil(t, c)
	assert.Equal(t, DefaultBaseURL, c.BaseURL())
}

// =============================================================================
// CHAT STREAM TESTS
// =============================================================================

func TestOpenChatStream_SendsRequestAndRelaysChunks(t *testing.T) {
	var got ChatRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		writeLines(w,
			`{"model":"llama3","message":{"role":"assistant","content":"Hel"},"done":false}`,
			`{"model":"llama3","message":{"role":"assistant","content":"lo"},"done":false}`,
			`{"model":"llama3","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","eval_count":2,"eval_duration":1000000000,"prompt_eval_count":5}`,
		)
	})

	msgs := []Message{NewSystemMessage("be brief"), NewUserMessage("hi"), NewAssistantMessage("hey"), NewUserMessage("again")}
	stream, err := c.OpenChatStream(context.Background(), "llama3", msgs)
	require.NoError(t, err)
	defer stream.Close()

	var chunks []StreamChunk
	for {
		chunk, err := stream.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		chunks = append(chunks, chunk)
	}

	require.Len(t, chunks, 3)
	assert.Equal(t, "Hel", chunks[0].Content)
	assert.Equal(t, "lo", chunks[1].Content)
	assert.True(t, chunks[2].Done)
	assert.Equal(t, "stop", chunks[2].DoneReason)
	assert.Equal(t, 2, chunks[2].CompletionTokens)
	assert.Equal(t, 5, chunks[2].PromptTokens)
	assert.InDelta(t, 2.0, chunks[2].TokensPerSecond(), 0.001)
	assert.Equal(t, 2, stream.TokenCount())
	assert.Equal(t, "llama3", stream.Model())

	assert.Equal(t, "llama3", got.Model)
	assert.True(t, got.Stream)
	assert.Equal(t, msgs, got.Messages)

	// Exhausted streams keep reporting EOF.
	_, err = stream.Next()
	assert.Equal(t, io.EOF, err)
}

func TestOpenChatStream_UsesDefaultModel(t *testing.T) {
	var got ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		writeLines(w, `{"done":true}`)
	}))
	defer srv.Close()

	c := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL, DefaultModel: "qwen2.5:7b"})
	stream, err := c.OpenChatStream(context.Background(), "", []Message{NewUserMessage("x")})
	require.NoError(t, err)
	stream.Close()

	assert.Equal(t, "qwen2.5:7b", got.Model)
}

func TestOpenChatStream_SendsOptionsAndKeepAlive(t *testing.T) {
	var got ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		writeLines(w, `{"done":true}`)
	}))
	defer srv.Close()

	c := NewClientWithConfig(&ClientConfig{
		BaseURL:   srv.URL,
		KeepAlive: "30m",
		Options:   &Options{Temperature: 0.2, NumCtx: 8192, Stop: []string{"</s>"}},
	})
	stream, err := c.OpenChatStream(context.Background(), "llama3", []Message{NewUserMessage("x")})
	require.NoError(t, err)
	stream.Close()

	assert.Equal(t, "30m", got.KeepAlive)
	require.NotNil(t, got.Options)
	assert.Equal(t, 0.2, got.Options.Temperature)
	assert.Equal(t, 8192, got.Options.NumCtx)
	assert.Equal(t, []string{"</s>"}, got.Options.Stop)
}

func TestOpenChatStream_OmitsUnsetOptions(t *testing.T) {
	var raw map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&raw)
		writeLines(w, `{"done":true}`)
	}))
	defer srv.Close()

	c := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL})
	stream, err := c.OpenChatStream(context.Background(), "llama3", []Message{NewUserMessage("x")})
	require.NoError(t, err)
	stream.Close()

	assert.NotContains(t, raw, "options")
	assert.NotContains(t, raw, "keep_alive")
}

func TestOpenChatStream_ModelNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"model \"nope\" not found, try pulling it first"}`)
	})

	_, err := c.OpenChatStream(context.Background(), "nope", []Message{NewUserMessage("hi")})
	require.Error(t, err)
	assert.True(t, IsModelNotFound(err))
	assert.Contains(t, err.Error(), `model "nope" not found`)

	var ce *ClientError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, http.StatusNotFound, ce.StatusCode)
}

func TestOpenChatStream_UpstreamError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusInternalServerError)
	})

	_, err := c.OpenChatStream(context.Background(), "llama3", []Message{NewUserMessage("hi")})
	require.Error(t, err)

	var ce *ClientError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, ErrTypeUpstream, ce.Type)
	assert.Equal(t, http.StatusInternalServerError, ce.StatusCode)
	assert.False(t, IsModelNotFound(err))
}

func TestOpenChatStream_NotRunning(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClientWithConfig(&ClientConfig{BaseURL: url})
	_, err := c.OpenChatStream(context.Background(), "llama3", []Message{NewUserMessage("hi")})

	require.Error(t, err)
	assert.True(t, IsNotRunning(err))
}

func TestOpenChatStream_HeaderTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL, StreamTimeout: 50 * time.Millisecond})
	_, err := c.OpenChatStream(context.Background(), "llama3", []Message{NewUserMessage("hi")})

	require.Error(t, err)
	assert.True(t, IsTimeout(err), "got %v", err)
}

func TestStream_CancelAbortsUpstream(t *testing.T) {
	upstreamDone := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeLines(w, `{"message":{"content":"first"}}`)
		<-r.Context().Done()
		close(upstreamDone)
	})

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := c.OpenChatStream(ctx, "llama3", []Message{NewUserMessage("hi")})
	require.NoError(t, err)
	defer stream.Close()

	chunk, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, "first", chunk.Content)

	cancel()

	_, err = stream.Next()
	require.Error(t, err)
	assert.True(t, IsCanceled(err), "got %v", err)

	select {
	case <-upstreamDone:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream request was not canceled")
	}
}

func TestStream_Truncated(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeLines(w, `{"message":{"content":"partial"}}`)
	})

	stream, err := c.OpenChatStream(context.Background(), "llama3", []Message{NewUserMessage("hi")})
	require.NoError(t, err)
	defer stream.Close()

	out, err := drain(t, stream)
	assert.Equal(t, "partial", out)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestStream_MidStreamError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeLines(w,
			`{"message":{"content":"a"}}`,
			`{"error":"out of memory"}`,
		)
	})

	stream, err := c.OpenChatStream(context.Background(), "llama3", []Message{NewUserMessage("hi")})
	require.NoError(t, err)
	defer stream.Close()

	out, err := drain(t, stream)
	assert.Equal(t, "a", out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of memory")

	// Errors are sticky.
	_, again := stream.Next()
	assert.Equal(t, err, again)
}

func TestStream_SkipsMalformedAndBlankLines(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeLines(w,
			`not json`,
			``,
			`{"message":{"content":"ok"}}`,
		)
		// final line without trailing newline
		fmt.Fprint(w, `{"done":true}`)
	})

	stream, err := c.OpenChatStream(context.Background(), "llama3", []Message{NewUserMessage("hi")})
	require.NoError(t, err)
	defer stream.Close()

	out, err := drain(t, stream)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestChatStream_Callback(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeLines(w,
			`{"message":{"content":"one "}}`,
			`{"message":{"content":"two"}}`,
			`{"done":true}`,
		)
	})

	var got []string
	err := c.ChatStream(context.Background(), "llama3", []Message{NewUserMessage("count")}, func(chunk StreamChunk) {
		if chunk.Content != "" {
			got = append(got, chunk.Content)
		}
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"one ", "two"}, got)
}

// =============================================================================
// MODEL OPERATION TESTS
// =============================================================================

func TestTags_ReturnsRawResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusTeapot)
		fmt.Fprint(w, "short and stout")
	})

	resp, err := c.Tags(context.Background())
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
	assert.Equal(t, "yes", resp.Header.Get("X-Upstream"))
	assert.Equal(t, "short and stout", string(body))
}

func TestListModels(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"models":[{"name":"llama3:8b","size":4661224676,"details":{"family":"llama","parameter_size":"8B"}},{"name":"phi3:mini","size":2176178913}]}`)
	})

	models, err := c.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "llama3:8b", models[0].Name)
	assert.Equal(t, "llama", models[0].Details.Family)
	assert.Equal(t, "4.3 GB", models[0].FormatSize())
}

func TestListModels_BadStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.ListModels(context.Background())
	require.Error(t, err)

	var ce *ClientError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, http.StatusServiceUnavailable, ce.StatusCode)
}

func TestPull_UnknownModel(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/pull", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"model 'ghost' not found"}`)
	})

	_, err := c.Pull(context.Background(), "ghost")
	assert.True(t, IsModelNotFound(err))
}

func TestPull_RelaysProgress(t *testing.T) {
	var got PullRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/pull", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&got)
		writeLines(w, `{"status":"pulling manifest"}`, `{"status":"success"}`)
	})

	body, err := c.Pull(context.Background(), "llama3")
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "{\"status\":\"pulling manifest\"}\n{\"status\":\"success\"}\n", string(data))
	assert.Equal(t, "llama3", got.Model)
	assert.True(t, got.Stream)
}

func TestPullModel_DecodesProgress(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeLines(w,
			`{"status":"pulling manifest"}`,
			``,
			`{"status":"pulling 6a0746a1ec1a","digest":"sha256:6a07","total":1000,"completed":250}`,
			`not json`,
			`{"status":"success"}`,
		)
	})

	var got []PullProgress
	err := c.PullModel(context.Background(), "llama3", func(p PullProgress) {
		got = append(got, p)
	})
	require.NoError(t, err)

	require.Len(t, got, 3)
	assert.Equal(t, "pulling manifest", got[0].Status)
	assert.Equal(t, -1, got[0].Percent())
	assert.Equal(t, 25, got[1].Percent())
	assert.Equal(t, "success", got[2].Status)
}

func TestPullModel_ErrorLine(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeLines(w, `{"status":"pulling manifest"}`, `{"error":"pull model manifest: file does not exist"}`, `{"status":"success"}`)
	})

	var statuses []string
	err := c.PullModel(context.Background(), "ghost", func(p PullProgress) {
		statuses = append(statuses, p.Status)
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file does not exist")
	assert.Equal(t, []string{"pulling manifest"}, statuses)
}

func TestCheckRunning(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "Ollama is running")
	})
	assert.NoError(t, c.CheckRunning(context.Background()))
}

// =============================================================================
// ERROR TESTS
// =============================================================================

func TestClientError_IsMatchesByType(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &ClientError{Type: ErrTypeModelNotFound, Message: "model x not found"})

	assert.True(t, errors.Is(err, ErrModelNotFound))
	assert.False(t, errors.Is(err, ErrNotRunning))
}

func TestErrorType_String(t *testing.T) {
	tests := []struct {
		typ  ErrorType
		want string
	}{
		{ErrTypeNotRunning, "not_running"},
		{ErrTypeTimeout, "timeout"},
		{ErrTypeCanceled, "canceled"},
		{ErrTypeModelNotFound, "model_not_found"},
		{ErrTypeUpstream, "upstream"},
		{ErrTypeTruncated, "truncated"},
		{ErrTypeUnknown, "unknown"},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, tc.typ.String())
	}
}

// =============================================================================
// STATS TESTS
// =============================================================================

func TestStreamStats_Observe(t *testing.T) {
	stats := NewStreamStats()
	time.Sleep(5 * time.Millisecond)

	stats.Observe(StreamChunk{Content: "a"})
	stats.Observe(StreamChunk{Content: "b"})
	stats.Observe(StreamChunk{Done: true, CompletionTokens: 10, PromptTokens: 3, EvalDuration: 2 * time.Second})

	assert.GreaterOrEqual(t, stats.TTFT, 5*time.Millisecond)
	assert.Equal(t, 10, stats.CompletionTokens)
	assert.Equal(t, 3, stats.PromptTokens)
	assert.InDelta(t, 5.0, stats.TokensPerSecond, 0.001)
	assert.False(t, stats.EndTime.IsZero())
}

func TestModelInfo_FormatSize(t *testing.T) {
	tests := []struct {
		size int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KB"},
		{1536 * 1024, "1.5 MB"},
		{2 * 1024 * 1024 * 1024, "2.0 GB"},
	}

	for _, tc := range tests {
		m := &ModelInfo{Size: tc.size}
		assert.Equal(t, tc.want, m.FormatSize(), "size %d", tc.size)
	}
}
