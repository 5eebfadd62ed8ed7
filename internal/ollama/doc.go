// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
//
// This package implements a client for the Ollama local LLM server. It
// covers the calls the web relay needs: streaming chat, the raw model list,
// model pulls and a liveness check.
//
// # Key Types
//
//   - Client: HTTP client for Ollama API communication
//   - Stream: lazy, single-pass reader over a streaming chat response
//   - ClientError: typed failure (not running, timeout, model not found, ...)
//   - StreamStats: time-to-first-token and throughput for a stream
//
// # Usage
//
// Open a stream and relay it chunk by chunk:
//
//	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: "http://127.0.0.1:11434"})
//	stream, err := client.OpenChatStream(ctx, "llama3", []ollama.Message{
//	    ollama.NewUserMessage("Hello"),
//	})
//	if err != nil {
//	    return err
//	}
//	defer stream.Close()
//	for {
//	    chunk, err := stream.Next()
//	    if err == io.EOF {
//	        break
//	    }
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Print(chunk.Content)
//	}
//
// # Errors
//
// Failures the runtime reports before streaming begins are returned from
// OpenChatStream; errors.Is works against the sentinels ErrNotRunning,
// ErrTimeout, ErrCanceled, ErrModelNotFound and ErrTruncated.
package ollama
