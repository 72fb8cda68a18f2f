package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lectern-ai/lectern-core/core/llms"
)

func TestCompleteStreamsContentAndUsage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("expected path /chat/completions, got %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("expected bearer auth header, got %q", got)
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("expected readable request body, got %v", err)
		}
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
			Stream        bool `json:"stream"`
			StreamOptions *struct {
				IncludeUsage bool `json:"include_usage"`
			} `json:"stream_options"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("expected JSON request body, got %v", err)
		}
		if req.Model != "gpt-4o-mini" {
			t.Errorf("expected model gpt-4o-mini, got %q", req.Model)
		}
		if !req.Stream {
			t.Errorf("expected a streaming request")
		}
		if req.StreamOptions == nil || !req.StreamOptions.IncludeUsage {
			t.Errorf("expected stream_options.include_usage to be set")
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Role != "user" {
			t.Errorf("expected system and user messages, got %v", req.Messages)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"choices":[{"delta":{"role":"assistant","content":"Tides "}}]}`+"\n\n")
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"rise."}}]}`+"\n\n")
		fmt.Fprint(w, `data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`+"\n\n")
		fmt.Fprint(w, `data: {"choices":[],"usage":{"prompt_tokens":40,"completion_tokens":12,"total_tokens":52,"prompt_tokens_details":{"cached_tokens":16}}}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL), WithAPIKey("test-key"), WithModel("gpt-4o-mini"))
	stream := client.Complete(context.Background(), []llms.Turn{
		{Role: llms.RoleSystem, Content: "You answer briefly."},
		{Role: llms.RoleUser, Content: "What do tides do?"},
	})

	var content strings.Builder
	var finishReason string
	var usage *llms.Usage
	for chunk, err := range stream.Chunks(context.Background()) {
		if err != nil {
			t.Fatalf("expected no stream error, got %v", err)
		}
		if reason := chunk.FinishReason(); reason != nil {
			finishReason = *reason
		}
		switch c := chunk.(type) {
		case llms.StreamContentChunk:
			content.WriteString(c.Content())
		case llms.StreamUsageChunk:
			u := c.Usage()
			usage = &u
		}
	}

	if content.String() != "Tides rise." {
		t.Fatalf("expected assembled content 'Tides rise.', got %q", content.String())
	}
	if finishReason != "stop" {
		t.Fatalf("expected finish reason stop, got %q", finishReason)
	}
	if usage == nil {
		t.Fatalf("expected a usage chunk, got none")
	}
	if usage.InputTokens != 40 || usage.OutputTokens != 12 || usage.TotalTokens != 52 {
		t.Fatalf("expected usage 40/12/52, got %d/%d/%d", usage.InputTokens, usage.OutputTokens, usage.TotalTokens)
	}
	if usage.InputTokensDetails == nil || usage.InputTokensDetails.CachedTokens != 16 {
		t.Fatalf("expected 16 cached tokens, got %v", usage.InputTokensDetails)
	}
}

func TestCompleteMapsErrorStatuses(t *testing.T) {
	testCases := []struct {
		name            string
		status          int
		wantUnavailable bool
	}{
		{name: "internal server error", status: http.StatusInternalServerError, wantUnavailable: true},
		{name: "rate limited", status: http.StatusTooManyRequests, wantUnavailable: true},
		{name: "unauthorized", status: http.StatusUnauthorized, wantUnavailable: false},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "upstream refused the request", testCase.status)
			}))
			defer server.Close()

			client := New(WithBaseURL(server.URL), WithModel("gpt-4o-mini"))
			stream := client.Complete(context.Background(), []llms.Turn{{Role: llms.RoleUser, Content: "hi"}})

			var streamErr error
			for _, err := range stream.Chunks(context.Background()) {
				if err != nil {
					streamErr = err
				}
			}
			if streamErr == nil {
				t.Fatalf("expected an error, got none")
			}

			var unavailable *llms.ProviderUnavailableError
			if got := errors.As(streamErr, &unavailable); got != testCase.wantUnavailable {
				t.Fatalf("expected provider unavailable to be %t, got %t (error: %v)", testCase.wantUnavailable, got, streamErr)
			}
		})
	}
}

func TestCompleteStopsWhenConsumerBreaks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for range 50 {
			fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"more "}}]}`+"\n\n")
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL), WithModel("gpt-4o-mini"))
	stream := client.Complete(context.Background(), []llms.Turn{{Role: llms.RoleUser, Content: "hi"}})

	count := 0
	for _, err := range stream.Chunks(context.Background()) {
		if err != nil {
			t.Fatalf("expected no stream error, got %v", err)
		}
		count++
		if count == 1 {
			break
		}
	}

	if count != 1 {
		t.Fatalf("expected to stop after one chunk, got %d", count)
	}
}
