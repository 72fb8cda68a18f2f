package openaicompat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lectern-ai/lectern-core/core/llms"
)

// Stream is a single pending completion. The request is sent when Chunks is
// first consumed; a Stream is not reusable.
type Stream struct {
	client *Client

	messages []message
	options  llms.CompletionOptions
}

func (s *Stream) Chunks(ctx context.Context) func(func(llms.StreamChunk, error) bool) {
	requestToFirstTokenTime := time.Time{}
	setRequestToFirstTokenTime := func(span trace.Span) {
		if requestToFirstTokenTime.IsZero() {
			return
		}
		span.SetAttributes(attribute.Float64("response.request_to_first_token_time", time.Since(requestToFirstTokenTime).Seconds()))
		span.AddEvent("received first chunk")
		requestToFirstTokenTime = time.Time{}
	}

	return func(yield func(llms.StreamChunk, error) bool) {
		ctx, span := tracer.Start(ctx, "stream chat completion")
		defer span.End()
		span.SetAttributes(attribute.String("request.model", s.options.Model))

		reqBody := requestBody{
			Model:    s.options.Model,
			Messages: s.messages,
			Stream:   true,
			// Without this the final frame carries no usage block and
			// token accounting falls back to estimates.
			StreamOptions: &streamOptions{IncludeUsage: true},
			Temperature:   s.options.Temperature,
		}

		requestBodyBytes, err := json.Marshal(reqBody)
		if err != nil {
			err = fmt.Errorf("error marshalling JSON: %w", err)
			span.RecordError(err)
			yield(nil, err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, "POST", s.client.baseURL+completionsPath, bytes.NewBuffer(requestBodyBytes))
		if err != nil {
			err = fmt.Errorf("error creating HTTP request: %w", err)
			span.RecordError(err)
			yield(nil, err)
			return
		}

		req.Header.Set("Content-Type", "application/json")
		if s.client.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+s.client.apiKey)
		}

		span.SetAttributes(attribute.String("request.url", req.URL.String()))
		requestToFirstTokenTime = time.Now()
		span.AddEvent("request started")
		resp, err := s.client.httpClient.Do(req)
		if err != nil {
			err = fmt.Errorf("error sending request: %w", err)
			span.RecordError(err)
			yield(nil, err)
			return
		}
		defer resp.Body.Close()

		span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
		if resp.StatusCode != http.StatusOK {
			if errorBody, err := io.ReadAll(resp.Body); err != nil {
				err = fmt.Errorf("error reading error body: %w", err)
				span.RecordError(err)
			} else {
				span.SetAttributes(attribute.String("response.error", string(errorBody)))
			}

			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
				err := &llms.ProviderUnavailableError{
					Provider: req.URL.Host,
					Reason:   resp.Status,
				}
				span.RecordError(err)
				yield(nil, err)
				return
			}

			err := fmt.Errorf("non-OK HTTP status: %s", resp.Status)
			span.RecordError(err)
			yield(nil, err)
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			chunk := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), chunkPrefix))
			setRequestToFirstTokenTime(span)

			if len(chunk) == 0 {
				continue
			}

			if chunk == endMessage {
				break
			}

			var responseBody streamingResponseBody
			err := json.Unmarshal([]byte(chunk), &responseBody)
			if err != nil {
				err = fmt.Errorf("error unmarshalling JSON: %w", err)
				span.RecordError(err)
				if !yield(nil, err) {
					return
				}
				continue
			}

			var finishReason *string
			if len(responseBody.Choices) > 0 {
				choice := responseBody.Choices[0]

				if choice.FinishReason != nil {
					finishReason = choice.FinishReason
					span.SetAttributes(attribute.String("response.finish_reason", *finishReason))
				}

				if choice.Delta.Content != "" {
					if !yield(StreamContentChunk{
						finishReason: finishReason,
						content:      choice.Delta.Content,
					}, nil) {
						return
					}
				} else if finishReason != nil {
					// The closing frame carries no delta, only the
					// reason. It still has to reach the consumer.
					if !yield(StreamContentChunk{
						finishReason: finishReason,
					}, nil) {
						return
					}
				}
			}

			if responseBody.Usage != nil {
				span.SetAttributes(attribute.Int("usage.input", responseBody.Usage.PromptTokens))
				span.SetAttributes(attribute.Int("usage.output", responseBody.Usage.CompletionTokens))
				span.SetAttributes(attribute.Int("usage.total", responseBody.Usage.TotalTokens))

				var inputTokensDetails *llms.InputTokensDetails
				if responseBody.Usage.PromptTokensDetails != nil {
					span.SetAttributes(attribute.Int("usage.cached", responseBody.Usage.PromptTokensDetails.CachedTokens))
					inputTokensDetails = &llms.InputTokensDetails{
						CachedTokens: responseBody.Usage.PromptTokensDetails.CachedTokens,
					}
				}

				if !yield(StreamUsageChunk{
					finishReason: finishReason,
					usage: llms.Usage{
						InputTokens:        responseBody.Usage.PromptTokens,
						InputTokensDetails: inputTokensDetails,
						OutputTokens:       responseBody.Usage.CompletionTokens,
						TotalTokens:        responseBody.Usage.TotalTokens,
					},
				}, nil) {
					return
				}
			}
		}

		if err := scanner.Err(); err != nil {
			err = fmt.Errorf("error reading streamed response: %w", err)
			span.RecordError(err)
			yield(nil, err)
			return
		}
	}
}

type StreamContentChunk struct {
	finishReason *string
	content      string
}

func (s StreamContentChunk) FinishReason() *string {
	return s.finishReason
}

func (s StreamContentChunk) Content() string {
	return s.content
}

type StreamUsageChunk struct {
	finishReason *string
	usage        llms.Usage
}

func (s StreamUsageChunk) FinishReason() *string {
	return s.finishReason
}

func (s StreamUsageChunk) Usage() llms.Usage {
	return s.usage
}
