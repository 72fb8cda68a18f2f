package openaicompat

import (
	"github.com/lectern-ai/lectern-core/core/llms"
)

type message struct {
	Role    messageRole `json:"role"`
	Content string      `json:"content"`
}

type messageRole string

const (
	messageRoleSystem    messageRole = "system"
	messageRoleUser      messageRole = "user"
	messageRoleAssistant messageRole = "assistant"
)

func toMessages(turns []llms.Turn) []message {
	messages := make([]message, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case llms.RoleSystem:
			messages = append(messages, message{
				Role:    messageRoleSystem,
				Content: turn.Content,
			})
		case llms.RoleUser:
			messages = append(messages, message{
				Role:    messageRoleUser,
				Content: turn.Content,
			})
		case llms.RoleAssistant:
			messages = append(messages, message{
				Role:    messageRoleAssistant,
				Content: turn.Content,
			})
		}
	}
	return messages
}

type requestBody struct {
	Model         string         `json:"model"`
	Messages      []message      `json:"messages"`
	Stream        bool           `json:"stream"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
	Temperature   *float64       `json:"temperature,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type streamingResponseBody struct {
	Choices []struct {
		Delta struct {
			Role    string `json:"role,omitempty"`
			Content string `json:"content,omitempty"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason,omitempty"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens        int `json:"prompt_tokens"`
		CompletionTokens    int `json:"completion_tokens"`
		TotalTokens         int `json:"total_tokens"`
		PromptTokensDetails *struct {
			CachedTokens int `json:"cached_tokens"`
		} `json:"prompt_tokens_details,omitempty"`
	} `json:"usage,omitempty"`
}
