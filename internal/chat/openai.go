package chat

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// CompletionRequest is one streaming completion call.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	Temperature float32
}

// Completer streams a completion, invoking onChunk for every text increment.
// Cancellation is cooperative through the context; a cancelled stream
// returns the context's error.
type Completer interface {
	StreamCompletion(ctx context.Context, req CompletionRequest, onChunk func(chunk string)) error
}

// OpenAICompleter talks to an OpenAI-compatible chat completion endpoint.
type OpenAICompleter struct {
	client *openai.Client
}

func NewOpenAICompleter(apiKey, baseURL string) *OpenAICompleter {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAICompleter{client: openai.NewClientWithConfig(cfg)}
}

func (c *OpenAICompleter) StreamCompletion(ctx context.Context, req CompletionRequest, onChunk func(chunk string)) error {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, message := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(message.Role),
			Content: message.Content,
		})
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		Stream:      true,
	})
	if err != nil {
		return fmt.Errorf("create completion stream: %w", err)
	}
	defer stream.Close()

	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			// Surface cancellation as the context error so callers can
			// distinguish an abort from a hard failure.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("receive completion chunk: %w", err)
		}
		if len(response.Choices) == 0 {
			continue
		}
		if content := response.Choices[0].Delta.Content; content != "" {
			onChunk(content)
		}
	}
}
