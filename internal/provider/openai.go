package provider

import (
	"context"
	"errors"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/avoronin/threadcast-server/internal/store"
)

const fireworksBaseURL = "https://api.fireworks.ai/inference/v1"

// openAIProvider serves both the OpenAI and Fireworks identities; Fireworks
// exposes an OpenAI-compatible API under its own base URL.
type openAIProvider struct {
	id     ID
	client *openai.Client
}

func newOpenAI(apiKey string) *openAIProvider {
	return &openAIProvider{id: OpenAI, client: openai.NewClient(apiKey)}
}

func newFireworks(apiKey string) *openAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = fireworksBaseURL
	return &openAIProvider{id: Fireworks, client: openai.NewClientWithConfig(cfg)}
}

func (p *openAIProvider) ID() ID { return p.id }

// StreamChat starts a streaming chat completion.
func (p *openAIProvider) StreamChat(ctx context.Context, modelID string, msgs []ChatMessage, opts store.ModelOptions) (CompletionStream, error) {
	req := openai.ChatCompletionRequest{
		Model:            modelID,
		Stream:           true,
		Temperature:      float32(opts.Temperature),
		TopP:             float32(opts.TopP),
		MaxTokens:        opts.MaxTokens,
		FrequencyPenalty: float32(opts.FrequencyPenalty),
		PresencePenalty:  float32(opts.PresencePenalty),
	}
	for _, m := range msgs {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	inner, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, &StreamError{Provider: p.id, Model: modelID, Err: err}
	}
	return &chatStream{provider: p.id, model: modelID, inner: inner}, nil
}

// StreamCompletion starts a streaming text completion for a flat prompt.
func (p *openAIProvider) StreamCompletion(ctx context.Context, modelID, prompt string, opts store.ModelOptions) (CompletionStream, error) {
	req := openai.CompletionRequest{
		Model:            modelID,
		Prompt:           prompt,
		Stream:           true,
		Temperature:      float32(opts.Temperature),
		TopP:             float32(opts.TopP),
		MaxTokens:        opts.MaxTokens,
		FrequencyPenalty: float32(opts.FrequencyPenalty),
		PresencePenalty:  float32(opts.PresencePenalty),
	}

	inner, err := p.client.CreateCompletionStream(ctx, req)
	if err != nil {
		return nil, &StreamError{Provider: p.id, Model: modelID, Err: err}
	}
	return &textStream{provider: p.id, model: modelID, inner: inner}, nil
}

// chatStream adapts a chat completion stream. The API has no separate
// terminal full-text payload, so the adapter accumulates the raw deltas and
// reports that as the final value.
type chatStream struct {
	provider ID
	model    string
	inner    *openai.ChatCompletionStream
	final    strings.Builder
}

func (s *chatStream) Recv() (string, error) {
	for {
		resp, err := s.inner.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", &StreamError{Provider: s.provider, Model: s.model, Err: err}
		}
		if len(resp.Choices) == 0 {
			continue
		}
		token := resp.Choices[0].Delta.Content
		if token == "" {
			// Role-announcement and finish chunks carry no text.
			continue
		}
		s.final.WriteString(token)
		return token, nil
	}
}

func (s *chatStream) Final() string { return s.final.String() }

func (s *chatStream) Close() error { return s.inner.Close() }

// textStream adapts a legacy completion stream.
type textStream struct {
	provider ID
	model    string
	inner    *openai.CompletionStream
	final    strings.Builder
}

func (s *textStream) Recv() (string, error) {
	for {
		resp, err := s.inner.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", &StreamError{Provider: s.provider, Model: s.model, Err: err}
		}
		if len(resp.Choices) == 0 {
			continue
		}
		token := resp.Choices[0].Text
		if token == "" {
			continue
		}
		s.final.WriteString(token)
		return token, nil
	}
}

func (s *textStream) Final() string { return s.final.String() }

func (s *textStream) Close() error { return s.inner.Close() }
