package provider

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

	"github.com/avoronin/threadcast-server/internal/store"
)

const defaultHuggingFaceBaseURL = "https://api-inference.huggingface.co"

// hfProvider streams from the Hugging Face text-generation-inference API.
// No maintained Go SDK covers the streaming endpoint, so this speaks the SSE
// protocol directly; the terminal event's generated_text is the provider's
// authoritative full completion.
type hfProvider struct {
	apiKey  string
	baseURL string
	httpc   *http.Client
}

func newHuggingFace(apiKey, baseURL string) *hfProvider {
	if baseURL == "" {
		baseURL = defaultHuggingFaceBaseURL
	}
	return &hfProvider{
		apiKey:  apiKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpc:   &http.Client{Timeout: 5 * time.Minute},
	}
}

func (p *hfProvider) ID() ID { return HuggingFace }

// StreamChat flattens the dialog into a Llama-2 style prompt; the inference
// API only accepts flat text inputs.
func (p *hfProvider) StreamChat(ctx context.Context, modelID string, msgs []ChatMessage, opts store.ModelOptions) (CompletionStream, error) {
	prompt, err := BuildPrompt(store.PromptLlama2, msgs)
	if err != nil {
		return nil, err
	}
	return p.StreamCompletion(ctx, modelID, prompt, opts)
}

type hfParameters struct {
	Temperature  float64 `json:"temperature,omitempty"`
	TopP         float64 `json:"top_p,omitempty"`
	MaxNewTokens int     `json:"max_new_tokens,omitempty"`
}

type hfRequest struct {
	Inputs     string       `json:"inputs"`
	Stream     bool         `json:"stream"`
	Parameters hfParameters `json:"parameters"`
}

// StreamCompletion starts a streaming text-generation call.
func (p *hfProvider) StreamCompletion(ctx context.Context, modelID, prompt string, opts store.ModelOptions) (CompletionStream, error) {
	body, err := json.Marshal(hfRequest{
		Inputs: prompt,
		Stream: true,
		Parameters: hfParameters{
			Temperature:  opts.Temperature,
			TopP:         opts.TopP,
			MaxNewTokens: opts.MaxNewTokens,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := p.baseURL + "/models/" + modelID
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpc.Do(req)
	if err != nil {
		return nil, &StreamError{Provider: HuggingFace, Model: modelID, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &StreamError{
			Provider: HuggingFace,
			Model:    modelID,
			Err:      fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
		}
	}

	return &hfStream{
		model:   modelID,
		body:    resp.Body,
		scanner: bufio.NewScanner(resp.Body),
	}, nil
}

type hfEvent struct {
	Token struct {
		Text    string `json:"text"`
		Special bool   `json:"special"`
	} `json:"token"`
	GeneratedText *string `json:"generated_text"`
	Error         string  `json:"error"`
}

type hfStream struct {
	model   string
	body    io.ReadCloser
	scanner *bufio.Scanner
	final   string
	done    bool
}

func (s *hfStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}

		var ev hfEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return "", &StreamError{Provider: HuggingFace, Model: s.model, Err: fmt.Errorf("decode event: %w", err)}
		}
		if ev.Error != "" {
			return "", &StreamError{Provider: HuggingFace, Model: s.model, Err: fmt.Errorf("inference error: %s", ev.Error)}
		}
		if ev.GeneratedText != nil {
			// Terminal event: record the authoritative full text. The event
			// still carries the closing token, which is yielded when it is
			// ordinary text.
			s.final = *ev.GeneratedText
			s.done = true
			if !ev.Token.Special && ev.Token.Text != "" {
				return ev.Token.Text, nil
			}
			return "", io.EOF
		}
		if ev.Token.Special || ev.Token.Text == "" {
			continue
		}
		return ev.Token.Text, nil
	}

	if err := s.scanner.Err(); err != nil {
		return "", &StreamError{Provider: HuggingFace, Model: s.model, Err: err}
	}
	s.done = true
	return "", io.EOF
}

func (s *hfStream) Final() string { return s.final }

func (s *hfStream) Close() error { return s.body.Close() }
