// Package openaicompat implements the llm.Client interface against servers
// speaking the OpenAI chat completions protocol. Local runtimes such as LM
// Studio, vLLM, and llama.cpp expose this surface, so one client covers all
// of them; only the base URL and (usually ignored) API key differ.
package openaicompat

import (
	"context"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"sidekick/pkg/llm"
	"sidekick/pkg/llm/llmerrors"
	"sidekick/pkg/logx"
)

// Client talks to one OpenAI-compatible server with a default model.
type Client struct {
	client openai.Client
	model  string
	logger *logx.Logger
}

// New creates a client for the given base URL and default model. The API key
// may be empty; most local runtimes accept any value.
func New(baseURL, apiKey, model string) (*Client, error) {
	if baseURL == "" {
		return nil, llmerrors.New(llmerrors.TypeBadRequest, "openai-compatible backend requires a base URL")
	}
	if model == "" {
		return nil, llmerrors.New(llmerrors.TypeBadRequest, "openai-compatible backend requires a model name")
	}

	opts := []option.RequestOption{option.WithBaseURL(baseURL)}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	return &Client{
		client: openai.NewClient(opts...),
		model:  model,
		logger: logx.NewLogger("openaicompat"),
	}, nil
}

// ModelName returns the default model.
func (c *Client) ModelName() string {
	return c.model
}

func (c *Client) Backend() string {
	return "openai"
}

// params builds chat completion parameters from a completion request.
// Top-k and num_ctx have no equivalents in this protocol and are ignored.
func (c *Client) params(req llm.CompletionRequest) openai.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = c.model
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
	}
	if req.Options.Temperature != 0 {
		params.Temperature = openai.Float(req.Options.Temperature)
	}
	if req.Options.TopP != 0 {
		params.TopP = openai.Float(req.Options.TopP)
	}
	if req.Options.NumPredict != 0 {
		params.MaxTokens = openai.Int(int64(req.Options.NumPredict))
	}
	return params
}

// Complete performs a non-streaming chat completion.
func (c *Client) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	start := time.Now()

	resp, err := c.client.Chat.Completions.New(ctx, c.params(req))
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.Wrap(llmerrors.TypeOf(err), "chat completion failed", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return llm.CompletionResponse{}, llmerrors.New(llmerrors.TypeEmptyResponse, "chat completion returned no choices")
	}

	content := resp.Choices[0].Message.Content
	if content == "" {
		return llm.CompletionResponse{}, llmerrors.New(llmerrors.TypeEmptyResponse, "chat completion returned empty content")
	}

	return llm.CompletionResponse{
		Content:          content,
		Model:            resp.Model,
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		Duration:         time.Since(start),
	}, nil
}

// Stream performs a streaming chat completion, adapting SSE deltas to the
// tagged event contract: ordered chunks, then exactly one terminal event.
func (c *Client) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
	sse := c.client.Chat.Completions.NewStreaming(ctx, c.params(req))

	events := make(chan llm.StreamEvent)
	go func() {
		defer close(events)
		defer sse.Close()

		start := time.Now()
		var accumulated strings.Builder
		model := req.Model
		if model == "" {
			model = c.model
		}

	consume:
		for sse.Next() {
			chunk := sse.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			accumulated.WriteString(delta)
			select {
			case events <- llm.StreamEvent{Kind: llm.EventChunk, Text: delta}:
			case <-ctx.Done():
				break consume
			}
		}

		switch {
		case ctx.Err() != nil:
			events <- llm.StreamEvent{Kind: llm.EventCancelled}
		case sse.Err() != nil:
			err := sse.Err()
			events <- llm.StreamEvent{
				Kind: llm.EventError,
				Err:  llmerrors.Wrap(llmerrors.TypeOf(err), "stream failed", err),
			}
		default:
			events <- llm.StreamEvent{
				Kind: llm.EventDone,
				Response: &llm.CompletionResponse{
					Content:  accumulated.String(),
					Model:    model,
					Duration: time.Since(start),
				},
			}
		}
	}()

	return events, nil
}

var _ llm.Client = (*Client)(nil)
