// Package ollama implements the llm.Client interface against a local Ollama
// server. Non-streaming calls go through the official API client; streaming
// uses a raw HTTP request so that malformed NDJSON lines can be dropped
// instead of aborting the stream.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"sidekick/pkg/llm"
	"sidekick/pkg/llm/llmerrors"
	"sidekick/pkg/logx"
)

// DefaultHost is used when neither config nor OLLAMA_HOST name a server.
const DefaultHost = "http://localhost:11434"

// Client talks to one Ollama server with a default model.
type Client struct {
	base    *url.URL
	api     *api.Client
	httpc   *http.Client
	model   string
	logger  *logx.Logger
	dropped func(n int) // stream drop counter hook, set by WithDropCounter
}

// ResolveHost picks the server URL: explicit host, then OLLAMA_HOST, then
// the local default.
func ResolveHost(host string) string {
	if host != "" {
		return host
	}
	if env := os.Getenv("OLLAMA_HOST"); env != "" {
		if !strings.Contains(env, "://") {
			env = "http://" + env
		}
		return env
	}
	return DefaultHost
}

// New creates a client for the given host (empty selects the default
// resolution chain) and default model.
func New(host, model string) (*Client, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama client requires a model name")
	}

	parsed, err := url.Parse(ResolveHost(host))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ollama host %q: %w", host, err)
	}

	httpc := &http.Client{} // no client timeout: generation is long-lived, ctx governs
	return &Client{
		base:   parsed,
		api:    api.NewClient(parsed, httpc),
		httpc:  httpc,
		model:  model,
		logger: logx.NewLogger("ollama"),
	}, nil
}

// WithDropCounter registers a hook invoked with the number of malformed
// stream lines dropped, once per stream.
func (c *Client) WithDropCounter(fn func(n int)) *Client {
	c.dropped = fn
	return c
}

// ModelName returns the default model.
func (c *Client) ModelName() string {
	return c.model
}

func (c *Client) Backend() string {
	return "ollama"
}

func (c *Client) resolveModel(req llm.CompletionRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return c.model
}

// optionsMap converts generation options to the wire options object,
// omitting unset fields so the server applies its own defaults.
func optionsMap(o llm.GenerationOptions) map[string]any {
	opts := make(map[string]any)
	if o.Temperature != 0 {
		opts["temperature"] = o.Temperature
	}
	if o.TopP != 0 {
		opts["top_p"] = o.TopP
	}
	if o.TopK != 0 {
		opts["top_k"] = o.TopK
	}
	if o.NumCtx != 0 {
		opts["num_ctx"] = o.NumCtx
	}
	if o.NumPredict != 0 {
		opts["num_predict"] = o.NumPredict
	}
	if len(opts) == 0 {
		return nil
	}
	return opts
}

// Complete performs a non-streaming generation call.
func (c *Client) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	stream := false
	genReq := &api.GenerateRequest{
		Model:   c.resolveModel(req),
		Prompt:  req.Prompt,
		System:  req.System,
		Stream:  &stream,
		Options: optionsMap(req.Options),
	}

	start := time.Now()
	var content strings.Builder
	var final api.GenerateResponse

	err := c.api.Generate(ctx, genReq, func(resp api.GenerateResponse) error {
		content.WriteString(resp.Response)
		if resp.Done {
			final = resp
		}
		return nil
	})
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.Wrap(llmerrors.TypeOf(err), "ollama generate failed", err)
	}
	if content.Len() == 0 {
		return llm.CompletionResponse{}, llmerrors.New(llmerrors.TypeEmptyResponse, "ollama returned no content")
	}

	return llm.CompletionResponse{
		Content:          content.String(),
		Model:            genReq.Model,
		PromptTokens:     final.PromptEvalCount,
		CompletionTokens: final.EvalCount,
		Duration:         time.Since(start),
	}, nil
}

// Stream performs a streaming generation call. The returned channel carries
// zero or more chunk events followed by exactly one terminal event and is
// then closed.
//
// Each NDJSON line is decoded independently. A malformed line is dropped and
// counted, never fatal. Completion is signaled by a done:true object or by
// the transport closing; context cancellation yields a cancelled terminal.
func (c *Client) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
	stream := true
	genReq := &api.GenerateRequest{
		Model:   c.resolveModel(req),
		Prompt:  req.Prompt,
		System:  req.System,
		Stream:  &stream,
		Options: optionsMap(req.Options),
	}

	body, err := json.Marshal(genReq)
	if err != nil {
		return nil, fmt.Errorf("failed to encode generate request: %w", err)
	}

	endpoint := c.base.JoinPath("api", "generate").String()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, llmerrors.Wrap(llmerrors.TypeCancelled, "generate request cancelled", ctx.Err())
		}
		return nil, llmerrors.Wrap(llmerrors.TypeTransport, "ollama unreachable", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := readErrorBody(resp.Body)
		resp.Body.Close()
		return nil, llmerrors.New(classifyStatus(resp.StatusCode), fmt.Sprintf("generate returned %d: %s", resp.StatusCode, msg))
	}

	events := make(chan llm.StreamEvent)
	go c.consume(ctx, resp.Body, genReq.Model, events)
	return events, nil
}

// consume runs the decode loop and guarantees the one-terminal-then-close
// contract on events.
func (c *Client) consume(ctx context.Context, body io.ReadCloser, model string, events chan<- llm.StreamEvent) {
	defer close(events)
	defer body.Close()

	start := time.Now()
	var accumulated strings.Builder
	var final *api.GenerateResponse
	var streamErr string

	decoder := &streamDecoder{
		onMalformed: func(line string, err error) {
			c.logger.Debug("dropping malformed stream line (%d bytes): %v", len(line), err)
		},
	}
	decoder.onLine = func(wl wireLine) bool {
		if wl.Error != "" {
			streamErr = wl.Error
			return false
		}
		if wl.Response != "" {
			accumulated.WriteString(wl.Response)
			select {
			case events <- llm.StreamEvent{Kind: llm.EventChunk, Text: wl.Response}:
			case <-ctx.Done():
				return false
			}
		}
		if wl.Done {
			final = &wl.GenerateResponse
			return false
		}
		return true
	}

	runErr := decoder.run(body)
	if c.dropped != nil && decoder.dropCount > 0 {
		c.dropped(decoder.dropCount)
	}

	switch {
	case ctx.Err() != nil:
		events <- llm.StreamEvent{Kind: llm.EventCancelled}
	case streamErr != "":
		events <- llm.StreamEvent{
			Kind: llm.EventError,
			Err:  llmerrors.New(llmerrors.TypeBadRequest, streamErr),
		}
	case runErr != nil:
		events <- llm.StreamEvent{
			Kind: llm.EventError,
			Err:  llmerrors.Wrap(llmerrors.TypeTransport, "stream interrupted", runErr),
		}
	default:
		// A done:true line or a clean transport close both complete the
		// stream; synthesize the aggregate when the flag never arrived.
		response := llm.CompletionResponse{
			Content:  accumulated.String(),
			Model:    model,
			Duration: time.Since(start),
		}
		if final != nil {
			response.PromptTokens = final.PromptEvalCount
			response.CompletionTokens = final.EvalCount
		}
		events <- llm.StreamEvent{Kind: llm.EventDone, Response: &response}
	}
}

func classifyStatus(status int) llmerrors.ErrorType {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return llmerrors.TypeAuth
	case status == http.StatusNotFound || status == http.StatusBadRequest:
		return llmerrors.TypeBadRequest
	case status >= 500:
		return llmerrors.TypeTransport
	default:
		return llmerrors.TypeUnknown
	}
}

// readErrorBody extracts the server's error message, tolerating both JSON
// and plain-text bodies.
func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(data) == 0 {
		return "no error detail"
	}
	var obj struct {
		Error string `json:"error"`
	}
	if jsonErr := json.Unmarshal(data, &obj); jsonErr == nil && obj.Error != "" {
		return obj.Error
	}
	return strings.TrimSpace(string(data))
}

var _ llm.Client = (*Client)(nil)
