// Package testkit provides scripted collaborators for exercising the copilot
// pipeline in tests without a live model backend.
package testkit

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"sidekick/pkg/llm"
)

// Turn scripts one model exchange. For Complete, Content or Err is returned.
// For Stream, Chunks (or Content as a single chunk) are emitted, then the
// terminal event: Err if set, a blocked-until-cancel wait if HangAfterChunks,
// otherwise Done.
type Turn struct {
	Content         string
	Chunks          []string
	Err             error
	HangAfterChunks bool
}

// ScriptedClient replays a queue of scripted turns and records every request
// it receives. Requests beyond the script fail loudly.
type ScriptedClient struct {
	mu       sync.Mutex
	model    string
	turns    []Turn
	requests []llm.CompletionRequest
}

// NewScriptedClient returns a client that will play the given turns in order.
func NewScriptedClient(model string, turns ...Turn) *ScriptedClient {
	return &ScriptedClient{model: model, turns: turns}
}

// Enqueue appends turns to the script.
func (c *ScriptedClient) Enqueue(turns ...Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, turns...)
}

// Requests returns a copy of every request the client has seen, in order.
func (c *ScriptedClient) Requests() []llm.CompletionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llm.CompletionRequest, len(c.requests))
	copy(out, c.requests)
	return out
}

// LastPrompt returns the prompt of the most recent request, or "".
func (c *ScriptedClient) LastPrompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.requests) == 0 {
		return ""
	}
	return c.requests[len(c.requests)-1].Prompt
}

// Remaining reports how many scripted turns are unconsumed.
func (c *ScriptedClient) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.turns)
}

func (c *ScriptedClient) next(req llm.CompletionRequest) (Turn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if len(c.turns) == 0 {
		return Turn{}, fmt.Errorf("script exhausted: unexpected request with prompt %q", truncatePrompt(req.Prompt))
	}
	turn := c.turns[0]
	c.turns = c.turns[1:]
	return turn, nil
}

func (c *ScriptedClient) Complete(_ context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	turn, err := c.next(req)
	if err != nil {
		return llm.CompletionResponse{}, err
	}
	if turn.Err != nil {
		return llm.CompletionResponse{}, turn.Err
	}
	return llm.CompletionResponse{
		Content: turn.Content,
		Model:   c.model,
	}, nil
}

func (c *ScriptedClient) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
	turn, err := c.next(req)
	if err != nil {
		return nil, err
	}

	chunks := turn.Chunks
	if len(chunks) == 0 && turn.Content != "" {
		chunks = []string{turn.Content}
	}

	events := make(chan llm.StreamEvent)
	go func() {
		defer close(events)
		var full strings.Builder
		for _, chunk := range chunks {
			full.WriteString(chunk)
			select {
			case events <- llm.StreamEvent{Kind: llm.EventChunk, Text: chunk}:
			case <-ctx.Done():
				events <- llm.StreamEvent{Kind: llm.EventCancelled}
				return
			}
		}

		switch {
		case turn.HangAfterChunks:
			<-ctx.Done()
			events <- llm.StreamEvent{Kind: llm.EventCancelled}
		case turn.Err != nil:
			events <- llm.StreamEvent{Kind: llm.EventError, Err: turn.Err}
		default:
			events <- llm.StreamEvent{Kind: llm.EventDone, Response: &llm.CompletionResponse{
				Content: full.String(),
				Model:   c.model,
			}}
		}
	}()
	return events, nil
}

func (c *ScriptedClient) ModelName() string {
	return c.model
}

func (c *ScriptedClient) Backend() string {
	return "scripted"
}

func truncatePrompt(p string) string {
	if len(p) > 80 {
		return p[:80] + "..."
	}
	return p
}

var _ llm.Client = (*ScriptedClient)(nil)
