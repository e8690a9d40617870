// Package llm defines the completion client interface shared by all inference
// backends, plus the request, response, and stream event types that flow
// through it.
package llm

import (
	"context"
	"time"
)

// Temperature presets. Classification and planning want near-deterministic
// output; chat and code generation run warmer.
const (
	TemperatureDefault       = 0.7
	TemperatureDeterministic = 0.2
)

// GenerationOptions maps onto the inference request's options object.
// Zero values mean "use the backend default" and are omitted from the wire.
type GenerationOptions struct {
	Temperature float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	TopP        float64 `json:"top_p,omitempty" yaml:"top_p,omitempty"`
	TopK        int     `json:"top_k,omitempty" yaml:"top_k,omitempty"`
	NumCtx      int     `json:"num_ctx,omitempty" yaml:"num_ctx,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty" yaml:"num_predict,omitempty"`
}

// Merge returns o overlaid with any non-zero fields from other.
func (o GenerationOptions) Merge(other GenerationOptions) GenerationOptions {
	merged := o
	if other.Temperature != 0 {
		merged.Temperature = other.Temperature
	}
	if other.TopP != 0 {
		merged.TopP = other.TopP
	}
	if other.TopK != 0 {
		merged.TopK = other.TopK
	}
	if other.NumCtx != 0 {
		merged.NumCtx = other.NumCtx
	}
	if other.NumPredict != 0 {
		merged.NumPredict = other.NumPredict
	}
	return merged
}

// CompletionRequest is a single-turn generation request. System carries the
// instruction preamble; Prompt carries the full assembled user prompt.
type CompletionRequest struct {
	Model   string
	System  string
	Prompt  string
	Options GenerationOptions
}

// CompletionResponse is the aggregate result of a completion call.
type CompletionResponse struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	Duration         time.Duration
}

// EventKind tags a StreamEvent. Every stream yields zero or more chunk
// events followed by exactly one terminal event (done, error, or cancelled).
type EventKind string

const (
	EventChunk     EventKind = "chunk"
	EventDone      EventKind = "done"
	EventError     EventKind = "error"
	EventCancelled EventKind = "cancelled"
)

// Terminal reports whether the kind ends a stream.
func (k EventKind) Terminal() bool {
	return k == EventDone || k == EventError || k == EventCancelled
}

// StreamEvent is one tagged event on a completion stream. Text is set for
// chunk events, Err for error events, and Response for the done event's
// final aggregate.
type StreamEvent struct {
	Kind     EventKind
	Text     string
	Err      error
	Response *CompletionResponse
}

// Client is implemented by each inference backend.
//
// Stream returns a channel that is closed after its single terminal event.
// Cancelling ctx produces a cancelled terminal event, not an error return.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error)
	ModelName() string
	Backend() string
}
