package testkit

import (
	"strings"
	"time"

	"sidekick/pkg/llm"
)

// CollectEvents drains an event channel and returns everything it carried.
func CollectEvents(events <-chan llm.StreamEvent) []llm.StreamEvent {
	var out []llm.StreamEvent
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

// TextOf concatenates the chunk texts from a slice of events.
func TextOf(events []llm.StreamEvent) string {
	var b strings.Builder
	for _, ev := range events {
		if ev.Kind == llm.EventChunk {
			b.WriteString(ev.Text)
		}
	}
	return b.String()
}

// TerminalOf returns the single terminal event, or false if there is none.
func TerminalOf(events []llm.StreamEvent) (llm.StreamEvent, bool) {
	for _, ev := range events {
		if ev.Kind.Terminal() {
			return ev, true
		}
	}
	return llm.StreamEvent{}, false
}

// Eventually polls cond until it returns true or the deadline passes.
func Eventually(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
