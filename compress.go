package ember

import (
	"context"
	"fmt"
	"strings"
)

// CompressionInput is what a Compressor receives from the ContextManager.
type CompressionInput struct {
	Messages     []Message
	TokenLimit   int
	CurrentQuery string
}

// CompressionOutput is a compressed view of the conversation. Evicted holds
// the messages removed this pass, in their original order.
type CompressionOutput struct {
	Messages []Message
	Evicted  []Message
}

// Compressor reduces the estimated token count of a conversation while
// keeping every system message at the front of the buffer in original order.
type Compressor interface {
	Compress(ctx context.Context, in CompressionInput) (CompressionOutput, error)
}

// splitSystem partitions messages into system messages and conversation
// messages, each in original order.
func splitSystem(messages []Message) (system, conversation []Message) {
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m)
		} else {
			conversation = append(conversation, m)
		}
	}
	return system, conversation
}

// --- Sliding window ---

// SlidingWindowCompressor keeps only the most recent Window conversation
// messages; system messages are always preserved. With a conversation at or
// under the window it is the identity.
type SlidingWindowCompressor struct {
	Window int
}

// NewSlidingWindow creates a sliding-window compressor keeping the last
// window conversation messages.
func NewSlidingWindow(window int) *SlidingWindowCompressor {
	return &SlidingWindowCompressor{Window: window}
}

func (s *SlidingWindowCompressor) Compress(_ context.Context, in CompressionInput) (CompressionOutput, error) {
	system, conv := splitSystem(in.Messages)
	if len(conv) <= s.Window {
		return CompressionOutput{Messages: in.Messages}, nil
	}
	cut := len(conv) - s.Window
	out := make([]Message, 0, len(system)+s.Window)
	out = append(out, system...)
	out = append(out, conv[cut:]...)
	return CompressionOutput{Messages: out, Evicted: conv[:cut]}, nil
}

var _ Compressor = (*SlidingWindowCompressor)(nil)

// --- LLM summary ---

// summaryLabel prefixes the synthetic system message a SummaryCompressor
// inserts in place of the evicted head of the conversation.
const summaryLabel = "[summary]"

// SummaryPromptFunc renders the messages to summarize into the prompt sent
// to the summarizing LLM.
type SummaryPromptFunc func(messages []Message) string

// DefaultSummaryPrompt renders each message as "role: content" and asks for
// a compact summary preserving facts, decisions, and results.
func DefaultSummaryPrompt(messages []Message) string {
	var b strings.Builder
	b.WriteString("Summarize the following conversation history concisely. ")
	b.WriteString("Preserve key facts, data values, decisions, tool results, and errors. ")
	b.WriteString("Omit redundant detail.\n\n")
	for _, m := range messages {
		b.WriteString(m.Role)
		b.WriteString(": ")
		if m.Content != "" {
			b.WriteString(m.Content)
		}
		for _, tc := range m.ToolCalls {
			fmt.Fprintf(&b, " [called %s(%s)]", tc.Name, string(tc.Args))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// SummaryCompressor folds the older portion of the conversation into a
// single LLM-written summary, keeping the KeepRecent most recent
// conversation messages verbatim. The summary is inserted as a synthetic
// system message labeled "[summary]" between the original system messages
// and the kept tail.
type SummaryCompressor struct {
	provider   Provider
	prompt     SummaryPromptFunc
	keepRecent int
}

// NewSummaryCompressor creates a summary compressor. prompt may be nil, in
// which case DefaultSummaryPrompt is used.
func NewSummaryCompressor(provider Provider, prompt SummaryPromptFunc, keepRecent int) *SummaryCompressor {
	if prompt == nil {
		prompt = DefaultSummaryPrompt
	}
	return &SummaryCompressor{provider: provider, prompt: prompt, keepRecent: keepRecent}
}

func (s *SummaryCompressor) Compress(ctx context.Context, in CompressionInput) (CompressionOutput, error) {
	system, conv := splitSystem(in.Messages)
	if len(conv) <= s.keepRecent {
		return CompressionOutput{Messages: in.Messages}, nil
	}
	cut := len(conv) - s.keepRecent
	head, tail := conv[:cut], conv[cut:]

	summary, err := ChatSimple(ctx, s.provider, []Message{UserMessage(s.prompt(head))})
	if err != nil {
		return CompressionOutput{}, err
	}

	out := make([]Message, 0, len(system)+1+len(tail))
	out = append(out, system...)
	out = append(out, SystemMessage(summaryLabel+"\n"+summary))
	out = append(out, tail...)
	return CompressionOutput{Messages: out, Evicted: head}, nil
}

var _ Compressor = (*SummaryCompressor)(nil)

// --- Hybrid pipeline ---

// HybridCompressor chains compressors: each stage's output becomes the next
// stage's input, and evicted messages accumulate across stages. Order
// matters; window-then-summarize is the typical pipeline.
type HybridCompressor struct {
	stages []Compressor
}

// NewHybrid builds an ordered compression pipeline.
func NewHybrid(stages ...Compressor) *HybridCompressor {
	return &HybridCompressor{stages: stages}
}

func (h *HybridCompressor) Compress(ctx context.Context, in CompressionInput) (CompressionOutput, error) {
	messages := in.Messages
	var evicted []Message
	for _, stage := range h.stages {
		out, err := stage.Compress(ctx, CompressionInput{
			Messages:     messages,
			TokenLimit:   in.TokenLimit,
			CurrentQuery: in.CurrentQuery,
		})
		if err != nil {
			return CompressionOutput{}, err
		}
		messages = out.Messages
		evicted = append(evicted, out.Evicted...)
	}
	return CompressionOutput{Messages: messages, Evicted: evicted}, nil
}

var _ Compressor = (*HybridCompressor)(nil)
