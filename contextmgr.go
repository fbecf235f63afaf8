package ember

import "context"

// ContextManager holds the ordered conversation buffer and enforces a token
// budget through an optional Compressor. It is owned exclusively by one
// agent and is not safe for concurrent mutation.
type ContextManager struct {
	messages   []Message
	compressor Compressor
	tokenLimit int // 0 = unbounded
}

// NewContextManager creates a manager with the given token limit
// (0 = unbounded, compression never triggers).
func NewContextManager(tokenLimit int) *ContextManager {
	return &ContextManager{tokenLimit: tokenLimit}
}

// Push appends one message.
func (c *ContextManager) Push(m Message) {
	c.messages = append(c.messages, m)
}

// PushMany appends messages in order.
func (c *ContextManager) PushMany(msgs []Message) {
	c.messages = append(c.messages, msgs...)
}

// Messages returns the current buffer. The returned slice is a read-only
// view; callers must not mutate it.
func (c *ContextManager) Messages() []Message {
	return c.messages
}

// Len returns the number of buffered messages.
func (c *ContextManager) Len() int { return len(c.messages) }

// Clear empties the buffer, keeping the configured compressor and limit.
func (c *ContextManager) Clear() {
	c.messages = c.messages[:0]
}

// UpdateSystem replaces the first system message in place, or prepends one
// if the buffer has no system message.
func (c *ContextManager) UpdateSystem(prompt string) {
	for i := range c.messages {
		if c.messages[i].Role == RoleSystem {
			c.messages[i].Content = prompt
			return
		}
	}
	c.messages = append([]Message{SystemMessage(prompt)}, c.messages...)
}

// SetCompressor installs (or replaces) the compression pipeline.
func (c *ContextManager) SetCompressor(comp Compressor) {
	c.compressor = comp
}

// RemoveCompressor disables compression without touching the buffer.
func (c *ContextManager) RemoveCompressor() {
	c.compressor = nil
}

// TokenEstimate returns the crude token estimate for the current buffer.
func (c *ContextManager) TokenEstimate() int {
	return EstimateTokens(c.messages)
}

// TokenLimit returns the configured budget (0 = unbounded).
func (c *ContextManager) TokenLimit() int { return c.tokenLimit }

// Prepare returns the messages to send to the LLM, compressing first when
// the estimate exceeds the limit. currentQuery, when non-empty, names the
// user message that triggered this call: it is pinned and re-appended if a
// compressor evicted it. Compression always keeps system messages at the
// front in their original order.
func (c *ContextManager) Prepare(ctx context.Context, currentQuery string) ([]Message, error) {
	if c.tokenLimit > 0 && c.compressor != nil && c.TokenEstimate() > c.tokenLimit {
		in := CompressionInput{
			Messages:     cloneMessages(c.messages),
			TokenLimit:   c.tokenLimit,
			CurrentQuery: currentQuery,
		}
		out, err := c.compressor.Compress(ctx, in)
		if err != nil {
			return nil, err
		}
		c.messages = out.Messages
		if currentQuery != "" && !hasUserMessage(c.messages, currentQuery) {
			c.messages = append(c.messages, UserMessage(currentQuery))
		}
	}
	return cloneMessages(c.messages), nil
}

// EstimateTokens sums the per-message estimate ⌈len(content)/4⌉ + 1.
// Intentionally crude: the contract is stability across calls, not
// accuracy. Size limits with generous margin.
func EstimateTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content)+3)/4 + 1
	}
	return total
}

func cloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

func hasUserMessage(msgs []Message, content string) bool {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser && msgs[i].Content == content {
			return true
		}
	}
	return false
}
