package ember

import (
	"context"
	"strings"
	"testing"
)

func TestEstimateTokens(t *testing.T) {
	// ⌈len/4⌉ + 1 per message; empty content still costs 1.
	cases := []struct {
		content string
		want    int
	}{
		{"", 1},
		{"abc", 2},     // ceil(3/4)=1, +1
		{"abcd", 2},    // 1+1
		{"abcde", 3},   // 2+1
		{strings.Repeat("x", 40), 11},
	}
	for _, c := range cases {
		got := EstimateTokens([]Message{UserMessage(c.content)})
		if got != c.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", c.content, got, c.want)
		}
	}

	multi := []Message{UserMessage("abcd"), AssistantMessage("abcd")}
	if got := EstimateTokens(multi); got != 4 {
		t.Errorf("two-message estimate = %d, want 4", got)
	}
}

func TestUpdateSystemReplacesInPlace(t *testing.T) {
	cm := NewContextManager(0)
	cm.Push(SystemMessage("old"))
	cm.Push(UserMessage("hi"))

	cm.UpdateSystem("new")

	msgs := cm.Messages()
	if len(msgs) != 2 || msgs[0].Role != RoleSystem || msgs[0].Content != "new" {
		t.Fatalf("system message not replaced in place: %+v", msgs)
	}
}

func TestUpdateSystemPrependsWhenAbsent(t *testing.T) {
	cm := NewContextManager(0)
	cm.Push(UserMessage("hi"))

	cm.UpdateSystem("sys")

	msgs := cm.Messages()
	if len(msgs) != 2 || msgs[0].Role != RoleSystem || msgs[1].Role != RoleUser {
		t.Fatalf("system message not prepended: %+v", msgs)
	}
}

func TestPrepareWithoutCompressorIsIdentity(t *testing.T) {
	cm := NewContextManager(1) // tiny limit, but no compressor
	cm.Push(SystemMessage("sys"))
	cm.Push(UserMessage(strings.Repeat("long ", 50)))

	out, err := cm.Prepare(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("prepare changed message count: %d", len(out))
	}
}

func TestPrepareReturnsClone(t *testing.T) {
	cm := NewContextManager(0)
	cm.Push(SystemMessage("sys"))

	out, err := cm.Prepare(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	out[0].Content = "mutated"
	if cm.Messages()[0].Content != "sys" {
		t.Error("prepare leaked the internal buffer")
	}
}

func TestPrepareTriggersCompression(t *testing.T) {
	cm := NewContextManager(10)
	cm.SetCompressor(NewSlidingWindow(2))
	cm.Push(SystemMessage("sys"))
	for i := 0; i < 6; i++ {
		cm.Push(UserMessage(strings.Repeat("a", 20)))
	}

	out, err := cm.Prepare(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	// system + 2 kept conversation messages
	if len(out) != 3 {
		t.Fatalf("compressed length = %d, want 3", len(out))
	}
	if out[0].Role != RoleSystem {
		t.Error("system message not at front after compression")
	}
}

func TestPrepareKeepsPinnedQuery(t *testing.T) {
	cm := NewContextManager(5)
	// A window of 1 that will evict everything but the last message; then
	// we pin a query that the window dropped.
	cm.SetCompressor(NewSlidingWindow(1))
	cm.Push(SystemMessage("sys"))
	cm.Push(UserMessage("the pinned question"))
	cm.Push(AssistantMessage(strings.Repeat("chatter ", 30)))

	out, err := cm.Prepare(context.Background(), "the pinned question")
	if err != nil {
		t.Fatal(err)
	}
	last := out[len(out)-1]
	if last.Role != RoleUser || last.Content != "the pinned question" {
		t.Fatalf("pinned user message missing after compression: %+v", out)
	}
}

func TestSystemPromptStability(t *testing.T) {
	// Property: after pushes and compression, the first message is still
	// the originally installed system message.
	cm := NewContextManager(20)
	cm.SetCompressor(NewSlidingWindow(3))
	cm.Push(SystemMessage("the prompt"))

	for i := 0; i < 50; i++ {
		cm.Push(UserMessage(strings.Repeat("q", 10)))
		cm.Push(AssistantMessage(strings.Repeat("a", 10)))
		if i%5 == 0 {
			if _, err := cm.Prepare(context.Background(), ""); err != nil {
				t.Fatal(err)
			}
		}
	}

	first := cm.Messages()[0]
	if first.Role != RoleSystem || first.Content != "the prompt" {
		t.Fatalf("system prompt unstable: %+v", first)
	}
}

func TestClearKeepsCompressor(t *testing.T) {
	cm := NewContextManager(10)
	cm.SetCompressor(NewSlidingWindow(1))
	cm.Push(UserMessage("x"))
	cm.Clear()
	if cm.Len() != 0 {
		t.Error("clear did not empty the buffer")
	}
	if cm.compressor == nil {
		t.Error("clear dropped the compressor")
	}
}
