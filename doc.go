// Package ember is a ReAct-style agent runtime: a closed-loop control system
// that drives an LLM through iterative think → act → observe cycles.
//
// The core pieces compose around the ReactAgent:
//
//   - [Provider] — LLM backend (chat, tool calling, streaming);
//     provider/openaicompat implements it for any OpenAI-compatible
//     chat completions API
//   - [Tool] / [ToolManager] — execution substrate with per-call timeout,
//     retry, and semaphore-bounded concurrency
//   - [ContextManager] — ordered conversation buffer enforcing a token
//     budget via a pluggable [Compressor] pipeline (sliding window,
//     LLM summary, hybrid)
//   - [Store] / [Checkpointer] — long-term memory and session snapshots
//     (store/memstore, store/filestore, store/sqlite, store/postgres)
//   - [TaskManager] — dependency DAG driving the three-phase planning mode
//   - sub-agents — dispatched through a registry lease so each sub-agent
//     has exactly one invoker at a time
//
// Agents run in one-shot mode (Execute), persistent mode (Chat), or as an
// ordered event stream (ExecuteStream / ChatStream) emitting token deltas,
// tool calls, tool results, and a terminal final answer.
//
// # Quick start
//
//	provider := openaicompat.NewProvider(apiKey, "gpt-4o-mini", "https://api.openai.com/v1")
//	agent := ember.New("assistant", provider,
//		ember.WithSystemPrompt("You are a precise calculator."),
//		ember.EnableTools(),
//		ember.WithTools(mathTool),
//	)
//	answer, err := agent.Execute(ctx, "What is (12+3)*2?")
package ember
