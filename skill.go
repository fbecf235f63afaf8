package ember

// Skill bundles a prompt injection with an optional tool set, specializing
// an agent for one domain. Registered skills contribute their Prompt to the
// effective system prompt (in registration order) and their Tools to the
// tool registry.
type Skill struct {
	Name        string
	Description string
	// Prompt is appended to the agent's system prompt.
	Prompt string
	// Tools are registered alongside the agent's own tools.
	Tools []Tool
}
