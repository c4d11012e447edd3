package provider

// Provider represents an upstream LLM backend (OpenAI, Anthropic, a local
// model server, ...). An adapter wraps a Provider's wire protocol and
// exposes it through the LanguageModel interface so the runtime can dispatch
// to any of them uniformly.
type Provider interface {
	// Name returns the provider name for logging and telemetry
	Name() string

	// LanguageModel returns a language model by ID
	// Returns an error if the model ID is not supported
	LanguageModel(modelID string) (LanguageModel, error)
}
