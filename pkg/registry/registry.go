// Package registry implements the process-wide adapter registry: a
// name -> adapter mapping used to dispatch an upstream stream to the
// Adapter that knows how to wrap it into the runtime's event model.
package registry

import (
	"fmt"
	"sync"

	"github.com/digitallysavvy/go-streamrt/pkg/event"
	"github.com/digitallysavvy/go-streamrt/pkg/provider"
)

// Global registry instance
var globalRegistry = NewRegistry()

// Adapter wraps an upstream stream value into a normalized event.Source
// (Wrap) and can resolve LanguageModels through its Provider.
// Detect is optional: adapters without it are never chosen by auto-detection,
// only by explicit name.
type Adapter struct {
	Name string

	// Detect reports whether this adapter can handle the given stream value.
	// Nil means the adapter must be selected explicitly by name.
	Detect func(stream interface{}) bool

	// Provider resolves the adapter to a concrete LanguageModel implementation.
	Provider provider.Provider

	// Wrap turns an upstream stream value into a normalized event.Source.
	// Nil means this adapter only resolves LanguageModels (Provider) and
	// cannot be used to wrap an already-open stream directly.
	Wrap func(stream interface{}, options interface{}) (event.Source, error)
}

// Registry manages adapters and model resolution
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]*Adapter
	aliases  map[string]string // model alias -> adapter:model
}

// NewRegistry creates a new registry
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]*Adapter),
		aliases:  make(map[string]string),
	}
}

// Register adds an adapter under a unique name. Returns an error if the name
// is already taken; names are never silently overwritten.
func (r *Registry) Register(a *Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[a.Name]; exists {
		return fmt.Errorf("registry: adapter %q already registered", a.Name)
	}
	r.adapters[a.Name] = a
	return nil
}

// Get returns a registered adapter by name.
func (r *Registry) Get(name string) (*Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("registry: adapter not found: %s", name)
	}
	return a, nil
}

// GetProvider returns the provider backing a registered adapter by name.
func (r *Registry) GetProvider(name string) (provider.Provider, error) {
	a, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return a.Provider, nil
}

// Detect returns the unique adapter whose Detect function matches stream.
// Adapters with a nil Detect are skipped. Fails if zero or more than one
// adapter matches.
func (r *Registry) Detect(stream interface{}) (*Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var match *Adapter
	for _, a := range r.adapters {
		if a.Detect == nil {
			continue
		}
		if a.Detect(stream) {
			if match != nil {
				return nil, fmt.Errorf("registry: ambiguous adapter match between %q and %q", match.Name, a.Name)
			}
			match = a
		}
	}
	if match == nil {
		return nil, fmt.Errorf("registry: no adapter matched stream")
	}
	return match, nil
}

// WrapStream resolves name to a registered adapter and uses its Wrap
// function to normalize stream into an event.Source. Fails if the
// adapter has no Wrap function.
func (r *Registry) WrapStream(name string, stream interface{}, options interface{}) (event.Source, error) {
	a, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	if a.Wrap == nil {
		return nil, fmt.Errorf("registry: adapter %q does not support stream wrapping", name)
	}
	return a.Wrap(stream, options)
}

// DetectAndWrap auto-detects the adapter for stream and wraps it into an
// event.Source in one call.
func (r *Registry) DetectAndWrap(stream interface{}, options interface{}) (event.Source, error) {
	a, err := r.Detect(stream)
	if err != nil {
		return nil, err
	}
	if a.Wrap == nil {
		return nil, fmt.Errorf("registry: adapter %q does not support stream wrapping", a.Name)
	}
	return a.Wrap(stream, options)
}

// RegisterAlias registers a model alias
// Example: RegisterAlias("gpt-4", "openai:gpt-4")
func (r *Registry) RegisterAlias(alias, target string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[alias] = target
}

// ResolveLanguageModel resolves a model string to a LanguageModel
// Supports formats:
//   - "gpt-4" -> uses registered aliases
//   - "openai:gpt-4" -> adapter:model format
func (r *Registry) ResolveLanguageModel(model string) (provider.LanguageModel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if target, ok := r.aliases[model]; ok {
		model = target
	}

	adapterName, modelID, err := parseModelString(model)
	if err != nil {
		return nil, err
	}

	a, ok := r.adapters[adapterName]
	if !ok {
		return nil, fmt.Errorf("registry: adapter not found: %s", adapterName)
	}

	return a.Provider.LanguageModel(modelID)
}

// ListAdapters returns all registered adapter names
func (r *Registry) ListAdapters() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}

// ListAliases returns all registered aliases
func (r *Registry) ListAliases() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	aliases := make(map[string]string, len(r.aliases))
	for k, v := range r.aliases {
		aliases[k] = v
	}
	return aliases
}

// parseModelString parses a model string into adapter name and model ID
// Formats supported:
//   - "adapter:model" -> ("adapter", "model")
//   - "model" -> error, no colon found
func parseModelString(model string) (adapterName, modelID string, err error) {
	for i := 0; i < len(model); i++ {
		if model[i] == ':' {
			return model[:i], model[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("invalid model string format (expected 'adapter:model'): %s", model)
}

// Global registry functions

// Register adds an adapter to the global registry.
func Register(a *Adapter) error {
	return globalRegistry.Register(a)
}

// Get returns an adapter from the global registry.
func Get(name string) (*Adapter, error) {
	return globalRegistry.Get(name)
}

// Detect runs auto-detection against the global registry.
func Detect(stream interface{}) (*Adapter, error) {
	return globalRegistry.Detect(stream)
}

// RegisterAlias registers a model alias in the global registry
func RegisterAlias(alias, target string) {
	globalRegistry.RegisterAlias(alias, target)
}

// ResolveLanguageModel resolves a model string using the global registry
func ResolveLanguageModel(model string) (provider.LanguageModel, error) {
	return globalRegistry.ResolveLanguageModel(model)
}

// WrapStream wraps stream using a named adapter in the global registry.
func WrapStream(name string, stream interface{}, options interface{}) (event.Source, error) {
	return globalRegistry.WrapStream(name, stream, options)
}

// DetectAndWrap auto-detects and wraps stream using the global registry.
func DetectAndWrap(stream interface{}, options interface{}) (event.Source, error) {
	return globalRegistry.DetectAndWrap(stream, options)
}

// GetGlobalRegistry returns the global registry instance
func GetGlobalRegistry() *Registry {
	return globalRegistry
}
