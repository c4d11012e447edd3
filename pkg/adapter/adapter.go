// Package adapter defines the capability contract (C2) the orchestrator
// depends on to turn an arbitrary upstream stream value into a
// event.Source of normalized events. Concrete adapters (OpenAI, Anthropic,
// Vercel, Mastra chunk-shape mapping) are deliberately out of scope for this
// module; it owns only the contract and the wrappers for dispatch rules (c)
// and (d). The dispatch order itself is applied by the orchestrator
// (pkg/runtime).
package adapter

import (
	"errors"

	"github.com/digitallysavvy/go-streamrt/pkg/event"
)

// Adapter binds a foreign stream shape to the event model. Detect is
// optional: an adapter without one can only be selected explicitly by name,
// never by auto-detection (spec.md §4.9).
type Adapter struct {
	Name string

	// Detect reports whether this adapter can handle the given stream
	// value. Nil means "never auto-selected".
	Detect func(stream interface{}) bool

	// Wrap adapts stream into a event.Source the orchestrator can pull
	// normalized events from. options is adapter-specific and passed
	// through from the caller's AdapterOptions verbatim.
	Wrap func(stream interface{}, options interface{}) (event.Source, error)
}

// NativeTextStream is satisfied by an upstream value that already exposes a
// pull-based textStream/fullStream shape (mirrors provider.TextStream).
// Rule (c) in spec.md §4.7 step 2 dispatches to this before falling back to
// a generic async-iterable.
type NativeTextStream interface {
	Next() (event.Event, error)
}

// Iterable is satisfied by any upstream value exposing a generic pull
// iterator of arbitrary chunks (not yet normalized). Rule (d) in spec.md
// §4.7 step 2: the last-resort dispatch before INVALID_STREAM.
type Iterable interface {
	Next() (interface{}, error)
}

// Normalizer converts one arbitrary upstream chunk into exactly one Event.
// Implemented by pkg/normalize; accepted here as an interface to avoid a
// dependency cycle between adapter and normalize.
type Normalizer interface {
	Normalize(chunk interface{}) (event.Event, error)
}

// genericSource adapts an Iterable plus a Normalizer into a event.Source.
// Chunks whose normalization returns an error are skipped and the error is
// discarded; it is not passed on to the caller.
type genericSource struct {
	it   Iterable
	norm Normalizer
}

func (g *genericSource) Next() (event.Event, error) {
	for {
		chunk, err := g.it.Next()
		if err != nil {
			return nil, err
		}
		ev, nerr := g.norm.Normalize(chunk)
		if nerr != nil {
			// Skip chunks that fail to normalize rather than surfacing
			// them as a stream error (spec.md §4.1).
			continue
		}
		return ev, nil
	}
}

func (g *genericSource) Close() error { return nil }

// WrapGeneric adapts any Iterable into a event.Source using norm to
// normalize each raw chunk. This is the fallback dispatch rule (d) from
// spec.md §4.7 step 2.
func WrapGeneric(it Iterable, norm Normalizer) event.Source {
	return &genericSource{it: it, norm: norm}
}

// nativeSource adapts a NativeTextStream (already yielding Events) into a
// event.Source directly, with no normalization pass.
type nativeSource struct {
	ts NativeTextStream
}

func (n *nativeSource) Next() (event.Event, error) { return n.ts.Next() }
func (n *nativeSource) Close() error                { return nil }

// WrapNative adapts a stream that already speaks the event model. This is
// dispatch rule (c) from spec.md §4.7 step 2.
func WrapNative(ts NativeTextStream) event.Source {
	return &nativeSource{ts: ts}
}

// ErrNotStream is the cause the orchestrator attaches to its INVALID_STREAM
// error when a stream value matches none of the dispatch rules in spec.md
// §4.7 step 2.
var ErrNotStream = errors.New("adapter: value is not a recognized stream shape")
