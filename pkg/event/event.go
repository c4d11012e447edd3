// Package event defines the canonical tagged-event vocabulary the runtime
// normalizes every upstream provider chunk into. A caller never sees a raw
// provider chunk shape; it only ever observes one of the variants below.
package event

import (
	"time"

	"github.com/digitallysavvy/go-streamrt/pkg/provider/types"
)

// Event is the closed sum type produced by the normalizer and consumed by
// the orchestrator's per-chunk pipeline. Only types declared in this package
// implement it.
type Event interface {
	// Kind names the variant ("token", "message", "data", "progress",
	// "complete", "error").
	Kind() string

	// Timestamp is when the event was produced.
	Timestamp() time.Time

	event()
}

// Token is an appendable text fragment.
type Token struct {
	Value string
	At    time.Time
}

func (Token) event()              {}
func (Token) Kind() string        { return "token" }
func (t Token) Timestamp() time.Time { return t.At }

// Message carries a structured payload such as a tool call or tool result.
// Value is opaque JSON text; the orchestrator attempts to parse it to
// recognize known tool-call/tool-result shapes but always yields the
// Message event to the consumer regardless of whether parsing succeeds.
type Message struct {
	Value string
	Role  string
	At    time.Time
}

func (Message) event()              {}
func (Message) Kind() string        { return "message" }
func (m Message) Timestamp() time.Time { return m.At }

// DataPayload is a multimodal blob reference. Exactly one of URL, Base64 or
// Bytes should be set.
type DataPayload struct {
	ContentType string
	MimeType    string
	URL         string
	Base64      string
	Bytes       []byte
	Metadata    map[string]interface{}
}

// Data carries a multimodal blob reference.
type Data struct {
	Payload DataPayload
	At      time.Time
}

func (Data) event()              {}
func (Data) Kind() string        { return "data" }
func (d Data) Timestamp() time.Time { return d.At }

// Progress reports either a percent complete or a (step, totalSteps) pair.
type Progress struct {
	Percent    *float64
	Step       *int
	TotalSteps *int
	Message    string
	At         time.Time
}

func (Progress) event()              {}
func (Progress) Kind() string        { return "progress" }
func (p Progress) Timestamp() time.Time { return p.At }

// Complete is the successful terminal event. Exactly one Complete or Error
// terminates every session. FinishReason is the provider's raw finish
// reason mapped onto the SDK's vocabulary; it is empty when the upstream
// chunk carried none.
type Complete struct {
	FinishReason types.FinishReason
	At           time.Time
}

func (Complete) event()              {}
func (Complete) Kind() string        { return "complete" }
func (c Complete) Timestamp() time.Time { return c.At }

// Error is the failing terminal event (or, mid-stream, a chunk that
// signals an upstream error that the orchestrator must throw).
type Error struct {
	Err    error
	Reason string
	At     time.Time
}

func (Error) event()              {}
func (Error) Kind() string        { return "error" }
func (e Error) Timestamp() time.Time { return e.At }
func (e Error) Unwrap() error        { return e.Err }

// Source is anything the orchestrator can pull normalized events from: an
// adapter-wrapped upstream, a replayed event store, or a test fixture.
// Next returns io.EOF when exhausted.
type Source interface {
	Next() (Event, error)
	Close() error
}
