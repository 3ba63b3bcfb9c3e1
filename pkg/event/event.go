// Package event defines the closed set of events emitted during a
// simulation run: per-iteration progress steps, one outcome per iteration,
// a single finished marker, and at most one run-level error. Payload field
// names are the wire schema consumed by stream observers.
package event

import (
	"encoding/json"
	"fmt"
)

// Kind identifies one of the four stream event types.
type Kind string

const (
	KindProgress Kind = "progress"
	KindOutcome  Kind = "outcome"
	KindFinished Kind = "finished"
	KindRunError Kind = "run-error"
)

// Status is an HTTP status code that may also be the literal "Error"
// (a failure with no observed code) or "Unknown" (no response yet).
type Status int

const (
	// StatusUnknown is the zero value, rendered as "Unknown".
	StatusUnknown Status = 0

	// StatusError marks an iteration that failed before a status code
	// was observed, rendered as "Error".
	StatusError Status = -1
)

// IsCode reports whether the status carries a real HTTP status code.
func (s Status) IsCode() bool {
	return s > 0
}

func (s Status) String() string {
	switch {
	case s == StatusError:
		return "Error"
	case s <= 0:
		return "Unknown"
	default:
		return fmt.Sprintf("%d", int(s))
	}
}

// MarshalJSON emits a JSON number for real codes and the strings
// "Error"/"Unknown" otherwise, matching what observers render.
func (s Status) MarshalJSON() ([]byte, error) {
	if s.IsCode() {
		return json.Marshal(int(s))
	}
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts either a number or the string forms.
func (s *Status) UnmarshalJSON(data []byte) error {
	var code int
	if err := json.Unmarshal(data, &code); err == nil {
		*s = Status(code)
		return nil
	}
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return fmt.Errorf("invalid status: %s", string(data))
	}
	switch text {
	case "Error":
		*s = StatusError
	case "Unknown", "":
		*s = StatusUnknown
	default:
		return fmt.Errorf("invalid status string: %q", text)
	}
	return nil
}

// Class buckets a status for presentation.
type Class string

const (
	ClassSuccess     Class = "success"
	ClassRedirect    Class = "redirect"
	ClassClientError Class = "client-error"
	ClassServerError Class = "server-error"
	ClassOther       Class = "other"
)

// Classify maps a status to its presentation class. An explicit "Error"
// status is treated as a client error, like a rejected request.
func Classify(s Status) Class {
	switch {
	case s == StatusError:
		return ClassClientError
	case s >= 200 && s < 300:
		return ClassSuccess
	case s >= 300 && s < 400:
		return ClassRedirect
	case s >= 400 && s < 500:
		return ClassClientError
	case s >= 500 && s < 600:
		return ClassServerError
	default:
		return ClassOther
	}
}

// NetworkDetail captures one observed network exchange. The field set is a
// superset shared by step-level and outcome-level detail so a single
// detail view can serve both.
type NetworkDetail struct {
	URL                string            `json:"url"`
	Method             string            `json:"method"`
	RequestHeaders     map[string]string `json:"requestHeaders,omitempty"`
	RequestBody        any               `json:"requestBody,omitempty"`
	ResponseStatus     Status            `json:"responseStatus"`
	ResponseStatusText string            `json:"responseStatusText,omitempty"`
	ResponseHeaders    map[string]string `json:"responseHeaders,omitempty"`
	ResponseSnippet    string            `json:"responseBodySnippet,omitempty"`
	Error              string            `json:"error,omitempty"`
}

// Progress is a transient notification about an iteration's in-flight
// activity. Details is set only when the step corresponds to an observable
// network exchange.
type Progress struct {
	ID      int            `json:"id"`
	Message string         `json:"message"`
	Details *NetworkDetail `json:"details,omitempty"`
}

// Outcome is the single terminal record of one iteration. Invariant:
// Status is StatusError whenever Error is set and no real code was observed.
type Outcome struct {
	ID              int               `json:"id"`
	URL             string            `json:"url"`
	Method          string            `json:"method"`
	Status          Status            `json:"status"`
	StatusText      string            `json:"statusText"`
	Timestamp       int64             `json:"timestamp"`
	RequestBody     any               `json:"requestBody,omitempty"`
	RequestHeaders  map[string]string `json:"requestHeaders,omitempty"`
	ResponseHeaders map[string]string `json:"responseHeaders,omitempty"`
	ResponseSnippet string            `json:"responseDataSnippet,omitempty"`
	Error           string            `json:"error,omitempty"`
}

// Finished terminates a run; exactly one is delivered per started run.
type Finished struct {
	Message string `json:"message"`
}

// RunError reports an unrecoverable orchestration failure, at most once
// per run. Iteration-level failures travel inside Outcome instead.
type RunError struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// Envelope pairs a kind tag with its payload for relay and wire encoding.
type Envelope struct {
	Kind    Kind
	Payload any
}

// NewProgress wraps a Progress payload.
func NewProgress(p Progress) Envelope { return Envelope{Kind: KindProgress, Payload: p} }

// NewOutcome wraps an Outcome payload.
func NewOutcome(o Outcome) Envelope { return Envelope{Kind: KindOutcome, Payload: o} }

// NewFinished wraps a Finished payload.
func NewFinished(f Finished) Envelope { return Envelope{Kind: KindFinished, Payload: f} }

// NewRunError wraps a RunError payload.
func NewRunError(e RunError) Envelope { return Envelope{Kind: KindRunError, Payload: e} }

// envelopeWire is the serialized form used by the WebSocket stream.
type envelopeWire struct {
	Kind Kind            `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalJSON encodes the envelope as {"type": "...", "data": {...}}.
func (e Envelope) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelopeWire{Kind: e.Kind, Data: data})
}

// UnmarshalJSON decodes the wire form, rejecting unknown kinds.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var wire envelopeWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	payload, err := Decode(wire.Kind, wire.Data)
	if err != nil {
		return err
	}
	e.Kind = wire.Kind
	e.Payload = payload
	return nil
}

// Decode parses a payload for the given kind. Unknown kinds are rejected
// rather than passed through unchecked.
func Decode(kind Kind, data []byte) (any, error) {
	switch kind {
	case KindProgress:
		var p Progress
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case KindOutcome:
		var o Outcome
		if err := json.Unmarshal(data, &o); err != nil {
			return nil, err
		}
		return o, nil
	case KindFinished:
		var f Finished
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, err
		}
		return f, nil
	case KindRunError:
		var r RunError
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown event kind: %q", kind)
	}
}
