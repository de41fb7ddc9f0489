// Package wire carries the Ganymede object/field service over a
// websocket. The server side hosts one remote.Session per connection and
// keeps the object, field and wizard handles it hands out in per-connection
// tables; the client side implements remote.Session by proxy.
package wire

import (
	"encoding/json"

	"github.com/matthewbaird/ganyclient/internal/remote"
	"github.com/matthewbaird/ganyclient/internal/schema"
)

// ── Client → Server messages ────────────────────────────────────────────────

// ClientMessage is the envelope for all client-to-server messages.
type ClientMessage struct {
	Type   string          `json:"type"` // "call", "ping"
	ID     string          `json:"id"`   // Client-assigned request ID
	Method string          `json:"method,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// ── Server → Client messages ────────────────────────────────────────────────

// ServerMessage is the envelope for all server-to-client messages.
type ServerMessage struct {
	Type      string `json:"type"`                 // "session", "result", "error", "pong"
	RequestID string `json:"request_id,omitempty"` // Echoes client ID
	Data      any    `json:"data,omitempty"`
}

// inbound is a ServerMessage as the client reads it.
type inbound struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// SessionData is sent once when a connection opens.
type SessionData struct {
	SessionID string `json:"session_id"`
}

// ErrorData carries a failed call.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	CodeInvalid  = "invalid_data"
	CodeUnknown  = "unknown_method"
	CodeReleased = "released"
	CodeHandle   = "unknown_handle"
	CodeFailed   = "call_failed"
)

// ── Call payloads ───────────────────────────────────────────────────────────

// BaseArgs names an object base.
type BaseArgs struct {
	Base uint16 `json:"base"`
}

// InvidArgs names an object.
type InvidArgs struct {
	Invid schema.Invid `json:"invid"`
}

// QueryArgs is the payload of query_by_type.
type QueryArgs struct {
	Base         uint16 `json:"base"`
	EditableOnly bool   `json:"editable_only,omitempty"`
}

// TextArgs carries a single string.
type TextArgs struct {
	Text string `json:"text"`
}

// ObjectArgs addresses an object handle.
type ObjectArgs struct {
	Object string `json:"object"`
}

// FieldArgs addresses a field of an object handle, or an existing field
// handle.
type FieldArgs struct {
	Object string `json:"object,omitempty"`
	Field  string `json:"field,omitempty"`
	ID     uint16 `json:"id,omitempty"`
}

// ValueArgs carries a value for a field handle.
type ValueArgs struct {
	Field  string  `json:"field"`
	Index  int     `json:"index,omitempty"`
	Value  Value   `json:"value"`
	Values []Value `json:"values,omitempty"`
}

// MatrixArgs sets one matrix entry.
type MatrixArgs struct {
	Field string `json:"field"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ResumeArgs continues a wizard. Nil answers cancel it.
type ResumeArgs struct {
	Continuation string            `json:"continuation"`
	Answers      map[string]string `json:"answers"`
}

// ── Reply payloads ──────────────────────────────────────────────────────────

// ObjectRef describes an object handle held by the server.
type ObjectRef struct {
	Handle   string       `json:"handle"`
	Invid    schema.Invid `json:"invid"`
	Editable bool         `json:"editable"`
}

// FieldRef describes a field handle held by the server.
type FieldRef struct {
	Handle string `json:"handle"`
	ID     uint16 `json:"id"`
}

// Event is a rescan or relabel instruction.
type Event struct {
	Type   string       `json:"type"` // "rescan", "relabel"
	Invid  schema.Invid `json:"invid"`
	All    bool         `json:"all,omitempty"`
	Fields []uint16     `json:"fields,omitempty"`
	Label  string       `json:"label,omitempty"`
}

// Result is a remote.Result on the wire. A pending wizard is named by
// Continuation.
type Result struct {
	Outcome      string         `json:"outcome"`
	Reason       string         `json:"reason,omitempty"`
	Aborted      bool           `json:"aborted,omitempty"`
	Dialog       *remote.Dialog `json:"dialog,omitempty"`
	Continuation string         `json:"continuation,omitempty"`
	Invid        schema.Invid   `json:"invid"`
	Object       *ObjectRef     `json:"object,omitempty"`
	Events       []Event        `json:"events,omitempty"`
}

// FieldInfo is a schema.FieldInfo with a typed value.
type FieldInfo struct {
	ID       uint16   `json:"id"`
	Defined  bool     `json:"defined"`
	Visible  bool     `json:"visible"`
	Editable bool     `json:"editable"`
	Value    Value    `json:"value"`
	Labels   []string `json:"labels,omitempty"`
}

// Choice is a remote.Choice with a typed value.
type Choice struct {
	Label    string `json:"label"`
	Value    Value  `json:"value"`
	Editable bool   `json:"editable"`
}

func outcomeName(o remote.Outcome) string { return o.String() }

func parseOutcome(s string) remote.Outcome {
	switch s {
	case remote.OK.String():
		return remote.OK
	case remote.NeedsInteraction.String():
		return remote.NeedsInteraction
	default:
		return remote.Rejected
	}
}

func encodeEvents(evs []remote.Event) []Event {
	var out []Event
	for _, ev := range evs {
		switch e := ev.(type) {
		case *remote.Rescan:
			out = append(out, Event{Type: "rescan", Invid: e.Invid, All: e.All, Fields: e.Fields})
		case *remote.Relabel:
			out = append(out, Event{Type: "relabel", Invid: e.Invid, Label: e.Label})
		}
	}
	return out
}

func decodeEvents(evs []Event) []remote.Event {
	var out []remote.Event
	for _, e := range evs {
		switch e.Type {
		case "rescan":
			out = append(out, &remote.Rescan{Invid: e.Invid, All: e.All, Fields: e.Fields})
		case "relabel":
			out = append(out, &remote.Relabel{Invid: e.Invid, Label: e.Label})
		}
	}
	return out
}

func encodeInfo(info schema.FieldInfo) (FieldInfo, error) {
	v, err := EncodeValue(info.Value)
	if err != nil {
		return FieldInfo{}, err
	}
	return FieldInfo{
		ID:       info.ID,
		Defined:  info.Defined,
		Visible:  info.Visible,
		Editable: info.Editable,
		Value:    v,
		Labels:   info.Labels,
	}, nil
}

func decodeInfo(w FieldInfo) (schema.FieldInfo, error) {
	v, err := w.Value.Decode()
	if err != nil {
		return schema.FieldInfo{}, err
	}
	return schema.FieldInfo{
		ID:       w.ID,
		Defined:  w.Defined,
		Visible:  w.Visible,
		Editable: w.Editable,
		Value:    v,
		Labels:   w.Labels,
	}, nil
}
