// Package schema provides the object and field metadata shared by every
// part of the client: object identifiers, field templates, field info
// snapshots and the per-session template registry.
package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// Invid identifies one server-side object: the object base (type) and the
// instance number within that base. Invids are comparable and are used as
// map keys throughout the client.
type Invid struct {
	Base uint16 `json:"base"`
	Num  uint32 `json:"num"`
}

// String returns the "base:num" form of the invid.
func (i Invid) String() string {
	return strconv.Itoa(int(i.Base)) + ":" + strconv.FormatUint(uint64(i.Num), 10)
}

// IsZero reports whether the invid is unset.
func (i Invid) IsZero() bool {
	return i.Base == 0 && i.Num == 0
}

// MarshalText implements encoding.TextMarshaler so invids can be used as
// JSON object keys.
func (i Invid) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *Invid) UnmarshalText(b []byte) error {
	v, err := ParseInvid(string(b))
	if err != nil {
		return err
	}
	*i = v
	return nil
}

// ParseInvid parses the "base:num" form produced by Invid.String.
func ParseInvid(s string) (Invid, error) {
	base, num, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Invid{}, fmt.Errorf("invalid invid %q: missing ':'", s)
	}
	b, err := strconv.ParseUint(base, 10, 16)
	if err != nil {
		return Invid{}, fmt.Errorf("invalid invid %q: %w", s, err)
	}
	n, err := strconv.ParseUint(num, 10, 32)
	if err != nil {
		return Invid{}, fmt.Errorf("invalid invid %q: %w", s, err)
	}
	return Invid{Base: uint16(b), Num: uint32(n)}, nil
}

// FieldKind is the logical type of a field.
type FieldKind int

const (
	KindString FieldKind = iota
	KindPassword
	KindNumber
	KindFloat
	KindDate
	KindBoolean
	KindPermMatrix
	KindFieldOptions
	KindInvid
	KindIP
)

var kindNames = [...]string{
	KindString:       "string",
	KindPassword:     "password",
	KindNumber:       "number",
	KindFloat:        "float",
	KindDate:         "date",
	KindBoolean:      "boolean",
	KindPermMatrix:   "permmatrix",
	KindFieldOptions: "fieldoptions",
	KindInvid:        "invid",
	KindIP:           "ip",
}

// String returns the schema-visible kind name.
func (k FieldKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// ParseKind maps a kind name back to its FieldKind.
func ParseKind(s string) (FieldKind, error) {
	for k, name := range kindNames {
		if name == s {
			return FieldKind(k), nil
		}
	}
	return 0, fmt.Errorf("unknown field kind %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (k FieldKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *FieldKind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// AnyTarget is the TargetBase of a reference field that may point at any base.
const AnyTarget = -1

// FieldTemplate is the immutable, server-declared description of one field
// of one object base. Templates are shared read-only by every form showing
// an object of that base.
type FieldTemplate struct {
	ID          uint16    `json:"id"`
	Name        string    `json:"name"`
	Kind        FieldKind `json:"kind"`
	Vector      bool      `json:"vector,omitempty"`
	EditInPlace bool      `json:"edit_in_place,omitempty"`
	TargetBase  int       `json:"target_base"`
	MaxLength   int       `json:"max_length,omitempty"`
	OKChars     string    `json:"ok_chars,omitempty"`
	BadChars    string    `json:"bad_chars,omitempty"`
	MustChoose  bool      `json:"must_choose,omitempty"`
	// Choices is set on string fields that offer a pick list.
	Choices   bool   `json:"choices,omitempty"`
	MultiLine bool   `json:"multi_line,omitempty"`
	Comment   string `json:"comment,omitempty"`
	TabName   string `json:"tab,omitempty"`
	BuiltIn   bool   `json:"builtin,omitempty"`
	IPv6      bool   `json:"ipv6,omitempty"`
}

// IsEditInPlace reports whether the field renders as nested sub-forms.
func (t *FieldTemplate) IsEditInPlace() bool {
	return t.Kind == KindInvid && t.EditInPlace
}

// FieldInfo is a snapshot of one field's current value and status flags for
// one object instance.
//
// Value holds string, int, float64, time.Time, bool, Invid, netip.Addr,
// map[string]string (matrices) or a slice of one of those for vector
// fields. Labels carries the display labels of reference values in the
// same order as the values; an empty label means the viewer may not see it.
type FieldInfo struct {
	ID       uint16   `json:"id"`
	Defined  bool     `json:"defined"`
	Visible  bool     `json:"visible"`
	Editable bool     `json:"editable"`
	Value    any      `json:"value,omitempty"`
	Labels   []string `json:"labels,omitempty"`
}

// Base describes one object base (type).
type Base struct {
	ID            uint16 `json:"id"`
	Name          string `json:"name"`
	Embedded      bool   `json:"embedded,omitempty"`
	CanInactivate bool   `json:"can_inactivate,omitempty"`
	LabelField    uint16 `json:"label_field"`
}

// ObjectHandle is the summary the server returns for an object in a query
// result: enough to render and decorate a tree node.
type ObjectHandle struct {
	Invid         Invid  `json:"invid"`
	Label         string `json:"label"`
	Editable      bool   `json:"editable"`
	Inactive      bool   `json:"inactive,omitempty"`
	ExpirationSet bool   `json:"expiration_set,omitempty"`
	RemovalSet    bool   `json:"removal_set,omitempty"`
}
