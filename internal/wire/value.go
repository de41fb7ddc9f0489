package wire

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"time"

	"github.com/matthewbaird/ganyclient/internal/schema"
)

// Value is a field value tagged with its Go type so it survives the JSON
// round trip unchanged.
type Value struct {
	Kind string          `json:"kind"`
	V    json.RawMessage `json:"v,omitempty"`
}

// Value kinds.
const (
	kindNil     = "nil"
	kindString  = "string"
	kindInt     = "int"
	kindFloat   = "float"
	kindBool    = "bool"
	kindTime    = "time"
	kindInvid   = "invid"
	kindIP      = "ip"
	kindMatrix  = "matrix"
	kindStrings = "strings"
	kindInvids  = "invids"
	kindIPs     = "ips"
	kindList    = "list"
)

// EncodeValue tags v with its kind.
func EncodeValue(v any) (Value, error) {
	var kind string
	switch x := v.(type) {
	case nil:
		return Value{Kind: kindNil}, nil
	case string:
		kind = kindString
	case int:
		kind = kindInt
	case int64:
		kind, v = kindInt, int(x)
	case float64:
		kind = kindFloat
	case bool:
		kind = kindBool
	case time.Time:
		kind = kindTime
	case schema.Invid:
		kind = kindInvid
	case netip.Addr:
		kind = kindIP
	case map[string]string:
		kind = kindMatrix
	case []string:
		kind = kindStrings
	case []schema.Invid:
		kind = kindInvids
	case []netip.Addr:
		kind = kindIPs
	case []any:
		vs, err := EncodeValues(x)
		if err != nil {
			return Value{}, err
		}
		v = vs
		kind = kindList
	default:
		return Value{}, fmt.Errorf("wire: cannot encode value of type %T", v)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return Value{}, fmt.Errorf("wire: encode %s: %w", kind, err)
	}
	return Value{Kind: kind, V: raw}, nil
}

// EncodeValues encodes each element of vs.
func EncodeValues(vs []any) ([]Value, error) {
	out := make([]Value, len(vs))
	for i, v := range vs {
		w, err := EncodeValue(v)
		if err != nil {
			return nil, err
		}
		out[i] = w
	}
	return out, nil
}

// Decode returns the Go value w carries. A zero Value decodes to nil.
func (w Value) Decode() (any, error) {
	switch w.Kind {
	case "", kindNil:
		return nil, nil
	case kindString:
		return decodeAs[string](w)
	case kindInt:
		return decodeAs[int](w)
	case kindFloat:
		return decodeAs[float64](w)
	case kindBool:
		return decodeAs[bool](w)
	case kindTime:
		return decodeAs[time.Time](w)
	case kindInvid:
		return decodeAs[schema.Invid](w)
	case kindIP:
		return decodeAs[netip.Addr](w)
	case kindMatrix:
		return decodeAs[map[string]string](w)
	case kindStrings:
		return decodeAs[[]string](w)
	case kindInvids:
		return decodeAs[[]schema.Invid](w)
	case kindIPs:
		return decodeAs[[]netip.Addr](w)
	case kindList:
		vs, err := decodeAs[[]Value](w)
		if err != nil {
			return nil, err
		}
		return DecodeValues(vs.([]Value))
	}
	return nil, fmt.Errorf("wire: unknown value kind %q", w.Kind)
}

// DecodeValues decodes each element of ws.
func DecodeValues(ws []Value) ([]any, error) {
	out := make([]any, len(ws))
	for i, w := range ws {
		v, err := w.Decode()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func decodeAs[T any](w Value) (any, error) {
	var v T
	if err := json.Unmarshal(w.V, &v); err != nil {
		return nil, fmt.Errorf("wire: decode %s: %w", w.Kind, err)
	}
	return v, nil
}
