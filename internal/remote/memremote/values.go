package memremote

import (
	"fmt"
	"maps"
	"net/netip"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/matthewbaird/ganyclient/internal/schema"
)

// coerce converts a client-supplied scalar to the stored representation of
// kind. A nil value clears the field.
func coerce(kind schema.FieldKind, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch kind {
	case schema.KindString, schema.KindPassword:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case schema.KindNumber:
		switch n := v.(type) {
		case int:
			return n, nil
		case int64:
			return int(n), nil
		case float64:
			if n == float64(int(n)) {
				return int(n), nil
			}
		}
	case schema.KindFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		}
	case schema.KindDate:
		if t, ok := v.(time.Time); ok {
			return t.UTC(), nil
		}
	case schema.KindBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case schema.KindInvid:
		switch inv := v.(type) {
		case schema.Invid:
			return inv, nil
		case string:
			return schema.ParseInvid(inv)
		}
	case schema.KindIP:
		switch a := v.(type) {
		case netip.Addr:
			return a, nil
		case string:
			return netip.ParseAddr(a)
		}
	case schema.KindPermMatrix, schema.KindFieldOptions:
		if m, ok := v.(map[string]string); ok {
			return maps.Clone(m), nil
		}
	}
	return nil, fmt.Errorf("value %v (%T) is not a valid %s", v, v, kind)
}

// isZero reports whether a stored value counts as undefined.
func isZero(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case bool:
		return !x
	case time.Time:
		return x.IsZero()
	case schema.Invid:
		return x.IsZero()
	case netip.Addr:
		return !x.IsValid()
	case []string:
		return len(x) == 0
	case []schema.Invid:
		return len(x) == 0
	case []netip.Addr:
		return len(x) == 0
	case map[string]string:
		return len(x) == 0
	}
	return false
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case []string:
		return slices.Clone(x)
	case []schema.Invid:
		return slices.Clone(x)
	case []netip.Addr:
		return slices.Clone(x)
	case map[string]string:
		return maps.Clone(x)
	}
	return v
}

// vecLen returns the length of a stored vector value.
func vecLen(v any) int {
	switch x := v.(type) {
	case []string:
		return len(x)
	case []schema.Invid:
		return len(x)
	case []netip.Addr:
		return len(x)
	}
	return 0
}

// vecAdd appends elem to the vector cur. It reports false if elem is
// already present.
func vecAdd(cur, elem any) (any, bool) {
	switch e := elem.(type) {
	case string:
		s, _ := cur.([]string)
		return appendUnique(s, e)
	case schema.Invid:
		s, _ := cur.([]schema.Invid)
		return appendUnique(s, e)
	case netip.Addr:
		s, _ := cur.([]netip.Addr)
		return appendUnique(s, e)
	}
	return cur, false
}

// vecRemove removes elem from cur, reporting whether it was present.
func vecRemove(cur, elem any) (any, bool) {
	switch e := elem.(type) {
	case string:
		s, _ := cur.([]string)
		return removeValue(s, e)
	case schema.Invid:
		s, _ := cur.([]schema.Invid)
		return removeValue(s, e)
	case netip.Addr:
		s, _ := cur.([]netip.Addr)
		return removeValue(s, e)
	}
	return cur, false
}

// vecSet replaces the element at index.
func vecSet(cur any, index int, elem any) (any, bool) {
	switch e := elem.(type) {
	case string:
		return setAt(cur, index, e)
	case schema.Invid:
		return setAt(cur, index, e)
	case netip.Addr:
		return setAt(cur, index, e)
	}
	return cur, false
}

func setAt[T comparable](cur any, index int, v T) (any, bool) {
	s, _ := cur.([]T)
	if index < 0 || index >= len(s) {
		return cur, false
	}
	s = slices.Clone(s)
	s[index] = v
	return s, true
}

func appendUnique[T comparable](s []T, v T) (any, bool) {
	if slices.Contains(s, v) {
		return s, false
	}
	return append(slices.Clone(s), v), true
}

func removeValue[T comparable](s []T, v T) (any, bool) {
	i := slices.Index(s, v)
	if i < 0 {
		return s, false
	}
	return slices.Delete(slices.Clone(s), i, i+1), true
}

// checkString applies the template's length and character constraints.
func checkString(t *schema.FieldTemplate, s string) error {
	if t.MaxLength > 0 && utf8.RuneCountInString(s) > t.MaxLength {
		return fmt.Errorf("%s may be at most %d characters long", t.Name, t.MaxLength)
	}
	for _, r := range s {
		if t.OKChars != "" && !strings.ContainsRune(t.OKChars, r) {
			return fmt.Errorf("%s may not contain %q", t.Name, r)
		}
		if t.BadChars != "" && strings.ContainsRune(t.BadChars, r) {
			return fmt.Errorf("%s may not contain %q", t.Name, r)
		}
	}
	return nil
}
