package querycache

import (
	"fmt"
	"strconv"
	"strings"
)

// Key is a hierarchical cache key, most general segment first.
type Key []string

// NewKey builds a key from string, integer and fmt.Stringer segments.
func NewKey(parts ...any) Key {
	key := make(Key, 0, len(parts))
	for _, p := range parts {
		key = append(key, segment(p))
	}
	return key
}

func segment(p any) string {
	switch v := p.(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// Append returns a new key extended by parts.
func (k Key) Append(parts ...any) Key {
	out := make(Key, 0, len(k)+len(parts))
	out = append(out, k...)
	return append(out, NewKey(parts...)...)
}

// HasPrefix reports whether k starts with every segment of prefix. The
// empty prefix matches every key.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i, seg := range prefix {
		if k[i] != seg {
			return false
		}
	}
	return true
}

// String renders the key for logs.
func (k Key) String() string {
	return "[" + strings.Join(k, " ") + "]"
}

// id is the map key. Segments are length-prefixed so distinct keys never
// collide.
func (k Key) id() string {
	var b strings.Builder
	for _, seg := range k {
		b.WriteString(strconv.Itoa(len(seg)))
		b.WriteByte(':')
		b.WriteString(seg)
	}
	return b.String()
}
