package db

import (
	"fmt"
	"strings"
)

// Storage keys live in a hierarchical namespace that reserves the percent,
// slash and period characters. EncodeKey percent-escapes exactly those
// three, escaping percent first so the escaping itself stays reversible.

// EncodeKey maps an arbitrary identifier (usually a URI) to a storage-safe
// key.
func EncodeKey(key string) string {
	key = strings.ReplaceAll(key, "%", "%25")
	key = strings.ReplaceAll(key, "/", "%2F")
	key = strings.ReplaceAll(key, ".", "%2E")
	return key
}

// DecodeKey reverses EncodeKey via standard percent-decoding. An escape
// sequence that is not two hex digits is an error.
func DecodeKey(key string) (string, error) {
	var b strings.Builder
	b.Grow(len(key))
	for i := 0; i < len(key); i++ {
		if key[i] != '%' {
			b.WriteByte(key[i])
			continue
		}
		if i+2 >= len(key) {
			return "", fmt.Errorf("truncated escape in key %q", key)
		}
		hi, ok1 := unhex(key[i+1])
		lo, ok2 := unhex(key[i+2])
		if !ok1 || !ok2 {
			return "", fmt.Errorf("invalid escape %q in key %q", key[i:i+3], key)
		}
		b.WriteByte(hi<<4 | lo)
		i += 2
	}
	return b.String(), nil
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
