// Package ordering generates dense fractional order keys for sibling lists.
//
// A key is a non-empty string of base-62 digits read as a fraction in (0, 1).
// Digits are ASCII-sorted, and keys never end in the zero digit, so plain byte
// comparison orders keys the same way their numeric values are ordered. Any two
// distinct keys have room for another key between them.
//
// Database columns holding keys must compare bytes (Postgres: COLLATE "C").
package ordering

import (
	"errors"
	"fmt"
	"strings"
)

const digits = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const (
	base = len(digits)

	// MaxKeyLength bounds generated keys. Producing a longer key fails with
	// ErrOrderingExhausted instead of silently colliding.
	MaxKeyLength = 2048
)

var (
	ErrOrderingExhausted = errors.New("ordering exhausted")
	ErrInvalidKey        = errors.New("invalid order key")
)

// Key is a position within a sibling list. The empty Key means "no bound".
type Key string

// DefaultKey is the key given to the first item of an empty list.
const DefaultKey Key = "V"

func (k Key) String() string { return string(k) }

// IsZero reports whether k is the open bound.
func (k Key) IsZero() bool { return k == "" }

// Validate checks that k is a well-formed, non-empty key.
func Validate(k Key) error {
	if k == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	for i := 0; i < len(k); i++ {
		if digitOf(k[i]) < 0 {
			return fmt.Errorf("%w: %q has illegal digit %q", ErrInvalidKey, string(k), k[i])
		}
	}
	if k[len(k)-1] == digits[0] {
		return fmt.Errorf("%w: %q ends in zero digit", ErrInvalidKey, string(k))
	}
	return nil
}

// Compare orders keys. Open bounds are not comparable and must be handled by the caller.
func Compare(a, b Key) int {
	return strings.Compare(string(a), string(b))
}

// KeyBetween returns a key strictly between lower and upper. An empty lower
// means the head of the list, an empty upper means the tail.
//
// The result is a pure function of its bounds; callers serialize concurrent
// writers to the same gap and re-read neighbors before asking for a key.
func KeyBetween(lower, upper Key) (Key, error) {
	if lower != "" {
		if err := Validate(lower); err != nil {
			return "", err
		}
	}
	if upper != "" {
		if err := Validate(upper); err != nil {
			return "", err
		}
	}

	var out string
	switch {
	case lower == "" && upper == "":
		return DefaultKey, nil
	case lower == "":
		out = before(string(upper))
	case upper == "":
		out = after(string(lower))
	default:
		if lower >= upper {
			return "", fmt.Errorf("%w: lower %q is not below upper %q", ErrOrderingExhausted, lower, upper)
		}
		out = midpoint(string(lower), string(upper))
	}

	if len(out) > MaxKeyLength {
		return "", fmt.Errorf("%w: key would exceed %d digits", ErrOrderingExhausted, MaxKeyLength)
	}
	return Key(out), nil
}

// Sequence returns n ascending keys following after (or starting the list when after is empty).
func Sequence(after Key, n int) ([]Key, error) {
	keys := make([]Key, 0, n)
	prev := after
	for i := 0; i < n; i++ {
		next, err := KeyBetween(prev, "")
		if err != nil {
			return nil, err
		}
		keys = append(keys, next)
		prev = next
	}
	return keys, nil
}

// after steps the first digit that can still grow. Appends therefore lengthen
// keys by one digit only every base-1 steps.
func after(a string) string {
	for i := 0; i < len(a); i++ {
		if d := digitOf(a[i]); d < base-1 {
			return a[:i] + string(digits[d+1])
		}
	}
	return a + string(digits[1])
}

// before is the mirror of after for head inserts.
func before(b string) string {
	for i := 0; i < len(b); i++ {
		d := digitOf(b[i])
		switch {
		case d > 1:
			return b[:i] + string(digits[d-1])
		case d == 1 && i < len(b)-1:
			return b[:i+1]
		case d == 1:
			return b[:i] + string(digits[0]) + string(digits[base-1])
		}
	}
	// unreachable for valid keys: the last digit is never zero
	return b[:len(b)-1] + string(digits[0]) + string(digits[base-1])
}

// midpoint returns a key between a and b where a < b; an empty b means 1.
func midpoint(a, b string) string {
	if b != "" {
		n := 0
		for n < len(b) && digitAt(a, n) == b[n] {
			n++
		}
		if n > 0 {
			return b[:n] + midpoint(trimPrefix(a, n), b[n:])
		}
	}

	da := 0
	if a != "" {
		da = digitOf(a[0])
	}
	db := base
	if b != "" {
		db = digitOf(b[0])
	}
	if db-da > 1 {
		return string(digits[(da+db+1)/2])
	}
	if len(b) > 1 {
		return b[:1]
	}
	return string(digits[da]) + midpoint(trimPrefix(a, 1), "")
}

func digitAt(s string, i int) byte {
	if i < len(s) {
		return s[i]
	}
	return digits[0]
}

func trimPrefix(s string, n int) string {
	if n >= len(s) {
		return ""
	}
	return s[n:]
}

func digitOf(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'A' && c <= 'Z':
		return int(c-'A') + 10
	case c >= 'a' && c <= 'z':
		return int(c-'a') + 36
	default:
		return -1
	}
}
