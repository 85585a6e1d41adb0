package cache

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// Population and request lines are sequences of "quoted words": fields
// separated by spaces, with any byte that would end a field written as a
// backslash followed by three octal digits. A field starting with \x is a
// hex-encoded byte string.

// Scanner splits one population line into decoded fields.
type Scanner struct {
	line string
	pos  int
}

// NewScanner returns a Scanner over line. The trailing newline must already
// have been checked and removed.
func NewScanner(line string) *Scanner {
	return &Scanner{line: line}
}

// Next returns the next decoded field. At the end of the line it returns "".
// A field that is not followed by a space or the end of line is malformed.
func (s *Scanner) Next() (string, error) {
	raw, err := s.raw()
	if err != nil || raw == "" {
		return "", err
	}
	if strings.HasPrefix(raw, `\x`) {
		b, err := hex.DecodeString(raw[2:])
		if err != nil {
			return "", fmt.Errorf("hex field %q: %w", raw, unix.EINVAL)
		}
		return string(b), nil
	}
	return unescape(raw)
}

// Hex returns the next field as bytes. The field may carry the \x marker or be
// bare hex digits.
func (s *Scanner) Hex() ([]byte, error) {
	raw, err := s.raw()
	if err != nil || raw == "" {
		return nil, err
	}
	raw = strings.TrimPrefix(raw, `\x`)
	b, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("hex field %q: %w", raw, unix.EINVAL)
	}
	return b, nil
}

// Int parses the next field as a signed integer in C notation (decimal, 0x
// hex or leading-zero octal). A missing field gives unix.ENOENT, a
// malformed one unix.EINVAL.
func (s *Scanner) Int() (int, error) {
	w, err := s.Next()
	if err != nil {
		return 0, err
	}
	if w == "" {
		return 0, unix.ENOENT
	}
	v, err := strconv.ParseInt(w, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("integer field %q: %w", w, unix.EINVAL)
	}
	return int(v), nil
}

// Expiry parses the next field as a Unix-epoch expiry. A missing, malformed
// or negative value is rejected with unix.EINVAL. Zero is returned as the
// zero epoch; callers treat it as already expired.
func (s *Scanner) Expiry() (time.Time, error) {
	v, err := s.Int()
	if err != nil {
		return time.Time{}, fmt.Errorf("expiry: %w", unix.EINVAL)
	}
	if v < 0 {
		return time.Time{}, fmt.Errorf("expiry %d: %w", v, unix.EINVAL)
	}
	return time.Unix(int64(v), 0), nil
}

// raw returns the next undecoded field, skipping leading spaces.
func (s *Scanner) raw() (string, error) {
	for s.pos < len(s.line) && s.line[s.pos] == ' ' {
		s.pos++
	}
	start := s.pos
	for s.pos < len(s.line) && s.line[s.pos] != ' ' {
		switch s.line[s.pos] {
		case '\t', '\n', 0:
			return "", fmt.Errorf("field at offset %d: %w", start, unix.EINVAL)
		}
		s.pos++
	}
	return s.line[start:s.pos], nil
}

func unescape(raw string) (string, error) {
	if !strings.Contains(raw, `\`) {
		return raw, nil
	}
	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		if i+4 > len(raw) {
			return "", fmt.Errorf("truncated escape in %q: %w", raw, unix.EINVAL)
		}
		v, err := strconv.ParseUint(raw[i+1:i+4], 8, 8)
		if err != nil {
			return "", fmt.Errorf("bad escape in %q: %w", raw, unix.EINVAL)
		}
		b.WriteByte(byte(v))
		i += 3
	}
	return b.String(), nil
}

// AddWord appends s to b as one quoted word followed by a space.
func AddWord(b *strings.Builder, s string) {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == ' ' || c == '\t' || c == '\n' || c == '\\' || c < 0x20 || c >= 0x7f {
			fmt.Fprintf(b, `\%03o`, c)
			continue
		}
		b.WriteByte(c)
	}
	b.WriteByte(' ')
}

// AddHex appends data to b as a \x word followed by a space.
func AddHex(b *strings.Builder, data []byte) {
	b.WriteString(`\x`)
	b.WriteString(hex.EncodeToString(data))
	b.WriteByte(' ')
}

// EndLine replaces the trailing space written by AddWord or AddHex with a
// newline and returns the finished line.
func EndLine(b *strings.Builder) string {
	s := b.String()
	return strings.TrimSuffix(s, " ") + "\n"
}

// Quote returns s escaped as a single word, with no trailing space.
func Quote(s string) string {
	var b strings.Builder
	AddWord(&b, s)
	return strings.TrimSuffix(b.String(), " ")
}
