// Package numerator renders and parses receipt number templates.
//
// A template mixes literal text with two placeholders:
//
//	{PREFIX}        replaced by the series prefix (empty when none)
//	{NUMBER:width}  replaced by the number, zero-padded to width digits
//
// Any other {...} sequence, including {NUMBER} without a width, is kept
// literally.
//
//	Format("{PREFIX}{NUMBER:12}", "OR", 123) // "OR000000000123"
//	Format("OR-{NUMBER:10}", "", 1)          // "OR-0000000001"
package numerator

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// MaxWidth is the widest zero padding accepted; int64 has at most 19 digits.
const MaxWidth = 20

var (
	// ErrInvalidTemplate is returned by Validate for unusable templates.
	ErrInvalidTemplate = errors.New("invalid number template")

	// ErrNoMatch is returned by Parse when the input does not follow the template.
	ErrNoMatch = errors.New("number does not match template")
)

type partKind int

const (
	partLiteral partKind = iota
	partPrefix
	partNumber
)

type part struct {
	kind    partKind
	literal string
	width   int
}

// Template is a parsed number template. It is immutable and safe for concurrent use.
type Template struct {
	raw   string
	parts []part

	mu       sync.Mutex
	patterns map[string]*regexp.Regexp // by prefix
}

var templateCache sync.Map // map[string]*Template, valid templates only

// Compile parses raw, reusing an earlier parse of the same string. Invalid
// templates are parsed afresh each time.
func Compile(raw string) *Template {
	if cached, ok := templateCache.Load(raw); ok {
		return cached.(*Template)
	}
	t := &Template{raw: raw, parts: parse(raw), patterns: make(map[string]*regexp.Regexp)}
	if t.Validate() != nil {
		return t
	}
	actual, _ := templateCache.LoadOrStore(raw, t)
	return actual.(*Template)
}

func parse(raw string) []part {
	var parts []part
	var lit strings.Builder

	flush := func() {
		if lit.Len() > 0 {
			parts = append(parts, part{kind: partLiteral, literal: lit.String()})
			lit.Reset()
		}
	}

	rest := raw
	for rest != "" {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			lit.WriteString(rest)
			break
		}
		lit.WriteString(rest[:open])
		rest = rest[open:]

		closing := strings.IndexByte(rest, '}')
		if closing < 0 {
			lit.WriteString(rest)
			break
		}

		token := rest[1:closing]
		if p, ok := placeholder(token); ok {
			flush()
			parts = append(parts, p)
		} else {
			lit.WriteString(rest[:closing+1])
		}
		rest = rest[closing+1:]
	}
	flush()

	return parts
}

func placeholder(token string) (part, bool) {
	switch {
	case token == "PREFIX":
		return part{kind: partPrefix}, true
	case strings.HasPrefix(token, "NUMBER:"):
		width, err := strconv.Atoi(token[len("NUMBER:"):])
		if err != nil || width < 1 {
			return part{}, false
		}
		return part{kind: partNumber, width: width}, true
	}
	return part{}, false
}

// String returns the raw template.
func (t *Template) String() string { return t.raw }

// Width returns the padding width of the number placeholder, or 0.
func (t *Template) Width() int {
	for _, p := range t.parts {
		if p.kind == partNumber {
			return p.width
		}
	}
	return 0
}

// Validate requires exactly one number placeholder with a width from 1 to MaxWidth.
func (t *Template) Validate() error {
	count := 0
	for _, p := range t.parts {
		if p.kind != partNumber {
			continue
		}
		count++
		if p.width > MaxWidth {
			return fmt.Errorf("%w: width %d exceeds %d", ErrInvalidTemplate, p.width, MaxWidth)
		}
	}
	switch {
	case count == 0:
		return fmt.Errorf("%w: missing {NUMBER:width} placeholder", ErrInvalidTemplate)
	case count > 1:
		return fmt.Errorf("%w: more than one number placeholder", ErrInvalidTemplate)
	}
	return nil
}

// Format renders n with the given prefix.
func (t *Template) Format(prefix string, n int64) string {
	var b strings.Builder
	for _, p := range t.parts {
		switch p.kind {
		case partLiteral:
			b.WriteString(p.literal)
		case partPrefix:
			b.WriteString(prefix)
		case partNumber:
			fmt.Fprintf(&b, "%0*d", p.width, n)
		}
	}
	return b.String()
}

// Parse extracts the number from a string rendered by Format with the same prefix.
func (t *Template) Parse(prefix, formatted string) (int64, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}

	m := t.regexpFor(prefix).FindStringSubmatch(formatted)
	if m == nil {
		return 0, fmt.Errorf("%w: %q against %q", ErrNoMatch, formatted, t.raw)
	}

	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNoMatch, err)
	}
	return n, nil
}

func (t *Template) regexpFor(prefix string) *regexp.Regexp {
	t.mu.Lock()
	defer t.mu.Unlock()

	if re, ok := t.patterns[prefix]; ok {
		return re
	}

	var b strings.Builder
	b.WriteString("^")
	for _, p := range t.parts {
		switch p.kind {
		case partLiteral:
			b.WriteString(regexp.QuoteMeta(p.literal))
		case partPrefix:
			b.WriteString(regexp.QuoteMeta(prefix))
		case partNumber:
			fmt.Fprintf(&b, `(\d{%d,})`, p.width)
		}
	}
	b.WriteString("$")

	re := regexp.MustCompile(b.String())
	t.patterns[prefix] = re
	return re
}

// Format renders n using raw as template.
func Format(raw, prefix string, n int64) string {
	return Compile(raw).Format(prefix, n)
}

// Parse extracts the number from formatted using raw as template.
func Parse(raw, prefix, formatted string) (int64, error) {
	return Compile(raw).Parse(prefix, formatted)
}

// Validate checks that raw is a usable template.
func Validate(raw string) error {
	return Compile(raw).Validate()
}
