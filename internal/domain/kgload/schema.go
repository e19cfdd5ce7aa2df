package kgload

import (
	"fmt"
	"strconv"
	"strings"
)

// Column is one field of a Neo4j header definition, e.g. "cui:ID(Concept)",
// ":START_ID" or "synonyms:string[]".
type Column struct {
	Raw     string
	Name    string
	Type    string
	IDSpace string
	Array   bool
}

// Schema is a parsed header-definition file. Column positions used by the
// transforms are always looked up here rather than hard coded.
type Schema struct {
	Path    string
	Columns []Column
	index   map[string]int
}

// ParseColumn splits a header token into name, type, id-space and array flag.
func ParseColumn(raw string) Column {
	tok := strings.TrimSpace(raw)
	col := Column{Raw: tok, Name: tok}

	sep := strings.LastIndex(tok, ":")
	if sep < 0 {
		return col
	}

	col.Name = tok[:sep]
	typ := tok[sep+1:]
	if strings.HasSuffix(typ, "[]") {
		col.Array = true
		typ = strings.TrimSuffix(typ, "[]")
	}
	if open := strings.Index(typ, "("); open >= 0 && strings.HasSuffix(typ, ")") {
		col.IDSpace = typ[open+1 : len(typ)-1]
		typ = typ[:open]
	}
	col.Type = typ
	return col
}

// NewSchema builds a schema from header tokens. Duplicate names keep the first
// position.
func NewSchema(path string, tokens []string) (*Schema, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("header %s has no columns", path)
	}

	s := &Schema{
		Path:    path,
		Columns: make([]Column, 0, len(tokens)),
		index:   make(map[string]int, len(tokens)*2),
	}
	for i, tok := range tokens {
		col := ParseColumn(tok)
		if col.Raw == "" {
			return nil, fmt.Errorf("header %s column %d is empty", path, i)
		}
		s.Columns = append(s.Columns, col)
		if _, ok := s.index[col.Raw]; !ok {
			s.index[col.Raw] = i
		}
		if col.Name != "" {
			if _, ok := s.index[col.Name]; !ok {
				s.index[col.Name] = i
			}
		}
	}
	return s, nil
}

func (s *Schema) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Columns)
}

// Tokens returns the raw header tokens in order.
func (s *Schema) Tokens() []string {
	out := make([]string, 0, s.Len())
	for _, c := range s.Columns {
		out = append(out, c.Raw)
	}
	return out
}

// Index looks a column up by raw token or by property name.
func (s *Schema) Index(name string) (int, bool) {
	if s == nil {
		return 0, false
	}
	i, ok := s.index[strings.TrimSpace(name)]
	return i, ok
}

// CheckWidth reports ErrHeaderMismatch when a data row of n fields cannot
// pair with this header.
func (s *Schema) CheckWidth(n int) error {
	if n != s.Len() {
		return fmt.Errorf("%w: header %s has %d columns, data has %d", ErrHeaderMismatch, s.Path, s.Len(), n)
	}
	return nil
}

// Without returns a copy of the header tokens minus position skip.
func (s *Schema) Without(skip int) []string {
	out := make([]string, 0, s.Len())
	for i, c := range s.Columns {
		if i == skip {
			continue
		}
		out = append(out, c.Raw)
	}
	return out
}

// ResolveColumn turns a column reference into a zero-based index. ref is either
// a non-negative integer or a column name looked up in schema.
func ResolveColumn(ref string, schema *Schema) (int, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidColumnRef)
	}
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("%w: %d is negative", ErrInvalidColumnRef, n)
		}
		if schema != nil && n >= schema.Len() {
			return 0, fmt.Errorf("%w: %d out of range for %s (%d columns)", ErrInvalidColumnRef, n, schema.Path, schema.Len())
		}
		return n, nil
	}
	if schema == nil {
		return 0, fmt.Errorf("%w: %q", ErrHeaderRequired, ref)
	}
	i, ok := schema.Index(ref)
	if !ok {
		return 0, fmt.Errorf("%w: %q in %s", ErrColumnNotFound, ref, schema.Path)
	}
	return i, nil
}

// EqualTokens reports whether two headers are identical token for token.
func EqualTokens(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if strings.TrimSpace(a[i]) != strings.TrimSpace(b[i]) {
			return false
		}
	}
	return true
}
