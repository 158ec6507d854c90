// Package query holds the typed projection, filter and paging descriptors
// accepted by the list and get operations. Raw strings coming from callers are
// parsed against a per-resource whitelist before they reach a store.
package query

import (
	"strconv"
	"strings"

	"github.com/hackgods/clinic-slot-scheduling/internal/apperr"
)

const (
	DefaultTake = 10
	MaxTake     = 100
)

// Field describes one whitelisted attribute of a resource.
type Field struct {
	Column     string
	Filterable bool
}

// Schema maps API field names to their storage columns.
type Schema struct {
	Fields map[string]Field
}

type Projection []string

type Condition struct {
	Field  string
	Column string
	Value  string
}

type Filter []Condition

type Page struct {
	Skip int
	Take int
}

// Limit is the effective page size. A zero Take means DefaultTake so every
// store pages the same way.
func (p Page) Limit() int {
	switch {
	case p.Take <= 0:
		return DefaultTake
	case p.Take > MaxTake:
		return MaxTake
	}
	return p.Take
}

func (p Page) Offset() int {
	if p.Skip < 0 {
		return 0
	}
	return p.Skip
}

// List is the descriptor handed to a store's FindMany.
type List struct {
	Page       Page
	Projection Projection
	Filter     Filter
}

// With returns a copy of l with an extra equality condition appended.
func (l List) With(c Condition) List {
	out := l
	out.Filter = append(append(Filter{}, l.Filter...), c)
	return out
}

// Condition builds a condition for a whitelisted field.
func (s Schema) Condition(field, value string) (Condition, error) {
	f, ok := s.Fields[field]
	if !ok || !f.Filterable {
		return Condition{}, apperr.Validationf("field %q cannot be filtered", field)
	}
	return Condition{Field: field, Column: f.Column, Value: value}, nil
}

// ParseProjection parses "a,b,c". An empty string selects every field.
func (s Schema) ParseProjection(raw string) (Projection, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var p Projection
	seen := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		if _, ok := s.Fields[name]; !ok {
			return nil, apperr.Validationf("unknown field %q", name)
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		p = append(p, name)
	}
	return p, nil
}

// ParseFilter parses "k=v,k2=v2" into equality conditions.
func (s Schema) ParseFilter(raw string) (Filter, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var f Filter
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if !ok || key == "" || value == "" {
			return nil, apperr.Validationf("malformed filter %q, expected key=value", part)
		}
		c, err := s.Condition(key, value)
		if err != nil {
			return nil, err
		}
		f = append(f, c)
	}
	return f, nil
}

// ParsePage parses skip/take query values. Empty values fall back to 0 and
// DefaultTake; take is clamped to MaxTake.
func ParsePage(skip, take string) (Page, error) {
	p := Page{Skip: 0, Take: DefaultTake}

	if skip = strings.TrimSpace(skip); skip != "" {
		n, err := strconv.Atoi(skip)
		if err != nil || n < 0 {
			return Page{}, apperr.Validation("skip must be a non-negative integer")
		}
		p.Skip = n
	}

	if take = strings.TrimSpace(take); take != "" {
		n, err := strconv.Atoi(take)
		if err != nil || n <= 0 {
			return Page{}, apperr.Validation("take must be a positive integer")
		}
		p.Take = n
	}
	if p.Take > MaxTake {
		p.Take = MaxTake
	}

	return p, nil
}

// Project keeps only the projected keys of doc. "id" is always kept.
func Project(p Projection, doc map[string]any) map[string]any {
	if len(p) == 0 {
		return doc
	}
	out := make(map[string]any, len(p)+1)
	if id, ok := doc["id"]; ok {
		out["id"] = id
	}
	for _, name := range p {
		if v, ok := doc[name]; ok {
			out[name] = v
		}
	}
	return out
}

// Matches reports whether doc satisfies every condition of f. Values are
// compared by their string form; used by in-memory stores.
func (f Filter) Matches(doc map[string]any) bool {
	for _, c := range f {
		v, ok := doc[c.Field]
		if !ok {
			return false
		}
		if toString(v) != c.Value {
			return false
		}
	}
	return true
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case interface{ String() string }:
		return t.String()
	case int:
		return strconv.Itoa(t)
	default:
		return ""
	}
}
