package model

import (
	"fmt"
	"strconv"
	"strings"
)

// PathKind discriminates the closed set of locations an operation can
// address. Paths are resolved against the schema exactly once, at the
// boundary; downstream logic never re-parses the dotted string.
type PathKind int

const (
	// PathField addresses a scalar field ("present_levels").
	PathField PathKind = iota
	// PathCollection addresses a whole ordered collection ("goals");
	// only insert targets this.
	PathCollection
	// PathItem addresses one element of a collection by 0-based index
	// ("goals.0"). Element-level field paths ("goals.0.title") are not
	// supported; element changes are whole-element updates.
	PathItem
)

// Path is the resolved form of an operation's dotted path string.
type Path struct {
	Kind  PathKind
	Name  string
	Index int
}

// String renders the canonical dotted form. Two operations overlap
// structurally iff their canonical forms are equal.
func (p Path) String() string {
	if p.Kind == PathItem {
		return p.Name + "." + strconv.Itoa(p.Index)
	}
	return p.Name
}

// ResolvePath resolves a dotted path string against the schema. A bare
// segment resolves to a scalar field or a collection by declaration; a
// second, integer segment selects a collection element. Anything else —
// unknown names, indexes into scalars, deeper paths — is an error.
func (s Schema) ResolvePath(raw string) (Path, error) {
	segs := strings.Split(raw, ".")
	if raw == "" || len(segs) > 2 {
		return Path{}, fmt.Errorf("path %q: want <name> or <collection>.<index>", raw)
	}
	name := segs[0]
	_, isField := s.Field(name)
	_, isColl := s.Collection(name)
	switch {
	case !isField && !isColl:
		return Path{}, fmt.Errorf("path %q: unknown field %q", raw, name)
	case len(segs) == 1 && isField:
		return Path{Kind: PathField, Name: name}, nil
	case len(segs) == 1:
		return Path{Kind: PathCollection, Name: name}, nil
	case isField:
		return Path{}, fmt.Errorf("path %q: %q is a scalar field, not a collection", raw, name)
	}
	idx, err := strconv.Atoi(segs[1])
	if err != nil || idx < 0 {
		return Path{}, fmt.Errorf("path %q: index %q is not a non-negative integer", raw, segs[1])
	}
	return Path{Kind: PathItem, Name: name, Index: idx}, nil
}
