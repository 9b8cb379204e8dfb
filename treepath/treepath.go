// Package treepath validates dotted key paths and converts between their
// string form, ancestor chains, and the flattened/nested value shapes used
// by the value proxy.
package treepath

import (
	"fmt"
	"strings"

	"github.com/adnymics/redicts/errs"
)

const (
	lockPrefix = "l:"
	valPrefix  = "v:"
)

// Path is an ordered sequence of non-empty path elements. A nil or empty
// Path denotes the root.
type Path []string

// Validate checks that s is a well-formed dotted path string: non-empty,
// not starting or ending with '.', and free of "..".
func Validate(s string) error {
	if len(s) == 0 {
		return fmt.Errorf("%w: path may not be empty", errs.ErrInvalidPath)
	}
	if strings.HasPrefix(s, ".") || strings.HasSuffix(s, ".") {
		return fmt.Errorf("%w: path may not start or end with a dot: %q", errs.ErrInvalidPath, s)
	}
	if strings.Contains(s, "..") {
		return fmt.Errorf("%w: path may not contain successive dots: %q", errs.ErrInvalidPath, s)
	}
	return nil
}

// ValidateElement checks that e is a valid single path element: non-empty
// and free of the "." separator.
func ValidateElement(e string) error {
	if len(e) == 0 {
		return fmt.Errorf("%w: path element may not be empty", errs.ErrInvalidPath)
	}
	if strings.Contains(e, ".") {
		return fmt.Errorf("%w: path element may not contain a dot: %q", errs.ErrInvalidPath, e)
	}
	return nil
}

// Parse validates and splits a dotted path string into its elements. The
// empty string is rejected; use ParseAllowRoot to treat it as the root.
func Parse(s string) (Path, error) {
	if err := Validate(s); err != nil {
		return nil, err
	}
	return Path(strings.Split(s, ".")), nil
}

// ParseAllowRoot is Parse, except the empty string is accepted and returns
// the root path instead of ErrInvalidPath.
func ParseAllowRoot(s string) (Path, error) {
	if s == "" {
		return nil, nil
	}
	return Parse(s)
}

// String renders the path back to its dotted form. The root renders as "".
func (p Path) String() string {
	return strings.Join(p, ".")
}

// Join validates sub as a dotted path and appends its elements to p,
// returning a new Path. p itself is never mutated.
func (p Path) Join(sub string) (Path, error) {
	subPath, err := Parse(sub)
	if err != nil {
		return nil, err
	}
	joined := make(Path, 0, len(p)+len(subPath))
	joined = append(joined, p...)
	joined = append(joined, subPath...)
	return joined, nil
}

// Ancestors returns the deepest-first ancestor chain of p: p itself,
// followed by each successive prefix obtained by dropping the rightmost
// element, stopping once a single element remains. The root's chain is
// empty.
func (p Path) Ancestors() []Path {
	if len(p) == 0 {
		return nil
	}
	chain := make([]Path, 0, len(p))
	for n := len(p); n >= 1; n-- {
		elem := make(Path, n)
		copy(elem, p[:n])
		chain = append(chain, elem)
	}
	return chain
}

// LockKey returns the backend key for this path's node in the lock tree.
func (p Path) LockKey() string {
	if len(p) == 0 {
		return lockPrefix
	}
	return lockPrefix + "." + p.String()
}

// ValueKey returns the backend key for this path's leaf in the value tree.
func (p Path) ValueKey() string {
	if len(p) == 0 {
		return valPrefix
	}
	return valPrefix + "." + p.String()
}

// Leaf is a single terminal scalar produced by Flatten, addressed by its
// absolute path.
type Leaf struct {
	Key   Path
	Value interface{}
}

// Flatten walks value depth-first. If value is a map[string]interface{} it
// recurses into each entry, prefixing child paths with prefix; any other
// value type is returned as a single leaf at prefix. Empty sub-maps
// contribute no leaves.
func Flatten(value interface{}, prefix Path) []Leaf {
	mapping, ok := value.(map[string]interface{})
	if !ok {
		return []Leaf{{Key: prefix, Value: value}}
	}

	var leaves []Leaf
	for key, sub := range mapping {
		child := make(Path, len(prefix)+1)
		copy(child, prefix)
		child[len(prefix)] = key
		leaves = append(leaves, Flatten(sub, child)...)
	}
	return leaves
}

// Unflatten writes value at the dotted location dottedKey within target,
// creating intermediate maps as needed. If an intermediate step finds a
// non-map value already present, it is overwritten with a fresh map — a
// deliberate last-writer-wins tolerance for shape conflicts that arise when
// subtree keys are reassembled out of depth order.
func Unflatten(target map[string]interface{}, dottedKey string, value interface{}) {
	parts := strings.Split(dottedKey, ".")
	cur := target
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}
