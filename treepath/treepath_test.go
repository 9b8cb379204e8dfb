package treepath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adnymics/redicts/errs"
)

func TestValidate(t *testing.T) {
	for _, s := range []string{"", ".a", "a.", "a..b"} {
		assert.ErrorIsf(t, Validate(s), errs.ErrInvalidPath, "Validate(%q)", s)
	}
	assert.NoError(t, Validate("a.b"))
}

func TestValidateElement(t *testing.T) {
	assert.ErrorIs(t, ValidateElement(""), errs.ErrInvalidPath)
	assert.ErrorIs(t, ValidateElement("a.b"), errs.ErrInvalidPath)
	assert.NoError(t, ValidateElement("a"))
}

func TestAncestorsDeepestFirst(t *testing.T) {
	p, err := Parse("a.b.c")
	require.NoError(t, err)

	var got []string
	for _, anc := range p.Ancestors() {
		got = append(got, anc.String())
	}
	assert.Equal(t, []string{"a.b.c", "a.b", "a"}, got)
}

func TestAncestorsRootIsEmpty(t *testing.T) {
	root, err := ParseAllowRoot("")
	require.NoError(t, err)
	assert.Empty(t, root.Ancestors())
}

func TestLockAndValueKeys(t *testing.T) {
	root, _ := ParseAllowRoot("")
	assert.Equal(t, "l:", root.LockKey())
	assert.Equal(t, "v:", root.ValueKey())

	p, err := Parse("a.b")
	require.NoError(t, err)
	assert.Equal(t, "l:.a.b", p.LockKey())
	assert.Equal(t, "v:.a.b", p.ValueKey())
}

func TestJoin(t *testing.T) {
	p, err := Parse("a")
	require.NoError(t, err)

	joined, err := p.Join("b.c")
	require.NoError(t, err)
	assert.Equal(t, "a.b.c", joined.String())

	_, err = p.Join("")
	assert.ErrorIs(t, err, errs.ErrInvalidPath)
}

func TestFlattenRoundTrip(t *testing.T) {
	value := map[string]interface{}{
		"b": 3,
		"c": map[string]interface{}{
			"d": "x",
		},
		"empty": map[string]interface{}{},
	}

	prefix := Path{"a"}
	leaves := Flatten(value, prefix)

	got := map[string]interface{}{}
	for _, leaf := range leaves {
		Unflatten(got, leaf.Key.String()[len("a."):], leaf.Value)
	}

	assert.Equal(t, map[string]interface{}{
		"b": 3,
		"c": map[string]interface{}{"d": "x"},
	}, got)
}

func TestFlattenScalarIsSingleLeaf(t *testing.T) {
	leaves := Flatten(42, Path{"a", "b"})
	require.Len(t, leaves, 1)
	assert.Equal(t, "a.b", leaves[0].Key.String())
	assert.Equal(t, 42, leaves[0].Value)
}

func TestUnflattenOverwritesScalarWithMap(t *testing.T) {
	target := map[string]interface{}{"a": 2}
	Unflatten(target, "a.b", 3)
	assert.Equal(t, map[string]interface{}{
		"a": map[string]interface{}{"b": 3},
	}, target)
}
