package locktoken

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adnymics/redicts/errs"
)

func TestEncode(t *testing.T) {
	assert.Equal(t, "1:2:3", Encode(1, 2, 3))
}

func TestDecode(t *testing.T) {
	tok, err := Decode("1:2:3")
	require.NoError(t, err)
	assert.Equal(t, Token{PID: 1, TID: 2, Depth: 3}, tok)
}

func TestDecodeTooFewParts(t *testing.T) {
	_, err := Decode("1:2")
	assert.ErrorIs(t, err, errs.ErrInternal)
}

func TestDecodeNonInteger(t *testing.T) {
	_, err := Decode("1:x:3")
	assert.ErrorIs(t, err, errs.ErrInternal)
}

func TestRoundTrip(t *testing.T) {
	tok, err := Decode(Encode(42, -7, 5))
	require.NoError(t, err)
	assert.Equal(t, Token{PID: 42, TID: -7, Depth: 5}, tok)
}
