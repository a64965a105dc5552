package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalNormalizesNFC(t *testing.T) {
	// "e" + COMBINING ACUTE ACCENT normalises to U+00E9.
	decomposed := String("e\u0301")
	composed := String("\u00e9")

	a, err := MarshalCanonical(decomposed)
	require.NoError(t, err)
	b, err := MarshalCanonical(composed)
	require.NoError(t, err)
	assert.Equal(t, string(b), string(a))

	// Plain Marshal keeps the caller's code points.
	raw, err := Marshal(decomposed)
	require.NoError(t, err)
	assert.NotEqual(t, string(b), string(raw))
}

func TestMarshalCanonicalLineSeparators(t *testing.T) {
	out, err := MarshalCanonical(String("a\u2028b\u2029c"))
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\u2029c\"", string(out))
}

func TestMarshalCanonicalControlCharacters(t *testing.T) {
	out, err := MarshalCanonical(String("\x01\t"))
	require.NoError(t, err)
	assert.Equal(t, `"\u0001\t"`, string(out))
}

func TestDigestKnownValues(t *testing.T) {
	assert.Equal(t,
		"3f7bb719e20817352ad73d32f5b50912b653b5805b64b1fe3a4c80d43357e0c7",
		MustDigest(MustParse(`{"b":[true,null,"x"],"a":1}`)))
	assert.Equal(t,
		"253c4b63dd771128d300a7855dadf9966c363d98be6f61fa566e7f495b112b9f",
		MustDigest(Null{}))
}

func TestDigestIgnoresKeyInsertionOrder(t *testing.T) {
	a := Object{"x": Number(1), "y": Array{String("q")}}
	b := Object{"y": Array{String("q")}, "x": Number(1)}
	assert.Equal(t, MustDigest(a), MustDigest(b))
	assert.NotEqual(t, MustDigest(a), MustDigest(Object{"x": Number(2), "y": Array{String("q")}}))
}

func TestDigestRejectsInvalid(t *testing.T) {
	_, err := Digest(Array{nil})
	assert.Error(t, err)
}
