package canonical

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoldenCanonicalHash(t *testing.T) {
	// spec.md §8 scenario 1.
	v := map[string]Value{
		"b":    2,
		"a":    1,
		"list": []Value{3, 1, 2},
	}
	b, err := Canonicalize(v)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2,"list":[3,1,2]}`, string(b))

	h, err := StableHashErr(v)
	require.NoError(t, err)
	assert.Len(t, h, 64)

	// Two executions must produce identical output.
	h2, err := StableHashErr(v)
	require.NoError(t, err)
	assert.Equal(t, h, h2)
}

func TestKeyOrderIndependence(t *testing.T) {
	m1 := map[string]Value{"a": 1, "b": 2, "c": 3}
	m2 := map[string]Value{"c": 3, "b": 2, "a": 1}
	h1, err := StableHashErr(m1)
	require.NoError(t, err)
	h2, err := StableHashErr(m2)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestBooleansDistinctFromIntegers(t *testing.T) {
	bTrue, err := Canonicalize(true)
	require.NoError(t, err)
	one, err := Canonicalize(1)
	require.NoError(t, err)
	assert.NotEqual(t, string(bTrue), string(one))
}

func TestNonFiniteRejected(t *testing.T) {
	for _, v := range []Value{
		math64NaN(), math64Inf(1), math64Inf(-1),
		[]Value{math64NaN()},
		map[string]Value{"x": math64Inf(1)},
	} {
		_, err := Canonicalize(v)
		require.Error(t, err)
		var nf *nonFiniteNumberError
		assert.ErrorAs(t, err, &nf)
	}
}

func TestUnsupportedTypeRejected(t *testing.T) {
	type weird struct{ X int }
	_, err := Canonicalize(weird{X: 1})
	require.Error(t, err)
	var ut *unsupportedTypeError
	assert.ErrorAs(t, err, &ut)
}

func TestNonStringKeyRejected(t *testing.T) {
	_, err := Canonicalize(map[Value]Value{1: "x"})
	require.Error(t, err)
	var nk *nonStringKeyError
	assert.ErrorAs(t, err, &nk)
}

func TestByteStringWrapping(t *testing.T) {
	b, err := Canonicalize([]byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, `{"__bytes__":"aGk="}`, string(b))
}

func TestAwareAndNaiveTimestampsHashIdentically(t *testing.T) {
	aware := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("UTC", 0))
	naive := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	h1, err := StableHashErr(aware)
	require.NoError(t, err)
	h2, err := StableHashErr(naive)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestIdempotentReencodingOfCanonicalBytes(t *testing.T) {
	v := map[string]Value{"z": 1, "a": []Value{1, 2, 3}}
	b1, err := Canonicalize(v)
	require.NoError(t, err)
	// Re-parsing canonical bytes as a generic value and re-canonicalizing
	// must produce the same bytes; we approximate "parse" here by feeding
	// an equivalent map built in a different key order, since this package
	// does not implement a JSON parser.
	v2 := map[string]Value{"a": []Value{1, 2, 3}, "z": 1}
	b2, err := Canonicalize(v2)
	require.NoError(t, err)
	assert.Equal(t, string(b1), string(b2))
}

func math64NaN() float64  { var z float64; return z / z }
func math64Inf(sign int) float64 {
	one := 1.0
	zero := 0.0
	if sign < 0 {
		one = -1.0
	}
	return one / zero
}
