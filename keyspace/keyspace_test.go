package keyspace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromHashDeterministic(t *testing.T) {
	h := HashKey([]byte("node-a"))
	c1 := FromHash(h)
	c2 := FromHash(h)
	require.Equal(t, c1, c2)
}

func TestFromHashBitFlipChangesComponent(t *testing.T) {
	h := HashKey([]byte("node-a"))
	c1 := FromHash(h)

	flipped := h
	flipped[0] ^= 0x01
	c2 := FromHash(flipped)

	assert.NotEqual(t, c1, c2, "flipping one bit of H(k) must change at least one component")
}

func TestCoordComponentsInRange(t *testing.T) {
	for _, in := range [][]byte{[]byte("a"), []byte("b"), []byte("some longer key material")} {
		c := Of(in)
		for _, v := range c {
			assert.GreaterOrEqual(t, v, -1.0)
			assert.LessOrEqual(t, v, 1.0)
		}
	}
}

func TestDistanceIsToroidal(t *testing.T) {
	a := Coord{0.99, 0}
	b := Coord{-0.99, 0}
	// The direct delta is 1.98, but wrapping around gives 0.02.
	assert.InDelta(t, 0.02, Distance(a, b), 1e-9)
}

func TestDistanceSymmetric(t *testing.T) {
	a := Of([]byte("k1"))
	b := Of([]byte("k2"))
	assert.Equal(t, Distance(a, b), Distance(b, a))
}

func TestDistanceZeroForEqualPoints(t *testing.T) {
	c := Of([]byte("same"))
	assert.Equal(t, 0.0, Distance(c, c))
}

func TestAngleUndefinedIsPi(t *testing.T) {
	ref := Coord{0, 0}
	zero := Coord{0, 0}
	other := Coord{0.5, 0.5}
	assert.Equal(t, 3.141592653589793, Angle(ref, zero, other))
}

func TestAngleRangeBounded(t *testing.T) {
	ref := Coord{0, 0}
	v1 := Coord{1, 0}
	v2 := Coord{0, 1}
	a := Angle(ref, v1, v2)
	assert.GreaterOrEqual(t, a, 0.0)
	assert.LessOrEqual(t, a, 3.141592653589794)
}
