// Package keyspace embeds public keys into the toroidal coordinate space
// nodes use to find each other (spec.md §3, §4.A).
package keyspace

import (
	"crypto/sha256"
	"math"
)

// Dimensions is the network-wide dimensionality N of the coordinate space.
// Changing it changes the network's topology; every node must agree on it.
const Dimensions = 2

// Width is the torus width W used by every axis.
const Width = 2.0

// HashSize is the length in bytes of H(k).
const HashSize = sha256.Size

// Hash is H(k): the 32-byte SHA-256 digest of a public key's canonical
// encoding. It doubles as the node identifier and as the seed for Coord.
type Hash [HashSize]byte

// HashKey computes H(k) for a canonical public key encoding.
func HashKey(canonical []byte) Hash {
	return Hash(sha256.Sum256(canonical))
}

// Coord is a point in the N-dimensional toroidal key space, each
// component in (-1, 1].
type Coord [Dimensions]float64

// FromHash derives the deterministic embedding coord(k) = f(H(k)) by
// splitting the digest into Dimensions equal byte ranges, interpreting
// each as an unsigned big-endian integer, and linearly mapping it onto
// (-1, 1].
func FromHash(h Hash) Coord {
	const rangeLen = HashSize / Dimensions
	var c Coord
	for i := 0; i < Dimensions; i++ {
		start := i * rangeLen
		var v float64
		for _, b := range h[start : start+rangeLen] {
			v = v*256 + float64(b)
		}
		max := math.Pow(256, float64(rangeLen)) - 1
		// Map [0, max] -> (-1, 1]: shift then scale so 0 maps just above -1.
		c[i] = ((v+1)/(max+1))*Width - 1
	}
	return c
}

// Of is a convenience wrapper computing coord(k) directly from a
// canonical public key encoding.
func Of(canonical []byte) Coord {
	return FromHash(HashKey(canonical))
}

// axisDelta returns the toroidal distance along one axis: min(|Δ|, W-|Δ|).
func axisDelta(a, b float64) float64 {
	d := math.Abs(a - b)
	if d > Width-d {
		return Width - d
	}
	return d
}

// Distance computes d(a,b), the Euclidean norm of the per-axis toroidal
// deltas.
func Distance(a, b Coord) float64 {
	var sumSq float64
	for i := 0; i < Dimensions; i++ {
		delta := axisDelta(a[i], b[i])
		sumSq += delta * delta
	}
	return math.Sqrt(sumSq)
}

// Angle computes the angle at the origin between the toroidally-reduced
// vectors from reference to v1 and from reference to v2, in [0, π].
// Undefined (by spec.md §4.A) when either vector has zero norm; that
// case returns π, the "most diverse" value, so callers never need a
// special case.
func Angle(reference, v1, v2 Coord) float64 {
	var d1, d2 Coord
	for i := 0; i < Dimensions; i++ {
		d1[i] = signedAxisDelta(v1[i], reference[i])
		d2[i] = signedAxisDelta(v2[i], reference[i])
	}
	var dot, n1, n2 float64
	for i := 0; i < Dimensions; i++ {
		dot += d1[i] * d2[i]
		n1 += d1[i] * d1[i]
		n2 += d2[i] * d2[i]
	}
	if n1 == 0 || n2 == 0 {
		return math.Pi
	}
	cos := dot / (math.Sqrt(n1) * math.Sqrt(n2))
	// Guard against floating-point drift pushing cos outside [-1, 1].
	cos = math.Max(-1, math.Min(1, cos))
	return math.Acos(cos)
}

// signedAxisDelta returns the signed toroidal delta a-b along one axis,
// taking the shorter way around the torus.
func signedAxisDelta(a, b float64) float64 {
	d := a - b
	switch {
	case d > Width/2:
		return d - Width
	case d < -Width/2:
		return d + Width
	default:
		return d
	}
}
