// Package group wraps the Ristretto255 prime-order group for the rest of
// the node: uniform scalars, group elements, and their canonical and
// base-58 display encodings. Nothing outside this package touches
// gtank/ristretto255 directly.
package group

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/gtank/ristretto255"
	"github.com/mr-tron/base58"
)

// ErrMalformedScalar is returned when 32 bytes do not decode to a canonical scalar.
var ErrMalformedScalar = errors.New("group: malformed scalar")

// ErrMalformedPoint is returned when 32 bytes do not decode to a canonical point.
var ErrMalformedPoint = errors.New("group: malformed point")

// Scalar is an element of the Ristretto255 scalar field.
type Scalar struct {
	s *ristretto255.Scalar
}

// Point is a Ristretto255 group element.
type Point struct {
	p *ristretto255.Element
}

// G is the fixed base generator.
func G() Point {
	var oneBytes [32]byte
	oneBytes[0] = 1
	one, err := ristretto255.NewScalar().SetCanonicalBytes(oneBytes[:])
	if err != nil {
		panic(err)
	}
	return Point{p: ristretto255.NewIdentityElement().ScalarBaseMult(one)}
}

// RandomScalar draws a uniform scalar from a cryptographic RNG.
func RandomScalar() Scalar {
	var buf [64]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(fmt.Sprintf("group: rng failure: %v", err))
	}
	s, err := ristretto255.NewScalar().SetUniformBytes(buf[:])
	if err != nil {
		panic(fmt.Sprintf("group: unreachable SetUniformBytes failure: %v", err))
	}
	return Scalar{s: s}
}

// ZeroScalar is the additive identity.
func ZeroScalar() Scalar {
	return Scalar{s: ristretto255.NewScalar()}
}

// ScalarFromUint64 lifts a small non-negative integer into the scalar field;
// used for peer/key indices in Lagrange arithmetic.
func ScalarFromUint64(n uint64) Scalar {
	var buf [64]byte
	buf[0] = byte(n)
	buf[1] = byte(n >> 8)
	buf[2] = byte(n >> 16)
	buf[3] = byte(n >> 24)
	buf[4] = byte(n >> 32)
	buf[5] = byte(n >> 40)
	buf[6] = byte(n >> 48)
	buf[7] = byte(n >> 56)
	s, err := ristretto255.NewScalar().SetUniformBytes(buf[:])
	if err != nil {
		panic(fmt.Sprintf("group: unreachable SetUniformBytes failure: %v", err))
	}
	return Scalar{s: s}
}

// ScalarFromWideBytes reduces an arbitrary-length hash digest (>= 64 bytes)
// modulo the scalar field order, as used throughout the signature and DKG
// kernels (H(...) mod q).
func ScalarFromWideBytes(wide []byte) Scalar {
	buf := make([]byte, 64)
	copy(buf, wide)
	s, err := ristretto255.NewScalar().SetUniformBytes(buf)
	if err != nil {
		panic(fmt.Sprintf("group: unreachable SetUniformBytes failure: %v", err))
	}
	return Scalar{s: s}
}

// ScalarFromCanonicalBytes decodes 32 canonical little-endian bytes.
func ScalarFromCanonicalBytes(b []byte) (Scalar, error) {
	s, err := ristretto255.NewScalar().SetCanonicalBytes(b)
	if err != nil {
		return Scalar{}, ErrMalformedScalar
	}
	return Scalar{s: s}, nil
}

// ScalarFromBase58 decodes a base-58 display string.
func ScalarFromBase58(text string) (Scalar, error) {
	raw, err := base58.Decode(text)
	if err != nil {
		return Scalar{}, fmt.Errorf("%w: %v", ErrMalformedScalar, err)
	}
	return ScalarFromCanonicalBytes(raw)
}

// Bytes returns the 32-byte canonical encoding.
func (s Scalar) Bytes() []byte { return s.s.Bytes() }

// String returns the base-58 display encoding.
func (s Scalar) String() string { return base58.Encode(s.Bytes()) }

// Add returns s + o.
func (s Scalar) Add(o Scalar) Scalar {
	return Scalar{s: ristretto255.NewScalar().Add(s.s, o.s)}
}

// Sub returns s - o.
func (s Scalar) Sub(o Scalar) Scalar {
	return Scalar{s: ristretto255.NewScalar().Subtract(s.s, o.s)}
}

// Mul returns s * o.
func (s Scalar) Mul(o Scalar) Scalar {
	return Scalar{s: ristretto255.NewScalar().Multiply(s.s, o.s)}
}

// Negate returns -s.
func (s Scalar) Negate() Scalar {
	return Scalar{s: ristretto255.NewScalar().Negate(s.s)}
}

// Invert returns s^-1. Undefined for the zero scalar.
func (s Scalar) Invert() Scalar {
	return Scalar{s: ristretto255.NewScalar().Invert(s.s)}
}

// Equal reports whether s and o encode the same field element.
func (s Scalar) Equal(o Scalar) bool {
	return s.s.Equal(o.s) == 1
}

// IsZero reports whether s is the additive identity.
func (s Scalar) IsZero() bool {
	return s.Equal(ZeroScalar())
}

// Zero overwrites the scalar's storage, following the zero-on-drop
// convention for secret material (§9). Go has no destructors, so callers
// invoke this explicitly once the secret is no longer needed.
func (s *Scalar) Zero() {
	zero, _ := ristretto255.NewScalar().SetCanonicalBytes(make([]byte, 32))
	s.s = zero
}

// ScalarBaseMult returns s * G.
func ScalarBaseMult(s Scalar) Point {
	return Point{p: ristretto255.NewIdentityElement().ScalarBaseMult(s.s)}
}

// IdentityPoint is the group's neutral element.
func IdentityPoint() Point {
	return Point{p: ristretto255.NewIdentityElement()}
}

// PointFromCanonicalBytes decodes 32 canonical bytes.
func PointFromCanonicalBytes(b []byte) (Point, error) {
	p, err := ristretto255.NewIdentityElement().SetCanonicalBytes(b)
	if err != nil {
		return Point{}, ErrMalformedPoint
	}
	return Point{p: p}, nil
}

// PointFromBase58 decodes a base-58 display string.
func PointFromBase58(text string) (Point, error) {
	raw, err := base58.Decode(text)
	if err != nil {
		return Point{}, fmt.Errorf("%w: %v", ErrMalformedPoint, err)
	}
	return PointFromCanonicalBytes(raw)
}

// Bytes returns the 32-byte canonical encoding.
func (p Point) Bytes() []byte { return p.p.Bytes() }

// String returns the base-58 display encoding.
func (p Point) String() string { return base58.Encode(p.Bytes()) }

// Add returns p + o.
func (p Point) Add(o Point) Point {
	return Point{p: ristretto255.NewIdentityElement().Add(p.p, o.p)}
}

// Sub returns p - o.
func (p Point) Sub(o Point) Point {
	return Point{p: ristretto255.NewIdentityElement().Subtract(p.p, o.p)}
}

// ScalarMult returns s * p.
func (p Point) ScalarMult(s Scalar) Point {
	return Point{p: ristretto255.NewIdentityElement().ScalarMult(s.s, p.p)}
}

// Equal reports whether p and o encode the same group element.
func (p Point) Equal(o Point) bool {
	return p.p.Equal(o.p) == 1
}

// IsIdentity reports whether p is the group's neutral element.
func (p Point) IsIdentity() bool {
	return p.Equal(IdentityPoint())
}
