// Package shares implements the Shamir/Feldman polynomial and share
// algebra over the Ristretto255 group: degree-t polynomials, share
// generation, barycentric Lagrange interpolation and reconstruction, and
// Feldman public commitments.
package shares

import (
	"errors"

	"github.com/shumy-tools/fedpi/internal/group"
)

// ErrEmptyShares is returned when interpolation/reconstruction is attempted
// over no shares.
var ErrEmptyShares = errors.New("shares: empty share set")

// ErrIndexMismatch is returned by Share/PointShare arithmetic when the two
// operands carry different peer indices.
var ErrIndexMismatch = errors.New("shares: index mismatch")

// Share is a Shamir share (i, y_i), one-based peer index i.
type Share struct {
	I  uint32
	Yi group.Scalar
}

// PointShare is a share lifted into the group: (i, Y_i).
type PointShare struct {
	I  uint32
	Yi group.Point
}

// Add returns the component-wise sum of two shares at the same index.
func (s Share) Add(o Share) (Share, error) {
	if s.I != o.I {
		return Share{}, ErrIndexMismatch
	}
	return Share{I: s.I, Yi: s.Yi.Add(o.Yi)}, nil
}

// Sub returns the component-wise difference of two shares at the same
// index. The original this was distilled from adds instead of subtracting
// here (a documented bug, see SPEC_FULL.md §9); this implementation
// performs real subtraction.
func (s Share) Sub(o Share) (Share, error) {
	if s.I != o.I {
		return Share{}, ErrIndexMismatch
	}
	return Share{I: s.I, Yi: s.Yi.Sub(o.Yi)}, nil
}

// AddScalar returns the share shifted by a scalar.
func (s Share) AddScalar(o group.Scalar) Share {
	return Share{I: s.I, Yi: s.Yi.Add(o)}
}

// MulScalar returns the share scaled by a scalar.
func (s Share) MulScalar(o group.Scalar) Share {
	return Share{I: s.I, Yi: s.Yi.Mul(o)}
}

// Lift embeds the share into the group via multiplication by base (G(),
// or a profile key during disclosure).
func (s Share) Lift(base group.Point) PointShare {
	return PointShare{I: s.I, Yi: base.ScalarMult(s.Yi)}
}

// Zero overwrites the share's scalar, per the zero-on-drop convention for
// secret material (SPEC_FULL.md §9).
func (s *Share) Zero() { s.Yi.Zero() }

// Add returns the component-wise sum of two point-shares at the same index.
func (s PointShare) Add(o PointShare) (PointShare, error) {
	if s.I != o.I {
		return PointShare{}, ErrIndexMismatch
	}
	return PointShare{I: s.I, Yi: s.Yi.Add(o.Yi)}, nil
}

// Sub returns the component-wise difference of two point-shares at the
// same index.
func (s PointShare) Sub(o PointShare) (PointShare, error) {
	if s.I != o.I {
		return PointShare{}, ErrIndexMismatch
	}
	return PointShare{I: s.I, Yi: s.Yi.Sub(o.Yi)}, nil
}

// AddPoint returns the point-share shifted by a group element.
func (s PointShare) AddPoint(o group.Point) PointShare {
	return PointShare{I: s.I, Yi: s.Yi.Add(o)}
}

// MulScalar returns the point-share scaled by a scalar.
func (s PointShare) MulScalar(o group.Scalar) PointShare {
	return PointShare{I: s.I, Yi: s.Yi.ScalarMult(o)}
}

// Polynomial is a(x) = a_0 + a_1 x + ... + a_t x^t over the scalar field.
type Polynomial struct {
	A []group.Scalar
}

// PointPolynomial is the same with group-element coefficients.
type PointPolynomial struct {
	A []group.Point
}

// Random samples a degree-t polynomial with a_0 fixed to secret and the
// remaining coefficients drawn uniformly.
func Random(secret group.Scalar, degree int) Polynomial {
	coeffs := make([]group.Scalar, degree+1)
	coeffs[0] = secret
	for i := 1; i <= degree; i++ {
		coeffs[i] = group.RandomScalar()
	}
	return Polynomial{A: coeffs}
}

// Degree returns len(A) - 1.
func (p Polynomial) Degree() int { return len(p.A) - 1 }

// Evaluate computes a(x) via Horner's rule.
func (p Polynomial) Evaluate(x group.Scalar) group.Scalar {
	acc := p.A[len(p.A)-1]
	for i := len(p.A) - 2; i >= 0; i-- {
		acc = acc.Mul(x).Add(p.A[i])
	}
	return acc
}

// Shares produces (i, a(i)) for i in [1, n].
func (p Polynomial) Shares(n int) []Share {
	out := make([]Share, n)
	for j := 1; j <= n; j++ {
		x := group.ScalarFromUint64(uint64(j))
		out[j-1] = Share{I: uint32(j), Yi: p.Evaluate(x)}
	}
	return out
}

// Commit returns the Feldman commitment polynomial a(x) * G.
func (p Polynomial) Commit() PointPolynomial {
	coeffs := make([]group.Point, len(p.A))
	for i, a := range p.A {
		coeffs[i] = group.ScalarBaseMult(a)
	}
	return PointPolynomial{A: coeffs}
}

// Zero overwrites every coefficient, per the zero-on-drop convention.
func (p *Polynomial) Zero() {
	for i := range p.A {
		p.A[i].Zero()
	}
}

// li computes the Lagrange basis coefficient L_i(0) = prod_{j!=i} x_j/(x_j-x_i).
func li(xs []group.Scalar, i int) group.Scalar {
	num := group.ScalarFromUint64(1)
	den := group.ScalarFromUint64(1)
	for j := range xs {
		if j == i {
			continue
		}
		num = num.Mul(xs[j])
		den = den.Mul(xs[j].Sub(xs[i]))
	}
	return num.Mul(den.Invert())
}

// Interpolate returns sum_i L_i(0) * y_i, the secret at x=0.
func Interpolate(shares []Share) (group.Scalar, error) {
	if len(shares) == 0 {
		return group.Scalar{}, ErrEmptyShares
	}
	xs := make([]group.Scalar, len(shares))
	for i, s := range shares {
		xs[i] = group.ScalarFromUint64(uint64(s.I))
	}

	acc := group.ZeroScalar()
	for i, s := range shares {
		acc = acc.Add(li(xs, i).Mul(s.Yi))
	}
	return acc, nil
}

// InterpolatePoints is the point analogue of Interpolate.
func InterpolatePoints(shares []PointShare) (group.Point, error) {
	if len(shares) == 0 {
		return group.Point{}, ErrEmptyShares
	}
	xs := make([]group.Scalar, len(shares))
	for i, s := range shares {
		xs[i] = group.ScalarFromUint64(uint64(s.I))
	}

	acc := group.IdentityPoint()
	for i, s := range shares {
		acc = acc.Add(s.Yi.ScalarMult(li(xs, i)))
	}
	return acc, nil
}

// lagrangeNumerator builds the numerator polynomial num_i(x) = prod_{j!=i} (x - x_j)
// by repeated linear multiplication, and returns it along with the scalar
// denominator 1/denom_i.
func lagrangeNumerator(xs []group.Scalar, i int) ([]group.Scalar, group.Scalar) {
	num := []group.Scalar{group.ScalarFromUint64(1)}
	denom := group.ScalarFromUint64(1)

	for j := range xs {
		if j == i {
			continue
		}
		num = shortMul(num, xs[j].Negate())
		denom = denom.Mul(xs[i].Sub(xs[j]))
	}

	return num, denom.Invert()
}

// shortMul multiplies the polynomial a by the linear factor (x + b), i.e.
// computes a(x)*(x+b), returning a new coefficient vector one degree longer.
func shortMul(a []group.Scalar, b group.Scalar) []group.Scalar {
	out := make([]group.Scalar, len(a)+1)
	prev := a[0]
	out[0] = a[0].Mul(b)
	for i := 1; i < len(a); i++ {
		this := a[i]
		out[i] = prev.Add(a[i].Mul(b))
		prev = this
	}
	out[len(a)] = prev
	return out
}

// Reconstruct returns the full polynomial by summing y_i * num_i(x) / denom_i
// over the supplied shares, trimming trailing zero coefficients.
func Reconstruct(shares []Share) (Polynomial, error) {
	if len(shares) == 0 {
		return Polynomial{}, ErrEmptyShares
	}
	xs := make([]group.Scalar, len(shares))
	for i, s := range shares {
		xs[i] = group.ScalarFromUint64(uint64(s.I))
	}

	acc := make([]group.Scalar, len(shares))
	for i := range acc {
		acc[i] = group.ZeroScalar()
	}

	for i, s := range shares {
		num, invDenom := lagrangeNumerator(xs, i)
		coeff := s.Yi.Mul(invDenom)
		for j, nj := range num {
			acc[j] = acc[j].Add(nj.Mul(coeff))
		}
	}

	return Polynomial{A: trimTrailingZeroScalars(acc)}, nil
}

// ReconstructPoints is the point analogue of Reconstruct.
func ReconstructPoints(shares []PointShare) (PointPolynomial, error) {
	if len(shares) == 0 {
		return PointPolynomial{}, ErrEmptyShares
	}
	xs := make([]group.Scalar, len(shares))
	for i, s := range shares {
		xs[i] = group.ScalarFromUint64(uint64(s.I))
	}

	acc := make([]group.Point, len(shares))
	for i := range acc {
		acc[i] = group.IdentityPoint()
	}

	for i, s := range shares {
		num, invDenom := lagrangeNumerator(xs, i)
		for j, nj := range num {
			acc[j] = acc[j].Add(s.Yi.ScalarMult(nj.Mul(invDenom)))
		}
	}

	return PointPolynomial{A: trimTrailingZeroPoints(acc)}, nil
}

func trimTrailingZeroScalars(a []group.Scalar) []group.Scalar {
	end := len(a)
	for end > 1 && a[end-1].IsZero() {
		end--
	}
	return a[:end]
}

func trimTrailingZeroPoints(a []group.Point) []group.Point {
	end := len(a)
	for end > 1 && a[end-1].IsIdentity() {
		end--
	}
	return a[:end]
}

// Degree returns len(A) - 1.
func (pp PointPolynomial) Degree() int { return len(pp.A) - 1 }

// Evaluate computes A(x) via Horner's rule.
func (pp PointPolynomial) Evaluate(x group.Scalar) group.Point {
	acc := pp.A[len(pp.A)-1]
	for i := len(pp.A) - 2; i >= 0; i-- {
		acc = acc.ScalarMult(x).Add(pp.A[i])
	}
	return acc
}

// VerifyShare accepts iff share.Yi == pp.Evaluate(share.I) (the Feldman check).
func (pp PointPolynomial) VerifyShare(share PointShare) bool {
	x := group.ScalarFromUint64(uint64(share.I))
	return share.Yi.Equal(pp.Evaluate(x))
}
