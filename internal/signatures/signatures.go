// Package signatures implements the three Schnorr-over-Ristretto255
// signature flavors used throughout the node: bare, key-bound
// (ExtSignature), and index-bound (IndSignature), all timestamped.
package signatures

import (
	"crypto/sha512"
	"encoding/binary"
	"time"

	"github.com/mr-tron/base58"
	"github.com/shumy-tools/fedpi/internal/group"
)

// Signature is a Schnorr signature (c, p, timestamp) over an ordered
// byte-vector D, verified against a public point P and base point B.
type Signature struct {
	C         group.Scalar
	P         group.Scalar
	Timestamp int64
}

// Sign produces a Signature over data under secret s, public P = s*B, and
// base B (usually group.G()). See SPEC_FULL.md §3/§4.3.
func Sign(s group.Scalar, pub, base group.Point, data [][]byte) Signature {
	ts := time.Now().Unix()

	h := sha512.New()
	h.Write(s.Bytes())
	for _, d := range data {
		h.Write(d)
	}
	m := group.ScalarFromWideBytes(h.Sum(nil))

	mBase := base.ScalarMult(m)

	h2 := sha512.New()
	h2.Write(pub.Bytes())
	h2.Write(mBase.Bytes())
	h2.Write(timestampBytes(ts))
	for _, d := range data {
		h2.Write(d)
	}
	c := group.ScalarFromWideBytes(h2.Sum(nil))

	p := m.Sub(c.Mul(s))

	return Signature{C: c, P: p, Timestamp: ts}
}

// Verify recomputes M' = c*P + p*B and checks H(P||M'||ts||D) == c.
func (sig Signature) Verify(pub, base group.Point, data [][]byte) bool {
	m := pub.ScalarMult(sig.C).Add(base.ScalarMult(sig.P))

	h := sha512.New()
	h.Write(pub.Bytes())
	h.Write(m.Bytes())
	h.Write(timestampBytes(sig.Timestamp))
	for _, d := range data {
		h.Write(d)
	}
	c := group.ScalarFromWideBytes(h.Sum(nil))

	return c.Equal(sig.C)
}

// CheckTimestamp accepts iff |now - ts| <= threshold.
func (sig Signature) CheckTimestamp(threshold time.Duration) bool {
	now := time.Now().Unix()
	thr := int64(threshold.Seconds())
	return now >= sig.Timestamp-thr && now <= sig.Timestamp+thr
}

// Encoded returns the base-58 display encoding of (c || p), used as a
// signature identifier and as session material for DKG encryption keys.
func (sig Signature) Encoded() string {
	buf := make([]byte, 0, 64)
	buf = append(buf, sig.C.Bytes()...)
	buf = append(buf, sig.P.Bytes()...)
	return base58.Encode(buf)
}

func timestampBytes(ts int64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(ts))
	return buf[:]
}

// ExtSignature carries the signer's public key alongside the signature,
// always verified over base G.
type ExtSignature struct {
	Sig Signature
	Key group.Point
}

// SignExt signs data under secret s with public key = s*G.
func SignExt(s group.Scalar, key group.Point, data [][]byte) ExtSignature {
	return ExtSignature{Sig: Sign(s, key, group.G(), data), Key: key}
}

// Verify checks the embedded key over base G.
func (e ExtSignature) Verify(data [][]byte) bool {
	return e.Sig.Verify(e.Key, group.G(), data)
}

// ID returns the signature's base-58 identifier.
func (e ExtSignature) ID() string { return e.Sig.Encoded() }

// IndSignature carries a peer/key index alongside the signature; the
// verifying public key is supplied by the caller (the key the index
// names), always over base G.
type IndSignature struct {
	Index uint64
	Sig   Signature
}

// SignInd signs data under secret s with key index, verified under key = s*G.
func SignInd(index uint64, s group.Scalar, key group.Point, data [][]byte) IndSignature {
	return IndSignature{Index: index, Sig: Sign(s, key, group.G(), data)}
}

// Verify checks the signature under the caller-supplied public key over base G.
func (ind IndSignature) Verify(key group.Point, data [][]byte) bool {
	return ind.Sig.Verify(key, group.G(), data)
}

// ID returns the signature's base-58 identifier.
func (ind IndSignature) ID() string { return ind.Sig.Encoded() }

// EncodeUint64BE big-endian encodes an index for inclusion in a signed
// byte-vector D, matching the "index_be" fields named throughout
// SPEC_FULL.md §3 (subject/profile key indices).
func EncodeUint64BE(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}
