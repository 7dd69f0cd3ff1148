// Package dkg implements the three-round master-key negotiation
// protocol: per-peer Feldman-verifiable share voting, admin-side
// aggregation into a symmetric PublicMatrix, and per-peer extraction of
// a locally-held MasterKeyPair. See SPEC_FULL.md §4.6.
package dkg

import (
	"bytes"
	"crypto/sha512"
	"errors"

	"github.com/shumy-tools/fedpi/internal/group"
	"github.com/shumy-tools/fedpi/internal/identity"
	"github.com/shumy-tools/fedpi/internal/shares"
	"github.com/shumy-tools/fedpi/internal/signatures"
)

var (
	ErrPeersHashMismatch  = errors.New("dkg: incorrect peers-hash")
	ErrNoActiveKey        = errors.New("dkg: no active subject-key found")
	ErrBadSignature       = errors.New("dkg: invalid signature")
	ErrUnauthorizedAdmin  = errors.New("dkg: subject not authorized to negotiate a master-key")
	ErrSessionMismatch    = errors.New("dkg: expected the same session")
	ErrKeyIDMismatch      = errors.New("dkg: expected the same key-id")
	ErrLengthMismatch     = errors.New("dkg: vectors of incorrect length")
	ErrBadCommitDegree    = errors.New("dkg: incorrect commitment polynomial degree")
	ErrBadShare           = errors.New("dkg: share fails Feldman verification")
	ErrPeerIndexOutOfRange = errors.New("dkg: peer index out of range")
	ErrAsymmetricMatrix   = errors.New("dkg: expected a symmetric public-matrix")
	ErrBadMatrixShape     = errors.New("dkg: matrix of incorrect shape")
	ErrMissingVotes       = errors.New("dkg: expecting votes from all peers")
	ErrRequestNotFound    = errors.New("dkg: master-key request not found")
	ErrEvidenceExists     = errors.New("dkg: master-key evidence already exists")
	ErrBadShareIndex      = errors.New("dkg: invalid share index")
)

// PeersHash computes SHA-512(P_1 || ... || P_n) over the configured peer
// list, in configuration order.
func PeersHash(peerKeys []group.Point) []byte {
	h := sha512.New()
	for _, p := range peerKeys {
		h.Write(p.Bytes())
	}
	return h.Sum(nil)
}

// MasterKeyRequest opens a negotiation session for key id kid, signed by
// the configured admin subject's active key.
type MasterKeyRequest struct {
	SID       string
	KID       string
	PeersHash []byte
	Sig       signatures.IndSignature
}

func requestData(sid, kid string, peersHash []byte) [][]byte {
	return [][]byte{[]byte(sid), []byte(kid), peersHash}
}

// SignRequest signs a new negotiation request.
func SignRequest(sid, kid string, peersHash []byte, sigS group.Scalar, sigKey identity.SubjectKey) MasterKeyRequest {
	data := requestData(sid, kid, peersHash)
	sig := signatures.SignInd(sigKey.Sig.Index, sigS, sigKey.Key, data)
	return MasterKeyRequest{SID: sid, KID: kid, PeersHash: peersHash, Sig: sig}
}

// Session is the signature encoding used as DKG session material,
// binding every vote to this specific request.
func (r MasterKeyRequest) Session() string { return r.Sig.ID() }

// Check verifies the request's peers-hash, that sid resolves to admin,
// and the signature under admin's active key.
func (r MasterKeyRequest) Check(peersHash []byte, admin identity.Subject, adminKey group.Point) error {
	if !bytes.Equal(r.PeersHash, peersHash) {
		return ErrPeersHashMismatch
	}

	if len(admin.Keys) == 0 {
		return ErrNoActiveKey
	}
	active := admin.Keys[len(admin.Keys)-1]

	if !active.Key.Equal(adminKey) {
		return ErrUnauthorizedAdmin
	}

	data := requestData(r.SID, r.KID, r.PeersHash)
	if !r.Sig.Verify(active.Key, data) {
		return ErrBadSignature
	}

	return nil
}

// EncryptionKeys are per-peer Diffie-Hellman-derived share blinds,
// zeroed once the vote that used them has been produced.
type EncryptionKeys []group.Scalar

// Zero overwrites every key, per the zero-on-drop convention (§9).
func (e EncryptionKeys) Zero() {
	for i := range e {
		e[i].Zero()
	}
}

// DeriveEncryptionKeys computes e_k = H(DH(self, peer_k) || session) for
// every configured peer, in configuration order (self included).
func DeriveEncryptionKeys(selfSecret group.Scalar, peerKeys []group.Point, session string) EncryptionKeys {
	out := make(EncryptionKeys, len(peerKeys))
	for i, peer := range peerKeys {
		dh := peer.ScalarMult(selfSecret)

		h := sha512.New()
		h.Write(dh.Bytes())
		h.Write([]byte(session))
		out[i] = group.ScalarFromWideBytes(h.Sum(nil))
	}
	return out
}

// voteDegree is the polynomial degree required of a vote's commitment,
// n+1 regardless of any configured disclosure threshold (see
// DESIGN.md's "Commit-degree check" decision).
func voteDegree(n int) int { return n + 1 }

// DeriveVoteShares samples a fresh degree-(n+1) polynomial a(x) with
// random a_0, evaluates n shares, commits via Feldman, and blinds each
// share with the matching encryption key. The returned polynomial's
// coefficients (including the secret a_0) must be zeroed by the caller
// once the vote has been produced.
func DeriveVoteShares(n int, e EncryptionKeys) (shares.Polynomial, []shares.Share, shares.PointPolynomial) {
	secret := group.RandomScalar()
	poly := shares.Random(secret, voteDegree(n))
	raw := poly.Shares(n)
	commit := poly.Commit()

	blinded := make([]shares.Share, n)
	for i := range raw {
		blinded[i] = raw[i].AddScalar(e[i])
	}

	return poly, blinded, commit
}

// MasterKeyVote is a peer's signed contribution to a negotiation
// session: its blinded shares, public encryption keys, and commitment.
type MasterKeyVote struct {
	Session   string
	KID       string
	PeersHash []byte

	Shares []shares.Share
	PKeys  []group.Point
	Commit shares.PointPolynomial

	Sig signatures.IndSignature
}

func voteData(session, kid string, peersHash []byte, sh []shares.Share, pkeys []group.Point, commit shares.PointPolynomial) [][]byte {
	data := [][]byte{[]byte(session), []byte(kid), peersHash}
	for _, s := range sh {
		data = append(data, group.ScalarFromUint64(uint64(s.I)).Bytes(), s.Yi.Bytes())
	}
	for _, p := range pkeys {
		data = append(data, p.Bytes())
	}
	for _, a := range commit.A {
		data = append(data, a.Bytes())
	}
	return data
}

// SignVote signs a vote at the given peer index.
func SignVote(session, kid string, peersHash []byte, sh []shares.Share, pkeys []group.Point, commit shares.PointPolynomial, index uint64, sigS group.Scalar, sigKey group.Point) MasterKeyVote {
	data := voteData(session, kid, peersHash, sh, pkeys, commit)
	sig := signatures.SignInd(index, sigS, sigKey, data)
	return MasterKeyVote{Session: session, KID: kid, PeersHash: peersHash, Shares: sh, PKeys: pkeys, Commit: commit, Sig: sig}
}

// Check verifies a vote's framing, commitment degree, signature, and the
// Feldman consistency of every blinded share against pkeys and commit.
func (v MasterKeyVote) Check(session, kid string, peersHash []byte, n int, peerKey group.Point) error {
	if v.Session != session {
		return ErrSessionMismatch
	}
	if v.KID != kid {
		return ErrKeyIDMismatch
	}
	if !bytes.Equal(v.PeersHash, peersHash) {
		return ErrPeersHashMismatch
	}
	if len(v.Shares) != n || len(v.PKeys) != n {
		return ErrLengthMismatch
	}
	if v.Commit.Degree() != voteDegree(n) {
		return ErrBadCommitDegree
	}

	data := voteData(v.Session, v.KID, v.PeersHash, v.Shares, v.PKeys, v.Commit)
	if !v.Sig.Verify(peerKey, data) {
		return ErrBadSignature
	}

	for i := 0; i < n; i++ {
		yi := group.ScalarBaseMult(v.Shares[i].Yi).Sub(v.PKeys[i])
		ps := shares.PointShare{I: v.Shares[i].I, Yi: yi}
		if !v.Commit.VerifyShare(ps) {
			return ErrBadShare
		}
	}

	return nil
}

// MasterKeyCompressedVote keeps only the fields replicated into the
// committed MasterKey evidence.
type MasterKeyCompressedVote struct {
	Shares []shares.Share
	Commit shares.PointPolynomial
	Sig    signatures.IndSignature
}

func (c MasterKeyCompressedVote) check(n int) error {
	if len(c.Shares) != n {
		return ErrLengthMismatch
	}
	if c.Commit.Degree() != voteDegree(n) {
		return ErrBadCommitDegree
	}
	return nil
}

// PublicMatrix is the upper-triangular table of peer encryption public
// keys gathered from every vote: triangle[i] holds E_{i,j} for j >= i.
type PublicMatrix struct {
	Triangle [][]group.Point
}

// BuildPublicMatrix assembles the matrix from n votes (one per peer, in
// peer-index order), enforcing E_{i,j} (from i's vote) ==
// E_{j,i} (from j's vote).
func BuildPublicMatrix(votes []MasterKeyVote) (PublicMatrix, error) {
	n := len(votes)
	matrix := make([][]group.Point, n)

	for i := 0; i < n; i++ {
		line := make([]group.Point, 0, n-i)
		for j := 0; j < n; j++ {
			if !votes[i].PKeys[j].Equal(votes[j].PKeys[i]) {
				return PublicMatrix{}, ErrAsymmetricMatrix
			}
			if j >= i {
				line = append(line, votes[i].PKeys[j])
			}
		}
		matrix[i] = line
	}

	return PublicMatrix{Triangle: matrix}, nil
}

func (m PublicMatrix) check(n int) error {
	if len(m.Triangle) != n {
		return ErrBadMatrixShape
	}
	for i, line := range m.Triangle {
		if len(line) != n-i {
			return ErrBadMatrixShape
		}
	}
	return nil
}

// expand reconstructs the full E-vector for voter index, using the
// triangle's diagonal-stripe rows for columns left of index.
func (m PublicMatrix) expand(n, index int) []group.Point {
	pkeys := make([]group.Point, 0, n)
	for j := 0; j < index; j++ {
		pkeys = append(pkeys, m.Triangle[j][index-j])
	}
	pkeys = append(pkeys, m.Triangle[index]...)
	return pkeys
}

// MasterKey is the admin-published evidence committing a negotiation
// session: the aggregated matrix plus every peer's compressed vote.
type MasterKey struct {
	SID     string
	Session string
	KID     string
	Matrix  PublicMatrix
	Votes   []MasterKeyCompressedVote
	Sig     signatures.IndSignature
}

func evidenceData(sid, session, kid string, matrix PublicMatrix, votes []MasterKeyCompressedVote) [][]byte {
	data := [][]byte{[]byte(sid), []byte(session), []byte(kid)}
	for _, line := range matrix.Triangle {
		for _, p := range line {
			data = append(data, p.Bytes())
		}
	}
	for _, v := range votes {
		for _, s := range v.Shares {
			data = append(data, group.ScalarFromUint64(uint64(s.I)).Bytes(), s.Yi.Bytes())
		}
		for _, a := range v.Commit.A {
			data = append(data, a.Bytes())
		}
	}
	return data
}

// SignEvidence verifies every vote, aggregates the PublicMatrix, and
// signs the resulting evidence under the admin's active key.
func SignEvidence(sid, session, kid string, peersHash []byte, votes []MasterKeyVote, peerKeys []group.Point, sigS group.Scalar, sigKey identity.SubjectKey) (MasterKey, error) {
	n := len(peerKeys)

	for _, v := range votes {
		idx := int(v.Sig.Index)
		if idx < 0 || idx >= n {
			return MasterKey{}, ErrPeerIndexOutOfRange
		}
		if err := v.Check(session, kid, peersHash, n, peerKeys[idx]); err != nil {
			return MasterKey{}, err
		}
	}

	matrix, err := BuildPublicMatrix(votes)
	if err != nil {
		return MasterKey{}, err
	}

	compressed := make([]MasterKeyCompressedVote, len(votes))
	for i, v := range votes {
		compressed[i] = MasterKeyCompressedVote{Shares: v.Shares, Commit: v.Commit, Sig: v.Sig}
	}

	data := evidenceData(sid, session, kid, matrix, compressed)
	sig := signatures.SignInd(sigKey.Sig.Index, sigS, sigKey.Key, data)

	return MasterKey{SID: sid, Session: session, KID: kid, Matrix: matrix, Votes: compressed, Sig: sig}, nil
}

// Check re-verifies every compressed vote by expanding the matrix back
// into a full E-vector per voter and re-running MasterKeyVote.Check.
func (mk MasterKey) Check(peersHash []byte, peerKeys []group.Point) error {
	n := len(peerKeys)

	if err := mk.Matrix.check(n); err != nil {
		return err
	}
	if len(mk.Votes) != n {
		return ErrMissingVotes
	}

	for i := 0; i < n; i++ {
		item := mk.Votes[i]
		if err := item.check(n); err != nil {
			return err
		}

		expanded := MasterKeyVote{
			Session:   mk.Session,
			KID:       mk.KID,
			PeersHash: peersHash,
			Shares:    item.Shares,
			PKeys:     mk.Matrix.expand(n, i),
			Commit:    item.Commit,
			Sig:       item.Sig,
		}

		idx := int(item.Sig.Index)
		if idx < 0 || idx >= n {
			return ErrPeerIndexOutOfRange
		}
		if err := expanded.Check(mk.Session, mk.KID, peersHash, n, peerKeys[idx]); err != nil {
			return err
		}
	}

	return nil
}

// Extract collects, for the local peer index, the blinded share and
// commitment from every vote, and accumulates the public key Y = Σ A_0.
func (mk MasterKey) Extract(index int) ([]shares.Share, []shares.PointPolynomial, group.Point) {
	n := len(mk.Votes)

	out := make([]shares.Share, n)
	commits := make([]shares.PointPolynomial, n)
	pub := group.IdentityPoint()

	for i, vote := range mk.Votes {
		out[i] = vote.Shares[index]
		commits[i] = vote.Commit
		pub = pub.Add(vote.Commit.A[0])
	}

	return out, commits, pub
}

// MasterKeyPair is the locally-recovered key material for kid: a share
// of the distributed secret and its public counterpart, never stored in
// replicated global state.
type MasterKeyPair struct {
	KID    string
	Share  shares.Share
	Public group.Point
}

// Zero overwrites the held share, per the zero-on-drop convention (§9).
func (p *MasterKeyPair) Zero() { p.Share.Zero() }

// Recover reconstructs this peer's local key-pair from MasterKey
// evidence: for each vote, unblinds the share with the matching
// encryption key and checks it against the vote's commitment, then sums.
func Recover(kid string, index int, evidence []shares.Share, commits []shares.PointPolynomial, public group.Point, e EncryptionKeys) (MasterKeyPair, error) {
	n := len(evidence)
	if n != len(e) || n != len(commits) {
		return MasterKeyPair{}, ErrLengthMismatch
	}

	shareIndex := evidence[0].I
	secret := group.ZeroScalar()

	for i := range evidence {
		if evidence[i].I != shareIndex {
			return MasterKeyPair{}, ErrBadShareIndex
		}

		unblinded := evidence[i].AddScalar(e[i].Negate())
		check := group.ScalarBaseMult(unblinded.Yi)
		if !commits[i].VerifyShare(shares.PointShare{I: unblinded.I, Yi: check}) {
			return MasterKeyPair{}, ErrBadShare
		}

		secret = secret.Add(unblinded.Yi)
	}

	return MasterKeyPair{KID: kid, Share: shares.Share{I: shareIndex, Yi: secret}, Public: public}, nil
}
