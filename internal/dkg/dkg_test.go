package dkg_test

import (
	"testing"

	"github.com/shumy-tools/fedpi/internal/dkg"
	"github.com/shumy-tools/fedpi/internal/group"
	"github.com/shumy-tools/fedpi/internal/identity"
	"github.com/shumy-tools/fedpi/internal/shares"
	"github.com/stretchr/testify/require"
)

const testAdminSID = "s-id:admin"

func newAdmin(t *testing.T) (identity.Subject, group.Scalar, identity.SubjectKey) {
	t.Helper()
	sigS := group.RandomScalar()
	admin := identity.NewSubject(testAdminSID)
	_, key := admin.Evolve(sigS)
	admin.Keys = append(admin.Keys, key)
	return admin, sigS, key
}

func TestMasterKeyNegotiationRoundTrip(t *testing.T) {
	const n = 4
	secrets := make([]group.Scalar, n)
	pubkeys := make([]group.Point, n)
	for i := range secrets {
		secrets[i] = group.RandomScalar()
		pubkeys[i] = group.ScalarBaseMult(secrets[i])
	}

	peersHash := dkg.PeersHash(pubkeys)
	admin, adminS, adminKey := newAdmin(t)

	req := dkg.SignRequest(testAdminSID, "master", peersHash, adminS, adminKey)
	require.NoError(t, req.Check(peersHash, admin, adminKey.Key))

	session := req.Session()

	votes := make([]dkg.MasterKeyVote, n)
	for i := 0; i < n; i++ {
		e := dkg.DeriveEncryptionKeys(secrets[i], pubkeys, session)
		poly, blinded, commit := dkg.DeriveVoteShares(n, e)
		pkeys := make([]group.Point, n)
		for j := range e {
			pkeys[j] = group.ScalarBaseMult(e[j])
		}
		votes[i] = dkg.SignVote(session, "master", peersHash, blinded, pkeys, commit, uint64(i), secrets[i], pubkeys[i])
		poly.Zero()
		e.Zero()
	}

	evidence, err := dkg.SignEvidence(testAdminSID, session, "master", peersHash, votes, pubkeys, adminS, adminKey)
	require.NoError(t, err)
	require.NoError(t, evidence.Check(peersHash, pubkeys))

	pairs := make([]dkg.MasterKeyPair, n)
	for p := 0; p < n; p++ {
		evShares, commits, public := evidence.Extract(p)
		ep := dkg.DeriveEncryptionKeys(secrets[p], pubkeys, session)
		pair, err := dkg.Recover("master", p, evShares, commits, public, ep)
		require.NoError(t, err)
		pairs[p] = pair
		ep.Zero()
	}

	for i := 1; i < n; i++ {
		require.True(t, pairs[0].Public.Equal(pairs[i].Public))
	}

	// the recovered per-peer shares are consistent with the aggregate
	// commitment polynomial (sum of every vote's commitment).
	sum := votes[0].Commit
	for i := 1; i < n; i++ {
		for k := range sum.A {
			sum.A[k] = sum.A[k].Add(votes[i].Commit.A[k])
		}
	}
	for p := 0; p < n; p++ {
		ps := shares.PointShare{I: pairs[p].Share.I, Yi: group.ScalarBaseMult(pairs[p].Share.Yi)}
		require.True(t, sum.VerifyShare(ps))
	}
}

func TestVoteCommitDegreeConvention(t *testing.T) {
	const n = 3
	e := make(dkg.EncryptionKeys, n)
	for i := range e {
		e[i] = group.RandomScalar()
	}

	poly, _, commit := dkg.DeriveVoteShares(n, e)
	defer poly.Zero()

	require.Equal(t, n+1, commit.Degree())
	require.Len(t, commit.A, n+2)
}

func TestVoteRejectsAsymmetricMatrix(t *testing.T) {
	const n = 2
	secrets := make([]group.Scalar, n)
	pubkeys := make([]group.Point, n)
	for i := range secrets {
		secrets[i] = group.RandomScalar()
		pubkeys[i] = group.ScalarBaseMult(secrets[i])
	}
	peersHash := dkg.PeersHash(pubkeys)
	session := "test-session"

	votes := make([]dkg.MasterKeyVote, n)
	for i := 0; i < n; i++ {
		e := dkg.DeriveEncryptionKeys(secrets[i], pubkeys, session)
		poly, blinded, commit := dkg.DeriveVoteShares(n, e)
		pkeys := make([]group.Point, n)
		for j := range e {
			pkeys[j] = group.ScalarBaseMult(e[j])
		}
		if i == 1 {
			// tamper with one column to break the symmetry invariant
			pkeys[0] = group.ScalarBaseMult(group.RandomScalar())
		}
		votes[i] = dkg.SignVote(session, "master", peersHash, blinded, pkeys, commit, uint64(i), secrets[i], pubkeys[i])
		poly.Zero()
	}

	_, err := dkg.BuildPublicMatrix(votes)
	require.ErrorIs(t, err, dkg.ErrAsymmetricMatrix)
}
