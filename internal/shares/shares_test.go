package shares_test

import (
	"testing"

	"github.com/shumy-tools/fedpi/internal/group"
	"github.com/shumy-tools/fedpi/internal/shares"
	"github.com/stretchr/testify/require"
)

func TestReconstructRecoversPolynomial(t *testing.T) {
	threshold := 5
	parties := 3*threshold + 1

	s := group.RandomScalar()
	poly := shares.Random(s, threshold)
	commit := poly.Commit()

	all := poly.Shares(parties)
	pointShares := make([]shares.PointShare, len(all))
	for i, sh := range all {
		pointShares[i] = sh.Lift(group.G())
	}

	subset := all[:2*threshold+1]
	rPoly, err := shares.Reconstruct(subset)
	require.NoError(t, err)
	require.Equal(t, poly.Degree(), rPoly.Degree())
	for i := range poly.A {
		require.True(t, poly.A[i].Equal(rPoly.A[i]))
	}

	pointSubset := pointShares[:2*threshold+1]
	rPointPoly, err := shares.ReconstructPoints(pointSubset)
	require.NoError(t, err)
	require.Equal(t, commit.Degree(), rPointPoly.Degree())
	for i := range commit.A {
		require.True(t, commit.A[i].Equal(rPointPoly.A[i]))
	}
}

func TestInterpolateRecoversSecret(t *testing.T) {
	threshold := 3
	parties := 2*threshold + 1

	s := group.RandomScalar()
	poly := shares.Random(s, threshold)
	all := poly.Shares(parties)

	got, err := shares.Interpolate(all[:threshold+1])
	require.NoError(t, err)
	require.True(t, got.Equal(s))

	gotPoint, err := shares.InterpolatePoints(liftAll(all, group.G()))
	require.NoError(t, err)
	require.True(t, gotPoint.Equal(group.ScalarBaseMult(s)))
}

func TestFeldmanSoundness(t *testing.T) {
	poly := shares.Random(group.RandomScalar(), 2)
	commit := poly.Commit()

	sh := poly.Shares(4)[0]
	good := sh.Lift(group.G())
	require.True(t, commit.VerifyShare(good))

	tampered := shares.PointShare{I: good.I, Yi: good.Yi.Add(group.G())}
	require.False(t, commit.VerifyShare(tampered))
}

func TestShareSubIsRealSubtraction(t *testing.T) {
	a := shares.Share{I: 1, Yi: group.ScalarFromUint64(5)}
	b := shares.Share{I: 1, Yi: group.ScalarFromUint64(3)}

	diff, err := a.Sub(b)
	require.NoError(t, err)
	require.True(t, diff.Yi.Equal(group.ScalarFromUint64(2)))

	sum, err := a.Add(b)
	require.NoError(t, err)
	require.True(t, sum.Yi.Equal(group.ScalarFromUint64(8)))
}

func TestShareIndexMismatch(t *testing.T) {
	a := shares.Share{I: 1, Yi: group.RandomScalar()}
	b := shares.Share{I: 2, Yi: group.RandomScalar()}

	_, err := a.Add(b)
	require.ErrorIs(t, err, shares.ErrIndexMismatch)

	_, err = a.Sub(b)
	require.ErrorIs(t, err, shares.ErrIndexMismatch)
}

func liftAll(all []shares.Share, base group.Point) []shares.PointShare {
	out := make([]shares.PointShare, len(all))
	for i, s := range all {
		out[i] = s.Lift(base)
	}
	return out
}
