package consent_test

import (
	"testing"

	"github.com/shumy-tools/fedpi/internal/consent"
	"github.com/shumy-tools/fedpi/internal/group"
	"github.com/shumy-tools/fedpi/internal/identity"
	"github.com/stretchr/testify/require"
)

func newSubjectWithProfile(t *testing.T, sid, typ, lurl string) (identity.Subject, group.Scalar, identity.SubjectKey) {
	t.Helper()
	sigS := group.RandomScalar()
	sub := identity.NewSubject(sid)
	_, skey := sub.Evolve(sigS)
	sub.Keys = append(sub.Keys, skey)

	p := identity.NewProfile(typ, lurl)
	_, pk := p.Evolve(sid, sigS, skey, false)
	p.Chain = append(p.Chain, pk)
	sub.Push(p)

	return sub, sigS, skey
}

func TestConsentSignAndCheck(t *testing.T) {
	sub, sigS, skey := newSubjectWithProfile(t, "s-id:shumy", "Assets", "https://profile-url.org")
	pid := identity.PID("Assets", "https://profile-url.org")

	c := consent.Sign(sub.SID, consent.TypeConsent, "target-id", []string{pid}, sigS, skey)
	require.NoError(t, c.Check(sub))
}

func TestConsentRejectsUnknownProfile(t *testing.T) {
	sub, sigS, skey := newSubjectWithProfile(t, "s-id:shumy", "Assets", "https://profile-url.org")

	c := consent.Sign(sub.SID, consent.TypeConsent, "target-id", []string{"Finance@https://profile-url.org"}, sigS, skey)
	require.ErrorIs(t, c.Check(sub), consent.ErrProfileNotFound)
}

func TestConsentRejectsBadSignature(t *testing.T) {
	sub, sigS, skey := newSubjectWithProfile(t, "s-id:shumy", "Assets", "https://profile-url.org")
	pid := identity.PID("Assets", "https://profile-url.org")

	c := consent.Sign(sub.SID, consent.TypeConsent, "target-id", []string{pid}, sigS, skey)
	c.Target = "other-target"
	require.ErrorIs(t, c.Check(sub), consent.ErrBadSignature)
}

func TestAuthorizationsAuthorizeAndRevoke(t *testing.T) {
	sid := "s-id:shumy"
	pidA := "Assets@https://profile-url.org"
	pidF := "Finance@https://profile-url.org"

	auths := consent.NewAuthorizations(sid)
	grant := consent.Consent{SID: sid, Typ: consent.TypeConsent, Target: "t1", Profiles: []string{pidA, pidF}}
	auths.Authorize(grant)

	require.True(t, auths.IsAuthorized("t1", pidA))
	require.True(t, auths.IsAuthorized("t1", pidF))
	require.False(t, auths.IsAuthorized("t1", "unknown@x"))
	require.False(t, auths.IsAuthorized("t2", pidA))

	revoke := consent.Consent{SID: sid, Typ: consent.TypeRevoke, Target: "t1", Profiles: []string{pidA}}
	auths.Revoke(revoke)
	require.False(t, auths.IsAuthorized("t1", pidA))
	require.True(t, auths.IsAuthorized("t1", pidF))

	revokeRest := consent.Consent{SID: sid, Typ: consent.TypeRevoke, Target: "t1", Profiles: []string{pidF}}
	auths.Revoke(revokeRest)
	require.Empty(t, auths.Auths)
}

func TestAuthorizationsIdempotent(t *testing.T) {
	sid := "s-id:shumy"
	pid := "Assets@https://profile-url.org"

	auths := consent.NewAuthorizations(sid)
	grant := consent.Consent{SID: sid, Typ: consent.TypeConsent, Target: "t1", Profiles: []string{pid}}
	auths.Authorize(grant)
	auths.Authorize(grant)
	require.True(t, auths.IsAuthorized("t1", pid))

	revoke := consent.Consent{SID: sid, Typ: consent.TypeRevoke, Target: "t1", Profiles: []string{pid}}
	auths.Revoke(revoke)
	auths.Revoke(revoke)
	require.False(t, auths.IsAuthorized("t1", pid))
}
