package identity_test

import (
	"testing"

	"github.com/shumy-tools/fedpi/internal/group"
	"github.com/shumy-tools/fedpi/internal/identity"
	"github.com/stretchr/testify/require"
)

const testSID = "s-id:shumy"

func TestSubjectLifecycle(t *testing.T) {
	sigS1 := group.RandomScalar()

	// creation
	sub1 := identity.NewSubject(testSID)
	_, skey1 := sub1.Evolve(sigS1)

	p1 := identity.NewProfile("Assets", "https://profile-url.org")
	_, pk1 := p1.Evolve(testSID, sigS1, skey1, false)
	p1.Chain = append(p1.Chain, pk1)

	p2 := identity.NewProfile("Finance", "https://profile-url.org")
	_, pk2 := p2.Evolve(testSID, sigS1, skey1, false)
	p2.Chain = append(p2.Chain, pk2)

	sub1.Push(p1).Push(p2)
	sub1.Keys = append(sub1.Keys, skey1)
	require.NoError(t, sub1.Check(nil))

	// key evolution
	update1 := identity.NewSubject(testSID)
	_, skey2 := sub1.Evolve(sigS1)
	update1.Keys = append(update1.Keys, skey2)
	require.NoError(t, update1.Check(&sub1))

	// profile creation via update
	p3 := identity.NewProfile("HealthCare", "https://profile-url.org")
	_, pk3 := p3.Evolve(testSID, sigS1, skey1, false)
	p3.Chain = append(p3.Chain, pk3)

	update2 := identity.NewSubject(testSID)
	update2.Push(p3)
	require.NoError(t, update2.Check(&sub1))

	// profile key evolution
	financeProfile, ok := sub1.Find("Finance", "https://profile-url.org")
	require.True(t, ok)

	emptyFinance := identity.NewProfile("Finance", "https://profile-url.org")
	_, pk4 := financeProfile.Evolve(testSID, sigS1, skey1, false)
	emptyFinance.Chain = append(emptyFinance.Chain, pk4)

	update3 := identity.NewSubject(testSID)
	update3.Push(emptyFinance)
	require.NoError(t, update3.Check(&sub1))

	// merge then evolve again
	sub1.Merge(update3)

	nextFinance := identity.NewProfile("Finance", "https://profile-url.org")
	_, pk5 := emptyFinance.Evolve(testSID, sigS1, skey1, false)
	nextFinance.Chain = append(nextFinance.Chain, pk5)

	update4 := identity.NewSubject(testSID)
	update4.Push(nextFinance)
	require.NoError(t, update4.Check(&sub1))
}

func TestSubjectCreationRejectsMissingOrWrongIndexKey(t *testing.T) {
	empty := identity.NewSubject(testSID)
	require.ErrorIs(t, empty.Check(nil), identity.ErrNoActiveKey)

	sigS1 := group.RandomScalar()
	sigKey1 := group.ScalarBaseMult(sigS1)

	bad := identity.NewSubject(testSID)
	bad.Keys = append(bad.Keys, identity.NewSubjectKey(testSID, 1, sigKey1, sigS1, sigKey1))
	require.ErrorIs(t, bad.Check(nil), identity.ErrBadKeyIndex)
}

func TestSubjectEvolutionRejectsBadIndexAndBadSignature(t *testing.T) {
	sigS1 := group.RandomScalar()
	current := identity.NewSubject(testSID)
	_, skey1 := current.Evolve(sigS1)
	current.Keys = append(current.Keys, skey1)

	sigS2 := group.RandomScalar()
	sigKey2 := group.ScalarBaseMult(sigS2)

	// wrong index, but correctly signed by the active key
	wrongIndex := identity.NewSubjectKey(testSID, 0, sigKey2, sigS1, skey1.Key)
	incorrect1 := identity.NewSubject(testSID)
	incorrect1.Keys = append(incorrect1.Keys, wrongIndex)
	require.ErrorIs(t, incorrect1.Check(&current), identity.ErrBadKeyIndex)

	// correct index, but self-signed instead of signed by the active key
	badSig := identity.NewSubjectKey(testSID, 1, sigKey2, sigS2, sigKey2)
	incorrect2 := identity.NewSubject(testSID)
	incorrect2.Keys = append(incorrect2.Keys, badSig)
	require.ErrorIs(t, incorrect2.Check(&current), identity.ErrBadSignature)
}

func TestProfileUpdateRejectsNonContiguousChain(t *testing.T) {
	sigS1 := group.RandomScalar()
	current := identity.NewSubject(testSID)
	_, skey1 := current.Evolve(sigS1)
	current.Keys = append(current.Keys, skey1)

	p1 := identity.NewProfile("Assets", "https://profile-url.org")
	_, pk1 := p1.Evolve(testSID, sigS1, skey1, false)
	p1.Chain = append(p1.Chain, pk1)
	current.Push(p1)

	badKey := identity.NewProfileKey(testSID, "Assets", "https://profile-url.org", 0, group.ScalarBaseMult(group.RandomScalar()), false, sigS1, skey1)
	p2 := identity.NewProfile("Assets", "https://profile-url.org")
	p2.Chain = append(p2.Chain, badKey)

	update := identity.NewSubject(testSID)
	update.Push(p2)
	require.ErrorIs(t, update.Check(&current), identity.ErrProfileNotChained)
}

func TestSubjectEvolutionCannotCarryProfiles(t *testing.T) {
	sigS1 := group.RandomScalar()
	current := identity.NewSubject(testSID)
	_, skey1 := current.Evolve(sigS1)
	current.Keys = append(current.Keys, skey1)

	_, skey2 := current.Evolve(sigS1)
	update := identity.NewSubject(testSID)
	update.Keys = append(update.Keys, skey2)

	p := identity.NewProfile("Assets", "https://profile-url.org")
	_, pk := p.Evolve(testSID, sigS1, skey1, false)
	p.Chain = append(p.Chain, pk)
	update.Push(p)

	require.ErrorIs(t, update.Check(&current), identity.ErrEvolutionWithProfiles)
}
