// Package identity implements the subject/profile key-chain model: a
// Subject holds an evolving chain of SubjectKeys and a map of Profiles,
// each Profile holding its own evolving chain of ProfileKeys. See
// SPEC_FULL.md §4.4.
package identity

import (
	"errors"
	"fmt"

	"github.com/shumy-tools/fedpi/internal/group"
	"github.com/shumy-tools/fedpi/internal/signatures"
)

var (
	ErrNoActiveKey         = errors.New("identity: no active key")
	ErrBadKeyIndex         = errors.New("identity: incorrect key index")
	ErrBadSignature        = errors.New("identity: invalid signature")
	ErrProfileNotChained   = errors.New("identity: profile-key is not correctly chained")
	ErrProfileMapMismatch  = errors.New("identity: incorrect profile map-key")
	ErrEvolutionWithProfiles = errors.New("identity: subject key-evolution cannot have profiles")
	ErrInvalidSubjectDelta = errors.New("identity: invalid subject delta")
	ErrEmptyProfileUpdate  = errors.New("identity: subject update must have at least one profile")
)

// SubjectKey is one entry in a subject's key chain: a public key signed
// by the previous active key (or self-signed at index 0).
type SubjectKey struct {
	Key group.Point
	Sig signatures.IndSignature
}

// NewSubjectKey signs (sid, index, key) under sigS, whose public part is
// sigKey, with the signature bound to index (self-signed when index == 0).
func NewSubjectKey(sid string, index uint64, key group.Point, sigS group.Scalar, sigKey group.Point) SubjectKey {
	data := [][]byte{[]byte(sid), signatures.EncodeUint64BE(index), key.Bytes()}
	return SubjectKey{Key: key, Sig: signatures.SignInd(index, sigS, sigKey, data)}
}

func (sk SubjectKey) check(sid string, signer SubjectKey) error {
	data := [][]byte{[]byte(sid), signatures.EncodeUint64BE(sk.Sig.Index), sk.Key.Bytes()}
	if !sk.Sig.Verify(signer.Key, data) {
		return ErrBadSignature
	}
	return nil
}

// ProfileKey is one entry in a profile's key chain, signed by the
// subject's active signing key.
type ProfileKey struct {
	Index     uint64
	Key       group.Point
	Encrypted bool // whether disclosure should also emit an encryption-key share for this key
	Sig       signatures.IndSignature
}

// NewProfileKey signs (sid, typ, lurl, index, key) under sigS, indexed by
// the subject's active key (sigKey.Sig.Index). encrypted is carried as
// plain (unsigned) metadata consumed by disclosure (§4.7).
func NewProfileKey(sid, typ, lurl string, index uint64, key group.Point, encrypted bool, sigS group.Scalar, sigKey SubjectKey) ProfileKey {
	data := [][]byte{[]byte(sid), []byte(typ), []byte(lurl), signatures.EncodeUint64BE(index), key.Bytes()}
	sig := signatures.SignInd(sigKey.Sig.Index, sigS, sigKey.Key, data)
	return ProfileKey{Index: index, Key: key, Encrypted: encrypted, Sig: sig}
}

func (pk ProfileKey) check(sid, typ, lurl string, sigKey SubjectKey) error {
	data := [][]byte{[]byte(sid), []byte(typ), []byte(lurl), signatures.EncodeUint64BE(pk.Index), pk.Key.Bytes()}
	if !pk.Sig.Verify(sigKey.Key, data) {
		return ErrBadSignature
	}
	return nil
}

// Profile is a typed, located key-chain: (typ, lurl, chain).
type Profile struct {
	Typ   string
	Lurl  string
	Chain []ProfileKey
}

// NewProfile starts an empty profile for (typ, lurl).
func NewProfile(typ, lurl string) Profile {
	return Profile{Typ: typ, Lurl: lurl}
}

// PID computes the map key "<typ>@<lurl>".
func PID(typ, lurl string) string { return fmt.Sprintf("%s@%s", typ, lurl) }

// ID returns this profile's map key.
func (p Profile) ID() string { return PID(p.Typ, p.Lurl) }

// Evolve produces the next ProfileKey in the chain, signed by the
// subject's active key.
func (p Profile) Evolve(sid string, sigS group.Scalar, sigKey SubjectKey, encrypted bool) (group.Scalar, ProfileKey) {
	secret := group.RandomScalar()
	key := group.ScalarBaseMult(secret)

	var index uint64
	if n := len(p.Chain); n > 0 {
		index = p.Chain[n-1].Index + 1
	}

	return secret, NewProfileKey(sid, p.Typ, p.Lurl, index, key, encrypted, sigS, sigKey)
}

func (p *Profile) merge(update Profile) {
	p.Chain = append(p.Chain, update.Chain...)
}

// check validates a profile delta against its current stored state (nil
// for a brand-new profile) under the subject's active signing key.
func (p Profile) check(sid string, current *Profile, sigKey SubjectKey) error {
	prev := int64(-1)
	if current != nil {
		n := len(current.Chain)
		if n == 0 {
			return ErrNoActiveKey
		}
		prev = int64(current.Chain[n-1].Index)
	}

	if len(p.Chain) == 0 {
		return ErrProfileNotChained
	}

	for _, item := range p.Chain {
		if prev+1 != int64(item.Index) {
			return ErrProfileNotChained
		}
		if err := item.check(sid, p.Typ, p.Lurl, sigKey); err != nil {
			return err
		}
		prev = int64(item.Index)
	}

	return nil
}

// Subject is an identified entity: an sid, an ordered SubjectKey chain,
// and a map of pid to Profile.
type Subject struct {
	SID      string
	Keys     []SubjectKey
	Profiles map[string]Profile
}

// NewSubject starts an empty subject identified by sid.
func NewSubject(sid string) Subject {
	return Subject{SID: sid, Profiles: map[string]Profile{}}
}

// Evolve produces the next SubjectKey: self-signed at index 0 when the
// subject has no active key yet, signed by the active key otherwise.
func (s Subject) Evolve(sigS group.Scalar) (group.Scalar, SubjectKey) {
	sigKey := group.ScalarBaseMult(sigS)

	if len(s.Keys) == 0 {
		return sigS, NewSubjectKey(s.SID, 0, sigKey, sigS, sigKey)
	}

	active := s.Keys[len(s.Keys)-1]
	secret := group.RandomScalar()
	key := group.ScalarBaseMult(secret)
	return secret, NewSubjectKey(s.SID, active.Sig.Index+1, key, sigS, active.Key)
}

// Find returns the profile identified by (typ, lurl), if present.
func (s Subject) Find(typ, lurl string) (Profile, bool) {
	p, ok := s.Profiles[PID(typ, lurl)]
	return p, ok
}

// Push inserts/replaces a profile by its id.
func (s *Subject) Push(p Profile) *Subject {
	if s.Profiles == nil {
		s.Profiles = map[string]Profile{}
	}
	s.Profiles[p.ID()] = p
	return s
}

// Merge appends update's key chain and folds its profile deltas into s.
func (s *Subject) Merge(update Subject) {
	s.Keys = append(s.Keys, update.Keys...)

	for pid, item := range update.Profiles {
		if current, ok := s.Profiles[pid]; ok {
			current.merge(item)
			s.Profiles[pid] = current
		} else {
			s.Profiles[pid] = item
		}
	}
}

// Check validates this Subject as a delta against current (nil for
// subject creation), dispatching on the delta's key-chain length: zero
// keys is a profile-only update, one key is either creation (current ==
// nil) or key-evolution, anything else is invalid.
func (s Subject) Check(current *Subject) error {
	if current == nil {
		if len(s.Keys) > 1 {
			return ErrInvalidSubjectDelta
		}
		return s.checkCreate()
	}

	switch len(s.Keys) {
	case 0:
		return s.checkUpdate(current)
	case 1:
		return s.checkEvolve(current)
	default:
		return ErrInvalidSubjectDelta
	}
}

func (s Subject) checkCreate() error {
	if len(s.Keys) == 0 {
		return ErrNoActiveKey
	}
	active := s.Keys[len(s.Keys)-1]
	if active.Sig.Index != 0 {
		return ErrBadKeyIndex
	}

	if err := active.check(s.SID, active); err != nil {
		return err
	}

	return checkProfiles(s.SID, s.Profiles, nil, active)
}

func (s Subject) checkEvolve(current *Subject) error {
	if len(current.Keys) == 0 {
		return ErrNoActiveKey
	}
	active := current.Keys[len(current.Keys)-1]

	if len(s.Keys) == 0 {
		return ErrNoActiveKey
	}
	newKey := s.Keys[len(s.Keys)-1]

	if active.Sig.Index+1 != newKey.Sig.Index {
		return ErrBadKeyIndex
	}

	if err := newKey.check(s.SID, active); err != nil {
		return err
	}

	if len(s.Profiles) != 0 {
		return ErrEvolutionWithProfiles
	}

	return nil
}

func (s Subject) checkUpdate(current *Subject) error {
	if s.SID != current.SID {
		return ErrInvalidSubjectDelta
	}

	if len(current.Keys) == 0 {
		return ErrNoActiveKey
	}
	active := current.Keys[len(current.Keys)-1]

	if len(s.Profiles) == 0 {
		return ErrEmptyProfileUpdate
	}

	return checkProfiles(s.SID, s.Profiles, current.Profiles, active)
}

func checkProfiles(sid string, profiles, current map[string]Profile, sigKey SubjectKey) error {
	for key, item := range profiles {
		if key != item.ID() {
			return ErrProfileMapMismatch
		}

		var curPtr *Profile
		if c, ok := current[key]; ok {
			curPtr = &c
		}

		if err := item.check(sid, curPtr, sigKey); err != nil {
			return err
		}
	}

	return nil
}
