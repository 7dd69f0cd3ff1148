// Package consent implements consent/revoke objects and the per-subject
// authorization set they fold into. See SPEC_FULL.md §4.5.
package consent

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shumy-tools/fedpi/internal/group"
	"github.com/shumy-tools/fedpi/internal/identity"
	"github.com/shumy-tools/fedpi/internal/signatures"
)

var (
	ErrNoActiveKey      = errors.New("consent: no active subject-key found")
	ErrBadSignature     = errors.New("consent: invalid consent signature")
	ErrProfileNotFound  = errors.New("consent: profile not found on subject")
	ErrSubjectMismatch  = errors.New("consent: sid does not match consent.sid")
)

// Type distinguishes a grant from a withdrawal.
type Type int

const (
	TypeConsent Type = iota
	TypeRevoke
)

// Consent is a signed grant or withdrawal of disclosure rights: sid
// authorizes (or un-authorizes) target to see the named profiles.
type Consent struct {
	SID      string
	Typ      Type
	Target   string
	Profiles []string
	Sig      signatures.IndSignature
}

// ConsentID computes the object id "cons-<sid>-<target>".
func ConsentID(sid, target string) string {
	return fmt.Sprintf("cons-%s-%s", sid, target)
}

// Sign produces a Consent signed by the subject's active key.
func Sign(sid string, typ Type, target string, profiles []string, sigS group.Scalar, sigKey identity.SubjectKey) Consent {
	data := consentData(sid, typ, target, profiles)
	sig := signatures.SignInd(sigKey.Sig.Index, sigS, sigKey.Key, data)
	return Consent{SID: sid, Typ: typ, Target: target, Profiles: profiles, Sig: sig}
}

// Check verifies the consent's signature against subject's active key and
// that every named profile exists on subject.
func (c Consent) Check(subject identity.Subject) error {
	if len(subject.Keys) == 0 {
		return ErrNoActiveKey
	}
	active := subject.Keys[len(subject.Keys)-1]

	data := consentData(c.SID, c.Typ, c.Target, c.Profiles)
	if !c.Sig.Verify(active.Key, data) {
		return ErrBadSignature
	}

	for _, item := range c.Profiles {
		if _, ok := subject.Profiles[item]; !ok {
			return fmt.Errorf("%w: %s", ErrProfileNotFound, item)
		}
	}

	return nil
}

func consentData(sid string, typ Type, target string, profiles []string) [][]byte {
	bSid, _ := json.Marshal(sid)
	bTyp, _ := json.Marshal(typ)
	bTarget, _ := json.Marshal(target)
	bProfiles, _ := json.Marshal(profiles)
	return [][]byte{bSid, bTyp, bTarget, bProfiles}
}

// Authorizations is the set of profile-disclosure grants a subject has
// made, keyed by authorized target, each a set of profile ids.
type Authorizations struct {
	SID   string
	Auths map[string]map[string]bool
}

// AuthorizationsID computes the object id "auth-<sid>".
func AuthorizationsID(sid string) string { return "auth-" + sid }

// NewAuthorizations starts an empty authorization set for sid.
func NewAuthorizations(sid string) Authorizations {
	return Authorizations{SID: sid, Auths: map[string]map[string]bool{}}
}

// Authorize folds a Consent grant into the set. Panics if consent.SID
// does not match, which would indicate a dispatch bug upstream.
func (a *Authorizations) Authorize(c Consent) {
	if a.SID != c.SID {
		panic(ErrSubjectMismatch)
	}

	consents, ok := a.Auths[c.Target]
	if !ok {
		consents = map[string]bool{}
		a.Auths[c.Target] = consents
	}
	for _, item := range c.Profiles {
		consents[item] = true
	}
}

// Revoke folds a Consent withdrawal into the set, pruning the target
// entry entirely once it has no remaining profiles.
func (a *Authorizations) Revoke(c Consent) {
	if a.SID != c.SID {
		panic(ErrSubjectMismatch)
	}

	consents, ok := a.Auths[c.Target]
	if !ok {
		return
	}
	for _, item := range c.Profiles {
		delete(consents, item)
	}
	if len(consents) == 0 {
		delete(a.Auths, c.Target)
	}
}

// IsAuthorized reports whether target may see profile.
func (a Authorizations) IsAuthorized(target, profile string) bool {
	consents, ok := a.Auths[target]
	if !ok {
		return false
	}
	return consents[profile]
}
