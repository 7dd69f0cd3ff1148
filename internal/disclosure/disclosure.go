// Package disclosure implements the threshold profile-disclosure
// protocol: a signed DiscloseRequest is turned by each peer into
// point-shares of the pseudonym (and optionally encryption) key for
// every requested profile, combinable by t+1 distinct peers via
// point-Lagrange without any single peer learning the secret. See
// SPEC_FULL.md §4.7.
package disclosure

import (
	"errors"
	"sort"

	"github.com/shumy-tools/fedpi/internal/dkg"
	"github.com/shumy-tools/fedpi/internal/group"
	"github.com/shumy-tools/fedpi/internal/identity"
	"github.com/shumy-tools/fedpi/internal/shares"
	"github.com/shumy-tools/fedpi/internal/signatures"
)

var (
	ErrNoActiveKey       = errors.New("disclosure: no active subject-key found")
	ErrBadSignature      = errors.New("disclosure: invalid signature")
	ErrUnauthorized      = errors.New("disclosure: subject not authorized to disclose profile")
	ErrProfileNotFound   = errors.New("disclosure: no profile found for requested id")
	ErrDiscloseIDMismatch = errors.New("disclosure: expected the same disclose id")
	ErrProfileSetMismatch = errors.New("disclosure: expected the same set of profiles")
)

// DiscloseRequest asks the federation to disclose, for every pid in
// Profiles, the target subject's pseudonym (and optionally encryption)
// point-shares, signed by the requesting subject's active key.
type DiscloseRequest struct {
	SID      string
	Target   string
	Profiles []string
	Sig      signatures.IndSignature
}

func requestData(sid, target string, profiles []string) [][]byte {
	data := [][]byte{[]byte(sid), []byte(target)}
	for _, p := range profiles {
		data = append(data, []byte(p))
	}
	return data
}

// SignRequest produces a signed DiscloseRequest.
func SignRequest(sid, target string, profiles []string, sigS group.Scalar, sigKey identity.SubjectKey) DiscloseRequest {
	data := requestData(sid, target, profiles)
	sig := signatures.SignInd(sigKey.Sig.Index, sigS, sigKey.Key, data)
	return DiscloseRequest{SID: sid, Target: target, Profiles: profiles, Sig: sig}
}

// Check verifies the request's signature under requester's active key.
func (r DiscloseRequest) Check(requester identity.Subject) error {
	if len(requester.Keys) == 0 {
		return ErrNoActiveKey
	}
	active := requester.Keys[len(requester.Keys)-1]

	data := requestData(r.SID, r.Target, r.Profiles)
	if !r.Sig.Verify(active.Key, data) {
		return ErrBadSignature
	}
	return nil
}

// KeyShare bundles the pseudonym point-share produced for one
// profile-key, and the encryption point-share when the key requested it.
type KeyShare struct {
	Pseudonym  shares.PointShare
	Encryption *shares.PointShare
}

// Keys is the disclosed MPC contribution: typ -> lurl -> one KeyShare
// per profile-key in the chain, in chain order.
type Keys map[string]map[string][]KeyShare

func newKeys() Keys { return Keys{} }

func (k Keys) put(typ, lurl string, share KeyShare) {
	byLurl, ok := k[typ]
	if !ok {
		byLurl = map[string][]KeyShare{}
		k[typ] = byLurl
	}
	byLurl[lurl] = append(byLurl[lurl], share)
}

// containsSameProfiles reports whether k's top-level (typ) keys are
// exactly the set of typ-names embedded in pids.
func (k Keys) containsSameProfiles(pids []string) bool {
	typs := map[string]bool{}
	for _, pid := range pids {
		typ, _, ok := splitPID(pid)
		if !ok {
			return false
		}
		typs[typ] = true
	}
	if len(typs) != len(k) {
		return false
	}
	for typ := range typs {
		if _, ok := k[typ]; !ok {
			return false
		}
	}
	return true
}

func splitPID(pid string) (typ, lurl string, ok bool) {
	for i := 0; i < len(pid); i++ {
		if pid[i] == '@' {
			return pid[:i], pid[i+1:], true
		}
	}
	return "", "", false
}

// Resolve computes, for a DiscloseRequest, the disclosed Keys for the
// local peer: pseudonym holds kid "master", encrypt (may be nil when no
// encrypted profile-keys are present in the request) holds kid
// "encrypt". auths is nil when sid == target (self-disclosure, which
// bypasses the authorization check).
func Resolve(req DiscloseRequest, target identity.Subject, pseudonym dkg.MasterKeyPair, encrypt *dkg.MasterKeyPair, auths func(pid string) bool) (Keys, error) {
	keys := newKeys()

	for _, pid := range req.Profiles {
		if req.SID != req.Target {
			if auths == nil || !auths(pid) {
				return nil, ErrUnauthorized
			}
		}

		profile, ok := target.Profiles[pid]
		if !ok {
			return nil, ErrProfileNotFound
		}

		for _, pk := range profile.Chain {
			ks := KeyShare{Pseudonym: shares.PointShare{I: pseudonym.Share.I, Yi: pk.Key.ScalarMult(pseudonym.Share.Yi)}}
			if pk.Encrypted && encrypt != nil {
				enc := shares.PointShare{I: encrypt.Share.I, Yi: pk.Key.ScalarMult(encrypt.Share.Yi)}
				ks.Encryption = &enc
			}
			keys.put(profile.Typ, profile.Lurl, ks)
		}
	}

	return keys, nil
}

// DiscloseResult is a peer's signed contribution to a disclosure round.
type DiscloseResult struct {
	Disclose string
	Keys     Keys
	Sig      signatures.IndSignature
}

// SignResult produces a signed DiscloseResult.
func SignResult(disclose string, keys Keys, index uint64, secret group.Scalar, key group.Point) DiscloseResult {
	data := resultData(disclose, keys)
	sig := signatures.SignInd(index, secret, key, data)
	return DiscloseResult{Disclose: disclose, Keys: keys, Sig: sig}
}

// Check verifies the disclose id, the echoed profile set, and the
// signature under the peer's public key.
func (res DiscloseResult) Check(disclose string, profiles []string, peerKey group.Point) error {
	if res.Disclose != disclose {
		return ErrDiscloseIDMismatch
	}
	if !res.Keys.containsSameProfiles(profiles) {
		return ErrProfileSetMismatch
	}

	data := resultData(res.Disclose, res.Keys)
	if !res.Sig.Verify(peerKey, data) {
		return ErrBadSignature
	}
	return nil
}

func resultData(disclose string, keys Keys) [][]byte {
	data := [][]byte{[]byte(disclose)}

	typs := make([]string, 0, len(keys))
	for typ := range keys {
		typs = append(typs, typ)
	}
	sort.Strings(typs)

	for _, typ := range typs {
		data = append(data, []byte(typ))
		lurls := make([]string, 0, len(keys[typ]))
		for lurl := range keys[typ] {
			lurls = append(lurls, lurl)
		}
		sort.Strings(lurls)

		for _, lurl := range lurls {
			data = append(data, []byte(lurl))
			for _, ks := range keys[typ][lurl] {
				data = append(data, ks.Pseudonym.Yi.Bytes())
				if ks.Encryption != nil {
					data = append(data, ks.Encryption.Yi.Bytes())
				}
			}
		}
	}

	return data
}

// CombinePseudonyms recovers a disclosed pseudonym point by Lagrange
// interpolation over t+1 distinct peers' pseudonym shares for the same
// profile-key.
func CombinePseudonyms(shs []shares.PointShare) (group.Point, error) {
	return shares.InterpolatePoints(shs)
}
