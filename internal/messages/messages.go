// Package messages defines the node's wire envelope: a small set of
// tagged unions (Request/Response/Commit/Value) carrying the protocol
// objects defined by the other internal packages, plus their JSON codec.
// See SPEC_FULL.md §4.8.
package messages

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shumy-tools/fedpi/internal/consent"
	"github.com/shumy-tools/fedpi/internal/disclosure"
	"github.com/shumy-tools/fedpi/internal/dkg"
	"github.com/shumy-tools/fedpi/internal/identity"
)

var ErrEmptyEnvelope = errors.New("messages: empty envelope, no variant set")

// Request is sent by a client to open a negotiation or query session.
type Request struct {
	Negotiate *dkg.MasterKeyRequest       `json:"negotiate,omitempty"`
	Query     *disclosure.DiscloseRequest `json:"query,omitempty"`
}

// SID resolves the subject id of whichever variant is set.
func (r Request) SID() (string, error) {
	switch {
	case r.Negotiate != nil:
		return r.Negotiate.SID, nil
	case r.Query != nil:
		return r.Query.SID, nil
	default:
		return "", ErrEmptyEnvelope
	}
}

// Timestamp returns the embedded signature's timestamp, for the
// dispatcher's freshness window check.
func (r Request) Timestamp() (int64, error) {
	switch {
	case r.Negotiate != nil:
		return r.Negotiate.Sig.Sig.Timestamp, nil
	case r.Query != nil:
		return r.Query.Sig.Sig.Timestamp, nil
	default:
		return 0, ErrEmptyEnvelope
	}
}

// Response is sent by a peer in answer to a Request.
type Response struct {
	Vote    *dkg.MasterKeyVote        `json:"vote,omitempty"`
	QResult *disclosure.DiscloseResult `json:"q_result,omitempty"`
}

// Commit is submitted to consensus: either evidence of a completed
// negotiation, or a value update to replicated state.
type Commit struct {
	Evidence *dkg.MasterKey `json:"evidence,omitempty"`
	Value    *Value         `json:"value,omitempty"`
}

// Value is a replicated-state update.
type Value struct {
	Subject *identity.Subject `json:"subject,omitempty"`
	Consent *consent.Consent  `json:"consent,omitempty"`
}

// SID resolves the subject id of whichever variant is set.
func (c Commit) SID() (string, error) {
	switch {
	case c.Evidence != nil:
		return c.Evidence.SID, nil
	case c.Value != nil:
		switch {
		case c.Value.Subject != nil:
			return c.Value.Subject.SID, nil
		case c.Value.Consent != nil:
			return c.Value.Consent.SID, nil
		}
	}
	return "", ErrEmptyEnvelope
}

// Timestamp returns the embedded signature's timestamp, for the
// dispatcher's freshness window check. A profile-only Subject update
// carries no subject key, so the oldest of its profile-key signatures
// is used instead.
func (c Commit) Timestamp() (int64, error) {
	switch {
	case c.Evidence != nil:
		return c.Evidence.Sig.Sig.Timestamp, nil
	case c.Value != nil:
		switch {
		case c.Value.Subject != nil:
			if n := len(c.Value.Subject.Keys); n > 0 {
				return c.Value.Subject.Keys[n-1].Sig.Sig.Timestamp, nil
			}
			found, oldest := false, int64(0)
			for _, p := range c.Value.Subject.Profiles {
				for _, pk := range p.Chain {
					if !found || pk.Sig.Sig.Timestamp < oldest {
						found, oldest = true, pk.Sig.Sig.Timestamp
					}
				}
			}
			if found {
				return oldest, nil
			}
		case c.Value.Consent != nil:
			return c.Value.Consent.Sig.Sig.Timestamp, nil
		}
	}
	return 0, ErrEmptyEnvelope
}

// IsSubjectBootstrap reports whether this Commit carries a Value.Subject,
// the variant that may create a new subject and so the one case where
// dispatch proceeds without a preexisting stored Subject (§4.8's
// bootstrap exception). It does not look at the store, so it also holds
// for updates of an existing subject.
func (c Commit) IsSubjectBootstrap() bool {
	return c.Value != nil && c.Value.Subject != nil
}

// Encode marshals any message envelope to its wire representation.
func Encode(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("messages: encode: %w", err)
	}
	return data, nil
}

// DecodeRequest unmarshals a wire Request.
func DecodeRequest(data []byte) (Request, error) {
	var r Request
	if err := json.Unmarshal(data, &r); err != nil {
		return Request{}, fmt.Errorf("messages: decode request: %w", err)
	}
	return r, nil
}

// DecodeResponse unmarshals a wire Response.
func DecodeResponse(data []byte) (Response, error) {
	var r Response
	if err := json.Unmarshal(data, &r); err != nil {
		return Response{}, fmt.Errorf("messages: decode response: %w", err)
	}
	return r, nil
}

// DecodeCommit unmarshals a wire Commit.
func DecodeCommit(data []byte) (Commit, error) {
	var c Commit
	if err := json.Unmarshal(data, &c); err != nil {
		return Commit{}, fmt.Errorf("messages: decode commit: %w", err)
	}
	return c, nil
}
