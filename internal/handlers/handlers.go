// Package handlers wires the protocol packages (identity, consent,
// dkg, disclosure) into the transactional store under the consensus
// driver's lifecycle callbacks: Request, Start, Filter, Deliver,
// Commit, State. See SPEC_FULL.md §4.8/§4.9 and
// original_source/f-node/src/processor.rs.
package handlers

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shumy-tools/fedpi/internal/config"
	"github.com/shumy-tools/fedpi/internal/consent"
	"github.com/shumy-tools/fedpi/internal/disclosure"
	"github.com/shumy-tools/fedpi/internal/dkg"
	"github.com/shumy-tools/fedpi/internal/group"
	"github.com/shumy-tools/fedpi/internal/identity"
	"github.com/shumy-tools/fedpi/internal/messages"
	"github.com/shumy-tools/fedpi/internal/store"
)

// TimestampThreshold bounds how stale a signed message may be before
// dispatch rejects it (original's TIMESTAMP_THRESHOLD, 60s).
const TimestampThreshold = 60 * time.Second

// Key ids for the two negotiated master-keys this node holds shares
// of (original's PMASTER/EMASTER).
const (
	KIDPseudonym = "master"
	KIDEncrypt   = "encrypt"
)

var (
	ErrSubjectNotFound    = errors.New("handlers: subject not found")
	ErrStaleTimestamp     = errors.New("handlers: signature outside the freshness window")
	ErrUnsupportedCommit  = errors.New("handlers: commit variant not implemented")
	ErrMasterKeyUnavailable = errors.New("handlers: local master-key share unavailable")
)

// Processor is the node's single entry point for every inbound
// message: client requests, consensus-filtered commits, and
// consensus-delivered commits.
type Processor struct {
	cfg config.Config
	db  *store.Store
	tx  *store.Tx
}

// NewProcessor wires a Processor over an already-open Store.
func NewProcessor(cfg config.Config, db *store.Store) *Processor {
	return &Processor{cfg: cfg, db: db}
}

func peerKeys(peers []config.Peer) []group.Point {
	out := make([]group.Point, len(peers))
	for i, p := range peers {
		out[i] = p.PKey
	}
	return out
}

func withinWindow(ts int64) bool {
	now := time.Now().Unix()
	delta := now - ts
	if delta < 0 {
		delta = -delta
	}
	return time.Duration(delta)*time.Second <= TimestampThreshold
}

func (p *Processor) resolveSubject(sid string) (identity.Subject, error) {
	var subject identity.Subject
	ok, err := p.db.GetInto(store.SubjectID(sid), &subject)
	if err != nil {
		return identity.Subject{}, err
	}
	if !ok {
		return identity.Subject{}, ErrSubjectNotFound
	}
	return subject, nil
}

// Request decodes and dispatches a client Request, checking its
// subject resolution, signature and timestamp window before routing
// to the matching handler. Returns the wire-encoded Response.
func (p *Processor) Request(data []byte) ([]byte, error) {
	req, err := messages.DecodeRequest(data)
	if err != nil {
		return nil, err
	}

	sid, err := req.SID()
	if err != nil {
		return nil, err
	}
	ts, err := req.Timestamp()
	if err != nil {
		return nil, err
	}
	if !withinWindow(ts) {
		return nil, ErrStaleTimestamp
	}

	subject, err := p.resolveSubject(sid)
	if err != nil {
		return nil, err
	}

	switch {
	case req.Negotiate != nil:
		res, err := p.requestNegotiate(*req.Negotiate, subject)
		if err != nil {
			log.Printf("❌ REQUEST-ERR Negotiate: %v", err)
			return nil, err
		}
		return messages.Encode(messages.Response{Vote: res})

	case req.Query != nil:
		res, err := p.requestQuery(*req.Query, subject)
		if err != nil {
			log.Printf("❌ REQUEST-ERR Query: %v", err)
			return nil, err
		}
		return messages.Encode(messages.Response{QResult: res})

	default:
		return nil, messages.ErrEmptyEnvelope
	}
}

func (p *Processor) requestNegotiate(req dkg.MasterKeyRequest, admin identity.Subject) (*dkg.MasterKeyVote, error) {
	log.Printf("📥 REQUEST-KEY session=%s kid=%s", req.Session(), req.KID)

	if err := req.Check(p.cfg.PeersHash, admin, p.cfg.MngKey); err != nil {
		return nil, err
	}

	index, err := p.cfg.KeyIndex()
	if err != nil {
		return nil, err
	}

	peers := peerKeys(p.cfg.Peers)
	session := req.Session()

	e := dkg.DeriveEncryptionKeys(p.cfg.Secret, peers, session)
	defer e.Zero()

	n := len(peers)
	poly, sh, commit := dkg.DeriveVoteShares(n, e)
	defer poly.Zero()

	pkeys := make([]group.Point, n)
	for j := range e {
		pkeys[j] = group.ScalarBaseMult(e[j])
	}

	vote := dkg.SignVote(session, req.KID, p.cfg.PeersHash, sh, pkeys, commit, uint64(index), p.cfg.Secret, p.cfg.PKey)

	mkrid := store.RequestID(req.SID, session)
	if err := p.db.PutLocal(mkrid, req); err != nil {
		return nil, err
	}

	return &vote, nil
}

func (p *Processor) requestQuery(req disclosure.DiscloseRequest, requester identity.Subject) (*disclosure.DiscloseResult, error) {
	log.Printf("📥 REQUEST-DISCLOSE sid=%s target=%s", req.SID, req.Target)

	if err := req.Check(requester); err != nil {
		return nil, err
	}

	var pseudonym dkg.MasterKeyPair
	ok, err := p.db.GetLocalInto(store.MasterKeyPairID(KIDPseudonym), &pseudonym)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMasterKeyUnavailable, KIDPseudonym)
	}

	var encrypt *dkg.MasterKeyPair
	var ek dkg.MasterKeyPair
	if ok, err := p.db.GetLocalInto(store.MasterKeyPairID(KIDEncrypt), &ek); err != nil {
		return nil, err
	} else if ok {
		encrypt = &ek
	}

	target, err := p.resolveSubject(req.Target)
	if err != nil {
		return nil, err
	}

	var auths consent.Authorizations
	hasAuths, err := p.db.GetInto(store.AuthorizationsID(req.Target), &auths)
	if err != nil {
		return nil, err
	}

	authFn := func(pid string) bool {
		return hasAuths && auths.IsAuthorized(req.SID, pid)
	}

	keys, err := disclosure.Resolve(req, target, pseudonym, encrypt, authFn)
	if err != nil {
		return nil, err
	}

	index, err := p.cfg.KeyIndex()
	if err != nil {
		return nil, err
	}
	res := disclosure.SignResult(req.Sig.ID(), keys, uint64(index), p.cfg.Secret, p.cfg.PKey)

	did := store.DiscloseRequestID(req.SID, req.Sig.ID())
	if err := p.db.PutLocal(did, req); err != nil {
		return nil, err
	}

	return &res, nil
}

// Start begins a new block's transaction, asserting none is pending.
func (p *Processor) Start() error {
	log.Printf("🚀 START-BLOCK")
	tx, err := p.db.Start()
	if err != nil {
		return err
	}
	p.tx = tx
	return nil
}

// Filter decodes a Commit and checks its timestamp window and that its
// sid resolves to a stored Subject. Every Value.Subject commit skips the
// resolution (the bootstrap exception), whether or not that subject is
// already stored. Signatures are not verified here; Deliver runs each
// variant's Check.
func (p *Processor) Filter(data []byte) error {
	commit, err := messages.DecodeCommit(data)
	if err != nil {
		return err
	}

	sid, err := commit.SID()
	if err != nil {
		return err
	}
	ts, err := commit.Timestamp()
	if err != nil {
		return err
	}
	if !withinWindow(ts) {
		return ErrStaleTimestamp
	}

	if commit.IsSubjectBootstrap() {
		return nil
	}

	_, err = p.resolveSubject(sid)
	return err
}

// Deliver decodes a Commit (already Filter-checked) and applies it to
// the in-flight transaction.
func (p *Processor) Deliver(data []byte) error {
	commit, err := messages.DecodeCommit(data)
	if err != nil {
		return err
	}

	switch {
	case commit.Evidence != nil:
		log.Printf("📦 DELIVER Evidence")
		err := p.deliverEvidence(*commit.Evidence)
		if err != nil {
			log.Printf("❌ DELIVER-ERR Evidence: %v", err)
		}
		return err

	case commit.Value != nil && commit.Value.Subject != nil:
		log.Printf("📦 DELIVER Value.Subject")
		err := p.deliverSubject(*commit.Value.Subject)
		if err != nil {
			log.Printf("❌ DELIVER-ERR Value.Subject: %v", err)
		}
		return err

	case commit.Value != nil && commit.Value.Consent != nil:
		log.Printf("📦 DELIVER Value.Consent")
		err := p.deliverConsent(*commit.Value.Consent)
		if err != nil {
			log.Printf("❌ DELIVER-ERR Value.Consent: %v", err)
		}
		return err

	default:
		return ErrUnsupportedCommit
	}
}

func (p *Processor) deliverSubject(subject identity.Subject) error {
	id := store.SubjectID(subject.SID)

	var current identity.Subject
	exists, err := loadTxValue(p.tx, p.db, id, &current)
	if err != nil {
		return err
	}

	var currentPtr *identity.Subject
	if exists {
		currentPtr = &current
	}
	if err := subject.Check(currentPtr); err != nil {
		return err
	}

	if exists {
		current.Merge(subject)
		return p.tx.Set(id, current)
	}
	return p.tx.Set(id, subject)
}

func (p *Processor) deliverConsent(c consent.Consent) error {
	var target identity.Subject
	ok, err := loadTxValue(p.tx, p.db, store.SubjectID(c.Target), &target)
	if err != nil {
		return err
	}
	if !ok {
		return ErrSubjectNotFound
	}

	var subject identity.Subject
	ok, err = loadTxValue(p.tx, p.db, store.SubjectID(c.SID), &subject)
	if err != nil {
		return err
	}
	if !ok {
		return ErrSubjectNotFound
	}

	if err := c.Check(subject); err != nil {
		return err
	}

	// Authorizations are keyed by the profile owner (c.SID), matching
	// requestQuery's lookup by the disclosure target subject.
	aid := store.AuthorizationsID(c.SID)
	var auths consent.Authorizations
	exists, err := loadTxValue(p.tx, p.db, aid, &auths)
	if err != nil {
		return err
	}
	if !exists {
		auths = consent.NewAuthorizations(c.SID)
	}

	switch c.Typ {
	case consent.TypeConsent:
		auths.Authorize(c)
	case consent.TypeRevoke:
		auths.Revoke(c)
	}

	if err := p.tx.Set(aid, auths); err != nil {
		return err
	}
	return p.tx.Set(store.ConsentID(c.SID, c.Sig.ID()), c)
}

func (p *Processor) deliverEvidence(evidence dkg.MasterKey) error {
	if err := evidence.Check(p.cfg.PeersHash, peerKeys(p.cfg.Peers)); err != nil {
		return err
	}

	mkrid := store.RequestID(evidence.SID, evidence.Session)
	if !p.db.ContainsLocal(mkrid) {
		return dkg.ErrRequestNotFound
	}

	eid := store.EvidenceID(evidence.KID, evidence.Sig.ID())
	if p.tx.Contains(eid) {
		return dkg.ErrEvidenceExists
	}

	index, err := p.cfg.KeyIndex()
	if err != nil {
		return err
	}

	evShares, commits, public := evidence.Extract(index)

	peers := peerKeys(p.cfg.Peers)
	e := dkg.DeriveEncryptionKeys(p.cfg.Secret, peers, evidence.Session)
	defer e.Zero()

	pair, err := dkg.Recover(evidence.KID, index, evShares, commits, public, e)
	if err != nil {
		return err
	}

	if err := p.tx.Set(eid, evidence); err != nil {
		return err
	}
	return p.tx.SetLocal(store.MasterKeyPairID(evidence.KID), pair)
}

// loadTxValue reads id from tx's buffered view first, falling back to
// the durable store when tx has not touched it yet this block.
func loadTxValue(tx *store.Tx, db *store.Store, id string, out interface{}) (bool, error) {
	if tx != nil {
		if ok, err := tx.Get(id, out); ok || err != nil {
			return ok, err
		}
	}
	return db.GetInto(id, out)
}

// Abort discards the in-flight transaction without committing, used by
// the consensus driver when Filter or Deliver rejects a transaction.
func (p *Processor) Abort() {
	p.db.Abort(p.tx)
	p.tx = nil
}

// Commit finalizes the in-flight transaction at height, clearing it.
func (p *Processor) Commit(height int64) (store.AppState, error) {
	state, err := p.db.Commit(p.tx, height)
	p.tx = nil
	if err != nil {
		return store.AppState{}, err
	}
	log.Printf("✅ COMMIT height=%d hash=%x", state.Height, state.Hash)
	return state, nil
}

// State returns the store's last-committed AppState.
func (p *Processor) State() store.AppState { return p.db.State() }
