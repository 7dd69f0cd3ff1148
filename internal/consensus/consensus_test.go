package consensus_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/shumy-tools/fedpi/internal/config"
	"github.com/shumy-tools/fedpi/internal/consensus"
	"github.com/shumy-tools/fedpi/internal/dkg"
	"github.com/shumy-tools/fedpi/internal/group"
	"github.com/shumy-tools/fedpi/internal/handlers"
	"github.com/shumy-tools/fedpi/internal/identity"
	"github.com/shumy-tools/fedpi/internal/messages"
	"github.com/shumy-tools/fedpi/internal/store"
	"github.com/stretchr/testify/require"
)

func newTestDriver(t *testing.T) (*consensus.Driver, config.Config, identity.Subject, group.Scalar, identity.SubjectKey) {
	t.Helper()

	secret := group.RandomScalar()
	pkey := group.ScalarBaseMult(secret)

	admin := identity.NewSubject("s-id:admin")
	adminS := group.RandomScalar()
	_, adminKey := admin.Evolve(adminS)
	admin.Keys = append(admin.Keys, adminKey)

	cfg := config.Config{
		Name:      "node-a",
		Secret:    secret,
		PKey:      pkey,
		Threshold: 0,
		Port:      26658,
		MngKey:    adminKey.Key,
		PeersHash: dkg.PeersHash([]group.Point{pkey}),
		Peers:     []config.Peer{{Name: "node-a", PKey: pkey}},
	}

	db, err := store.Open(filepath.Join(t.TempDir(), "node.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	proc := handlers.NewProcessor(cfg, db)
	driver := consensus.NewDriver(proc)

	return driver, cfg, admin, adminS, adminKey
}

func TestDriverSubmitTxAdvancesHeight(t *testing.T) {
	driver, _, admin, _, _ := newTestDriver(t)

	data, err := messages.Encode(messages.Commit{Value: &messages.Value{Subject: &admin}})
	require.NoError(t, err)

	state, err := driver.SubmitTx(data)
	require.NoError(t, err)
	require.Equal(t, int64(1), state.Height)
}

func TestDriverSubmitTxRejectsWithoutAdvancingHeight(t *testing.T) {
	driver, _, admin, _, _ := newTestDriver(t)

	// an empty envelope is rejected by Filter before any block advances
	_, err := driver.SubmitTx([]byte(`{}`))
	require.ErrorIs(t, err, messages.ErrEmptyEnvelope)

	data, err := messages.Encode(messages.Commit{Value: &messages.Value{Subject: &admin}})
	require.NoError(t, err)
	state, err := driver.SubmitTx(data)
	require.NoError(t, err)
	require.Equal(t, int64(1), state.Height)

	// malformed JSON is rejected by decode, still without advancing height
	_, err = driver.SubmitTx([]byte(`not json at all`))
	require.Error(t, err)

	again, err := driver.SubmitTx(data)
	require.Error(t, err) // the same subject can't be bootstrapped twice
	require.Equal(t, store.AppState{}, again)
}

func TestDriverSubmitRequestAndHTTPEndpoints(t *testing.T) {
	driver, cfg, admin, adminS, adminKey := newTestDriver(t)

	adminData, err := messages.Encode(messages.Commit{Value: &messages.Value{Subject: &admin}})
	require.NoError(t, err)
	_, err = driver.SubmitTx(adminData)
	require.NoError(t, err)

	srv := httptest.NewServer(driver.Handler())
	defer srv.Close()

	req := dkg.SignRequest(admin.SID, handlers.KIDPseudonym, cfg.PeersHash, adminS, adminKey)
	reqData, err := messages.Encode(messages.Request{Negotiate: &req})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/request", "application/octet-stream", bytes.NewReader(reqData))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)

	res, err := messages.DecodeResponse(buf.Bytes())
	require.NoError(t, err)
	require.NotNil(t, res.Vote)

	evidence, err := dkg.SignEvidence(admin.SID, req.Session(), handlers.KIDPseudonym, cfg.PeersHash,
		[]dkg.MasterKeyVote{*res.Vote}, []group.Point{cfg.PKey}, adminS, adminKey)
	require.NoError(t, err)

	commitData, err := messages.Encode(messages.Commit{Evidence: &evidence})
	require.NoError(t, err)

	txResp, err := http.Post(srv.URL+"/tx", "application/octet-stream", bytes.NewReader(commitData))
	require.NoError(t, err)
	defer txResp.Body.Close()
	require.Equal(t, http.StatusOK, txResp.StatusCode)
}

func TestDriverHandlerRejectsGetOnTx(t *testing.T) {
	driver, _, _, _, _ := newTestDriver(t)

	srv := httptest.NewServer(driver.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/tx")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestDriverHandlerRejectsEmptyBody(t *testing.T) {
	driver, _, _, _, _ := newTestDriver(t)

	srv := httptest.NewServer(driver.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/tx", "application/octet-stream", bytes.NewReader(nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
