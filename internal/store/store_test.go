package store_test

import (
	"path/filepath"
	"testing"

	"github.com/shumy-tools/fedpi/internal/store"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.bolt")
	s, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type record struct {
	Value string
}

func TestCommitUpdatesStateAndPersists(t *testing.T) {
	s := openStore(t)
	require.Equal(t, int64(0), s.State().Height)

	tx, err := s.Start()
	require.NoError(t, err)
	require.NoError(t, tx.Set(store.SubjectID("s-id:a"), record{Value: "one"}))

	newState, err := s.Commit(tx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), newState.Height)
	require.NotEmpty(t, newState.Hash)

	raw, ok := s.Get(store.SubjectID("s-id:a"))
	require.True(t, ok)
	require.Contains(t, string(raw), "one")
}

func TestSetRejectsReservedKey(t *testing.T) {
	s := openStore(t)
	tx, err := s.Start()
	require.NoError(t, err)

	err = tx.Set("$state", record{Value: "x"})
	require.ErrorIs(t, err, store.ErrReservedKey)

	err = tx.SetLocal("$secret", record{Value: "x"})
	require.ErrorIs(t, err, store.ErrReservedKey)
}

func TestStartRejectsConcurrentTransaction(t *testing.T) {
	s := openStore(t)
	_, err := s.Start()
	require.NoError(t, err)

	_, err = s.Start()
	require.ErrorIs(t, err, store.ErrTransactionInUse)
}

func TestAbortDiscardsBufferedWrites(t *testing.T) {
	s := openStore(t)
	tx, err := s.Start()
	require.NoError(t, err)
	require.NoError(t, tx.Set(store.SubjectID("s-id:a"), record{Value: "one"}))
	s.Abort(tx)

	_, err = s.Start()
	require.NoError(t, err)

	_, ok := s.Get(store.SubjectID("s-id:a"))
	require.False(t, ok)
}

func TestLocalLayerExcludedFromHash(t *testing.T) {
	s := openStore(t)

	tx, err := s.Start()
	require.NoError(t, err)
	require.NoError(t, tx.Set(store.SubjectID("s-id:a"), record{Value: "one"}))
	require.NoError(t, tx.SetLocal(store.MasterKeyPairID("master"), record{Value: "secret"}))
	withLocal, err := s.Commit(tx, 1)
	require.NoError(t, err)

	tx2, err := s.Start()
	require.NoError(t, err)

	var got record
	ok, err := tx2.GetLocal(store.MasterKeyPairID("master"), &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "secret", got.Value)
	s.Abort(tx2)

	s2 := openStore(t)
	tx2, err = s2.Start()
	require.NoError(t, err)
	require.NoError(t, tx2.Set(store.SubjectID("s-id:a"), record{Value: "one"}))
	withoutLocal, err := s2.Commit(tx2, 1)
	require.NoError(t, err)

	require.Equal(t, withLocal.Hash, withoutLocal.Hash)
}

func TestGetConsultsTransactionViewBeforeStore(t *testing.T) {
	s := openStore(t)

	tx, err := s.Start()
	require.NoError(t, err)
	require.NoError(t, tx.Set(store.SubjectID("s-id:a"), record{Value: "one"}))

	var got record
	ok, err := tx.Get(store.SubjectID("s-id:a"), &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "one", got.Value)
}

func TestCommitRejectsWithoutPendingTransaction(t *testing.T) {
	s := openStore(t)
	tx, err := s.Start()
	require.NoError(t, err)
	_, err = s.Commit(tx, 1)
	require.NoError(t, err)

	_, err = s.Commit(tx, 2)
	require.ErrorIs(t, err, store.ErrNoPendingTransaction)
}
