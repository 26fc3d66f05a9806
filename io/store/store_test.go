package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/ledgerpool/core/ledgernode"
)

func TestStore_EmptyLoad(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	txns, err := s.LoadTransactions()
	require.NoError(t, err)
	assert.Empty(t, txns)
	assert.Equal(t, 0, s.Size())
}

func TestStore_SaveAndReopen(t *testing.T) {
	dir := t.TempDir()
	txns, err := ledgernode.GenesisFor(4, 9702)
	require.NoError(t, err)

	s, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, s.SaveTransactions(txns))
	require.NoError(t, s.Close())

	s, err = New(dir)
	require.NoError(t, err)
	defer s.Close()

	loaded, err := s.LoadTransactions()
	require.NoError(t, err)
	assert.Equal(t, txns, loaded)
}

func TestStore_SaveReplacesShorterList(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SaveTransactions([]string{"a", "b", "c"}))
	require.NoError(t, s.SaveTransactions([]string{"x"}))

	loaded, err := s.LoadTransactions()
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, loaded)
	assert.Equal(t, 1, s.Size())
}

func TestNew_EmptyPath(t *testing.T) {
	_, err := New("")
	require.Error(t, err)
}
