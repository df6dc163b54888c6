package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/anchorstore/internal/logger"
	"github.com/nainya/anchorstore/pkg/journal"
	"github.com/nainya/anchorstore/pkg/metastore"
	"github.com/nainya/anchorstore/pkg/storage"
	"github.com/nainya/anchorstore/pkg/typedef"
)

func TestOpenStoreClosesBackendsOnFailure(t *testing.T) {
	kv := storage.NewMemoryKV()
	j, err := journal.Open(filepath.Join(t.TempDir(), "intents.log"), journal.Options{})
	require.NoError(t, err)

	// No type registry, so the store cannot be built
	_, err = openStore(kv, j, metastore.Dependencies{Logger: logger.Nop()})
	require.Error(t, err)

	err = kv.View(context.Background(), func(storage.Tx) error { return nil })
	assert.ErrorIs(t, err, storage.ErrClosed)
	_, err = j.Begin("delete", nil)
	assert.ErrorIs(t, err, journal.ErrClosed)
}

func TestOpenStoreOwnsBackends(t *testing.T) {
	kv := storage.NewMemoryKV()
	store, err := openStore(kv, journal.Discard{}, metastore.Dependencies{
		Types:  typedef.MustDefault(),
		Logger: logger.Nop(),
	})
	require.NoError(t, err)

	require.NoError(t, kv.View(context.Background(), func(storage.Tx) error { return nil }))
	require.NoError(t, store.Close())
	err = kv.View(context.Background(), func(storage.Tx) error { return nil })
	assert.ErrorIs(t, err, storage.ErrClosed)
}
