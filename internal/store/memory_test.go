package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celestiaorg/wgvpn/internal/db/models"
	"github.com/celestiaorg/wgvpn/internal/store"
	"github.com/celestiaorg/wgvpn/internal/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(_ *testing.T) store.Store {
		return store.NewMemoryStore()
	})
}

func TestMemoryStore_MustInsertPanicsOnDuplicate(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	s.MustInsert(ctx, models.NewJob("op", now))
	assert.Panics(t, func() {
		s.MustInsert(ctx, models.NewJob("op", now))
	})
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStore_IsolatedInstances(t *testing.T) {
	ctx := context.Background()
	a := store.NewMemoryStore()
	b := store.NewMemoryStore()

	require.NoError(t, a.Insert(ctx, models.NewJob("op", time.Now())))
	_, err := b.Get(ctx, "op")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMemoryStore_RejectsInvalidJob(t *testing.T) {
	s := store.NewMemoryStore()
	job := models.NewJob("op", time.Now())
	job.Error = "should not be set while pending"

	err := s.Insert(context.Background(), job)
	require.Error(t, err)
	assert.Equal(t, 0, s.Len())
}
