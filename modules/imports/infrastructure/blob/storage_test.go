package blob_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundflow/receipts/modules/imports/infrastructure/blob"
)

func TestDiskStorage_PutGet(t *testing.T) {
	s := blob.NewDiskStorage(t.TempDir())
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "receipts/2025/M-1.pdf", []byte("payload")))

	data, err := s.Get(ctx, "receipts/2025/M-1.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	ok, err := s.Exists(ctx, "receipts/2025/M-1.pdf")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(ctx, "receipts/2025/M-2.pdf")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDiskStorage_Overwrite(t *testing.T) {
	s := blob.NewDiskStorage(t.TempDir())
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k", []byte("one")))
	require.NoError(t, s.Put(ctx, "k", []byte("two")))

	data, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), data)
}

func TestDiskStorage_NotFound(t *testing.T) {
	s := blob.NewDiskStorage(t.TempDir())

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, blob.ErrNotFound)
}

func TestDiskStorage_RejectsEscapingKeys(t *testing.T) {
	s := blob.NewDiskStorage(t.TempDir())

	err := s.Put(context.Background(), "../outside", []byte("x"))
	assert.Error(t, err)
}
