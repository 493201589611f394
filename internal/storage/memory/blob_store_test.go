package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobStoreRoundTrip(t *testing.T) {
	store := NewBlobStore()

	exists, size, err := store.ObjectExists(context.Background(), "2020/01/key.pdf")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Zero(t, size)

	uri, err := store.PutObject(context.Background(), "2020/01/key.pdf", "application/pdf", []byte("doc"))
	require.NoError(t, err)
	assert.Equal(t, "memory://2020/01/key.pdf", uri)

	exists, size, err = store.ObjectExists(context.Background(), "2020/01/key.pdf")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, int64(3), size)

	data, ok := store.Get("2020/01/key.pdf")
	require.True(t, ok)
	assert.Equal(t, []byte("doc"), data)
	assert.Equal(t, 1, store.Len())
}

func TestBlobStoreRejectsEmptyKey(t *testing.T) {
	store := NewBlobStore()
	_, err := store.PutObject(context.Background(), "", "application/pdf", []byte("doc"))
	assert.Error(t, err)
}
