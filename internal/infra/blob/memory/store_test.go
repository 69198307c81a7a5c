package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tariffcore/internal/blob/blobtest"
	"tariffcore/internal/blob/core"
)

func TestContract(t *testing.T) {
	blobtest.Exercise(t, New())
}

func TestMetadataIsCopied(t *testing.T) {
	store := New()
	ctx := context.Background()
	meta := map[string]string{"run-id": "r1"}
	_, err := store.Put(ctx, "k.json", bytes.NewReader([]byte("{}")), core.PutOptions{Metadata: meta})
	require.NoError(t, err)
	meta["run-id"] = "mutated"

	info, err := store.Head(ctx, "k.json")
	require.NoError(t, err)
	assert.Equal(t, "r1", info.Metadata["run-id"])
	info.Metadata["run-id"] = "again"

	info, err = store.Head(ctx, "k.json")
	require.NoError(t, err)
	assert.Equal(t, "r1", info.Metadata["run-id"])
	assert.Equal(t, core.DriverMemory, store.Driver())
}
