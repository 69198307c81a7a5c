// Package blobtest holds the behaviour every archive backend must share.
package blobtest

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tariffcore/internal/blob/core"
)

// Exercise runs the archive contract against an empty store.
func Exercise(t *testing.T, store core.Store) {
	t.Helper()
	ctx := context.Background()

	report := []byte(`{"run_id":"r1","successful":true}`)
	info, err := store.Put(ctx, "rule-runs/1/10/r1.json", bytes.NewReader(report), core.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"run-id": "r1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "rule-runs/1/10/r1.json", info.Key)
	assert.EqualValues(t, len(report), info.Size)

	_, err = store.Put(ctx, "rule-runs/1/10/r1.json", bytes.NewReader([]byte("{}")), core.PutOptions{})
	assert.ErrorIs(t, err, core.ErrExists, "reports are write-once")

	_, err = store.Put(ctx, "rule-runs/1/11/r2.json", bytes.NewReader([]byte("{}")), core.PutOptions{})
	require.NoError(t, err)
	_, err = store.Put(ctx, "rule-runs/2/20/r3.json", bytes.NewReader([]byte("{}")), core.PutOptions{})
	require.NoError(t, err)

	head, err := store.Head(ctx, "rule-runs/1/10/r1.json")
	require.NoError(t, err)
	assert.Equal(t, "application/json", head.ContentType)
	assert.EqualValues(t, len(report), head.Size)

	got, rc, err := store.Get(ctx, "rule-runs/1/10/r1.json")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, report, body)
	assert.Equal(t, "rule-runs/1/10/r1.json", got.Key)

	list, err := store.List(ctx, "rule-runs/1/")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "rule-runs/1/10/r1.json", list[0].Key)
	assert.Equal(t, "rule-runs/1/11/r2.json", list[1].Key)

	_, err = store.Head(ctx, "rule-runs/404.json")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, _, err = store.Get(ctx, "rule-runs/404.json")
	assert.ErrorIs(t, err, core.ErrNotFound)

	existed, err := store.Delete(ctx, "rule-runs/1/11/r2.json")
	require.NoError(t, err)
	assert.True(t, existed)
	existed, err = store.Delete(ctx, "rule-runs/1/11/r2.json")
	require.NoError(t, err)
	assert.False(t, existed)

	for _, key := range []string{"", "/abs.json", "rule-runs/../escape.json"} {
		_, err := store.Put(ctx, key, bytes.NewReader(nil), core.PutOptions{})
		assert.ErrorIs(t, err, core.ErrInvalidKey, "key %q", key)
	}
}
