package testutil

import (
	"context"
	"database/sql/driver"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStubDBUpsertsByConflictKey(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()
	require.NoError(t, conn.Ping(ctx))

	upsert := "INSERT INTO workbaskets(id,status,payload) VALUES($1,$2,$3) ON CONFLICT(id) DO UPDATE SET status=excluded.status,payload=excluded.payload"
	_, err := conn.ExecContext(ctx, upsert, []driver.NamedValue{{Value: int64(1)}, {Value: "NEW_IN_PROGRESS"}, {Value: []byte(`{}`)}})
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, upsert, []driver.NamedValue{{Value: int64(1)}, {Value: "APPROVED"}, {Value: []byte(`{}`)}})
	require.NoError(t, err)
	require.Len(t, conn.Tables["workbaskets"], 1)
	assert.Equal(t, "APPROVED", conn.Tables["workbaskets"][0]["status"])

	insertOnce := "INSERT INTO versions(id,payload) VALUES($1,$2) ON CONFLICT(id) DO NOTHING"
	_, err = conn.ExecContext(ctx, insertOnce, []driver.NamedValue{{Value: int64(7)}, {Value: []byte(`"first"`)}})
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, insertOnce, []driver.NamedValue{{Value: int64(7)}, {Value: []byte(`"second"`)}})
	require.NoError(t, err)
	require.Len(t, conn.Tables["versions"], 1)
	assert.Equal(t, []byte(`"first"`), conn.Tables["versions"][0]["payload"])

	rows, err := conn.QueryContext(ctx, "SELECT payload FROM versions ORDER BY id", nil)
	require.NoError(t, err)
	defer func() { _ = rows.Close() }()
	dest := make([]driver.Value, 1)
	require.NoError(t, rows.Next(dest))
	assert.Equal(t, []byte(`"first"`), dest[0])
	assert.ErrorIs(t, rows.Next(dest), io.EOF)
}

func TestStubDBFailureSwitches(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()
	conn.FailTables = map[string]bool{"verdicts": true}
	_, err := conn.ExecContext(ctx, "INSERT INTO verdicts(run_id,payload) VALUES($1,$2)", []driver.NamedValue{{Value: "r"}, {Value: []byte(`{}`)}})
	require.Error(t, err)
	_, err = conn.QueryContext(ctx, "SELECT payload FROM verdicts", nil)
	require.Error(t, err)

	conn.FailBegin = true
	_, err = conn.BeginTx(ctx, driver.TxOptions{})
	require.Error(t, err)
}
