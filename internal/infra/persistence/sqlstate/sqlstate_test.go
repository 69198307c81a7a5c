package sqlstate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUpsertStatementsPerDialect(t *testing.T) {
	byName := map[string]table{}
	for _, tbl := range tables {
		byName[tbl.name] = tbl
	}

	pg := upsertStatement(byName["transactions"], Postgres)
	assert.Equal(t,
		"INSERT INTO transactions(id,workbasket_id,tx_partition,tx_order,payload) VALUES($1,$2,$3,$4,$5) ON CONFLICT(id) DO UPDATE SET workbasket_id=excluded.workbasket_id,tx_partition=excluded.tx_partition,tx_order=excluded.tx_order,payload=excluded.payload",
		pg)

	lite := upsertStatement(byName["verdicts"], SQLite)
	assert.Equal(t,
		"INSERT INTO verdicts(transaction_id,record,rule,run_id,payload) VALUES(?,?,?,?,?) ON CONFLICT(transaction_id,record,rule,run_id) DO NOTHING",
		lite)
}

func TestSchemaUsesDialectTypes(t *testing.T) {
	for _, stmt := range Schema(SQLite) {
		assert.Contains(t, stmt, "payload BLOB NOT NULL")
		assert.NotContains(t, stmt, "BIGINT")
	}
	pg := strings.Join(Schema(Postgres), "\n")
	assert.Contains(t, pg, "version_group BIGINT NOT NULL")
	assert.Contains(t, pg, "PRIMARY KEY (transaction_id, record, rule, run_id)")
	assert.Len(t, Schema(Postgres), len(tables))
}
