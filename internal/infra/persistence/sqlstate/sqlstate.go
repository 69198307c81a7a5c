// Package sqlstate maps the memory store snapshot onto SQL tables, one row per
// workbasket, transaction, version, check and verdict. Rows carry their keys as
// columns and the full record as a JSON payload.
package sqlstate

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"tariffcore/internal/infra/persistence/memory"
	"tariffcore/pkg/domain"
)

// Dialect captures the SQL differences between the supported drivers.
type Dialect struct {
	Name        string
	IntType     string
	PayloadType string
	Placeholder func(n int) string
}

// SQLite targets modernc.org/sqlite.
var SQLite = Dialect{
	Name:        "sqlite",
	IntType:     "INTEGER",
	PayloadType: "BLOB",
	Placeholder: func(int) string { return "?" },
}

// Postgres targets the pgx stdlib driver.
var Postgres = Dialect{
	Name:        "postgres",
	IntType:     "BIGINT",
	PayloadType: "JSONB",
	Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
}

type column struct {
	name    string
	integer bool
}

type table struct {
	name       string
	columns    []column
	primary    []string
	appendOnly bool
	rows       func(snap memory.Snapshot) ([][]any, error)
	load       func(snap *memory.Snapshot, payload []byte) error
}

func withPayload(payload any, keys ...any) ([]any, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return append(keys, data), nil
}

var tables = []table{
	{
		name:    "workbaskets",
		columns: []column{{"id", true}, {"status", false}},
		primary: []string{"id"},
		rows: func(snap memory.Snapshot) ([][]any, error) {
			out := make([][]any, 0, len(snap.Workbaskets))
			for _, wb := range snap.Workbaskets {
				row, err := withPayload(wb, wb.ID, string(wb.Status))
				if err != nil {
					return nil, fmt.Errorf("encode workbasket %d: %w", wb.ID, err)
				}
				out = append(out, row)
			}
			return out, nil
		},
		load: func(snap *memory.Snapshot, payload []byte) error {
			var wb domain.Workbasket
			if err := json.Unmarshal(payload, &wb); err != nil {
				return err
			}
			snap.Workbaskets = append(snap.Workbaskets, wb)
			return nil
		},
	},
	{
		name:    "transactions",
		columns: []column{{"id", true}, {"workbasket_id", true}, {"tx_partition", true}, {"tx_order", true}},
		primary: []string{"id"},
		rows: func(snap memory.Snapshot) ([][]any, error) {
			out := make([][]any, 0, len(snap.Transactions))
			for _, tx := range snap.Transactions {
				row, err := withPayload(tx, tx.ID, tx.WorkbasketID, int64(tx.Partition), tx.Order)
				if err != nil {
					return nil, fmt.Errorf("encode transaction %d: %w", tx.ID, err)
				}
				out = append(out, row)
			}
			return out, nil
		},
		load: func(snap *memory.Snapshot, payload []byte) error {
			var tx domain.Transaction
			if err := json.Unmarshal(payload, &tx); err != nil {
				return err
			}
			snap.Transactions = append(snap.Transactions, tx)
			return nil
		},
	},
	{
		name:       "versions",
		columns:    []column{{"id", true}, {"version_group", true}, {"transaction_id", true}, {"identity", false}},
		primary:    []string{"id"},
		appendOnly: true,
		rows: func(snap memory.Snapshot) ([][]any, error) {
			out := make([][]any, 0, len(snap.Versions))
			for _, v := range snap.Versions {
				row, err := withPayload(v, v.ID, v.VersionGroup, v.TransactionID, v.Identity.String())
				if err != nil {
					return nil, fmt.Errorf("encode version %d: %w", v.ID, err)
				}
				out = append(out, row)
			}
			return out, nil
		},
		load: func(snap *memory.Snapshot, payload []byte) error {
			var v domain.Version
			if err := json.Unmarshal(payload, &v); err != nil {
				return err
			}
			snap.Versions = append(snap.Versions, v)
			return nil
		},
	},
	{
		name:       "transaction_checks",
		columns:    []column{{"id", true}, {"transaction_id", true}},
		primary:    []string{"id"},
		appendOnly: true,
		rows: func(snap memory.Snapshot) ([][]any, error) {
			out := make([][]any, 0, len(snap.Checks))
			for _, c := range snap.Checks {
				row, err := withPayload(c, c.ID, c.TransactionID)
				if err != nil {
					return nil, fmt.Errorf("encode check %d: %w", c.ID, err)
				}
				out = append(out, row)
			}
			return out, nil
		},
		load: func(snap *memory.Snapshot, payload []byte) error {
			var c domain.TransactionCheck
			if err := json.Unmarshal(payload, &c); err != nil {
				return err
			}
			snap.Checks = append(snap.Checks, c)
			return nil
		},
	},
	{
		name:       "verdicts",
		columns:    []column{{"transaction_id", true}, {"record", false}, {"rule", false}, {"run_id", false}},
		primary:    []string{"transaction_id", "record", "rule", "run_id"},
		appendOnly: true,
		rows: func(snap memory.Snapshot) ([][]any, error) {
			out := make([][]any, 0, len(snap.Verdicts))
			for _, v := range snap.Verdicts {
				row, err := withPayload(v, v.TransactionID, v.Record.String(), v.Rule, v.RunID)
				if err != nil {
					return nil, fmt.Errorf("encode verdict %s/%s: %w", v.Record, v.Rule, err)
				}
				out = append(out, row)
			}
			return out, nil
		},
		load: func(snap *memory.Snapshot, payload []byte) error {
			var v domain.Verdict
			if err := json.Unmarshal(payload, &v); err != nil {
				return err
			}
			snap.Verdicts = append(snap.Verdicts, v)
			return nil
		},
	},
	{
		name:    "sequences",
		columns: []column{{"name", false}},
		primary: []string{"name"},
		rows: func(snap memory.Snapshot) ([][]any, error) {
			row, err := withPayload(snap.Sequences, "store")
			if err != nil {
				return nil, fmt.Errorf("encode sequences: %w", err)
			}
			return [][]any{row}, nil
		},
		load: func(snap *memory.Snapshot, payload []byte) error {
			return json.Unmarshal(payload, &snap.Sequences)
		},
	},
}

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Schema returns the CREATE TABLE statements for the dialect.
func Schema(d Dialect) []string {
	stmts := make([]string, 0, len(tables))
	for _, t := range tables {
		var cols []string
		for _, c := range t.columns {
			typ := "TEXT"
			if c.integer {
				typ = d.IntType
			}
			cols = append(cols, c.name+" "+typ+" NOT NULL")
		}
		cols = append(cols, "payload "+d.PayloadType+" NOT NULL")
		cols = append(cols, "PRIMARY KEY ("+strings.Join(t.primary, ", ")+")")
		stmts = append(stmts, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", t.name, strings.Join(cols, ",\n\t")))
	}
	return stmts
}

// EnsureSchema creates any missing tables.
func EnsureSchema(ctx context.Context, db Execer, d Dialect) error {
	for _, stmt := range Schema(d) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func upsertStatement(t table, d Dialect) string {
	names := make([]string, 0, len(t.columns)+1)
	marks := make([]string, 0, len(t.columns)+1)
	for i, c := range t.columns {
		names = append(names, c.name)
		marks = append(marks, d.Placeholder(i+1))
	}
	names = append(names, "payload")
	marks = append(marks, d.Placeholder(len(t.columns)+1))
	stmt := fmt.Sprintf("INSERT INTO %s(%s) VALUES(%s) ON CONFLICT(%s) ",
		t.name, strings.Join(names, ","), strings.Join(marks, ","), strings.Join(t.primary, ","))
	if t.appendOnly {
		return stmt + "DO NOTHING"
	}
	var sets []string
	for _, c := range t.columns {
		if !contains(t.primary, c.name) {
			sets = append(sets, c.name+"=excluded."+c.name)
		}
	}
	sets = append(sets, "payload=excluded.payload")
	return stmt + "DO UPDATE SET " + strings.Join(sets, ",")
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

// Save writes the snapshot inside one SQL transaction. Append-only tables
// ignore rows that are already present.
func Save(ctx context.Context, db *sql.DB, d Dialect, snap memory.Snapshot) (retErr error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, t := range tables {
		rows, err := t.rows(snap)
		if err != nil {
			return err
		}
		stmt := upsertStatement(t, d)
		for _, row := range rows {
			if _, err := tx.ExecContext(ctx, stmt, row...); err != nil {
				return fmt.Errorf("upsert %s: %w", t.name, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Load reads every table back into a snapshot.
func Load(ctx context.Context, db Querier) (memory.Snapshot, error) {
	var snap memory.Snapshot
	for _, t := range tables {
		if err := loadTable(ctx, db, t, &snap); err != nil {
			return memory.Snapshot{}, err
		}
	}
	return snap, nil
}

func loadTable(ctx context.Context, db Querier, t table, snap *memory.Snapshot) error {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT payload FROM %s ORDER BY %s", t.name, strings.Join(t.primary, ", ")))
	if err != nil {
		return fmt.Errorf("select %s: %w", t.name, err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return fmt.Errorf("scan %s: %w", t.name, err)
		}
		if err := t.load(snap, payload); err != nil {
			return fmt.Errorf("decode %s: %w", t.name, err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s: %w", t.name, err)
	}
	return nil
}
