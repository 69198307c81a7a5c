package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"tariffcore/internal/core"
	"tariffcore/pkg/domain"
)

// Fixture is a YAML workbasket: a title plus transactions of record
// operations, applied in file order.
//
//	workbasket:
//	  title: Chapter 01 seed
//	transactions:
//	  - operations:
//	      - kind: goods_nomenclature
//	        record: {sid: 100, item_id: "0100000000", suffix: "80", valid_between: {lower: 2020-01-01}}
type Fixture struct {
	Workbasket   FixtureWorkbasket    `yaml:"workbasket"`
	Transactions []FixtureTransaction `yaml:"transactions"`
}

type FixtureWorkbasket struct {
	Title  string `yaml:"title"`
	Reason string `yaml:"reason"`
	Author string `yaml:"author"`
}

type FixtureTransaction struct {
	Operations []FixtureOperation `yaml:"operations"`
}

// FixtureOperation defaults to a create.
type FixtureOperation struct {
	Kind       domain.RecordKind `yaml:"kind"`
	UpdateType domain.UpdateType `yaml:"update_type"`
	Record     yaml.Node         `yaml:"record"`
}

// LoadFixture decodes and checks a fixture.
func LoadFixture(r io.Reader) (Fixture, error) {
	var f Fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return Fixture{}, errors.New("fixture is empty")
		}
		return Fixture{}, fmt.Errorf("decode fixture: %w", err)
	}
	if f.Workbasket.Title == "" {
		return Fixture{}, errors.New("fixture workbasket title required")
	}
	for i, tx := range f.Transactions {
		for j, op := range tx.Operations {
			if !op.Kind.Valid() {
				return Fixture{}, fmt.Errorf("transaction %d operation %d: unknown record kind %q", i+1, j+1, op.Kind)
			}
			if op.UpdateType != "" && !op.UpdateType.Valid() {
				return Fixture{}, fmt.Errorf("transaction %d operation %d: unknown update type %q", i+1, j+1, op.UpdateType)
			}
		}
	}
	return f, nil
}

// Operations decodes the records of the transaction at index i.
func (f Fixture) Operations(i int) ([]core.RecordOperation, error) {
	ops := make([]core.RecordOperation, 0, len(f.Transactions[i].Operations))
	for j, op := range f.Transactions[i].Operations {
		rec, err := domain.DecodeRecord(op.Kind, op.Record.Decode)
		if err != nil {
			return nil, fmt.Errorf("transaction %d operation %d: %w", i+1, j+1, err)
		}
		ut := op.UpdateType
		if ut == "" {
			ut = domain.UpdateCreate
		}
		ops = append(ops, core.RecordOperation{UpdateType: ut, Record: rec})
	}
	return ops, nil
}

// ImportResult summarises an applied fixture.
type ImportResult struct {
	WorkbasketID int64   `json:"workbasket_id"`
	Transactions []int64 `json:"transactions"`
	Versions     int     `json:"versions"`
}

// ApplyFixture creates the fixture's workbasket and writes each transaction.
// A rejected operation stops the import; earlier transactions stay written.
func ApplyFixture(ctx context.Context, svc *core.Service, f Fixture) (ImportResult, error) {
	wb, err := svc.CreateWorkbasket(ctx, f.Workbasket.Title, f.Workbasket.Reason, f.Workbasket.Author)
	if err != nil {
		return ImportResult{}, err
	}
	res := ImportResult{WorkbasketID: wb.ID}
	for i := range f.Transactions {
		ops, err := f.Operations(i)
		if err != nil {
			return res, err
		}
		tx, err := svc.NewTransaction(ctx, wb.ID)
		if err != nil {
			return res, err
		}
		versions, err := svc.ApplyBatch(ctx, tx.ID, ops)
		if err != nil {
			return res, fmt.Errorf("transaction %d: %w", i+1, err)
		}
		res.Transactions = append(res.Transactions, tx.ID)
		res.Versions += len(versions)
	}
	return res, nil
}
