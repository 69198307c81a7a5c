package cli

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tariffcore/pkg/domain"
)

func TestLoadFixtureDecodesRecords(t *testing.T) {
	file, err := os.Open("testdata/chapter01.yaml")
	require.NoError(t, err)
	defer file.Close()

	f, err := LoadFixture(file)
	require.NoError(t, err)
	assert.Equal(t, "Chapter 01 seed", f.Workbasket.Title)
	require.Len(t, f.Transactions, 2)

	ops, err := f.Operations(1)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, domain.UpdateCreate, ops[0].UpdateType)
	m, ok := ops[0].Record.(domain.Measure)
	require.True(t, ok)
	require.NotNil(t, m.GoodsSID)
	assert.Equal(t, 102, *m.GoodsSID)
	assert.Equal(t, "[2021-01-01, 2021-12-31]", m.ValidBetween.String())
	assert.Equal(t, "R2000010", m.Regulation.RegulationID)
}

func TestLoadFixtureRejects(t *testing.T) {
	cases := map[string]struct {
		doc  string
		want string
	}{
		"empty":        {"", "empty"},
		"no title":     {"transactions: []\n", "title required"},
		"unknown kind": {"workbasket: {title: x}\ntransactions:\n  - operations:\n      - kind: tariff\n", `unknown record kind "tariff"`},
		"bad update":   {"workbasket: {title: x}\ntransactions:\n  - operations:\n      - kind: measure\n        update_type: merge\n", `unknown update type "merge"`},
		"stray field":  {"workbasket: {title: x, owner: y}\n", "owner"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFixture(strings.NewReader(tc.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestOperationsReportBadDates(t *testing.T) {
	doc := "workbasket: {title: x}\ntransactions:\n  - operations:\n      - kind: regulation\n        record: {role_type: 1, regulation_id: R1, valid_between: {lower: someday}}\n"
	f, err := LoadFixture(strings.NewReader(doc))
	require.NoError(t, err)
	_, err = f.Operations(0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transaction 1 operation 1")
}
