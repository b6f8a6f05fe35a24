package db

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:        "enrichment_index",
		Columns:      []string{"lookup_key", "company_id"},
		ConflictKeys: []string{"lookup_key"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:        "enrichment_index",
		ConflictKeys: []string{"lookup_key"},
	}, [][]any{{"a", "b"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:   "enrichment_index",
		Columns: []string{"lookup_key", "company_id"},
	}, [][]any{{"a", "b"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsert_DefaultSetClauses(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_enrichment_index"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_enrichment_index"}, []string{"lookup_key", "company_id"}).
		WillReturnResult(2)
	mock.ExpectExec(`ON CONFLICT \("lookup_key"\) DO UPDATE SET "company_id" = EXCLUDED."company_id"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "enrichment_index",
		Columns:      []string{"lookup_key", "company_id"},
		ConflictKeys: []string{"lookup_key"},
	}, [][]any{{"A", "C-1"}, {"B", "C-2"}})

	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_CustomSetClauses(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_enrichment_index"}, []string{"lookup_key", "hit_count"}).
		WillReturnResult(1)
	mock.ExpectExec(`DO UPDATE SET hit_count = enrichment_index.hit_count \+ 1`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "enrichment_index",
		Columns:      []string{"lookup_key", "hit_count"},
		ConflictKeys: []string{"lookup_key"},
		SetClauses:   []string{"hit_count = enrichment_index.hit_count + 1"},
	}, [][]any{{"A", 0}})

	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_CopyError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_enrichment_index"}, []string{"lookup_key", "company_id"}).
		WillReturnError(fmt.Errorf("copy failed"))
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "enrichment_index",
		Columns:      []string{"lookup_key", "company_id"},
		ConflictKeys: []string{"lookup_key"},
	}, [][]any{{"A", "C-1"}})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY into staging table")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_NoTable(t *testing.T) {
	_, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Columns:      []string{"lookup_key"},
		ConflictKeys: []string{"lookup_key"},
	}, [][]any{{"a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no table specified")
}

func TestUpsertConfig_Statements(t *testing.T) {
	cfg := UpsertConfig{
		Table:        "resolver.enrichment_index",
		Columns:      []string{"lookup_key", "lookup_type", "company_id"},
		ConflictKeys: []string{"lookup_key", "lookup_type"},
	}
	create, merge := cfg.statements()
	assert.Equal(t, `CREATE TEMP TABLE "_tmp_upsert_resolver_enrichment_index" (LIKE "resolver"."enrichment_index" INCLUDING DEFAULTS) ON COMMIT DROP`, create)
	assert.Equal(t, `INSERT INTO "resolver"."enrichment_index" ("lookup_key", "lookup_type", "company_id") `+
		`SELECT "lookup_key", "lookup_type", "company_id" FROM "_tmp_upsert_resolver_enrichment_index" `+
		`ON CONFLICT ("lookup_key", "lookup_type") DO UPDATE SET "company_id" = EXCLUDED."company_id"`, merge)
}

func TestUpsertConfig_KeysOnlyDoesNothing(t *testing.T) {
	cfg := UpsertConfig{
		Table:        "enrichment_queue",
		Columns:      []string{"normalized_name"},
		ConflictKeys: []string{"normalized_name"},
	}
	_, merge := cfg.statements()
	assert.True(t, strings.HasSuffix(merge, `ON CONFLICT ("normalized_name") DO NOTHING`), merge)
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"resolver.enrichment_index", `"resolver"."enrichment_index"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := sanitizeTable(tt.input)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	result := quoteAndJoin([]string{"id", "name", "value"})
	assert.Equal(t, `"id", "name", "value"`, result)
}
