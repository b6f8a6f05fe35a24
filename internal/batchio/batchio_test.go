package batchio

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/entity-resolver/internal/model"
)

func createTestXLSX(t *testing.T, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Sheet1")
	require.NoError(t, err)
	for _, rowData := range rows {
		row := sheet.AddRow()
		for _, cellData := range rowData {
			row.AddCell().SetString(cellData)
		}
	}
	path := filepath.Join(t.TempDir(), "batch.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestReadCSV(t *testing.T) {
	in := "plan_code, customer_name ,company_id\nP-1, Acme Advisors ,\nP-2\n\n,,\nP-3,Globex,C-9,extra\n"

	tbl, err := ReadCSV(context.Background(), strings.NewReader(in), CSVOptions{TrimSpace: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"plan_code", "customer_name", "company_id"}, tbl.Header)
	require.Len(t, tbl.Rows, 3)
	assert.Equal(t, model.Row{"plan_code": "P-1", "customer_name": "Acme Advisors", "company_id": ""}, tbl.Rows[0])
	assert.Equal(t, model.Row{"plan_code": "P-2", "customer_name": "", "company_id": ""}, tbl.Rows[1])
	assert.Equal(t, "C-9", tbl.Rows[2]["company_id"])
}

func TestReadCSV_BOMHeader(t *testing.T) {
	tbl, err := ReadCSV(context.Background(), strings.NewReader("\ufeffname\nAcme\n"), CSVOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"name"}, tbl.Header)
	assert.Equal(t, "Acme", tbl.Rows[0]["name"])
}

func TestReadCSV_BadHeader(t *testing.T) {
	_, err := ReadCSV(context.Background(), strings.NewReader("a,a\n1,2\n"), CSVOptions{})
	assert.ErrorContains(t, err, "duplicate header")

	_, err = ReadCSV(context.Background(), strings.NewReader("a,,c\n1,2,3\n"), CSVOptions{})
	assert.ErrorContains(t, err, "empty header")

	_, err = ReadCSV(context.Background(), strings.NewReader(""), CSVOptions{})
	assert.ErrorContains(t, err, "missing header")
}

func TestStreamCSV_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rowCh, errCh := StreamCSV(ctx, strings.NewReader("a\n1\n"), CSVOptions{})
	for range rowCh {
	}
	assert.Error(t, <-errCh)
}

func TestStreamCSV_Delimiter(t *testing.T) {
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader("a;b\n1;2\n"), CSVOptions{Delimiter: ';'})
	var rows [][]string
	for r := range rowCh {
		rows = append(rows, r)
	}
	require.NoError(t, <-errCh)
	assert.Equal(t, [][]string{{"a", "b"}, {"1", "2"}}, rows)
}

func TestReadXLSX(t *testing.T) {
	path := createTestXLSX(t, [][]string{
		{"account_number", "customer_name"},
		{"A-100", "株式会社アクメ"},
		{"A-200"},
	})

	tbl, err := ReadXLSX(path, XLSXOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"account_number", "customer_name"}, tbl.Header)
	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, "株式会社アクメ", tbl.Rows[0]["customer_name"])
	assert.Equal(t, "", tbl.Rows[1]["customer_name"])

	_, err = ReadXLSX(path, XLSXOptions{SheetName: "Missing"})
	assert.ErrorContains(t, err, "not found")
	_, err = ReadXLSX(path, XLSXOptions{SheetIndex: 3})
	assert.ErrorContains(t, err, "out of range")
}

func TestReadFile_DispatchesByExtension(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "batch.CSV")
	require.NoError(t, os.WriteFile(csvPath, []byte("name\nAcme\n"), 0o600))

	tbl, err := ReadFile(context.Background(), csvPath)
	require.NoError(t, err)
	assert.Len(t, tbl.Rows, 1)

	xlsxPath := createTestXLSX(t, [][]string{{"name"}, {"Acme"}, {"Globex"}})
	tbl, err = ReadFile(context.Background(), xlsxPath)
	require.NoError(t, err)
	assert.Len(t, tbl.Rows, 2)

	_, err = ReadFile(context.Background(), filepath.Join(dir, "batch.json"))
	assert.ErrorContains(t, err, "unsupported file type")
}

func TestWriteCSV(t *testing.T) {
	rows := []model.ResolvedRow{
		{Row: model.Row{"name": "Acme", "plan": "P-1"}, CompanyID: "C-1", Confidence: 0.95, Tier: model.TierCache},
		{Row: model.Row{"name": "Nobody, Inc", "plan": "P-2"}, CompanyID: "INABCDEFGHIJKLMNOP", Tier: model.TierTemp, IsTemp: true},
		{Row: model.Row{"name": "Globex", "plan": "P-3"}, CompanyID: "C-3", Confidence: 0.7, Tier: model.TierExternal, NeedsReview: true},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, []string{"plan", "name"}, rows))

	want := "plan,name,resolved_company_id,resolution_tier,resolution_confidence,needs_review\n" +
		"P-1,Acme,C-1,cache,0.95,false\n" +
		"P-2,\"Nobody, Inc\",INABCDEFGHIJKLMNOP,temp,0.00,false\n" +
		"P-3,Globex,C-3,external,0.70,true\n"
	assert.Equal(t, want, buf.String())
}

func TestReadResolved_RoundTrip(t *testing.T) {
	rows := []model.ResolvedRow{
		{Row: model.Row{"name": "Acme", "plan": "P-1"}, CompanyID: "C-1", Confidence: 0.95, Tier: model.TierCache},
		{Row: model.Row{"name": "Nobody", "plan": "P-2"}, CompanyID: "INABCDEFGHIJKLMNOP", Tier: model.TierTemp},
		{Row: model.Row{"name": "Globex", "plan": "P-3"}, CompanyID: "C-3", Confidence: 0.7, Tier: model.TierExternal, NeedsReview: true},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, []string{"plan", "name"}, rows))

	tbl, err := ReadCSV(context.Background(), &buf, CSVOptions{HasHeader: true})
	require.NoError(t, err)
	got, err := ReadResolved(tbl)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, model.Row{"name": "Acme", "plan": "P-1"}, got[0].Row)
	assert.Equal(t, "C-1", got[0].CompanyID)
	assert.InDelta(t, 0.95, got[0].Confidence, 1e-9)
	assert.Equal(t, model.TierCache, got[0].Tier)
	assert.False(t, got[0].IsTemp)

	assert.True(t, got[1].IsTemp)
	assert.True(t, got[2].NeedsReview)
}

func TestReadResolved_MissingColumns(t *testing.T) {
	tbl, err := ReadCSV(context.Background(), strings.NewReader("name,resolved_company_id\nAcme,C-1\n"), CSVOptions{HasHeader: true})
	require.NoError(t, err)
	_, err = ReadResolved(tbl)
	assert.ErrorContains(t, err, "resolution_tier")
}

func TestReadResolved_BadConfidence(t *testing.T) {
	in := "name,resolved_company_id,resolution_tier,resolution_confidence,needs_review\nAcme,C-1,cache,high,false\n"
	tbl, err := ReadCSV(context.Background(), strings.NewReader(in), CSVOptions{HasHeader: true})
	require.NoError(t, err)
	_, err = ReadResolved(tbl)
	assert.ErrorContains(t, err, "row 1")
}
