package workbook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func newFixture(t *testing.T) *Workbook {
	t.Helper()
	w, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	require.NoError(t, w.AddCatalogEntry("Employer Relations", "Employer Visits", "Outreach"))
	require.NoError(t, w.AddCatalogEntry("Employer Relations", "Career Fairs", "Events"))
	require.NoError(t, w.AddCatalogEntry("Student Services", "Appointments", ""))
	return w
}

func putStagingRow(t *testing.T, w *Workbook, line int, values ...any) {
	t.Helper()
	cell, err := excelize.CoordinatesToCellName(1, line)
	require.NoError(t, err)
	require.NoError(t, w.file.SetSheetRow(StagingSheet, cell, &values))
}

func reopen(t *testing.T, w *Workbook) *Workbook {
	t.Helper()
	data, err := w.Encode()
	require.NoError(t, err)
	out, err := Decode("metrics.xlsx", data)
	require.NoError(t, err)
	t.Cleanup(func() { _ = out.Close() })
	return out
}

func TestNewWorkbookHasBothSheets(t *testing.T) {
	w, err := New()
	require.NoError(t, err)
	defer w.Close()

	catalog, err := w.Catalog()
	require.NoError(t, err)
	assert.Empty(t, catalog.Categories)

	rows, err := w.StagingRows()
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestDecodeRejectsEmptyAndGarbage(t *testing.T) {
	_, err := Decode("metrics.xlsx", nil)
	require.Error(t, err)

	_, err = Decode("metrics.xlsx", []byte("not a zip archive"))
	require.Error(t, err)
}

func TestMissingSheet(t *testing.T) {
	w, err := New()
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.file.DeleteSheet(StagingSheet))

	_, err = w.StagingRows()
	assert.ErrorIs(t, err, ErrSheetMissing)
}

func TestCatalogOrderAndGroups(t *testing.T) {
	w := newFixture(t)
	require.NoError(t, w.AddCatalogEntry("Employer Relations", "Employer Visits", "Outreach"))

	catalog, err := w.Catalog()
	require.NoError(t, err)

	assert.Equal(t, []string{"Employer Relations", "Student Services"}, catalog.Categories)
	assert.Equal(t, []string{"Employer Visits", "Career Fairs"}, catalog.Metrics["Employer Relations"])
	assert.Equal(t, "Other", catalog.Groups["Appointments"])
	assert.Equal(t, []MetricInfo{
		{Name: "Employer Visits", Group: "Outreach"},
		{Name: "Career Fairs", Group: "Events"},
	}, catalog.MetricsFor("Employer Relations"))
	assert.Empty(t, catalog.MetricsFor("Unknown"))
	assert.NotNil(t, catalog.MetricsFor("Unknown"))
}

func TestCatalogSkipsIncompleteRows(t *testing.T) {
	w := newFixture(t)
	values := []any{"", "Orphan Metric", "Group"}
	require.NoError(t, w.file.SetSheetRow(CatalogSheet, "A10", &values))
	values = []any{"Lonely Category", "  ", ""}
	require.NoError(t, w.file.SetSheetRow(CatalogSheet, "A11", &values))

	catalog, err := w.Catalog()
	require.NoError(t, err)
	assert.False(t, catalog.HasCategory("Lonely Category"))
	_, ok := catalog.Groups["Orphan Metric"]
	assert.False(t, ok)
}

func TestFiscalYearsDefaultAndSorted(t *testing.T) {
	w := newFixture(t)
	years, err := w.FiscalYears()
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultFiscalYear}, years)

	putStagingRow(t, w, 2, "25/26", "Q1", "2025-07-01", "2025-09-30", "Student Services", "Appointments", 10, nil)
	putStagingRow(t, w, 3, "23/24", "Q1", "2023-07-01", "2023-09-30", "Student Services", "Appointments", 8, nil)
	putStagingRow(t, w, 4, "25/26", "Q2", "2025-10-01", "2025-12-31", "Student Services", "Appointments", 9, nil)

	years, err = w.FiscalYears()
	require.NoError(t, err)
	assert.Equal(t, []string{"23/24", "25/26"}, years)
}

func TestRecordsParsesCellsAndSkipsBadRows(t *testing.T) {
	w := newFixture(t)
	putStagingRow(t, w, 2, "24/25", "Q1", "2024-07-01", "2024-09-30", "Student Services", "Appointments", 12.5, 20)
	putStagingRow(t, w, 3, "24/25", "Q1", "garbage", "", "Student Services", "Walk-ins", nil, nil)
	putStagingRow(t, w, 4, "24/25", "Q1", "2024-07-01", "2024-09-30", "Student Services", "Broken", "lots", nil)

	records, skipped, err := w.Records()
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Len(t, skipped, 1)
	assert.Equal(t, 4, skipped[0].Line)

	first := records[0]
	assert.Equal(t, "Appointments", first.Metric)
	assert.Equal(t, 12.5, first.Value)
	require.NotNil(t, first.Target)
	assert.Equal(t, 20.0, *first.Target)
	require.NotNil(t, first.StartDate)
	assert.Equal(t, "2024-07-01", *first.StartDate)

	second := records[1]
	assert.Equal(t, 0.0, second.Value)
	assert.Nil(t, second.Target)
	assert.Nil(t, second.StartDate)
	assert.Nil(t, second.EndDate)
}

func TestExistsAndRecordsFor(t *testing.T) {
	w := newFixture(t)
	putStagingRow(t, w, 2, " 24/25 ", "Q1", "2024-07-01", "2024-09-30", "Student Services", "Appointments", 3, nil)
	putStagingRow(t, w, 3, "24/25", "Q2", "2024-10-01", "2024-12-31", "Student Services", "Appointments", 4, nil)

	key := Key{FiscalYear: "24/25", Quarter: "Q1", Category: "Student Services"}
	ok, err := w.Exists(key)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = w.Exists(Key{FiscalYear: "24/25", Quarter: "Q3", Category: "Student Services"})
	require.NoError(t, err)
	assert.False(t, ok)

	records, _, err := w.RecordsFor(key)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 3.0, records[0].Value)
}

func TestParseCellDate(t *testing.T) {
	cases := map[string]string{
		"45474":      "2024-07-01",
		"2024-07-01": "2024-07-01",
		"7/1/2024":   "2024-07-01",
		"07/01/2024": "2024-07-01",
	}
	for input, want := range cases {
		got := formatCellDate(input)
		require.NotNil(t, got, input)
		assert.Equal(t, want, *got, input)
	}
	assert.Nil(t, formatCellDate(""))
	assert.Nil(t, formatCellDate("next tuesday"))
}

func TestLegacyWorkbookIsReadOnly(t *testing.T) {
	w := &Workbook{file: excelize.NewFile(), readOnly: true}
	defer w.Close()

	_, err := w.Encode()
	assert.ErrorIs(t, err, ErrReadOnly)
	_, err = w.Upsert(Submission{})
	assert.ErrorIs(t, err, ErrReadOnly)
	assert.ErrorIs(t, w.AddCatalogEntry("a", "b", "c"), ErrReadOnly)
}
