package workbook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func q1Submission(entries ...Entry) Submission {
	return Submission{
		FiscalYear: "24/25",
		Quarter:    "Q1",
		StartDate:  "2024-07-01",
		EndDate:    "2024-09-30",
		Category:   "Employer Relations",
		Entries:    entries,
	}
}

func TestUpsertAppendsNewRows(t *testing.T) {
	w := newFixture(t)

	result, err := w.Upsert(q1Submission(
		Entry{Metric: "Employer Visits", Value: "12", Target: "15"},
		Entry{Metric: "Career Fairs", Value: "2"},
	))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Added)
	assert.Equal(t, 0, result.Updated)
	assert.Equal(t, 2, result.Count())
	assert.Equal(t,
		"Changes confirmed: Employer Visits: Updated from N/A to 12, Career Fairs: Updated from N/A to 2",
		result.Message())

	records, skipped, err := reopen(t, w).Records()
	require.NoError(t, err)
	assert.Empty(t, skipped)
	require.Len(t, records, 2)

	visits := records[0]
	assert.Equal(t, "24/25", visits.FiscalYear)
	assert.Equal(t, "Q1", visits.Quarter)
	assert.Equal(t, "Employer Relations", visits.Category)
	assert.Equal(t, "Employer Visits", visits.Metric)
	assert.Equal(t, 12.0, visits.Value)
	require.NotNil(t, visits.Target)
	assert.Equal(t, 15.0, *visits.Target)
	require.NotNil(t, visits.StartDate)
	assert.Equal(t, "2024-07-01", *visits.StartDate)
	require.NotNil(t, visits.EndDate)
	assert.Equal(t, "2024-09-30", *visits.EndDate)

	assert.Nil(t, records[1].Target)
}

func TestUpsertUpdatesMatchingRowInPlace(t *testing.T) {
	w := newFixture(t)
	putStagingRow(t, w, 2, "24/25", "Q1", "2024-07-01", "2024-09-30", "Employer Relations", "Employer Visits", 10, 15)
	putStagingRow(t, w, 3, "24/25", "Q2", "2024-10-01", "2024-12-31", "Employer Relations", "Employer Visits", 11, nil)

	result, err := w.Upsert(q1Submission(Entry{Metric: "Employer Visits", Value: "14"}))
	require.NoError(t, err)
	assert.Equal(t, 0, result.Added)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, "Changes confirmed: Employer Visits: Updated from 10 to 14", result.Message())

	rows, err := reopen(t, w).StagingRows()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 2, rows[0].Line)
	assert.Equal(t, "14", rows[0].Value)
	assert.Equal(t, "", rows[0].Target, "blank target clears the cell")
	assert.Equal(t, "11", rows[1].Value, "other quarters are untouched")
}

func TestUpsertBlankValueIsReportedAsReset(t *testing.T) {
	w := newFixture(t)
	putStagingRow(t, w, 2, "24/25", "Q1", "2024-07-01", "2024-09-30", "Employer Relations", "Career Fairs", 3.5, nil)

	result, err := w.Upsert(q1Submission(
		Entry{Metric: "Career Fairs", Value: "  "},
		Entry{Metric: "Employer Visits", Value: "7"},
	))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Added)
	assert.Equal(t, 0, result.Updated)
	assert.Equal(t,
		"Changes confirmed: Career Fairs: Reset from 3.5 to empty, Employer Visits: Updated from N/A to 7",
		result.Message())

	rows, err := w.StagingRows()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "3.5", rows[0].Value, "create action keeps rows for blank metrics")
}

func TestUpsertUpdateActionReplacesQuarter(t *testing.T) {
	w := newFixture(t)
	putStagingRow(t, w, 2, "24/25", "Q1", "2024-07-01", "2024-09-30", "Employer Relations", "Career Fairs", 3, nil)
	putStagingRow(t, w, 3, "24/25", "Q1", "2024-07-01", "2024-09-30", "Student Services", "Appointments", 40, nil)
	putStagingRow(t, w, 4, "24/25", "Q1", "2024-07-01", "2024-09-30", "Employer Relations", "Employer Visits", 9, nil)

	sub := q1Submission(
		Entry{Metric: "Employer Visits", Value: "10"},
		Entry{Metric: "Career Fairs", Value: ""},
	)
	sub.Action = "update"
	result, err := w.Upsert(sub)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Removed)
	assert.Equal(t, 1, result.Added)
	assert.Equal(t,
		"Changes confirmed: Employer Visits: Updated from 9 to 10, Career Fairs: Reset from 3 to empty",
		result.Message())

	rows, err := reopen(t, w).StagingRows()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Appointments", rows[0].Metric)
	assert.Equal(t, 2, rows[0].Line)
	assert.Equal(t, "Employer Visits", rows[1].Metric)
	assert.Equal(t, 3, rows[1].Line)
	assert.Equal(t, "10", rows[1].Value)
}

func TestUpsertRejectsMissingFields(t *testing.T) {
	w := newFixture(t)
	sub := q1Submission(Entry{Metric: "Employer Visits", Value: "1"})
	sub.Category = " "

	_, err := w.Upsert(sub)
	assert.ErrorIs(t, err, ErrMissingFields)
}

func TestUpsertInvalidInputWritesNothing(t *testing.T) {
	cases := map[string]Submission{
		"bad value": q1Submission(
			Entry{Metric: "Employer Visits", Value: "5"},
			Entry{Metric: "Career Fairs", Value: "five"},
		),
		"bad target": q1Submission(Entry{Metric: "Employer Visits", Value: "5", Target: "lots"}),
	}
	for name, sub := range cases {
		t.Run(name, func(t *testing.T) {
			w := newFixture(t)
			_, err := w.Upsert(sub)
			assert.ErrorIs(t, err, ErrInvalidValue)

			rows, err := w.StagingRows()
			require.NoError(t, err)
			assert.Empty(t, rows)
		})
	}

	w := newFixture(t)
	sub := q1Submission(Entry{Metric: "Employer Visits", Value: "5"})
	sub.StartDate = "07/01/2024"
	_, err := w.Upsert(sub)
	assert.ErrorIs(t, err, ErrInvalidDate)
}

func TestUpsertMatchesTrimmedCells(t *testing.T) {
	w := newFixture(t)
	putStagingRow(t, w, 2, "24/25 ", " Q1", "2024-07-01", "2024-09-30", "Employer Relations ", " Employer Visits ", 1, nil)

	result, err := w.Upsert(q1Submission(Entry{Metric: "Employer Visits", Value: "2", Target: "4"}))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)

	rows, err := w.StagingRows()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2", rows[0].Value)
	assert.Equal(t, "4", rows[0].Target)
}

func TestUpsertAppendsAfterLastUsedRow(t *testing.T) {
	w := newFixture(t)
	putStagingRow(t, w, 6, "23/24", "Q4", "2024-04-01", "2024-06-30", "Student Services", "Appointments", 5, nil)

	_, err := w.Upsert(q1Submission(Entry{Metric: "Employer Visits", Value: "1"}))
	require.NoError(t, err)

	rows, err := w.StagingRows()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 7, rows[1].Line)
}

func TestDisplayValue(t *testing.T) {
	assert.Equal(t, "N/A", displayValue(""))
	assert.Equal(t, "12", displayValue("12.0"))
	assert.Equal(t, "3.5", displayValue("3.50"))
	assert.Equal(t, "pending", displayValue("pending"))
}
