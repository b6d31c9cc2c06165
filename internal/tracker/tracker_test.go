package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/phillip-england/ccmetrics/internal/blobstore"
	"github.com/phillip-england/ccmetrics/internal/telemetry"
	"github.com/phillip-england/ccmetrics/internal/workbook"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func seededStore(t *testing.T) *blobstore.MemoryStore {
	t.Helper()
	wb, err := workbook.New()
	require.NoError(t, err)
	defer wb.Close()
	require.NoError(t, wb.AddCatalogEntry("Employer Relations", "Employer Visits", "Outreach"))
	require.NoError(t, wb.AddCatalogEntry("Employer Relations", "Career Fairs", "Events"))
	require.NoError(t, wb.AddCatalogEntry("Student Services", "Appointments", ""))
	data, err := wb.Encode()
	require.NoError(t, err)
	return blobstore.NewMemoryStore("CareerCenterMetrics.xlsx", data)
}

func newService(t *testing.T, store blobstore.Store) (*Service, *telemetry.Metrics) {
	t.Helper()
	m := telemetry.New()
	return New(store, m, zaptest.NewLogger(t)), m
}

func firstQuarter(entries ...workbook.Entry) workbook.Submission {
	return workbook.Submission{
		FiscalYear: "24/25",
		Quarter:    "Q1",
		StartDate:  "2024-07-01",
		EndDate:    "2024-09-30",
		Category:   "Employer Relations",
		Action:     workbook.ActionCreate,
		Entries:    entries,
	}
}

func TestOverviewAndFormOptions(t *testing.T) {
	svc, _ := newService(t, seededStore(t))
	ctx := context.Background()

	overview := svc.Overview(ctx)
	assert.Equal(t, []string{"Employer Relations", "Student Services"}, overview.Categories)
	assert.Equal(t, []string{workbook.DefaultFiscalYear}, overview.FiscalYears)
	assert.Equal(t, "Outreach", overview.MetricGroups["Employer Visits"])

	opts := svc.FormOptions(ctx)
	assert.Equal(t, []string{"Q1", "Q2", "Q3", "Q4"}, opts.Quarters)
	assert.Equal(t, []string{"Employer Visits", "Career Fairs"}, opts.MetricsByCategory["Employer Relations"])
}

func TestOverviewDegradesWhenBlobMissing(t *testing.T) {
	svc, m := newService(t, blobstore.NewMemoryStore("CareerCenterMetrics.xlsx", nil))
	overview := svc.Overview(context.Background())

	assert.Empty(t, overview.Categories)
	assert.Equal(t, []string{workbook.DefaultFiscalYear}, overview.FiscalYears)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.WorkbookLoads.WithLabelValues("error")))

	_, err := svc.Records(context.Background())
	assert.True(t, errors.Is(err, blobstore.ErrNotFound))
}

func TestMetricsByCategory(t *testing.T) {
	svc, _ := newService(t, seededStore(t))

	metrics, err := svc.MetricsByCategory(context.Background(), "Student Services")
	require.NoError(t, err)
	assert.Equal(t, []workbook.MetricInfo{{Name: "Appointments", Group: workbook.DefaultGroup}}, metrics)

	metrics, err = svc.MetricsByCategory(context.Background(), "Nope")
	require.NoError(t, err)
	assert.NotNil(t, metrics)
	assert.Empty(t, metrics)
}

func TestSubmitPersistsAndReports(t *testing.T) {
	store := seededStore(t)
	svc, m := newService(t, store)
	ctx := context.Background()

	result, err := svc.Submit(ctx, firstQuarter(
		workbook.Entry{Metric: "Career Fairs", Value: "3"},
		workbook.Entry{Metric: "Employer Visits", Value: "12", Target: "20"},
	))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Count())
	assert.Equal(t,
		"Changes confirmed: Employer Visits: Updated from N/A to 12, Career Fairs: Updated from N/A to 3",
		result.Message())
	assert.Equal(t, 1, store.Uploads())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RowsUpserted.WithLabelValues("added")))

	key := workbook.Key{FiscalYear: "24/25", Quarter: "Q1", Category: "Employer Relations"}
	exists, err := svc.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	records, err := svc.Existing(ctx, key)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "Employer Visits", records[0].Metric)

	result, err = svc.Submit(ctx, firstQuarter(workbook.Entry{Metric: "Employer Visits", Value: "14"}))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, "Changes confirmed: Employer Visits: Updated from 12 to 14", result.Message())

	years := svc.FiscalYears(ctx)
	assert.Equal(t, []string{"24/25"}, years)
}

func TestSubmitValidationLeavesBlobUntouched(t *testing.T) {
	store := seededStore(t)
	svc, _ := newService(t, store)

	sub := firstQuarter(workbook.Entry{Metric: "Employer Visits", Value: "12"})
	sub.Quarter = ""
	_, err := svc.Submit(context.Background(), sub)
	assert.ErrorIs(t, err, workbook.ErrMissingFields)

	_, err = svc.Submit(context.Background(), firstQuarter(workbook.Entry{Metric: "Employer Visits", Value: "lots"}))
	assert.ErrorIs(t, err, workbook.ErrInvalidValue)
	assert.Equal(t, 0, store.Uploads())
}

func TestSubmitValidatesBeforeLoading(t *testing.T) {
	store := blobstore.NewMemoryStore("CareerCenterMetrics.xlsx", nil)
	svc, _ := newService(t, store)

	sub := firstQuarter(workbook.Entry{Metric: "Employer Visits", Value: "12"})
	sub.StartDate = ""
	_, err := svc.Submit(context.Background(), sub)
	assert.ErrorIs(t, err, workbook.ErrMissingFields)

	sub = firstQuarter(workbook.Entry{Metric: "Employer Visits", Value: "12"})
	_, err = svc.Submit(context.Background(), sub)
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestConcurrentSubmitsAreSerialised(t *testing.T) {
	store := seededStore(t)
	svc, _ := newService(t, store)

	var wg sync.WaitGroup
	for _, q := range Quarters {
		wg.Add(1)
		go func(quarter string) {
			defer wg.Done()
			sub := firstQuarter(workbook.Entry{Metric: "Employer Visits", Value: "1"})
			sub.Quarter = quarter
			_, err := svc.Submit(context.Background(), sub)
			assert.NoError(t, err)
		}(q)
	}
	wg.Wait()

	records, err := svc.Records(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, len(Quarters))
}

func TestOrderEntries(t *testing.T) {
	catalog := &workbook.Catalog{
		Categories: []string{"Employer Relations"},
		Metrics:    map[string][]string{"Employer Relations": {"Employer Visits", "Career Fairs"}},
		Groups:     map[string]string{},
	}
	got := OrderEntries(catalog, "Employer Relations", []workbook.Entry{
		{Metric: "Zoom Sessions"},
		{Metric: "Career Fairs"},
		{Metric: "Alumni Calls"},
		{Metric: "Employer Visits"},
	})
	names := make([]string, 0, len(got))
	for _, e := range got {
		names = append(names, e.Metric)
	}
	assert.Equal(t, []string{"Employer Visits", "Career Fairs", "Alumni Calls", "Zoom Sessions"}, names)
}
