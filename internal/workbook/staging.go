package workbook

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

const (
	colFiscalYear = iota
	colQuarter
	colStartDate
	colEndDate
	colCategory
	colMetric
	colValue
	colTarget
)

const dateLayout = "2006-01-02"

// Row is one non-blank StagingData row. Cells hold trimmed raw values; dates
// may be Excel serials or text.
type Row struct {
	Line       int
	FiscalYear string
	Quarter    string
	StartDate  string
	EndDate    string
	Category   string
	Metric     string
	Value      string
	Target     string
}

// Key selects every metric of one category in one fiscal quarter.
type Key struct {
	FiscalYear string
	Quarter    string
	Category   string
}

func (k Key) Complete() bool {
	return strings.TrimSpace(k.FiscalYear) != "" &&
		strings.TrimSpace(k.Quarter) != "" &&
		strings.TrimSpace(k.Category) != ""
}

func (k Key) Matches(r Row) bool {
	return r.FiscalYear == strings.TrimSpace(k.FiscalYear) &&
		r.Quarter == strings.TrimSpace(k.Quarter) &&
		r.Category == strings.TrimSpace(k.Category)
}

type Record struct {
	FiscalYear string   `json:"fiscal_year"`
	Quarter    string   `json:"quarter"`
	StartDate  *string  `json:"start_date"`
	EndDate    *string  `json:"end_date"`
	Category   string   `json:"category"`
	Metric     string   `json:"metric"`
	Value      float64  `json:"value"`
	Target     *float64 `json:"target"`
}

// SkippedRow reports a staging row that could not become a Record.
type SkippedRow struct {
	Line int
	Err  error
}

// stagingTable returns the data rows plus the number of the last used sheet
// row, which is where appends continue from.
func (w *Workbook) stagingTable() ([]Row, int, error) {
	raw, err := w.rows(StagingSheet)
	if err != nil {
		return nil, 0, err
	}
	rows := make([]Row, 0, len(raw))
	for i, cells := range raw {
		if i == 0 || blankRow(cells) {
			continue
		}
		rows = append(rows, Row{
			Line:       i + 1,
			FiscalYear: cellValue(cells, colFiscalYear),
			Quarter:    cellValue(cells, colQuarter),
			StartDate:  cellValue(cells, colStartDate),
			EndDate:    cellValue(cells, colEndDate),
			Category:   cellValue(cells, colCategory),
			Metric:     cellValue(cells, colMetric),
			Value:      cellValue(cells, colValue),
			Target:     cellValue(cells, colTarget),
		})
	}
	return rows, max(len(raw), 1), nil
}

func (w *Workbook) StagingRows() ([]Row, error) {
	rows, _, err := w.stagingTable()
	return rows, err
}

func (w *Workbook) FiscalYears() ([]string, error) {
	rows, err := w.StagingRows()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	years := make([]string, 0)
	for _, row := range rows {
		if row.FiscalYear == "" {
			continue
		}
		if _, ok := seen[row.FiscalYear]; ok {
			continue
		}
		seen[row.FiscalYear] = struct{}{}
		years = append(years, row.FiscalYear)
	}
	if len(years) == 0 {
		return []string{DefaultFiscalYear}, nil
	}
	sort.Strings(years)
	return years, nil
}

func (w *Workbook) Exists(key Key) (bool, error) {
	rows, err := w.StagingRows()
	if err != nil {
		return false, err
	}
	for _, row := range rows {
		if key.Matches(row) {
			return true, nil
		}
	}
	return false, nil
}

func (w *Workbook) Records() ([]Record, []SkippedRow, error) {
	return w.collect(func(Row) bool { return true })
}

func (w *Workbook) RecordsFor(key Key) ([]Record, []SkippedRow, error) {
	return w.collect(key.Matches)
}

func (w *Workbook) collect(keep func(Row) bool) ([]Record, []SkippedRow, error) {
	rows, err := w.StagingRows()
	if err != nil {
		return nil, nil, err
	}
	records := make([]Record, 0, len(rows))
	var skipped []SkippedRow
	for _, row := range rows {
		if !keep(row) {
			continue
		}
		record, err := row.Record()
		if err != nil {
			skipped = append(skipped, SkippedRow{Line: row.Line, Err: err})
			continue
		}
		records = append(records, record)
	}
	return records, skipped, nil
}

// Record converts the row for JSON output. A blank value reads as 0 and a
// blank target as null; unparsable dates become null.
func (r Row) Record() (Record, error) {
	record := Record{
		FiscalYear: r.FiscalYear,
		Quarter:    r.Quarter,
		StartDate:  formatCellDate(r.StartDate),
		EndDate:    formatCellDate(r.EndDate),
		Category:   r.Category,
		Metric:     r.Metric,
	}
	if r.Value != "" {
		value, err := strconv.ParseFloat(r.Value, 64)
		if err != nil {
			return Record{}, fmt.Errorf("row %d: value %q is not numeric", r.Line, r.Value)
		}
		record.Value = value
	}
	if r.Target != "" {
		target, err := strconv.ParseFloat(r.Target, 64)
		if err != nil {
			return Record{}, fmt.Errorf("row %d: target %q is not numeric", r.Line, r.Target)
		}
		record.Target = &target
	}
	return record, nil
}

var cellDateLayouts = []string{
	dateLayout,
	"2006-01-02 15:04:05",
	time.RFC3339,
	"1/2/2006",
	"01/02/2006",
	"1/2/06",
	"1-2-06",
	"01-02-06",
	"1/2/2006 15:04",
	"1/2/06 15:04",
}

func parseCellDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	if serial, err := strconv.ParseFloat(value, 64); err == nil {
		parsed, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	}
	for _, layout := range cellDateLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

func formatCellDate(value string) *string {
	parsed, ok := parseCellDate(value)
	if !ok {
		return nil
	}
	formatted := parsed.Format(dateLayout)
	return &formatted
}

func blankRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
