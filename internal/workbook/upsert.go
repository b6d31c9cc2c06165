package workbook

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

const (
	ActionCreate = "create"
	ActionUpdate = "update"
)

var (
	ErrMissingFields = errors.New("all fields are required")
	ErrInvalidDate   = errors.New("invalid date")
	ErrInvalidValue  = errors.New("invalid number")
)

// Entry is one metrics_<name> / targets_<name> pair from the form.
type Entry struct {
	Metric string
	Value  string
	Target string
}

type Submission struct {
	FiscalYear string
	Quarter    string
	StartDate  string
	EndDate    string
	Category   string
	Action     string
	Entries    []Entry
}

func (s Submission) Key() Key {
	return Key{FiscalYear: s.FiscalYear, Quarter: s.Quarter, Category: s.Category}
}

func (s Submission) replacing() bool {
	return strings.EqualFold(strings.TrimSpace(s.Action), ActionUpdate)
}

// Change is the before/after of one submitted metric. An empty Next means the
// metric was submitted blank.
type Change struct {
	Metric   string
	Previous string
	Next     string
}

func (c Change) String() string {
	if c.Next == "" {
		return fmt.Sprintf("%s: Reset from %s to empty", c.Metric, c.Previous)
	}
	return fmt.Sprintf("%s: Updated from %s to %s", c.Metric, c.Previous, c.Next)
}

type UpsertResult struct {
	Added   int
	Updated int
	Removed int
	Changes []Change
}

func (r UpsertResult) Count() int {
	return r.Added + r.Updated
}

func (r UpsertResult) Message() string {
	parts := make([]string, 0, len(r.Changes))
	for _, c := range r.Changes {
		parts = append(parts, c.String())
	}
	return "Changes confirmed: " + strings.Join(parts, ", ")
}

type parsedEntry struct {
	metric string
	raw    string
	value  float64
	target *float64
}

type parsedSubmission struct {
	key     Key
	start   time.Time
	end     time.Time
	entries []parsedEntry
}

// Validate checks the header fields, dates and numbers without touching a
// workbook.
func (s Submission) Validate() error {
	_, err := s.parse()
	return err
}

func (s Submission) parse() (parsedSubmission, error) {
	required := []string{s.FiscalYear, s.Quarter, s.StartDate, s.EndDate, s.Category}
	for _, field := range required {
		if strings.TrimSpace(field) == "" {
			return parsedSubmission{}, ErrMissingFields
		}
	}

	start, err := time.Parse(dateLayout, strings.TrimSpace(s.StartDate))
	if err != nil {
		return parsedSubmission{}, fmt.Errorf("%w: start date %q", ErrInvalidDate, s.StartDate)
	}
	end, err := time.Parse(dateLayout, strings.TrimSpace(s.EndDate))
	if err != nil {
		return parsedSubmission{}, fmt.Errorf("%w: end date %q", ErrInvalidDate, s.EndDate)
	}

	out := parsedSubmission{
		key: Key{
			FiscalYear: strings.TrimSpace(s.FiscalYear),
			Quarter:    strings.TrimSpace(s.Quarter),
			Category:   strings.TrimSpace(s.Category),
		},
		start: start,
		end:   end,
	}
	for _, e := range s.Entries {
		raw := strings.TrimSpace(e.Value)
		if raw == "" {
			continue
		}
		metric := strings.TrimSpace(e.Metric)
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return parsedSubmission{}, fmt.Errorf("%w: %s value %q", ErrInvalidValue, metric, raw)
		}
		entry := parsedEntry{metric: metric, raw: raw, value: value}
		if target := strings.TrimSpace(e.Target); target != "" {
			parsed, err := strconv.ParseFloat(target, 64)
			if err != nil {
				return parsedSubmission{}, fmt.Errorf("%w: %s target %q", ErrInvalidValue, metric, target)
			}
			entry.target = &parsed
		}
		out.entries = append(out.entries, entry)
	}
	return out, nil
}

// Upsert merges a submission into StagingData. Rows are matched on fiscal
// year, quarter, category and metric; matches are updated in place and the
// rest are appended. An "update" action first drops every row of the
// submission's fiscal quarter and category. Nothing is written when the
// submission fails validation.
func (w *Workbook) Upsert(sub Submission) (UpsertResult, error) {
	var result UpsertResult
	if w.readOnly {
		return result, ErrReadOnly
	}
	parsed, err := sub.parse()
	if err != nil {
		return result, err
	}

	rows, lastLine, err := w.stagingTable()
	if err != nil {
		return result, err
	}

	previous := make(map[string]string)
	for _, row := range rows {
		if parsed.key.Matches(row) {
			previous[row.Metric] = displayValue(row.Value)
		}
	}

	if sub.replacing() {
		for i := len(rows) - 1; i >= 0; i-- {
			if !parsed.key.Matches(rows[i]) {
				continue
			}
			if err := w.file.RemoveRow(StagingSheet, rows[i].Line); err != nil {
				return result, fmt.Errorf("remove row %d: %w", rows[i].Line, err)
			}
			result.Removed++
		}
		if rows, lastLine, err = w.stagingTable(); err != nil {
			return result, err
		}
	}

	existing := make(map[string]int)
	for _, row := range rows {
		if !parsed.key.Matches(row) {
			continue
		}
		if _, ok := existing[row.Metric]; !ok {
			existing[row.Metric] = row.Line
		}
	}

	next := lastLine + 1
	for _, entry := range parsed.entries {
		if line, ok := existing[entry.metric]; ok {
			if err := w.setMeasurement(line, entry); err != nil {
				return result, err
			}
			result.Updated++
			continue
		}
		if err := w.appendRow(next, parsed, entry); err != nil {
			return result, err
		}
		existing[entry.metric] = next
		next++
		result.Added++
	}

	for _, e := range sub.Entries {
		metric := strings.TrimSpace(e.Metric)
		prev, ok := previous[metric]
		if !ok {
			prev = "N/A"
		}
		result.Changes = append(result.Changes, Change{
			Metric:   metric,
			Previous: prev,
			Next:     strings.TrimSpace(e.Value),
		})
	}
	return result, nil
}

func (w *Workbook) setMeasurement(line int, entry parsedEntry) error {
	if err := w.setCell(colValue, line, entry.value); err != nil {
		return err
	}
	var target any
	if entry.target != nil {
		target = *entry.target
	}
	return w.setCell(colTarget, line, target)
}

func (w *Workbook) appendRow(line int, sub parsedSubmission, entry parsedEntry) error {
	cells := []struct {
		col   int
		value any
	}{
		{colFiscalYear, sub.key.FiscalYear},
		{colQuarter, sub.key.Quarter},
		{colStartDate, sub.start},
		{colEndDate, sub.end},
		{colCategory, sub.key.Category},
		{colMetric, entry.metric},
	}
	for _, c := range cells {
		if err := w.setCell(c.col, line, c.value); err != nil {
			return err
		}
	}
	if err := w.applyDateStyle(line); err != nil {
		return err
	}
	return w.setMeasurement(line, entry)
}

func (w *Workbook) setCell(col, line int, value any) error {
	cell, err := excelize.CoordinatesToCellName(col+1, line)
	if err != nil {
		return err
	}
	if err := w.file.SetCellValue(StagingSheet, cell, value); err != nil {
		return fmt.Errorf("set %s: %w", cell, err)
	}
	return nil
}

func (w *Workbook) applyDateStyle(line int) error {
	if w.dateStyle == 0 {
		style, err := w.file.NewStyle(&excelize.Style{NumFmt: 14})
		if err != nil {
			return fmt.Errorf("create date style: %w", err)
		}
		w.dateStyle = style
	}
	first, err := excelize.CoordinatesToCellName(colStartDate+1, line)
	if err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(colEndDate+1, line)
	if err != nil {
		return err
	}
	return w.file.SetCellStyle(StagingSheet, first, last, w.dateStyle)
}

// displayValue renders a previous cell for the change message: numbers in
// shortest form ("12.0" reads "12") and an empty cell as N/A.
func displayValue(raw string) string {
	if raw == "" {
		return "N/A"
	}
	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return raw
}
