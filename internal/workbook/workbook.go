package workbook

import (
	"bytes"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

const (
	CatalogSheet = "MetricsAndCategories"
	StagingSheet = "StagingData"

	DefaultFiscalYear = "24/25"
	DefaultGroup      = "Other"
)

var (
	ErrSheetMissing = errors.New("sheet not found")
	ErrReadOnly     = errors.New("workbook is read-only")
)

var (
	catalogHeader = []any{"Category", "Metric", "MetricGroup"}
	stagingHeader = []any{"FiscalYear", "Quarter", "StartDate", "EndDate", "Category", "Metric", "Value", "Target"}
)

// Workbook wraps the metrics spreadsheet. Legacy .xls files are converted to an
// in-memory xlsx on decode and cannot be encoded again.
type Workbook struct {
	file      *excelize.File
	readOnly  bool
	dateStyle int
}

func New() (*Workbook, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), CatalogSheet); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("rename default sheet: %w", err)
	}
	if _, err := f.NewSheet(StagingSheet); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("create %s sheet: %w", StagingSheet, err)
	}
	if err := f.SetSheetRow(CatalogSheet, "A1", &catalogHeader); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write %s header: %w", CatalogSheet, err)
	}
	if err := f.SetSheetRow(StagingSheet, "A1", &stagingHeader); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write %s header: %w", StagingSheet, err)
	}
	return &Workbook{file: f}, nil
}

// Decode opens workbook bytes. The name is only used to pick the format.
func Decode(name string, data []byte) (*Workbook, error) {
	if len(data) == 0 {
		return nil, errors.New("workbook is empty")
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".xls":
		return decodeLegacy(data)
	default:
		f, err := excelize.OpenReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("open workbook: %w", err)
		}
		return &Workbook{file: f}, nil
	}
}

func decodeLegacy(data []byte) (*Workbook, error) {
	book, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, fmt.Errorf("open xls workbook: %w", err)
	}
	if book.NumSheets() == 0 {
		return nil, errors.New("no worksheet found")
	}

	f := excelize.NewFile()
	defaultSheet := f.GetSheetName(0)
	for i := 0; i < book.NumSheets(); i++ {
		sheet := book.GetSheet(i)
		if sheet == nil {
			continue
		}
		if i == 0 {
			if err := f.SetSheetName(defaultSheet, sheet.Name); err != nil {
				_ = f.Close()
				return nil, err
			}
		} else if _, err := f.NewSheet(sheet.Name); err != nil {
			_ = f.Close()
			return nil, err
		}
		for r := 0; r <= int(sheet.MaxRow); r++ {
			row := sheet.Row(r)
			if row == nil {
				continue
			}
			values := make([]any, 0, row.LastCol())
			for c := 0; c < row.LastCol(); c++ {
				values = append(values, row.Col(c))
			}
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			if err != nil {
				_ = f.Close()
				return nil, err
			}
			if err := f.SetSheetRow(sheet.Name, cell, &values); err != nil {
				_ = f.Close()
				return nil, err
			}
		}
	}
	return &Workbook{file: f, readOnly: true}, nil
}

func (w *Workbook) ReadOnly() bool {
	return w.readOnly
}

func (w *Workbook) Encode() ([]byte, error) {
	if w.readOnly {
		return nil, ErrReadOnly
	}
	buf, err := w.file.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("encode workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func (w *Workbook) Close() error {
	return w.file.Close()
}

func (w *Workbook) rows(sheet string) ([][]string, error) {
	idx, err := w.file.GetSheetIndex(sheet)
	if err != nil {
		return nil, err
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrSheetMissing, sheet)
	}
	rows, err := w.file.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", sheet, err)
	}
	return rows, nil
}

// AddCatalogEntry appends a category/metric/group row to the catalog sheet.
func (w *Workbook) AddCatalogEntry(category, metric, group string) error {
	if w.readOnly {
		return ErrReadOnly
	}
	category = strings.TrimSpace(category)
	metric = strings.TrimSpace(metric)
	if category == "" || metric == "" {
		return errors.New("category and metric are required")
	}
	rows, err := w.rows(CatalogSheet)
	if err != nil {
		return err
	}
	line := max(len(rows), 1) + 1
	values := []any{category, metric, strings.TrimSpace(group)}
	cell, err := excelize.CoordinatesToCellName(1, line)
	if err != nil {
		return err
	}
	return w.file.SetSheetRow(CatalogSheet, cell, &values)
}

func cellValue(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
