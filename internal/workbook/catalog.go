package workbook

import "slices"

// Catalog is the MetricsAndCategories sheet: which metrics belong to which
// category and which chart group each metric is drawn in.
type Catalog struct {
	Categories []string
	Metrics    map[string][]string
	Groups     map[string]string
}

type MetricInfo struct {
	Name  string `json:"name"`
	Group string `json:"group"`
}

func EmptyCatalog() *Catalog {
	return &Catalog{
		Categories: []string{},
		Metrics:    map[string][]string{},
		Groups:     map[string]string{},
	}
}

func (w *Workbook) Catalog() (*Catalog, error) {
	rows, err := w.rows(CatalogSheet)
	if err != nil {
		return nil, err
	}

	catalog := EmptyCatalog()
	for i, row := range rows {
		if i == 0 {
			continue
		}
		category := cellValue(row, 0)
		metric := cellValue(row, 1)
		if category == "" || metric == "" {
			continue
		}
		group := cellValue(row, 2)
		if group == "" {
			group = DefaultGroup
		}

		metrics, seen := catalog.Metrics[category]
		if !seen {
			catalog.Categories = append(catalog.Categories, category)
		}
		if !slices.Contains(metrics, metric) {
			catalog.Metrics[category] = append(metrics, metric)
		}
		catalog.Groups[metric] = group
	}
	return catalog, nil
}

func (c *Catalog) HasCategory(category string) bool {
	_, ok := c.Metrics[category]
	return ok
}

// MetricsFor lists a category's metrics in sheet order. Unknown categories
// yield an empty slice.
func (c *Catalog) MetricsFor(category string) []MetricInfo {
	names := c.Metrics[category]
	out := make([]MetricInfo, 0, len(names))
	for _, name := range names {
		group, ok := c.Groups[name]
		if !ok {
			group = DefaultGroup
		}
		out = append(out, MetricInfo{Name: name, Group: group})
	}
	return out
}
