package webapp

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/phillip-england/ccmetrics/internal/blobstore"
	"github.com/phillip-england/ccmetrics/internal/workbook"
	"go.uber.org/zap"
)

const (
	metricFieldPrefix = "metrics_"
	targetFieldPrefix = "targets_"
	missingFieldsMsg  = "All fields are required!"
	unreadableMsg     = "Could not open the Excel file for reading."

	// The form holds a few dozen short fields; the browser posts it as
	// multipart/form-data.
	maxFormMemory = 1 << 20
)

type submitResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	MetricsCount *int   `json:"metrics_count,omitempty"`
}

type existsResponse struct {
	Exists bool   `json:"exists"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) dashboard(w http.ResponseWriter, r *http.Request) {
	overview := s.tracker.Overview(r.Context())
	data := pageData{
		CSRF:         s.csrfToken(r),
		Flashes:      s.takeFlashes(w, r),
		CurrentDate:  s.now().Format(dashboardDateLayout),
		Categories:   overview.Categories,
		FiscalYears:  overview.FiscalYears,
		MetricGroups: overview.MetricGroups,
	}
	if err := renderHTMLTemplate(w, s.dashboardTmpl, data); err != nil {
		s.logger.Error("dashboard render failed", zap.Error(err))
		http.Error(w, "Error loading dashboard", http.StatusInternalServerError)
	}
}

func (s *Server) formPage(w http.ResponseWriter, r *http.Request) {
	s.renderForm(w, r, formValues{}, nil)
}

func (s *Server) renderForm(w http.ResponseWriter, r *http.Request, values formValues, extra []flash) {
	opts := s.tracker.FormOptions(r.Context())
	data := pageData{
		CSRF:              s.csrfToken(r),
		Flashes:           append(s.takeFlashes(w, r), extra...),
		FiscalYears:       opts.FiscalYears,
		Quarters:          opts.Quarters,
		Categories:        opts.Categories,
		MetricsByCategory: opts.MetricsByCategory,
		Form:              values,
	}
	if err := renderHTMLTemplate(w, s.formTmpl, data); err != nil {
		s.logger.Error("form render failed", zap.Error(err))
		http.Error(w, "Error loading form", http.StatusInternalServerError)
	}
}

func (s *Server) submitForm(w http.ResponseWriter, r *http.Request) {
	ajax := isAJAX(r)
	if err := r.ParseMultipartForm(maxFormMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		s.submitFailed(w, r, ajax, formValues{}, fmt.Errorf("parse form: %w", err))
		return
	}
	sub := submissionFromForm(r.PostForm)

	result, err := s.tracker.Submit(r.Context(), sub)
	if err != nil {
		s.submitFailed(w, r, ajax, valuesFromForm(r.PostForm, sub), err)
		return
	}

	if ajax {
		count := result.Count()
		writeJSON(w, http.StatusOK, submitResponse{Success: true, Message: result.Message(), MetricsCount: &count})
		return
	}
	s.setFlashes(w, []flash{{Category: "success", Message: result.Message()}})
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) submitFailed(w http.ResponseWriter, r *http.Request, ajax bool, values formValues, err error) {
	var msg string
	switch {
	case errors.Is(err, workbook.ErrMissingFields):
		msg = missingFieldsMsg
	case errors.Is(err, blobstore.ErrNotFound):
		msg = unreadableMsg
	case ajax:
		msg = "Error: " + err.Error()
	default:
		msg = "Error saving data: " + err.Error()
	}
	s.logger.Warn("submission rejected", zap.Bool("ajax", ajax), zap.Error(err))

	if ajax {
		writeJSON(w, http.StatusOK, submitResponse{Message: msg})
		return
	}
	s.renderForm(w, r, values, []flash{{Category: "error", Message: msg}})
}

func submissionFromForm(form url.Values) workbook.Submission {
	sub := workbook.Submission{
		FiscalYear: form.Get("fiscal_year"),
		Quarter:    form.Get("quarter"),
		StartDate:  form.Get("start_date"),
		EndDate:    form.Get("end_date"),
		Category:   form.Get("category"),
		Action:     form.Get("action"),
	}
	if sub.Action == "" {
		sub.Action = workbook.ActionCreate
	}
	for key, values := range form {
		metric, ok := strings.CutPrefix(key, metricFieldPrefix)
		if !ok || metric == "" || len(values) == 0 {
			continue
		}
		sub.Entries = append(sub.Entries, workbook.Entry{
			Metric: metric,
			Value:  values[0],
			Target: form.Get(targetFieldPrefix + metric),
		})
	}
	return sub
}

func valuesFromForm(form url.Values, sub workbook.Submission) formValues {
	values := formValues{
		FiscalYear: sub.FiscalYear,
		Quarter:    sub.Quarter,
		StartDate:  sub.StartDate,
		EndDate:    sub.EndDate,
		Category:   sub.Category,
		Replace:    sub.Action == workbook.ActionUpdate,
		Values:     make(map[string]string, len(sub.Entries)),
		Targets:    make(map[string]string, len(sub.Entries)),
	}
	for _, e := range sub.Entries {
		values.Values[e.Metric] = e.Value
		values.Targets[e.Metric] = form.Get(targetFieldPrefix + e.Metric)
	}
	return values
}

func (s *Server) metricsData(w http.ResponseWriter, r *http.Request) {
	records, err := s.tracker.Records(r.Context())
	if err != nil {
		s.logger.Error("get metrics data", zap.Error(err))
		records = []workbook.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) metricGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.tracker.MetricGroups(r.Context())
	if err != nil {
		s.logger.Error("get metric groups", zap.Error(err))
		groups = map[string]string{}
	}
	writeJSON(w, http.StatusOK, groups)
}

func keyFromQuery(q url.Values) workbook.Key {
	return workbook.Key{
		FiscalYear: q.Get("fiscal_year"),
		Quarter:    q.Get("quarter"),
		Category:   q.Get("category"),
	}
}

func (s *Server) checkExistingData(w http.ResponseWriter, r *http.Request) {
	key := keyFromQuery(r.URL.Query())
	if !key.Complete() {
		writeJSON(w, http.StatusOK, existsResponse{Error: "Missing parameters"})
		return
	}
	exists, err := s.tracker.Exists(r.Context(), key)
	switch {
	case errors.Is(err, blobstore.ErrNotFound):
		writeJSON(w, http.StatusOK, existsResponse{})
	case err != nil:
		s.logger.Error("check existing data", zap.Error(err))
		writeJSON(w, http.StatusOK, existsResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusOK, existsResponse{Exists: exists})
	}
}

func (s *Server) existingData(w http.ResponseWriter, r *http.Request) {
	key := keyFromQuery(r.URL.Query())
	if !key.Complete() {
		writeJSON(w, http.StatusOK, []workbook.Record{})
		return
	}
	records, err := s.tracker.Existing(r.Context(), key)
	if err != nil {
		s.logger.Error("get existing data", zap.Error(err))
		records = []workbook.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) metricsByCategory(w http.ResponseWriter, r *http.Request) {
	category := strings.TrimSpace(r.URL.Query().Get("category"))
	if category == "" {
		writeJSON(w, http.StatusOK, []workbook.MetricInfo{})
		return
	}
	metrics, err := s.tracker.MetricsByCategory(r.Context(), category)
	if err != nil {
		s.logger.Error("get metrics by category", zap.Error(err))
		metrics = []workbook.MetricInfo{}
	}
	writeJSON(w, http.StatusOK, metrics)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
