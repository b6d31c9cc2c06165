package webapp

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"io/fs"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/phillip-england/ccmetrics/internal/middleware"
	"github.com/phillip-england/ccmetrics/internal/security"
	"github.com/phillip-england/ccmetrics/internal/telemetry"
	"github.com/phillip-england/ccmetrics/internal/tracker"
	"go.uber.org/zap"
)

//go:embed templates/dashboard.html templates/form.html templates/partials.html
var templatesFS embed.FS

//go:embed static
var staticFS embed.FS

const dashboardDateLayout = "01/02/2006 03:04 PM"

type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MetricsEnabled  bool
}

type Server struct {
	cfg     Config
	tracker *tracker.Service
	signer  *security.Signer
	metrics *telemetry.Metrics
	logger  *zap.Logger
	now     func() time.Time

	dashboardTmpl *template.Template
	formTmpl      *template.Template
}

type formValues struct {
	FiscalYear string
	Quarter    string
	StartDate  string
	EndDate    string
	Category   string
	Replace    bool
	Values     map[string]string
	Targets    map[string]string
}

type pageData struct {
	CSRF              string
	Flashes           []flash
	CurrentDate       string
	Categories        []string
	FiscalYears       []string
	Quarters          []string
	MetricGroups      map[string]string
	MetricsByCategory map[string][]string
	Form              formValues
}

func New(cfg Config, svc *tracker.Service, signer *security.Signer, metrics *telemetry.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:           cfg,
		tracker:       svc,
		signer:        signer,
		metrics:       metrics,
		logger:        logger.Named("http"),
		now:           time.Now,
		dashboardTmpl: template.Must(template.ParseFS(templatesFS, "templates/dashboard.html", "templates/partials.html")),
		formTmpl:      template.Must(template.ParseFS(templatesFS, "templates/form.html", "templates/partials.html")),
	}
}

func (s *Server) Handler() http.Handler {
	router := httprouter.New()
	router.PanicHandler = s.recoverPanic

	s.handle(router, http.MethodGet, "/", s.dashboard)
	s.handle(router, http.MethodGet, "/form", s.formPage)
	s.handle(router, http.MethodPost, "/form", s.submitForm)
	s.handle(router, http.MethodGet, "/get_metrics_data", s.metricsData)
	s.handle(router, http.MethodGet, "/get_metric_groups", s.metricGroups)
	s.handle(router, http.MethodGet, "/check_existing_data", s.checkExistingData)
	s.handle(router, http.MethodGet, "/get_existing_data", s.existingData)
	s.handle(router, http.MethodGet, "/get_metrics_by_category", s.metricsByCategory)
	s.handle(router, http.MethodGet, "/healthz", s.healthz)
	if s.cfg.MetricsEnabled && s.metrics != nil {
		router.Handler(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	static, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	router.ServeFiles("/static/*filepath", http.FS(static))

	csp := strings.Join([]string{
		"default-src 'self'",
		"style-src 'self'",
		"script-src 'self'",
		"img-src 'self' data:",
		"connect-src 'self'",
		"frame-ancestors 'none'",
	}, "; ")

	return middleware.Chain(
		router,
		middleware.RequestID,
		middleware.RequestLogger(s.logger),
		middleware.SecurityHeaders(middleware.SecurityHeadersConfig{ContentSecurityPolicy: csp}),
		s.csrfProtect,
	)
}

func (s *Server) handle(router *httprouter.Router, method, path string, h http.HandlerFunc) {
	router.Handler(method, path, middleware.Instrument(s.metrics, path)(h))
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", s.cfg.Addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("shutdown", zap.Error(err))
		}
		return ctx.Err()
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) recoverPanic(w http.ResponseWriter, r *http.Request, v any) {
	s.logger.Error("panic serving request",
		zap.Any("panic", v),
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.RequestIDFromContext(r.Context())),
		zap.ByteString("stack", debug.Stack()))
	if isAJAX(r) {
		writeJSON(w, http.StatusInternalServerError, submitResponse{Message: "Internal server error"})
		return
	}
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func isAJAX(r *http.Request) bool {
	return r.Header.Get("X-Requested-With") == "XMLHttpRequest"
}

func renderHTMLTemplate(w http.ResponseWriter, tmpl *template.Template, data pageData) error {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, err := w.Write(buf.Bytes())
	return err
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
