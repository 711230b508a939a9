// Package api exposes the context control operations over HTTP.
// Authentication is expected to happen in front of this server.
package api

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/FranksOps/maestro/internal/lifecycle"
	"github.com/FranksOps/maestro/internal/metrics"
	"github.com/FranksOps/maestro/internal/orchestrator"
	"github.com/FranksOps/maestro/internal/plugin"
	"github.com/FranksOps/maestro/internal/report"
	"github.com/FranksOps/maestro/internal/storage"
)

// MaxArchiveBytes caps an uploaded datastream archive.
const MaxArchiveBytes = 256 << 20

type Server struct {
	svc      *orchestrator.Service
	registry *plugin.Registry
	logger   *slog.Logger
	router   *chi.Mux
}

// NewServer builds the router.
func NewServer(svc *orchestrator.Service, registry *plugin.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(loggerMiddleware(logger))
	r.Use(middleware.Recoverer)

	s := &Server{svc: svc, registry: registry, logger: logger, router: r}
	s.routes()
	return s
}

func loggerMiddleware(log *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				log.Debug("request completed",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"duration", time.Since(start),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

func (s *Server) routes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	s.router.Handle("/metrics", metrics.Handler())

	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/plugins", s.handleListPlugins)

		r.Post("/contexts", s.handleCreateContext)
		r.Route("/contexts/{id}", func(r chi.Router) {
			r.Get("/", s.handleStatus)
			r.Delete("/", s.handleDelete)
			r.Put("/configuration", s.handleConfigure)

			r.Post("/start", s.handleStart)
			r.Post("/stop", s.handleStop)
			r.Post("/resume/{stage}", s.handleResume)
			r.Post("/review/complete", s.handleCompleteReview)
			r.Post("/review/exclude", s.handleExclude)
			r.Post("/import", s.handleImport)

			r.Get("/logs/{stage}", s.handleLogs)
			r.Get("/results", s.handleResults)
			r.Get("/summary", s.handleSummary)
		})
	})
}

// ServeHTTP makes the server usable as an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start listens on addr until ctx is done.
func (s *Server) Start(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("failed to shutdown server", "err", err)
		}
	}()

	s.logger.Info("starting api server", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrInvalidConfiguration),
		errors.Is(err, orchestrator.ErrUnknownFormat):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrBusy),
		errors.Is(err, orchestrator.ErrNotWaitingReview),
		errors.Is(err, orchestrator.ErrNotExportable),
		errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, storage.ErrStatusConflict),
		errors.Is(err, storage.ErrDuplicate):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusOf(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		http.Error(w, "internal error", code)
		return
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", orchestrator.ErrInvalidConfiguration, err)
	}
	return nil
}

type pluginView struct {
	ID               string             `json:"id"`
	Name             string             `json:"name"`
	Kind             storage.PluginKind `json:"kind"`
	Description      string             `json:"description,omitempty"`
	DataType         storage.DataType   `json:"data_type"`
	Default          bool               `json:"default,omitempty"`
	IncompatibleWith []string           `json:"incompatible_with,omitempty"`
}

func (s *Server) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	kind := storage.PluginKind(r.URL.Query().Get("kind"))
	dataType := storage.DataType(r.URL.Query().Get("data_type"))
	records, err := s.registry.ListActive(r.Context(), kind, dataType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]pluginView, 0, len(records))
	for _, p := range records {
		out = append(out, pluginView{
			ID: p.ID, Name: p.Name, Kind: p.Kind, Description: p.Description,
			DataType: p.DataType, Default: p.IsDefault, IncompatibleWith: p.IncompatibleWith,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateContext(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code        string        `json:"code"`
		Name        string        `json:"name"`
		Description string        `json:"description"`
		Owner       storage.Owner `json:"owner"`
		CreatorID   string        `json:"creator_id"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sc, err := s.svc.CreateContext(r.Context(), orchestrator.NewContext{
		Code: req.Code, Name: req.Name, Description: req.Description, Owner: req.Owner, CreatorID: req.CreatorID,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sc)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteContext(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConfigure(w http.ResponseWriter, r *http.Request) {
	var cfg storage.Configuration
	if err := decode(r, &cfg); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.Configure(r.Context(), chi.URLParam(r, "id"), &cfg); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.accepted(w, r, s.svc.Orchestrator().Start(r.Context(), chi.URLParam(r, "id")))
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.accepted(w, r, s.svc.Orchestrator().Stop(r.Context(), chi.URLParam(r, "id")))
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	stage, err := lifecycle.ParseStage(chi.URLParam(r, "stage"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.accepted(w, r, s.svc.Orchestrator().ResumeFrom(r.Context(), chi.URLParam(r, "id"), stage))
}

func (s *Server) handleCompleteReview(w http.ResponseWriter, r *http.Request) {
	s.accepted(w, r, s.svc.Orchestrator().CompleteReview(r.Context(), chi.URLParam(r, "id")))
}

func (s *Server) accepted(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleExclude(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ObjectIDs []string `json:"object_ids"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	n, err := s.svc.Orchestrator().ExcludeObjects(r.Context(), chi.URLParam(r, "id"), req.ObjectIDs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxArchiveBytes+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if len(body) > MaxArchiveBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "archive too large"})
		return
	}
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "not a zip archive"})
		return
	}
	n, err := s.svc.ImportArchive(r.Context(), chi.URLParam(r, "id"), zr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"imported": n})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	stage, err := lifecycle.ParseStage(chi.URLParam(r, "stage"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	lines, err := s.svc.Logs(r.Context(), chi.URLParam(r, "id"), stage)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if lines == nil {
		lines = []string{}
	}
	writeJSON(w, http.StatusOK, lines)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	var buf bytes.Buffer
	if err := s.svc.ExportResults(r.Context(), chi.URLParam(r, "id"), format, &buf); err != nil {
		s.writeError(w, r, err)
		return
	}
	if format == "csv" {
		w.Header().Set("Content-Type", "text/csv")
	} else {
		w.Header().Set("Content-Type", "application/x-ndjson")
	}
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.svc.Summary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	switch r.URL.Query().Get("format") {
	case "text":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		err = report.WriteText(w, summary)
	case "html":
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		err = report.WriteHTML(w, summary)
	default:
		w.Header().Set("Content-Type", "application/json")
		err = report.WriteJSON(w, summary)
	}
	if err != nil {
		s.logger.Warn("write summary", "err", err)
	}
}
