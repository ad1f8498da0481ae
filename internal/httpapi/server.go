// Package httpapi serves timetable conversion over HTTP uploads.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ironsheep/timetable-ocr/internal/config"
	"github.com/ironsheep/timetable-ocr/internal/pipeline"
	"github.com/ironsheep/timetable-ocr/internal/table"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// imageField is the multipart field holding the upload.
const imageField = "image"

var allowedExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Converter is the part of pipeline.Converter the service needs.
type Converter interface {
	Convert(path string) (table.Table, error)
}

// Server handles timetable uploads.
type Server struct {
	conv Converter
	cfg  config.ServerConfig
	log  zerolog.Logger

	shutdownTimeout time.Duration

	// Conversions in progress. Once draining is set no new conversion
	// starts, so the converter can be closed after Run returns.
	mu       sync.Mutex
	draining bool
	inflight sync.WaitGroup
}

// New creates a Server.
func New(conv Converter, cfg config.ServerConfig, log zerolog.Logger) *Server {
	return &Server{conv: conv, cfg: cfg, log: log, shutdownTimeout: 10 * time.Second}
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(middleware.Recoverer)

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, "Hello!")
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/convert", s.handleConvert)

	return r
}

// Run serves on cfg.Addr until ctx is cancelled, then shuts down
// gracefully. It returns only after every started conversion has finished,
// even when the shutdown times out.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	defer s.drain()

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", ln.Addr().String()).Msg("HTTP server listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn().Err(err).Msg("Shutdown timed out, waiting for conversions in progress")
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

// acquire registers a conversion. It fails once the server is draining.
func (s *Server) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return false
	}
	s.inflight.Add(1)
	return true
}

// drain blocks new conversions and waits for the running ones.
func (s *Server) drain() {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()
	s.inflight.Wait()
}

// requestID tags every request with an ID, reusing the caller's when sent.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		l := s.log.With().Str("request_id", id).Logger()
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, id)
		ctx = l.WithContext(ctx)

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		l.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	log := zerolog.Ctx(r.Context())

	if r.ContentLength > s.cfg.MaxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "Image too large", "")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Image too large", "")
			return
		}
		writeError(w, http.StatusBadRequest, "No image sent", "")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(imageField)
	if err != nil {
		writeError(w, http.StatusBadRequest, "No image sent", "")
		return
	}
	defer file.Close()
	if !allowedExtensions[strings.ToLower(filepath.Ext(header.Filename))] {
		writeError(w, http.StatusBadRequest, "No image sent", "")
		return
	}

	path, err := s.store(file, header.Filename)
	if err != nil {
		log.Error().Err(err).Msg("Failed to store upload")
		writeError(w, http.StatusInternalServerError, "Failed to store image", "")
		return
	}
	if !s.cfg.KeepUploads {
		defer os.Remove(path)
	}

	if !s.acquire() {
		writeError(w, http.StatusServiceUnavailable, "Server shutting down", "")
		return
	}
	tbl, err := s.conv.Convert(path)
	s.inflight.Done()
	if err != nil {
		status, reason, kind := classify(err)
		log.Warn().Err(err).Str("kind", string(kind)).Str("file", filepath.Base(path)).Msg("Conversion failed")
		writeError(w, status, reason, kind)
		return
	}

	log.Info().Int("rows", tbl.Rows()).Int("columns", tbl.Columns()).Msg("Timetable converted")
	writeJSON(w, http.StatusOK, map[string]table.Table{"timetable": tbl})
}

// store copies the upload into the upload directory as <uuid>_<name>.
func (s *Server) store(src io.Reader, name string) (string, error) {
	if err := os.MkdirAll(s.cfg.UploadDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create upload dir: %w", err)
	}

	path := filepath.Join(s.cfg.UploadDir, uuid.NewString()+"_"+sanitizeName(name))
	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create upload: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to write upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write upload: %w", err)
	}
	return path, nil
}

// sanitizeName keeps the base name of an upload and replaces anything
// outside [A-Za-z0-9._-].
func sanitizeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = unsafeName.ReplaceAllString(name, "_")
	name = strings.TrimLeft(name, ".")
	if name == "" {
		return "upload"
	}
	return name
}

// classify maps a conversion failure to a status code and client message.
func classify(err error) (int, string, pipeline.Kind) {
	kind := pipeline.KindOf(err)

	reason := "Conversion failed"
	var pe *pipeline.Error
	if errors.As(err, &pe) && pe.Reason != "" {
		reason = pe.Reason
	}

	switch kind {
	case pipeline.KindDecode, pipeline.KindGridNotFound:
		return http.StatusUnprocessableEntity, reason, kind
	default:
		return http.StatusInternalServerError, reason, kind
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string, kind pipeline.Kind) {
	body := map[string]string{"error": message}
	if kind != "" {
		body["kind"] = string(kind)
	}
	writeJSON(w, status, body)
}
