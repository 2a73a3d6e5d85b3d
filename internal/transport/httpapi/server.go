package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"docqa/internal/domain"
	logpkg "docqa/internal/logger"
	"docqa/internal/metrics"
	"docqa/internal/service"
	"docqa/internal/users"
)

var errSessionNotFound = errors.New("session not found")

// UserRecorder validates and records the e-mail a session is issued for.
type UserRecorder interface {
	Record(ctx context.Context, email string) (users.Visit, error)
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

// Server exposes question answering sessions over HTTP.
type Server struct {
	sessions      *service.Manager
	users         UserRecorder
	maxUpload     int64
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewServer creates an HTTP API server. maxUpload bounds document uploads in bytes.
func NewServer(sessions *service.Manager, recorder UserRecorder, maxUpload int64, logger *zap.Logger) *Server {
	s := &Server{
		sessions:  sessions,
		users:     recorder,
		maxUpload: maxUpload,
		logger:    logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(errSessionNotFound, http.StatusNotFound, "session_not_found"),
		sentinelHandler(users.ErrInvalidEmail, http.StatusBadRequest, "invalid_email"),
		sentinelHandler(domain.ErrNotReady, http.StatusConflict, "not_ready"),
		sentinelHandler(domain.ErrUnsupportedFormat, http.StatusUnsupportedMediaType, "unsupported_format"),
		sentinelHandler(domain.ErrExtraction, http.StatusUnprocessableEntity, "extraction_failed"),
		sentinelHandler(domain.ErrRetrieval, http.StatusBadGateway, "retrieval_failed"),
		sentinelHandler(domain.ErrEmbedding, http.StatusBadGateway, "embedding_failed"),
		sentinelHandler(domain.ErrConfiguration, http.StatusInternalServerError, "configuration_error"),
	}
	return s
}

// Routes builds the chi router with recovery, request logging and metrics.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(jsonRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(s.logger))
	r.Use(metrics.Middleware())

	r.Get("/healthz", s.Health)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Post("/users", s.CreateUser)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", s.GetSession)
			r.Delete("/", s.DeleteSession)
			r.Post("/documents", s.UploadDocument)
			r.Post("/questions", s.AskQuestion)
		})
	})
	return r
}

// RunSweeper drops idle sessions every interval until ctx is done.
func (s *Server) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.sessions.Sweep(now); n > 0 {
				s.logger.Info("Expired idle sessions", zap.Int("removed", n), zap.Int("active", s.sessions.Len()))
			}
		}
	}
}

// Health handles GET /healthz.
func (s *Server) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": s.sessions.Len()})
}

type createUserRequest struct {
	Email string `json:"email"`
}

type createUserResponse struct {
	SessionID string `json:"session_id"`
}

// CreateUser handles POST /v1/users: records the e-mail and opens a session.
func (s *Server) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}
	if _, err := s.users.Record(r.Context(), req.Email); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	id, _ := s.sessions.Create()
	logpkg.FromContext(r.Context()).Info("Session created", zap.String("session_id", id))
	writeJSON(w, http.StatusCreated, createUserResponse{SessionID: id})
}

// GetSession handles GET /v1/sessions/{id}.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Info())
}

// DeleteSession handles DELETE /v1/sessions/{id}.
func (s *Server) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.Delete(chi.URLParam(r, "id")) {
		s.handleDomainError(w, r, errSessionNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type uploadResponse struct {
	Document string `json:"document"`
	Chunks   int    `json:"chunks"`
}

// UploadDocument handles POST /v1/sessions/{id}/documents with a multipart "file" field.
func (s *Server) UploadDocument(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", "Document exceeds the upload limit")
			return
		}
		writeError(w, http.StatusBadRequest, "bad_request", "Multipart field \"file\" is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Failed to read upload: "+err.Error())
		return
	}
	doc := domain.Document{Name: header.Filename, MediaType: mediaTypeOf(header), Data: data}
	n, err := sess.Ingest(r.Context(), doc)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{Document: doc.Name, Chunks: n})
}

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	Answer string `json:"answer"`
}

// AskQuestion handles POST /v1/sessions/{id}/questions.
func (s *Server) AskQuestion(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "Question is required")
		return
	}
	answer, err := sess.Ask(r.Context(), req.Question)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, askResponse{Answer: answer})
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*service.Session, bool) {
	sess, ok := s.sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		s.handleDomainError(w, r, errSessionNotFound)
		return nil, false
	}
	return sess, true
}

// mediaTypeOf prefers the file extension and falls back to the part's Content-Type.
func mediaTypeOf(h *multipart.FileHeader) string {
	if ext := filepath.Ext(h.Filename); ext != "" {
		return ext
	}
	return h.Header.Get("Content-Type")
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logpkg.FromContext(r.Context())
	log.Warn("domain error", zap.Error(err))
	for _, h := range s.errorHandlers {
		if h(w, err) {
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
}

func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, err.Error())
		return true
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}
