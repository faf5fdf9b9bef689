package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"shelfwise/internal/app"
	"shelfwise/internal/metrics"
	"shelfwise/internal/ratelimit"
	"shelfwise/internal/util"
	"shelfwise/pkg/domain"
)

const maxBodyBytes = 1 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App     *app.App
	Metrics *metrics.Metrics
	Limiter *ratelimit.FixedWindowLimiter
}

// Server exposes the catalog and loan endpoints.
type Server struct {
	app     *app.App
	metrics *metrics.Metrics
	limiter *ratelimit.FixedWindowLimiter
	mux     *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:     cfg.App,
		metrics: cfg.Metrics,
		limiter: cfg.Limiter,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	var h http.Handler = s.mux
	h = util.WithSecurityHeaders(util.WithCORS(h))
	if s.metrics != nil {
		h = s.withMetrics(h)
	}
	return util.WithRequestID(util.WithRequestLog(h))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics.Handler())
	}

	s.mux.HandleFunc("/api/books", s.handleBooks)
	s.mux.HandleFunc("/api/books/", s.handleBookByID)
	s.mux.HandleFunc("/api/loans", s.handleLoans)
	s.mux.HandleFunc("/api/loans/", s.handleLoanByID)
	s.mux.HandleFunc("/api/users", s.handleUsers)
	s.mux.HandleFunc("/api/users/", s.handleUserByID)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if !s.allowRate(w, r) {
			return
		}
		var req app.BookInput
		if !decodeBody(w, r, &req) {
			return
		}
		id, err := s.app.CreateBook(r.Context(), req)
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"id": id})
	case http.MethodGet:
		var available *bool
		if raw := r.URL.Query().Get("available"); raw != "" {
			value, err := strconv.ParseBool(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid available filter", "available")
				return
			}
			available = &value
		}
		books, err := s.app.ListBooks(r.Context(), available, r.URL.Query().Get("author"))
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": books, "count": len(books)})
	default:
		methodNotAllowed(w)
	}
}

// /api/books/{id}
func (s *Server) handleBookByID(w http.ResponseWriter, r *http.Request) {
	id, rest := splitIDPath(r.URL.Path, "/api/books/")
	if id == "" || rest != "" {
		notFound(w)
		return
	}
	switch r.Method {
	case http.MethodGet:
		book, ok, err := s.app.GetBook(r.Context(), id)
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "book not found", "")
			return
		}
		writeJSON(w, http.StatusOK, book)
	case http.MethodPut:
		if !s.allowRate(w, r) {
			return
		}
		var req app.BookInput
		if !decodeBody(w, r, &req) {
			return
		}
		if err := s.app.UpdateBook(r.Context(), id, req); err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		if !s.allowRate(w, r) {
			return
		}
		if err := s.app.DeleteBook(r.Context(), id); err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

type borrowRequest struct {
	UserID string    `json:"userId"`
	BookID string    `json:"bookId"`
	NowUTC time.Time `json:"nowUtc"`
}

type returnRequest struct {
	LoanID string    `json:"loanId"`
	NowUTC time.Time `json:"nowUtc"`
}

func (s *Server) handleLoans(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if !s.allowRate(w, r) {
			return
		}
		var req borrowRequest
		if !decodeBody(w, r, &req) {
			return
		}
		loanID, err := s.app.Borrow(r.Context(), req.UserID, req.BookID, req.NowUTC)
		if s.metrics != nil {
			s.metrics.ObserveLoanTransition("borrow", err)
		}
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"loanId": loanID})
	case http.MethodGet:
		loans, err := s.app.ListActiveLoans(r.Context())
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": loans, "count": len(loans)})
	default:
		methodNotAllowed(w)
	}
}

// /api/loans/{id} or /api/loans/{id}/return
func (s *Server) handleLoanByID(w http.ResponseWriter, r *http.Request) {
	id, rest := splitIDPath(r.URL.Path, "/api/loans/")
	if id == "" {
		notFound(w)
		return
	}
	switch {
	case rest == "return":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		if !s.allowRate(w, r) {
			return
		}
		var req returnRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.LoanID != id {
			writeError(w, http.StatusBadRequest, "route id and body loanId mismatch", "loanId")
			return
		}
		err := s.app.Return(r.Context(), id, req.NowUTC)
		if s.metrics != nil {
			s.metrics.ObserveLoanTransition("return", err)
		}
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case rest == "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		loan, ok, err := s.app.GetLoan(r.Context(), id)
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "loan not found", "")
			return
		}
		writeJSON(w, http.StatusOK, loan)
	default:
		notFound(w)
	}
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if !s.allowRate(w, r) {
			return
		}
		var req app.UserInput
		if !decodeBody(w, r, &req) {
			return
		}
		id, err := s.app.RegisterUser(r.Context(), req, time.Now().UTC())
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"id": id})
	case http.MethodGet:
		users, err := s.app.ListUsers(r.Context())
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": users, "count": len(users)})
	default:
		methodNotAllowed(w)
	}
}

// /api/users/{id}
func (s *Server) handleUserByID(w http.ResponseWriter, r *http.Request) {
	id, rest := splitIDPath(r.URL.Path, "/api/users/")
	if id == "" || rest != "" {
		notFound(w)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	user, ok, err := s.app.GetUser(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "user not found", "")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request) bool {
	if s.limiter == nil {
		return true
	}
	key := r.URL.Path + "|" + util.ClientIP(r)
	if s.limiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, "too many requests", "")
	return false
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (s *Server) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.ObserveRequest(r.Method, routeLabel(r.URL.Path), status, time.Since(start))
	})
}

// routeLabel collapses entity ids so metric cardinality stays bounded.
func routeLabel(path string) string {
	for _, prefix := range []string{"/api/books/", "/api/loans/", "/api/users/"} {
		if strings.HasPrefix(path, prefix) {
			if strings.HasSuffix(path, "/return") {
				return prefix + "{id}/return"
			}
			return prefix + "{id}"
		}
	}
	return path
}

func splitIDPath(path, prefix string) (id, rest string) {
	trimmed := strings.TrimPrefix(path, prefix)
	parts := strings.SplitN(trimmed, "/", 2)
	id = parts[0]
	if len(parts) == 2 {
		rest = parts[1]
	}
	return id, rest
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "")
		return false
	}
	return true
}

// writeDomainError renders the error taxonomy: invalid argument → 400 with
// the offending field attached, not found → 404, conflict → 409, anything
// else → 500 with the detail kept out of the response.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var invalidArg *domain.InvalidArgumentError
	var notFoundErr *domain.NotFoundError
	var conflict *domain.ConflictError
	switch {
	case errors.As(err, &invalidArg):
		writeError(w, http.StatusBadRequest, invalidArg.Error(), invalidArg.Field)
	case errors.As(err, &notFoundErr):
		writeError(w, http.StatusNotFound, notFoundErr.Error(), "")
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, conflict.Error(), "")
	default:
		util.LoggerFromContext(r.Context()).Error("internal error", "err", err, "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, "internal error", "")
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
}

func notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found", "")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Param     string `json:"param,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg, param string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCode(status),
		Param:     param,
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "REQUEST_INVALID"
	case http.StatusNotFound:
		return "RESOURCE_NOT_FOUND"
	case http.StatusConflict:
		return "STATE_CONFLICT"
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	default:
		if status >= http.StatusInternalServerError {
			return "INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
