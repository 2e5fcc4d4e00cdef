package chi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/spendgate/internal/domain"
	domcompletion "github.com/kailas-cloud/spendgate/internal/domain/completion"
	logpkg "github.com/kailas-cloud/spendgate/internal/logger"
	admissionuc "github.com/kailas-cloud/spendgate/internal/usecase/admission"
	completionuc "github.com/kailas-cloud/spendgate/internal/usecase/completion"
	healthuc "github.com/kailas-cloud/spendgate/internal/usecase/health"
	usageuc "github.com/kailas-cloud/spendgate/internal/usecase/usage"
	"github.com/kailas-cloud/spendgate/internal/version"
)

// DefaultMaxBodyBytes bounds a completion request body.
const DefaultMaxBodyBytes = 10 << 20

// Error codes returned in ErrorResponse.Code.
const (
	codeBadRequest          = "bad_request"
	codeUnauthorized        = "unauthorized"
	codeBudgetExceeded      = "budget_exceeded"
	codeUpstreamUnavailable = "upstream_unavailable"
	codeBodyTooLarge        = "body_too_large"
	codeInternalError       = "internal_error"
)

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BudgetExceededResponse is the 402 body.
type BudgetExceededResponse struct {
	Code     string  `json:"code"`
	Message  string  `json:"message"`
	SpentUSD float64 `json:"spent_usd"`
	LimitUSD float64 `json:"limit_usd"`
}

// UsageResponse is the GET /v1/usage body.
type UsageResponse struct {
	User         string    `json:"user"`
	Day          string    `json:"day"`
	SpentUSD     float64   `json:"spent_usd"`
	LimitUSD     float64   `json:"limit_usd"`
	RemainingUSD float64   `json:"remaining_usd"`
	IsExhausted  bool      `json:"is_exhausted"`
	ResetsAt     time.Time `json:"resets_at"`
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server serves the proxy API.
type Server struct {
	gate          *admissionuc.Gate
	completions   *completionuc.Service
	usage         *usageuc.Service
	health        *healthuc.Service
	logger        *zap.Logger
	maxBodyBytes  int64
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	gate *admissionuc.Gate,
	completions *completionuc.Service,
	usage *usageuc.Service,
	health *healthuc.Service,
	logger *zap.Logger,
) *Server {
	s := &Server{
		gate:         gate,
		completions:  completions,
		usage:        usage,
		health:       health,
		logger:       logger,
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrUnauthorized, http.StatusUnauthorized, codeUnauthorized),
		sentinelHandler(domain.ErrInvalidRequest, http.StatusBadRequest, codeBadRequest),
		budgetExceededHandler,
		sentinelHandler(domain.ErrUpstreamUnavailable, http.StatusBadGateway, codeUpstreamUnavailable),
	}
	return s
}

// WithMaxBodyBytes overrides the request body limit.
func (s *Server) WithMaxBodyBytes(n int64) *Server {
	if n > 0 {
		s.maxBodyBytes = n
	}
	return s
}

// Routes mounts the API on r.
func (s *Server) Routes(r chi.Router) {
	r.Post("/v1/chat/completions", s.CreateChatCompletion)
	r.Get("/v1/usage", s.GetUsage)
	r.Get("/health", s.HealthCheck)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
}

// CreateChatCompletion handles POST /v1/chat/completions.
func (s *Server) CreateChatCompletion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := UserFromContext(ctx)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, codeBodyTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, codeBadRequest, "failed to read request body")
		return
	}

	req, err := domcompletion.ParseRequest(body)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	if err := s.gate.Authorize(ctx, user); err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	if req.Stream {
		s.streamCompletion(w, r, user, req)
		return
	}

	reply, err := s.completions.Complete(ctx, user, req)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	contentType := reply.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(reply.StatusCode)
	_, _ = w.Write(reply.Body)
}

func (s *Server) streamCompletion(w http.ResponseWriter, r *http.Request, user string, req domcompletion.Request) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sink := &flushSink{w: w, rc: http.NewResponseController(w)}
	_ = sink.rc.Flush()

	s.completions.Stream(r.Context(), user, req, sink)
}

// flushSink writes each chunk to the client and flushes it immediately.
type flushSink struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func (f *flushSink) Send(p []byte) error {
	if _, err := f.w.Write(p); err != nil {
		return err //nolint:wrapcheck // client write
	}
	return f.rc.Flush() //nolint:wrapcheck // client write
}

// GetUsage handles GET /v1/usage.
func (s *Server) GetUsage(w http.ResponseWriter, r *http.Request) {
	report, err := s.usage.GetReport(r.Context(), UserFromContext(r.Context()))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, UsageResponse{
		User:         report.User(),
		Day:          report.Day(),
		SpentUSD:     report.Spent(),
		LimitUSD:     report.Limit(),
		RemainingUSD: report.Remaining(),
		IsExhausted:  report.IsExhausted(),
		ResetsAt:     report.ResetsAt(),
	})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status:  string(report.Status),
		Checks:  checks,
		Version: version.Version,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	var bee *domain.BudgetExceededError
	if errors.As(err, &bee) {
		return bee.Error()
	}
	sentinels := []error{
		domain.ErrUnauthorized,
		domain.ErrInvalidRequest,
		domain.ErrBudgetExceeded,
		domain.ErrUpstreamUnavailable,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

// budgetExceededHandler handles ErrBudgetExceeded with the spend and limit.
func budgetExceededHandler(w http.ResponseWriter, err error, msg string) bool {
	if !errors.Is(err, domain.ErrBudgetExceeded) {
		return false
	}
	var bee *domain.BudgetExceededError
	if errors.As(err, &bee) {
		writeJSON(w, http.StatusPaymentRequired, BudgetExceededResponse{
			Code:     codeBudgetExceeded,
			Message:  msg,
			SpentUSD: bee.Spent,
			LimitUSD: bee.Limit,
		})
		return true
	}
	writeError(w, http.StatusPaymentRequired, codeBudgetExceeded, msg)
	return true
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logpkg.FromContextOr(r.Context(), s.logger)

	log.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}
