// Package server exposes the stock service as a small read-only JSON API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"stockmeter/pkg/market"
	"stockmeter/pkg/provider"
	"stockmeter/pkg/stock"
	"stockmeter/pkg/valuation"
)

// Backend is the part of *stock.Service the API serves.
type Backend interface {
	Quote(ctx context.Context, symbol string) (market.Quote, error)
	Profile(ctx context.Context, symbol string) (market.Profile, error)
	History(ctx context.Context, symbol string, from, to time.Time, interval market.Interval) ([]market.PriceBar, error)
	Valuate(ctx context.Context, symbol string, peers []string) (valuation.Report, error)
	Compare(ctx context.Context, symbols []string) ([]stock.Comparison, error)
	ProviderHealth() []provider.Health
}

const RequestIDHeader = "X-Request-ID"

type Server struct {
	backend Backend
	logger  *zap.Logger
	now     func() time.Time
	mux     *http.ServeMux
}

func New(backend Backend, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{backend: backend, logger: logger.Named("http"), now: time.Now, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/providers", s.handleProviders)
	s.mux.HandleFunc("GET /api/quote/{symbol}", s.handleQuote)
	s.mux.HandleFunc("GET /api/profile/{symbol}", s.handleProfile)
	s.mux.HandleFunc("GET /api/history/{symbol}", s.handleHistory)
	s.mux.HandleFunc("GET /api/valuation/{symbol}", s.handleValuation)
	s.mux.HandleFunc("GET /api/compare", s.handleCompare)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.withRequestID(s.mux)
}

// ListenAndServe serves on addr until ctx is done, then drains in-flight
// requests for up to ten seconds.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := s.now()
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", s.now().Sub(start)))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"detail": message})
}

// statusFor maps service errors to HTTP status codes. An all-failed error
// carries every provider's own error, so it is matched before the
// per-provider sentinels it may contain.
func statusFor(err error) int {
	switch {
	case errors.Is(err, market.ErrInvalidSymbol), errors.Is(err, stock.ErrTooManySymbols):
		return http.StatusBadRequest
	case errors.Is(err, provider.ErrAllProvidersFailed):
		return http.StatusBadGateway
	case errors.Is(err, provider.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, provider.ErrNotSupported):
		return http.StatusNotImplemented
	case errors.Is(err, provider.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", w.Header().Get(RequestIDHeader)),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeError(w, status, err.Error())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	health := s.backend.ProviderHealth()
	healthy := 0
	for _, h := range health {
		if h.Healthy {
			healthy++
		}
	}
	status, code := "ok", http.StatusOK
	switch {
	case healthy == 0:
		status, code = "down", http.StatusServiceUnavailable
	case healthy < len(health):
		status = "degraded"
	}
	writeJSON(w, code, map[string]any{
		"health":    code == http.StatusOK,
		"status":    status,
		"providers": health,
	})
}

func (s *Server) handleProviders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.ProviderHealth())
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	q, err := s.backend.Quote(r.Context(), r.PathValue("symbol"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.backend.Profile(r.Context(), r.PathValue("symbol"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleHistory accepts from and to as YYYY-MM-DD; from defaults to one
// year before to, to defaults to today.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	interval, err := market.ParseInterval(q.Get("interval"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to := s.now().UTC()
	if v := q.Get("to"); v != "" {
		if to, err = time.Parse(time.DateOnly, v); err != nil {
			writeError(w, http.StatusBadRequest, "to: want YYYY-MM-DD")
			return
		}
	}
	from := to.AddDate(-1, 0, 0)
	if v := q.Get("from"); v != "" {
		if from, err = time.Parse(time.DateOnly, v); err != nil {
			writeError(w, http.StatusBadRequest, "from: want YYYY-MM-DD")
			return
		}
	}
	if !from.Before(to) {
		writeError(w, http.StatusBadRequest, "from must be before to")
		return
	}
	bars, err := s.backend.History(r.Context(), r.PathValue("symbol"), from, to, interval)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bars)
}

func splitList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return strings.Split(v, ",")
}

func (s *Server) handleValuation(w http.ResponseWriter, r *http.Request) {
	rep, err := s.backend.Valuate(r.Context(), r.PathValue("symbol"), splitList(r.URL.Query().Get("peers")))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	symbols := splitList(r.URL.Query().Get("symbols"))
	if len(symbols) == 0 {
		writeError(w, http.StatusBadRequest, "missing query parameter symbols")
		return
	}
	rows, err := s.backend.Compare(r.Context(), symbols)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}
