package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/Hyperpolymath/consent-aware-http/pkg/logging"
)

// AccessLog logs one record per request with its status and duration.
func AccessLog(logger *slog.Logger) func(http.Handler) http.Handler {
	sl := logging.NewStructuredLogger(logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sw, r)

			sl.LogHTTPRequest(r.Context(), r.Method, r.URL.Path, sw.status, time.Since(start), r.UserAgent())
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
