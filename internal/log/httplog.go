package log

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// statusRecorder captures the status and size of a response.
type statusRecorder struct {
	http.ResponseWriter
	status int
	size   int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.size += n
	return n, err
}

// HTTPRequests returns middleware that logs every request once it has been
// served. Server errors are logged at error level.
func HTTPRequests(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	logger = Or(logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, req)
			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			LogHTTPRequest(logger, req, rec.status, time.Since(start), rec.size)
		})
	}
}

// LogHTTPRequest logs a served request.
func LogHTTPRequest(logger *zap.SugaredLogger, req *http.Request, status int, duration time.Duration, size int) {
	fields := []any{
		"method", req.Method,
		"path", req.URL.Path,
		"status", status,
		"duration_ms", duration.Milliseconds(),
		"size", size,
		"remote_addr", req.RemoteAddr,
		"user_agent", req.UserAgent(),
	}
	if status >= http.StatusInternalServerError {
		logger.Errorw("http request", fields...)
		return
	}
	logger.Debugw("http request", fields...)
}
