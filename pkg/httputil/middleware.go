package httputil

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gorilla/mux"
	"github.com/tenantdesk/accesskit/pkg/observability"
)

// statusRecorder captures the status and size of a response
type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (rw *statusRecorder) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.status = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}

func record(w http.ResponseWriter) *statusRecorder {
	if rw, ok := w.(*statusRecorder); ok {
		return rw
	}
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

// routeOf returns the mux route template, or the raw path outside a router
func routeOf(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}

// LoggingMiddleware logs one line per request: 5xx at error, 4xx at warn,
// everything else at info
func LoggingMiddleware(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := record(w)

			next.ServeHTTP(rw, r)

			entry := logger.WithFields(map[string]any{
				"method":      r.Method,
				"path":        r.URL.Path,
				"route":       routeOf(r),
				"status":      rw.status,
				"bytes":       rw.bytes,
				"duration_ms": time.Since(start).Milliseconds(),
				"request_id":  w.Header().Get("X-Request-ID"),
			})
			switch {
			case rw.status >= http.StatusInternalServerError:
				entry.Error("http request")
			case rw.status >= http.StatusBadRequest:
				entry.Warn("http request")
			default:
				entry.Info("http request")
			}
		})
	}
}

// RecoveryMiddleware turns a handler panic into a 500. Nothing is written
// when the handler had already started its response.
func RecoveryMiddleware(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := record(w)
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.WithFields(map[string]any{
					"panic": fmt.Sprint(rec),
					"stack": string(debug.Stack()),
					"path":  r.URL.Path,
				}).Error("panic in http handler")
				if !rw.wroteHeader {
					WriteInternalError(rw, nil)
				}
			}()
			next.ServeHTTP(rw, r)
		})
	}
}

// MaxBytesMiddleware caps request bodies at maxBytes; ParseJSONOrError
// reports an oversized body as 413
func MaxBytesMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil && maxBytes > 0 {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
