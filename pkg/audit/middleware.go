package audit

import (
	"net/http"

	"github.com/google/uuid"
)

const (
	// ActorHeader carries the acting principal, set by the fronting gateway
	ActorHeader = "X-Actor"

	// RequestIDHeader carries the request id
	RequestIDHeader = "X-Request-ID"
)

// Middleware puts the audit logger, actor and request id on the request context
type Middleware struct {
	logger Logger
}

// NewMiddleware creates a new audit middleware
func NewMiddleware(logger Logger) *Middleware {
	if logger == nil {
		logger = NoOp()
	}
	return &Middleware{logger: logger}
}

// Handler wraps an HTTP handler so downstream code can audit with FromContext
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)

		ctx := WithLogger(r.Context(), m.logger)
		ctx = WithRequestID(ctx, requestID)
		if actor := r.Header.Get(ActorHeader); actor != "" {
			ctx = WithActor(ctx, actor)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
