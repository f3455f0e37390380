// Package httputil provides JSON response helpers, request parsing and the
// middleware shared by the accesskit HTTP handlers.
//
// # Response Helpers
//
//	httputil.WriteSuccess(w, profile)
//	httputil.WriteCreated(w, session)
//	httputil.WriteDetailedError(w, http.StatusConflict, err, map[string]any{"conflicts": conflicts})
//
// # Request Parsing
//
//	var req createProfileRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//	code, ok := httputil.ParsePathStringOrError(w, r, "code")
//	inactive, err := httputil.ParseQueryBool(r, "include_inactive", false)
//
// # Middleware
//
//	router.Use(httputil.RecoveryMiddleware(logger), httputil.LoggingMiddleware(logger))
//	router.Use(httputil.MaxBytesMiddleware(1 << 20))
package httputil
