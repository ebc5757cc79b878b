// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteNoStoreJSON(w, http.StatusOK, tokenResponse)
//	httputil.WriteOAuthError(w, http.StatusBadRequest, "invalid_grant", "")
//	httputil.WriteForbidden(w, "access denied")
//
// # Request Parsing
//
//	var req CheckRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//	ids, err := httputil.ParseQueryInt64List(r, "entity_ids")
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//		httputil.MaxBytesMiddleware(1<<20),
//	)
package httputil
