// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Overview
//
// This package offers helper functions for JSON encoding/decoding, error responses,
// parameter parsing, validation, and common HTTP middleware patterns.
//
// # Response Helpers
//
// JSON responses:
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteSuccess(w, provider)
//	httputil.WriteCreated(w, provider)
//
// Error responses:
//
//	httputil.WriteError(w, http.StatusBadRequest, err)
//	httputil.WriteBadRequest(w, "Invalid provider name")
//	httputil.WriteUnauthorized(w, "Session expired")
//	httputil.WriteForbidden(w, "Entitlement required")
//	httputil.WriteBadGateway(w, "Identity provider rejected the request")
//
// # Request Parsing
//
// JSON parsing:
//
//	var req UpsertProviderRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
// Path parameters:
//
//	name, ok := httputil.ParsePathStringOrError(w, r, "provider")
//
// Query parameters:
//
//	limit := httputil.ParseQueryInt(r, "limit", 100)
//	format := httputil.ParseQueryString(r, "format", "ndjson")
//	includeDisabled := httputil.ParseQueryBool(r, "include_disabled", false)
//
// # Validation
//
//	httputil.ValidateAll(w,
//		func() (bool, string) { return req.Name != "", "name is required" },
//		func() (bool, string) { return req.MetadataURL != "", "metadata_url is required" },
//	)
//
// # Middleware
//
//	httputil.Chain(
//		httputil.LoggingMiddleware,
//		httputil.RecoveryMiddleware,
//		httputil.MaxBytesMiddleware(1*1024*1024), // 1MB
//	)
//
// ContentTypeMiddleware enforces application/json bodies and is applied to the
// admin API only; the SAML assertion consumer endpoint receives form posts.
//
// # Related Packages
//
//   - pkg/middleware: Session, request ID, and rate limit middleware
package httputil
