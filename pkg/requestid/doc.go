// Package requestid attaches a correlation ID to every HTTP request.
//
// Middleware reuses the client's X-Request-ID header when it is at most 128
// characters of [a-zA-Z0-9_-], and otherwise generates a UUID. The ID is
// stored in the request context and echoed back in the response header.
//
//	r := chi.NewRouter()
//	r.Use(requestid.Middleware)
//
//	log := logger.New(logger.WithContextExtractors(requestid.LoggerExtractor()))
//	log.InfoContext(r.Context(), "handled") // carries request_id
package requestid
