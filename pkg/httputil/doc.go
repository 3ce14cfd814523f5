// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteSuccess(w, server)
//	httputil.WriteCreated(w, job)
//	httputil.WriteBadRequest(w, "invalid JSON")
//
// Service errors go through WriteAppError, which maps the apperr taxonomy to
// status codes (401, 403, 404, 400, 409, 402 with current/limit, else 500):
//
//	if err := svc.CreateJob(ctx, actorID, serverID, req); err != nil {
//		httputil.WriteAppError(w, r, err)
//		return
//	}
//
// # Request Parsing
//
//	var req servers.CreateJobRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//	serverID, ok := httputil.ParsePathIDOrError(w, r, "server_id")
//
// # Middleware
//
//	router.Use(httputil.RequestIDMiddleware, httputil.LoggerMiddleware(logger))
package httputil
