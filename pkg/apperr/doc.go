// Package apperr defines the error taxonomy shared by every service.
//
// Denials are not errors inside the resolvers: a permission check returns
// false. Services turn that false into ErrPermissionDenied before any
// mutation. Storage failures are wrapped in DataAccessError so callers can tell
// "the system is broken" apart from "someone else already did this"
// (ConflictError) and from quota ceilings (QuotaExceededError).
//
// HTTP handlers map the taxonomy to status codes through
// httputil.WriteAppError.
package apperr
