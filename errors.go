package authz

import "errors"

// The two failure classes transport adapters map onto status codes. A nil
// or unverifiable principal is an authentication problem; a verified
// principal without the needed permission is an authorization problem.
// Denial errors never name the policies involved (that detail is for
// server-side logs and audit only).
var (
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrPermissionDenied       = errors.New("permission denied")
)
