// Package handlers implements the HTTP endpoints: the messaging provider
// webhook, tenant channel provisioning, and campaign sends.
//
// Error responses share one envelope (see response.go) with a stable,
// machine-readable code from the constants below. Handlers pick the most
// specific code; clients branch on codes, not messages.
package handlers

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeNotFound     = "not_found"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeProviderRejected = "provider_rejected"
	ErrCodeNotConnected     = "not_connected"
	ErrCodeNoPhoneNumbers   = "no_phone_numbers"
	ErrCodeStoreUnavailable = "store_unavailable"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)
