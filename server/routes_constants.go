package server

// Route path constants
// All relay routes are defined here to ensure consistency and prevent typos
const (
	// Auth Routes
	RouteAuthLogin    = "/api/auth/login"
	RouteAuthCallback = "/api/auth/callback"
	RouteAuthLogout   = "/api/auth/logout"
	RouteAuthRefresh  = "/api/auth/refresh"

	// Session probe
	RouteMe = "/api/me"

	// Operational Routes
	RouteHealth  = "/healthz"
	RouteMetrics = "/metrics"

	// Frontend pages the relay redirects to
	RouteLoginPage = "/auth"
	RouteFeed      = "/feed"
)

// Error codes appended to RouteLoginPage as ?error=...
const (
	ErrorCodeAuthorizationCodeMissing = "authorization_code_missing"
	ErrorCodeInvalidCredentials       = "invalid_credentials_or_code"
	ErrorCodeTokenExchangeFailed      = "token_exchange_failed"
	ErrorCodeTokenMissing             = "token_missing_in_response"
	ErrorCodeInternalCallback         = "internal_callback_error"
)
