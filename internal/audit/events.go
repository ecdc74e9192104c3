package audit

// Event names. They are part of the log contract consumed by alerting, so
// existing values must not change.
const (
	// OAuth flow
	EventLoginSuccess             = "auth_login_success"
	EventLoginFailed              = "auth_login_failed"
	EventOAuthExchangeError       = "oauth_exchange_error"
	EventIDTokenVerificationError = "id_token_verification_failed"
	EventLogout                   = "auth_logout"

	// Session lifecycle
	EventSessionInvalid        = "session_invalid"
	EventSessionExpired        = "session_expired"
	EventSessionRotated        = "session_rotated"
	EventSessionAnomalyMultiIP = "session_anomaly_multi_ip"
	EventSessionNoRefreshToken = "session_ended_no_refresh_token"
	EventTokenRefreshSuccess   = "token_refresh_success"
	EventTokenRefreshFailed    = "token_refresh_failed"
	EventTokenRefreshForced    = "token_refresh_forced_success"
	EventTokenRefreshForcedErr = "token_refresh_forced_failed"

	// Request protection
	EventCSRFMissing       = "csrf_token_missing"
	EventCSRFInvalid       = "csrf_validation_failed"
	EventRateLimitExceeded = "rate_limit_exceeded"
	EventCORSReject        = "cors_reject"
	EventHTTPRequest       = "http_request"

	// Legal and account
	EventLegalAccept              = "legal_accept"
	EventDeletionRequestCreated   = "deletion_request_created"
	EventDeletionRequestProcessed = "deletion_request_processed"
	EventAdminSessionInvalidate   = "admin_session_invalidate"

	// Calendar proxy
	EventCalendarListSuccess       = "calendar_list_success"
	EventCalendarListFailed        = "calendar_list_failed"
	EventCalendarEventCreate       = "calendar_event_create"
	EventCalendarEventCreateFailed = "calendar_event_create_failed"
	EventCalendarEventUpdate       = "calendar_event_update"
	EventCalendarEventDelete       = "calendar_event_delete"
)

// securityEvents are logged at warn level.
var securityEvents = map[string]bool{
	EventLoginFailed:              true,
	EventOAuthExchangeError:       true,
	EventIDTokenVerificationError: true,
	EventSessionAnomalyMultiIP:    true,
	EventTokenRefreshFailed:       true,
	EventTokenRefreshForcedErr:    true,
	EventCSRFMissing:              true,
	EventCSRFInvalid:              true,
	EventRateLimitExceeded:        true,
	EventCORSReject:               true,
}
