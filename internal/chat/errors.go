package chat

import "errors"

// Code classifies every terminal failure of a chat call. None of these
// trigger internal retries; the caller may resubmit.
type Code string

const (
	CodeInvalidInput        Code = "invalid_input"
	CodeQuotaExceeded       Code = "quota_exceeded"
	CodeServerMisconfigured Code = "server_misconfigured"
	CodeNetworkError        Code = "network_error"
	CodeUpstreamClient      Code = "upstream_client_error"
	CodeUpstreamServer      Code = "upstream_server_error"
	CodeContentBlocked      Code = "content_blocked"
	CodeMalformedResponse   Code = "malformed_upstream_response"
)

// Error carries a classification code, a caller-visible message and an
// optional log-only detail. Message stays generic for server/network/
// malformed classes so credentials and internal structure never leak;
// client-error and content-blocked messages may include provider detail.
type Error struct {
	Code    Code
	Message string
	Detail  string // full upstream body or reason, for logs only
	Status  int    // upstream HTTP status when applicable
}

func (e *Error) Error() string {
	return e.Message
}

func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// CodeOf returns the classification of err, or "" for nil / foreign errors.
func CodeOf(err error) Code {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
