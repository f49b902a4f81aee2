package domain

import "net/url"

// LoginReason is the machine-readable code appended to the login page URL
// after a forced sign-out.
type LoginReason string

const (
	ReasonProfileMissing LoginReason = "profile_missing"
	ReasonProfileError   LoginReason = "profile_error"
	ReasonTimeout        LoginReason = "timeout"
	ReasonSessionInvalid LoginReason = "session_invalid"
	ReasonSessionError   LoginReason = "session_error"
)

// SessionExpiredMessage is shown for unknown reason codes.
const SessionExpiredMessage = "Your session has expired. Please sign in again."

var loginMessages = map[LoginReason]string{
	ReasonProfileMissing: "Your user profile could not be found. Please sign in again or contact an administrator.",
	ReasonProfileError:   "We could not load your user profile. Please sign in again.",
	ReasonTimeout:        "Loading your session took too long. Please sign in again.",
	ReasonSessionInvalid: "Your session is no longer valid. Please sign in again.",
	ReasonSessionError:   "We could not verify your session. Please sign in again.",
}

// LoginMessage returns the user-facing text for a reason code.
func LoginMessage(code string) string {
	if msg, ok := loginMessages[LoginReason(code)]; ok {
		return msg
	}
	return SessionExpiredMessage
}

// LoginURL builds the login path carrying a reason code.
func LoginURL(loginPath string, reason LoginReason) string {
	if reason == "" {
		return loginPath
	}
	return loginPath + "?" + url.Values{"error": {string(reason)}}.Encode()
}
