package supabase

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/boddenberg/tradedesk-bfa-go/internal/domain"
	"github.com/boddenberg/tradedesk-bfa-go/internal/infra/resilience"
)

// ============================================================
// Response decoding and error normalization
// ============================================================

func readBody(resp *http.Response) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decode unmarshals a 2xx body into v, or converts the error body with
// fail. 5xx answers stay retryable and count against the breaker.
func decode(resp *response, v any, fail func(*response) error) error {
	if !resp.ok() {
		err := fail(resp)
		if resp.status >= 500 {
			return err
		}
		return resilience.Permanent(err)
	}
	if v == nil || len(resp.body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.body, v); err != nil {
		return resilience.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// --- GoTrue errors ---

// authErrorBody covers both error envelopes GoTrue has used: the current
// {code, error_code, msg} and the OAuth-style {error, error_description}.
type authErrorBody struct {
	Code             json.RawMessage `json:"code"`
	ErrorCode        string          `json:"error_code"`
	Msg              string          `json:"msg"`
	Message          string          `json:"message"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
}

var authCodeAliases = map[string]string{
	"invalid_credentials":        domain.AuthCodeInvalidCredentials,
	"email_not_confirmed":        domain.AuthCodeEmailNotConfirmed,
	"over_request_rate_limit":    domain.AuthCodeRateLimited,
	"over_email_send_rate_limit": domain.AuthCodeRateLimited,
	"user_already_exists":        domain.AuthCodeUserExists,
	"email_exists":               domain.AuthCodeUserExists,
	"weak_password":              domain.AuthCodeWeakPassword,
	"email_address_invalid":      domain.AuthCodeInvalidEmail,
	"session_not_found":          domain.AuthCodeSessionNotFound,
	"session_expired":            domain.AuthCodeSessionNotFound,
	"refresh_token_not_found":    domain.AuthCodeSessionNotFound,
	"refresh_token_already_used": domain.AuthCodeSessionNotFound,
	"bad_jwt":                    domain.AuthCodeInvalidSession,
	"no_authorization":           domain.AuthCodeInvalidSession,
	"user_not_found":             domain.AuthCodeInvalidSession,
}

// Message fragments older GoTrue versions return without a code.
var authMessageHints = []struct {
	fragment string
	code     string
}{
	{"invalid login credentials", domain.AuthCodeInvalidCredentials},
	{"email not confirmed", domain.AuthCodeEmailNotConfirmed},
	{"rate limit", domain.AuthCodeRateLimited},
	{"already registered", domain.AuthCodeUserExists},
	{"password should be at least", domain.AuthCodeWeakPassword},
	{"invalid format", domain.AuthCodeInvalidEmail},
	{"invalid refresh token", domain.AuthCodeSessionNotFound},
	{"refresh token not found", domain.AuthCodeSessionNotFound},
	{"invalid jwt", domain.AuthCodeInvalidSession},
}

func parseAuthError(resp *response) error {
	var body authErrorBody
	_ = json.Unmarshal(resp.body, &body)

	code := body.ErrorCode
	if code == "" && len(body.Code) > 0 && body.Code[0] == '"' {
		_ = json.Unmarshal(body.Code, &code)
	}
	if code == "" {
		code = body.Error
	}

	msg := firstNonEmpty(body.Msg, body.Message, body.ErrorDescription, body.Error, http.StatusText(resp.status))

	return &domain.ErrAuth{
		Status:  resp.status,
		Code:    normalizeAuthCode(code, msg, resp.status),
		Message: msg,
	}
}

func normalizeAuthCode(code, msg string, status int) string {
	if c, ok := authCodeAliases[code]; ok {
		return c
	}
	lower := strings.ToLower(msg)
	for _, h := range authMessageHints {
		if strings.Contains(lower, h.fragment) {
			return h.code
		}
	}
	switch status {
	case http.StatusTooManyRequests:
		return domain.AuthCodeRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.AuthCodeInvalidSession
	}
	return domain.AuthCodeUnknown
}

// --- PostgREST errors ---

const (
	pgrstNoRows      = "PGRST116"
	pgUniqueViolated = "23505"
	pgInvalidText    = "22P02"
)

type restErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func parseRestError(resource, id string) func(*response) error {
	return func(resp *response) error {
		var body restErrorBody
		_ = json.Unmarshal(resp.body, &body)

		switch body.Code {
		case pgrstNoRows:
			return &domain.ErrNotFound{Resource: resource, ID: id}
		case pgUniqueViolated:
			return &domain.ErrUniqueViolation{Resource: resource, ID: id}
		case pgInvalidText:
			return &domain.ErrValidation{Field: "id", Message: body.Message}
		}
		return fmt.Errorf("postgrest returned %d [%s]: %s", resp.status, body.Code, firstNonEmpty(body.Message, string(resp.body)))
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
