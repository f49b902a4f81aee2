package handler

import (
	"html/template"
	"net/http"

	"go.uber.org/zap"

	"github.com/boddenberg/tradedesk-bfa-go/internal/domain"
	"github.com/boddenberg/tradedesk-bfa-go/internal/guard"
	"github.com/boddenberg/tradedesk-bfa-go/internal/reset"
	"github.com/boddenberg/tradedesk-bfa-go/internal/service"
)

// ============================================================
// Login banner: GET /login
// ============================================================

type loginBanner struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

var loginTemplate = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Sign in</title></head>
<body>
<main>
  <h1>Sign in</h1>
  {{- if .Message}}
  <p role="alert" data-code="{{.Code}}">{{.Message}}</p>
  {{- end}}
  <p>Having trouble signing in? <a href="/clear-auth">Reset your session</a>.</p>
</main>
</body>
</html>
`))

func loginPageHandler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var banner loginBanner
		if code := r.URL.Query().Get("error"); code != "" {
			banner = loginBanner{Code: code, Message: domain.LoginMessage(code)}
		}

		if guard.IsAPIRequest(r) {
			writeJSON(w, http.StatusOK, banner)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		if err := loginTemplate.Execute(w, banner); err != nil {
			logger.Error("render login page", zap.Error(err))
		}
	}
}

// ============================================================
// Hard reset: GET /clear-auth, POST /api/auth/clear
// ============================================================

func clearAuthPageHandler(reg *service.ClientRegistry, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /clear-auth")
		defer span.End()

		report := reg.HardReset(ctx, ClientIDFromContext(ctx), reset.ResponseCookies{W: w, R: r})

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		if err := reset.RenderPage(w, report); err != nil {
			logger.Error("render clear-auth page", zap.Error(err))
		}
	}
}

func clearAPIHandler(reg *service.ClientRegistry, logger *zap.Logger) http.HandlerFunc {
	return reset.ClearHandler(func(r *http.Request) error {
		id := ClientIDFromContext(r.Context())
		defer reg.Discard(id)
		return reg.SignOutClient(r.Context(), id)
	}, logger)
}
