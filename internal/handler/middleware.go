package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/boddenberg/tradedesk-bfa-go/internal/infra/observability"
)

type contextKey string

const clientIDKey contextKey = "clientID"

// ClientCookie is the HttpOnly cookie identifying a browser client.
const ClientCookie = "bo_sid"

const clientCookieMaxAge = 30 * 24 * 60 * 60

// ClientIDMiddleware assigns every browser a client id, reusing the one in
// its cookie when valid.
func ClientIDMiddleware(secure bool, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := ""
			if c, err := r.Cookie(ClientCookie); err == nil {
				if _, perr := uuid.Parse(c.Value); perr == nil {
					id = c.Value
				} else {
					logger.Debug("client: discarding malformed cookie", zap.String("remote_addr", r.RemoteAddr))
				}
			}
			if id == "" {
				id = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     ClientCookie,
					Value:    id,
					Path:     "/",
					MaxAge:   clientCookieMaxAge,
					HttpOnly: true,
					Secure:   secure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			ctx := context.WithValue(r.Context(), clientIDKey, id)
			observability.AddRequestFields(ctx, zap.String("client_id", id))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIDFromContext extracts the browser client id from context.
func ClientIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(clientIDKey).(string)
	return v
}
