package guard

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/boddenberg/tradedesk-bfa-go/internal/session"
)

type contextKey string

const stateKey contextKey = "sessionState"

// DefaultSettleTimeout bounds how long a request waits for bootstrap.
const DefaultSettleTimeout = 10 * time.Second

// Awaiter is a session that may still be bootstrapping.
type Awaiter interface {
	Await(ctx context.Context) (session.State, error)
}

// Resolver returns the session behind a request, or nil when there is none.
type Resolver func(r *http.Request) Awaiter

// WithState stores st in ctx.
func WithState(ctx context.Context, st session.State) context.Context {
	return context.WithValue(ctx, stateKey, st)
}

// StateFrom returns the state stored by RequireSession.
func StateFrom(ctx context.Context) (session.State, bool) {
	st, ok := ctx.Value(stateKey).(session.State)
	return st, ok
}

var loadingPage = template.Must(template.New("loading").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><meta http-equiv="refresh" content="1"><title>Loading</title></head>
<body><p role="status">Loading your session&hellip;</p></body>
</html>
`))

// RequireSession only lets Authenticated requests through. The wait for the
// session to settle is bounded by settle and the request context.
func RequireSession(resolve Resolver, loginPath string, settle time.Duration, logger *zap.Logger) func(http.Handler) http.Handler {
	if loginPath == "" {
		loginPath = session.DefaultLoginPath
	}
	if settle <= 0 {
		settle = DefaultSettleTimeout
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			st := session.Unauthenticated()
			if a := resolve(r); a != nil {
				ctx, cancel := context.WithTimeout(r.Context(), settle)
				var err error
				st, err = a.Await(ctx)
				cancel()
				if err != nil && !errors.Is(err, context.DeadlineExceeded) {
					// Client went away.
					return
				}
			}

			d := Evaluate(st, loginPath)
			switch d.Kind {
			case Render:
				next.ServeHTTP(w, r.WithContext(WithState(r.Context(), st)))
			case Wait:
				logger.Warn("guard: session still initializing", zap.String("path", r.URL.Path))
				if IsAPIRequest(r) {
					writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "session_initializing"})
					return
				}
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = loadingPage.Execute(w, nil)
			default:
				logger.Debug("guard: unauthenticated", zap.String("path", r.URL.Path))
				if IsAPIRequest(r) {
					writeJSON(w, http.StatusUnauthorized, map[string]string{
						"error":    "unauthenticated",
						"redirect": d.Target,
					})
					return
				}
				http.Redirect(w, r, d.Target, http.StatusFound)
			}
		})
	}
}

// IsAPIRequest reports whether r expects JSON rather than a page.
func IsAPIRequest(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/v1/") || strings.HasPrefix(r.URL.Path, "/api/") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
