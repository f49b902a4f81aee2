// Package reset implements the last-resort recovery flow that wipes every
// session artifact a client may hold, plus the server-side clear endpoint.
package reset

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// SessionCookieMarkers are substrings identifying session cookies.
var SessionCookieMarkers = []string{"sb-", "supabase", "auth-token"}

// KnownSessionCookies are always expired, whether or not they match a marker.
var KnownSessionCookies = []string{
	"sb-access-token",
	"sb-refresh-token",
	"supabase-auth-token",
	"supabase.auth.token",
	"bo_sid",
}

var cookiePaths = []string{"/", "/api", "/auth"}

// IsSessionCookie reports whether name looks like a session cookie.
func IsSessionCookie(name string) bool {
	lower := strings.ToLower(name)
	for _, m := range SessionCookieMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	for _, k := range KnownSessionCookies {
		if name == k {
			return true
		}
	}
	return false
}

// cookieDomains lists the domain attributes a cookie for host may carry. The
// empty string is a host-only cookie.
func cookieDomains(host string) []string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	domains := []string{""}
	if host == "" || net.ParseIP(host) != nil || !strings.Contains(host, ".") {
		return domains
	}
	domains = append(domains, host, "."+host)
	if parts := strings.Split(host, "."); len(parts) > 2 {
		parent := strings.Join(parts[1:], ".")
		domains = append(domains, parent, "."+parent)
	}
	return domains
}

// ExpireCookieVariants expires name for every path and domain combination
// it may have been set with. Returns the number of Set-Cookie headers added.
func ExpireCookieVariants(w http.ResponseWriter, name, host string) int {
	n := 0
	for _, domain := range cookieDomains(host) {
		for _, path := range cookiePaths {
			http.SetCookie(w, &http.Cookie{
				Name:    name,
				Value:   "",
				Path:    path,
				Domain:  domain,
				Expires: time.Unix(0, 0),
				MaxAge:  -1,
			})
			n++
		}
	}
	return n
}

// expireSessionCookies expires every session cookie on r plus the deny-list.
func expireSessionCookies(w http.ResponseWriter, r *http.Request) []string {
	seen := make(map[string]bool)
	var names []string
	for _, c := range r.Cookies() {
		if IsSessionCookie(c.Name) && !seen[c.Name] {
			seen[c.Name] = true
			names = append(names, c.Name)
		}
	}
	for _, k := range KnownSessionCookies {
		if !seen[k] {
			seen[k] = true
			names = append(names, k)
		}
	}
	for _, name := range names {
		ExpireCookieVariants(w, name, r.Host)
	}
	return names
}

// SignOutFunc signs out whatever session is behind r on the server.
type SignOutFunc func(r *http.Request) error

type clearResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ClearHandler serves POST /api/auth/clear. It always answers JSON with 200 or
// 500, including when signOut panics.
func ClearHandler(signOut SignOutFunc, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("auth clear panicked", zap.Any("panic", rec))
				writeClear(w, http.StatusInternalServerError, clearResponse{Error: fmt.Sprint(rec)})
			}
		}()

		err := signOut(r)
		cleared := expireSessionCookies(w, r)

		if err != nil {
			logger.Warn("auth clear: server sign-out failed", zap.Error(err), zap.Int("cookies", len(cleared)))
			writeClear(w, http.StatusInternalServerError, clearResponse{Error: err.Error()})
			return
		}
		logger.Info("auth clear completed", zap.Strings("cookies", cleared))
		writeClear(w, http.StatusOK, clearResponse{Success: true})
	}
}

func writeClear(w http.ResponseWriter, status int, body clearResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
