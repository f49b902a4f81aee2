package reset

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/boddenberg/tradedesk-bfa-go/internal/domain"
	"github.com/boddenberg/tradedesk-bfa-go/internal/infra/observability"
	"github.com/boddenberg/tradedesk-bfa-go/internal/port"
)

var tracer = otel.Tracer("reset")

// SessionKeyPrefix marks storage keys written by the session store.
const SessionKeyPrefix = "sb-"

// Step names, in execution order.
const (
	StepServerClear = "server_clear"
	StepSignOut     = "local_sign_out"
	StepStorage     = "storage"
	StepCookies     = "cookies"
)

// StepResult records one step. Error is empty on success.
type StepResult struct {
	Name  string `json:"name"`
	Error string `json:"error,omitempty"`
}

// Report lists every step of a reset run.
type Report struct {
	Steps    []StepResult `json:"steps"`
	Redirect string       `json:"redirect"`
}

// OK reports whether every step succeeded.
func (r Report) OK() bool {
	for _, s := range r.Steps {
		if s.Error != "" {
			return false
		}
	}
	return true
}

// CookieEraser removes every cookie the client can see.
type CookieEraser interface {
	EraseAll() (int, error)
}

// Resetter wipes a client's session artifacts and reloads the login page.
type Resetter struct {
	// ServerClear performs the server-side sign-out. Optional.
	ServerClear func(ctx context.Context) error
	Sessions    port.SessionStore
	Storage     port.Storage
	Cookies     CookieEraser
	Nav         port.Navigator
	LoginPath   string

	Metrics *observability.Metrics
	Logger  *zap.Logger
}

// Run executes all steps in order, tolerating individual failures, then
// hard-redirects to the login page.
func (rs *Resetter) Run(ctx context.Context) Report {
	ctx, span := tracer.Start(ctx, "Resetter.Run")
	defer span.End()

	login := rs.LoginPath
	if login == "" {
		login = "/login"
	}
	report := Report{Redirect: login}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{StepServerClear, rs.serverClear},
		{StepSignOut, rs.signOut},
		{StepStorage, rs.clearStorage},
		{StepCookies, rs.eraseCookies},
	}
	for _, st := range steps {
		res := StepResult{Name: st.name}
		if err := safely(ctx, st.fn); err != nil {
			res.Error = err.Error()
			rs.Logger.Warn("hard reset step failed", zap.String("step", st.name), zap.Error(err))
		}
		report.Steps = append(report.Steps, res)
	}

	rs.Metrics.IncrHardReset()
	rs.Logger.Info("hard reset completed", zap.Bool("clean", report.OK()))
	if rs.Nav != nil {
		rs.Nav.HardRedirect(login)
	}
	return report
}

func safely(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn(ctx)
}

func (rs *Resetter) serverClear(ctx context.Context) error {
	if rs.ServerClear == nil {
		return nil
	}
	return rs.ServerClear(ctx)
}

func (rs *Resetter) signOut(ctx context.Context) error {
	if rs.Sessions == nil {
		return nil
	}
	return rs.Sessions.SignOut(ctx, domain.SignOutLocal)
}

// clearStorage wipes storage, then removes any session key that survived.
func (rs *Resetter) clearStorage(ctx context.Context) error {
	if rs.Storage == nil {
		return nil
	}
	var errs []error
	if err := rs.Storage.Clear(ctx); err != nil {
		errs = append(errs, fmt.Errorf("clear: %w", err))
	}
	keys, err := rs.Storage.Keys(ctx, SessionKeyPrefix)
	if err != nil {
		errs = append(errs, fmt.Errorf("list session keys: %w", err))
	}
	for _, k := range keys {
		if err := rs.Storage.Delete(ctx, k); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", k, err))
		}
	}
	return errors.Join(errs...)
}

func (rs *Resetter) eraseCookies(context.Context) error {
	if rs.Cookies == nil {
		return nil
	}
	_, err := rs.Cookies.EraseAll()
	return err
}

// ResponseCookies expires every cookie of r, in all variants, on w.
type ResponseCookies struct {
	W http.ResponseWriter
	R *http.Request
}

// EraseAll implements CookieEraser.
func (c ResponseCookies) EraseAll() (int, error) {
	seen := make(map[string]bool)
	n := 0
	for _, ck := range c.R.Cookies() {
		if seen[ck.Name] {
			continue
		}
		seen[ck.Name] = true
		ExpireCookieVariants(c.W, ck.Name, c.R.Host)
		n++
	}
	for _, k := range KnownSessionCookies {
		if !seen[k] {
			ExpireCookieVariants(c.W, k, c.R.Host)
			n++
		}
	}
	return n, nil
}
