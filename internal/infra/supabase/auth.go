package supabase

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/boddenberg/tradedesk-bfa-go/internal/domain"
)

// ============================================================
// GoTrue: password grant, sign-up, sign-out and user endpoints
// ============================================================

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signUpBody struct {
	Email    string              `json:"email"`
	Password string              `json:"password"`
	Data     domain.UserMetadata `json:"data"`
}

type userUpdateBody struct {
	Data domain.UserMetadata `json:"data"`
}

// SignInWithPassword exchanges credentials for a session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error) {
	ctx, span := tracer.Start(ctx, "Supabase.SignInWithPassword")
	defer span.End()

	var sess domain.Session
	err := c.execute(ctx, serviceAuth, request{
		method: http.MethodPost,
		path:   "/auth/v1/token?grant_type=password",
		body:   credentials{Email: email, Password: password},
	}, func(resp *response) error {
		return decode(resp, &sess, parseAuthError)
	})
	if err != nil {
		return nil, err
	}
	stampExpiry(&sess)
	span.SetAttributes(attribute.String("user.id", sess.Principal.ID))
	return &sess, nil
}

// RefreshSession trades a refresh token for a new session.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*domain.Session, error) {
	ctx, span := tracer.Start(ctx, "Supabase.RefreshSession")
	defer span.End()

	var sess domain.Session
	err := c.execute(ctx, serviceAuth, request{
		method: http.MethodPost,
		path:   "/auth/v1/token?grant_type=refresh_token",
		body:   map[string]string{"refresh_token": refreshToken},
	}, func(resp *response) error {
		return decode(resp, &sess, parseAuthError)
	})
	if err != nil {
		return nil, err
	}
	stampExpiry(&sess)
	return &sess, nil
}

// SignUp registers a principal. The session is nil when the project requires
// email confirmation before first sign-in.
func (c *Client) SignUp(ctx context.Context, email, password string, meta domain.UserMetadata) (*domain.Principal, *domain.Session, error) {
	ctx, span := tracer.Start(ctx, "Supabase.SignUp")
	defer span.End()

	// GoTrue answers with a session when auto-confirm is on and with the
	// bare user otherwise.
	var out struct {
		domain.Session
		domain.Principal
	}
	err := c.execute(ctx, serviceAuth, request{
		method: http.MethodPost,
		path:   "/auth/v1/signup",
		body:   signUpBody{Email: email, Password: password, Data: meta},
	}, func(resp *response) error {
		return decode(resp, &out, parseAuthError)
	})
	if err != nil {
		return nil, nil, err
	}

	if out.AccessToken != "" {
		sess := out.Session
		stampExpiry(&sess)
		principal := sess.Principal
		return &principal, &sess, nil
	}
	principal := out.Principal
	return &principal, nil, nil
}

// SignOut revokes the session behind accessToken. A session the backend no
// longer knows counts as signed out.
func (c *Client) SignOut(ctx context.Context, accessToken string, scope domain.SignOutScope) error {
	ctx, span := tracer.Start(ctx, "Supabase.SignOut")
	defer span.End()
	span.SetAttributes(attribute.String("scope", string(scope)))

	err := c.execute(ctx, serviceAuth, request{
		method: http.MethodPost,
		path:   "/auth/v1/logout?" + url.Values{"scope": {string(scope)}}.Encode(),
		bearer: accessToken,
	}, func(resp *response) error {
		if resp.status == http.StatusUnauthorized || resp.status == http.StatusNotFound {
			return nil
		}
		return decode(resp, nil, parseAuthError)
	})
	return err
}

// GetUser returns the principal the access token belongs to.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*domain.Principal, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetUser")
	defer span.End()

	var p domain.Principal
	err := c.execute(ctx, serviceAuth, request{
		method: http.MethodGet,
		path:   "/auth/v1/user",
		bearer: accessToken,
	}, func(resp *response) error {
		return decode(resp, &p, parseAuthError)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateUser merges meta into the principal's metadata.
func (c *Client) UpdateUser(ctx context.Context, accessToken string, meta domain.UserMetadata) (*domain.Principal, error) {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateUser")
	defer span.End()

	var p domain.Principal
	err := c.execute(ctx, serviceAuth, request{
		method: http.MethodPut,
		path:   "/auth/v1/user",
		bearer: accessToken,
		body:   userUpdateBody{Data: meta},
	}, func(resp *response) error {
		return decode(resp, &p, parseAuthError)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Name implements port.HealthChecker.
func (c *Client) Name() string { return "supabase" }

// Ping checks the auth service health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.execute(ctx, serviceAuth, request{
		method: http.MethodGet,
		path:   "/auth/v1/health",
	}, func(resp *response) error {
		return decode(resp, nil, parseAuthError)
	})
}

// stampExpiry fills ExpiresAt for servers that only send expires_in.
func stampExpiry(s *domain.Session) {
	if s.ExpiresAt == 0 && s.ExpiresIn > 0 {
		s.ExpiresAt = time.Now().Add(time.Duration(s.ExpiresIn) * time.Second).Unix()
	}
}
