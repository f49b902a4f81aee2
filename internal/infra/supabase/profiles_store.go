package supabase

import (
	"context"
	"net/http"
	"net/url"

	"go.opentelemetry.io/otel/attribute"

	"github.com/boddenberg/tradedesk-bfa-go/internal/domain"
)

// ============================================================
// ProfileStore implementation: the profiles table via PostgREST
// ============================================================

const (
	profilesTable = "profiles"
	// Asks PostgREST for a single object and a PGRST116 error on zero rows.
	acceptObject = "application/vnd.pgrst.object+json"
)

func (c *Client) restKey() string {
	if c.serviceRoleKey != "" {
		return c.serviceRoleKey
	}
	return c.apiKey
}

func profileFilter(id string) string {
	return url.Values{"id": {"eq." + id}}.Encode()
}

// SelectProfileByID fetches the profile keyed by the principal id.
func (c *Client) SelectProfileByID(ctx context.Context, id string) (*domain.ProfileRow, error) {
	ctx, span := tracer.Start(ctx, "Supabase.SelectProfileByID")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", id))

	var row domain.ProfileRow
	err := c.execute(ctx, serviceRest, request{
		method:  http.MethodGet,
		path:    "/rest/v1/" + profilesTable + "?select=*&" + profileFilter(id),
		bearer:  c.restKey(),
		headers: map[string]string{"Accept": acceptObject},
	}, func(resp *response) error {
		return decode(resp, &row, parseRestError("profile", id))
	})
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// InsertProfile creates a profile row and returns the stored representation.
func (c *Client) InsertProfile(ctx context.Context, row *domain.ProfileRow) (*domain.ProfileRow, error) {
	ctx, span := tracer.Start(ctx, "Supabase.InsertProfile")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", row.ID))

	var created domain.ProfileRow
	err := c.execute(ctx, serviceRest, request{
		method: http.MethodPost,
		path:   "/rest/v1/" + profilesTable,
		bearer: c.restKey(),
		body:   row,
		headers: map[string]string{
			"Accept": acceptObject,
			"Prefer": "return=representation",
		},
	}, func(resp *response) error {
		return decode(resp, &created, parseRestError("profile", row.ID))
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateProfile applies the non-nil fields of update to the row.
func (c *Client) UpdateProfile(ctx context.Context, id string, update domain.ProfileUpdate) (*domain.ProfileRow, error) {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateProfile")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", id))

	var updated domain.ProfileRow
	err := c.execute(ctx, serviceRest, request{
		method: http.MethodPatch,
		path:   "/rest/v1/" + profilesTable + "?" + profileFilter(id),
		bearer: c.restKey(),
		body:   profilePatch(update),
		headers: map[string]string{
			"Accept": acceptObject,
			"Prefer": "return=representation",
		},
	}, func(resp *response) error {
		return decode(resp, &updated, parseRestError("profile", id))
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// profilePatch maps a partial update onto column names.
func profilePatch(u domain.ProfileUpdate) map[string]any {
	patch := make(map[string]any)
	if u.FirstName != nil {
		patch["first_name"] = *u.FirstName
	}
	if u.LastName != nil {
		patch["last_name"] = *u.LastName
	}
	if u.Company != nil {
		patch["company"] = *u.Company
	}
	if u.Role != nil {
		patch["role"] = string(*u.Role)
	}
	if u.Avatar != nil {
		patch["avatar_url"] = *u.Avatar
	}
	if u.IsActive != nil {
		patch["is_active"] = *u.IsActive
	}
	return patch
}
