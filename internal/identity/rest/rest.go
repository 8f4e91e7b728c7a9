// Package rest is the identity store over the managed backend's REST query
// interface. It keeps the backend's table layout: one table per provider
// (line_identities, google_identities, apple_identities) keyed by a
// <provider>_user_id column with a unique constraint.
package rest

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/uvaco/cardauth/internal/backend"
	"github.com/uvaco/cardauth/internal/identity"
)

type Store struct {
	client *backend.Client
}

// New creates a Store. client must carry service-role credentials; the
// identity tables sit behind row-level security that end-user tokens cannot
// cross.
func New(client *backend.Client) *Store {
	return &Store{client: client}
}

type row struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
	LastLoginAt string `json:"last_login_at,omitempty"`
}

func table(p identity.Provider) string { return string(p) + "_identities" }
func idCol(p identity.Provider) string { return string(p) + "_user_id" }

func (s *Store) Lookup(ctx context.Context, p identity.Provider, providerUserID string) (*identity.Link, error) {
	path := fmt.Sprintf("/rest/v1/%s?select=user_id,display_name,email,last_login_at&%s=eq.%s&limit=1",
		table(p), idCol(p), url.QueryEscape(providerUserID))
	resp, err := s.client.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("rest: lookup: %w", err)
	}
	if !resp.OK() {
		return nil, fmt.Errorf("rest: lookup http %d: %s", resp.Status, resp.Body)
	}
	var rows []row
	if err := resp.JSON(&rows); err != nil {
		return nil, fmt.Errorf("rest: lookup decode: %w", err)
	}
	if len(rows) == 0 || rows[0].UserID == "" {
		return nil, identity.ErrNotFound
	}
	return linkFromRow(p, providerUserID, rows[0]), nil
}

func (s *Store) EnsureLink(ctx context.Context, link identity.Link) (*identity.Link, error) {
	body := map[string]any{
		idCol(link.Provider): link.ProviderUserID,
		"user_id":            link.InternalUserID,
		"last_login_at":      link.LastLoginAt.UTC().Format(time.RFC3339),
	}
	if link.DisplayName != "" {
		body["display_name"] = link.DisplayName
	}
	if link.Email != "" {
		body["email"] = link.Email
	}
	// ignore-duplicates + the unique constraint is the atomic
	// insert-if-absent: a concurrent first login loses quietly and the
	// read-back below returns the winner's row.
	headers := map[string]string{
		"Prefer": "resolution=ignore-duplicates,return=minimal",
	}
	resp, err := s.client.Post(ctx, "/rest/v1/"+table(link.Provider), headers, []map[string]any{body})
	if err != nil {
		return nil, fmt.Errorf("rest: insert link: %w", err)
	}
	if !resp.OK() {
		return nil, fmt.Errorf("rest: insert link http %d: %s", resp.Status, resp.Body)
	}
	stored, err := s.Lookup(ctx, link.Provider, link.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("rest: read back link: %w", err)
	}
	return stored, nil
}

func (s *Store) Touch(ctx context.Context, p identity.Provider, providerUserID string, profile identity.Profile) error {
	body := map[string]any{
		"last_login_at": time.Now().UTC().Format(time.RFC3339),
	}
	if profile.DisplayName != "" {
		body["display_name"] = profile.DisplayName
	}
	if profile.Email != "" {
		body["email"] = profile.Email
	}
	path := fmt.Sprintf("/rest/v1/%s?%s=eq.%s", table(p), idCol(p), url.QueryEscape(providerUserID))
	headers := map[string]string{"Prefer": "return=minimal"}
	resp, err := s.client.Patch(ctx, path, headers, body)
	if err != nil {
		return fmt.Errorf("rest: touch: %w", err)
	}
	if !resp.OK() {
		return fmt.Errorf("rest: touch http %d: %s", resp.Status, resp.Body)
	}
	return nil
}

func linkFromRow(p identity.Provider, providerUserID string, r row) *identity.Link {
	l := &identity.Link{
		Provider:       p,
		ProviderUserID: providerUserID,
		InternalUserID: r.UserID,
		DisplayName:    r.DisplayName,
		Email:          r.Email,
	}
	if t, err := time.Parse(time.RFC3339, r.LastLoginAt); err == nil {
		l.LastLoginAt = t
	}
	return l
}
