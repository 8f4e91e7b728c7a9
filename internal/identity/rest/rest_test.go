package rest_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/uvaco/cardauth/internal/backend"
	"github.com/uvaco/cardauth/internal/identity"
	"github.com/uvaco/cardauth/internal/identity/rest"
)

// fakeRest emulates the backend's REST query surface for one provider table
// with a unique constraint on line_user_id.
type fakeRest struct {
	mu   sync.Mutex
	rows map[string]map[string]any // line_user_id -> row
}

func (f *fakeRest) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") == "" || !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			t.Errorf("missing service credentials on %s %s", r.Method, r.URL)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if !strings.HasPrefix(r.URL.Path, "/rest/v1/line_identities") {
			http.NotFound(w, r)
			return
		}

		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.Method {
		case http.MethodGet:
			key := strings.TrimPrefix(r.URL.Query().Get("line_user_id"), "eq.")
			out := []map[string]any{}
			if row, ok := f.rows[key]; ok {
				out = append(out, row)
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(out)
		case http.MethodPost:
			var batch []map[string]any
			_ = json.NewDecoder(r.Body).Decode(&batch)
			for _, row := range batch {
				key, _ := row["line_user_id"].(string)
				if _, exists := f.rows[key]; exists {
					if !strings.Contains(r.Header.Get("Prefer"), "ignore-duplicates") {
						w.WriteHeader(http.StatusConflict)
						return
					}
					continue
				}
				f.rows[key] = row
			}
			w.WriteHeader(http.StatusCreated)
		case http.MethodPatch:
			key := strings.TrimPrefix(r.URL.Query().Get("line_user_id"), "eq.")
			var patch map[string]any
			_ = json.NewDecoder(r.Body).Decode(&patch)
			if row, ok := f.rows[key]; ok {
				for k, v := range patch {
					row[k] = v
				}
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

func TestRestStoreEnsureLinkAndLookup(t *testing.T) {
	fake := &fakeRest{rows: map[string]map[string]any{}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	store := rest.New(backend.NewServiceRole(srv.URL, "service-key"))
	ctx := context.Background()

	if _, err := store.Lookup(ctx, identity.ProviderLINE, "U1"); err != identity.ErrNotFound {
		t.Fatalf("want ErrNotFound before insert, got %v", err)
	}

	link := identity.Link{
		Provider:       identity.ProviderLINE,
		ProviderUserID: "U1",
		InternalUserID: "11111111-1111-1111-1111-111111111111",
		DisplayName:    "Taro",
	}
	stored, err := store.EnsureLink(ctx, link)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if stored.InternalUserID != link.InternalUserID {
		t.Fatalf("stored id %q, want %q", stored.InternalUserID, link.InternalUserID)
	}

	// Losing the insert race must return the existing row, not error and
	// not overwrite.
	rival := link
	rival.InternalUserID = "22222222-2222-2222-2222-222222222222"
	stored, err = store.EnsureLink(ctx, rival)
	if err != nil {
		t.Fatalf("ensure duplicate: %v", err)
	}
	if stored.InternalUserID != link.InternalUserID {
		t.Fatalf("duplicate insert replaced the canonical id: got %q", stored.InternalUserID)
	}

	if err := store.Touch(ctx, identity.ProviderLINE, "U1", identity.Profile{DisplayName: "Taro Y."}); err != nil {
		t.Fatalf("touch: %v", err)
	}
	got, err := store.Lookup(ctx, identity.ProviderLINE, "U1")
	if err != nil {
		t.Fatalf("lookup after touch: %v", err)
	}
	if got.DisplayName != "Taro Y." {
		t.Fatalf("display name not refreshed: %q", got.DisplayName)
	}
}
