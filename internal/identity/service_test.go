package identity_test

import (
	"context"
	"sync"
	"testing"

	"github.com/uvaco/cardauth/internal/cache/memory"
	"github.com/uvaco/cardauth/internal/identity"
	idmem "github.com/uvaco/cardauth/internal/identity/memory"

	"github.com/google/uuid"
)

func TestResolveIdempotent(t *testing.T) {
	store := idmem.New()
	svc := identity.NewService(store)
	ctx := context.Background()

	first, err := svc.Resolve(ctx, identity.ProviderLINE, "U1234", identity.Profile{DisplayName: "Taro"})
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if _, err := uuid.Parse(first); err != nil {
		t.Fatalf("internal id %q is not a UUID: %v", first, err)
	}

	second, err := svc.Resolve(ctx, identity.ProviderLINE, "U1234", identity.Profile{DisplayName: "Taro Y."})
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if second != first {
		t.Fatalf("same provider identity resolved to two ids: %q vs %q", first, second)
	}
	if store.Count() != 1 {
		t.Fatalf("want exactly one link row, got %d", store.Count())
	}
}

func TestResolveDistinctProvidersDistinctIDs(t *testing.T) {
	svc := identity.NewService(idmem.New())
	ctx := context.Background()

	a, err := svc.Resolve(ctx, identity.ProviderLINE, "same-sub", identity.Profile{})
	if err != nil {
		t.Fatalf("resolve line: %v", err)
	}
	b, err := svc.Resolve(ctx, identity.ProviderGoogle, "same-sub", identity.Profile{})
	if err != nil {
		t.Fatalf("resolve google: %v", err)
	}
	if a == b {
		t.Fatalf("provider namespaces must not collide")
	}
}

func TestResolveConcurrentFirstLogin(t *testing.T) {
	store := idmem.New()
	svc := identity.NewService(store)

	const n = 16
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := svc.Resolve(context.Background(), identity.ProviderApple, "apple-sub-1", identity.Profile{})
			if err != nil {
				t.Errorf("resolve: %v", err)
				return
			}
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("concurrent first logins produced different ids: %q vs %q", ids[0], ids[i])
		}
	}
	if store.Count() != 1 {
		t.Fatalf("want one link row after %d concurrent logins, got %d", n, store.Count())
	}
}

func TestCachedStoreServesLookupsFromCache(t *testing.T) {
	inner := idmem.New()
	cached := identity.WithCache(inner, memory.New(0))
	ctx := context.Background()

	link, err := cached.EnsureLink(ctx, identity.Link{
		Provider:       identity.ProviderGoogle,
		ProviderUserID: "g-1",
		InternalUserID: uuid.NewString(),
	})
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}

	got, err := cached.Lookup(ctx, identity.ProviderGoogle, "g-1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.InternalUserID != link.InternalUserID {
		t.Fatalf("cached lookup returned %q, want %q", got.InternalUserID, link.InternalUserID)
	}

	if _, err := cached.Lookup(ctx, identity.ProviderGoogle, "missing"); err != identity.ErrNotFound {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}
