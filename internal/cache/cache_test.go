package cache

import (
	"context"
	"testing"
	"time"

	"github.com/prospect-labs/prospector-cli/internal/model"
)

func TestKeyStable(t *testing.T) {
	a := model.SearchRequest{
		Query: "Acme  Corp contacts",
		Filters: model.SearchFilters{
			Engines:  []model.ProviderID{model.ProviderGoogle, model.ProviderBing},
			MaxPages: 3,
		},
	}
	b := model.SearchRequest{
		Query: "acme corp CONTACTS",
		Filters: model.SearchFilters{
			Engines:  []model.ProviderID{model.ProviderBing, model.ProviderGoogle},
			MaxPages: 3,
		},
	}
	if Key(a) != Key(b) {
		t.Errorf("equivalent requests produced different keys:\n%s\n%s", Key(a), Key(b))
	}
}

func TestKeyDistinguishes(t *testing.T) {
	base := model.SearchRequest{
		Query:   "acme corp",
		Filters: model.SearchFilters{Engines: []model.ProviderID{model.ProviderGoogle}, MaxPages: 3},
	}

	diffQuery := base
	diffQuery.Query = "acme inc"
	if Key(base) == Key(diffQuery) {
		t.Error("different queries produced the same key")
	}

	diffPages := base
	diffPages.Filters.MaxPages = 5
	if Key(base) == Key(diffPages) {
		t.Error("different page limits produced the same key")
	}

	diffEngines := base
	diffEngines.Filters.Engines = []model.ProviderID{model.ProviderBing}
	if Key(base) == Key(diffEngines) {
		t.Error("different engines produced the same key")
	}
}

func TestKeyDefaultEngines(t *testing.T) {
	explicit := model.SearchRequest{
		Query:   "acme",
		Filters: model.SearchFilters{Engines: model.DefaultProviders(), MaxPages: 3},
	}
	implicit := model.SearchRequest{
		Query:   "acme",
		Filters: model.SearchFilters{MaxPages: 3},
	}
	if Key(explicit) != Key(implicit) {
		t.Error("empty engine list should key identically to the default set")
	}
}

func TestMemoryGetSet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10)

	if _, found, _ := m.Get(ctx, NamespacePreview, "k"); found {
		t.Fatal("unexpected hit on empty cache")
	}

	if err := m.Set(ctx, NamespacePreview, "k", []byte("v"), time.Hour); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, found, err := m.Get(ctx, NamespacePreview, "k")
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if string(got) != "v" {
		t.Errorf("got %q, want %q", got, "v")
	}
}

func TestMemoryNamespaceIsolation(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10)

	m.Set(ctx, NamespacePreview, "k", []byte("preview"), time.Hour)
	m.Set(ctx, NamespaceFull, "k", []byte("full"), time.Hour)

	got, _, _ := m.Get(ctx, NamespacePreview, "k")
	if string(got) != "preview" {
		t.Errorf("preview namespace returned %q", got)
	}
	got, _, _ = m.Get(ctx, NamespaceFull, "k")
	if string(got) != "full" {
		t.Errorf("full namespace returned %q", got)
	}
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10)
	now := time.Now()
	m.nowFunc = func() time.Time { return now }

	m.Set(ctx, NamespacePreview, "k", []byte("v"), time.Minute)

	now = now.Add(59 * time.Second)
	if _, found, _ := m.Get(ctx, NamespacePreview, "k"); !found {
		t.Fatal("entry expired early")
	}

	now = now.Add(time.Second)
	if _, found, _ := m.Get(ctx, NamespacePreview, "k"); found {
		t.Fatal("entry survived past its ttl")
	}
}

func TestMemoryEviction(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(2)
	now := time.Now()
	m.nowFunc = func() time.Time { return now }

	m.Set(ctx, NamespacePreview, "a", []byte("a"), time.Minute)
	m.Set(ctx, NamespacePreview, "b", []byte("b"), time.Hour)
	m.Set(ctx, NamespacePreview, "c", []byte("c"), time.Hour)

	// "a" had the nearest expiry and should be the victim.
	if _, found, _ := m.Get(ctx, NamespacePreview, "a"); found {
		t.Error("expected oldest-expiry entry to be evicted")
	}
	if _, found, _ := m.Get(ctx, NamespacePreview, "b"); !found {
		t.Error("entry b missing")
	}
	if _, found, _ := m.Get(ctx, NamespacePreview, "c"); !found {
		t.Error("entry c missing")
	}
}

func TestMemoryDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10)

	m.Set(ctx, NamespaceFull, "k", []byte("v"), time.Hour)
	if err := m.Delete(ctx, NamespaceFull, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, found, _ := m.Get(ctx, NamespaceFull, "k"); found {
		t.Error("entry survived delete")
	}
	if err := m.Delete(ctx, NamespaceFull, "missing"); err != nil {
		t.Errorf("deleting missing key: %v", err)
	}
}
