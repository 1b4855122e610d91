package metadata

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/hitoshi/emututor/internal/model"
)

// mockSource はテスト用のFacetSourceモック。
type mockSource struct {
	facetsFn func(ctx context.Context) (*model.Facets, error)
	calls    int
}

func (m *mockSource) Facets(ctx context.Context) (*model.Facets, error) {
	m.calls++
	return m.facetsFn(ctx)
}

// mockCache はテスト用のFacetCacheモック。
type mockCache struct {
	stored        *model.Facets
	getErr        error
	setErr        error
	invalidateErr error
	sets          int
	invalidations int
}

func (m *mockCache) Get(context.Context) (*model.Facets, bool, error) {
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	return m.stored, m.stored != nil, nil
}

func (m *mockCache) Set(_ context.Context, f *model.Facets) error {
	m.sets++
	if m.setErr != nil {
		return m.setErr
	}
	m.stored = f
	return nil
}

func (m *mockCache) Invalidate(context.Context) error {
	m.invalidations++
	if m.invalidateErr != nil {
		return m.invalidateErr
	}
	m.stored = nil
	return nil
}

func sourceReturning(f *model.Facets) *mockSource {
	return &mockSource{facetsFn: func(context.Context) (*model.Facets, error) { return f, nil }}
}

func TestAggregator_EmptyStoreReturnsFallback(t *testing.T) {
	agg := NewAggregator(sourceReturning(nil), nil)

	got, err := agg.Facets(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got.Difficulties, []string{"Beginner", "Intermediate", "Advanced"}) {
		t.Errorf("Difficulties = %v", got.Difficulties)
	}
	if len(got.Consoles) != 19 || len(got.Emulators) != 13 || len(got.Categories) != 7 {
		t.Errorf("unexpected fallback sizes: %d %d %d", len(got.Consoles), len(got.Emulators), len(got.Categories))
	}
}

func TestAggregator_NormalizesStoreValues(t *testing.T) {
	agg := NewAggregator(sourceReturning(&model.Facets{
		Consoles:     []string{"PS2", "", "GameCube", "PS2", "  "},
		Emulators:    []string{"PCSX2"},
		Categories:   []string{"Modding", "Configuration"},
		Difficulties: nil,
	}), nil)

	got, err := agg.Facets(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got.Consoles, []string{"GameCube", "PS2"}) {
		t.Errorf("Consoles = %v", got.Consoles)
	}
	if !reflect.DeepEqual(got.Categories, []string{"Configuration", "Modding"}) {
		t.Errorf("Categories = %v", got.Categories)
	}
	if got.Difficulties == nil || len(got.Difficulties) != 0 {
		t.Errorf("Difficulties = %#v, want empty slice", got.Difficulties)
	}
}

func TestAggregator_PropagatesSourceError(t *testing.T) {
	want := errors.New("store down")
	agg := NewAggregator(&mockSource{facetsFn: func(context.Context) (*model.Facets, error) { return nil, want }}, nil)

	if _, err := agg.Facets(context.Background()); !errors.Is(err, want) {
		t.Errorf("err = %v, want %v", err, want)
	}
}

func TestAggregator_CachesComputedFacets(t *testing.T) {
	src := sourceReturning(&model.Facets{Consoles: []string{"SNES"}})
	cache := &mockCache{}
	agg := NewAggregator(src, cache)

	first, _ := agg.Facets(context.Background())
	second, _ := agg.Facets(context.Background())

	if src.calls != 1 {
		t.Errorf("source called %d times, want 1", src.calls)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("cached result differs: %+v vs %+v", first, second)
	}
}

func TestAggregator_InvalidateRecomputesFromSource(t *testing.T) {
	current := &model.Facets{Consoles: []string{"SNES"}}
	src := &mockSource{facetsFn: func(context.Context) (*model.Facets, error) { return current, nil }}
	cache := &mockCache{}
	agg := NewAggregator(src, cache)

	if _, err := agg.Facets(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 新しいチュートリアルが保存された後の状態
	current = &model.Facets{Consoles: []string{"Dreamcast", "SNES"}}

	stale, _ := agg.Facets(context.Background())
	if !reflect.DeepEqual(stale.Consoles, []string{"SNES"}) {
		t.Fatalf("expected cached value before invalidation, got %v", stale.Consoles)
	}

	agg.Invalidate(context.Background())

	got, err := agg.Facets(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got.Consoles, []string{"Dreamcast", "SNES"}) {
		t.Errorf("Consoles = %v, want newly stored value", got.Consoles)
	}
	if cache.invalidations != 1 || src.calls != 2 {
		t.Errorf("invalidations = %d, source calls = %d", cache.invalidations, src.calls)
	}
}

func TestAggregator_InvalidateWithoutCache(t *testing.T) {
	agg := NewAggregator(sourceReturning(nil), nil)
	agg.Invalidate(context.Background())
}

func TestAggregator_InvalidateFailureIsIgnored(t *testing.T) {
	cache := &mockCache{invalidateErr: errors.New("redis down")}
	agg := NewAggregator(sourceReturning(nil), cache)

	agg.Invalidate(context.Background())
	if cache.invalidations != 1 {
		t.Errorf("invalidations = %d, want 1", cache.invalidations)
	}
}

func TestAggregator_DoesNotCacheFallback(t *testing.T) {
	cache := &mockCache{}
	agg := NewAggregator(sourceReturning(nil), cache)

	if _, err := agg.Facets(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cache.sets != 0 {
		t.Errorf("fallback was cached (%d sets)", cache.sets)
	}
}

func TestAggregator_CacheFailuresAreBypassed(t *testing.T) {
	src := sourceReturning(&model.Facets{Consoles: []string{"N64"}})
	cache := &mockCache{getErr: errors.New("redis down"), setErr: errors.New("redis down")}
	agg := NewAggregator(src, cache)

	got, err := agg.Facets(context.Background())
	if err != nil {
		t.Fatalf("cache errors must not surface: %v", err)
	}
	if !reflect.DeepEqual(got.Consoles, []string{"N64"}) {
		t.Errorf("Consoles = %v", got.Consoles)
	}
}

func TestFallback_ReturnsCopies(t *testing.T) {
	f := Fallback()
	f.Consoles[0] = "changed"

	if Fallback().Consoles[0] != "NES" {
		t.Error("Fallback shares backing arrays with the catalog")
	}
}
