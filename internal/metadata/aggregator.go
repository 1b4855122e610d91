// Package metadata はフィルタUI用の分類値（コンソール・エミュレータ・カテゴリ・難易度）を集計する。
package metadata

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/hitoshi/emututor/internal/model"
)

// FacetSource は分類値の集計元。データストアが空の場合はnilを返す。
type FacetSource interface {
	Facets(ctx context.Context) (*model.Facets, error)
}

// Aggregator は集計結果を正規化し、空のストアには推奨値カタログを返す。
// cacheが設定されている場合は集計結果のみをキャッシュし、推奨値はキャッシュしない。
type Aggregator struct {
	source FacetSource
	cache  FacetCache
}

// NewAggregator はAggregatorを生成する。cacheはnilでもよい。
func NewAggregator(source FacetSource, cache FacetCache) *Aggregator {
	return &Aggregator{source: source, cache: cache}
}

// Facets は各分類の重複なし・昇順の値一覧を返す。
func (a *Aggregator) Facets(ctx context.Context) (*model.Facets, error) {
	if a.cache != nil {
		cached, ok, err := a.cache.Get(ctx)
		if err != nil {
			slog.Warn("分類値キャッシュの読み取りに失敗しました", "error", err)
		} else if ok {
			return cached, nil
		}
	}

	raw, err := a.source.Facets(ctx)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return Fallback(), nil
	}

	f := &model.Facets{
		Consoles:     normalize(raw.Consoles),
		Emulators:    normalize(raw.Emulators),
		Categories:   normalize(raw.Categories),
		Difficulties: normalize(raw.Difficulties),
	}

	if a.cache != nil {
		if err := a.cache.Set(ctx, f); err != nil {
			slog.Warn("分類値キャッシュの書き込みに失敗しました", "error", err)
		}
	}
	return f, nil
}

// Invalidate はキャッシュ済みの集計結果を破棄する。
// 次回のFacetsはデータストアから再集計する。失敗はログに残して無視する。
func (a *Aggregator) Invalidate(ctx context.Context) {
	if a.cache == nil {
		return
	}
	if err := a.cache.Invalidate(ctx); err != nil {
		slog.Warn("分類値キャッシュの無効化に失敗しました", "error", err)
	}
}

// normalize は空白のみの値を除外し、重複を除いて昇順に並べる。
func normalize(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
