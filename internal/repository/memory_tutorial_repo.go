package repository

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/emututor/internal/model"
)

// MemoryTutorialRepo はプロセス内メモリを使用したチュートリアルリポジトリ。
// テストとSTORE_BACKEND=memoryでのローカル起動に使う。
// 全操作を1つのミューテックスで直列化するため、閲覧数の増加もアトミックになる。
type MemoryTutorialRepo struct {
	mu        sync.Mutex
	tutorials []*model.Tutorial // 挿入順（ストアの自然順）
	byID      map[string]*model.Tutorial
}

var _ TutorialRepository = (*MemoryTutorialRepo)(nil)

// NewMemoryTutorialRepo はMemoryTutorialRepoを生成する。
func NewMemoryTutorialRepo() *MemoryTutorialRepo {
	return &MemoryTutorialRepo{
		byID: make(map[string]*model.Tutorial),
	}
}

// Create はチュートリアルを保存する。
func (r *MemoryTutorialRepo) Create(ctx context.Context, tutorial *model.Tutorial) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := cloneTutorial(tutorial)
	r.tutorials = append(r.tutorials, t)
	r.byID[t.ID] = t
	return nil
}

// FindByID は指定IDのチュートリアルを返す。
func (r *MemoryTutorialRepo) FindByID(ctx context.Context, id string) (*model.Tutorial, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	return cloneTutorial(t), nil
}

// GetAndIncrementViews は閲覧数を1増やし、増加後のチュートリアルを返す。
func (r *MemoryTutorialRepo) GetAndIncrementViews(ctx context.Context, id string) (*model.Tutorial, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	t.Views++
	return cloneTutorial(t), nil
}

// List はフィルタ条件に一致するチュートリアルをcreated_atの降順で返す。
func (r *MemoryTutorialRepo) List(ctx context.Context, filter model.TutorialFilter) ([]*model.Tutorial, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*model.Tutorial
	for _, t := range r.tutorials {
		if filter.ApprovedOnly && !t.IsApproved {
			continue
		}
		if !containsFold(t.Console, filter.Console) ||
			!containsFold(t.Emulator, filter.Emulator) ||
			!containsFold(t.Category, filter.Category) ||
			!containsFold(t.Difficulty, filter.Difficulty) {
			continue
		}
		matched = append(matched, t)
	}

	slices.SortStableFunc(matched, func(a, b *model.Tutorial) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	return cloneLimited(matched, filter.Limit), nil
}

// Search は承認済みチュートリアルを自然順で全文（部分一致）検索する。
func (r *MemoryTutorialRepo) Search(ctx context.Context, text string, limit int) ([]*model.Tutorial, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*model.Tutorial
	for _, t := range r.tutorials {
		if !t.IsApproved {
			continue
		}
		if matchesSearch(t, text) {
			matched = append(matched, t)
		}
	}
	return cloneLimited(matched, limit), nil
}

// AppendVideoSource は動画ソースを末尾に追加する。
func (r *MemoryTutorialRepo) AppendVideoSource(ctx context.Context, id string, source model.VideoSource, now time.Time) (*model.Tutorial, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	t.VideoSources = append(t.VideoSources, source)
	t.UpdatedAt = now
	return cloneTutorial(t), nil
}

// Facets は分類値を重複なしで返す。
func (r *MemoryTutorialRepo) Facets(ctx context.Context) (*model.Facets, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.tutorials) == 0 {
		return nil, nil
	}

	consoles := map[string]struct{}{}
	emulators := map[string]struct{}{}
	categories := map[string]struct{}{}
	difficulties := map[string]struct{}{}
	for _, t := range r.tutorials {
		consoles[t.Console] = struct{}{}
		emulators[t.Emulator] = struct{}{}
		categories[t.Category] = struct{}{}
		difficulties[t.Difficulty] = struct{}{}
	}

	return &model.Facets{
		Consoles:     keys(consoles),
		Emulators:    keys(emulators),
		Categories:   keys(categories),
		Difficulties: keys(difficulties),
	}, nil
}

// ExistsByPlatformVideoID は動画IDの存在を返す。
func (r *MemoryTutorialRepo) ExistsByPlatformVideoID(ctx context.Context, videoID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.tutorials {
		for _, s := range t.VideoSources {
			if s.PlatformVideoID == videoID {
				return true, nil
			}
		}
	}
	return false, nil
}

// Ping は常に成功する。
func (r *MemoryTutorialRepo) Ping(ctx context.Context) error {
	return nil
}

func matchesSearch(t *model.Tutorial, text string) bool {
	if containsFold(t.Title, text) ||
		containsFold(t.Description, text) ||
		containsFold(t.Content, text) ||
		containsFold(t.Console, text) ||
		containsFold(t.Emulator, text) {
		return true
	}
	for _, tag := range t.Tags {
		if containsFold(tag, text) {
			return true
		}
	}
	return false
}

// containsFold は大文字小文字を区別しない部分一致を判定する。
// needleが空の場合は条件なしとして常にtrueを返す。
func containsFold(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func cloneLimited(src []*model.Tutorial, limit int) []*model.Tutorial {
	if limit > 0 && len(src) > limit {
		src = src[:limit]
	}
	out := make([]*model.Tutorial, 0, len(src))
	for _, t := range src {
		out = append(out, cloneTutorial(t))
	}
	return out
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
