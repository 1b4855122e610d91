// Package tutorial はチュートリアルの作成・閲覧・検索・動画添付のドメインロジックを提供する。
package tutorial

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/emututor/internal/model"
	"github.com/hitoshi/emututor/internal/video"
)

// Builder は入力からチュートリアルレコードを組み立てる。
// 時刻とID生成はテストで差し替えられる。
type Builder struct {
	now   func() time.Time
	newID func() string
}

// NewBuilder はBuilderを生成する。
func NewBuilder() *Builder {
	return &Builder{
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// BuildDirect は信頼済み入力（直接作成）からチュートリアルを組み立てる。
// youtube種別でURLを持つ動画ソースはURLから再解析し、クライアントが送った
// 動画IDとアトリビューションは破棄する。その他の種別はそのまま保持する。
func (b *Builder) BuildDirect(in model.TutorialCreateInput) (*model.Tutorial, error) {
	if err := validateRequired(in.TutorialInput); err != nil {
		return nil, err
	}

	sources := make([]model.VideoSource, 0, len(in.VideoSources))
	for _, s := range in.VideoSources {
		if s.Kind == model.VideoKindYouTube && s.URL != "" {
			s = video.Resolve(s.URL)
		}
		sources = append(sources, s)
	}

	t := b.newRecord(in.TutorialInput, in.Content)
	t.VideoSources = sources
	t.IsApproved = true
	return t, nil
}

// BuildSubmission はモデレーション待ちの投稿からチュートリアルを組み立てる。
// 動画IDを抽出できなかったURLと空のURLは黙って除外する。
// 本文は受け取ったバイト列のまま保存し、表示側でエスケープする。
func (b *Builder) BuildSubmission(in model.TutorialSubmissionInput) (*model.Tutorial, error) {
	if err := validateRequired(in.TutorialInput); err != nil {
		return nil, err
	}

	sources := []model.VideoSource{}
	for _, raw := range in.YouTubeURLs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if s := video.Resolve(raw); s.PlatformVideoID != "" {
			sources = append(sources, s)
		}
	}

	t := b.newRecord(in.TutorialInput, in.Content)
	t.VideoSources = sources
	t.IsApproved = false
	return t, nil
}

func (b *Builder) newRecord(in model.TutorialInput, content string) *model.Tutorial {
	now := b.now()
	return &model.Tutorial{
		ID:          b.newID(),
		Title:       in.Title,
		Description: in.Description,
		Content:     content,
		Console:     strings.TrimSpace(in.Console),
		Emulator:    strings.TrimSpace(in.Emulator),
		Category:    strings.TrimSpace(in.Category),
		Difficulty:  strings.TrimSpace(in.Difficulty),
		Tags:        normalizeTags(in.Tags),
		Author:      in.Author,
		CreatedAt:   now,
		UpdatedAt:   now,
		Views:       0,
	}
}

// validateRequired は必須フィールドの未入力をまとめて検出する。
func validateRequired(in model.TutorialInput) error {
	var missing []string
	for _, f := range []struct {
		name, value string
	}{
		{"title", in.Title},
		{"description", in.Description},
		{"content", in.Content},
		{"author", in.Author},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return model.NewMissingFieldsError(missing)
	}
	return nil
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}
