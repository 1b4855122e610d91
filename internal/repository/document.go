package repository

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/hitoshi/emututor/internal/model"
)

// currentSchemaVersion は保存ドキュメントのスキーマバージョン。
// バージョンなしのドキュメント（0扱い）は読み込み時にアップグレードする。
const currentSchemaVersion = 1

// ErrUnsupportedSchema は未知の（新しい）スキーマバージョンのドキュメントを読んだ場合に返される。
var ErrUnsupportedSchema = errors.New("unsupported tutorial document schema version")

// tutorialDocument はストアに保存されるチュートリアルのドキュメント表現。
// MongoDBではBSON、PostgreSQLではJSONBとして同じフィールド名で保存する。
type tutorialDocument struct {
	SchemaVersion int                   `bson:"schema_version" json:"schema_version"`
	ID            string                `bson:"id" json:"id"`
	Title         string                `bson:"title" json:"title"`
	Description   string                `bson:"description" json:"description"`
	Content       string                `bson:"content" json:"content"`
	Console       string                `bson:"console" json:"console"`
	Emulator      string                `bson:"emulator" json:"emulator"`
	Category      string                `bson:"category" json:"category"`
	Difficulty    string                `bson:"difficulty" json:"difficulty"`
	VideoSources  []videoSourceDocument `bson:"video_sources" json:"video_sources"`
	Tags          []string              `bson:"tags" json:"tags"`
	Author        string                `bson:"author" json:"author"`
	CreatedAt     time.Time             `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time             `bson:"updated_at" json:"updated_at"`
	IsApproved    bool                  `bson:"is_approved" json:"is_approved"`
	Views         int64                 `bson:"views" json:"views"`
}

// videoSourceDocument は動画ソースのドキュメント表現。
type videoSourceDocument struct {
	Type        string         `bson:"type" json:"type"`
	URL         string         `bson:"url,omitempty" json:"url,omitempty"`
	VideoID     string         `bson:"video_id,omitempty" json:"video_id,omitempty"`
	FilePath    string         `bson:"file_path,omitempty" json:"file_path,omitempty"`
	Attribution map[string]any `bson:"attribution,omitempty" json:"attribution,omitempty"`
}

// toDocument はモデルを現行スキーマのドキュメントに変換する。
func toDocument(t *model.Tutorial) *tutorialDocument {
	sources := make([]videoSourceDocument, 0, len(t.VideoSources))
	for _, s := range t.VideoSources {
		sources = append(sources, toVideoSourceDocument(s))
	}

	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}

	return &tutorialDocument{
		SchemaVersion: currentSchemaVersion,
		ID:            t.ID,
		Title:         t.Title,
		Description:   t.Description,
		Content:       t.Content,
		Console:       t.Console,
		Emulator:      t.Emulator,
		Category:      t.Category,
		Difficulty:    t.Difficulty,
		VideoSources:  sources,
		Tags:          tags,
		Author:        t.Author,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
		IsApproved:    t.IsApproved,
		Views:         t.Views,
	}
}

func toVideoSourceDocument(s model.VideoSource) videoSourceDocument {
	return videoSourceDocument{
		Type:        string(s.Kind),
		URL:         s.URL,
		VideoID:     s.PlatformVideoID,
		FilePath:    s.FileHandle,
		Attribution: s.Attribution,
	}
}

// toModel はドキュメントをモデルに変換する。
// 旧バージョンのドキュメントはアップグレードしてから変換する。
func (d *tutorialDocument) toModel() (*model.Tutorial, error) {
	if d.SchemaVersion > currentSchemaVersion {
		return nil, fmt.Errorf("%w: %d (tutorial %s)", ErrUnsupportedSchema, d.SchemaVersion, d.ID)
	}
	if d.SchemaVersion < 1 {
		upgradeFromV0(d)
	}

	sources := make([]model.VideoSource, 0, len(d.VideoSources))
	for _, s := range d.VideoSources {
		sources = append(sources, model.VideoSource{
			Kind:            model.VideoKind(s.Type),
			URL:             s.URL,
			PlatformVideoID: s.VideoID,
			FileHandle:      s.FilePath,
			Attribution:     s.Attribution,
		})
	}

	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}

	return &model.Tutorial{
		ID:           d.ID,
		Title:        d.Title,
		Description:  d.Description,
		Content:      d.Content,
		Console:      d.Console,
		Emulator:     d.Emulator,
		Category:     d.Category,
		Difficulty:   d.Difficulty,
		VideoSources: sources,
		Tags:         tags,
		Author:       d.Author,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
		IsApproved:   d.IsApproved,
		Views:        d.Views,
	}, nil
}

// upgradeFromV0 はバージョンなしのドキュメントを現行スキーマに揃える。
// 旧形式ではアップロード動画の元ファイル名がattribution.filenameに入っていた。
func upgradeFromV0(d *tutorialDocument) {
	for i := range d.VideoSources {
		s := &d.VideoSources[i]
		if s.Type != string(model.VideoKindHosted) || s.Attribution == nil {
			continue
		}
		name, ok := s.Attribution["filename"]
		if !ok {
			continue
		}
		attr := maps.Clone(s.Attribution)
		delete(attr, "filename")
		if _, exists := attr["original_filename"]; !exists {
			attr["original_filename"] = name
		}
		s.Attribution = attr
	}
	if d.VideoSources == nil {
		d.VideoSources = []videoSourceDocument{}
	}
	if d.Tags == nil {
		d.Tags = []string{}
	}
	if d.Views < 0 {
		d.Views = 0
	}
	d.SchemaVersion = currentSchemaVersion
}

// cloneTutorial はスライスとattributionを含めてチュートリアルを複製する。
func cloneTutorial(t *model.Tutorial) *model.Tutorial {
	c := *t
	c.Tags = slices.Clone(t.Tags)
	if c.Tags == nil {
		c.Tags = []string{}
	}
	c.VideoSources = make([]model.VideoSource, len(t.VideoSources))
	for i, s := range t.VideoSources {
		s.Attribution = maps.Clone(s.Attribution)
		c.VideoSources[i] = s
	}
	return &c
}
