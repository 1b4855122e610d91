package handler

import (
	"time"

	"github.com/hitoshi/emututor/internal/model"
)

// videoSourceDTO は動画ソースのワイヤ表現。
// フィールド名はWebクライアントが使う既存のJSON契約に合わせる。
type videoSourceDTO struct {
	Type        string         `json:"type"`
	URL         string         `json:"url,omitempty"`
	VideoID     string         `json:"video_id,omitempty"`
	FilePath    string         `json:"file_path,omitempty"`
	Attribution map[string]any `json:"attribution,omitempty"`
}

// tutorialFields は作成・投稿リクエストに共通するフィールド。
type tutorialFields struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Content     string   `json:"content"`
	Console     string   `json:"console"`
	Emulator    string   `json:"emulator"`
	Category    string   `json:"category"`
	Difficulty  string   `json:"difficulty"`
	Tags        []string `json:"tags"`
	Author      string   `json:"author"`
}

// createTutorialRequest は直接作成リクエストのボディ。
type createTutorialRequest struct {
	tutorialFields
	VideoSources []videoSourceDTO `json:"video_sources"`
}

// submitTutorialRequest は投稿リクエストのボディ。
type submitTutorialRequest struct {
	tutorialFields
	YouTubeURLs []string `json:"youtube_urls"`
}

// tutorialResponse はチュートリアルのAPIレスポンス。
type tutorialResponse struct {
	ID           string           `json:"id"`
	Title        string           `json:"title"`
	Description  string           `json:"description"`
	Content      string           `json:"content"`
	Console      string           `json:"console"`
	Emulator     string           `json:"emulator"`
	Category     string           `json:"category"`
	Difficulty   string           `json:"difficulty"`
	VideoSources []videoSourceDTO `json:"video_sources"`
	Tags         []string         `json:"tags"`
	Author       string           `json:"author"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
	IsApproved   bool             `json:"is_approved"`
	Views        int64            `json:"views"`
}

// uploadResponse は動画アップロードのAPIレスポンス。
type uploadResponse struct {
	Message     string         `json:"message"`
	VideoSource videoSourceDTO `json:"video_source"`
}

// facetsResponse はメタデータ（分類値一覧）のAPIレスポンス。
type facetsResponse struct {
	Consoles     []string `json:"consoles"`
	Emulators    []string `json:"emulators"`
	Categories   []string `json:"categories"`
	Difficulties []string `json:"difficulties"`
}

func (f tutorialFields) toInput() model.TutorialInput {
	return model.TutorialInput{
		Title:       f.Title,
		Description: f.Description,
		Content:     f.Content,
		Console:     f.Console,
		Emulator:    f.Emulator,
		Category:    f.Category,
		Difficulty:  f.Difficulty,
		Tags:        f.Tags,
		Author:      f.Author,
	}
}

// toCreateInput はリクエストをサービス入力に変換する。未知の動画種別はエラーにする。
func (req createTutorialRequest) toCreateInput() (model.TutorialCreateInput, error) {
	sources := make([]model.VideoSource, 0, len(req.VideoSources))
	for _, dto := range req.VideoSources {
		kind := model.VideoKind(dto.Type)
		switch kind {
		case model.VideoKindYouTube, model.VideoKindHosted, model.VideoKindExternal:
		default:
			return model.TutorialCreateInput{}, model.NewValidationError("未知の動画種別です: " + dto.Type)
		}
		sources = append(sources, model.VideoSource{
			Kind:            kind,
			URL:             dto.URL,
			PlatformVideoID: dto.VideoID,
			FileHandle:      dto.FilePath,
			Attribution:     dto.Attribution,
		})
	}
	return model.TutorialCreateInput{
		TutorialInput: req.toInput(),
		VideoSources:  sources,
	}, nil
}

func (req submitTutorialRequest) toSubmissionInput() model.TutorialSubmissionInput {
	return model.TutorialSubmissionInput{
		TutorialInput: req.toInput(),
		YouTubeURLs:   req.YouTubeURLs,
	}
}

func toVideoSourceDTO(s model.VideoSource) videoSourceDTO {
	return videoSourceDTO{
		Type:        string(s.Kind),
		URL:         s.URL,
		VideoID:     s.PlatformVideoID,
		FilePath:    s.FileHandle,
		Attribution: s.Attribution,
	}
}

// toTutorialResponse はmodel.TutorialからAPIレスポンスに変換する。
// 配列フィールドは空でもnullではなく[]で返す。
func toTutorialResponse(t *model.Tutorial) tutorialResponse {
	sources := make([]videoSourceDTO, 0, len(t.VideoSources))
	for _, s := range t.VideoSources {
		sources = append(sources, toVideoSourceDTO(s))
	}
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	return tutorialResponse{
		ID:           t.ID,
		Title:        t.Title,
		Description:  t.Description,
		Content:      t.Content,
		Console:      t.Console,
		Emulator:     t.Emulator,
		Category:     t.Category,
		Difficulty:   t.Difficulty,
		VideoSources: sources,
		Tags:         tags,
		Author:       t.Author,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
		IsApproved:   t.IsApproved,
		Views:        t.Views,
	}
}

func toTutorialResponses(tutorials []*model.Tutorial) []tutorialResponse {
	out := make([]tutorialResponse, 0, len(tutorials))
	for _, t := range tutorials {
		out = append(out, toTutorialResponse(t))
	}
	return out
}

func toFacetsResponse(f *model.Facets) facetsResponse {
	return facetsResponse{
		Consoles:     nonNil(f.Consoles),
		Emulators:    nonNil(f.Emulators),
		Categories:   nonNil(f.Categories),
		Difficulties: nonNil(f.Difficulties),
	}
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
