package tutorial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/hitoshi/emututor/internal/model"
	"github.com/hitoshi/emututor/internal/repository"
	"github.com/hitoshi/emututor/internal/video"
)

const (
	// DefaultListLimit は一覧取得の件数上限のデフォルト値。
	DefaultListLimit = 50
	// DefaultSearchLimit は検索の件数上限のデフォルト値。
	DefaultSearchLimit = 20

	defaultBlobExt = "bin"
)

// BlobStore はアップロード動画の保存先。
type BlobStore interface {
	// Write はrの内容をkeyで保存し、保存先を表すハンドルを返す。
	Write(ctx context.Context, key string, r io.Reader) (string, error)
}

// FacetProvider はフィルタUI用の分類値を提供する。
type FacetProvider interface {
	Facets(ctx context.Context) (*model.Facets, error)
	// Invalidate は集計結果のキャッシュを破棄する。チュートリアルの保存後に呼ばれる。
	Invalidate(ctx context.Context)
}

// MetricsRecorder はサービス層のメトリクス記録先。
type MetricsRecorder interface {
	RecordTutorialCreated(origin string)
	RecordTutorialViewed()
	RecordVideoAttached(kind model.VideoKind)
	RecordSearch(results int)
}

// 作成経路のラベル値
const (
	OriginDirect     = "direct"
	OriginSubmission = "submission"
)

// UploadInput はアップロード動画の添付リクエスト内容。
type UploadInput struct {
	Filename    string
	Attribution string
	Body        io.Reader
}

// Service はチュートリアルのサービス層。
// 組み立て → 動画参照の解析 → 永続化のフローを統括する。
type Service struct {
	repo    repository.TutorialRepository
	builder *Builder
	blobs   BlobStore
	facets  FacetProvider
	metrics MetricsRecorder
	newKey  func() string
}

// NewService はServiceの新しいインスタンスを生成する。
// metricsがnilの場合は記録しない。
func NewService(
	repo repository.TutorialRepository,
	builder *Builder,
	blobs BlobStore,
	facets FacetProvider,
	metrics MetricsRecorder,
) *Service {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Service{
		repo:    repo,
		builder: builder,
		blobs:   blobs,
		facets:  facets,
		metrics: metrics,
		newKey:  uuid.NewString,
	}
}

// Create は信頼済み入力からチュートリアルを作成する。承認済みとして保存される。
func (s *Service) Create(ctx context.Context, in model.TutorialCreateInput) (*model.Tutorial, error) {
	t, err := s.builder.BuildDirect(in)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, storeError(err)
	}

	s.facets.Invalidate(ctx)
	s.metrics.RecordTutorialCreated(OriginDirect)
	slog.Info("チュートリアルを作成しました", "tutorial_id", t.ID, "video_sources", len(t.VideoSources))
	return t, nil
}

// Submit はモデレーション待ちの投稿としてチュートリアルを作成する。
func (s *Service) Submit(ctx context.Context, in model.TutorialSubmissionInput) (*model.Tutorial, error) {
	t, err := s.builder.BuildSubmission(in)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, storeError(err)
	}

	s.facets.Invalidate(ctx)
	s.metrics.RecordTutorialCreated(OriginSubmission)
	slog.Info("チュートリアルの投稿を受け付けました",
		"tutorial_id", t.ID,
		"submitted_urls", len(in.YouTubeURLs),
		"accepted_videos", len(t.VideoSources),
	)
	return t, nil
}

// Get はチュートリアルを取得し、閲覧数を1増やす。返り値は増加後の値を含む。
func (s *Service) Get(ctx context.Context, id string) (*model.Tutorial, error) {
	t, err := s.repo.GetAndIncrementViews(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	if t == nil {
		return nil, model.NewTutorialNotFoundError(id)
	}

	s.metrics.RecordTutorialViewed()
	return t, nil
}

// List はフィルタ条件に一致するチュートリアルを新しい順に返す。
// filter.Limitが0の場合はDefaultListLimitを使う。
func (s *Service) List(ctx context.Context, filter model.TutorialFilter) ([]*model.Tutorial, error) {
	limit, err := normalizeLimit(filter.Limit, DefaultListLimit)
	if err != nil {
		return nil, err
	}
	filter.Limit = limit
	filter.Console = strings.TrimSpace(filter.Console)
	filter.Emulator = strings.TrimSpace(filter.Emulator)
	filter.Category = strings.TrimSpace(filter.Category)
	filter.Difficulty = strings.TrimSpace(filter.Difficulty)

	tutorials, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, storeError(err)
	}
	return tutorials, nil
}

// Search は承認済みチュートリアルを部分一致検索する。
// limitが0の場合はDefaultSearchLimitを使う。textは前後の空白も含めてそのまま照合する。
func (s *Service) Search(ctx context.Context, text string, limit int) ([]*model.Tutorial, error) {
	if strings.TrimSpace(text) == "" {
		return nil, model.NewValidationError("検索キーワードが未入力です")
	}
	limit, err := normalizeLimit(limit, DefaultSearchLimit)
	if err != nil {
		return nil, err
	}

	tutorials, err := s.repo.Search(ctx, text, limit)
	if err != nil {
		return nil, storeError(err)
	}

	s.metrics.RecordSearch(len(tutorials))
	return tutorials, nil
}

// AttachUpload はアップロード動画を保存し、チュートリアルに添付する。
// 存在確認を先に行い、存在しないチュートリアルに対してはブロブを書き込まない。
// ブロブ書き込み後にレコード更新が失敗した場合、ブロブは孤立したまま残る。
func (s *Service) AttachUpload(ctx context.Context, id string, in UploadInput) (*model.Tutorial, error) {
	existing, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	if existing == nil {
		return nil, model.NewTutorialNotFoundError(id)
	}

	key := BlobKey(id, s.newKey(), in.Filename)
	handle, err := s.blobs.Write(ctx, key, in.Body)
	if err != nil {
		return nil, model.NewBlobWriteError(err)
	}

	source := video.NewHostedSource(handle, in.Attribution, in.Filename)
	updated, err := s.repo.AppendVideoSource(ctx, id, source, s.builder.now())
	if err != nil {
		slog.Error("動画ソースの追加に失敗しました（ブロブは孤立）", "tutorial_id", id, "file_handle", handle, "error", err)
		return nil, storeError(err)
	}
	if updated == nil {
		slog.Warn("添付中にチュートリアルが見つからなくなりました（ブロブは孤立）", "tutorial_id", id, "file_handle", handle)
		return nil, model.NewTutorialNotFoundError(id)
	}

	s.metrics.RecordVideoAttached(model.VideoKindHosted)
	slog.Info("動画を添付しました", "tutorial_id", id, "file_handle", handle)
	return updated, nil
}

// Facets はフィルタUI用の分類値を返す。
func (s *Service) Facets(ctx context.Context) (*model.Facets, error) {
	f, err := s.facets.Facets(ctx)
	if err != nil {
		return nil, storeError(err)
	}
	return f, nil
}

// Ping はデータストアの疎通を確認する。
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// extPattern はブロブキーに使える拡張子。
var extPattern = regexp.MustCompile(`^[A-Za-z0-9]{1,10}$`)

// BlobKey はアップロード動画のブロブキーを生成する。
// 形式は {tutorialID}_{unique}.{ext}。拡張子がない、または不正な場合はbinを使う。
func BlobKey(tutorialID, unique, filename string) string {
	ext := strings.TrimPrefix(filepath.Ext(filename), ".")
	if !extPattern.MatchString(ext) {
		ext = defaultBlobExt
	}
	return fmt.Sprintf("%s_%s.%s", tutorialID, unique, strings.ToLower(ext))
}

// normalizeLimit は件数上限を検証する。0は未指定としてdefを返し、負数はエラー。
// 正の値は上限を設けずそのまま返す。
func normalizeLimit(limit, def int) (int, error) {
	switch {
	case limit == 0:
		return def, nil
	case limit < 0:
		return 0, model.NewValidationError("limitは1以上を指定してください")
	default:
		return limit, nil
	}
}

// storeError はリポジトリのエラーをAPIErrorに変換する。
func storeError(err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	if errors.Is(err, repository.ErrStoreUnavailable) {
		return model.NewStoreUnavailableError(err)
	}
	return model.NewStoreError(err)
}

type noopMetrics struct{}

func (noopMetrics) RecordTutorialCreated(string) {}
func (noopMetrics) RecordTutorialViewed() {}
func (noopMetrics) RecordVideoAttached(model.VideoKind) {}
func (noopMetrics) RecordSearch(int) {}
