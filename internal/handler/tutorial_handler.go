package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/emututor/internal/model"
	"github.com/hitoshi/emututor/internal/tutorial"
)

const (
	// maxJSONBodyBytes はJSONリクエストボディの上限。
	maxJSONBodyBytes = 1 << 20
	// multipartMemoryBytes はマルチパート解析時にメモリに保持する上限。超過分は一時ファイルに退避される。
	multipartMemoryBytes = 32 << 20
	// DefaultUploadMaxBytes はアップロード上限が未指定の場合の既定値。
	DefaultUploadMaxBytes = 512 << 20
)

// TutorialServiceInterface はチュートリアルハンドラーが必要とするサービスインターフェース。
type TutorialServiceInterface interface {
	Create(ctx context.Context, in model.TutorialCreateInput) (*model.Tutorial, error)
	Submit(ctx context.Context, in model.TutorialSubmissionInput) (*model.Tutorial, error)
	Get(ctx context.Context, id string) (*model.Tutorial, error)
	List(ctx context.Context, filter model.TutorialFilter) ([]*model.Tutorial, error)
	Search(ctx context.Context, text string, limit int) ([]*model.Tutorial, error)
	AttachUpload(ctx context.Context, id string, in tutorial.UploadInput) (*model.Tutorial, error)
	Facets(ctx context.Context) (*model.Facets, error)
}

// TutorialHandler はチュートリアルAPIのHTTPハンドラー。
type TutorialHandler struct {
	service        TutorialServiceInterface
	uploadMaxBytes int64
}

// NewTutorialHandler はTutorialHandlerを生成する。
// uploadMaxBytesが0以下の場合はDefaultUploadMaxBytesを使う。
func NewTutorialHandler(service TutorialServiceInterface, uploadMaxBytes int64) *TutorialHandler {
	if uploadMaxBytes <= 0 {
		uploadMaxBytes = DefaultUploadMaxBytes
	}
	return &TutorialHandler{
		service:        service,
		uploadMaxBytes: uploadMaxBytes,
	}
}

// Info はAPIの案内メッセージを返す。
// GET /api/
func (h *TutorialHandler) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Emulation & Game Modding Tutorial API",
	})
}

// CreateTutorial は信頼済み入力からチュートリアルを作成する。
// POST /api/tutorials
func (h *TutorialHandler) CreateTutorial(w http.ResponseWriter, r *http.Request) {
	var req createTutorialRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	in, err := req.toCreateInput()
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	t, err := h.service.Create(r.Context(), in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toTutorialResponse(t))
}

// SubmitTutorial はモデレーション待ちの投稿を受け付ける。
// POST /api/tutorials/submit
func (h *TutorialHandler) SubmitTutorial(w http.ResponseWriter, r *http.Request) {
	var req submitTutorialRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	t, err := h.service.Submit(r.Context(), req.toSubmissionInput())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toTutorialResponse(t))
}

// ListTutorials はフィルタ条件に一致するチュートリアルを新しい順に返す。
// GET /api/tutorials?console=&emulator=&category=&difficulty=&approved_only=&limit=
func (h *TutorialHandler) ListTutorials(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := model.TutorialFilter{
		Console:      q.Get("console"),
		Emulator:     q.Get("emulator"),
		Category:     q.Get("category"),
		Difficulty:   q.Get("difficulty"),
		ApprovedOnly: true,
	}

	if v := q.Get("approved_only"); v != "" {
		approvedOnly, err := strconv.ParseBool(v)
		if err != nil {
			writeValidationError(w, "approved_only は true または false を指定してください")
			return
		}
		filter.ApprovedOnly = approvedOnly
	}

	limit, ok := parseLimit(w, q.Get("limit"))
	if !ok {
		return
	}
	filter.Limit = limit

	tutorials, err := h.service.List(r.Context(), filter)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toTutorialResponses(tutorials))
}

// GetTutorial はチュートリアルを取得し、閲覧数を1増やす。
// GET /api/tutorials/{id}
func (h *TutorialHandler) GetTutorial(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	t, err := h.service.Get(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toTutorialResponse(t))
}

// UploadVideo はアップロードされた動画を保存し、チュートリアルに添付する。
// POST /api/tutorials/{id}/video （multipart: file, attribution）
func (h *TutorialHandler) UploadVideo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if r.ContentLength > h.uploadMaxBytes {
		writeAPIErrorResponse(w, http.StatusRequestEntityTooLarge, model.NewUploadTooLargeError(h.uploadMaxBytes))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.uploadMaxBytes)
	if err := r.ParseMultipartForm(multipartMemoryBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeAPIErrorResponse(w, http.StatusRequestEntityTooLarge, model.NewUploadTooLargeError(maxErr.Limit))
			return
		}
		writeValidationError(w, "multipart/form-data として解析できません")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeValidationError(w, "file フィールドが必要です")
		return
	}
	defer file.Close()

	attribution, ok := r.MultipartForm.Value["attribution"]
	if !ok || len(attribution) == 0 {
		writeValidationError(w, "attribution フィールドが必要です")
		return
	}

	t, err := h.service.AttachUpload(r.Context(), id, tutorial.UploadInput{
		Filename:    header.Filename,
		Attribution: attribution[0],
		Body:        file,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	// 追加した動画ソースは常に末尾にある
	added := t.VideoSources[len(t.VideoSources)-1]
	writeJSON(w, http.StatusOK, uploadResponse{
		Message:     "Video uploaded successfully",
		VideoSource: toVideoSourceDTO(added),
	})
}

// GetMetadata はフィルタUI用の分類値一覧を返す。
// GET /api/metadata
func (h *TutorialHandler) GetMetadata(w http.ResponseWriter, r *http.Request) {
	facets, err := h.service.Facets(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toFacetsResponse(facets))
}

// SearchTutorials は承認済みチュートリアルを部分一致検索する。
// GET /api/search?q=&limit=
func (h *TutorialHandler) SearchTutorials(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, ok := parseLimit(w, q.Get("limit"))
	if !ok {
		return
	}

	tutorials, err := h.service.Search(r.Context(), q.Get("q"), limit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toTutorialResponses(tutorials))
}

// decodeJSONBody はJSONボディをデコードする。失敗した場合は400を書き込みfalseを返す。
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		writeValidationError(w, "リクエストボディの解析に失敗しました")
		return false
	}
	return true
}

// parseLimit はlimitクエリを解析する。未指定は0（サービス側の既定値）を返す。
// 数値でない、または1未満の場合は400を書き込みfalseを返す。
func parseLimit(w http.ResponseWriter, raw string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		writeValidationError(w, "limit は1以上の整数を指定してください")
		return 0, false
	}
	return limit, true
}
