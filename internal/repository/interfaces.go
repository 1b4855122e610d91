// Package repository はチュートリアルの永続化インターフェースと各バックエンド実装を提供する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/emututor/internal/model"
)

// ErrStoreUnavailable はデータストアへの接続自体ができない場合に返される。
// 各実装はドライバーの接続系エラーをこのエラーでラップする。
var ErrStoreUnavailable = errors.New("tutorial store unavailable")

// TutorialRepository はチュートリアルの永続化インターフェース。
type TutorialRepository interface {
	// Create はチュートリアルを保存する。
	Create(ctx context.Context, tutorial *model.Tutorial) error

	// FindByID は指定IDのチュートリアルを閲覧数を変えずに取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Tutorial, error)

	// GetAndIncrementViews は閲覧数を1増やし、増加後のチュートリアルを返す。
	// 読み取りと増加は単一のアトミックなストア操作で行う。
	// 見つからない場合はnilを返す。
	GetAndIncrementViews(ctx context.Context, id string) (*model.Tutorial, error)

	// List はフィルタ条件に一致するチュートリアルをcreated_atの降順で返す。
	// 分類フィールドは大文字小文字を区別しない部分一致で比較する。
	List(ctx context.Context, filter model.TutorialFilter) ([]*model.Tutorial, error)

	// Search は承認済みチュートリアルのうち、タイトル・説明・本文・タグ・
	// コンソール・エミュレータのいずれかにtextを含むものを返す。
	Search(ctx context.Context, text string, limit int) ([]*model.Tutorial, error)

	// AppendVideoSource は動画ソースを末尾に追加し、updated_atをnowに更新する。
	// 見つからない場合はnilを返す。
	AppendVideoSource(ctx context.Context, id string, source model.VideoSource, now time.Time) (*model.Tutorial, error)

	// Facets は全チュートリアル（承認状態を問わない）の分類値を重複なしで返す。
	// チュートリアルが1件もない場合はnilを返す。
	Facets(ctx context.Context) (*model.Facets, error)

	// ExistsByPlatformVideoID は指定のプラットフォーム動画IDを持つ
	// 動画ソースがいずれかのチュートリアルに存在するかを返す。
	ExistsByPlatformVideoID(ctx context.Context, videoID string) (bool, error)

	// Ping はデータストアへの疎通を確認する。
	Ping(ctx context.Context) error
}
