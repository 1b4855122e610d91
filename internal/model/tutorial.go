// Package model はドメインモデルを定義する。
package model

import "time"

// VideoKind は動画ソースの種類を表す。
// 値はWebクライアントとの互換性のため既存のワイヤ表現をそのまま使う。
type VideoKind string

const (
	// VideoKindYouTube は外部プラットフォーム（YouTube）の動画。
	VideoKindYouTube VideoKind = "youtube"
	// VideoKindHosted はアップロードされブロブストアに保存された動画。
	VideoKindHosted VideoKind = "hosted"
	// VideoKindExternal は既知のプラットフォームに一致しない外部URL。
	VideoKindExternal VideoKind = "external"
)

// VideoSource はチュートリアルに添付された1件の動画参照を表す。
type VideoSource struct {
	Kind            VideoKind
	URL             string
	PlatformVideoID string
	FileHandle      string
	Attribution     map[string]any
}

// Tutorial はエミュレータ・コンソール設定に関するチュートリアル記事を表す。
type Tutorial struct {
	ID           string
	Title        string
	Description  string
	Content      string
	Console      string
	Emulator     string
	Category     string
	Difficulty   string
	VideoSources []VideoSource
	Tags         []string
	Author       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	IsApproved   bool
	Views        int64
}

// TutorialInput は直接作成・投稿の両経路に共通する入力フィールド。
type TutorialInput struct {
	Title       string
	Description string
	Content     string
	Console     string
	Emulator    string
	Category    string
	Difficulty  string
	Tags        []string
	Author      string
}

// TutorialCreateInput は直接作成（信頼済み入力）のリクエスト内容。
// 動画ソースはクライアントが組み立てた構造化済みのリストを受け取る。
type TutorialCreateInput struct {
	TutorialInput
	VideoSources []VideoSource
}

// TutorialSubmissionInput はモデレーション待ちの投稿リクエスト内容。
// 動画は生のYouTube URLのリストで受け取る。
type TutorialSubmissionInput struct {
	TutorialInput
	YouTubeURLs []string
}

// TutorialFilter は一覧取得時の絞り込み条件。
// 空文字のフィールドは条件に含めない。
type TutorialFilter struct {
	Console      string
	Emulator     string
	Category     string
	Difficulty   string
	ApprovedOnly bool
	Limit        int
}

// Facets はクライアントのフィルタUIに使う分類ごとの重複なし値の一覧。
type Facets struct {
	Consoles     []string
	Emulators    []string
	Categories   []string
	Difficulties []string
}
