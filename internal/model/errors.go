package model

import (
	"fmt"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, tutorial, system
	Action   string // ユーザー向け対処方法

	cause error
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因となったエラーを返す。
func (e *APIError) Unwrap() error {
	return e.cause
}

// 定義済みエラーコード
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeTutorialNotFound = "TUTORIAL_NOT_FOUND"
	ErrCodeStoreUnavailable = "STORE_UNAVAILABLE"
	ErrCodeStoreError       = "STORE_ERROR"
	ErrCodeBlobWriteError   = "BLOB_WRITE_ERROR"
	ErrCodeUploadTooLarge   = "UPLOAD_TOO_LARGE"
)

// NewValidationError は入力不備エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力内容が不正です: %s", reason),
		Category: "validation",
		Action:   "リクエスト内容を確認して再度送信してください。",
	}
}

// NewMissingFieldsError は必須フィールド未入力のバリデーションエラーを生成する。
func NewMissingFieldsError(fields []string) *APIError {
	return NewValidationError("必須フィールドが未入力です: " + strings.Join(fields, ", "))
}

// NewTutorialNotFoundError はチュートリアル未検出エラーを生成する。
func NewTutorialNotFoundError(tutorialID string) *APIError {
	return &APIError{
		Code:     ErrCodeTutorialNotFound,
		Message:  fmt.Sprintf("指定されたチュートリアルが見つかりません: %s", tutorialID),
		Category: "tutorial",
		Action:   "チュートリアルIDを確認してください。",
	}
}

// NewStoreUnavailableError はデータストアへの接続不能エラーを生成する。
func NewStoreUnavailableError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeStoreUnavailable,
		Message:  "データストアに接続できません。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		cause:    cause,
	}
}

// NewStoreError はデータストア操作の失敗エラーを生成する。
func NewStoreError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeStoreError,
		Message:  "データストアの操作に失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		cause:    cause,
	}
}

// NewBlobWriteError は動画ファイルの書き込み失敗エラーを生成する。
func NewBlobWriteError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeBlobWriteError,
		Message:  "動画ファイルの保存に失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度アップロードしてください。",
		cause:    cause,
	}
}

// NewUploadTooLargeError はアップロードサイズ超過エラーを生成する。
func NewUploadTooLargeError(limitBytes int64) *APIError {
	return &APIError{
		Code:     ErrCodeUploadTooLarge,
		Message:  fmt.Sprintf("アップロードできるファイルサイズは%dバイトまでです。", limitBytes),
		Category: "validation",
		Action:   "ファイルサイズを小さくして再度アップロードしてください。",
	}
}
