package video

import "github.com/hitoshi/emututor/internal/model"

// AttributionTypeUserUploaded はアップロード動画のアトリビューション種別。
const AttributionTypeUserUploaded = "user_uploaded"

// NewHostedSource はブロブストアに保存した動画のVideoSourceを生成する。
// URL解析は行わず、ブロブストアが返したハンドルをそのまま保持する。
func NewHostedSource(fileHandle, attributionText, originalFilename string) model.VideoSource {
	return model.VideoSource{
		Kind:       model.VideoKindHosted,
		FileHandle: fileHandle,
		Attribution: map[string]any{
			"type":              AttributionTypeUserUploaded,
			"attribution_text":  attributionText,
			"original_filename": originalFilename,
		},
	}
}
