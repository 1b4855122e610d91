// Package video は動画参照URLの解析とアトリビューション情報の生成を提供する。
//
// 外部プラットフォームのURLからプラットフォーム固有の動画IDを抽出し、
// 埋め込みURLや視聴URLなどクライアントが表示に使う帰属情報を組み立てる。
// ネットワークアクセスは行わず、入力文字列のみから決定的に結果を返す。
package video

import (
	"regexp"

	"github.com/hitoshi/emututor/internal/model"
)

// PlatformYouTube はアトリビューションに記録するプラットフォーム名。
const PlatformYouTube = "YouTube"

// platformRule は1つの外部プラットフォームのURL解析ルールを表す。
// patternsは優先順に評価され、最初に一致したパターンの第1キャプチャをIDとする。
type platformRule struct {
	kind        model.VideoKind
	patterns    []*regexp.Regexp
	attribution func(videoID string) map[string]any
}

// rules は評価順の外部プラットフォームルール。
// 新しいプラットフォームはここに追加する。
var rules = []platformRule{
	{
		kind: model.VideoKindYouTube,
		patterns: []*regexp.Regexp{
			// 正規の視聴URL: youtube.com/watch?v=ID
			regexp.MustCompile(`youtube\.com/watch\?v=([^&\n?#]+)`),
			// 短縮URL: youtu.be/ID
			regexp.MustCompile(`youtu\.be/([^&\n?#]+)`),
			// 埋め込みURL: youtube.com/embed/ID
			regexp.MustCompile(`youtube\.com/embed/([^&\n?#]+)`),
			// 旧形式: youtube.com/v/ID
			regexp.MustCompile(`youtube\.com/v/([^&\n?#]+)`),
		},
		attribution: youTubeAttribution,
	},
}

// Resolve は生のURL文字列を解析してVideoSourceを返す。
// 既知のプラットフォームに一致した場合は動画IDとアトリビューションを設定し、
// 一致しない場合はVideoKindExternalとしてURLのみを保持する。
func Resolve(rawURL string) model.VideoSource {
	for _, rule := range rules {
		if id := rule.extract(rawURL); id != "" {
			return model.VideoSource{
				Kind:            rule.kind,
				URL:             rawURL,
				PlatformVideoID: id,
				Attribution:     rule.attribution(id),
			}
		}
	}

	return model.VideoSource{
		Kind: model.VideoKindExternal,
		URL:  rawURL,
	}
}

// ExtractYouTubeID はURLからYouTubeの動画IDを抽出する。
// 一致しない場合は空文字を返す。
func ExtractYouTubeID(rawURL string) string {
	src := Resolve(rawURL)
	if src.Kind != model.VideoKindYouTube {
		return ""
	}
	return src.PlatformVideoID
}

// extract はルールのパターンを優先順に評価し、最初に得られたIDを返す。
func (r platformRule) extract(rawURL string) string {
	for _, p := range r.patterns {
		if m := p.FindStringSubmatch(rawURL); len(m) > 1 && m[1] != "" {
			return m[1]
		}
	}
	return ""
}

// youTubeAttribution はYouTube動画のアトリビューション情報を生成する。
func youTubeAttribution(videoID string) map[string]any {
	return map[string]any{
		"platform":             PlatformYouTube,
		"video_id":             videoID,
		"embed_url":            "https://www.youtube.com/embed/" + videoID,
		"watch_url":            "https://www.youtube.com/watch?v=" + videoID,
		"attribution_required": true,
	}
}
