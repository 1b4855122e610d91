// Package security はアプリケーションのセキュリティ機能を提供する。
//
// FeedTextExtractor は取り込み元フィードのHTML説明文から表示用のプレーンテキストを
// 取り出す。チュートリアル本文はプレーンテキストとして表示されるため、
// フィード由来のマークアップは保存前に取り除く。
package security

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	lineBreak   = regexp.MustCompile(`(?i)<br\s*/?>\n?`)
	listItemEnd = regexp.MustCompile(`(?i)</li\s*>\n*`)
	blockEnd    = regexp.MustCompile(`(?i)</(p|div|h[1-6]|blockquote|pre)\s*>\n*`)
)

// blankRun は3行以上続く改行。
var blankRun = regexp.MustCompile(`\n{3,}`)

// FeedTextExtractor はフィードのHTML断片をプレーンテキストに変換する。
// bluemondayのポリシーはスレッドセーフに共有できる。
type FeedTextExtractor struct {
	policy *bluemonday.Policy
}

// NewFeedTextExtractor はFeedTextExtractorを生成する。
// 全てのタグを除去し、script・styleは中身ごと捨てる。
func NewFeedTextExtractor() *FeedTextExtractor {
	return &FeedTextExtractor{policy: bluemonday.StrictPolicy()}
}

// PlainText はHTML断片からタグを除いたテキストを返す。
// 段落と改行タグは改行に置き換え、文字参照は元の文字に戻す。
func (e *FeedTextExtractor) PlainText(fragment string) string {
	s := strings.ReplaceAll(fragment, "\r\n", "\n")
	s = lineBreak.ReplaceAllString(s, "\n")
	s = listItemEnd.ReplaceAllString(s, "\n")
	s = blockEnd.ReplaceAllString(s, "\n\n")
	s = e.policy.Sanitize(s)
	s = html.UnescapeString(s)

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	s = blankRun.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(s)
}
