// Package importer はチャンネルフィードから動画を取り込み、
// モデレーション待ちのチュートリアル投稿として登録するバックグラウンド処理を提供する。
package importer

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Source は取り込み元の1件の定義。
// 分類フィールドとタグは、このソースから取り込んだ全投稿の既定値になる。
type Source struct {
	Name       string   `yaml:"name"`
	URL        string   `yaml:"url"`
	Console    string   `yaml:"console"`
	Emulator   string   `yaml:"emulator"`
	Category   string   `yaml:"category"`
	Difficulty string   `yaml:"difficulty"`
	Author     string   `yaml:"author"`
	Tags       []string `yaml:"tags"`
}

// label はログ出力用のソース名を返す。
func (s Source) label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.URL
}

type sourcesFile struct {
	Sources []Source `yaml:"sources"`
}

// LoadSources はYAMLファイルから取り込み元の一覧を読み込む。
func LoadSources(path string) ([]Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read import sources %s: %w", path, err)
	}
	return ParseSources(data)
}

// ParseSources はYAMLから取り込み元の一覧を解析し、検証する。
// URLはhttp/httpsの絶対URLでなければならず、重複は許可しない。
func ParseSources(data []byte) ([]Source, error) {
	var f sourcesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse import sources: %w", err)
	}

	seen := make(map[string]bool, len(f.Sources))
	for i := range f.Sources {
		s := &f.Sources[i]
		s.URL = strings.TrimSpace(s.URL)
		if s.URL == "" {
			return nil, fmt.Errorf("import source #%d: url is required", i+1)
		}
		u, err := url.Parse(s.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("import source #%d: invalid url %q", i+1, s.URL)
		}
		if seen[s.URL] {
			return nil, fmt.Errorf("import source #%d: duplicate url %q", i+1, s.URL)
		}
		seen[s.URL] = true
	}
	return f.Sources, nil
}
