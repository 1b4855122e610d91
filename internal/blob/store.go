// Package blob はアップロード動画のバイナリ保存先を提供する。
// ローカルディスクとGoogle Cloud Storageの2種類のバックエンドを持つ。
package blob

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"
)

// validateKey はキーが単一のファイル名であることを検証する。
// キーはサービス層が生成するが、パス区切りを含むものは拒否する。
func validateKey(key string) error {
	if key == "" || key == "." || key == ".." ||
		strings.ContainsAny(key, `/\`) || strings.ContainsRune(key, 0) {
		return fmt.Errorf("invalid blob key: %q", key)
	}
	return nil
}

// contentTypeForKey は拡張子からContent-Typeを推定する。不明な場合は空文字を返す。
func contentTypeForKey(key string) string {
	return mime.TypeByExtension(strings.ToLower(filepath.Ext(key)))
}
