package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalStore はローカルディスクのディレクトリに保存するブロブストア。
// ハンドルは保存先のファイルパス。
type LocalStore struct {
	dir string
}

// NewLocalStore はLocalStoreを生成する。ディレクトリがなければ作成する。
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create uploads dir %s: %w", dir, err)
	}
	return &LocalStore{dir: dir}, nil
}

// Write は一時ファイルに書き込んでからリネームする。
// 書き込み途中で失敗した場合、keyのファイルは作られない。
func (s *LocalStore) Write(ctx context.Context, key string, r io.Reader) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: r}); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write blob %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close blob %s: %w", key, err)
	}

	dest := filepath.Join(s.dir, key)
	if err := os.Rename(tmpName, dest); err != nil {
		return "", fmt.Errorf("failed to move blob %s: %w", key, err)
	}
	return dest, nil
}

// ctxReader はコンテキストのキャンセルで読み取りを打ち切る。
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
