package blob

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// gcsWriteTimeout は1オブジェクトの書き込みにかける上限時間。
const gcsWriteTimeout = 10 * time.Minute

// GCSStore はGoogle Cloud Storageのバケットに保存するブロブストア。
// ハンドルはpublicBaseURLが設定されていれば公開URL、なければgs://形式。
type GCSStore struct {
	client        *storage.Client
	bucket        string
	publicBaseURL string
	newWriter     func(ctx context.Context, key, contentType string) io.WriteCloser
}

// NewGCSClient はGCSクライアントを生成する。認証はApplication Default Credentialsに従う。
func NewGCSClient(ctx context.Context, opts ...option.ClientOption) (*storage.Client, error) {
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return client, nil
}

// NewGCSStore はGCSStoreを生成する。
func NewGCSStore(client *storage.Client, bucket, publicBaseURL string) *GCSStore {
	s := &GCSStore{
		client:        client,
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(strings.TrimSpace(publicBaseURL), "/"),
	}
	s.newWriter = s.objectWriter
	return s
}

func (s *GCSStore) objectWriter(ctx context.Context, key, contentType string) io.WriteCloser {
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	return w
}

// Write はオブジェクトを書き込む。Closeが成功した時点で書き込み完了となる。
// 読み込みに失敗した場合はアップロードを中断し、途中までのオブジェクトを残さない。
func (s *GCSStore) Write(ctx context.Context, key string, r io.Reader) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, gcsWriteTimeout)
	defer cancel()

	w := s.newWriter(ctx, key, contentTypeForKey(key))
	if _, err := io.Copy(w, r); err != nil {
		// Closeより先にコンテキストを取り消すとオブジェクトは確定されない
		cancel()
		_ = w.Close()
		return "", fmt.Errorf("failed to upload gs://%s/%s: %w", s.bucket, key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize gs://%s/%s: %w", s.bucket, key, err)
	}
	return s.handle(key), nil
}

func (s *GCSStore) handle(key string) string {
	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + key
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, key)
}
