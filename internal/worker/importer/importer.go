package importer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/emututor/internal/model"
	"github.com/hitoshi/emututor/internal/video"
)

const userAgent = "emututor-importer/1.0"

// 取り込み結果のラベル値（metrics.ImportResult*と対応）
const (
	resultSubmitted = "submitted"
	resultDuplicate = "duplicate"
	resultSkipped   = "skipped"
	resultFailed    = "failed"
)

// ErrSourceStopped は停止済みの取り込み元に対して取得を試みた場合に返る。
var ErrSourceStopped = errors.New("import source is stopped")

// Submitter は取り込んだ動画をモデレーション待ちの投稿として登録する。
type Submitter interface {
	Submit(ctx context.Context, in model.TutorialSubmissionInput) (*model.Tutorial, error)
}

// VideoIndex は登録済み動画IDの存在確認を行う。
type VideoIndex interface {
	ExistsByPlatformVideoID(ctx context.Context, videoID string) (bool, error)
}

// URLGuard は取り込み元URLのSSRF検証と安全なHTTPクライアントの生成を行う。
type URLGuard interface {
	CheckURL(rawURL string) error
	NewClient(timeout time.Duration, maxBodyBytes int64) *http.Client
}

// TextExtractor はフィードのHTML説明文をプレーンテキストに変換する。
type TextExtractor interface {
	PlainText(fragment string) string
}

// MetricsRecorder は取り込み処理のメトリクス記録先。
type MetricsRecorder interface {
	RecordImportEntry(result string)
	RecordImportFetch(d time.Duration, err error)
}

// Result は1回の取り込みの集計。
type Result struct {
	Entries    int
	Submitted  int
	Duplicates int
	Skipped    int
}

// Importer は取り込み元のフィードを取得し、未登録の動画を投稿として登録する。
// ETag/Last-Modifiedによる条件付きGETと、エラー時のバックオフ状態を取り込み元ごとに保持する。
type Importer struct {
	submitter Submitter
	index     VideoIndex
	guard     URLGuard
	text      TextExtractor
	metrics   MetricsRecorder
	logger    *slog.Logger
	client    *http.Client

	mu     sync.Mutex
	states map[string]*sourceState
	now    func() time.Time
}

// NewImporter はImporterを生成する。metricsがnilの場合は記録しない。
func NewImporter(
	submitter Submitter,
	index VideoIndex,
	guard URLGuard,
	text TextExtractor,
	metrics MetricsRecorder,
	logger *slog.Logger,
	timeout time.Duration,
	maxBodySize int64,
) *Importer {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Importer{
		submitter: submitter,
		index:     index,
		guard:     guard,
		text:      text,
		metrics:   metrics,
		logger:    logger,
		client:    guard.NewClient(timeout, maxBodySize),
		states:    make(map[string]*sourceState),
		now:       time.Now,
	}
}

// stateFor は取り込み元の状態を返す。存在しなければ作成する。
func (im *Importer) stateFor(src Source) *sourceState {
	im.mu.Lock()
	defer im.mu.Unlock()
	st, ok := im.states[src.URL]
	if !ok {
		st = &sourceState{}
		im.states[src.URL] = st
	}
	return st
}

// Due は取り込み元が取得対象かどうかを返す。
func (im *Importer) Due(src Source) bool {
	st := im.stateFor(src)
	im.mu.Lock()
	defer im.mu.Unlock()
	return st.due(im.now())
}

// Import は取り込み元を1回取得し、新しい動画を投稿として登録する。
// 304の場合は何もせずゼロ値の結果を返す。
func (im *Importer) Import(ctx context.Context, src Source) (Result, error) {
	st := im.stateFor(src)

	im.mu.Lock()
	if st.stopped {
		im.mu.Unlock()
		return Result{}, fmt.Errorf("%w: %s", ErrSourceStopped, st.stopReason)
	}
	target, discover := src.URL, true
	if st.feedURL == "" {
		// チャンネル・再生リストのURLはページを取得せずにフィードへ変換できる
		if feedURL, ok := YouTubeFeedURL(src.URL); ok {
			st.feedURL = feedURL
		}
	}
	if st.feedURL != "" {
		target, discover = st.feedURL, false
	}
	etag, lastModified := st.etag, st.lastModified
	im.mu.Unlock()

	if err := im.guard.CheckURL(target); err != nil {
		im.stop(st, fmt.Sprintf("SSRF検証失敗: %s", err.Error()))
		return Result{}, fmt.Errorf("source url rejected: %w", err)
	}

	start := time.Now()
	feed, notModified, err := im.fetchFeed(ctx, st, target, etag, lastModified, discover)
	im.metrics.RecordImportFetch(time.Since(start), err)
	if err != nil {
		return Result{}, err
	}
	if notModified {
		im.logger.Debug("取り込み元は更新されていません", slog.String("source", src.label()))
		return Result{}, nil
	}

	return im.importItems(ctx, src, feed), nil
}

// fetchFeed は条件付きGETでフィードを取得してパースする。
// HTMLが返った場合はDiscoverFeedsでフィードを検出して1回だけ追加取得する。
// discoverがfalseの場合はHTMLからの検出を行わない。
func (im *Importer) fetchFeed(ctx context.Context, st *sourceState, target, etag, lastModified string, discover bool) (*gofeed.Feed, bool, error) {
	resp, err := im.get(ctx, target, etag, lastModified)
	if err != nil {
		im.backoff(st)
		return nil, false, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	switch ClassifyHTTPStatus(resp.StatusCode) {
	case FetchResultOK:
	case FetchResultNotModified:
		im.succeed(st, "", "")
		return nil, true, nil
	case FetchResultStop:
		im.stop(st, fmt.Sprintf("HTTP %d", resp.StatusCode))
		return nil, false, fmt.Errorf("fetch %s: HTTP %d", target, resp.StatusCode)
	default:
		im.backoff(st)
		return nil, false, fmt.Errorf("fetch %s: HTTP %d", target, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		im.backoff(st)
		return nil, false, fmt.Errorf("read %s: %w", target, err)
	}

	contentType := resp.Header.Get("Content-Type")
	if discover && !isFeedResponse(contentType, body) && isHTMLPage(contentType) {
		best := SelectFeed(DiscoverFeeds(body, target))
		if best == nil {
			im.stop(st, "フィードが見つかりません")
			return nil, false, fmt.Errorf("no feed found at %s", target)
		}
		if err := im.guard.CheckURL(best.URL); err != nil {
			im.stop(st, fmt.Sprintf("SSRF検証失敗: %s", err.Error()))
			return nil, false, fmt.Errorf("discovered feed url rejected: %w", err)
		}
		im.logger.Info("フィードを検出しました",
			slog.String("page", target),
			slog.String("feed", best.URL),
			slog.Bool("youtube", best.YouTube),
		)
		im.mu.Lock()
		st.feedURL = best.URL
		im.mu.Unlock()
		return im.fetchFeed(ctx, st, best.URL, "", "", false)
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		im.backoff(st)
		return nil, false, fmt.Errorf("parse %s: %w", target, err)
	}

	im.succeed(st, resp.Header.Get("ETag"), resp.Header.Get("Last-Modified"))
	return feed, false, nil
}

func (im *Importer) get(ctx context.Context, target, etag, lastModified string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/atom+xml, application/rss+xml, application/xml;q=0.9, text/html;q=0.8")
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastModified != "" {
		req.Header.Set("If-Modified-Since", lastModified)
	}
	return im.client.Do(req)
}

// importItems はフィード内の各エントリを投稿として登録する。
// 同一バッチ内の重複と登録済みの動画IDはスキップする。
func (im *Importer) importItems(ctx context.Context, src Source, feed *gofeed.Feed) Result {
	res := Result{Entries: len(feed.Items)}
	seen := make(map[string]bool, len(feed.Items))

	for _, item := range feed.Items {
		videoID := itemVideoID(item)
		if videoID == "" {
			res.Skipped++
			im.metrics.RecordImportEntry(resultSkipped)
			continue
		}
		if seen[videoID] {
			res.Duplicates++
			im.metrics.RecordImportEntry(resultDuplicate)
			continue
		}
		seen[videoID] = true

		exists, err := im.index.ExistsByPlatformVideoID(ctx, videoID)
		if err != nil {
			im.logger.Error("動画IDの存在確認に失敗しました",
				slog.String("source", src.label()),
				slog.String("video_id", videoID),
				slog.String("error", err.Error()),
			)
			im.metrics.RecordImportEntry(resultFailed)
			continue
		}
		if exists {
			res.Duplicates++
			im.metrics.RecordImportEntry(resultDuplicate)
			continue
		}

		if _, err := im.submitter.Submit(ctx, im.buildSubmission(src, feed, item, videoID)); err != nil {
			var apiErr *model.APIError
			if errors.As(err, &apiErr) && apiErr.Category == "validation" {
				res.Skipped++
				im.metrics.RecordImportEntry(resultSkipped)
				im.logger.Warn("エントリを投稿にできませんでした",
					slog.String("source", src.label()),
					slog.String("video_id", videoID),
					slog.String("reason", apiErr.Message),
				)
				continue
			}
			im.logger.Error("投稿の登録に失敗しました",
				slog.String("source", src.label()),
				slog.String("video_id", videoID),
				slog.String("error", err.Error()),
			)
			im.metrics.RecordImportEntry(resultFailed)
			continue
		}
		res.Submitted++
		im.metrics.RecordImportEntry(resultSubmitted)
	}
	return res
}

// itemVideoID はエントリのリンク、またはyt:videoId拡張要素から動画IDを得る。
func itemVideoID(item *gofeed.Item) string {
	if id := video.ExtractYouTubeID(item.Link); id != "" {
		return id
	}
	for _, link := range item.Links {
		if id := video.ExtractYouTubeID(link); id != "" {
			return id
		}
	}
	return extensionValue(item, "yt", "videoId")
}

// itemDescription はmedia:group/media:descriptionを優先し、なければ説明文を返す。
// media:descriptionはプレーンテキスト、説明文はHTMLとして扱う。
func (im *Importer) itemDescription(item *gofeed.Item) string {
	if groups, ok := item.Extensions["media"]["group"]; ok {
		for _, g := range groups {
			if d, ok := g.Children["description"]; ok && len(d) > 0 && strings.TrimSpace(d[0].Value) != "" {
				return strings.TrimSpace(d[0].Value)
			}
		}
	}
	if s := im.text.PlainText(item.Description); s != "" {
		return s
	}
	return strings.TrimSpace(item.Title)
}

func extensionValue(item *gofeed.Item, ns, name string) string {
	if exts, ok := item.Extensions[ns][name]; ok && len(exts) > 0 {
		return strings.TrimSpace(exts[0].Value)
	}
	return ""
}

// buildSubmission はフィードのエントリから投稿入力を組み立てる。
// 本文には説明文をそのまま使い、マークアップで包まない。
func (im *Importer) buildSubmission(src Source, feed *gofeed.Feed, item *gofeed.Item, videoID string) model.TutorialSubmissionInput {
	description := im.itemDescription(item)

	author := src.Author
	if author == "" && item.Author != nil {
		author = item.Author.Name
	}
	if author == "" && len(item.Authors) > 0 && item.Authors[0] != nil {
		author = item.Authors[0].Name
	}
	if author == "" {
		author = feed.Title
	}

	tags := append([]string{}, src.Tags...)
	tags = append(tags, item.Categories...)

	return model.TutorialSubmissionInput{
		TutorialInput: model.TutorialInput{
			Title:       strings.TrimSpace(item.Title),
			Description: description,
			Content:     description,
			Console:     src.Console,
			Emulator:    src.Emulator,
			Category:    src.Category,
			Difficulty:  src.Difficulty,
			Tags:        tags,
			Author:      strings.TrimSpace(author),
		},
		YouTubeURLs: []string{"https://www.youtube.com/watch?v=" + videoID},
	}
}

func (im *Importer) succeed(st *sourceState, etag, lastModified string) {
	im.mu.Lock()
	defer im.mu.Unlock()
	st.applySuccess()
	if etag != "" {
		st.etag = etag
	}
	if lastModified != "" {
		st.lastModified = lastModified
	}
}

func (im *Importer) backoff(st *sourceState) {
	im.mu.Lock()
	defer im.mu.Unlock()
	st.applyBackoff(im.now())
}

func (im *Importer) stop(st *sourceState, reason string) {
	im.mu.Lock()
	defer im.mu.Unlock()
	st.applyStop(reason)
}

type noopMetrics struct{}

func (noopMetrics) RecordImportEntry(string)              {}
func (noopMetrics) RecordImportFetch(time.Duration, error) {}
