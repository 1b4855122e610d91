package importer

import "time"

// FetchResult はHTTPステータスコードに基づく取得結果の分類。
type FetchResult int

const (
	// FetchResultOK は取得成功（200）。
	FetchResultOK FetchResult = iota
	// FetchResultNotModified はコンテンツ未変更（304）。
	FetchResultNotModified
	// FetchResultStop は取り込みを停止すべきステータス（404/410/401/403）。
	FetchResultStop
	// FetchResultBackoff は次回以降に間隔を空けるべきステータス（429/5xx）。
	FetchResultBackoff
	// FetchResultUnknown は未知のステータスコード。
	FetchResultUnknown
)

const (
	// initialBackoff は指数バックオフの初回遅延。
	initialBackoff = 30 * time.Minute
	// maxBackoff は指数バックオフの最大遅延。
	maxBackoff = 12 * time.Hour
)

// ClassifyHTTPStatus はHTTPステータスコードを取得結果に分類する。
func ClassifyHTTPStatus(statusCode int) FetchResult {
	switch {
	case statusCode == 200:
		return FetchResultOK
	case statusCode == 304:
		return FetchResultNotModified
	case statusCode == 404 || statusCode == 410:
		return FetchResultStop
	case statusCode == 401 || statusCode == 403:
		return FetchResultStop
	case statusCode == 429:
		return FetchResultBackoff
	case statusCode >= 500:
		return FetchResultBackoff
	default:
		return FetchResultUnknown
	}
}

// CalculateBackoff は連続エラー回数に基づいて指数バックオフ遅延を計算する。
// 初回30分、2倍ずつ増加、最大12時間。
func CalculateBackoff(consecutiveErrors int) time.Duration {
	delay := initialBackoff
	for i := 0; i < consecutiveErrors; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// sourceState は取り込み元ごとの取得状態。プロセス内でのみ保持する。
type sourceState struct {
	// feedURL はHTMLページから検出したフィードURL。空の場合は元URLを直接取得する。
	feedURL           string
	etag              string
	lastModified      string
	consecutiveErrors int
	nextAttemptAt     time.Time
	stopped           bool
	stopReason        string
}

// due は取得を試みてよいかを返す。
func (s *sourceState) due(now time.Time) bool {
	return !s.stopped && !now.Before(s.nextAttemptAt)
}

// applySuccess は取得成功時にエラー状態をリセットする。
func (s *sourceState) applySuccess() {
	s.consecutiveErrors = 0
	s.nextAttemptAt = time.Time{}
}

// applyBackoff は連続エラー回数を増やし、次回取得可能時刻を遅らせる。
func (s *sourceState) applyBackoff(now time.Time) {
	s.nextAttemptAt = now.Add(CalculateBackoff(s.consecutiveErrors))
	s.consecutiveErrors++
}

// applyStop はプロセス終了まで取り込みを停止する。
func (s *sourceState) applyStop(reason string) {
	s.stopped = true
	s.stopReason = reason
}
