package importer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// SourceImporter は取り込み元1件の取り込みを実行する。
type SourceImporter interface {
	Due(src Source) bool
	Import(ctx context.Context, src Source) (Result, error)
}

// Scheduler は取り込みサイクルのスケジューリングと並列制御を行う。
// 取り込み元へのリクエストはrate.Limiterで全体のレートを制限する。
type Scheduler struct {
	sources        []Source
	importer       SourceImporter
	limiter        *rate.Limiter
	logger         *slog.Logger
	maxConcurrency int
}

// NewScheduler はSchedulerを生成する。
// maxConcurrencyが0以下の場合は4、limiterがnilの場合は無制限とする。
func NewScheduler(
	sources []Source,
	importer SourceImporter,
	limiter *rate.Limiter,
	logger *slog.Logger,
	maxConcurrency int,
) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	return &Scheduler{
		sources:        sources,
		importer:       importer,
		limiter:        limiter,
		logger:         logger,
		maxConcurrency: maxConcurrency,
	}
}

// Start は指定間隔のティッカーで取り込みを繰り返す。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("取り込みスケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("source_count", len(s.sources)),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	// 起動直後に1回実行
	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("取り込みスケジューラを停止しました")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce は取得対象の取り込み元を並列で1回ずつ取り込み、合計を返す。
func (s *Scheduler) RunOnce(ctx context.Context) Result {
	start := time.Now()

	var due []Source
	for _, src := range s.sources {
		if s.importer.Due(src) {
			due = append(due, src)
		}
	}
	if len(due) == 0 {
		s.logger.Info("取り込み対象のソースはありません")
		return Result{}
	}

	var (
		mu    sync.Mutex
		total Result
		wg    sync.WaitGroup
	)
	sem := make(chan struct{}, s.maxConcurrency)

	for _, src := range due {
		if err := s.limiter.Wait(ctx); err != nil {
			// コンテキストのキャンセル
			break
		}
		wg.Add(1)
		sem <- struct{}{}

		go func(src Source) {
			defer wg.Done()
			defer func() { <-sem }()

			res, err := s.importer.Import(ctx, src)
			if err != nil {
				s.logger.Error("取り込みに失敗しました",
					slog.String("source", src.label()),
					slog.String("error", err.Error()),
				)
				return
			}

			mu.Lock()
			total.Entries += res.Entries
			total.Submitted += res.Submitted
			total.Duplicates += res.Duplicates
			total.Skipped += res.Skipped
			mu.Unlock()
		}(src)
	}

	wg.Wait()

	s.logger.Info("取り込みサイクルが完了しました",
		slog.Int("source_count", len(due)),
		slog.Int("submitted", total.Submitted),
		slog.Int("duplicates", total.Duplicates),
		slog.Int("skipped", total.Skipped),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return total
}
