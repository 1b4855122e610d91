package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/emututor/internal/model"
)

// PostgresTutorialRepo はPostgreSQLのJSONBカラムを使用したチュートリアルリポジトリ。
// ドキュメント全体をdocカラムに保存し、id・created_atのみ通常カラムに持つ。
type PostgresTutorialRepo struct {
	db *sql.DB
}

var _ TutorialRepository = (*PostgresTutorialRepo)(nil)

// NewPostgresTutorialRepo はPostgresTutorialRepoを生成する。
func NewPostgresTutorialRepo(db *sql.DB) *PostgresTutorialRepo {
	return &PostgresTutorialRepo{db: db}
}

// Create はチュートリアルを保存する。
func (r *PostgresTutorialRepo) Create(ctx context.Context, tutorial *model.Tutorial) error {
	doc, err := json.Marshal(toDocument(tutorial))
	if err != nil {
		return fmt.Errorf("チュートリアルのエンコードに失敗しました: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO tutorials (id, created_at, doc) VALUES ($1, $2, $3)`,
		tutorial.ID, tutorial.CreatedAt, doc,
	)
	if err != nil {
		return wrapPostgresError("チュートリアルの作成に失敗しました", err)
	}
	return nil
}

// FindByID は指定IDのチュートリアルを取得する。見つからない場合はnilを返す。
func (r *PostgresTutorialRepo) FindByID(ctx context.Context, id string) (*model.Tutorial, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx, `SELECT doc FROM tutorials WHERE id = $1`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapPostgresError("チュートリアルの取得に失敗しました", err)
	}
	return decodeDocument(raw)
}

// GetAndIncrementViews はUPDATE ... RETURNINGで閲覧数の増加と取得を1文で行う。
func (r *PostgresTutorialRepo) GetAndIncrementViews(ctx context.Context, id string) (*model.Tutorial, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx,
		`UPDATE tutorials
		 SET doc = jsonb_set(doc, '{views}', to_jsonb(COALESCE((doc->>'views')::bigint, 0) + 1))
		 WHERE id = $1
		 RETURNING doc`,
		id,
	).Scan(&raw)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapPostgresError("チュートリアルの取得に失敗しました", err)
	}
	return decodeDocument(raw)
}

// List はフィルタ条件に一致するチュートリアルをcreated_atの降順で返す。
func (r *PostgresTutorialRepo) List(ctx context.Context, filter model.TutorialFilter) ([]*model.Tutorial, error) {
	query, args := buildListQuery(filter)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapPostgresError("チュートリアル一覧の取得に失敗しました", err)
	}
	return scanDocuments(rows)
}

// Search は承認済みチュートリアルを部分一致検索する。ORDER BYは付けない。
func (r *PostgresTutorialRepo) Search(ctx context.Context, text string, limit int) ([]*model.Tutorial, error) {
	query, args := buildSearchQuery(text, limit)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapPostgresError("チュートリアルの検索に失敗しました", err)
	}
	return scanDocuments(rows)
}

// AppendVideoSource は動画ソース配列の末尾に追加し、updated_atを更新する。
// video_sourcesが配列でない旧ドキュメントは空配列として扱う。
func (r *PostgresTutorialRepo) AppendVideoSource(ctx context.Context, id string, source model.VideoSource, now time.Time) (*model.Tutorial, error) {
	sourceJSON, err := json.Marshal(toVideoSourceDocument(source))
	if err != nil {
		return nil, fmt.Errorf("動画ソースのエンコードに失敗しました: %w", err)
	}
	nowJSON, err := json.Marshal(now)
	if err != nil {
		return nil, fmt.Errorf("更新日時のエンコードに失敗しました: %w", err)
	}

	var raw []byte
	err = r.db.QueryRowContext(ctx,
		`UPDATE tutorials
		 SET doc = jsonb_set(
		     jsonb_set(doc, '{video_sources}',
		         (CASE WHEN jsonb_typeof(doc->'video_sources') = 'array'
		               THEN doc->'video_sources' ELSE '[]'::jsonb END)
		         || jsonb_build_array($2::jsonb)),
		     '{updated_at}', $3::jsonb)
		 WHERE id = $1
		 RETURNING doc`,
		id, sourceJSON, nowJSON,
	).Scan(&raw)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapPostgresError("動画ソースの追加に失敗しました", err)
	}
	return decodeDocument(raw)
}

// Facets はarray_agg(DISTINCT ...)で分類値を集計する。
func (r *PostgresTutorialRepo) Facets(ctx context.Context) (*model.Facets, error) {
	var count int64
	var consoles, emulators, categories, difficulties []string

	err := r.db.QueryRowContext(ctx,
		`SELECT count(*),
		        array_agg(DISTINCT doc->>'console') FILTER (WHERE doc->>'console' IS NOT NULL),
		        array_agg(DISTINCT doc->>'emulator') FILTER (WHERE doc->>'emulator' IS NOT NULL),
		        array_agg(DISTINCT doc->>'category') FILTER (WHERE doc->>'category' IS NOT NULL),
		        array_agg(DISTINCT doc->>'difficulty') FILTER (WHERE doc->>'difficulty' IS NOT NULL)
		 FROM tutorials`,
	).Scan(&count, pq.Array(&consoles), pq.Array(&emulators), pq.Array(&categories), pq.Array(&difficulties))
	if err != nil {
		return nil, wrapPostgresError("分類値の集計に失敗しました", err)
	}
	if count == 0 {
		return nil, nil
	}

	return &model.Facets{
		Consoles:     consoles,
		Emulators:    emulators,
		Categories:   categories,
		Difficulties: difficulties,
	}, nil
}

// ExistsByPlatformVideoID はJSONB包含演算子で動画IDの存在を確認する。
func (r *PostgresTutorialRepo) ExistsByPlatformVideoID(ctx context.Context, videoID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
		     SELECT 1 FROM tutorials
		     WHERE doc->'video_sources' @> jsonb_build_array(jsonb_build_object('video_id', $1::text))
		 )`,
		videoID,
	).Scan(&exists)
	if err != nil {
		return false, wrapPostgresError("動画IDの存在確認に失敗しました", err)
	}
	return exists, nil
}

// Ping はPostgreSQLへの疎通を確認する。
func (r *PostgresTutorialRepo) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// buildListQuery は一覧取得のSQLと引数を組み立てる。
func buildListQuery(filter model.TutorialFilter) (string, []any) {
	var conds []string
	var args []any

	for _, f := range []struct {
		field, value string
	}{
		{"console", filter.Console},
		{"emulator", filter.Emulator},
		{"category", filter.Category},
		{"difficulty", filter.Difficulty},
	} {
		if f.value == "" {
			continue
		}
		args = append(args, likePattern(f.value))
		conds = append(conds, fmt.Sprintf(`doc->>'%s' ILIKE $%d ESCAPE '\'`, f.field, len(args)))
	}
	if filter.ApprovedOnly {
		conds = append(conds, `(doc->>'is_approved')::boolean`)
	}

	var b strings.Builder
	b.WriteString(`SELECT doc FROM tutorials`)
	if len(conds) > 0 {
		b.WriteString(` WHERE `)
		b.WriteString(strings.Join(conds, ` AND `))
	}
	b.WriteString(` ORDER BY created_at DESC`)
	if filter.Limit > 0 {
		b.WriteString(` LIMIT `)
		b.WriteString(strconv.Itoa(filter.Limit))
	}
	return b.String(), args
}

// buildSearchQuery は検索のSQLと引数を組み立てる。
func buildSearchQuery(text string, limit int) (string, []any) {
	var b strings.Builder
	b.WriteString(`SELECT doc FROM tutorials
		 WHERE (doc->>'is_approved')::boolean
		   AND (doc->>'title' ILIKE $1 ESCAPE '\'
		     OR doc->>'description' ILIKE $1 ESCAPE '\'
		     OR doc->>'content' ILIKE $1 ESCAPE '\'
		     OR doc->>'console' ILIKE $1 ESCAPE '\'
		     OR doc->>'emulator' ILIKE $1 ESCAPE '\'
		     OR EXISTS (
		         SELECT 1 FROM jsonb_array_elements_text(
		             CASE WHEN jsonb_typeof(doc->'tags') = 'array' THEN doc->'tags' ELSE '[]'::jsonb END
		         ) AS tag
		         WHERE tag ILIKE $1 ESCAPE '\'))`)
	if limit > 0 {
		b.WriteString(` LIMIT `)
		b.WriteString(strconv.Itoa(limit))
	}
	return b.String(), []any{likePattern(text)}
}

// likeEscaper はILIKEのワイルドカードとエスケープ文字をリテラル化する。
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern はユーザー入力をリテラル部分一致のILIKEパターンにする。
func likePattern(text string) string {
	return "%" + likeEscaper.Replace(text) + "%"
}

func scanDocuments(rows *sql.Rows) ([]*model.Tutorial, error) {
	defer rows.Close()

	tutorials := []*model.Tutorial{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("チュートリアルの読み取りに失敗しました: %w", err)
		}
		t, err := decodeDocument(raw)
		if err != nil {
			return nil, err
		}
		tutorials = append(tutorials, t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapPostgresError("チュートリアルの読み取りに失敗しました", err)
	}
	return tutorials, nil
}

func decodeDocument(raw []byte) (*model.Tutorial, error) {
	var doc tutorialDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("チュートリアルのデコードに失敗しました: %w", err)
	}
	return doc.toModel()
}

// wrapPostgresError は接続系のエラーをErrStoreUnavailableでラップする。
// SQLSTATEクラス08（connection exception）と57P03（cannot_connect_now）も対象とする。
func wrapPostgresError(msg string, err error) error {
	if isPostgresUnavailable(err) {
		return fmt.Errorf("%s: %w: %w", msg, ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func isPostgresUnavailable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Class() == "08" || pqErr.Code == "57P03"
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
