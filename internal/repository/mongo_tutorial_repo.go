package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hitoshi/emututor/internal/model"
)

// MongoTutorialRepo はMongoDBを使用したチュートリアルリポジトリ。
// ドキュメントは独自のid（UUID）フィールドで識別し、_idは使用しない。
type MongoTutorialRepo struct {
	coll *mongo.Collection
}

var _ TutorialRepository = (*MongoTutorialRepo)(nil)

// NewMongoTutorialRepo はMongoTutorialRepoを生成する。
func NewMongoTutorialRepo(coll *mongo.Collection) *MongoTutorialRepo {
	return &MongoTutorialRepo{coll: coll}
}

// Create はチュートリアルを保存する。
func (r *MongoTutorialRepo) Create(ctx context.Context, tutorial *model.Tutorial) error {
	if _, err := r.coll.InsertOne(ctx, toDocument(tutorial)); err != nil {
		return wrapMongoError("チュートリアルの作成に失敗しました", err)
	}
	return nil
}

// FindByID は指定IDのチュートリアルを取得する。見つからない場合はnilを返す。
func (r *MongoTutorialRepo) FindByID(ctx context.Context, id string) (*model.Tutorial, error) {
	var doc tutorialDocument
	err := r.coll.FindOne(ctx, bson.M{"id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapMongoError("チュートリアルの取得に失敗しました", err)
	}
	return doc.toModel()
}

// GetAndIncrementViews はFindOneAndUpdateの$incで閲覧数を増やし、更新後のドキュメントを返す。
func (r *MongoTutorialRepo) GetAndIncrementViews(ctx context.Context, id string) (*model.Tutorial, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc tutorialDocument
	err := r.coll.FindOneAndUpdate(ctx, bson.M{"id": id}, viewIncrementUpdate(), opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapMongoError("チュートリアルの取得に失敗しました", err)
	}
	return doc.toModel()
}

// List はフィルタ条件に一致するチュートリアルをcreated_atの降順で返す。
func (r *MongoTutorialRepo) List(ctx context.Context, filter model.TutorialFilter) ([]*model.Tutorial, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cursor, err := r.coll.Find(ctx, buildListFilter(filter), opts)
	if err != nil {
		return nil, wrapMongoError("チュートリアル一覧の取得に失敗しました", err)
	}
	return decodeTutorials(ctx, cursor)
}

// Search は承認済みチュートリアルを自然順で部分一致検索する。
func (r *MongoTutorialRepo) Search(ctx context.Context, text string, limit int) ([]*model.Tutorial, error) {
	opts := options.Find()
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.coll.Find(ctx, buildSearchFilter(text), opts)
	if err != nil {
		return nil, wrapMongoError("チュートリアルの検索に失敗しました", err)
	}
	return decodeTutorials(ctx, cursor)
}

// AppendVideoSource は$pushで動画ソースを追加し、更新後のドキュメントを返す。
func (r *MongoTutorialRepo) AppendVideoSource(ctx context.Context, id string, source model.VideoSource, now time.Time) (*model.Tutorial, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc tutorialDocument
	err := r.coll.FindOneAndUpdate(ctx, bson.M{"id": id}, appendVideoUpdate(source, now), opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapMongoError("動画ソースの追加に失敗しました", err)
	}
	return doc.toModel()
}

// facetGroup はFacets集計パイプラインの結果。
type facetGroup struct {
	Count        int64    `bson:"count"`
	Consoles     []string `bson:"consoles"`
	Emulators    []string `bson:"emulators"`
	Categories   []string `bson:"categories"`
	Difficulties []string `bson:"difficulties"`
}

// Facets は$group/$addToSetで分類値を重複なしで集計する。
func (r *MongoTutorialRepo) Facets(ctx context.Context) (*model.Facets, error) {
	cursor, err := r.coll.Aggregate(ctx, facetsPipeline())
	if err != nil {
		return nil, wrapMongoError("分類値の集計に失敗しました", err)
	}
	defer cursor.Close(ctx)

	if !cursor.Next(ctx) {
		if err := cursor.Err(); err != nil {
			return nil, wrapMongoError("分類値の集計に失敗しました", err)
		}
		return nil, nil
	}

	var g facetGroup
	if err := cursor.Decode(&g); err != nil {
		return nil, fmt.Errorf("分類値の集計結果のデコードに失敗しました: %w", err)
	}
	if g.Count == 0 {
		return nil, nil
	}

	return &model.Facets{
		Consoles:     g.Consoles,
		Emulators:    g.Emulators,
		Categories:   g.Categories,
		Difficulties: g.Difficulties,
	}, nil
}

// ExistsByPlatformVideoID は動画IDを持つドキュメントの存在を返す。
func (r *MongoTutorialRepo) ExistsByPlatformVideoID(ctx context.Context, videoID string) (bool, error) {
	n, err := r.coll.CountDocuments(ctx, bson.M{"video_sources.video_id": videoID}, options.Count().SetLimit(1))
	if err != nil {
		return false, wrapMongoError("動画IDの存在確認に失敗しました", err)
	}
	return n > 0, nil
}

// Ping はMongoDBへの疎通を確認する。
func (r *MongoTutorialRepo) Ping(ctx context.Context) error {
	if err := r.coll.Database().Client().Ping(ctx, nil); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

func decodeTutorials(ctx context.Context, cursor *mongo.Cursor) ([]*model.Tutorial, error) {
	defer cursor.Close(ctx)

	tutorials := []*model.Tutorial{}
	for cursor.Next(ctx) {
		var doc tutorialDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("チュートリアルのデコードに失敗しました: %w", err)
		}
		t, err := doc.toModel()
		if err != nil {
			return nil, err
		}
		tutorials = append(tutorials, t)
	}
	if err := cursor.Err(); err != nil {
		return nil, wrapMongoError("カーソルの読み取りに失敗しました", err)
	}
	return tutorials, nil
}

// literalPattern はユーザー入力を大文字小文字を区別しないリテラル部分一致の正規表現にする。
func literalPattern(text string) primitive.Regex {
	return primitive.Regex{Pattern: regexp.QuoteMeta(text), Options: "i"}
}

// buildListFilter は一覧取得のクエリ条件を組み立てる。空の条件は含めない。
func buildListFilter(filter model.TutorialFilter) bson.D {
	q := bson.D{}
	for _, f := range []struct {
		field, value string
	}{
		{"console", filter.Console},
		{"emulator", filter.Emulator},
		{"category", filter.Category},
		{"difficulty", filter.Difficulty},
	} {
		if f.value != "" {
			q = append(q, bson.E{Key: f.field, Value: literalPattern(f.value)})
		}
	}
	if filter.ApprovedOnly {
		q = append(q, bson.E{Key: "is_approved", Value: true})
	}
	return q
}

// searchFields は検索対象のフィールド。tagsは配列要素のいずれかに一致すればよい。
var searchFields = []string{"title", "description", "content", "tags", "console", "emulator"}

// buildSearchFilter は検索のクエリ条件を組み立てる。
func buildSearchFilter(text string) bson.D {
	pattern := literalPattern(text)
	or := bson.A{}
	for _, f := range searchFields {
		or = append(or, bson.D{{Key: f, Value: pattern}})
	}
	return bson.D{
		{Key: "is_approved", Value: true},
		{Key: "$or", Value: or},
	}
}

func viewIncrementUpdate() bson.D {
	return bson.D{{Key: "$inc", Value: bson.D{{Key: "views", Value: int64(1)}}}}
}

func appendVideoUpdate(source model.VideoSource, now time.Time) bson.D {
	return bson.D{
		{Key: "$push", Value: bson.D{{Key: "video_sources", Value: toVideoSourceDocument(source)}}},
		{Key: "$set", Value: bson.D{{Key: "updated_at", Value: now}}},
	}
}

func facetsPipeline() mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "consoles", Value: bson.D{{Key: "$addToSet", Value: "$console"}}},
			{Key: "emulators", Value: bson.D{{Key: "$addToSet", Value: "$emulator"}}},
			{Key: "categories", Value: bson.D{{Key: "$addToSet", Value: "$category"}}},
			{Key: "difficulties", Value: bson.D{{Key: "$addToSet", Value: "$difficulty"}}},
		}}},
	}
}

// wrapMongoError は接続系のエラーをErrStoreUnavailableでラップする。
func wrapMongoError(msg string, err error) error {
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) ||
		errors.Is(err, mongo.ErrClientDisconnected) ||
		errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", msg, ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
