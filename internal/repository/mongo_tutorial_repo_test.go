package repository

import (
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/hitoshi/emututor/internal/model"
)

func TestNewMongoTutorialRepo_Initializes(t *testing.T) {
	if NewMongoTutorialRepo(nil) == nil {
		t.Fatal("expected non-nil repo")
	}
}

func TestBuildListFilter_Empty(t *testing.T) {
	q := buildListFilter(model.TutorialFilter{})
	if len(q) != 0 {
		t.Errorf("expected empty filter, got %v", q)
	}
}

func TestBuildListFilter_EscapesAndAddsApproval(t *testing.T) {
	q := buildListFilter(model.TutorialFilter{Console: "N64 (US)", Emulator: "Project64", ApprovedOnly: true})

	m := q.Map()
	console, ok := m["console"].(primitive.Regex)
	if !ok {
		t.Fatalf("console filter is %T, want primitive.Regex", m["console"])
	}
	if console.Pattern != `N64 \(US\)` || console.Options != "i" {
		t.Errorf("console regex = %+v", console)
	}
	if _, ok := m["emulator"]; !ok {
		t.Error("emulator filter missing")
	}
	if _, ok := m["category"]; ok {
		t.Error("empty category should not be filtered")
	}
	if m["is_approved"] != true {
		t.Errorf("is_approved = %v, want true", m["is_approved"])
	}
}

func TestBuildSearchFilter(t *testing.T) {
	q := buildSearchFilter("c++")
	m := q.Map()

	if m["is_approved"] != true {
		t.Errorf("search must be restricted to approved tutorials: %v", m)
	}
	or, ok := m["$or"].(bson.A)
	if !ok || len(or) != len(searchFields) {
		t.Fatalf("$or = %v", m["$or"])
	}
	first := or[0].(bson.D)[0].Value.(primitive.Regex)
	if first.Pattern != `c\+\+` {
		t.Errorf("pattern = %q, want escaped", first.Pattern)
	}
}

func TestViewIncrementUpdate(t *testing.T) {
	u := viewIncrementUpdate()
	inc := u.Map()["$inc"].(bson.D).Map()
	if inc["views"] != int64(1) {
		t.Errorf("$inc views = %v", inc["views"])
	}
}

func TestAppendVideoUpdate_SetsUpdatedAt(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	u := appendVideoUpdate(model.VideoSource{Kind: model.VideoKindHosted, FileHandle: "f"}, now).Map()

	push := u["$push"].(bson.D).Map()
	src, ok := push["video_sources"].(videoSourceDocument)
	if !ok || src.Type != "hosted" || src.FilePath != "f" {
		t.Errorf("$push video_sources = %+v", push["video_sources"])
	}
	set := u["$set"].(bson.D).Map()
	if set["updated_at"] != now {
		t.Errorf("$set updated_at = %v", set["updated_at"])
	}
}

func TestWrapMongoError_PlainErrorIsNotUnavailable(t *testing.T) {
	err := wrapMongoError("failed", errors.New("duplicate key"))
	if errors.Is(err, ErrStoreUnavailable) {
		t.Error("non-network error should not be classified as unavailable")
	}
}
