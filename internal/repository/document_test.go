package repository

import (
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/emututor/internal/model"
)

func TestToDocument_SetsCurrentSchemaVersion(t *testing.T) {
	doc := toDocument(&model.Tutorial{ID: "t1"})

	if doc.SchemaVersion != currentSchemaVersion {
		t.Errorf("SchemaVersion = %d, want %d", doc.SchemaVersion, currentSchemaVersion)
	}
	if doc.Tags == nil || doc.VideoSources == nil {
		t.Error("nil slices should be stored as empty arrays")
	}
}

func TestDocument_RoundTripKeepsVideoSourceWireNames(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	in := &model.Tutorial{
		ID:    "t1",
		Title: "Dolphin setup",
		VideoSources: []model.VideoSource{
			{Kind: model.VideoKindYouTube, URL: "https://youtu.be/abc", PlatformVideoID: "abc", Attribution: map[string]any{"platform": "YouTube"}},
			{Kind: model.VideoKindHosted, FileHandle: "uploads/t1_x.mp4"},
		},
		Tags:      []string{"gamecube"},
		CreatedAt: now,
		UpdatedAt: now,
		Views:     3,
	}

	doc := toDocument(in)
	if doc.VideoSources[0].Type != "youtube" || doc.VideoSources[0].VideoID != "abc" {
		t.Errorf("unexpected youtube document: %+v", doc.VideoSources[0])
	}
	if doc.VideoSources[1].Type != "hosted" || doc.VideoSources[1].FilePath != "uploads/t1_x.mp4" {
		t.Errorf("unexpected hosted document: %+v", doc.VideoSources[1])
	}

	out, err := doc.toModel()
	if err != nil {
		t.Fatalf("toModel: %v", err)
	}
	if out.ID != in.ID || out.Views != 3 || !out.CreatedAt.Equal(now) {
		t.Errorf("round trip mismatch: %+v", out)
	}
	if out.VideoSources[0].PlatformVideoID != "abc" || out.VideoSources[1].FileHandle != "uploads/t1_x.mp4" {
		t.Errorf("video sources mismatch: %+v", out.VideoSources)
	}
}

func TestToModel_UpgradesLegacyDocument(t *testing.T) {
	legacy := &tutorialDocument{
		ID: "legacy",
		VideoSources: []videoSourceDocument{
			{
				Type:     "hosted",
				FilePath: "uploads/legacy_1.mp4",
				Attribution: map[string]any{
					"type":             "user_uploaded",
					"attribution_text": "me",
					"filename":         "old.mp4",
				},
			},
		},
	}

	out, err := legacy.toModel()
	if err != nil {
		t.Fatalf("toModel: %v", err)
	}

	attr := out.VideoSources[0].Attribution
	if attr["original_filename"] != "old.mp4" {
		t.Errorf("original_filename = %v, want old.mp4", attr["original_filename"])
	}
	if _, ok := attr["filename"]; ok {
		t.Error("legacy filename key should be removed")
	}
	if out.Tags == nil {
		t.Error("missing tags should become an empty slice")
	}
	if out.Views != 0 {
		t.Errorf("Views = %d, want 0", out.Views)
	}
}

func TestToModel_UpgradeDoesNotTouchNonHostedAttribution(t *testing.T) {
	legacy := &tutorialDocument{
		ID: "legacy",
		VideoSources: []videoSourceDocument{
			{Type: "youtube", URL: "https://youtu.be/a", VideoID: "a", Attribution: map[string]any{"filename": "keep"}},
		},
	}

	out, err := legacy.toModel()
	if err != nil {
		t.Fatalf("toModel: %v", err)
	}
	if out.VideoSources[0].Attribution["filename"] != "keep" {
		t.Errorf("youtube attribution should be untouched: %v", out.VideoSources[0].Attribution)
	}
}

func TestToModel_RejectsNewerSchema(t *testing.T) {
	doc := &tutorialDocument{ID: "future", SchemaVersion: currentSchemaVersion + 1}

	_, err := doc.toModel()
	if !errors.Is(err, ErrUnsupportedSchema) {
		t.Errorf("err = %v, want ErrUnsupportedSchema", err)
	}
}

func TestCloneTutorial_IsDeep(t *testing.T) {
	orig := &model.Tutorial{
		Tags:         []string{"a"},
		VideoSources: []model.VideoSource{{Kind: model.VideoKindHosted, Attribution: map[string]any{"k": "v"}}},
	}

	c := cloneTutorial(orig)
	c.Tags[0] = "changed"
	c.VideoSources[0].Attribution["k"] = "changed"

	if orig.Tags[0] != "a" || orig.VideoSources[0].Attribution["k"] != "v" {
		t.Error("clone shares state with original")
	}
}
