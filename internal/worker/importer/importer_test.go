package importer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/emututor/internal/model"
	"github.com/hitoshi/emututor/internal/security"
)

const channelFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns:yt="http://www.youtube.com/xml/schemas/2015" xmlns:media="http://search.yahoo.com/mrss/" xmlns="http://www.w3.org/2005/Atom">
 <title>Retro Lab</title>
 <entry>
  <id>yt:video:dQw4w9WgXcQ</id>
  <yt:videoId>dQw4w9WgXcQ</yt:videoId>
  <title>Setting up bsnes</title>
  <link rel="alternate" href="https://www.youtube.com/watch?v=dQw4w9WgXcQ"/>
  <author><name>Retro Lab</name></author>
  <media:group>
   <media:title>Setting up bsnes</media:title>
   <media:description>Install bsnes.

Load your ROM &amp; play.</media:description>
  </media:group>
 </entry>
 <entry>
  <id>yt:video:abcdefghijk</id>
  <yt:videoId>abcdefghijk</yt:videoId>
  <title>Shader presets</title>
  <link rel="alternate" href="https://example.com/not-a-video"/>
  <author><name>Retro Lab</name></author>
 </entry>
 <entry>
  <id>yt:video:dup</id>
  <title>Setting up bsnes (again)</title>
  <link rel="alternate" href="https://youtu.be/dQw4w9WgXcQ"/>
 </entry>
 <entry>
  <id>no-video</id>
  <title>Community post</title>
  <link rel="alternate" href="https://example.com/post"/>
 </entry>
</feed>`

type stubGuard struct {
	rejectErr error
	transport http.RoundTripper
}

func (g stubGuard) CheckURL(string) error { return g.rejectErr }

func (g stubGuard) NewClient(timeout time.Duration, _ int64) *http.Client {
	return &http.Client{Timeout: timeout, Transport: g.transport}
}

// youtubeRedirect はwww.youtube.com宛てのリクエストをテストサーバーに向ける。
type youtubeRedirect struct {
	target *httptest.Server

	mu       sync.Mutex
	requests []string
}

func (rt *youtubeRedirect) RoundTrip(req *http.Request) (*http.Response, error) {
	rt.mu.Lock()
	rt.requests = append(rt.requests, req.URL.String())
	rt.mu.Unlock()

	out := req.Clone(req.Context())
	u := *req.URL
	u.Scheme = "http"
	u.Host = strings.TrimPrefix(rt.target.URL, "http://")
	out.URL = &u
	out.Host = ""
	return http.DefaultTransport.RoundTrip(out)
}

type mockSubmitter struct {
	mu       sync.Mutex
	inputs   []model.TutorialSubmissionInput
	submitFn func(in model.TutorialSubmissionInput) error
}

func (m *mockSubmitter) Submit(_ context.Context, in model.TutorialSubmissionInput) (*model.Tutorial, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitFn != nil {
		if err := m.submitFn(in); err != nil {
			return nil, err
		}
	}
	m.inputs = append(m.inputs, in)
	return &model.Tutorial{ID: "t"}, nil
}

type mockIndex struct {
	existing map[string]bool
	err      error
}

func (m mockIndex) ExistsByPlatformVideoID(_ context.Context, id string) (bool, error) {
	return m.existing[id], m.err
}

type recordedMetrics struct {
	mu      sync.Mutex
	entries map[string]int
	fetches int
}

func (r *recordedMetrics) RecordImportEntry(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries == nil {
		r.entries = map[string]int{}
	}
	r.entries[result]++
}

func (r *recordedMetrics) RecordImportFetch(time.Duration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetches++
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestImporter(sub Submitter, idx VideoIndex, m MetricsRecorder) *Importer {
	return NewImporter(sub, idx, stubGuard{}, security.NewFeedTextExtractor(), m, discardLogger(), 5*time.Second, 1<<20)
}

func TestImport_SubmitsNewVideos(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != userAgent {
			t.Errorf("unexpected User-Agent: %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Type", "application/atom+xml")
		w.Header().Set("ETag", `"v1"`)
		_, _ = io.WriteString(w, channelFeed)
	}))
	defer srv.Close()

	sub := &mockSubmitter{}
	m := &recordedMetrics{}
	im := newTestImporter(sub, mockIndex{}, m)

	src := Source{URL: srv.URL, Console: "SNES", Emulator: "bsnes", Category: "setup", Difficulty: "beginner", Tags: []string{"snes"}}
	res, err := im.Import(context.Background(), src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Entries != 4 || res.Submitted != 2 || res.Duplicates != 1 || res.Skipped != 1 {
		t.Errorf("unexpected result: %+v", res)
	}
	if len(sub.inputs) != 2 {
		t.Fatalf("expected 2 submissions, got %d", len(sub.inputs))
	}

	first := sub.inputs[0]
	if first.Title != "Setting up bsnes" {
		t.Errorf("unexpected title: %q", first.Title)
	}
	if first.Console != "SNES" || first.Emulator != "bsnes" {
		t.Errorf("expected source classification, got %+v", first.TutorialInput)
	}
	if first.Author != "Retro Lab" {
		t.Errorf("expected item author, got %q", first.Author)
	}
	if !strings.HasPrefix(first.Description, "Install bsnes.") {
		t.Errorf("expected media description, got %q", first.Description)
	}
	if first.Content != "Install bsnes.\n\nLoad your ROM & play." {
		t.Errorf("unexpected content: %q", first.Content)
	}
	if len(first.YouTubeURLs) != 1 || first.YouTubeURLs[0] != "https://www.youtube.com/watch?v=dQw4w9WgXcQ" {
		t.Errorf("unexpected urls: %v", first.YouTubeURLs)
	}

	// リンクから取れない場合はyt:videoIdを使う
	if sub.inputs[1].YouTubeURLs[0] != "https://www.youtube.com/watch?v=abcdefghijk" {
		t.Errorf("expected yt:videoId fallback, got %v", sub.inputs[1].YouTubeURLs)
	}
	if sub.inputs[1].Content != "Shader presets" {
		t.Errorf("expected title as content fallback, got %q", sub.inputs[1].Content)
	}

	if m.entries[resultSubmitted] != 2 || m.entries[resultDuplicate] != 1 || m.entries[resultSkipped] != 1 {
		t.Errorf("unexpected entry metrics: %v", m.entries)
	}
	if m.fetches != 1 {
		t.Errorf("expected 1 fetch recorded, got %d", m.fetches)
	}
}

func TestImport_SkipsRegisteredVideos(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/atom+xml")
		_, _ = io.WriteString(w, channelFeed)
	}))
	defer srv.Close()

	sub := &mockSubmitter{}
	im := newTestImporter(sub, mockIndex{existing: map[string]bool{"dQw4w9WgXcQ": true}}, nil)

	res, err := im.Import(context.Background(), Source{URL: srv.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Submitted != 1 || res.Duplicates != 2 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestImport_ValidationErrorCountsAsSkipped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/atom+xml")
		_, _ = io.WriteString(w, channelFeed)
	}))
	defer srv.Close()

	sub := &mockSubmitter{submitFn: func(model.TutorialSubmissionInput) error {
		return model.NewMissingFieldsError([]string{"author"})
	}}
	im := newTestImporter(sub, mockIndex{}, nil)

	res, err := im.Import(context.Background(), Source{URL: srv.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Submitted != 0 || res.Skipped != 3 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestImport_ConditionalGet(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Content-Type", "application/atom+xml")
		w.Header().Set("ETag", `"v1"`)
		_, _ = io.WriteString(w, channelFeed)
	}))
	defer srv.Close()

	sub := &mockSubmitter{}
	im := newTestImporter(sub, mockIndex{}, nil)
	src := Source{URL: srv.URL}

	if _, err := im.Import(context.Background(), src); err != nil {
		t.Fatalf("first import: %v", err)
	}
	res, err := im.Import(context.Background(), src)
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if res != (Result{}) {
		t.Errorf("expected empty result on 304, got %+v", res)
	}
	if calls != 2 || len(sub.inputs) != 2 {
		t.Errorf("calls=%d submissions=%d", calls, len(sub.inputs))
	}
}

func TestImport_DiscoversFeedFromHTML(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/channel", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, `<html><head><link rel="alternate" type="application/atom+xml" href="/feed.xml"></head><body></body></html>`)
	})
	var feedCalls int
	mux.HandleFunc("/feed.xml", func(w http.ResponseWriter, r *http.Request) {
		feedCalls++
		w.Header().Set("Content-Type", "application/atom+xml")
		_, _ = io.WriteString(w, channelFeed)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	sub := &mockSubmitter{}
	im := newTestImporter(sub, mockIndex{}, nil)
	src := Source{URL: srv.URL + "/channel"}

	res, err := im.Import(context.Background(), src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Submitted != 2 {
		t.Errorf("expected 2 submitted, got %+v", res)
	}

	// 2回目は検出済みのフィードURLを直接取得する
	if _, err := im.Import(context.Background(), src); err != nil {
		t.Fatalf("second import: %v", err)
	}
	if feedCalls != 2 {
		t.Errorf("expected feed fetched twice, got %d", feedCalls)
	}
}

func TestImport_YouTubeChannelURLFetchesFeedDirectly(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.RequestURI())
		if r.URL.Path != "/feeds/videos.xml" {
			w.Header().Set("Content-Type", "text/html")
			_, _ = io.WriteString(w, "<html></html>")
			return
		}
		w.Header().Set("Content-Type", "text/xml; charset=UTF-8")
		_, _ = io.WriteString(w, channelFeed)
	}))
	defer srv.Close()

	rt := &youtubeRedirect{target: srv}
	sub := &mockSubmitter{}
	im := NewImporter(sub, mockIndex{}, stubGuard{transport: rt}, security.NewFeedTextExtractor(), nil, discardLogger(), 5*time.Second, 1<<20)

	res, err := im.Import(context.Background(), Source{URL: "https://www.youtube.com/channel/" + testChannelID + "/videos"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Submitted != 2 {
		t.Errorf("expected 2 submitted, got %+v", res)
	}
	if len(paths) != 1 || paths[0] != "/feeds/videos.xml?channel_id="+testChannelID {
		t.Errorf("expected a single feed request, got %v", paths)
	}
	if len(rt.requests) != 1 || rt.requests[0] != channelFeedURL(testChannelID) {
		t.Errorf("unexpected outgoing requests: %v", rt.requests)
	}
}

func TestImport_DiscoversYouTubeFeedFromHandlePage(t *testing.T) {
	var feedQueries []string
	mux := http.NewServeMux()
	mux.HandleFunc("/@RetroLab", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, `<html><head>
<link rel="alternate" type="application/rss+xml" href="https://blog.example.com/feed.rss">
<link rel="canonical" href="https://www.youtube.com/channel/`+testChannelID+`">
</head><body><meta itemprop="channelId" content="`+testChannelID+`"></body></html>`)
	})
	mux.HandleFunc("/feeds/videos.xml", func(w http.ResponseWriter, r *http.Request) {
		feedQueries = append(feedQueries, r.URL.RawQuery)
		w.Header().Set("Content-Type", "text/xml; charset=UTF-8")
		_, _ = io.WriteString(w, channelFeed)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	rt := &youtubeRedirect{target: srv}
	sub := &mockSubmitter{}
	im := NewImporter(sub, mockIndex{}, stubGuard{transport: rt}, security.NewFeedTextExtractor(), nil, discardLogger(), 5*time.Second, 1<<20)
	src := Source{URL: "https://www.youtube.com/@RetroLab"}

	res, err := im.Import(context.Background(), src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Submitted != 2 {
		t.Errorf("expected 2 submitted, got %+v", res)
	}
	if len(feedQueries) != 1 || feedQueries[0] != "channel_id="+testChannelID {
		t.Errorf("expected the channel feed to be preferred over the blog feed, got %v", feedQueries)
	}

	// 2回目はチャンネルページを経由しない
	if _, err := im.Import(context.Background(), src); err != nil {
		t.Fatalf("second import: %v", err)
	}
	if len(rt.requests) != 3 || rt.requests[2] != channelFeedURL(testChannelID) {
		t.Errorf("unexpected outgoing requests: %v", rt.requests)
	}
}

func TestImport_StopsOnGone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	im := newTestImporter(&mockSubmitter{}, mockIndex{}, nil)
	src := Source{URL: srv.URL}

	if _, err := im.Import(context.Background(), src); err == nil {
		t.Fatal("expected error on 410")
	}
	if im.Due(src) {
		t.Error("stopped source should not be due")
	}
	if _, err := im.Import(context.Background(), src); !errors.Is(err, ErrSourceStopped) {
		t.Errorf("expected ErrSourceStopped, got %v", err)
	}
}

func TestImport_BacksOffOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	im := newTestImporter(&mockSubmitter{}, mockIndex{}, nil)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	im.now = func() time.Time { return now }
	src := Source{URL: srv.URL}

	if _, err := im.Import(context.Background(), src); err == nil {
		t.Fatal("expected error on 503")
	}
	if im.Due(src) {
		t.Error("source should be backing off")
	}

	now = now.Add(31 * time.Minute)
	if !im.Due(src) {
		t.Error("source should be due after backoff")
	}
}

func TestImport_RejectedURL(t *testing.T) {
	im := NewImporter(&mockSubmitter{}, mockIndex{}, stubGuard{rejectErr: errors.New("private address")}, security.NewFeedTextExtractor(), nil, discardLogger(), time.Second, 1024)
	src := Source{URL: "http://127.0.0.1/feed"}

	if _, err := im.Import(context.Background(), src); err == nil {
		t.Fatal("expected error for rejected URL")
	}
	if im.Due(src) {
		t.Error("rejected source should be stopped")
	}
}

const htmlDescriptionFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
 <channel>
  <title>Emu Notes</title>
  <item>
   <title>Don't skip the BIOS step</title>
   <link>https://www.youtube.com/watch?v=AAAAAAAAAAA</link>
   <description><![CDATA[<p>Don&#39;t skip this: set Graphics &amp; Audio first.</p><p>If fps &lt; 30, lower the resolution.<br>Then restart.</p><script>track()</script>]]></description>
  </item>
  <item>
   <title>Plain notes</title>
   <link>https://www.youtube.com/watch?v=BBBBBBBBBBB</link>
   <description>Press Start + A to open the menu.</description>
  </item>
 </channel>
</rss>`

func TestImport_ContentIsPlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = io.WriteString(w, htmlDescriptionFeed)
	}))
	defer srv.Close()

	sub := &mockSubmitter{}
	im := newTestImporter(sub, mockIndex{}, nil)

	if _, err := im.Import(context.Background(), Source{URL: srv.URL}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sub.inputs) != 2 {
		t.Fatalf("expected 2 submissions, got %d", len(sub.inputs))
	}

	want := "Don't skip this: set Graphics & Audio first.\n\nIf fps < 30, lower the resolution.\nThen restart."
	if got := sub.inputs[0].Content; got != want {
		t.Errorf("Content = %q, want %q", got, want)
	}
	if sub.inputs[0].Description != want {
		t.Errorf("Description = %q, want %q", sub.inputs[0].Description, want)
	}
	if got := sub.inputs[1].Content; got != "Press Start + A to open the menu." {
		t.Errorf("Content = %q", got)
	}
	for _, in := range sub.inputs {
		if strings.Contains(in.Content, "<p>") || strings.Contains(in.Content, "&amp;") {
			t.Errorf("content must not carry markup: %q", in.Content)
		}
	}
}
