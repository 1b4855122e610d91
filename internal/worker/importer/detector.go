package importer

import (
	"bytes"
	"mime"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// youtubeFeedBase はYouTubeのチャンネル・再生リストフィードのエンドポイント。
const youtubeFeedBase = "https://www.youtube.com/feeds/videos.xml"

var (
	channelIDPattern  = regexp.MustCompile(`^UC[0-9A-Za-z_-]{22}$`)
	playlistIDPattern = regexp.MustCompile(`^[0-9A-Za-z_-]{10,64}$`)
)

// FeedCandidate は取り込み元ページから見つかったフィードURL。
type FeedCandidate struct {
	URL string
	// YouTube はyoutube.com/feeds/videos.xmlのフィードであることを示す。
	YouTube bool
	Atom    bool
}

func isYouTubeHost(host string) bool {
	switch strings.ToLower(host) {
	case "youtube.com", "www.youtube.com", "m.youtube.com":
		return true
	}
	return false
}

func channelFeedURL(channelID string) string {
	return youtubeFeedBase + "?channel_id=" + url.QueryEscape(channelID)
}

func playlistFeedURL(playlistID string) string {
	return youtubeFeedBase + "?playlist_id=" + url.QueryEscape(playlistID)
}

// YouTubeFeedURL はチャンネル（/channel/UC...）、再生リスト（/playlist?list=...）、
// またはフィードのURLを正規化したvideos.xmlのURLに変換する。
// @handleや/c/のようにチャンネルIDを含まないURLはページを取得しないと分からないためfalseを返す。
func YouTubeFeedURL(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || !isYouTubeHost(u.Hostname()) {
		return "", false
	}

	q := u.Query()
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	switch segments[0] {
	case "feeds":
		if u.Path != "/feeds/videos.xml" {
			return "", false
		}
		if id := q.Get("channel_id"); channelIDPattern.MatchString(id) {
			return channelFeedURL(id), true
		}
		if id := q.Get("playlist_id"); playlistIDPattern.MatchString(id) {
			return playlistFeedURL(id), true
		}
	case "channel":
		if len(segments) >= 2 && channelIDPattern.MatchString(segments[1]) {
			return channelFeedURL(segments[1]), true
		}
	case "playlist":
		if id := q.Get("list"); playlistIDPattern.MatchString(id) {
			return playlistFeedURL(id), true
		}
	}
	return "", false
}

// mediaTypeOf はContent-Typeのパラメータを除いたメディアタイプを小文字で返す。
func mediaTypeOf(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}

// isFeedResponse はレスポンスがRSS/Atomフィードかを判定する。
// 汎用のXML型の場合はボディ先頭のルート要素で判断する。
func isFeedResponse(contentType string, body []byte) bool {
	switch mediaTypeOf(contentType) {
	case "application/atom+xml", "application/rss+xml":
		return true
	case "text/xml", "application/xml":
		head := bytes.ToLower(body[:min(len(body), 4096)])
		if bytes.Contains(head, []byte("<rss")) || bytes.Contains(head, []byte("<rdf:rdf")) {
			return true
		}
		return bytes.Contains(head, []byte("<feed")) && bytes.Contains(head, []byte("http://www.w3.org/2005/atom"))
	}
	return false
}

func isHTMLPage(contentType string) bool {
	return strings.Contains(mediaTypeOf(contentType), "html")
}

// DiscoverFeeds はチャンネルページなどのHTMLからフィード候補を集める。
// 対象は<link rel="alternate">のRSS/Atom、<link rel="canonical">とog:urlの
// チャンネル・再生リストURL、<meta itemprop="channelId">。
// YouTubeのページはchannelIdをbody内に置くため文書全体を走査する。
func DiscoverFeeds(page []byte, pageURL string) []FeedCandidate {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	var candidates []FeedCandidate
	seen := make(map[string]bool)
	add := func(c FeedCandidate) {
		if c.URL == "" || seen[c.URL] {
			return
		}
		seen[c.URL] = true
		candidates = append(candidates, c)
	}
	addPage := func(href string) {
		if feed, ok := YouTubeFeedURL(resolveURL(base, href)); ok {
			add(FeedCandidate{URL: feed, YouTube: true, Atom: true})
		}
	}

	z := html.NewTokenizer(bytes.NewReader(page))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return candidates
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if !hasAttr {
				continue
			}
			tag := string(name)
			attrs := tagAttrs(z)

			switch tag {
			case "link":
				switch attrs["rel"] {
				case "alternate":
					typ := attrs["type"]
					if typ != "application/rss+xml" && typ != "application/atom+xml" {
						continue
					}
					href := resolveURL(base, attrs["href"])
					if feed, ok := YouTubeFeedURL(href); ok {
						add(FeedCandidate{URL: feed, YouTube: true, Atom: true})
						continue
					}
					add(FeedCandidate{URL: href, Atom: typ == "application/atom+xml"})
				case "canonical":
					addPage(attrs["href"])
				}
			case "meta":
				switch {
				case attrs["itemprop"] == "channelId" && channelIDPattern.MatchString(attrs["content"]):
					add(FeedCandidate{URL: channelFeedURL(attrs["content"]), YouTube: true, Atom: true})
				case attrs["property"] == "og:url":
					addPage(attrs["content"])
				}
			}
		}
	}
}

// tagAttrs は現在のタグの属性を返す。rel・type・propertyの値は小文字にする。
func tagAttrs(z *html.Tokenizer) map[string]string {
	attrs := make(map[string]string)
	for {
		key, val, more := z.TagAttr()
		k := strings.ToLower(string(key))
		v := strings.TrimSpace(string(val))
		switch k {
		case "rel", "type", "property":
			v = strings.ToLower(v)
		}
		attrs[k] = v
		if !more {
			return attrs
		}
	}
}

func resolveURL(base *url.URL, href string) string {
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

// SelectFeed は候補から取り込むフィードを1件選ぶ。
// YouTubeのvideos.xmlを最優先し、次にAtom、同順位は先に見つかったものを選ぶ。
func SelectFeed(candidates []FeedCandidate) *FeedCandidate {
	var best *FeedCandidate
	bestRank := -1
	for i := range candidates {
		rank := 0
		if candidates[i].YouTube {
			rank += 2
		}
		if candidates[i].Atom {
			rank++
		}
		if rank > bestRank {
			best, bestRank = &candidates[i], rank
		}
	}
	return best
}
