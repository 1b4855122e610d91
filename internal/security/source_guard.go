package security

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// ErrResponseTooLarge はレスポンスボディが上限を超えた場合に返される。
var ErrResponseTooLarge = errors.New("response body exceeds size limit")

// SourceGuard はチュートリアル取り込み元URLへのアクセスを制限する。
// 取り込み元は設定ファイルで与えられるが、リダイレクトやフィード内リンクの
// 先は外部が決めるため、内部ネットワークへの到達を常に拒否する。
type SourceGuard interface {
	// NewClient はDialerレベルで宛先IPを検証するHTTPクライアントを生成する。
	// レスポンスボディはmaxBodyBytesで打ち切られ、超過時はErrResponseTooLargeを返す。
	NewClient(timeout time.Duration, maxBodyBytes int64) *http.Client

	// CheckURL はDNS解決を伴わない静的チェックを行う。
	CheckURL(rawURL string) error
}

var guardedSchemes = []string{"http", "https"}

// deniedPrefixes は静的チェックで拒否するアドレス範囲。
// クラウドメタデータ (169.254.169.254) はリンクローカルに含まれる。
var deniedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("fc00::/7"),
}

var deniedHostSuffixes = []string{"localhost", ".local", ".internal"}

type sourceGuard struct{}

// NewSourceGuard はSourceGuardを生成する。
func NewSourceGuard() *sourceGuard {
	return &sourceGuard{}
}

// NewClient はsafeurlでラップしたクライアントを返す。
// 名前解決後のIPもsafeurlが検証するため、DNS再バインディングにも有効。
func (g *sourceGuard) NewClient(timeout time.Duration, maxBodyBytes int64) *http.Client {
	cfg := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(guardedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	client := safeurl.Client(cfg).Client
	if maxBodyBytes > 0 {
		base := client.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		client.Transport = &limitedTransport{base: base, limit: maxBodyBytes}
	}
	return client
}

// CheckURL は取り込み元URLを静的に検証する。
func (g *sourceGuard) CheckURL(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return errors.New("empty URL")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("disallowed scheme: %q", u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		addr = addr.Unmap()
		for _, p := range deniedPrefixes {
			if p.Contains(addr) {
				return fmt.Errorf("blocked address: %s", addr)
			}
		}
		return nil
	}

	for _, suffix := range deniedHostSuffixes {
		if host == strings.TrimPrefix(suffix, ".") || strings.HasSuffix(host, suffix) {
			return fmt.Errorf("blocked host: %s", host)
		}
	}
	return nil
}

// limitedTransport はレスポンスボディを上限付きで読ませる。
type limitedTransport struct {
	base  http.RoundTripper
	limit int64
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.ContentLength > t.limit {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: content-length %d", ErrResponseTooLarge, resp.ContentLength)
	}
	resp.Body = &limitedBody{rc: resp.Body, remaining: t.limit}
	return resp, nil
}

type limitedBody struct {
	rc        io.ReadCloser
	remaining int64
}

func (b *limitedBody) Read(p []byte) (int, error) {
	if b.remaining <= 0 {
		// 上限ちょうどで終わるボディとの区別のため1バイト先読みする
		var one [1]byte
		n, err := b.rc.Read(one[:])
		if n > 0 {
			return 0, ErrResponseTooLarge
		}
		return 0, err
	}
	if int64(len(p)) > b.remaining {
		p = p[:b.remaining]
	}
	n, err := b.rc.Read(p)
	b.remaining -= int64(n)
	return n, err
}

func (b *limitedBody) Close() error {
	return b.rc.Close()
}
