// Package logos downloads team logos. A logo URL may point at the image
// itself or at a team page; pages are parsed for their preferred image.
package logos

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

const (
	// DefaultUserAgent identifies the stats job to league sites.
	DefaultUserAgent = "lheq-stats/1.0"

	maxBodyBytes = 5 << 20
)

var (
	// ErrNoImage is returned when a page links to no usable image.
	ErrNoImage = errors.New("no image found")
	// ErrUnsupportedContent is returned for responses that are neither images nor HTML.
	ErrUnsupportedContent = errors.New("unsupported content type")
)

// Image is a downloaded logo.
type Image struct {
	Data        []byte
	Ext         string
	ContentType string
	SourceURL   string
}

// Renderer returns the HTML of a page after its scripts have run.
type Renderer interface {
	Render(ctx context.Context, pageURL string) (string, error)
}

// StatusError reports a non-2xx response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.Code)
}

// Fetcher fetches logos with a per-host rate limit and circuit breaker.
type Fetcher struct {
	client    *http.Client
	userAgent string
	limiter   *hostLimiter
	renderer  Renderer
	logger    zerolog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// Option configures a Fetcher.
type Option func(*Fetcher)

func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// WithRateLimit sets the per-host request rate. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(f *Fetcher) { f.limiter = newHostLimiter(rps, burst) }
}

// WithRenderer runs pages through r before looking for an image.
func WithRenderer(r Renderer) Option {
	return func(f *Fetcher) { f.renderer = r }
}

func WithLogger(l zerolog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// NewFetcher creates a fetcher. Defaults: 15s timeout, 2 requests per second per host.
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:    &http.Client{Timeout: 15 * time.Second},
		userAgent: DefaultUserAgent,
		limiter:   newHostLimiter(2, 1),
		logger:    zerolog.Nop(),
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type response struct {
	url         *url.URL
	contentType string
	body        []byte
}

func (r *response) isHTML() bool {
	return r.contentType == "text/html" || r.contentType == "application/xhtml+xml"
}

// Fetch downloads the logo at rawURL. When rawURL serves an HTML page, the
// logo is resolved from the page and downloaded in a second request.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Image, error) {
	resp, err := f.get(ctx, rawURL)
	if err != nil {
		return Image{}, err
	}
	if !resp.isHTML() {
		return toImage(resp)
	}

	html := string(resp.body)
	if f.renderer != nil {
		rendered, err := f.renderer.Render(ctx, resp.url.String())
		if err != nil {
			f.logger.Warn().Err(err).Str("url", rawURL).Msg("render failed, using static HTML")
		} else {
			html = rendered
		}
	}

	src, err := ResolveImageURL(html, resp.url)
	if err != nil {
		return Image{}, fmt.Errorf("%s: %w", rawURL, err)
	}
	f.logger.Debug().Str("page", rawURL).Str("image", src).Msg("resolved logo from page")

	img, err := f.get(ctx, src)
	if err != nil {
		return Image{}, err
	}
	if img.isHTML() {
		return Image{}, fmt.Errorf("%s: %w", src, ErrNoImage)
	}
	return toImage(img)
}

func (f *Fetcher) get(ctx context.Context, rawURL string) (*response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported url %q", rawURL)
	}

	if err := f.limiter.Wait(ctx, u.Host); err != nil {
		return nil, err
	}

	out, err := f.breaker(u.Host).Execute(func() (interface{}, error) {
		return f.do(ctx, u)
	})
	if err != nil {
		return nil, err
	}
	return out.(*response), nil
}

func (f *Fetcher) do(ctx context.Context, u *url.URL) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "image/*,text/html;q=0.8,*/*;q=0.5")

	res, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(res.Body, 64<<10))
		return nil, &StatusError{URL: u.String(), Code: res.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", u, err)
	}

	ct := res.Header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(body)
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.SplitN(ct, ";", 2)[0]))
	}

	return &response{url: res.Request.URL, contentType: mediaType, body: body}, nil
}

func (f *Fetcher) breaker(host string) *gobreaker.CircuitBreaker {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cb, ok := f.breakers[host]; ok {
		return cb
	}
	st := gobreaker.Settings{
		Name:    "logos:" + host,
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		IsSuccessful: func(err error) bool {
			// a missing logo is the site answering, not the site failing
			var se *StatusError
			if errors.As(err, &se) {
				return se.Code < 500
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			f.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	}
	cb := gobreaker.NewCircuitBreaker(st)
	f.breakers[host] = cb
	return cb
}

func toImage(r *response) (Image, error) {
	ext := ExtensionFor(r.contentType, r.url.Path)
	if !strings.HasPrefix(r.contentType, "image/") && !knownExt[path.Ext(strings.ToLower(r.url.Path))] {
		return Image{}, fmt.Errorf("%s (%s): %w", r.url, r.contentType, ErrUnsupportedContent)
	}
	return Image{
		Data:        r.body,
		Ext:         ext,
		ContentType: r.contentType,
		SourceURL:   r.url.String(),
	}, nil
}

var contentTypeExt = map[string]string{
	"image/png":                ".png",
	"image/jpeg":               ".jpg",
	"image/jpg":                ".jpg",
	"image/svg+xml":            ".svg",
	"image/gif":                ".gif",
	"image/webp":               ".webp",
	"image/x-icon":             ".ico",
	"image/vnd.microsoft.icon": ".ico",
}

var knownExt = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".svg": true,
	".gif": true, ".webp": true, ".ico": true,
}

// ExtensionFor picks a file extension from the content type, then from the
// URL path, defaulting to .png.
func ExtensionFor(contentType, urlPath string) string {
	if ext, ok := contentTypeExt[strings.ToLower(contentType)]; ok {
		return ext
	}
	ext := strings.ToLower(path.Ext(urlPath))
	if ext == ".jpeg" {
		return ".jpg"
	}
	if knownExt[ext] {
		return ext
	}
	return ".png"
}
