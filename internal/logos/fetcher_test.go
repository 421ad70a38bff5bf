package logos

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func newTestFetcher(opts ...Option) *Fetcher {
	return NewFetcher(append([]Option{WithRateLimit(0, 1)}, opts...)...)
}

func TestFetchDirectImage(t *testing.T) {
	var ua string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngBytes)
	}))
	defer srv.Close()

	img, err := newTestFetcher(WithUserAgent("test-agent")).Fetch(context.Background(), srv.URL+"/logo")
	require.NoError(t, err)

	assert.Equal(t, pngBytes, img.Data)
	assert.Equal(t, ".png", img.Ext)
	assert.Equal(t, "test-agent", ua)
}

func TestFetchResolvesPageImage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/team/42", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><head>
<meta property="og:image" content="/media/logo-42.jpg">
<link rel="shortcut icon" href="/favicon.ico">
</head><body><img src="/banner.gif"></body></html>`))
	})
	mux.HandleFunc("/media/logo-42.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte{0xff, 0xd8, 0xff})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	img, err := newTestFetcher().Fetch(context.Background(), srv.URL+"/team/42")
	require.NoError(t, err)

	assert.Equal(t, ".jpg", img.Ext)
	assert.Equal(t, srv.URL+"/media/logo-42.jpg", img.SourceURL)
}

type stubRenderer struct {
	html  string
	calls int
}

func (s *stubRenderer) Render(context.Context, string) (string, error) {
	s.calls++
	return s.html, nil
}

func TestFetchUsesRenderer(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/team", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><div id="app"></div></body></html>`))
	})
	mux.HandleFunc("/rendered.svg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Write([]byte(`<svg xmlns="http://www.w3.org/2000/svg"/>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r := &stubRenderer{html: `<html><body><img src="rendered.svg"></body></html>`}
	img, err := newTestFetcher(WithRenderer(r)).Fetch(context.Background(), srv.URL+"/team")
	require.NoError(t, err)

	assert.Equal(t, 1, r.calls)
	assert.Equal(t, ".svg", img.Ext)
}

func TestFetchPageWithoutImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body>nothing here</body></html>`))
	}))
	defer srv.Close()

	_, err := newTestFetcher().Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrNoImage)
}

func TestFetchStatusError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := newTestFetcher().Fetch(context.Background(), srv.URL+"/missing.png")

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Code)
}

func TestFetchRejectsUnsupportedContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := newTestFetcher().Fetch(context.Background(), srv.URL+"/api")
	assert.ErrorIs(t, err, ErrUnsupportedContent)
}

func TestBreakerOpensOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := newTestFetcher()
	for i := 0; i < 3; i++ {
		_, err := f.Fetch(context.Background(), srv.URL+"/logo.png")
		require.Error(t, err)
	}

	_, err := f.Fetch(context.Background(), srv.URL+"/logo.png")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(3), hits.Load())
}

func TestNotFoundDoesNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	f := newTestFetcher()
	for i := 0; i < 5; i++ {
		_, err := f.Fetch(context.Background(), srv.URL+"/logo.png")
		var se *StatusError
		require.True(t, errors.As(err, &se), "attempt %d: %v", i, err)
	}
}

func TestFetchRejectsNonHTTP(t *testing.T) {
	_, err := newTestFetcher().Fetch(context.Background(), "file:///etc/passwd")
	assert.Error(t, err)
}

func TestResolveImageURL(t *testing.T) {
	base, _ := url.Parse("https://league.example.com/teams/7")

	tests := []struct {
		name string
		html string
		want string
	}{
		{
			name: "og image wins",
			html: `<meta property="og:image" content="https://cdn.example.com/7.png"><link rel="icon" href="/i.ico">`,
			want: "https://cdn.example.com/7.png",
		},
		{
			name: "icon link relative",
			html: `<link rel="apple-touch-icon icon" href="../icons/7.png"><img src="/x.gif">`,
			want: "https://league.example.com/icons/7.png",
		},
		{
			name: "first real img",
			html: `<img src="data:image/png;base64,AAAA"><img src="logo.webp">`,
			want: "https://league.example.com/teams/logo.webp",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveImageURL(tt.html, base)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ResolveImageURL(`<p>none</p>`, base)
	assert.ErrorIs(t, err, ErrNoImage)
}

func TestExtensionFor(t *testing.T) {
	assert.Equal(t, ".png", ExtensionFor("image/png", "/a"))
	assert.Equal(t, ".jpg", ExtensionFor("image/jpeg", "/a.png"))
	assert.Equal(t, ".svg", ExtensionFor("image/svg+xml", ""))
	assert.Equal(t, ".gif", ExtensionFor("image/gif", ""))
	assert.Equal(t, ".webp", ExtensionFor("image/webp", ""))
	assert.Equal(t, ".jpg", ExtensionFor("application/octet-stream", "/logo.JPEG"))
	assert.Equal(t, ".png", ExtensionFor("", "/logo"))
}
