package routes

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cryguy/prerender/internal/core"
	"github.com/cryguy/prerender/internal/engine"
	"github.com/cryguy/prerender/internal/metrics"
	"github.com/cryguy/prerender/internal/render"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Extractor = (*render.Worker)(nil)

type fakeExtractor struct {
	extract func(ctx context.Context, url string) (string, error)
	closed  bool
}

func (f *fakeExtractor) ExtractRoutes(ctx context.Context, url string) (string, error) {
	return f.extract(ctx, url)
}

func (f *fakeExtractor) Close() { f.closed = true }

func treeJSON(t *testing.T, tree Tree) string {
	t.Helper()
	b, err := json.Marshal(tree)
	require.NoError(t, err)
	return string(b)
}

func writeRoutesFile(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "routes.txt")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestSetNormalizesAndDedupes(t *testing.T) {
	s := NewSet()
	for _, r := range []string{"about", "/about", "/", "blog/post", "/blog/post"} {
		s.Add(r)
	}
	assert.Equal(t, 3, s.Len())
	assert.True(t, s.Has("about"))
	assert.True(t, s.Has("/blog/post"))
	assert.False(t, s.Has("/missing"))
	assert.Equal(t, []string{"/", "/about", "/blog/post"}, s.Sorted())
}

func TestReadRoutesFile(t *testing.T) {
	p := writeRoutesFile(t, "/a\n  b  \n\n\t\n/c\r\n")
	lines, err := ReadRoutesFile(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"/a", "b", "/c"}, lines)

	_, err = ReadRoutesFile(filepath.Join(t.TempDir(), "nope.txt"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestStaticRoutesWithoutDiscovery(t *testing.T) {
	rec := metrics.New()
	d, err := Discover(context.Background(), DiscoverConfig{
		AppShellRoute: "/shell",
		RoutesFile:    writeRoutesFile(t, "/b\n/a\nb\n\n/a\n"),
		Metrics:       rec,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"/a", "/b", "/shell"}, d.Routes())
	for _, task := range d.Tasks {
		if task.Route == "/shell" {
			assert.Equal(t, core.ContextAppShell, task.ServerContext)
		} else {
			assert.Equal(t, core.ContextSSG, task.ServerContext)
		}
	}
	assert.Empty(t, d.Warnings)
	assert.Empty(t, d.Errors)
	require.NoError(t, testutil.GatherAndCompare(rec.Registry(), strings.NewReader(`
# HELP prerender_routes_discovered Routes in the final route set.
# TYPE prerender_routes_discovered gauge
prerender_routes_discovered 3
`), "prerender_routes_discovered"))
}

func TestDiscoverMergesRouteTree(t *testing.T) {
	ext := &fakeExtractor{}
	var gotURL, gotBase string
	ext.extract = func(_ context.Context, url string) (string, error) {
		gotURL = url
		return treeJSON(t, Tree{
			Routes: []TreeEntry{
				{Route: "/"},
				{Route: "about", RenderMode: ModePrerender},
				{Route: "/dashboard", RenderMode: ModeServer},
				{Route: "/editor", RenderMode: ModeClient},
				{Route: "/product/:id"},
				{Route: "/docs/**"},
				{Route: "/old", RedirectTo: "/new"},
				{Route: "/shell"},
			},
			Errors:   []string{"resolver for /product/:id failed"},
			Warnings: []string{"duplicate route /about"},
		}), nil
	}

	d, err := Discover(context.Background(), DiscoverConfig{
		AppShellRoute: "shell",
		Discover:      true,
		NewExtractor: func(baseURL string, _ http.RoundTripper) (Extractor, error) {
			gotBase = baseURL
			return ext, nil
		},
	})
	require.NoError(t, err)

	assert.Equal(t, render.DefaultBaseURL, gotBase)
	assert.Equal(t, render.DefaultBaseURL+"/", gotURL)
	assert.True(t, ext.closed)

	assert.Equal(t, []string{"/", "/about", "/old", "/shell"}, d.Routes())
	assert.Equal(t, []string{"resolver for /product/:id failed"}, d.Errors)
	assert.Equal(t, []string{
		"duplicate route /about",
		"Route '/product/:id' has parameters and cannot be prerendered; it was skipped.",
		"Route '/docs/**' has parameters and cannot be prerendered; it was skipped.",
	}, d.Warnings)

	byRoute := map[string]core.RenderTask{}
	for _, task := range d.Tasks {
		byRoute[task.Route] = task
	}
	assert.Equal(t, "/new", byRoute["/old"].RedirectTo)
	assert.Equal(t, core.ContextAppShell, byRoute["/shell"].ServerContext)
	assert.Equal(t, core.ContextSSG, byRoute["/"].ServerContext)
}

func TestDiscoverFailures(t *testing.T) {
	tests := []struct {
		name    string
		factory ExtractorFactory
		want    string
	}{
		{
			name: "no factory",
			want: "without an extractor",
		},
		{
			name: "worker fails to start",
			factory: func(string, http.RoundTripper) (Extractor, error) {
				return nil, errors.New("bundle threw")
			},
			want: "starting route discovery worker: bundle threw",
		},
		{
			name: "extraction throws",
			factory: func(string, http.RoundTripper) (Extractor, error) {
				return &fakeExtractor{extract: func(context.Context, string) (string, error) {
					return "", errors.New("TypeError: render utilities do not export extractRoutes")
				}}, nil
			},
			want: "extracting routes: TypeError",
		},
		{
			name: "malformed tree",
			factory: func(string, http.RoundTripper) (Extractor, error) {
				return &fakeExtractor{extract: func(context.Context, string) (string, error) {
					return `{"routes": "nope"}`, nil
				}}, nil
			},
			want: "decoding route tree",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Discover(context.Background(), DiscoverConfig{Discover: true, NewExtractor: tt.factory})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRenderModeAcceptsNumbers(t *testing.T) {
	var tree Tree
	require.NoError(t, json.Unmarshal([]byte(`{"routes":[
		{"route":"/s","renderMode":0},
		{"route":"/c","renderMode":1},
		{"route":"/p","renderMode":2},
		{"route":"/x","renderMode":"Prerender"}
	]}`), &tree))
	require.Len(t, tree.Routes, 4)
	assert.Equal(t, RenderMode(ModeServer), tree.Routes[0].RenderMode)
	assert.Equal(t, RenderMode(ModeClient), tree.Routes[1].RenderMode)
	assert.Equal(t, RenderMode(ModePrerender), tree.Routes[2].RenderMode)
	assert.Equal(t, RenderMode(ModePrerender), tree.Routes[3].RenderMode)

	require.Error(t, json.Unmarshal([]byte(`{"routes":[{"route":"/","renderMode":7}]}`), &tree))
}

func TestDiscoveryListenerServesFiles(t *testing.T) {
	var body, viaTransport string
	var base string
	_, err := Discover(context.Background(), DiscoverConfig{
		Discover: true,
		Files:    map[string][]byte{"api/ids.json": []byte(`["1","2"]`)},
		NewExtractor: func(baseURL string, tr http.RoundTripper) (Extractor, error) {
			base = baseURL
			return &fakeExtractor{extract: func(context.Context, string) (string, error) {
				resp, err := http.Get(baseURL + "/api/ids.json")
				if err != nil {
					return "", err
				}
				b, _ := io.ReadAll(resp.Body)
				resp.Body.Close()
				body = string(b)

				resp, err = (&http.Client{Transport: tr}).Get(baseURL + "/api/ids.json")
				if err != nil {
					return "", err
				}
				b, _ = io.ReadAll(resp.Body)
				resp.Body.Close()
				viaTransport = string(b)
				return `{"routes":[{"route":"/product/1"},{"route":"/product/2"}]}`, nil
			}}, nil
		},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(base, "http://127.0.0.1:"), base)
	assert.Equal(t, `["1","2"]`, body)
	assert.Equal(t, `["1","2"]`, viaTransport)
}

func TestDiscoverWithRenderWorker(t *testing.T) {
	script := `
globalThis.__prerender_exports__ = {
	bootstrap: function() {},
	utils: {
		renderApplication: function() { return Promise.resolve(''); },
		extractRoutes: function(bootstrap, opts) {
			return fetch(new URL('/ids.json', opts.url).href)
				.then(function(r) { return r.json(); })
				.then(function(ids) {
					return {
						routes: [{ route: '/' }].concat(ids.map(function(id) { return { route: 'item/' + id }; })),
						warnings: ['extracted from ' + opts.url.replace(/:\d+/, ':port')]
					};
				});
		}
	}
};`
	d, err := Discover(context.Background(), DiscoverConfig{
		Discover: true,
		Files:    map[string][]byte{"/ids.json": []byte(`[3, 1]`)},
		NewExtractor: func(baseURL string, tr http.RoundTripper) (Extractor, error) {
			return render.NewWorker(render.WorkerConfig{
				NewRuntime: engine.New,
				Script:     script,
				Transport:  tr,
				BaseURL:    baseURL,
			})
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/", "/item/1", "/item/3"}, d.Routes())
	assert.Equal(t, []string{"extracted from http://127.0.0.1:port/"}, d.Warnings)
}
