package render

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/cryguy/prerender/internal/assetfetch"
	"github.com/cryguy/prerender/internal/core"
	"github.com/cryguy/prerender/internal/engine"
	"github.com/gkampitakis/go-snaps/snaps"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const document = `<!DOCTYPE html><html><head><link rel="stylesheet" href="styles.css"></head><body><app-root></app-root></body></html>`

// bundle builds a server script whose renderApplication body is render.
func bundle(render string) string {
	return `
globalThis.__prerender_exports__ = {
	bootstrap: function bootstrap() {},
	utils: {
		'ɵSERVER_CONTEXT': 'SERVER_CONTEXT',
		renderApplication: function(bootstrap, opts) {
			var ctx = opts.platformProviders.filter(function(p) { return p.provide === 'SERVER_CONTEXT'; })[0].useValue;
			` + render + `
		},
		renderModule: function() { return Promise.resolve('wrong renderer'); },
		extractRoutes: function(bootstrap, opts) {
			return Promise.resolve({ routes: [{ route: '/a' }, { route: 'b', renderMode: 'prerender' }], url: opts.url });
		}
	}
};`
}

const echoRender = `return Promise.resolve(opts.document.replace('<app-root></app-root>', '<app-root><h1>' + opts.url + '|' + ctx + '</h1></app-root>'));`

func TestMain(m *testing.M) {
	v := m.Run()
	snaps.Clean(m)
	os.Exit(v)
}

func newWorker(t *testing.T, cfg WorkerConfig) *Worker {
	t.Helper()
	cfg.NewRuntime = engine.New
	if cfg.Document == "" {
		cfg.Document = document
	}
	w, err := NewWorker(cfg)
	require.NoError(t, err)
	t.Cleanup(w.Close)
	return w
}

func TestRenderApplication(t *testing.T) {
	w := newWorker(t, WorkerConfig{Script: bundle(echoRender)})
	assert.Equal(t, KindApplication, w.Kind())

	res, err := w.Render(context.Background(), core.RenderTask{Route: "/about", ServerContext: core.ContextSSG})
	require.NoError(t, err)
	require.NotNil(t, res.Content)
	assert.Contains(t, *res.Content, "<h1>http://local-prerender/about|ssg</h1>")
	assert.Equal(t, "/about", res.Route)

	res, err = w.Render(context.Background(), core.RenderTask{Route: "/", ServerContext: core.ContextAppShell})
	require.NoError(t, err)
	assert.Contains(t, *res.Content, "|app-shell</h1>")
}

func TestRenderModuleBootstrap(t *testing.T) {
	script := `
class AppServerModule {}
AppServerModule['ɵmod'] = {};
globalThis.__prerender_exports__ = {
	bootstrap: AppServerModule,
	utils: {
		renderModule: function(mod, opts) {
			return Promise.resolve('module:' + opts.url + ':' + opts.extraProviders.length);
		},
		renderApplication: function() { return Promise.resolve('wrong renderer'); }
	}
};`
	w := newWorker(t, WorkerConfig{Script: script})
	assert.Equal(t, KindModule, w.Kind())

	res, err := w.Render(context.Background(), core.RenderTask{Route: "/x"})
	require.NoError(t, err)
	assert.Equal(t, "module:http://local-prerender/x:0", *res.Content)
}

func TestRenderTimeout(t *testing.T) {
	w := newWorker(t, WorkerConfig{
		Script: bundle(`return new Promise(function() {});`),
		Engine: core.EngineConfig{RenderTimeout: 100 * time.Millisecond},
	})

	start := time.Now()
	_, err := w.Render(context.Background(), core.RenderTask{Route: "/slow"})
	var timeout *core.RenderTimeoutError
	require.True(t, errors.As(err, &timeout), "got %v", err)
	assert.Equal(t, "/slow", timeout.Route)
	assert.Contains(t, err.Error(), "/slow")
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.True(t, w.Tainted())

	_, err = w.Render(context.Background(), core.RenderTask{Route: "/next"})
	assert.Error(t, err)
}

func TestRenderRunawayScriptIsInterrupted(t *testing.T) {
	w := newWorker(t, WorkerConfig{
		Script: bundle(`for (;;) {}`),
		Engine: core.EngineConfig{RenderTimeout: 100 * time.Millisecond},
	})

	_, err := w.Render(context.Background(), core.RenderTask{Route: "/loop"})
	var timeout *core.RenderTimeoutError
	require.True(t, errors.As(err, &timeout), "got %v", err)
	assert.True(t, w.Tainted())
}

func TestRenderWithTimers(t *testing.T) {
	w := newWorker(t, WorkerConfig{Script: bundle(`
		return new Promise(function(resolve) {
			setTimeout(function() { resolve('<p>late ' + ctx + '</p>'); }, 20);
		});`)})

	res, err := w.Render(context.Background(), core.RenderTask{Route: "/t"})
	require.NoError(t, err)
	assert.Equal(t, "<p>late ssg</p>", *res.Content)
}

func TestRenderNullContentIsAbsent(t *testing.T) {
	w := newWorker(t, WorkerConfig{Script: bundle(`return Promise.resolve(null);`)})

	res, err := w.Render(context.Background(), core.RenderTask{Route: "/skip"})
	require.NoError(t, err)
	assert.Nil(t, res.Content)
}

func TestRenderErrorPropagates(t *testing.T) {
	w := newWorker(t, WorkerConfig{Script: bundle(`return Promise.reject(new RangeError('bad route'));`)})

	_, err := w.Render(context.Background(), core.RenderTask{Route: "/bad"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad route")
	assert.False(t, w.Tainted())

	_, err = w.Render(context.Background(), core.RenderTask{Route: "/bad"})
	assert.Contains(t, err.Error(), "bad route")
}

func TestCriticalCSS(t *testing.T) {
	css := map[string]string{"browser/styles.css": "h1{color:red}.unused{color:blue}"}

	t.Run("disabled leaves html untouched", func(t *testing.T) {
		w := newWorker(t, WorkerConfig{Script: bundle(`return opts.document;`), CSSFiles: css})
		res, err := w.Render(context.Background(), core.RenderTask{Route: "/"})
		require.NoError(t, err)
		assert.Equal(t, document, *res.Content)
	})

	t.Run("enabled inlines matching rules", func(t *testing.T) {
		w := newWorker(t, WorkerConfig{Script: bundle(echoRender), CSSFiles: css, InlineCriticalCSS: true})
		res, err := w.Render(context.Background(), core.RenderTask{Route: "/"})
		require.NoError(t, err)
		assert.Contains(t, *res.Content, "<style>h1{color:red}</style>")
		assert.NotContains(t, *res.Content, ".unused")
	})

	t.Run("missing stylesheet fails", func(t *testing.T) {
		w := newWorker(t, WorkerConfig{Script: bundle(echoRender), InlineCriticalCSS: true})
		_, err := w.Render(context.Background(), core.RenderTask{Route: "/"})
		assert.True(t, errors.Is(err, core.ErrMissingStylesheet))
	})
}

func TestRenderFetchesVirtualAssets(t *testing.T) {
	tr, err := assetfetch.New(assetfetch.Config{
		BaseURL: DefaultBaseURL,
		Files:   map[string][]byte{"/assets/data.json": []byte(`{"title":"From assets"}`)},
	})
	require.NoError(t, err)

	w := newWorker(t, WorkerConfig{Transport: tr, Script: bundle(`
		return fetch(new URL('/assets/data.json', opts.url).href)
			.then(function(r) { return r.json(); })
			.then(function(d) { return '<h1>' + d.title + '</h1>'; });`)})

	res, err := w.Render(context.Background(), core.RenderTask{Route: "/data"})
	require.NoError(t, err)
	assert.Equal(t, "<h1>From assets</h1>", *res.Content)
}

func TestRedirectTask(t *testing.T) {
	w := newWorker(t, WorkerConfig{Script: bundle(echoRender)})
	res, err := w.Render(context.Background(), core.RenderTask{Route: "/old", RedirectTo: "/new"})
	require.NoError(t, err)
	assert.Equal(t, RedirectPage("/new"), *res.Content)
	assert.Contains(t, *res.Content, `content="0; url=/new"`)
	snaps.WithConfig(snaps.Ext(".html")).MatchSnapshot(t, *res.Content)
}

func TestConsoleIsTaggedAndFiltered(t *testing.T) {
	obsCore, logs := observer.New(zapcore.DebugLevel)
	script := `
class BaseConsole { log(m) { console.log(m); } warn(m) { console.warn(m); } }
globalThis.__prerender_exports__ = {
	bootstrap: function() {},
	utils: {
		'ɵConsole': BaseConsole,
		renderApplication: function(bootstrap, opts) {
			var c = opts.platformProviders.filter(function(p) { return p.provide === BaseConsole; })[0].useFactory();
			c.log('Angular is running in development mode.');
			c.log('kept');
			console.error('boom');
			return Promise.resolve('ok');
		}
	}
};`
	w := newWorker(t, WorkerConfig{Script: script, Logger: zap.New(obsCore)})

	_, err := w.Render(context.Background(), core.RenderTask{Route: "/logs"})
	require.NoError(t, err)

	var msgs []string
	for _, e := range logs.FilterField(zap.String("route", "/logs")).All() {
		msgs = append(msgs, e.Message)
	}
	assert.Contains(t, msgs, "kept")
	assert.Contains(t, msgs, "boom")
	assert.Equal(t, 1, logs.FilterMessage("boom").FilterLevelExact(zapcore.ErrorLevel).Len())
	assert.NotContains(t, strings.Join(msgs, "\n"), "development mode")
}

func TestCallReturnsJSON(t *testing.T) {
	w := newWorker(t, WorkerConfig{Script: bundle(echoRender)})
	out, err := w.Call(context.Background(), "__prerender_extract("+JSString("http://127.0.0.1:1234/")+")")
	require.NoError(t, err)
	assert.JSONEq(t, `{"routes":[{"route":"/a"},{"route":"b","renderMode":"prerender"}],"url":"http://127.0.0.1:1234/"}`, out)
}

func TestMissingExportsFailsInit(t *testing.T) {
	_, err := NewWorker(WorkerConfig{NewRuntime: engine.New, Script: `var nothing = 1;`})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no default export")
}

func TestBundleErrorFailsInit(t *testing.T) {
	_, err := NewWorker(WorkerConfig{NewRuntime: engine.New, Script: `throw new Error('top-level failure');`})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "top-level failure")
}
