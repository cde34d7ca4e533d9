package prerender

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The test binary doubles as the renderer child.
func TestMain(m *testing.M) {
	MaybeRunChild()
	os.Exit(m.Run())
}

const document = `<!DOCTYPE html><html><head><title>app</title></head><body><app-root></app-root></body></html>`

func serverFiles(render string) []BuildOutputFile {
	return []BuildOutputFile{
		{Path: "main.server.mjs", Kind: KindServer, Content: []byte(`
import { title } from './chunk-title.mjs';
export default function bootstrap() { return title; }`)},
		{Path: "chunk-title.mjs", Kind: KindServer, Content: []byte(`export const title = 'Shop';`)},
		{Path: "render-utils.server.mjs", Kind: KindServer, Content: []byte(`
export const ɵSERVER_CONTEXT = 'SERVER_CONTEXT';
export function renderApplication(bootstrap, opts) {
	var path = new URL(opts.url).pathname;
	` + render + `
}
export function extractRoutes() {
	return { routes: [{ route: '/' }, { route: '/products' }, { route: '/old', redirectTo: '/products' }] };
}`)},
	}
}

const okRender = `return Promise.resolve(opts.document.replace('<app-root></app-root>', '<app-root>' + bootstrap() + ' ' + path + '</app-root>'));`

func TestPrerenderEndToEnd(t *testing.T) {
	res, err := Prerender(context.Background(), Options{
		Files:          serverFiles(okRender),
		Document:       document,
		DiscoverRoutes: true,
		MaxThreads:     2,
		WorkspaceRoot:  t.TempDir(),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"/", "/old", "/products"}, res.PrerenderedRoutes)
	assert.Contains(t, res.Output["index.html"], "<app-root>Shop /</app-root>")
	assert.Contains(t, res.Output["products/index.html"], "<app-root>Shop /products</app-root>")
	assert.Contains(t, res.Output["old/index.html"], `<meta http-equiv="refresh" content="0; url=/products">`)
	assert.Empty(t, res.Errors)
}

func TestPrerenderRouteFailuresAreIsolated(t *testing.T) {
	res, err := Prerender(context.Background(), Options{
		Files: serverFiles(`if (path === '/products') throw new Error('no inventory');
	` + okRender),
		Document:       document,
		DiscoverRoutes: true,
		WorkspaceRoot:  t.TempDir(),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"/", "/old"}, res.PrerenderedRoutes)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "route '/products'")
	assert.Contains(t, res.Errors[0], "no inventory")
}

func TestPrerenderReportsChildFailure(t *testing.T) {
	files := serverFiles(okRender)
	files[0].Content = []byte(`import './chunk-missing.mjs'; export default 1;`)

	_, err := Prerender(context.Background(), Options{
		Files:         files,
		Document:      document,
		AppShellRoute: "/",
		WorkspaceRoot: t.TempDir(),
	})
	var ce *ChildError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Equal(t, "AssertionError", ce.Name)
	assert.Contains(t, ce.Message, "chunk-missing.mjs")
}

func TestReadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "assets"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.server.mjs"), []byte("export default 1;"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.server.mjs.map"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "assets", "data.json"), []byte("[]"), 0o644))

	files, err := ReadDir(dir, KindServer)
	require.NoError(t, err)
	byPath := map[string]BuildOutputFile{}
	for _, f := range files {
		byPath[f.Path] = f
	}
	require.Len(t, byPath, 3)
	assert.True(t, byPath["main.server.mjs.map"].IsSourceMap)
	assert.False(t, byPath["main.server.mjs"].IsSourceMap)
	assert.Equal(t, KindServer, byPath["assets/data.json"].Kind)

	_, err = ReadDir(t.TempDir(), KindBrowser)
	assert.Error(t, err)
}

func TestIsChild(t *testing.T) {
	assert.False(t, IsChild())
	t.Setenv("PRERENDER_CHILD", "1")
	assert.True(t, IsChild())
}
