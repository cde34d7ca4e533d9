// Package assetfetch answers fetch calls made by application code during
// server rendering from the build's own assets, so a page that requests
// /assets/data.json gets the build output instead of a network round trip.
package assetfetch

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
)

// Config describes the assets a Transport serves.
type Config struct {
	// BaseURL is the origin application code fetches assets from. Only
	// requests whose hostname matches are considered.
	BaseURL string
	// Assets maps logical request paths to files on disk.
	Assets map[string]string
	// Files holds in-memory browser output keyed by request path.
	Files map[string][]byte
	// Next handles every request the Transport does not serve. Defaults
	// to http.DefaultTransport.
	Next   http.RoundTripper
	Logger *zap.Logger
}

type asset struct {
	body        []byte
	contentType string
}

// Transport is an http.RoundTripper that serves known assets and passes
// everything else to Next. It is also an http.Handler for local listeners.
type Transport struct {
	host   string
	assets map[string]string
	files  map[string][]byte
	next   http.RoundTripper
	log    *zap.Logger

	mu    sync.RWMutex
	cache map[string]asset
}

// New builds a Transport. The maps are copied; later changes to cfg do not
// affect it.
func New(cfg Config) (*Transport, error) {
	var host string
	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("parsing asset base URL: %w", err)
		}
		host = u.Hostname()
	}
	t := &Transport{
		host:   host,
		assets: make(map[string]string, len(cfg.Assets)),
		files:  make(map[string][]byte, len(cfg.Files)),
		next:   cfg.Next,
		log:    cfg.Logger,
		cache:  make(map[string]asset),
	}
	if t.next == nil {
		t.next = http.DefaultTransport
	}
	if t.log == nil {
		t.log = zap.NewNop()
	}
	for p, src := range cfg.Assets {
		t.assets[requestPath(p)] = src
	}
	for p, b := range cfg.Files {
		t.files[requestPath(p)] = b
	}
	return t, nil
}

func requestPath(p string) string {
	return path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.host == "" || req.URL.Hostname() != t.host || (req.Method != http.MethodGet && req.Method != http.MethodHead) {
		return t.next.RoundTrip(req)
	}
	a, ok, err := t.lookup(req.URL.Path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return t.next.RoundTrip(req)
	}
	t.log.Debug("serving asset", zap.String("path", req.URL.Path), zap.String("content_type", a.contentType))

	var body io.ReadCloser = http.NoBody
	if req.Method == http.MethodGet {
		body = io.NopCloser(bytes.NewReader(a.body))
	}
	return &http.Response{
		Status:     "200 OK",
		StatusCode: http.StatusOK,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header: http.Header{
			"Content-Type":   {a.contentType},
			"Content-Length": {strconv.Itoa(len(a.body))},
		},
		ContentLength: int64(len(a.body)),
		Body:          body,
		Request:       req,
	}, nil
}

// ServeHTTP serves known assets and answers 404 for everything else.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a, ok, err := t.lookup(r.URL.Path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", a.contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(a.body)))
	if r.Method != http.MethodHead {
		_, _ = w.Write(a.body)
	}
}

// lookup resolves a decoded request path. Hits are cached for the lifetime
// of the Transport; misses are not.
func (t *Transport) lookup(p string) (asset, bool, error) {
	p = requestPath(p)

	t.mu.RLock()
	a, ok := t.cache[p]
	t.mu.RUnlock()
	if ok {
		return a, true, nil
	}

	body, ok := t.files[p]
	if !ok {
		src, found := t.assets[p]
		if !found {
			return asset{}, false, nil
		}
		b, err := os.ReadFile(src)
		if err != nil {
			return asset{}, false, fmt.Errorf("reading asset %s: %w", p, err)
		}
		body = b
	}

	a = asset{body: body, contentType: contentType(p, body)}
	t.mu.Lock()
	t.cache[p] = a
	t.mu.Unlock()
	return a, true, nil
}

// contentType guesses the MIME type from the extension and falls back to
// sniffing the content.
func contentType(name string, body []byte) string {
	if ext := strings.ToLower(filepath.Ext(name)); ext != "" {
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
	}
	return mimetype.Detect(body).String()
}
