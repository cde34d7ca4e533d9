package webapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/cryguy/prerender/internal/core"
	"github.com/cryguy/prerender/internal/eventloop"
)

// fetchJS defines fetch() on top of the Go-side __fetchStart. Results come
// back through __fetchResolve/__fetchReject when the event loop drains.
const fetchJS = `
(function() {
	globalThis.__fetchPromises = {};

	globalThis.fetch = function(input, init) {
		var req;
		try {
			req = new Request(input, init);
		} catch (e) {
			return Promise.reject(e);
		}
		if (req.signal && req.signal.aborted) {
			return Promise.reject(new Error('The operation was aborted.'));
		}
		var headers = {};
		req.headers.forEach(function(v, k) { headers[k] = v; });
		var body = '', bodyIsBase64 = false;
		if (req._body != null) {
			if (typeof req._body === 'string') {
				body = req._body;
			} else {
				body = __bytesToB64(req._body);
				bodyIsBase64 = true;
			}
		}
		var args = JSON.stringify({
			url: req.url, method: req.method, headers: headers,
			body: body, bodyIsBase64: bodyIsBase64, redirect: req.redirect
		});
		return new Promise(function(resolve, reject) {
			try {
				var id = __fetchStart(args);
				globalThis.__fetchPromises[id] = { resolve: resolve, reject: reject };
			} catch (e) {
				reject(e);
			}
		});
	};

	globalThis.__fetchResolve = function(id, status, statusText, headersJSON, bodyB64, finalURL) {
		var p = globalThis.__fetchPromises[id];
		delete globalThis.__fetchPromises[id];
		if (!p) return;
		try {
			var body = bodyB64 ? __b64ToBytes(bodyB64) : null;
			var r = new Response(body, { status: status, statusText: statusText, headers: JSON.parse(headersJSON) });
			r.url = finalURL;
			p.resolve(r);
		} catch (e) {
			p.reject(e);
		}
	};

	globalThis.__fetchReject = function(id, message) {
		var p = globalThis.__fetchPromises[id];
		delete globalThis.__fetchPromises[id];
		if (p) p.reject(new TypeError(message));
	};
})();
`

type fetchArgs struct {
	URL          string            `json:"url"`
	Method       string            `json:"method"`
	Headers      map[string]string `json:"headers"`
	Body         string            `json:"body"`
	BodyIsBase64 bool              `json:"bodyIsBase64"`
	Redirect     string            `json:"redirect"`
}

// SetupFetch installs fetch. Requests go through cfg.Transport, which is
// how the asset virtualizer reaches application code.
func SetupFetch(rt core.JSRuntime, el *eventloop.EventLoop, cfg Config) error {
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	maxBytes := int64(cfg.MaxResponseBytes)
	if maxBytes <= 0 {
		maxBytes = 10 * 1024 * 1024
	}
	var seq atomic.Int64

	if err := rt.RegisterFunc("__fetchStart", func(argsJSON string) (string, error) {
		var args fetchArgs
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return "", fmt.Errorf("fetch: parsing arguments: %s", err)
		}
		if args.URL == "" {
			return "", fmt.Errorf("fetch requires a URL")
		}

		var body io.Reader
		if args.Body != "" {
			if args.BodyIsBase64 {
				raw, err := base64.StdEncoding.DecodeString(args.Body)
				if err != nil {
					return "", fmt.Errorf("fetch: decoding body: %s", err)
				}
				body = bytes.NewReader(raw)
			} else {
				body = strings.NewReader(args.Body)
			}
		}

		ctx := context.Background()
		var cancel context.CancelFunc = func() {}
		if cfg.FetchTimeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, cfg.FetchTimeout)
		}
		req, err := http.NewRequestWithContext(ctx, args.Method, args.URL, body)
		if err != nil {
			cancel()
			return "", fmt.Errorf("fetch: %s", err)
		}
		for k, v := range args.Headers {
			req.Header.Set(k, v)
		}

		client := &http.Client{Transport: transport}
		switch args.Redirect {
		case "manual":
			client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
		case "error":
			client.CheckRedirect = func(*http.Request, []*http.Request) error {
				return fmt.Errorf("redirect mode is 'error'")
			}
		}

		id := "f" + strconv.FormatInt(seq.Add(1), 10)
		ch := make(chan eventloop.FetchResult, 1)
		go func() {
			defer cancel()
			ch <- doFetch(client, req, maxBytes)
		}()
		el.AddPendingFetch(&eventloop.PendingFetch{ResultCh: ch, FetchID: id})
		return id, nil
	}); err != nil {
		return err
	}
	return rt.Eval(fetchJS)
}

func doFetch(client *http.Client, req *http.Request, maxBytes int64) eventloop.FetchResult {
	resp, err := client.Do(req)
	if err != nil {
		return eventloop.FetchResult{Err: fmt.Errorf("fetch failed: %s", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return eventloop.FetchResult{Err: fmt.Errorf("fetch: reading body: %s", err)}
	}
	if int64(len(data)) > maxBytes {
		return eventloop.FetchResult{Err: fmt.Errorf("fetch: response body exceeds %d bytes", maxBytes)}
	}

	headers := make(map[string]string, len(resp.Header))
	for k, vals := range resp.Header {
		headers[strings.ToLower(k)] = strings.Join(vals, ", ")
	}
	headersJSON, _ := json.Marshal(headers)

	finalURL := req.URL.String()
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return eventloop.FetchResult{
		Status:      resp.StatusCode,
		StatusText:  strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode))),
		HeadersJSON: string(headersJSON),
		BodyB64:     base64.StdEncoding.EncodeToString(data),
		FinalURL:    finalURL,
	}
}
