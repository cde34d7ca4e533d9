package webapi

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/cryguy/prerender/internal/core"
	"github.com/cryguy/prerender/internal/eventloop"
)

// URLParts is the decomposition of a URL handed to the JS URL class.
type URLParts struct {
	Href     string `json:"href"`
	Protocol string `json:"protocol"`
	Host     string `json:"host"`
	Hostname string `json:"hostname"`
	Port     string `json:"port"`
	Pathname string `json:"pathname"`
	Search   string `json:"search"`
	Hash     string `json:"hash"`
	Origin   string `json:"origin"`
}

// ParseURL resolves rawURL against base (which may be empty) the way the
// WHATWG URL constructor does for the http(s) URLs a prerender sees.
func ParseURL(rawURL, base string) (*URLParts, error) {
	ref, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("Invalid URL: %s", rawURL)
	}
	u := ref
	if base != "" {
		b, err := url.Parse(base)
		if err != nil || b.Scheme == "" {
			return nil, fmt.Errorf("Invalid base URL: %s", base)
		}
		u = b.ResolveReference(ref)
	}
	if u.Scheme == "" {
		return nil, fmt.Errorf("Invalid URL: %s", rawURL)
	}

	p := &URLParts{
		Protocol: u.Scheme + ":",
		Host:     u.Host,
		Hostname: u.Hostname(),
		Port:     u.Port(),
		Pathname: u.EscapedPath(),
	}
	if p.Pathname == "" && u.Host != "" {
		p.Pathname = "/"
	}
	if u.RawQuery != "" {
		p.Search = "?" + u.RawQuery
	}
	if u.Fragment != "" {
		p.Hash = "#" + u.EscapedFragment()
	}
	if u.Host != "" {
		p.Origin = p.Protocol + "//" + p.Host
	} else {
		p.Origin = "null"
	}
	authority := ""
	if u.Host != "" || u.Scheme == "http" || u.Scheme == "https" {
		authority = "//" + p.Host
	}
	p.Href = p.Protocol + authority + p.Pathname + p.Search + p.Hash
	return p, nil
}

const urlJS = `
(function() {
	function URLSearchParams(init) {
		this._list = [];
		if (init == null) return;
		if (typeof init === 'string') {
			var s = init.charAt(0) === '?' ? init.slice(1) : init;
			if (!s) return;
			var pairs = s.split('&');
			for (var i = 0; i < pairs.length; i++) {
				if (!pairs[i]) continue;
				var eq = pairs[i].indexOf('=');
				var k = eq < 0 ? pairs[i] : pairs[i].slice(0, eq);
				var v = eq < 0 ? '' : pairs[i].slice(eq + 1);
				this._list.push([decode(k), decode(v)]);
			}
		} else if (Array.isArray(init)) {
			for (var j = 0; j < init.length; j++) this._list.push([String(init[j][0]), String(init[j][1])]);
		} else if (typeof init === 'object') {
			for (var key in init) {
				if (Object.prototype.hasOwnProperty.call(init, key)) this._list.push([key, String(init[key])]);
			}
		}
	}
	function decode(s) { return decodeURIComponent(s.replace(/\+/g, ' ')); }
	function encode(s) { return encodeURIComponent(s).replace(/%20/g, '+'); }
	URLSearchParams.prototype = {
		append: function(k, v) { this._list.push([String(k), String(v)]); this._sync(); },
		delete: function(k) { this._list = this._list.filter(function(p) { return p[0] !== k; }); this._sync(); },
		get: function(k) { for (var i = 0; i < this._list.length; i++) if (this._list[i][0] === k) return this._list[i][1]; return null; },
		getAll: function(k) { return this._list.filter(function(p) { return p[0] === k; }).map(function(p) { return p[1]; }); },
		has: function(k) { return this.get(k) !== null; },
		set: function(k, v) {
			var found = false, out = [];
			for (var i = 0; i < this._list.length; i++) {
				if (this._list[i][0] !== k) { out.push(this._list[i]); continue; }
				if (!found) { out.push([k, String(v)]); found = true; }
			}
			if (!found) out.push([String(k), String(v)]);
			this._list = out;
			this._sync();
		},
		forEach: function(fn, self) { for (var i = 0; i < this._list.length; i++) fn.call(self, this._list[i][1], this._list[i][0], this); },
		keys: function() { return this._list.map(function(p) { return p[0]; })[Symbol.iterator](); },
		values: function() { return this._list.map(function(p) { return p[1]; })[Symbol.iterator](); },
		entries: function() { return this._list.map(function(p) { return [p[0], p[1]]; })[Symbol.iterator](); },
		toString: function() { return this._list.map(function(p) { return encode(p[0]) + '=' + encode(p[1]); }).join('&'); },
		_sync: function() { if (this._url) { var q = this.toString(); this._url._p.search = q ? '?' + q : ''; this._url._rebuild(); } }
	};
	URLSearchParams.prototype[Symbol.iterator] = URLSearchParams.prototype.entries;

	function URL(input, base) {
		var raw = JSON.parse(__parseURL(String(input), base === undefined ? '' : String(base)));
		if (raw.error) throw new TypeError(raw.error);
		this._p = raw;
		this._params = null;
	}
	URL.prototype._rebuild = function() {
		var p = this._p;
		p.href = p.protocol + (p.host ? '//' + p.host : '') + p.pathname + p.search + p.hash;
	};
	['href', 'protocol', 'host', 'hostname', 'port', 'pathname', 'search', 'hash', 'origin'].forEach(function(name) {
		Object.defineProperty(URL.prototype, name, {
			get: function() { return this._p[name]; },
			set: function(v) {
				if (name === 'href') { this._p = new URL(v)._p; this._params = null; return; }
				this._p[name] = String(v);
				if (name === 'search') this._params = null;
				this._rebuild();
			}
		});
	});
	Object.defineProperty(URL.prototype, 'searchParams', {
		get: function() {
			if (!this._params) { this._params = new URLSearchParams(this._p.search); this._params._url = this; }
			return this._params;
		}
	});
	URL.prototype.toString = URL.prototype.toJSON = function() { return this._p.href; };
	URL.canParse = function(input, base) { try { new URL(input, base); return true; } catch (e) { return false; } };

	globalThis.URL = URL;
	globalThis.URLSearchParams = URLSearchParams;
})();
`

// SetupURL installs URL and URLSearchParams backed by net/url.
func SetupURL(rt core.JSRuntime, _ *eventloop.EventLoop) error {
	if err := rt.RegisterFunc("__parseURL", func(rawURL, base string) string {
		parts, err := ParseURL(rawURL, base)
		if err != nil {
			data, _ := json.Marshal(map[string]string{"error": err.Error()})
			return string(data)
		}
		data, _ := json.Marshal(parts)
		return string(data)
	}); err != nil {
		return err
	}
	return rt.Eval(urlJS)
}
