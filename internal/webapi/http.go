package webapi

import (
	"github.com/cryguy/prerender/internal/core"
	"github.com/cryguy/prerender/internal/eventloop"
)

// httpJS defines Headers, Request and Response. Bodies are held whole
// (string or Uint8Array); there is no streaming.
const httpJS = `
(function() {
	function Headers(init) {
		this._map = {};
		if (init == null) return;
		if (init instanceof Headers) {
			var self = this;
			init.forEach(function(v, k) { self.append(k, v); });
		} else if (Array.isArray(init)) {
			for (var i = 0; i < init.length; i++) this.append(init[i][0], init[i][1]);
		} else if (typeof init === 'object') {
			for (var k in init) if (Object.prototype.hasOwnProperty.call(init, k)) this.append(k, init[k]);
		}
	}
	Headers.prototype = {
		append: function(k, v) {
			k = String(k).toLowerCase();
			this._map[k] = this._map[k] !== undefined ? this._map[k] + ', ' + String(v) : String(v);
		},
		set: function(k, v) { this._map[String(k).toLowerCase()] = String(v); },
		get: function(k) { var v = this._map[String(k).toLowerCase()]; return v === undefined ? null : v; },
		has: function(k) { return this._map[String(k).toLowerCase()] !== undefined; },
		delete: function(k) { delete this._map[String(k).toLowerCase()]; },
		forEach: function(fn, self) {
			var keys = Object.keys(this._map).sort();
			for (var i = 0; i < keys.length; i++) fn.call(self, this._map[keys[i]], keys[i], this);
		},
		entries: function() {
			var m = this._map;
			return Object.keys(m).sort().map(function(k) { return [k, m[k]]; })[Symbol.iterator]();
		},
		keys: function() { return Object.keys(this._map).sort()[Symbol.iterator](); },
		values: function() { var m = this._map; return Object.keys(m).sort().map(function(k) { return m[k]; })[Symbol.iterator](); }
	};
	Headers.prototype[Symbol.iterator] = Headers.prototype.entries;

	function bodyMixin(proto) {
		proto.text = function() {
			if (this.bodyUsed) return Promise.reject(new TypeError('Body has already been consumed.'));
			this.bodyUsed = true;
			var b = this._body;
			if (b == null) return Promise.resolve('');
			if (typeof b === 'string') return Promise.resolve(b);
			return Promise.resolve(new TextDecoder().decode(b));
		};
		proto.json = function() { return this.text().then(function(t) { return JSON.parse(t); }); };
		proto.arrayBuffer = function() {
			if (this.bodyUsed) return Promise.reject(new TypeError('Body has already been consumed.'));
			this.bodyUsed = true;
			var b = this._body;
			if (b == null) return Promise.resolve(new ArrayBuffer(0));
			var bytes = typeof b === 'string' ? new TextEncoder().encode(b) : b;
			return Promise.resolve(bytes.buffer.slice(bytes.byteOffset, bytes.byteOffset + bytes.byteLength));
		};
	}

	function normalizeBody(body) {
		if (body == null) return null;
		if (typeof body === 'string') return body;
		if (body instanceof ArrayBuffer) return new Uint8Array(body);
		if (ArrayBuffer.isView(body)) return new Uint8Array(body.buffer, body.byteOffset, body.byteLength);
		if (body instanceof URLSearchParams) return body.toString();
		return String(body);
	}

	function Request(input, init) {
		init = init || {};
		if (input instanceof Request) {
			this.url = input.url;
			this.method = input.method;
			this.headers = new Headers(input.headers);
			this._body = input._body;
		} else {
			this.url = String(input instanceof URL ? input.href : input);
			this.method = 'GET';
			this.headers = new Headers();
			this._body = null;
		}
		if (init.method !== undefined) this.method = String(init.method).toUpperCase();
		if (init.headers !== undefined) this.headers = new Headers(init.headers);
		if (init.body !== undefined) this._body = normalizeBody(init.body);
		this.redirect = init.redirect || 'follow';
		this.signal = init.signal || null;
		this.bodyUsed = false;
	}
	bodyMixin(Request.prototype);
	Request.prototype.clone = function() { return new Request(this); };

	function Response(body, init) {
		init = init || {};
		this._body = normalizeBody(body);
		this.status = init.status === undefined ? 200 : init.status;
		this.statusText = init.statusText || '';
		this.headers = new Headers(init.headers);
		this.ok = this.status >= 200 && this.status < 300;
		this.url = '';
		this.redirected = false;
		this.type = 'default';
		this.bodyUsed = false;
	}
	bodyMixin(Response.prototype);
	Response.prototype.clone = function() {
		var r = new Response(this._body, { status: this.status, statusText: this.statusText, headers: this.headers });
		r.url = this.url;
		return r;
	};
	Response.json = function(data, init) {
		init = init || {};
		var h = new Headers(init.headers);
		if (!h.has('content-type')) h.set('content-type', 'application/json');
		return new Response(JSON.stringify(data), { status: init.status, statusText: init.statusText, headers: h });
	};
	Response.error = function() { var r = new Response(null, { status: 0 }); r.type = 'error'; return r; };

	globalThis.Headers = Headers;
	globalThis.Request = Request;
	globalThis.Response = Response;
})();
`

// SetupHTTP installs Headers, Request and Response.
func SetupHTTP(rt core.JSRuntime, _ *eventloop.EventLoop) error {
	return rt.Eval(httpJS)
}
