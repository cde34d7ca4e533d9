package webapi

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/cryguy/prerender/internal/core"
	"github.com/cryguy/prerender/internal/eventloop"
)

// encodingJS wraps the Go base64 helpers and adds UTF-8 TextEncoder and
// TextDecoder plus the byte/base64 bridges used by fetch.
const encodingJS = `
(function() {
	globalThis.btoa = function(data) {
		if (arguments.length < 1) throw new TypeError("btoa requires 1 argument");
		var s = String(data);
		for (var i = 0; i < s.length; i++) {
			if (s.charCodeAt(i) > 255) throw new Error("btoa: string contains characters outside of the Latin1 range");
		}
		return __btoa(s);
	};
	globalThis.atob = function(data) {
		if (arguments.length < 1) throw new TypeError("atob requires 1 argument");
		return __atob(String(data));
	};

	function TextEncoder() {}
	TextEncoder.prototype.encoding = 'utf-8';
	TextEncoder.prototype.encode = function(input) {
		var s = input === undefined ? '' : String(input);
		var out = [];
		for (var i = 0; i < s.length; i++) {
			var c = s.codePointAt(i);
			if (c > 0xffff) i++;
			if (c >= 0xd800 && c <= 0xdfff) c = 0xfffd;
			if (c < 0x80) {
				out.push(c);
			} else if (c < 0x800) {
				out.push(0xc0 | (c >> 6), 0x80 | (c & 63));
			} else if (c < 0x10000) {
				out.push(0xe0 | (c >> 12), 0x80 | ((c >> 6) & 63), 0x80 | (c & 63));
			} else {
				out.push(0xf0 | (c >> 18), 0x80 | ((c >> 12) & 63), 0x80 | ((c >> 6) & 63), 0x80 | (c & 63));
			}
		}
		return new Uint8Array(out);
	};

	function TextDecoder(label) {
		var l = (label || 'utf-8').toLowerCase();
		if (l !== 'utf-8' && l !== 'utf8') throw new RangeError('unsupported encoding: ' + label);
	}
	TextDecoder.prototype.encoding = 'utf-8';
	TextDecoder.prototype.decode = function(input) {
		if (input == null) return '';
		var b = input instanceof ArrayBuffer ? new Uint8Array(input)
			: new Uint8Array(input.buffer, input.byteOffset, input.byteLength);
		var s = '';
		for (var i = 0; i < b.length;) {
			var c = b[i++], cp;
			if (c < 0x80) cp = c;
			else if (c >= 0xc0 && c < 0xe0) cp = ((c & 31) << 6) | (b[i++] & 63);
			else if (c >= 0xe0 && c < 0xf0) cp = ((c & 15) << 12) | ((b[i++] & 63) << 6) | (b[i++] & 63);
			else if (c >= 0xf0) cp = ((c & 7) << 18) | ((b[i++] & 63) << 12) | ((b[i++] & 63) << 6) | (b[i++] & 63);
			else cp = 0xfffd;
			s += String.fromCodePoint(cp);
		}
		return s;
	};
	globalThis.TextEncoder = TextEncoder;
	globalThis.TextDecoder = TextDecoder;

	var B64 = 'ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/';
	var B64_INDEX = {};
	for (var k = 0; k < B64.length; k++) B64_INDEX[B64.charAt(k)] = k;

	// Byte bridges stay in JS so NUL bytes never cross the engine boundary.
	globalThis.__bytesToB64 = function(data) {
		var b = data instanceof ArrayBuffer ? new Uint8Array(data)
			: new Uint8Array(data.buffer, data.byteOffset, data.byteLength);
		var out = [];
		for (var i = 0; i < b.length; i += 3) {
			var n = (b[i] << 16) | ((i + 1 < b.length ? b[i + 1] : 0) << 8) | (i + 2 < b.length ? b[i + 2] : 0);
			out.push(B64.charAt((n >> 18) & 63), B64.charAt((n >> 12) & 63),
				i + 1 < b.length ? B64.charAt((n >> 6) & 63) : '=',
				i + 2 < b.length ? B64.charAt(n & 63) : '=');
		}
		return out.join('');
	};
	globalThis.__b64ToBytes = function(b64) {
		var s = String(b64).replace(/[^A-Za-z0-9+/]/g, '');
		var out = new Uint8Array(Math.floor(s.length * 3 / 4));
		var j = 0;
		for (var i = 0; i < s.length; i += 4) {
			var n = (B64_INDEX[s.charAt(i)] << 18) | (B64_INDEX[s.charAt(i + 1)] << 12) |
				((B64_INDEX[s.charAt(i + 2)] || 0) << 6) | (B64_INDEX[s.charAt(i + 3)] || 0);
			out[j++] = (n >> 16) & 255;
			if (i + 2 < s.length) out[j++] = (n >> 8) & 255;
			if (i + 3 < s.length) out[j++] = n & 255;
		}
		return out.subarray(0, j);
	};
})();
`

// SetupEncoding installs atob/btoa, TextEncoder and TextDecoder.
func SetupEncoding(rt core.JSRuntime, _ *eventloop.EventLoop) error {
	if err := rt.RegisterFunc("__btoa", func(latin1 string) string {
		return base64.StdEncoding.EncodeToString(latin1Bytes(latin1))
	}); err != nil {
		return err
	}
	if err := rt.RegisterFunc("__atob", func(data string) (string, error) {
		data = strings.Map(func(r rune) rune {
			switch r {
			case ' ', '\t', '\n', '\f', '\r':
				return -1
			}
			return r
		}, data)
		raw, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(data, "="))
		}
		if err != nil {
			return "", fmt.Errorf("atob: invalid base64 string")
		}
		return latin1String(raw), nil
	}); err != nil {
		return err
	}
	if err := rt.Eval(encodingJS); err != nil {
		return fmt.Errorf("evaluating encoding prelude: %w", err)
	}
	return nil
}

// latin1Bytes maps each code point of s onto one byte.
func latin1Bytes(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		out = append(out, byte(r))
	}
	return out
}

// latin1String maps each byte onto the code point of the same value.
func latin1String(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		sb.WriteRune(rune(c))
	}
	return sb.String()
}
