package render

import (
	"encoding/json"
	"fmt"
	"html"
)

// DefaultBaseURL is the origin pages are rendered under. The asset
// virtualizer answers fetches to this host.
const DefaultBaseURL = "http://local-prerender"

// devModeNotice is dropped by the filtered console handed to the app.
const devModeNotice = "Angular is running in development mode."

// glueJS adapts the bundle exports to three entry points called from Go.
// The bootstrap kind is probed once here and read back by NewWorker.
var glueJS = fmt.Sprintf(`
(function() {
	var exp = globalThis.__prerender_exports__;
	if (!exp || exp.bootstrap == null) {
		throw new Error('server bundle has no default export');
	}
	var utils = exp.utils || {};
	var bootstrap = exp.bootstrap;

	var FilteredConsole = null;
	if (typeof utils['ɵConsole'] === 'function') {
		var Base = utils['ɵConsole'];
		FilteredConsole = class extends Base {
			log(message) {
				if (message !== %s) super.log(message);
			}
		};
	}

	function providers(ctx) {
		var list = [];
		if (utils['ɵSERVER_CONTEXT'] !== undefined) {
			list.push({ provide: utils['ɵSERVER_CONTEXT'], useValue: ctx });
		}
		if (FilteredConsole) {
			list.push({ provide: utils['ɵConsole'], useFactory: function() { return new FilteredConsole(); } });
		}
		return list;
	}

	globalThis.__prerender_kind = ('ɵmod' in Object(bootstrap)) ? 'module' : 'application';

	globalThis.__prerender_render = function(url, ctx) {
		var document = globalThis.__prerender_document;
		if (globalThis.__prerender_kind === 'module') {
			return utils.renderModule(bootstrap, { document: document, url: url, extraProviders: providers(ctx) });
		}
		return utils.renderApplication(bootstrap, { document: document, url: url, platformProviders: providers(ctx) });
	};

	globalThis.__prerender_extract = function(url) {
		if (typeof utils.extractRoutes !== 'function') {
			throw new TypeError('render utilities do not export extractRoutes');
		}
		return utils.extractRoutes(bootstrap, { document: globalThis.__prerender_document, url: url });
	};
})();
`, JSString(devModeNotice))

// JSString quotes s as a JavaScript string literal.
func JSString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// RedirectPage is the static page written for a route that redirects.
func RedirectPage(to string) string {
	u := html.EscapeString(to)
	return `<!DOCTYPE html><html><head><meta charset="utf-8"><title>Redirecting</title>` +
		`<meta http-equiv="refresh" content="0; url=` + u + `">` +
		`<link rel="canonical" href="` + u + `"></head>` +
		`<body><pre>Redirecting to <a href="` + u + `">` + u + `</a></pre></body></html>`
}
