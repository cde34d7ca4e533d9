package webapi

import (
	"github.com/cryguy/prerender/internal/core"
)

const consoleJS = `
(function() {
	function format(args) {
		var parts = [];
		for (var i = 0; i < args.length; i++) {
			var a = args[i];
			if (a instanceof Error) {
				parts.push(a.stack ? String(a.stack) : String(a));
			} else if (typeof a === 'object' && a !== null) {
				try { parts.push(JSON.stringify(a)); } catch (e) { parts.push(String(a)); }
			} else {
				parts.push(String(a));
			}
		}
		return parts.join(' ');
	}
	var con = {};
	['log', 'info', 'warn', 'error', 'debug', 'trace'].forEach(function(level) {
		con[level] = function() { __console(level, format(arguments)); };
	});
	con.dir = con.log;
	con.table = con.log;
	con.group = con.groupCollapsed = con.groupEnd = con.time = con.timeEnd = function() {};
	con.assert = function(cond) {
		if (!cond) __console('error', 'Assertion failed: ' + format(Array.prototype.slice.call(arguments, 1)));
	};
	globalThis.console = con;
})();
`

// SetupConsole replaces console with one that forwards to sink.
func SetupConsole(rt core.JSRuntime, sink ConsoleSink) error {
	if err := rt.RegisterFunc("__console", func(level, message string) {
		if sink != nil {
			sink(level, message)
		}
	}); err != nil {
		return err
	}
	return rt.Eval(consoleJS)
}
