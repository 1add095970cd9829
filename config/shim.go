package config

import "fmt"

// shimTemplate is the module-emulation shim spec.md §4.4/§9 requires: fresh
// module/exports bindings, module.exports pre-populated with the supplied
// default record, then the untrusted source runs against those bindings.
//
// The SAME template renders both the controller's local evaluation (below,
// via goja) and the page-injected preamble built by internal/proxycfg for
// window.BLeakConfig, so the two can never drift (spec.md §9).
const shimTemplate = `(function() {
  var module = { exports: %s };
  var exports = module.exports;
  (function(module, exports) {
%s
  })(module, exports);
  return module.exports;
})()`

// Render wraps source in the module-emulation shim, seeding module.exports
// with defaultsJSON (a JSON object literal).
func Render(defaultsJSON, source string) string {
	return fmt.Sprintf(shimTemplate, defaultsJSON, source)
}
