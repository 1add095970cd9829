// Package proxycfg implements the Proxy Configurator (spec.md §4.4): pushing
// rewrite/fix configuration and the browser-side config-injection preamble
// to a proxyhost.Proxy, and materializing the ConfigurationFile the
// controllers consult.
package proxycfg

import (
	"encoding/base64"
	"fmt"

	"github.com/dop251/goja"

	"bleak/config"
	"bleak/proxyhost"
)

// Configurator pushes settings to a proxyhost.Proxy on behalf of the
// detector's controllers, and holds the raw config source used both to
// materialize the ConfigurationFile locally and to build the page-injected
// preamble (spec.md §4.4 "the same shim").
type Configurator struct {
	Proxy  proxyhost.Proxy
	Source string
	Config *config.ConfigurationFile
}

// New materializes source into a ConfigurationFile (spec.md §4.4 "config
// materialization") and returns a Configurator ready to drive proxy.
func New(proxy proxyhost.Proxy, source string) (*Configurator, error) {
	cfg, err := config.Evaluate(source)
	if err != nil {
		return nil, fmt.Errorf("proxycfg: materialize config: %w", err)
	}
	return &Configurator{Proxy: proxy, Source: source, Config: cfg}, nil
}

// Configure installs rewriteJS/fixes/disableAllRewrites on the proxy along
// with the injection preamble, forwarding the config's rewrite function when
// useConfigRewrite is set (spec.md §4.4).
func (c *Configurator) Configure(rewriteJS bool, fixes []int, disableAllRewrites, useConfigRewrite bool) error {
	preamble, err := BuildPreamble(c.Source)
	if err != nil {
		return fmt.Errorf("proxycfg: build preamble: %w", err)
	}

	var rewriteFn proxyhost.RewriteFunc
	if useConfigRewrite && c.Config.RewriteSource != "" {
		rewriteFn = RewriteFn(c.Config.RewriteSource)
	}

	return c.Proxy.Configure(rewriteJS, fixes, preamble, disableAllRewrites, rewriteFn)
}

// BuildPreamble renders source under the module-emulation shim and wraps the
// result as a self-contained JS snippet that installs window.BLeakConfig,
// using the same config.Render template and config.DefaultsJSON seed the
// local config.Evaluate uses, so the two can never drift (spec.md §9).
func BuildPreamble(source string) (string, error) {
	defaultsJSON, err := config.DefaultsJSON()
	if err != nil {
		return "", err
	}
	shimmed := config.Render(defaultsJSON, source)
	return fmt.Sprintf("window.BLeakConfig = %s;", shimmed), nil
}

// RewriteFn adapts the config's page-script `rewrite` function to
// proxyhost.RewriteFunc via a fresh goja.Runtime per call, matching the
// module-emulation shim's "fresh, isolated context" discipline (spec.md §9)
// rather than caching a runtime across responses.
func RewriteFn(source string) proxyhost.RewriteFunc {
	return func(url, mimeType string, in []byte, fixes []int) ([]byte, error) {
		vm := goja.New()
		fnVal, err := vm.RunString("(" + source + ")")
		if err != nil {
			return nil, fmt.Errorf("proxycfg: compile rewrite function: %w", err)
		}
		fn, ok := goja.AssertFunction(fnVal)
		if !ok {
			return nil, fmt.Errorf("proxycfg: rewrite source is not a function")
		}
		encoded := base64.StdEncoding.EncodeToString(in)
		fixesArg := vm.ToValue(fixes)
		result, err := fn(goja.Undefined(), vm.ToValue(url), vm.ToValue(mimeType), vm.ToValue(encoded), fixesArg)
		if err != nil {
			return nil, fmt.Errorf("proxycfg: rewrite function failed: %w", err)
		}
		out, err := base64.StdEncoding.DecodeString(result.String())
		if err != nil {
			return nil, fmt.Errorf("proxycfg: rewrite function returned invalid base64: %w", err)
		}
		return out, nil
	}
}
