package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// Evaluate materializes a ConfigurationFile from untrusted page-script
// source, per spec.md §4.4 "Config materialization" and §9 "Config as
// executable code": a fresh, isolated evaluation context per call, with
// module.exports seeded as a deep copy of Defaults() before the source runs.
//
// Untrusted config source is executed here deliberately — the shim isolates
// it from ambient Go state, but the source itself is trusted content per
// spec.md §9, not sandboxed against malicious intent.
func Evaluate(source string) (*ConfigurationFile, error) {
	defaultsJSON, err := DefaultsJSON()
	if err != nil {
		return nil, fmt.Errorf("config: marshal defaults: %w", err)
	}

	vm := goja.New()
	wrapped := Render(defaultsJSON, source)
	val, err := vm.RunString(wrapped)
	if err != nil {
		return nil, fmt.Errorf("config: evaluate source: %w", err)
	}
	obj := val.ToObject(vm)
	if obj == nil {
		return nil, fmt.Errorf("config: module.exports did not resolve to an object")
	}
	return decodeExports(obj, vm)
}

// DefaultsJSON renders Defaults() as a JSON object literal usable directly
// inside JS source (module.exports = <this>). It is the single source of
// truth both Evaluate and internal/proxycfg's page-injected preamble build
// on, so the local shim and the page shim can never drift (spec.md §9).
func DefaultsJSON() (string, error) { return defaultsExportJSON(Defaults()) }

// defaultsExportJSON renders c as a JSON object literal usable directly
// inside JS source (module.exports = <this>), translating the
// durations to milliseconds and the ordered leaks map to a plain object so
// key order in the resulting JS object matches insertion order.
func defaultsExportJSON(c *ConfigurationFile) (string, error) {
	type wire struct {
		Name       string          `json:"name"`
		Iterations int             `json:"iterations"`
		URL        string          `json:"url"`
		FixedLeaks []int           `json:"fixedLeaks"`
		Leaks      json.RawMessage `json:"leaks"`
		BlackBox   []string        `json:"blackBox"`
		Login      []Step          `json:"login"`
		Setup      []Step          `json:"setup"`
		Loop       []Step          `json:"loop"`
		Timeout    int64           `json:"timeout"`
	}
	var leaks bytes.Buffer
	leaks.WriteByte('{')
	for i, k := range c.Leaks.Keys {
		if i > 0 {
			leaks.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		vb, _ := json.Marshal(c.Leaks.Values[k])
		leaks.Write(kb)
		leaks.WriteByte(':')
		leaks.Write(vb)
	}
	leaks.WriteByte('}')
	w := wire{
		Name:       c.Name,
		Iterations: c.Iterations,
		URL:        c.URL,
		FixedLeaks: c.FixedLeaks,
		Leaks:      leaks.Bytes(),
		BlackBox:   c.BlackBox,
		Login:      c.Login,
		Setup:      c.Setup,
		Loop:       c.Loop,
		Timeout:    c.Timeout.Milliseconds(),
	}
	b, err := json.Marshal(w)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeExports reads the post-evaluation module.exports object back out of
// the runtime. Scalar/array fields round-trip through Export(); the `leaks`
// field is read through the object's own key order so iteration order
// (spec.md §9) survives instead of collapsing into an unordered Go map.
func decodeExports(obj *goja.Object, vm *goja.Runtime) (*ConfigurationFile, error) {
	c := &ConfigurationFile{
		Leaks: OrderedLeaks{Keys: []string{}, Values: map[string][]int{}},
	}

	if v := obj.Get("name"); v != nil {
		c.Name, _ = v.Export().(string)
	}
	if v := obj.Get("url"); v != nil {
		c.URL, _ = v.Export().(string)
	}
	c.Iterations = exportInt(obj.Get("iterations"), 4)
	c.FixedLeaks = exportIntSlice(obj.Get("fixedLeaks"))
	c.BlackBox = exportStringSlice(obj.Get("blackBox"))
	if v := obj.Get("rewrite"); v != nil {
		if _, ok := goja.AssertFunction(v); ok {
			c.RewriteSource = v.String()
		}
	}
	c.Timeout = time.Duration(exportInt(obj.Get("timeout"), 30000)) * time.Millisecond

	var err error
	if c.Login, err = exportSteps(obj.Get("login"), vm); err != nil {
		return nil, fmt.Errorf("config: login steps: %w", err)
	}
	if c.Setup, err = exportSteps(obj.Get("setup"), vm); err != nil {
		return nil, fmt.Errorf("config: setup steps: %w", err)
	}
	if c.Loop, err = exportSteps(obj.Get("loop"), vm); err != nil {
		return nil, fmt.Errorf("config: loop steps: %w", err)
	}

	if leaksVal := obj.Get("leaks"); leaksVal != nil {
		if leaksObj := leaksVal.ToObject(vm); leaksObj != nil {
			for _, key := range leaksObj.Keys() {
				ids := exportIntSlice(leaksObj.Get(key))
				c.Leaks.Keys = append(c.Leaks.Keys, key)
				c.Leaks.Values[key] = ids
			}
		}
	}
	return c, nil
}

func exportInt(v goja.Value, fallback int) int {
	if v == nil {
		return fallback
	}
	switch n := v.Export().(type) {
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return fallback
	}
}

func exportIntSlice(v goja.Value) []int {
	if v == nil {
		return nil
	}
	raw, ok := v.Export().([]interface{})
	if !ok {
		return nil
	}
	out := make([]int, 0, len(raw))
	for _, r := range raw {
		switch n := r.(type) {
		case int64:
			out = append(out, int(n))
		case float64:
			out = append(out, int(n))
		}
	}
	return out
}

func exportStringSlice(v goja.Value) []string {
	if v == nil {
		return nil
	}
	raw, ok := v.Export().([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// exportSteps reads a page-side step array. Each step's check/next remain
// source fragments (function bodies aren't invoked here — spec.md §4.1
// interprets them in the page), so we capture their source text via
// Function.prototype.toString for passthrough to the driver later.
func exportSteps(v goja.Value, vm *goja.Runtime) ([]Step, error) {
	if v == nil {
		return []Step{}, nil
	}
	raw, ok := v.Export().([]interface{})
	if !ok {
		return []Step{}, nil
	}
	toString, err := vm.RunString(`(function(fn){ return typeof fn === "function" ? fn.toString() : ""; })`)
	if err != nil {
		return nil, err
	}
	toStringFn, ok := goja.AssertFunction(toString)
	if !ok {
		return nil, fmt.Errorf("config: internal toString helper is not callable")
	}

	stepsVal := v.ToObject(vm)
	out := make([]Step, 0, len(raw))
	for i := range raw {
		stepObj := stepsVal.Get(fmt.Sprintf("%d", i)).ToObject(vm)
		if stepObj == nil {
			continue
		}
		var step Step
		if sleepVal := stepObj.Get("sleep"); sleepVal != nil && !goja.IsUndefined(sleepVal) {
			step.Sleep = time.Duration(exportInt(sleepVal, 0)) * time.Millisecond
		}
		if checkFn := stepObj.Get("check"); checkFn != nil {
			if s, err := toStringFn(goja.Undefined(), checkFn); err == nil {
				step.Check = s.String()
			}
		}
		if nextFn := stepObj.Get("next"); nextFn != nil {
			if s, err := toStringFn(goja.Undefined(), nextFn); err == nil {
				step.Next = s.String()
			}
		}
		out = append(out, step)
	}
	return out, nil
}
