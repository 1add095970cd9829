// Package config holds the ConfigurationFile data model (spec.md §3) and the
// module-emulation shim that materializes it from an untrusted JS source
// (spec.md §4.4, §6, §9).
package config

import "time"

// Step is interpreted in the page, not the controller (spec.md §3). Check
// and Next are source fragments evaluated against BLeakConfig in the page —
// never Go closures.
type Step struct {
	Sleep time.Duration `json:"sleep,omitempty"`
	Check string        `json:"check"`
	Next  string        `json:"next"`
}

// OrderedLeaks preserves the significant key-iteration order of the spec's
// `leaks` mapping (metric name -> ordered leak IDs). Go maps have no
// iteration order guarantee, so the order is carried explicitly, per
// spec.md §9 "Mixed-language semantics in leaks."
type OrderedLeaks struct {
	Keys   []string
	Values map[string][]int
}

// Get returns the leak IDs for a metric in insertion order, or nil.
func (o OrderedLeaks) Get(metric string) []int { return o.Values[metric] }

// Len returns the number of metrics.
func (o OrderedLeaks) Len() int { return len(o.Keys) }

// ConfigurationFile is the immutable record materialized from the page
// script (spec.md §3).
type ConfigurationFile struct {
	Name       string        `json:"name"`
	Iterations int           `json:"iterations"`
	URL        string        `json:"url"`
	FixedLeaks []int         `json:"fixedLeaks"`
	Leaks      OrderedLeaks  `json:"-"`
	BlackBox   []string      `json:"blackBox"`
	Login      []Step        `json:"login"`
	Setup      []Step        `json:"setup"`
	Loop       []Step        `json:"loop"`
	Timeout    time.Duration `json:"timeout"`

	// RewriteSource is the source text of the config's (url, mimeType,
	// bytes, fixes) -> bytes `rewrite` function (spec.md §3), empty when the
	// config defines none. The controller never calls it itself;
	// proxycfg.RewriteFn compiles it in a fresh goja runtime for each
	// response the proxy rewrites.
	RewriteSource string `json:"-"`
}

// Steps returns the ordered step sequence for a named phase.
func (c *ConfigurationFile) Steps(phase string) []Step {
	switch phase {
	case "login":
		return c.Login
	case "setup":
		return c.Setup
	case "loop":
		return c.Loop
	default:
		return nil
	}
}

// Defaults returns a ConfigurationFile with the spec's stated defaults:
// iterations=4, no steps, no leaks, and a 30-second step timeout (Evaluate
// seeds the module.exports default with this value, and a config source may
// override any field).
func Defaults() *ConfigurationFile {
	return &ConfigurationFile{
		Iterations: 4,
		FixedLeaks: []int{},
		Leaks:      OrderedLeaks{Keys: []string{}, Values: map[string][]int{}},
		BlackBox:   []string{},
		Login:      []Step{},
		Setup:      []Step{},
		Loop:       []Step{},
		Timeout:    30 * time.Second,
	}
}
