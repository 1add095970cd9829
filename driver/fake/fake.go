// Package fake implements driver.Driver over an in-process goja runtime
// standing in for the page: config.Step.Check/Next source fragments are
// evaluated against it exactly as the real browser driver would evaluate
// them against window.BLeakConfig. Used by every controller test in
// internal/stepengine, internal/looprunner, internal/orchestrator, and
// detector.
package fake

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/dop251/goja"

	"bleak/config"
	"bleak/driver"
)

// Driver is a deterministic, in-process stand-in for a real browser driver.
type Driver struct {
	mu sync.Mutex
	vm *goja.Runtime

	navigations []string
	crashURLs   map[string]bool // NavigateTo to these URLs fails once, then clears
	proxyAddr   string
	installed   *config.ConfigurationFile

	snapshotSeq []driver.Graph // queued graphs returned by successive TakeHeapSnapshot calls
	snapshotIdx int

	relaunches int
}

// New returns a Driver with an empty page (no BLeakConfig defined yet).
func New() *Driver {
	return &Driver{vm: goja.New(), crashURLs: map[string]bool{}, proxyAddr: "fake-proxy:0"}
}

// InstallConfig publishes cfg as window.BLeakConfig in the fake page,
// simulating what the proxy's injection preamble does for real (spec.md
// §4.4). Step.Check/Next source text is embedded verbatim as function
// expressions.
func (d *Driver) InstallConfig(cfg *config.ConfigurationFile) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	js, err := buildConfigJS(cfg)
	if err != nil {
		return err
	}
	if _, err := d.vm.RunString("var BLeakConfig = " + js + ";"); err != nil {
		return err
	}
	d.installed = cfg
	return nil
}

// ClearConfig simulates a CSP-blocked injection: BLeakConfig stays
// undefined.
func (d *Driver) ClearConfig() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.vm = goja.New()
	d.installed = nil
}

// QueueSnapshot arranges for the next TakeHeapSnapshot call to return a
// parser that yields g.
func (d *Driver) QueueSnapshot(g driver.Graph) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.snapshotSeq = append(d.snapshotSeq, g)
}

// CrashNextNavigate makes the next NavigateTo to url fail once.
func (d *Driver) CrashNextNavigate(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.crashURLs[url] = true
}

// Navigations returns the URLs passed to NavigateTo, in order.
func (d *Driver) Navigations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.navigations...)
}

// Relaunches returns how many times Relaunch was called.
func (d *Driver) Relaunches() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.relaunches
}

func (d *Driver) NavigateTo(ctx context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.crashURLs[url] {
		delete(d.crashURLs, url)
		return fmt.Errorf("fake driver: simulated crash navigating to %s", url)
	}
	d.navigations = append(d.navigations, url)
	return nil
}

func (d *Driver) RunCode(ctx context.Context, source string, out any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	val, err := d.vm.RunString(source)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	exported := val.Export()
	b, err := json.Marshal(exported)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func (d *Driver) TakeHeapSnapshot(ctx context.Context) (driver.HeapSnapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.snapshotIdx >= len(d.snapshotSeq) {
		return staticSnapshot{g: driver.Graph{}}, nil
	}
	g := d.snapshotSeq[d.snapshotIdx]
	d.snapshotIdx++
	return staticSnapshot{g: g}, nil
}

// Relaunch returns a fresh driver sharing the same proxy. The installed
// config carries over because the real proxy re-injects the preamble into
// every page load the new browser makes; queued snapshots also carry over,
// continuing from where the crashed driver left off.
func (d *Driver) Relaunch(ctx context.Context) (driver.Driver, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.relaunches++
	nd := New()
	nd.proxyAddr = d.proxyAddr
	nd.relaunches = d.relaunches
	nd.snapshotSeq = d.snapshotSeq
	nd.snapshotIdx = d.snapshotIdx
	if d.installed != nil {
		if err := nd.InstallConfig(d.installed); err != nil {
			return nil, err
		}
	}
	return nd, nil
}

func (d *Driver) Shutdown(ctx context.Context) error { return nil }
func (d *Driver) ProxyAddr() string                  { return d.proxyAddr }

type staticSnapshot struct{ g driver.Graph }

func (s staticSnapshot) Parse(ctx context.Context) (driver.Graph, error) { return s.g, nil }

func buildConfigJS(cfg *config.ConfigurationFile) (string, error) {
	var b strings.Builder
	b.WriteString("{")
	writePhase := func(name string, steps []config.Step) {
		b.WriteString(name)
		b.WriteString(": [")
		for i, s := range steps {
			if i > 0 {
				b.WriteString(",")
			}
			check := s.Check
			if check == "" {
				check = "function(){ return true; }"
			}
			next := s.Next
			if next == "" {
				next = "function(){}"
			}
			fmt.Fprintf(&b, "{check: (%s), next: (%s)}", check, next)
		}
		b.WriteString("],")
	}
	writePhase("login", cfg.Login)
	writePhase("setup", cfg.Setup)
	writePhase("loop", cfg.Loop)
	b.WriteString("}")
	return b.String(), nil
}
