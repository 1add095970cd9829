// Package rod implements driver.Driver over a real Chromium tab via
// github.com/go-rod/rod, grounded on the CDP tab-management and page-eval
// patterns observed in the retrieval pack's browser-automation examples
// (launcher configuration, ControlURL/Connect, page.Eval). It is a reference
// backend: cmd/bleak may select it, but detector and internal/* never import
// it directly, so the core controllers stay driver-agnostic.
package rod

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"bleak/driver"
)

// Driver drives one rod.Page through a rod.Browser launched with its
// --proxy-server flag pointed at proxyAddr, so every request the page makes
// passes through the configured interception proxy.
type Driver struct {
	browser   *rod.Browser
	page      *rod.Page
	proxyAddr string
}

// New launches a Chromium instance routed through proxyAddr and opens a
// blank tab. Callers must call Shutdown when done.
func New(proxyAddr string) (*Driver, error) {
	l := launcher.New().
		Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-dev-shm-usage")
	if proxyAddr != "" {
		l = l.Set("proxy-server", proxyAddr)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("rod: launch: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("rod: connect: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("rod: open tab: %w", err)
	}

	return &Driver{browser: browser, page: page, proxyAddr: proxyAddr}, nil
}

func (d *Driver) NavigateTo(ctx context.Context, url string) error {
	if err := d.page.Context(ctx).Navigate(url); err != nil {
		return fmt.Errorf("rod: navigate %s: %w", url, err)
	}
	return d.page.Context(ctx).WaitLoad()
}

// RunCode evaluates source in the page and decodes its JSON-serializable
// result into out. A nil out discards the result.
func (d *Driver) RunCode(ctx context.Context, source string, out any) error {
	res, err := d.page.Context(ctx).Eval(source)
	if err != nil {
		return fmt.Errorf("rod: eval: %w", err)
	}
	if out == nil {
		return nil
	}
	return res.Value.Unmarshal(out)
}

// TakeHeapSnapshot drives the CDP HeapProfiler domain, streaming raw
// .heapsnapshot JSON chunks into memory and returning a lazy Snapshot that
// decodes them on first Parse.
func (d *Driver) TakeHeapSnapshot(ctx context.Context) (driver.HeapSnapshot, error) {
	var chunks strings.Builder

	page := d.page.Context(ctx)
	wait := page.EachEvent(func(e *proto.HeapProfilerAddHeapSnapshotChunk) {
		chunks.WriteString(e.Chunk)
	})

	if err := (proto.HeapProfilerTakeHeapSnapshot{}).Call(page); err != nil {
		return nil, fmt.Errorf("rod: take heap snapshot: %w", err)
	}
	wait()

	return &Snapshot{raw: chunks.String()}, nil
}

func (d *Driver) Relaunch(ctx context.Context) (driver.Driver, error) {
	if err := d.Shutdown(ctx); err != nil {
		return nil, fmt.Errorf("rod: relaunch: shutdown old browser: %w", err)
	}
	return New(d.proxyAddr)
}

func (d *Driver) Shutdown(ctx context.Context) error {
	if err := d.browser.Close(); err != nil {
		return fmt.Errorf("rod: shutdown: %w", err)
	}
	return nil
}

func (d *Driver) ProxyAddr() string { return d.proxyAddr }

// Snapshot wraps the raw JSON chunks streamed from the CDP HeapProfiler
// domain. Parse turns every node's outgoing edges into labeled Graph edges
// and treats node 0 as the only root — a minimal, non-production reduction of the
// real V8 .heapsnapshot wire format (node_fields/edge_fields-indexed packed
// arrays) into the driver.Graph shape the growth tracker consumes. A full
// retained-size-accurate parser is out of scope; this exists only so
// driver/rod satisfies driver.HeapSnapshot end to end.
type Snapshot struct {
	raw string
}

type rawHeapSnapshot struct {
	Snapshot struct {
		Meta struct {
			NodeFields []string `json:"node_fields"`
			EdgeFields []string `json:"edge_fields"`
		} `json:"meta"`
	} `json:"snapshot"`
	Nodes   []float64 `json:"nodes"`
	Edges   []float64 `json:"edges"`
	Strings []string  `json:"strings"`
}

func (s *Snapshot) Parse(ctx context.Context) (driver.Graph, error) {
	var raw rawHeapSnapshot
	if err := json.Unmarshal([]byte(s.raw), &raw); err != nil {
		return driver.Graph{}, fmt.Errorf("rod: parse heap snapshot: %w", err)
	}

	nodeFieldCount := len(raw.Snapshot.Meta.NodeFields)
	edgeFieldCount := len(raw.Snapshot.Meta.EdgeFields)
	if nodeFieldCount == 0 || edgeFieldCount == 0 {
		return driver.Graph{}, fmt.Errorf("rod: parse heap snapshot: empty meta field list")
	}

	nameIdx, idIdx, edgeCountIdx := fieldIndex(raw.Snapshot.Meta.NodeFields, "name"),
		fieldIndex(raw.Snapshot.Meta.NodeFields, "id"),
		fieldIndex(raw.Snapshot.Meta.NodeFields, "edge_count")
	edgeNameIdx, edgeToIdx := fieldIndex(raw.Snapshot.Meta.EdgeFields, "name_or_index"),
		fieldIndex(raw.Snapshot.Meta.EdgeFields, "to_node")

	nodeCount := len(raw.Nodes) / nodeFieldCount
	nodeID := func(i int) string {
		name := nodeName(raw, i*nodeFieldCount, nameIdx)
		id := int(raw.Nodes[i*nodeFieldCount+idIdx])
		return fmt.Sprintf("%s#%d", name, id)
	}

	g := driver.Graph{}
	edgeOffset := 0
	for i := 0; i < nodeCount; i++ {
		edgeCount := int(raw.Nodes[i*nodeFieldCount+edgeCountIdx])
		if i == 0 {
			g.Roots = append(g.Roots, nodeID(i))
		}
		for e := 0; e < edgeCount; e++ {
			base := (edgeOffset + e) * edgeFieldCount
			if base+edgeFieldCount > len(raw.Edges) {
				break
			}
			toNodeIdx := int(raw.Edges[base+edgeToIdx]) / nodeFieldCount
			if toNodeIdx >= nodeCount {
				continue
			}
			g.Edges = append(g.Edges, driver.Edge{
				From: nodeID(i),
				To:   nodeID(toNodeIdx),
				Name: edgeLabel(raw, base, edgeNameIdx),
			})
		}
		edgeOffset += edgeCount
	}
	return g, nil
}

func fieldIndex(fields []string, name string) int {
	for i, f := range fields {
		if f == name {
			return i
		}
	}
	return 0
}

func nodeName(raw rawHeapSnapshot, base, nameIdx int) string {
	si := int(raw.Nodes[base+nameIdx])
	if si >= 0 && si < len(raw.Strings) {
		return raw.Strings[si]
	}
	return ""
}

func edgeLabel(raw rawHeapSnapshot, base, nameIdx int) string {
	si := int(raw.Edges[base+nameIdx])
	if si >= 0 && si < len(raw.Strings) {
		return raw.Strings[si]
	}
	return ""
}
