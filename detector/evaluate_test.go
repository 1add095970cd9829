package detector

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bleak/driver"
	fakedriver "bleak/driver/fake"
	fakeproxy "bleak/proxyhost/fake"
	"bleak/report"
)

const evaluateSrc = `
module.exports.url = "https://app.example.com";
module.exports.loop = [{check: function(){ return true; }, next: function(){}}];
module.exports.leaks = {metricA: []};
`

func TestEvaluateLeakFixes_SinglePairEmitsRowsAndShutsDown(t *testing.T) {
	drv := fakedriver.New()
	proxy := fakeproxy.New("")
	det, err := New(drv, proxy, evaluateSrc)
	require.NoError(t, err)
	det.PostLoginSettle = time.Millisecond
	require.NoError(t, drv.InstallConfig(det.Config()))

	drv.QueueSnapshot(driver.Graph{Roots: []string{"root"}, Edges: []driver.Edge{{From: "root", To: "a", Name: "a"}}})
	drv.QueueSnapshot(driver.Graph{Roots: []string{"root"}, Edges: []driver.Edge{{From: "root", To: "a", Name: "a"}, {From: "a", To: "b", Name: "b"}}})

	var lines []string
	csv := report.NewCSVWriter(func(line string) error {
		lines = append(lines, line)
		return nil
	}, false)

	var cbCalls int
	cb := func(ctx context.Context, snap driver.HeapSnapshot, metric string, leaksFixed, iterationCount int) error {
		cbCalls++
		return nil
	}

	err = det.EvaluateLeakFixes(context.Background(), 1, 1, csv, cb, nil)
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(lines), 3) // header + at least 2 rows
	assert.True(t, strings.HasPrefix(lines[0], "edges,"))
	for _, line := range lines[1:] {
		assert.Contains(t, line, "metricA")
	}
	assert.Equal(t, 2, cbCalls)
	assert.Equal(t, Done, det.State())
}

const twoLeakSrc = `
module.exports.url = "https://app.example.com";
module.exports.loop = [{check: function(){ return true; }, next: function(){}}];
module.exports.leaks = {m: [1, 2]};
`

func newEvaluateDetector(t *testing.T, source string) (*Detector, *fakedriver.Driver) {
	t.Helper()
	drv := fakedriver.New()
	proxy := fakeproxy.New("")
	det, err := New(drv, proxy, source)
	require.NoError(t, err)
	det.PostLoginSettle = time.Millisecond
	det.SettleDelay = time.Millisecond
	require.NoError(t, drv.InstallConfig(det.Config()))
	return det, drv
}

// leaks={m:[1,2]}, iterations=2, iterationsPerSnapshot=1, snapshotOnFirst:
// 3 leaksFixed values x 3 snapshots per run = 9 data rows plus one header.
func TestEvaluateLeakFixes_RowCountAcrossFixPrefixes(t *testing.T) {
	det, _ := newEvaluateDetector(t, twoLeakSrc)

	var lines []string
	csv := report.NewCSVWriter(func(line string) error {
		lines = append(lines, line)
		return nil
	}, false)

	require.NoError(t, det.EvaluateLeakFixes(context.Background(), 2, 1, csv, nil, nil))

	require.Len(t, lines, 10)
	assert.True(t, strings.HasPrefix(lines[0], "edges,"))
	for _, line := range lines[1:] {
		assert.Contains(t, line, "m,")
	}
}

// Same config resumed at (1, "m"): no header, 2 pairs x 3 snapshots = 6 rows.
func TestEvaluateLeakFixes_ResumeSkipsEarlierPairsAndHeader(t *testing.T) {
	det, _ := newEvaluateDetector(t, twoLeakSrc)

	var lines []string
	csv := report.NewCSVWriter(func(line string) error {
		lines = append(lines, line)
		return nil
	}, true)

	require.NoError(t, det.EvaluateLeakFixes(context.Background(), 2, 1, csv, nil, &ResumePoint{Metric: "m", LeaksFixed: 1}))

	require.Len(t, lines, 6)
	for _, line := range lines {
		assert.False(t, strings.HasPrefix(line, "edges,"), "resume must not re-emit the header")
	}
}

// A crash on the first attempt's navigation must produce the same rows as a
// clean run: the crashed attempt's buffer is discarded and the retry
// replays the pair from scratch.
func TestEvaluateLeakFixes_CrashThenRecoverEmitsNoDuplicateRows(t *testing.T) {
	det, drv := newEvaluateDetector(t, twoLeakSrc)
	drv.CrashNextNavigate("https://app.example.com")

	var lines []string
	csv := report.NewCSVWriter(func(line string) error {
		lines = append(lines, line)
		return nil
	}, false)

	require.NoError(t, det.EvaluateLeakFixes(context.Background(), 2, 1, csv, nil, nil))

	require.Len(t, lines, 10)
	// The replacement driver records the relaunch count from its ancestor.
	assert.GreaterOrEqual(t, det.Driver.(*fakedriver.Driver).Relaunches(), 1)
}

func TestEvaluateLeakFixes_NoLeaksStillShutsDownCleanly(t *testing.T) {
	drv := fakedriver.New()
	proxy := fakeproxy.New("")
	det, err := New(drv, proxy, `module.exports.url = "https://app.example.com";`)
	require.NoError(t, err)
	det.PostLoginSettle = time.Millisecond

	var lines []string
	csv := report.NewCSVWriter(func(line string) error {
		lines = append(lines, line)
		return nil
	}, false)

	err = det.EvaluateLeakFixes(context.Background(), 1, 1, csv, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, lines)
}
