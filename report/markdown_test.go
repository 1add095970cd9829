package report

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bleak/results"
)

func TestWriteSummary_NoLeaksProducesEmptyNotice(t *testing.T) {
	res := results.New(nil)
	md, err := WriteSummary(res)
	require.NoError(t, err)
	assert.Contains(t, md, "No growing heap paths")
}

func TestWriteSummary_RendersPathsAndStacks(t *testing.T) {
	res := results.New([]results.LeakRoot{
		{ID: 3, Paths: []results.HeapPath{{"window", "app", "_cache"}}},
	})
	res.AddStack(3, results.Stack{Frames: []results.ResolvedFrame{{File: "app.js", Line: 10, Column: 4}}})

	md, err := WriteSummary(res)
	require.NoError(t, err)
	assert.Contains(t, md, "Leak root #3")
	assert.Contains(t, md, "app.js")
	assert.True(t, strings.Contains(md, "window") && strings.Contains(md, "_cache"))
}
