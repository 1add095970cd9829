package proxycfg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bleak/proxyhost/fake"
)

const sampleSource = `module.exports.url = "http://localhost:8080"; module.exports.iterations = 3;`

func TestNew_MaterializesConfig(t *testing.T) {
	c, err := New(fake.New(""), sampleSource)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", c.Config.URL)
	assert.Equal(t, 3, c.Config.Iterations)
}

func TestConfigure_ForwardsSettingsAndPreamble(t *testing.T) {
	p := fake.New("")
	c, err := New(p, sampleSource)
	require.NoError(t, err)

	require.NoError(t, c.Configure(true, []int{1, 2}, false, true))

	calls := p.Calls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].RewriteJS)
	assert.Equal(t, []int{1, 2}, calls[0].Fixes)
	assert.Contains(t, calls[0].Preamble, "window.BLeakConfig")
	assert.Contains(t, calls[0].Preamble, sampleSource)
	assert.False(t, calls[0].DisableAllRewrites)
}

func TestConfigure_DisableAllRewritesStillInjects(t *testing.T) {
	p := fake.New("")
	c, err := New(p, sampleSource)
	require.NoError(t, err)

	require.NoError(t, c.Configure(false, nil, true, true))

	calls := p.Calls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].DisableAllRewrites)
	assert.Contains(t, calls[0].Preamble, "window.BLeakConfig")
}

func TestBuildPreamble_EmbedsShimAndSource(t *testing.T) {
	preamble, err := BuildPreamble(sampleSource)
	require.NoError(t, err)
	assert.Contains(t, preamble, "window.BLeakConfig = ")
	assert.Contains(t, preamble, sampleSource)
	assert.Contains(t, preamble, "module.exports")
}

func TestRewriteFn_AppliesPageRewriteFunction(t *testing.T) {
	src := `function(url, mimeType, bytesB64, fixes) { return bytesB64; }`
	fn := RewriteFn(src)
	out, err := fn("http://x/app.js", "text/javascript", []byte("hello"), []int{1})
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), out)
}
