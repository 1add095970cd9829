package mitm

import (
	"bytes"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResponse(contentType, body string) *http.Response {
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
	}
	resp.Header.Set("Content-Type", contentType)
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestInjectPreamble_BeforeFirstScript(t *testing.T) {
	body := []byte(`<html><head><title>t</title></head><body><script src="app.js"></script></body></html>`)
	out := injectPreamble(body, "window.BLeakConfig = {};")

	injected := bytes.Index(out, []byte("window.BLeakConfig"))
	appScript := bytes.Index(out, []byte(`src="app.js"`))
	require.GreaterOrEqual(t, injected, 0)
	require.GreaterOrEqual(t, appScript, 0)
	assert.Less(t, injected, appScript)
}

func TestInjectPreamble_NoScriptTagFallsBackToHead(t *testing.T) {
	body := []byte(`<html><head><title>t</title></head><body>hi</body></html>`)
	out := injectPreamble(body, "window.BLeakConfig = {};")

	head := bytes.Index(out, []byte("<head>"))
	injected := bytes.Index(out, []byte("<script>window.BLeakConfig"))
	require.GreaterOrEqual(t, injected, 0)
	assert.Equal(t, head+len("<head>"), injected)
}

func TestInjectPreamble_BareBodyPrepends(t *testing.T) {
	out := injectPreamble([]byte("hello"), "window.BLeakConfig = {};")
	assert.True(t, bytes.HasPrefix(out, []byte("<script>")))
	assert.True(t, bytes.HasSuffix(out, []byte("hello")))
}

func TestHandleResponse_KillSwitchSuppressesRewriteButNotInjection(t *testing.T) {
	p := &Proxy{}
	rewritten := false
	require.NoError(t, p.Configure(true, []int{1}, "window.BLeakConfig = {};", true,
		func(url, mime string, in []byte, fixes []int) ([]byte, error) {
			rewritten = true
			return in, nil
		}))

	js := newResponse("application/javascript", "var x = 1;")
	out := p.handleResponse(js, nil)
	body := readBody(t, out)
	assert.False(t, rewritten)
	assert.Equal(t, "var x = 1;", body)

	html := newResponse("text/html", `<html><head></head><body><script>app()</script></body></html>`)
	out = p.handleResponse(html, nil)
	assert.Contains(t, readBody(t, out), "window.BLeakConfig")
}

func TestHandleResponse_RewritesJSWhenActive(t *testing.T) {
	p := &Proxy{}
	require.NoError(t, p.Configure(true, []int{1, 2}, "", false,
		func(url, mime string, in []byte, fixes []int) ([]byte, error) {
			assert.Equal(t, []int{1, 2}, fixes)
			return append([]byte("/*fixed*/"), in...), nil
		}))

	out := p.handleResponse(newResponse("application/javascript", "var x = 1;"), nil)
	assert.Equal(t, "/*fixed*/var x = 1;", readBody(t, out))
}

func TestHandleResponse_RewriteErrorServesOriginalBody(t *testing.T) {
	p := &Proxy{}
	require.NoError(t, p.Configure(true, nil, "", false,
		func(url, mime string, in []byte, fixes []int) ([]byte, error) {
			return nil, assert.AnError
		}))

	out := p.handleResponse(newResponse("text/javascript", "var x = 1;"), nil)
	assert.Equal(t, "var x = 1;", readBody(t, out))
}

func TestHandleResponse_NonRewritableContentPassesThrough(t *testing.T) {
	p := &Proxy{}
	require.NoError(t, p.Configure(true, []int{1}, "window.BLeakConfig = {};", false,
		func(url, mime string, in []byte, fixes []int) ([]byte, error) {
			return []byte("nope"), nil
		}))

	out := p.handleResponse(newResponse("image/png", "pngbytes"), nil)
	assert.Equal(t, "pngbytes", readBody(t, out))
}
