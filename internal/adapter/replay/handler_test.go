package replay

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerWritesLines(t *testing.T) {
	var gotBody string
	h := &Handler{
		Lines: []string{Chunk(`{"content":"Hi"}`, ""), "", Done, ""},
		OnRequest: func(_ *http.Request, body []byte) {
			gotBody = string(body)
		},
	}
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Post(srv.URL, "application/json", strings.NewReader(`{"stream":true}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, `data: {"object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"Hi"}}]}`+"\n\n"+"data: [DONE]\n\n", string(data))
	assert.Equal(t, `{"stream":true}`, gotBody)
}

func TestHandlerStatusOverride(t *testing.T) {
	srv := httptest.NewServer(&Handler{Status: http.StatusServiceUnavailable, ContentType: "application/json", Lines: []string{`{"error":"busy"}`}})
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestHandlerStepGatesLines(t *testing.T) {
	step := make(chan struct{})
	srv := httptest.NewServer(&Handler{Lines: []string{"data: 1", "data: 2"}, Step: step})
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	step <- struct{}{}
	buf := make([]byte, 64)
	n, err := resp.Body.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "data: 1\n", string(buf[:n]))

	step <- struct{}{}
	rest, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "data: 2\n", string(rest))
}

func TestHandlerDelay(t *testing.T) {
	srv := httptest.NewServer(&Handler{Lines: []string{"data: 1", "data: 2"}, Delay: 20 * time.Millisecond})
	defer srv.Close()

	start := time.Now()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	_, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestParseFixture(t *testing.T) {
	raw := "# say hi\r\ndata: {\"a\":1}\r\n\r\n: keep-alive\ndata: [DONE]\n"
	lines, err := Parse(strings.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, []string{`data: {"a":1}`, "", ": keep-alive", "data: [DONE]"}, lines)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hi.sse")
	require.NoError(t, os.WriteFile(path, []byte("data: [DONE]\n"), 0o600))

	lines, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{Done}, lines)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.sse"))
	assert.Error(t, err)
}
