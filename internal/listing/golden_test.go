package listing

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const goldenDir = "golden"

func MountGoldenTestServer(t *testing.T, venue string) *httptest.Server {
	t.Helper()
	handler, err := MountGolden(goldenDir + "/" + venue)
	require.NoError(t, err, "MountGolden")
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func TestUnit_MountGolden(t *testing.T) {
	server := MountGoldenTestServer(t, "regal-cinema-jaffna")

	resp, err := server.Client().Get(server.URL + "/sri-lanka/cinemas/regal-cinema-jaffna/MCJA/20250801")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, New().Parse(string(body)), 2)

	resp, err = server.Client().Get(server.URL + "/sri-lanka/cinemas/regal-cinema-jaffna/MCJA/20250802")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUnit_WriteGolden_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteGolden(dir, "20250803", "<html><body><ul id=\"showEvents\"></ul></body></html>"))

	handler, err := MountGolden(dir)
	require.NoError(t, err)
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	resp, err := server.Client().Get(server.URL + "/20250803")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
}
