package client

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetReusesClientPerProxy(t *testing.T) {
	a, err := Get("")
	require.NoError(t, err)
	b, err := Get("")
	require.NoError(t, err)
	assert.Same(t, a, b)

	p, err := Get("http://127.0.0.1:3128")
	require.NoError(t, err)
	assert.NotSame(t, a, p)
}

func TestNewWithProxy(t *testing.T) {
	c, err := New("http://127.0.0.1:3128", DefaultTimeout)
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	proxy, err := c.Transport.(*http.Transport).Proxy(req)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:3128", proxy.Host)

	_, err = New("::bad", DefaultTimeout)
	assert.Error(t, err)
}

func TestNewLeavesBodyUnbounded(t *testing.T) {
	c, err := New("", DefaultTimeout)
	require.NoError(t, err)
	assert.Zero(t, c.Timeout)
	assert.Equal(t, DefaultTimeout, c.Transport.(*http.Transport).ResponseHeaderTimeout)
}
