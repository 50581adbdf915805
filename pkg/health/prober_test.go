package health

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestHTTPProber_AliveOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
	}))
	defer srv.Close()

	p := NewHTTPProber(time.Second)
	require.True(t, p.Probe(context.Background(), srv.URL+"/api/version"))
}

func TestHTTPProber_AliveOnErrorStatus(t *testing.T) {
	for _, code := range []int{http.StatusNotFound, http.StatusInternalServerError, http.StatusServiceUnavailable} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(code)
		}))
		p := NewHTTPProber(time.Second)
		require.True(t, p.Probe(context.Background(), srv.URL+"/api/health"), "status %d", code)
		srv.Close()
	}
}

func TestHTTPProber_AliveOnRedirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer srv.Close()

	p := NewHTTPProber(time.Second)
	require.True(t, p.Probe(context.Background(), srv.URL))
}

func TestHTTPProber_DeadOnRefused(t *testing.T) {
	p := NewHTTPProber(500 * time.Millisecond)
	require.False(t, p.Probe(context.Background(), "http://"+freeAddr(t)+"/api/health"))
}

func TestHTTPProber_DeadOnTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	p := NewHTTPProber(100 * time.Millisecond)
	require.False(t, p.Probe(context.Background(), srv.URL))
}

func TestHTTPProber_DeadOnBadEndpoint(t *testing.T) {
	p := NewHTTPProber(100 * time.Millisecond)
	require.False(t, p.Probe(context.Background(), "::not a url"))
	require.False(t, p.Probe(context.Background(), ""))
	require.False(t, p.Probe(context.Background(), "http://nonexistent.invalid/health"))
}

func TestHTTPProber_TCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()

	p := NewHTTPProber(500 * time.Millisecond)
	require.True(t, p.Probe(context.Background(), "tcp://"+ln.Addr().String()))
	require.False(t, p.Probe(context.Background(), "tcp://"+freeAddr(t)))
}

func TestProberFunc(t *testing.T) {
	var got string
	p := ProberFunc(func(_ context.Context, endpoint string) bool {
		got = endpoint
		return strings.HasSuffix(endpoint, "ok")
	})
	require.True(t, p.Probe(context.Background(), "http://x/ok"))
	require.Equal(t, "http://x/ok", got)
}
