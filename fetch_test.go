package main

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// testFetcher returns a fetcher that may reach httptest servers and does
// not sleep between attempts.
func testFetcher(attempts int) *httpFetcher {
	return &httpFetcher{
		timeout:      5 * time.Second,
		userAgent:    defaultUA,
		maxBytes:     1 << 20,
		attempts:     attempts,
		delay:        time.Millisecond,
		allowPrivate: true,
		log:          zap.NewNop(),
	}
}

func TestFetch_Success(t *testing.T) {
	expected := "<html><body>Hello</body></html>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(expected))
	}))
	defer srv.Close()

	body, err := testFetcher(1).fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, expected, string(body))
}

func TestFetch_BrowserHeaders(t *testing.T) {
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := testFetcher(1)
	f.userAgent = "my-custom-agent/2.0"
	_, err := f.fetch(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Equal(t, "my-custom-agent/2.0", headers.Get("User-Agent"))
	assert.Equal(t, "document", headers.Get("Sec-Fetch-Dest"))
	assert.Equal(t, "navigate", headers.Get("Sec-Fetch-Mode"))
	assert.Contains(t, headers.Get("Accept"), "text/html")
}

func TestFetch_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("finally"))
	}))
	defer srv.Close()

	body, err := testFetcher(3).fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "finally", string(body))
	assert.EqualValues(t, 3, calls.Load())
}

func TestFetch_GivesUpAfterAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testFetcher(3).fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "3 attempts")
	assert.EqualValues(t, 3, calls.Load())
}

func TestFetch_InvalidURLNotRetried(t *testing.T) {
	_, err := testFetcher(3).fetch(context.Background(), "://bad-url")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 attempts")

	_, err = testFetcher(3).fetch(context.Background(), "ftp://x.test/file")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported URL scheme")
}

func TestFetch_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := testFetcher(5)
	f.delay = time.Hour
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := f.fetch(ctx, srv.URL)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestFetch_ExceedsSizeLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write(bytes.Repeat([]byte("x"), 200))
	}))
	defer srv.Close()

	f := testFetcher(3)
	f.maxBytes = 100
	_, err := f.fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds maximum allowed size")
	assert.EqualValues(t, 1, calls.Load(), "oversized responses are not retried")
}

func TestFetch_ClosesConnections(t *testing.T) {
	closed := make(chan struct{}, 4)
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	srv.Config.ConnState = func(_ net.Conn, state http.ConnState) {
		if state == http.StateClosed {
			closed <- struct{}{}
		}
	}
	srv.Start()
	defer srv.Close()

	for range 2 {
		_, err := testFetcher(1).fetch(context.Background(), srv.URL)
		require.NoError(t, err)
	}

	for i := range 2 {
		select {
		case <-closed:
		case <-time.After(5 * time.Second):
			t.Fatalf("connection %d still open after fetch returned", i+1)
		}
	}
}

func TestBrowserTransport_CloseIdleConnections(t *testing.T) {
	bt := newBrowserTransport(&net.Dialer{}, true)
	var closes int
	bt.track(func() { closes++ })
	bt.track(func() { closes++ })

	bt.CloseIdleConnections()
	assert.Equal(t, 2, closes)

	bt.CloseIdleConnections()
	assert.Equal(t, 2, closes, "closers run once")
}

func TestReadLimited(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		limit   int64
		wantErr bool
	}{
		{"under limit", 100, 200, false},
		{"exactly at limit", 200, 200, false},
		{"exceeds limit", 201, 200, true},
		{"zero means unlimited", 10000, 0, false},
		{"negative means unlimited", 5000, -1, false},
		{"empty reader", 0, 100, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readLimited(bytes.NewReader(bytes.Repeat([]byte("a"), tt.size)), tt.limit)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, strings.Contains(err.Error(), "exceeds maximum allowed size"))
				return
			}
			require.NoError(t, err)
			assert.Len(t, got, tt.size)
		})
	}
}

func TestHasPort(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{"example.com:443", true},
		{"[::1]:8080", true},
		{"example.com", false},
		{"localhost", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, hasPort(tt.host), "hasPort(%q)", tt.host)
	}
}

func TestHumanSize(t *testing.T) {
	assert.Equal(t, "512.0B", humanSize(512))
	assert.Equal(t, "1.5KB", humanSize(1536))
	assert.Equal(t, "128.0MB", humanSize(128*1024*1024))
}
