package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	utls "github.com/refraction-networking/utls"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

const defaultUA = "Mozilla/5.0 (X11; Linux x86_64; rv:133.0) Gecko/20100101 Firefox/133.0"

// pageFetcher retrieves the raw HTML of a page.
type pageFetcher interface {
	fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// httpFetcher fetches pages with a browser-like TLS fingerprint and retries
// failed attempts a fixed number of times with a fixed delay between them.
type httpFetcher struct {
	timeout      time.Duration
	userAgent    string
	proxy        string // when set, standard TLS through this proxy
	maxBytes     int64  // 0 means unlimited
	attempts     int
	delay        time.Duration
	allowPrivate bool // permit loopback/private targets (tests, intranets)
	log          *zap.Logger
}

func newHTTPFetcher(cfg config, log *zap.Logger) *httpFetcher {
	return &httpFetcher{
		timeout:      cfg.Timeout,
		userAgent:    cfg.UserAgent,
		proxy:        cfg.Proxy,
		maxBytes:     cfg.MaxResponseSize,
		attempts:     cfg.Retries,
		delay:        cfg.RetryDelay,
		allowPrivate: cfg.AllowPrivateHosts,
		log:          log,
	}
}

// fetch downloads rawURL, retrying transient failures. Malformed URLs are
// not retried.
func (f *httpFetcher) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	attempts := max(f.attempts, 1)

	attempt := 0
	op := func() ([]byte, error) {
		attempt++
		body, err := f.get(ctx, rawURL)
		if err != nil {
			f.log.Warn("fetch attempt failed",
				zap.String("url", rawURL),
				zap.Int("attempt", attempt),
				zap.Int("attempts", attempts),
				zap.Error(err))
		}
		return body, err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(f.delay), uint64(attempts-1)),
		ctx,
	)
	body, err := backoff.RetryWithData(op, policy)
	if err != nil {
		return nil, fmt.Errorf("fetching %s (%d attempts): %w", rawURL, attempt, err)
	}
	return body, nil
}

// get performs a single request.
func (f *httpFetcher) get(ctx context.Context, rawURL string) ([]byte, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("invalid URL %q: %w", rawURL, err))
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, backoff.Permanent(fmt.Errorf("unsupported URL scheme %q", parsed.Scheme))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Sec-Fetch-Dest", "document")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Site", "none")

	// Each request builds its own transport, so its connections are closed
	// once the body has been read rather than left idle for the whole run.
	client := f.client(parsed.Scheme)
	defer client.CloseIdleConnections()

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d for %s", resp.StatusCode, rawURL)
	}

	body, err := readLimited(resp.Body, f.maxBytes)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	f.log.Debug("fetched", zap.String("url", rawURL), zap.String("size", humanSize(int64(len(body)))))
	return body, nil
}

func (f *httpFetcher) client(scheme string) *http.Client {
	dialer := &net.Dialer{Timeout: f.timeout}
	switch {
	case f.proxy != "":
		// uTLS cannot negotiate CONNECT tunnels, so proxied requests use
		// standard TLS.
		transport := &http.Transport{DialContext: safeDialContext(dialer, f.allowPrivate)}
		if proxyURL, err := url.Parse(f.proxy); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
		return &http.Client{Timeout: f.timeout, Transport: transport}
	case scheme == "https":
		return &http.Client{Timeout: f.timeout, Transport: newBrowserTransport(dialer, f.allowPrivate)}
	default:
		return &http.Client{
			Timeout:   f.timeout,
			Transport: &http.Transport{DialContext: safeDialContext(dialer, f.allowPrivate)},
		}
	}
}

// readLimited reads r fully, failing once more than limit bytes arrive.
// A limit of 0 or less reads without bound.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, backoff.Permanent(fmt.Errorf("response body exceeds maximum allowed size (%s)", humanSize(limit)))
	}
	return data, nil
}

func humanSize(n int64) string {
	units := []string{"B", "KB", "MB", "GB", "TB"}
	f := float64(n)
	for _, u := range units {
		if math.Abs(f) < 1024 {
			return fmt.Sprintf("%.1f%s", f, u)
		}
		f /= 1024
	}
	return fmt.Sprintf("%.1f%s", f, units[len(units)-1])
}

// utlsConn adapts a utls.UConn to the ConnectionState shape net/http2 expects.
type utlsConn struct {
	*utls.UConn
}

func (c *utlsConn) ConnectionState() tls.ConnectionState {
	cs := c.UConn.ConnectionState()
	return tls.ConnectionState{
		Version:                    cs.Version,
		HandshakeComplete:          cs.HandshakeComplete,
		CipherSuite:                cs.CipherSuite,
		NegotiatedProtocol:         cs.NegotiatedProtocol,
		NegotiatedProtocolIsMutual: cs.NegotiatedProtocolIsMutual,
		ServerName:                 cs.ServerName,
		PeerCertificates:           cs.PeerCertificates,
		VerifiedChains:             cs.VerifiedChains,
		OCSPResponse:               cs.OCSPResponse,
		TLSUnique:                  cs.TLSUnique,
	}
}

// browserTransport dials TLS with a Firefox ClientHello and routes the
// connection to HTTP/2 or HTTP/1.1 depending on ALPN. Connections it opens
// stay open until CloseIdleConnections.
type browserTransport struct {
	dial func(ctx context.Context, network, addr string) (net.Conn, error)
	h1   *http.Transport
	h2   *http2.Transport

	mu      sync.Mutex
	closers []func()
}

func newBrowserTransport(dialer *net.Dialer, allowPrivate bool) *browserTransport {
	dial := safeDialContext(dialer, allowPrivate)
	return &browserTransport{
		dial: dial,
		h1:   &http.Transport{DialContext: dial},
		h2:   &http2.Transport{},
	}
}

func (bt *browserTransport) dialUTLS(ctx context.Context, addr string) (net.Conn, string, error) {
	conn, err := bt.dial(ctx, "tcp", addr)
	if err != nil {
		return nil, "", err
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	tlsConn := utls.UClient(conn, &utls.Config{ServerName: host}, utls.HelloFirefox_120)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, "", err
	}
	return &utlsConn{tlsConn}, tlsConn.ConnectionState().NegotiatedProtocol, nil
}

func (bt *browserTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return bt.h1.RoundTrip(req)
	}

	addr := req.URL.Host
	if !hasPort(addr) {
		addr += ":443"
	}

	conn, alpn, err := bt.dialUTLS(req.Context(), addr)
	if err != nil {
		return nil, err
	}

	if alpn == "h2" {
		cc, err := bt.h2.NewClientConn(conn)
		if err != nil {
			conn.Close()
			return nil, err
		}
		bt.track(func() { cc.Close() })
		return cc.RoundTrip(req)
	}

	// One-shot HTTP/1.1 transport over the already-negotiated connection.
	transport := &http.Transport{
		DialTLSContext: func(context.Context, string, string) (net.Conn, error) {
			return conn, nil
		},
	}
	bt.track(transport.CloseIdleConnections)
	return transport.RoundTrip(req)
}

func (bt *browserTransport) track(closer func()) {
	bt.mu.Lock()
	bt.closers = append(bt.closers, closer)
	bt.mu.Unlock()
}

// CloseIdleConnections closes every connection the transport has opened.
// http.Client calls it through its own CloseIdleConnections.
func (bt *browserTransport) CloseIdleConnections() {
	bt.mu.Lock()
	closers := bt.closers
	bt.closers = nil
	bt.mu.Unlock()

	for _, c := range closers {
		c()
	}
	bt.h1.CloseIdleConnections()
}

func hasPort(host string) bool {
	_, _, err := net.SplitHostPort(host)
	return err == nil
}
