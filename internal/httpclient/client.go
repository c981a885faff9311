// Package httpclient sends JSON requests through per-account proxies.
package httpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/checkinbot/checkinbot/internal/errors"
	utls "github.com/refraction-networking/utls"
)

// maxBodySize caps how much of a response body is read.
const maxBodySize = 4 << 20

// Request is a JSON POST routed through an optional proxy.
type Request struct {
	// Op names the call in errors and metrics.
	Op      string
	URL     string
	Headers map[string]string
	Body    interface{}
	// Proxy is proto://[user:pass@]host:port; empty means a direct connection.
	Proxy string
}

// Response is a completed HTTP exchange.
type Response struct {
	Status int
	Body   []byte
}

// Sender performs JSON requests.
type Sender interface {
	PostJSON(ctx context.Context, req Request) (*Response, error)
}

// Observer is notified after every request.
type Observer func(op string, status int, elapsed time.Duration, err error)

// Options configures a Client.
type Options struct {
	Timeout            time.Duration
	InsecureSkipVerify bool
	// UTLS presents a Chrome TLS fingerprint on direct connections.
	UTLS           bool
	UserAgent      string
	AcceptLanguage string
	Observer       Observer
}

// Client is the default Sender. It keeps one http.Client per proxy.
type Client struct {
	opts    Options
	mu      sync.Mutex
	clients map[string]*http.Client
}

// New creates a Client.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Client{
		opts:    opts,
		clients: make(map[string]*http.Client),
	}
}

// PostJSON encodes req.Body and posts it. Any status code is returned as a Response;
// only failures to complete the exchange are errors.
func (c *Client) PostJSON(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := c.post(ctx, req)

	if c.opts.Observer != nil {
		status := 0
		if resp != nil {
			status = resp.Status
		}
		c.opts.Observer(req.Op, status, time.Since(start), err)
	}
	return resp, err
}

func (c *Client) post(ctx context.Context, req Request) (*Response, error) {
	payload, err := json.Marshal(req.Body)
	if err != nil {
		return nil, &errors.ErrTransport{Op: req.Op, Err: err}
	}

	client, err := c.clientFor(req.Proxy)
	if err != nil {
		return nil, &errors.ErrTransport{Op: req.Op, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, &errors.ErrTransport{Op: req.Op, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	c.applyHeaders(httpReq)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, &errors.ErrTransport{Op: req.Op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &errors.ErrTransport{Op: req.Op, Err: err}
	}

	return &Response{Status: resp.StatusCode, Body: body}, nil
}

func (c *Client) applyHeaders(req *http.Request) {
	if req.Header.Get("User-Agent") == "" && c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}
	if req.Header.Get("Accept-Language") == "" && c.opts.AcceptLanguage != "" {
		req.Header.Set("Accept-Language", c.opts.AcceptLanguage)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json, text/plain, */*")
	}
	if req.Header.Get("Sec-CH-UA") == "" {
		req.Header.Set("Sec-CH-UA", `"Chromium";v="130", "Google Chrome";v="130", "Not?A_Brand";v="99"`)
	}
	if req.Header.Get("Sec-CH-UA-Mobile") == "" {
		req.Header.Set("Sec-CH-UA-Mobile", "?0")
	}
	if req.Header.Get("Sec-CH-UA-Platform") == "" {
		req.Header.Set("Sec-CH-UA-Platform", `"Windows"`)
	}
}

func (c *Client) clientFor(proxy string) (*http.Client, error) {
	key := strings.TrimSpace(proxy)

	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[key]; ok {
		return client, nil
	}

	var proxyURL *url.URL
	if key != "" {
		parsed, err := ParseProxy(key)
		if err != nil {
			return nil, err
		}
		proxyURL = parsed
	}

	client := &http.Client{
		Timeout:   c.opts.Timeout,
		Transport: newTransport(proxyURL, c.opts.InsecureSkipVerify, c.opts.UTLS),
	}
	c.clients[key] = client
	return client, nil
}

// CloseIdleConnections releases idle connections of every cached client.
func (c *Client) CloseIdleConnections() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, client := range c.clients {
		client.CloseIdleConnections()
	}
}

// ParseProxy parses a proxy line. A missing scheme defaults to http.
func ParseProxy(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty proxy")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "socks5", "socks5h":
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("proxy has no host")
	}
	return u, nil
}

func newTransport(proxyURL *url.URL, insecure, useUTLS bool) http.RoundTripper {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: insecure},
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
	}

	if proxyURL != nil {
		transport.Proxy = http.ProxyURL(proxyURL)
		return transport
	}

	if useUTLS {
		transport.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{Timeout: 10 * time.Second}
			rawConn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			host := addr
			if strings.Contains(addr, ":") {
				host, _, _ = net.SplitHostPort(addr)
			}
			config := &utls.Config{
				ServerName:         host,
				NextProtos:         []string{"http/1.1"},
				InsecureSkipVerify: insecure,
			}
			uconn := utls.UClient(rawConn, config, utls.HelloCustom)
			spec, err := chromeHTTP1Spec()
			if err != nil {
				_ = rawConn.Close()
				return nil, err
			}
			if err := uconn.ApplyPreset(spec); err != nil {
				_ = rawConn.Close()
				return nil, err
			}
			if err := uconn.HandshakeContext(ctx); err != nil {
				_ = rawConn.Close()
				return nil, err
			}
			return uconn, nil
		}
	}
	return transport
}

// chromeHTTP1Spec is the Chrome fingerprint with ALPN limited to http/1.1,
// since the transport cannot speak h2 over a custom dialed connection.
func chromeHTTP1Spec() (*utls.ClientHelloSpec, error) {
	spec, err := utls.UTLSIdToSpec(utls.HelloChrome_120)
	if err != nil {
		return nil, err
	}
	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*utls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
		}
	}
	return &spec, nil
}
