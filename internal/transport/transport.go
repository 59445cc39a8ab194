// Package transport implements the request layer (spec.md §4.E): a
// single-shot and chunked-multipart HTTP client with a Chrome TLS
// fingerprint, request timing stamps, timeout/abort, and a per-origin
// memory of which framing mode (chunked vs single-body) a server used
// last time.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	tls2 "github.com/refraction-networking/utls"
	"golang.org/x/time/rate"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// RequestType classifies why a request was issued, mirroring the
// navigation controller's own navigate/prefetch/load distinction.
type RequestType string

const (
	TypeNavigate RequestType = "navigate"
	TypePrefetch RequestType = "prefetch"
	TypeLoad     RequestType = "load"
)

// Timing carries the three stamps spec.md §4.E requires: open,
// headers-received, and completion.
type Timing struct {
	FetchStart    time.Time
	ResponseStart time.Time
	ResponseEnd   time.Time
}

// Result is delivered to Options.OnSuccess once a request completes
// with a dispatchable status.
type Result struct {
	Status int
	Body   []byte
	Timing Timing
}

// successStatus reports whether status is one the spec dispatches as
// success: 200-206 or 304.
func successStatus(status int) bool {
	return (status >= 200 && status <= 206) || status == 304
}

// Options configures a single Request call.
type Options struct {
	Method    string
	PostData  []byte
	Headers   map[string]string
	TimeoutMs int
	Type      RequestType

	// Delimiter is the literal sentinel separating multipart JSON
	// objects in a chunked response body. Empty disables part
	// splitting: a single-body response is delivered as one OnPart
	// call, and a chunked response as one OnPart call per chunk read.
	Delimiter string

	OnHeaders func(status int, header http.Header)
	OnPart    func(raw []byte)
	OnSuccess func(Result)
	OnError   func(error)
	OnTimeout func()
}

// Client issues requests with a Chrome TLS fingerprint, per-origin
// pacing, and per-origin framing memory.
type Client struct {
	proxy    string
	memory   *DomainMemory
	limiters *originLimiters
}

// NewClient builds a Client. proxy may be empty. rps/burst configure
// the per-origin token bucket (0 rps disables pacing).
func NewClient(proxy string, rps float64, burst int) *Client {
	return &Client{
		proxy:    proxy,
		memory:   NewDomainMemory(time.Hour),
		limiters: newOriginLimiters(rps, burst),
	}
}

// Stop ends the domain-memory sweeper. The rate limiter's cleanup
// goroutine (started when pacing is enabled) is not stopped.
func (c *Client) Stop() {
	c.memory.Stop()
}

// Request issues one HTTP request and drives opts' callbacks. It
// returns a cancel func that aborts the in-flight request, clearing
// its timeout timer and detaching its handlers (spec.md §4.E "Abort
// clears the timer and detaches handlers").
func (c *Client) Request(parent context.Context, target string, opts Options) (cancel func()) {
	ctx, cancelFn := context.WithCancel(parent)
	if opts.TimeoutMs > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, time.Duration(opts.TimeoutMs)*time.Millisecond)
		origCancelFn := cancelFn
		cancelFn = func() { timeoutCancel(); origCancelFn() }
	}

	detached := false
	var mu sync.Mutex
	guard := func(fn func()) {
		mu.Lock()
		defer mu.Unlock()
		if detached || fn == nil {
			return
		}
		fn()
	}

	go c.do(ctx, target, opts, guard)

	return func() {
		mu.Lock()
		detached = true
		mu.Unlock()
		cancelFn()
	}
}

func (c *Client) do(ctx context.Context, target string, opts Options, guard func(func())) {
	timing := Timing{FetchStart: time.Now()}

	if err := c.limiters.wait(ctx, target); err != nil {
		c.dispatchTimeoutOrError(ctx, err, opts, guard)
		return
	}

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if len(opts.PostData) > 0 {
		body = bytes.NewReader(opts.PostData)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		guard(func() {
			if opts.OnError != nil {
				opts.OnError(fmt.Errorf("transport: build request: %w", err))
			}
		})
		return
	}
	applyHeaders(req, opts.Headers)

	client := &http.Client{Transport: &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialTLSChrome(ctx, network, addr, c.proxy)
		},
	}}
	defer client.CloseIdleConnections()

	resp, err := client.Do(req)
	if err != nil {
		c.dispatchTimeoutOrError(ctx, err, opts, guard)
		return
	}
	defer resp.Body.Close()

	timing.ResponseStart = time.Now()
	origin := originOf(target)
	chunked := isChunked(resp)
	c.memory.Set(origin, chunked)

	guard(func() {
		if opts.OnHeaders != nil {
			opts.OnHeaders(resp.StatusCode, resp.Header)
		}
	})

	splitter := newSplitter(opts.Delimiter)
	var fullBody bytes.Buffer

	if chunked {
		buf := make([]byte, 32*1024)
		for {
			n, rerr := resp.Body.Read(buf)
			if n > 0 {
				chunk := buf[:n]
				fullBody.Write(chunk)
				for _, part := range splitter.feed(chunk) {
					p := part
					guard(func() {
						if opts.OnPart != nil {
							opts.OnPart(p)
						}
					})
				}
			}
			if rerr != nil {
				if rerr != io.EOF {
					c.dispatchTimeoutOrError(ctx, rerr, opts, guard)
					return
				}
				break
			}
		}
	} else {
		if _, err := io.Copy(&fullBody, resp.Body); err != nil {
			c.dispatchTimeoutOrError(ctx, err, opts, guard)
			return
		}
		for _, part := range splitter.feed(fullBody.Bytes()) {
			p := part
			guard(func() {
				if opts.OnPart != nil {
					opts.OnPart(p)
				}
			})
		}
	}

	if trailing := splitter.flush(); trailing != nil {
		guard(func() {
			if opts.OnPart != nil {
				opts.OnPart(trailing)
			}
		})
	}

	timing.ResponseEnd = time.Now()

	if !successStatus(resp.StatusCode) {
		guard(func() {
			if opts.OnError != nil {
				opts.OnError(fmt.Errorf("transport: HTTP %d for %s", resp.StatusCode, target))
			}
		})
		return
	}

	guard(func() {
		if opts.OnSuccess != nil {
			opts.OnSuccess(Result{Status: resp.StatusCode, Body: fullBody.Bytes(), Timing: timing})
		}
	})
}

func (c *Client) dispatchTimeoutOrError(ctx context.Context, err error, opts Options, guard func(func())) {
	if ctx.Err() == context.DeadlineExceeded {
		guard(func() {
			if opts.OnTimeout != nil {
				opts.OnTimeout()
			}
		})
		return
	}
	guard(func() {
		if opts.OnError != nil {
			opts.OnError(err)
		}
	})
}

func applyHeaders(req *http.Request, headers map[string]string) {
	req.Header.Set("User-Agent", chromeUA)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Cache-Control", "no-cache")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
}

func isChunked(resp *http.Response) bool {
	for _, enc := range resp.TransferEncoding {
		if strings.Contains(strings.ToLower(enc), "chunked") {
			return true
		}
	}
	return strings.Contains(strings.ToLower(resp.Header.Get("Transfer-Encoding")), "chunked")
}

func originOf(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	return u.Scheme + "://" + u.Host
}

// dialTLSChrome establishes a TLS connection using a Chrome fingerprint
// via utls, optionally through an HTTP or SOCKS5 proxy.
func dialTLSChrome(ctx context.Context, network, addr, proxy string) (net.Conn, error) {
	var rawConn net.Conn
	var err error
	dialer := &net.Dialer{}

	if proxy != "" {
		if proxyURL, perr := url.Parse(proxy); perr == nil &&
			(proxyURL.Scheme == "socks5" || proxyURL.Scheme == "socks5h") {
			rawConn, err = dialer.DialContext(ctx, "tcp", proxyURL.Host)
			if err != nil {
				return nil, fmt.Errorf("transport: socks5 dial: %w", err)
			}
		}
	}
	if rawConn == nil {
		rawConn, err = dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
	}

	host, _, _ := net.SplitHostPort(addr)
	tlsConn := tls2.UClient(rawConn, &tls2.Config{
		ServerName:         host,
		InsecureSkipVerify: false,
	}, tls2.HelloChrome_Auto)

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, err
	}
	return tlsConn, nil
}
