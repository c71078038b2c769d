// Package origin implements the local origin HTTP client (spec.md §4.1,
// component C1): a pooled, TLS-configurable client that performs the
// actual outbound request behind a forwarded frame, plus the header
// hygiene and failure-mapping rules the forward engine depends on.
package origin

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// hopByHopInbound are stripped from a request before it is sent to the
// origin (spec.md §4.1).
var hopByHopInbound = map[string]bool{
	"host":                true,
	"connection":          true,
	"upgrade":             true,
	"proxy-connection":    true,
	"proxy-authorization": true,
	"te":                  true,
	"trailers":            true,
	"transfer-encoding":   true,
}

// hopByHopOutbound are stripped from the origin's response before it is
// re-framed and sent back over the tunnel.
var hopByHopOutbound = map[string]bool{
	"connection":        true,
	"upgrade":           true,
	"proxy-connection":  true,
	"transfer-encoding": true,
	"te":                true,
	"trailers":          true,
}

// ErrorKind classifies an OriginError (spec.md §4.1/§7).
type ErrorKind string

const (
	ErrUnreachable    ErrorKind = "unreachable"
	ErrBadResponse    ErrorKind = "bad_response"
	ErrTimeout        ErrorKind = "timeout"
	ErrPayloadTooLarge ErrorKind = "payload_too_large"
)

// OriginError is returned by Client.Forward on failure.
type OriginError struct {
	Kind ErrorKind
	Err  error
}

func (e *OriginError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("origin: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("origin: %s", e.Kind)
}

func (e *OriginError) Unwrap() error { return e.Err }

// Response is the result of a successful forward, ready to be re-framed.
type Response struct {
	Status     int
	StatusText string
	Headers    map[string][]string
	Body       []byte
}

// Config configures a Client the way spec.md §4.1 requires.
type Config struct {
	OriginURL       *url.URL
	VerifyTLS       bool
	ConnectTimeout  time.Duration
	RequestTimeout  time.Duration
	MaxConnections  int
	MaxBodyBytes    int64
}

// Client forwards HTTP requests to the configured local origin using a
// pooled http.Client shared read-only across all forward-engine workers.
type Client struct {
	httpClient *http.Client
	originURL  *url.URL
	maxBody    int64
}

// New builds a Client per Config. Keep-alive is enabled, HTTP/2 is
// attempted opportunistically (the default for an unmodified
// http.Transport dialing TLS), idle connections per host are at least
// MaxConnections, idle timeout is at least 60s, and TCP keepalive is at
// least 30s (spec.md §4.1).
func New(cfg Config) *Client {
	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = 10
	}
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 10 << 20
	}

	dialer := &net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          maxConns * 2,
		MaxIdleConnsPerHost:   maxConns,
		IdleConnTimeout:       60 * time.Second,
		TLSHandshakeTimeout:   connectTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: !cfg.VerifyTLS,
		},
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   requestTimeout,
		},
		originURL: cfg.OriginURL,
		maxBody:   maxBody,
	}
}

// Forward performs method against pathAndQuery joined onto the
// configured origin URL, applies inbound header hygiene, and returns the
// filtered, fully-buffered response.
func (c *Client) Forward(ctx context.Context, method, pathAndQuery, requestID string, headers map[string][]string, body []byte) (*Response, error) {
	if int64(len(body)) > c.maxBody {
		return nil, &OriginError{Kind: ErrPayloadTooLarge, Err: fmt.Errorf("request body of %d bytes exceeds %d byte limit", len(body), c.maxBody)}
	}

	target := joinOrigin(c.originURL, pathAndQuery)

	var bodyReader io.Reader
	if len(body) > 0 {
		bodyReader = strings.NewReader(string(body))
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, &OriginError{Kind: ErrBadResponse, Err: err}
	}

	for name, values := range headers {
		if hopByHopInbound[strings.ToLower(name)] {
			continue
		}
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	req.Header.Set("x-forwarded-by", "pori")
	req.Header.Set("x-request-id", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, c.maxBody+1)
	buf, err := io.ReadAll(limited)
	if err != nil {
		return nil, &OriginError{Kind: ErrBadResponse, Err: err}
	}
	if int64(len(buf)) > c.maxBody {
		return nil, &OriginError{Kind: ErrPayloadTooLarge, Err: fmt.Errorf("origin response exceeds %d bytes", c.maxBody)}
	}

	filtered := make(map[string][]string, len(resp.Header))
	for name, values := range resp.Header {
		if hopByHopOutbound[strings.ToLower(name)] {
			continue
		}
		filtered[name] = values
	}

	statusText := http.StatusText(resp.StatusCode)

	return &Response{
		Status:     resp.StatusCode,
		StatusText: statusText,
		Headers:    filtered,
		Body:       buf,
	}, nil
}

// joinOrigin composes the full target URL, preserving the request's path
// and query string against the configured origin base.
func joinOrigin(origin *url.URL, pathAndQuery string) string {
	rel, err := url.Parse(pathAndQuery)
	if err != nil {
		rel = &url.URL{Path: pathAndQuery}
	}
	resolved := *origin
	resolved.Path = singleJoiningSlash(origin.Path, rel.Path)
	resolved.RawQuery = rel.RawQuery
	return resolved.String()
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	default:
		return a + b
	}
}

// classifyError maps a low-level transport error onto the OriginError
// taxonomy from spec.md §4.1/§7.
func classifyError(err error) *OriginError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &OriginError{Kind: ErrTimeout, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &OriginError{Kind: ErrTimeout, Err: err}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &OriginError{Kind: ErrUnreachable, Err: err}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &OriginError{Kind: ErrUnreachable, Err: err}
	}

	if strings.Contains(err.Error(), "tls:") || strings.Contains(err.Error(), "certificate") {
		return &OriginError{Kind: ErrUnreachable, Err: err}
	}

	return &OriginError{Kind: ErrBadResponse, Err: err}
}
