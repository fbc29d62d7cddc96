package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vmoraes/event-harvester/internal/logger"
)

const (
	DefaultTimeout = 10 * time.Second
	AjaxPath       = "/wp-admin/admin-ajax.php"
	LoadMoreAction = "mec_grid_load_more"

	maxBodyBytes = 16 << 20
)

// ErrClosed is returned by fetches issued after Close.
var ErrClosed = errors.New("fetcher closed")

// ErrBodyTooLarge is returned when a response body exceeds the fetcher's size limit.
var ErrBodyTooLarge = errors.New("response body too large")

// NetworkError reports a failed request: transport error, timeout, non-2xx status,
// oversized body or an undecodable batch response.
type NetworkError struct {
	Op         string // "page" or "batch"
	URL        string
	StatusCode int // zero when no response was received
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: unexpected status code: %d", e.Op, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Timeout reports whether the request failed because the deadline expired.
func (e *NetworkError) Timeout() bool {
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout() || errors.Is(e.Err, context.DeadlineExceeded)
}

// BatchPayload is the decoded JSON envelope of a load-more response.
type BatchPayload struct {
	HTML string
	// Fields holds the remaining envelope members (count, offset, end_date, ...) undecoded.
	Fields map[string]json.RawMessage
}

// Options configures a Fetcher.
type Options struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// UserAgent builds the client identity header from the application name and environment.
func UserAgent(appName, environment, baseURL string) string {
	return fmt.Sprintf("%s-%s/1.0 (+%s)", appName, environment, baseURL)
}

// Fetcher handles the page and batch requests against one origin.
type Fetcher struct {
	client    *http.Client
	transport *http.Transport
	baseURL   *url.URL
	userAgent string
	maxBody   int64
	log       *logger.Logger

	mu     sync.Mutex
	closed bool
}

// New creates a Fetcher for opts.BaseURL.
func New(opts Options, log *logger.Logger) (*Fetcher, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base URL must be http or https: %q", opts.BaseURL)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}

	return &Fetcher{
		client:    &http.Client{Timeout: timeout, Transport: tr},
		transport: tr,
		baseURL:   base,
		userAgent: opts.UserAgent,
		maxBody:   maxBodyBytes,
		log:       log.With(logger.Fields{"component": "fetcher"}),
	}, nil
}

// BaseURL returns the origin the fetcher talks to.
func (f *Fetcher) BaseURL() string {
	return f.baseURL.String()
}

// FetchPage GETs the full events page and returns its markup.
func (f *Fetcher) FetchPage(ctx context.Context) (string, error) {
	pageURL := f.baseURL.String()
	f.log.Info("Fetching page", logger.Fields{"url": pageURL})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	body, err := f.do(req, "page")
	if err != nil {
		f.log.Error("Page fetch failed", logger.Fields{"url": pageURL}, err)
		return "", err
	}

	f.log.Info("Page fetched", logger.Fields{"url": pageURL, "bytes": len(body)})
	return string(body), nil
}

// FetchBatch POSTs one load-more request and decodes the JSON envelope.
func (f *Fetcher) FetchBatch(ctx context.Context, action, startDate string, offset int) (*BatchPayload, error) {
	ajaxURL := f.baseURL.ResolveReference(&url.URL{Path: AjaxPath}).String()
	fields := logger.Fields{"url": ajaxURL, "action": action, "start_date": startDate, "offset": offset}
	f.log.Info("Requesting batch", fields)

	form := url.Values{}
	form.Set("action", action)
	form.Set("mec_start_date", startDate)
	form.Set("mec_offset", strconv.Itoa(offset))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ajaxURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Accept", "application/json, text/javascript, */*; q=0.01")

	body, err := f.do(req, "batch")
	if err != nil {
		f.log.Error("Batch request failed", fields, err)
		return nil, err
	}

	payload, err := decodeBatch(body)
	if err != nil {
		nerr := &NetworkError{Op: "batch", URL: ajaxURL, Err: err}
		f.log.Error("Batch response undecodable", fields, nerr)
		return nil, nerr
	}

	f.log.Info("Batch fetched", logger.Fields{"start_date": startDate, "html_bytes": len(payload.HTML)})
	return payload, nil
}

// do sends req and returns the body of a 2xx response.
func (f *Fetcher) do(req *http.Request, op string) ([]byte, error) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return nil, &NetworkError{Op: op, URL: req.URL.String(), Err: ErrClosed}
	}

	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: op, URL: req.URL.String(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &NetworkError{Op: op, URL: req.URL.String(), StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return nil, &NetworkError{Op: op, URL: req.URL.String(), Err: fmt.Errorf("reading body: %w", err)}
	}
	if int64(len(body)) > f.maxBody {
		return nil, &NetworkError{Op: op, URL: req.URL.String(), Err: fmt.Errorf("%w: limit is %d bytes", ErrBodyTooLarge, f.maxBody)}
	}
	return body, nil
}

func decodeBatch(body []byte) (*BatchPayload, error) {
	// WordPress sometimes prefixes AJAX output with a BOM or whitespace.
	body = bytes.TrimPrefix(bytes.TrimSpace(body), []byte("\xef\xbb\xbf"))

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decoding batch response: %w", err)
	}

	payload := &BatchPayload{Fields: envelope}
	if raw, ok := envelope["html"]; ok {
		delete(envelope, "html")
		if string(raw) != "null" {
			if err := json.Unmarshal(raw, &payload.HTML); err != nil {
				return nil, fmt.Errorf("decoding html field: %w", err)
			}
		}
	}
	return payload, nil
}

// Close releases pooled connections. Later fetches fail with ErrClosed.
func (f *Fetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	f.transport.CloseIdleConnections()
	return nil
}
