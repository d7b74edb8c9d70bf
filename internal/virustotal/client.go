// Package virustotal is a small client for the VirusTotal v3 API:
// report lookup by hash or URL id, file and URL submission, and analysis polling.
package virustotal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"kcl-antivirus/internal/decision"
	"kcl-antivirus/pkg/util"
)

var (
	ErrNotFound    = errors.New("virustotal: subject not found")
	ErrRateLimited = errors.New("virustotal: rate limited")
	ErrNoAPIKey    = errors.New("virustotal: api key not configured")
)

const (
	EndpointFileReport = "file_report"
	EndpointFileSubmit = "file_submit"
	EndpointURLReport  = "url_report"
	EndpointURLSubmit  = "url_submit"
	EndpointAnalysis   = "analysis"

	maxAPIResponseSize = 8 * 1024 * 1024
)

// StatusError is a non-2xx response other than 404 and 429
type StatusError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("virustotal %s: unexpected status %d: %s", e.Endpoint, e.Status, e.Body)
}

type Options struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration

	// Observe is called once per completed HTTP exchange
	Observe func(endpoint string, status int)
	// Dial overrides the transport dialer, for tests
	Dial func(addr string) (net.Conn, error)
}

type Client struct {
	apiKey  string
	baseURL string
	timeout time.Duration
	http    *fasthttp.Client
	limiter *RateLimitMonitor
	observe func(endpoint string, status int)
}

func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, ErrNoAPIKey
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	httpClient := newHTTPClient(opts.Timeout, maxAPIResponseSize)
	if opts.Dial != nil {
		httpClient.Dial = opts.Dial
	}

	observe := opts.Observe
	if observe == nil {
		observe = func(string, int) {}
	}

	return &Client{
		apiKey:  opts.APIKey,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		timeout: opts.Timeout,
		http:    httpClient,
		limiter: NewRateLimitMonitor(),
		observe: observe,
	}, nil
}

func (c *Client) RateLimiter() *RateLimitMonitor {
	return c.limiter
}

type statsEnvelope struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			Status            string               `json:"status"`
			Stats             decision.EngineStats `json:"stats"`
			LastAnalysisStats decision.EngineStats `json:"last_analysis_stats"`
		} `json:"attributes"`
	} `json:"data"`
}

// FileReport returns the last analysis stats of a file by its sha256
func (c *Client) FileReport(ctx context.Context, sha256 string) (decision.EngineStats, error) {
	var env statsEnvelope
	if err := c.call(ctx, EndpointFileReport, fasthttp.MethodGet, "/files/"+sha256, nil, "", &env); err != nil {
		return decision.EngineStats{}, err
	}
	return env.Data.Attributes.LastAnalysisStats, nil
}

// SubmitFile uploads content for analysis and returns the analysis id
func (c *Client) SubmitFile(ctx context.Context, filename string, content []byte) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return "", fmt.Errorf("failed to build upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to build upload: %w", err)
	}

	var env statsEnvelope
	if err := c.call(ctx, EndpointFileSubmit, fasthttp.MethodPost, "/files", body.Bytes(), w.FormDataContentType(), &env); err != nil {
		return "", err
	}
	return env.Data.ID, nil
}

// URLReport returns the last analysis stats of a URL
func (c *Client) URLReport(ctx context.Context, rawURL string) (decision.EngineStats, error) {
	var env statsEnvelope
	if err := c.call(ctx, EndpointURLReport, fasthttp.MethodGet, "/urls/"+util.URLIdentifier(rawURL), nil, "", &env); err != nil {
		return decision.EngineStats{}, err
	}
	return env.Data.Attributes.LastAnalysisStats, nil
}

func (c *Client) SubmitURL(ctx context.Context, rawURL string) (string, error) {
	args := fasthttp.AcquireArgs()
	defer fasthttp.ReleaseArgs(args)
	args.Set("url", rawURL)

	var env statsEnvelope
	if err := c.call(ctx, EndpointURLSubmit, fasthttp.MethodPost, "/urls", args.QueryString(), "application/x-www-form-urlencoded", &env); err != nil {
		return "", err
	}
	return env.Data.ID, nil
}

// Analysis fetches an analysis; completed is false while it is still queued
func (c *Client) Analysis(ctx context.Context, analysisID string) (decision.EngineStats, bool, error) {
	var env statsEnvelope
	if err := c.call(ctx, EndpointAnalysis, fasthttp.MethodGet, "/analyses/"+analysisID, nil, "", &env); err != nil {
		return decision.EngineStats{}, false, err
	}
	return env.Data.Attributes.Stats, env.Data.Attributes.Status == "completed", nil
}

func (c *Client) call(ctx context.Context, endpoint, method, path string, body []byte, contentType string, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.limiter.CanExecute(endpoint) {
		return ErrRateLimited
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + path)
	req.Header.SetMethod(method)
	req.Header.Set("x-apikey", c.apiKey)
	req.Header.Set(fasthttp.HeaderAccept, "application/json")
	if body != nil {
		req.Header.SetContentType(contentType)
		req.SetBody(body)
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		c.observe(endpoint, 0)
		return fmt.Errorf("virustotal %s: %w", endpoint, err)
	}

	c.limiter.UpdateFromFastHTTPResponse(resp, endpoint)

	status := resp.StatusCode()
	c.observe(endpoint, status)

	switch {
	case status == fasthttp.StatusNotFound:
		return ErrNotFound
	case status == fasthttp.StatusTooManyRequests:
		return ErrRateLimited
	case status < 200 || status >= 300:
		return &StatusError{Endpoint: endpoint, Status: status, Body: util.Truncate(string(resp.Body()), 200)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("virustotal %s: failed to decode response: %w", endpoint, err)
	}
	return nil
}

// StatusLabel renders an observed status for metrics labels
func StatusLabel(status int) string {
	if status == 0 {
		return "error"
	}
	return strconv.Itoa(status)
}
