package virustotal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/valyala/fasthttp"
)

var ErrTooLarge = errors.New("attachment exceeds size cap")

// Fetcher downloads attachment bytes from the CDN with a hard body cap
type Fetcher struct {
	http    *fasthttp.Client
	timeout time.Duration
}

func NewFetcher(timeout time.Duration, maxSize int64, dial func(addr string) (net.Conn, error)) *Fetcher {
	client := newHTTPClient(timeout, int(maxSize))
	if dial != nil {
		client.Dial = dial
	}
	return &Fetcher{http: client, timeout: timeout}
}

func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)

	deadline := time.Now().Add(f.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := f.http.DoDeadline(req, resp, deadline); err != nil {
		if errors.Is(err, fasthttp.ErrBodyTooLarge) {
			return nil, ErrTooLarge
		}
		return nil, fmt.Errorf("failed to download attachment: %w", err)
	}

	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("failed to download attachment: status %d", resp.StatusCode())
	}

	return append([]byte(nil), resp.Body()...), nil
}
