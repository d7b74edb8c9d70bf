package virustotal

import (
	"crypto/tls"
	"time"

	"github.com/valyala/fasthttp"
)

func newHTTPClient(timeout time.Duration, maxBodySize int) *fasthttp.Client {
	return &fasthttp.Client{
		Name:                "kcl-antivirus",
		MaxConnsPerHost:     32,
		MaxIdleConnDuration: 90 * time.Second,
		ReadTimeout:         timeout,
		WriteTimeout:        timeout,
		MaxConnWaitTimeout:  5 * time.Second,

		ReadBufferSize:      16 * 1024,
		MaxResponseBodySize: maxBodySize,

		// Scans are not idempotent from the quota's point of view
		MaxIdemponentCallAttempts: 1,

		TLSConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			ClientSessionCache: tls.NewLRUClientSessionCache(32),
		},
	}
}
