package metrics

import (
	"net"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"kcl-antivirus/internal/logging"
)

const metricsPath = "/metrics"

// Exporter serves a registry over fasthttp
type Exporter struct {
	server  *fasthttp.Server
	metrics fasthttp.RequestHandler

	mu       sync.Mutex
	listener net.Listener
	done     chan struct{}
}

func NewExporter(r *Registry) *Exporter {
	e := &Exporter{
		metrics: fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(r.Gatherer(), promhttp.HandlerOpts{})),
	}
	e.server = &fasthttp.Server{
		Handler: e.handle,
		Name:    "kcl-antivirus",
	}
	return e
}

func (e *Exporter) handle(ctx *fasthttp.RequestCtx) {
	switch string(ctx.Path()) {
	case metricsPath:
		e.metrics(ctx)
	case "/healthz":
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
}

// Start listens on addr and serves in the background
func (e *Exporter) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	e.Serve(ln)
	logging.Info("[METRICS] Serving %s on %s", metricsPath, ln.Addr())
	return nil
}

// Serve accepts on ln in the background
func (e *Exporter) Serve(ln net.Listener) {
	e.mu.Lock()
	e.listener = ln
	e.done = make(chan struct{})
	done := e.done
	e.mu.Unlock()

	go func() {
		defer close(done)
		if err := e.server.Serve(ln); err != nil {
			logging.Error("[METRICS] Exporter stopped: %v", err)
		}
	}()
}

func (e *Exporter) Shutdown() error {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done == nil {
		return nil
	}

	err := e.server.Shutdown()
	<-done
	return err
}
