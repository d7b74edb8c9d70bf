package metrics

import (
	"net"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

func TestRegistryCounters(t *testing.T) {
	r := NewRegistry()

	r.ObserveScan("file", "malicious", false)
	r.ObserveScan("file", "clean", true)
	r.ObserveScan("url", "clean", true)
	r.ObserveReputationRequest("files", "200")
	r.ObserveRaidSignal("raid")
	r.ObserveLockdownMember("kicked")
	r.ObserveLockdownMember("kicked")
	r.ObserveResponderStep("delete", "ok")
	r.SetTrackedEvents(3, 7)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.scans.WithLabelValues("file", "malicious")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.cacheHits.WithLabelValues("file")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.cacheHits.WithLabelValues("url")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.lockdownMembers.WithLabelValues("kicked")))
	assert.Equal(t, 7.0, testutil.ToFloat64(r.trackedEvents.WithLabelValues("message")))
}

func TestExporterServesMetrics(t *testing.T) {
	r := NewRegistry()
	r.ObserveRaidSignal("suspicious")

	ln := fasthttputil.NewInmemoryListener()
	e := NewExporter(r)
	e.Serve(ln)
	defer e.Shutdown()

	client := &fasthttp.Client{Dial: func(addr string) (net.Conn, error) { return ln.Dial() }}

	status, body, err := client.Get(nil, "http://metrics"+metricsPath)
	require.NoError(t, err)
	assert.Equal(t, fasthttp.StatusOK, status)
	assert.True(t, strings.Contains(string(body), `kcl_raid_signals_total{level="suspicious"} 1`))

	status, _, err = client.Get(nil, "http://metrics/unknown")
	require.NoError(t, err)
	assert.Equal(t, fasthttp.StatusNotFound, status)
}
