package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "kcl"

// Registry owns the subsystem's prometheus collectors
type Registry struct {
	reg *prometheus.Registry

	scans              *prometheus.CounterVec
	cacheHits          *prometheus.CounterVec
	reputationRequests *prometheus.CounterVec
	raidSignals        *prometheus.CounterVec
	lockdownMembers    *prometheus.CounterVec
	responderSteps     *prometheus.CounterVec
	trackedEvents      *prometheus.GaugeVec
}

func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Finished scans by subject kind and result",
		}, []string{"kind", "result"}),

		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_cache_hits_total",
			Help:      "Scans answered from the verdict cache",
		}, []string{"kind"}),

		reputationRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reputation_requests_total",
			Help:      "Reputation service HTTP exchanges by endpoint and status",
		}, []string{"endpoint", "status"}),

		raidSignals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "raid_signals_total",
			Help:      "Raid classifier signals above none",
		}, []string{"level"}),

		lockdownMembers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lockdown_members_total",
			Help:      "Per-member lockdown outcomes",
		}, []string{"outcome"}),

		responderSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responder_steps_total",
			Help:      "Threat responder steps by outcome",
		}, []string{"step", "outcome"}),

		trackedEvents: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_events",
			Help:      "Events held by the activity tracker after the last sweep",
		}, []string{"kind"}),
	}

	r.reg.MustRegister(
		r.scans,
		r.cacheHits,
		r.reputationRequests,
		r.raidSignals,
		r.lockdownMembers,
		r.responderSteps,
		r.trackedEvents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

func (r *Registry) ObserveScan(kind, result string, cached bool) {
	r.scans.WithLabelValues(kind, result).Inc()
	if cached {
		r.cacheHits.WithLabelValues(kind).Inc()
	}
}

func (r *Registry) ObserveReputationRequest(endpoint, status string) {
	r.reputationRequests.WithLabelValues(endpoint, status).Inc()
}

func (r *Registry) ObserveRaidSignal(level string) {
	r.raidSignals.WithLabelValues(level).Inc()
}

func (r *Registry) ObserveLockdownMember(outcome string) {
	r.lockdownMembers.WithLabelValues(outcome).Inc()
}

func (r *Registry) ObserveResponderStep(step, outcome string) {
	r.responderSteps.WithLabelValues(step, outcome).Inc()
}

func (r *Registry) SetTrackedEvents(joins, messages int) {
	r.trackedEvents.WithLabelValues("join").Set(float64(joins))
	r.trackedEvents.WithLabelValues("message").Set(float64(messages))
}

var (
	globalRegistry *Registry
	globalOnce     sync.Once
)

func GetRegistry() *Registry {
	globalOnce.Do(func() {
		globalRegistry = NewRegistry()
	})
	return globalRegistry
}
