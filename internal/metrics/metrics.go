// Package metrics holds the Prometheus collectors of the supervisor and the
// daemon. Helpers are no-ops until Register succeeds.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bm"

var (
	regOK atomic.Bool

	workerStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "starts_total",
			Help:      "Start attempts per member outcome (launched, skipped, error).",
		}, []string{"team", "result"},
	)
	workerStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "stops_total",
			Help:      "Stop outcomes per member (stopped, killed, already exited, timeout, failed).",
		}, []string{"team", "result"},
	)
	runningWorkers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "running",
			Help:      "Workers observed alive at the last start or status.",
		}, []string{"team"},
	)
	webhookRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "daemon",
			Name:      "webhook_requests_total",
			Help:      "Webhook requests by response code.",
		}, []string{"code"},
	)
	events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "daemon",
			Name:      "events_total",
			Help:      "Received events by source and relevance.",
		}, []string{"source", "relevant"},
	)
	pollCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "daemon",
			Name:      "poll_cycles_total",
			Help:      "Poll cycles by result.",
		}, []string{"result"},
	)
	launches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "daemon",
			Name:      "launches_total",
			Help:      "One-shot launches of a team.",
		}, []string{"team"},
	)
	launchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "daemon",
			Name:      "launch_duration_seconds",
			Help:      "Time from spawning the members until the last one exited.",
			Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
		}, []string{"team"},
	)
	memberExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "daemon",
			Name:      "member_exits_total",
			Help:      "Exits of members launched by the daemon (ok, failed, killed).",
		}, []string{"team", "result"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		workerStarts, workerStops, runningWorkers,
		webhookRequests, events, pollCycles, launches, launchDuration, memberExits,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves the default gatherer.
func Handler() http.Handler { return promhttp.Handler() }

func IncWorkerStart(team, result string) {
	if regOK.Load() {
		workerStarts.WithLabelValues(team, result).Inc()
	}
}

func IncWorkerStop(team, result string) {
	if regOK.Load() {
		workerStops.WithLabelValues(team, result).Inc()
	}
}

func SetRunningWorkers(team string, n int) {
	if regOK.Load() {
		runningWorkers.WithLabelValues(team).Set(float64(n))
	}
}

func IncWebhookRequest(code int) {
	if regOK.Load() {
		webhookRequests.WithLabelValues(strconv.Itoa(code)).Inc()
	}
}

func IncEvent(source string, relevant bool) {
	if regOK.Load() {
		events.WithLabelValues(source, strconv.FormatBool(relevant)).Inc()
	}
}

func IncPollCycle(result string) {
	if regOK.Load() {
		pollCycles.WithLabelValues(result).Inc()
	}
}

func ObserveLaunch(team string, seconds float64) {
	if regOK.Load() {
		launches.WithLabelValues(team).Inc()
		launchDuration.WithLabelValues(team).Observe(seconds)
	}
}

func IncMemberExit(team, result string) {
	if regOK.Load() {
		memberExits.WithLabelValues(team, result).Inc()
	}
}
