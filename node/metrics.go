// Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
package node

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Snapshot is the read-only health/metrics surface named in SPEC_FULL
// §4.8 but absent from spec.md proper: handle counts, connection
// counts and the registration-retry tally a process supervisor or
// dashboard would want. Queue depths are not included.
type Snapshot struct {
	Publishers        int
	Subscribers       int
	ServiceServers    int
	OutgoingConns     int
	IncomingConns     int
	RegistrationRetries uint64
}

type metrics struct {
	registry            *prometheus.Registry
	outgoingConns       prometheus.Gauge
	incomingConns       prometheus.Gauge
	registrationRetries prometheus.Gauge
	server              *http.Server
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	m := &metrics{
		registry: reg,
		outgoingConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "graphnode_outgoing_connections",
			Help: "Number of attached peer connections across all owned publishers.",
		}),
		incomingConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "graphnode_incoming_connections",
			Help: "Number of open publisher connections across all owned subscribers.",
		}),
		registrationRetries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "graphnode_registration_retries",
			Help: "Failed registration attempts against the master observed so far in this process.",
		}),
	}
	reg.MustRegister(m.outgoingConns, m.incomingConns, m.registrationRetries)
	return m
}

// Serve starts the optional /metrics endpoint; a no-op if addr is empty.
func (m *metrics) Serve(addr string) error {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	m.server = &http.Server{Addr: addr, Handler: mux}
	go m.server.ListenAndServe()
	return nil
}

func (m *metrics) Shutdown() {
	if m.server != nil {
		m.server.Close()
	}
}
