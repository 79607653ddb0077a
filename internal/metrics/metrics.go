// Package metrics exposes prometheus collectors for the transport, the
// recovery log and the session, and serves them over HTTP.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drand/ordering/common/log"
)

var (
	// PrivateMetrics holds every collector of the participant.
	PrivateMetrics = prometheus.NewRegistry()

	// DatagramsSent counts datagrams handed to the socket.
	DatagramsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "datagrams_sent",
		Help: "Number of protocol datagrams sent to peers",
	})
	// DatagramsReceived counts datagrams successfully decoded.
	DatagramsReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "datagrams_received",
		Help: "Number of protocol datagrams received and decoded",
	})
	// DatagramsDropped counts datagrams lost on either side, by reason.
	DatagramsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "datagrams_dropped",
		Help: "Number of protocol datagrams dropped",
	}, []string{"reason"})
	// BackupBytesAppended counts bytes appended to the recovery log.
	BackupBytesAppended = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "backup_bytes_appended",
		Help: "Number of bytes appended to the recovery log during this session",
	})
	// UnitsCertified counts units for which a complete multisignature was seen.
	UnitsCertified = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "units_certified",
		Help: "Number of units backed by a quorum multisignature",
	})
	// FinalizedItems counts finalized items per origin participant.
	FinalizedItems = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "finalized_items",
		Help: "Number of finalized items received by the orchestrator",
	}, []string{"origin"})
	// SessionState is the current state of the orchestrator state machine.
	SessionState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "session_state",
		Help: "State of the session: 0 starting, 1 running, 2 draining, 3 shutting down, 4 done",
	})

	bindOnce sync.Once
)

// Drop reasons used with DatagramsDropped.
const (
	DropEncode    = "encode"
	DropOversized = "oversized"
	DropSend      = "send"
	DropDecode    = "decode"
	DropTruncated = "truncated"
	DropReceive   = "receive"
)

func bindMetrics() {
	bindOnce.Do(func() {
		PrivateMetrics.MustRegister(prometheus.NewGoCollector())
		PrivateMetrics.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

		for _, c := range []prometheus.Collector{
			DatagramsSent,
			DatagramsReceived,
			DatagramsDropped,
			BackupBytesAppended,
			UnitsCertified,
			FinalizedItems,
			SessionState,
		} {
			PrivateMetrics.MustRegister(c)
		}
	})
}

// Server serves the metrics endpoint and optional debug handlers.
type Server struct {
	srv *http.Server
	l   net.Listener
	log log.Logger
}

// Start listens on metricsBind and serves /metrics. The status handler, when
// non nil, is mounted at /status. With profile set, pprof is served under
// /debug/pprof.
func Start(l log.Logger, metricsBind string, status http.Handler, profile bool) (*Server, error) {
	bindMetrics()

	listener, err := net.Listen("tcp", metricsBind)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(PrivateMetrics, promhttp.HandlerOpts{Registry: PrivateMetrics}))
	if status != nil {
		r.Handle("/status", status)
	}
	if profile {
		r.Mount("/debug", middleware.Profiler())
	}

	s := &Server{
		srv: &http.Server{Handler: r},
		l:   listener,
		log: l,
	}
	go func() {
		err := s.srv.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Warnw("metrics server stopped", "err", err)
		}
	}()
	l.Infow("metrics server started", "addr", listener.Addr().String())
	return s, nil
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	return s.l.Addr().String()
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
