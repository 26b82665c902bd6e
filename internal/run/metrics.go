package run

import (
	"errors"
	"fmt"
	"net/http"
)

func (s *Server) writeMetrics(w http.ResponseWriter, _ *http.Request) {
	st := s.ctrl.Stats()
	connected := 0
	if s.ctrl.Snapshot().Connected {
		connected = 1
	}
	fmt.Fprintf(w, "pushtalk_connected %d\n", connected)
	fmt.Fprintf(w, "pushtalk_connects_total %d\n", st.Connects)
	fmt.Fprintf(w, "pushtalk_closes_total %d\n", st.Closes)
	fmt.Fprintf(w, "pushtalk_transport_errors_total %d\n", st.Errors)
	fmt.Fprintf(w, "pushtalk_reconnects_scheduled_total %d\n", st.ReconnectsScheduled)
	fmt.Fprintf(w, "pushtalk_published_total %d\n", st.Published)
	fmt.Fprintf(w, "pushtalk_rejected_total %d\n", st.Rejected)
}

func (s *Server) metricsServe(ctxDone <-chan struct{}, addr string, logger interface {
	Infof(string, ...any)
	Warnf(string, ...any)
}) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.writeMetrics)
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		<-ctxDone
		_ = server.Close()
	}()
	logger.Infof("metrics listening on http://%s/metrics", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warnf("metrics server: %v", err)
	}
}
