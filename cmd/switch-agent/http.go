package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/samber/lo"

	"github.com/signalsfoundry/switchagent/internal/logging"
	"github.com/signalsfoundry/switchagent/internal/observability"
	"github.com/signalsfoundry/switchagent/internal/platform"
	"github.com/signalsfoundry/switchagent/internal/switchd"
	"github.com/signalsfoundry/switchagent/model"
)

// portStatus is the /ports view of one platform port.
type portStatus struct {
	ID      model.PortID `json:"id"`
	Name    string       `json:"name"`
	AdminUp bool         `json:"adminUp"`
	LinkUp  bool         `json:"linkUp"`
	OperUp  bool         `json:"operUp"`
	Changes uint64       `json:"changes"`
}

func newHTTPMux(collector *observability.AgentCollector, sw *switchd.Switch, ports []*platform.Port) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !sw.Ready() {
			http.Error(w, "switch not initialised", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/ports", func(w http.ResponseWriter, _ *http.Request) {
		out := lo.Map(ports, func(p *platform.Port, _ int) portStatus {
			st := p.Status()
			return portStatus{
				ID:      st.ID,
				Name:    st.Name,
				AdminUp: st.AdminUp,
				LinkUp:  st.LinkUp,
				OperUp:  st.OperUp,
				Changes: st.Changes,
			}
		})
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	})
	return mux
}

// serveHTTP serves handler on addr until ctx is done.
func serveHTTP(ctx context.Context, addr string, handler http.Handler, log logging.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Info(ctx, "serving metrics and status", logging.String("addr", addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		log.Warn(ctx, "metrics server exited", logging.Err(err))
		return err
	}
}
