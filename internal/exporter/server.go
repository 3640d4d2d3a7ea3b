package exporter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// serveHTTP runs the scrape endpoint until the context is canceled.
func (e *Exporter) serveHTTP(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(e.cfg.MetricsPath, promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", e.handleHealthz)
	mux.HandleFunc("/", e.handleIndex)

	srv := &http.Server{
		Addr:              e.cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		e.logger.Info("metrics endpoint listening", "addr", e.cfg.ListenAddr, "path", e.cfg.MetricsPath)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), e.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			e.logger.Warn("metrics server shutdown failed", "error", err)
		}
		<-errCh
		return nil
	}
}

func (e *Exporter) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(e.health.Snapshot()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (e *Exporter) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	fmt.Fprintf(w, `<html>
	<head><title>VM CPU Exporter</title></head>
	<body>
	<h1>VM CPU Exporter</h1>
	<p><a href="%s">Metrics</a></p>
	</body>
	</html>`, e.cfg.MetricsPath)
}
