package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tunnelmesh/chunkloader/internal/fingerprint"
	"github.com/tunnelmesh/chunkloader/internal/loader"
	"github.com/tunnelmesh/chunkloader/internal/tracing"
)

var (
	serveListen   string
	serveLocal    []string
	enableTracing bool
)

func newServeMetricsCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve-metrics",
		Short: "Serve chunks and Prometheus metrics over HTTP",
		Long: `Run a long-lived loader and expose it over HTTP:

  GET /chunks/{name}  chunk payload (404 if no source has it)
  GET /metrics        Prometheus metrics
  GET /debug/trace    runtime trace snapshot (with --enable-tracing)

--listen overrides metrics.listen from the config file.`,
		Args: cobra.NoArgs,
		RunE: runServeMetrics,
	}
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "listen address (default 127.0.0.1:9464)")
	serveCmd.Flags().StringSliceVar(&serveLocal, "local", nil, "additional local cache directory (repeatable)")
	serveCmd.Flags().BoolVar(&enableTracing, "enable-tracing", false, "enable runtime tracing (exposes /debug/trace endpoint)")
	return serveCmd
}

func runServeMetrics(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(serveLocal)
	if err != nil {
		return err
	}

	listen := serveListen
	if listen == "" {
		listen = cfg.Metrics.Listen
	}
	if listen == "" {
		listen = "127.0.0.1:9464"
	}

	metrics := loader.InitMetrics(prometheus.DefaultRegisterer)
	l, err := buildLoader(cfg, metrics)
	if err != nil {
		return err
	}

	mux := newServeMux(l, promhttp.Handler())
	if enableTracing {
		recorder := tracing.NewRecorder(log.Logger)
		if err := recorder.Start(tracing.DefaultBufferSize, 0); err != nil {
			log.Warn().Err(err).Msg("failed to start runtime tracing")
		} else {
			defer recorder.Stop()
			mux.Handle("GET /debug/trace", recorder)
		}
	}

	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("listen", listen).Msg("serving chunks and metrics")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newServeMux routes chunk reads to l and /metrics to metricsHandler.
func newServeMux(l *loader.Loader, metricsHandler http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metricsHandler)
	mux.HandleFunc("GET /chunks/{name}", func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		fp, err := fingerprint.Parse(name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		c, err := l.FetchChunk(r.Context(), fp)
		if err != nil {
			log.Warn().Err(err).Str("fingerprint", name).Msg("chunk fetch failed")
			http.Error(w, "chunk fetch failed", http.StatusBadGateway)
			return
		}
		if c == nil {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", strconv.Itoa(c.Len()))
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		_, _ = w.Write(c.Payload())
	})
	return mux
}
