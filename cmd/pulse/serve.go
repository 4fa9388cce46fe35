package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"goflare.io/pulse"
)

// dashboardService is the part of *pulse.Pulse the HTTP layer needs.
type dashboardService interface {
	GetMetrics(ctx context.Context, role pulse.Role, period string) (*pulse.Metrics, error)
	ClearCache(ctx context.Context) error
	Invalidate(ctx context.Context, role pulse.Role, period string) error
	Stats() pulse.Stats
}

func newServeCmd(flags *globalFlags) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve dashboards over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := flags.loadFile()
			if err != nil {
				return err
			}
			if listen != "" {
				f.Listen = listen
			}
			logger, err := f.NewLogger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			p, err := flags.open(ctx, f, logger, reg)
			if err != nil {
				return err
			}
			defer func() { _ = p.Close() }()

			srv := &http.Server{
				Addr:              f.Listen,
				Handler:           newRouter(p, reg, logger),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("Listening", zap.String("addr", f.Listen))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			logger.Info("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), f.Timeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (overrides the config file)")
	return cmd
}

func newRouter(svc dashboardService, gatherer prometheus.Gatherer, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "stats": svc.Stats()})
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/dashboard", func(r chi.Router) {
		r.Delete("/cache", func(w http.ResponseWriter, req *http.Request) {
			if err := svc.ClearCache(req.Context()); err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})
		r.Get("/{role}", func(w http.ResponseWriter, req *http.Request) {
			role := pulse.Role(chi.URLParam(req, "role"))
			m, err := svc.GetMetrics(req.Context(), role, req.URL.Query().Get("period"))
			if err != nil {
				// 只有請求被取消時才會失敗
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, m)
		})
		r.Delete("/{role}", func(w http.ResponseWriter, req *http.Request) {
			role := pulse.Role(chi.URLParam(req, "role"))
			if err := svc.Invalidate(req.Context(), role, req.URL.Query().Get("period")); err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})
	})

	return r
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("Request served",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
