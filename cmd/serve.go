package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/ballot-research/internal/errlog"
	"github.com/sells-group/ballot-research/internal/store"
	"github.com/sells-group/ballot-research/internal/update"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ops server for triggering and inspecting runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		env, err := initUpdate(ctx, "update", reg)
		if err != nil {
			return err
		}
		defer env.Close()

		a := &api{
			store: env.Store,
			orch:  env.Orchestrator,
			cycle: cfg.Election.Cycle,
		}
		handler := newRouter(a, reg, cfg.Server.AllowedOrigins)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return startServer(gctx, handler, resolvePort(servePort, cfg.Server.Port))
		})
		if cfg.Monitoring.WebhookURL != "" {
			checker := newChecker(cfg, env.Store)
			g.Go(func() error {
				checker.Run(gctx)
				return nil
			})
		}
		err = g.Wait()
		zap.L().Info("waiting for in-flight runs")
		a.drain()
		return err
	},
}

// resolvePort prefers the flag value over the configured port.
func resolvePort(flag, configured int) int {
	if flag != 0 {
		return flag
	}
	return configured
}

// startServer serves handler on port until ctx is done, then shuts down
// gracefully.
func startServer(ctx context.Context, handler http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- eris.Wrap(err, "server listen")
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zap.L().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server shutdown")
	}
	return <-errCh
}

// api serves run triggers and read-only views of the persisted state.
type api struct {
	store store.Store
	orch  *update.Orchestrator
	cycle string

	mu       sync.Mutex
	draining bool
	runs     sync.WaitGroup
}

// beginRun registers an in-flight run. It reports false once draining.
func (a *api) beginRun() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.draining {
		return false
	}
	a.runs.Add(1)
	return true
}

// drain refuses new runs and blocks until in-flight runs return. Runs
// outlive the HTTP server's shutdown because they ignore client cancellation.
func (a *api) drain() {
	a.mu.Lock()
	a.draining = true
	a.mu.Unlock()
	a.runs.Wait()
}

func newRouter(a *api, gatherer prometheus.Gatherer, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/update", a.handleUpdate)
		r.Post("/refresh", a.handleRefresh)
		r.Get("/errors/{date}", a.handleErrors)
		r.Get("/manifest", a.handleManifest)
	})
	return r
}

// handleUpdate runs a daily update synchronously. A dropped client does not
// cancel a run that already holds the lease.
func (a *api) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Parties     []string `json:"parties"`
		DryRun      bool     `json:"dryRun"`
		SkipRefresh bool     `json:"skipRefresh"`
	}
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	if !a.beginRun() {
		writeShuttingDown(w)
		return
	}
	defer a.runs.Done()

	res, err := a.orch.RunDailyUpdate(context.WithoutCancel(r.Context()), update.DailyRequest{
		Parties:     req.Parties,
		DryRun:      req.DryRun,
		SkipRefresh: req.SkipRefresh,
	})
	if err != nil {
		writeRunError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, res)
}

func (a *api) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Counties []string `json:"counties"`
		DryRun   bool     `json:"dryRun"`
	}
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	if !a.beginRun() {
		writeShuttingDown(w)
		return
	}
	defer a.runs.Done()

	res, err := a.orch.RunSecondaryRefresh(context.WithoutCancel(r.Context()), update.RefreshRequest{
		Counties: req.Counties,
		DryRun:   req.DryRun,
	})
	if err != nil {
		writeRunError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, res)
}

func (a *api) handleErrors(w http.ResponseWriter, r *http.Request) {
	day, err := time.Parse(time.DateOnly, chi.URLParam(r, "date"))
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, map[string]string{"error": "date must be YYYY-MM-DD"})
		return
	}
	l, err := errlog.LoadDaily(r.Context(), a.store, day)
	if err != nil {
		zap.L().Error("load error log", zap.Error(err))
		writeJSONResponse(w, http.StatusInternalServerError, map[string]string{"error": "load failed"})
		return
	}
	if l.Entries == nil {
		l.Entries = []errlog.Entry{}
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"date":    l.Date,
		"summary": l.Summary(),
		"entries": l.Entries,
	})
}

func (a *api) handleManifest(w http.ResponseWriter, r *http.Request) {
	m, err := update.LoadManifest(r.Context(), a.store, a.cycle)
	if err != nil {
		zap.L().Error("load manifest", zap.Error(err))
		writeJSONResponse(w, http.StatusInternalServerError, map[string]string{"error": "load failed"})
		return
	}
	writeJSONResponse(w, http.StatusOK, m)
}

// decodeOptionalBody decodes a JSON body when one is present. It writes a
// 400 and returns false on malformed input.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

func writeRunError(w http.ResponseWriter, err error) {
	if errors.Is(err, update.ErrRunInProgress) {
		writeJSONResponse(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	zap.L().Error("run failed to start", zap.Error(err))
	writeJSONResponse(w, http.StatusInternalServerError, map[string]string{"error": "run failed to start"})
}

func writeShuttingDown(w http.ResponseWriter) {
	writeJSONResponse(w, http.StatusServiceUnavailable, map[string]string{"error": "server is shutting down"})
}

func writeJSONResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
