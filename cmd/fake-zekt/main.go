package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/zekt_action/internal/auth"
	"github.com/austindbirch/zekt_action/internal/config"
	"github.com/austindbirch/zekt_action/internal/delivery"
	"github.com/austindbirch/zekt_action/internal/health"
	"github.com/austindbirch/zekt_action/internal/logging"
	"github.com/austindbirch/zekt_action/internal/metrics"
	"github.com/austindbirch/zekt_action/internal/tracing"
)

const maxBodyBytes = 1 << 20

type server struct {
	cfg      config.FakeServer
	reqCount atomic.Int64
	logger   *logging.Logger
}

func main() {
	logging.SetDefaultService("fake-zekt")
	logger := logging.Default()
	cfg := config.FakeServerFromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if tracing.Enabled() {
		shutdown, err := tracing.InitTracing(ctx, "fake-zekt")
		if err != nil {
			logger.Plain().WithError(err).Warn("tracing disabled")
		} else {
			defer shutdown()
		}
	}

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	handler, err := newHandler(ctx, cfg, reg, logger)
	if err != nil {
		logger.Plain().WithError(err).Fatal("failed to configure fake-zekt")
	}

	srv := &http.Server{
		Addr:         cfg.Port,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.WithFields(map[string]any{
		"addr":         cfg.Port,
		"fail_first_n": cfg.FailFirstN,
	}).Info("fake-zekt listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Plain().WithError(err).Fatal("fake-zekt stopped")
	}
}

// newHandler builds the routes and wraps them in the configured bearer check.
// A JWT public key file takes precedence over a JWKS URL, and either over a
// static token.
func newHandler(ctx context.Context, cfg config.FakeServer, reg *prometheus.Registry, logger *logging.Logger) (http.Handler, error) {
	s := &server{cfg: cfg, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(delivery.Version, nil))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc(delivery.RegisterRunPath, s.handleRegisterRun)

	switch {
	case cfg.JWTPublicKeyFile != "":
		pemBytes, err := os.ReadFile(cfg.JWTPublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read JWT public key: %w", err)
		}
		v, err := auth.NewJWTValidator(string(pemBytes), cfg.JWTIssuer, cfg.JWTAudience)
		if err != nil {
			return nil, err
		}
		return v.HTTPMiddleware(mux), nil
	case cfg.JWKSURL != "":
		fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		key, err := auth.FetchJWKS(fetchCtx, cfg.JWKSURL, "")
		if err != nil {
			return nil, err
		}
		return auth.NewJWTValidatorFromKey(key, cfg.JWTIssuer, cfg.JWTAudience).HTTPMiddleware(mux), nil
	case cfg.ExpectedToken != "":
		return auth.StaticTokenMiddleware(cfg.ExpectedToken, mux), nil
	default:
		return mux, nil
	}
}

func (s *server) handleRegisterRun(w http.ResponseWriter, r *http.Request) {
	ctx := tracing.ExtractHTTPHeaders(r.Context(), r.Header)
	ctx, span := tracing.StartSpan(ctx, "fake_zekt.register_run",
		attribute.String("zekt.request_id", r.Header.Get("X-Zekt-Request-Id")),
	)
	defer span.End()

	n := s.reqCount.Add(1)

	if r.Method != http.MethodPost {
		s.respond(w, http.StatusMethodNotAllowed, delivery.Response{Error: "method not allowed"})
		return
	}

	b, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	defer r.Body.Close()
	if err != nil {
		s.respond(w, http.StatusBadRequest, delivery.Response{Error: "failed to read body"})
		return
	}

	var req delivery.RegisterRunRequest
	if err := json.Unmarshal(b, &req); err != nil {
		s.respond(w, http.StatusBadRequest, delivery.Response{Error: "invalid JSON body"})
		return
	}
	if req.RunID <= 0 {
		s.respond(w, http.StatusBadRequest, delivery.Response{Error: "zekt_run_id must be a positive number"})
		return
	}

	entry := s.logger.WithContext(ctx).WithRun(req.RunID).WithStep(req.StepID).WithFields(map[string]any{
		"attempt":    r.Header.Get("X-Zekt-Attempt"),
		"repository": req.GitHubContext.Repository,
		"body":       truncate(string(b), 160),
	})

	if s.cfg.ResponseDelayMS > 0 {
		select {
		case <-time.After(time.Duration(s.cfg.ResponseDelayMS) * time.Millisecond):
		case <-r.Context().Done():
			return
		}
	}

	// Simulate flakiness: first N requests -> 500
	if n <= int64(s.cfg.FailFirstN) {
		entry.Warnf("FAILING (%d/%d)", n, s.cfg.FailFirstN)
		tracing.AddSpanEvent(ctx, "injected_failure")
		s.respond(w, http.StatusInternalServerError, delivery.Response{Error: "temporary failure"})
		return
	}

	entry.Info("registered run")
	s.respond(w, http.StatusOK, delivery.Response{
		Success: true,
		RunID:   req.RunID,
		StepID:  req.StepID,
		Message: "Run registered",
	})
}

func (s *server) respond(w http.ResponseWriter, code int, resp delivery.Response) {
	metrics.RecordFakeRequest(strconv.Itoa(code))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

// truncate truncates a string to the specified length and adds an ellipsis if truncated
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
