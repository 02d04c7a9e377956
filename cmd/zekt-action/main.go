package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/austindbirch/zekt_action/internal/action"
	"github.com/austindbirch/zekt_action/internal/config"
	"github.com/austindbirch/zekt_action/internal/delivery"
	"github.com/austindbirch/zekt_action/internal/host"
	"github.com/austindbirch/zekt_action/internal/logging"
	"github.com/austindbirch/zekt_action/internal/metrics"
	"github.com/austindbirch/zekt_action/internal/redact"
	"github.com/austindbirch/zekt_action/internal/tracing"
)

func main() {
	os.Exit(run(context.Background(), host.NewGitHub()))
}

// run wires the action for one invocation and returns the process exit code.
func run(ctx context.Context, h *host.GitHub) int {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.FromEnv()
	if errors.Is(err, config.ErrMissingAPIURL) && h.Input(action.InputAPIURL) != "" {
		cfg, err = config.Load(""), nil
	}
	if err != nil {
		msg := redact.String(err.Error())
		_ = h.SetOutput(action.OutputSuccess, "false")
		_ = h.SetOutput(action.OutputErrorMessage, msg)
		h.SetFailed("Failed to register run with Zekt: " + msg)
		return 1
	}
	logging.SetDefaultService(cfg.AppName)

	if tracing.Enabled() {
		shutdown, err := tracing.InitTracing(ctx, cfg.AppName)
		if err != nil {
			h.Warnf("Tracing disabled: %s", redact.String(err.Error()))
		} else {
			defer shutdown()
		}
	}

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	client := delivery.NewClient(delivery.OptionsFrom(cfg, h))
	runErr := action.New(cfg, client).Run(ctx, h)

	if cfg.PushgatewayURL != "" {
		pushMetrics(ctx, cfg, reg, h)
	}

	if runErr != nil || h.Failed() {
		return 1
	}
	return 0
}

func pushMetrics(ctx context.Context, cfg config.Config, reg *prometheus.Registry, h *host.GitHub) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	grouping := map[string]string{}
	if repo := os.Getenv("GITHUB_REPOSITORY"); repo != "" {
		grouping["repository"] = repo
	}
	if id := os.Getenv("GITHUB_RUN_ID"); id != "" {
		if _, err := strconv.ParseInt(id, 10, 64); err == nil {
			grouping["github_run_id"] = id
		}
	}
	if err := metrics.Push(ctx, cfg.PushgatewayURL, cfg.AppName, reg, grouping); err != nil {
		h.Warnf("Failed to push metrics: %s", redact.String(err.Error()))
	}
}
