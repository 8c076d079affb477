// Package main runs the capforge daemon: it loads a runtime config, wires a
// Runtime, and serves a task-submission API plus (optionally) the admin API.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/forge-labs/capforge"
	"github.com/forge-labs/capforge/internal/logging"
	"github.com/forge-labs/capforge/internal/version"

	// Register built-in plugins so they can be loaded from config.
	_ "github.com/forge-labs/capforge/internal/plugins/cache"
	_ "github.com/forge-labs/capforge/internal/plugins/logger"
	_ "github.com/forge-labs/capforge/internal/plugins/maxtoken"
	_ "github.com/forge-labs/capforge/internal/plugins/ratelimit"
	_ "github.com/forge-labs/capforge/internal/plugins/wordfilter"
)

func main() {
	logging.Setup(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

	cfgPath := os.Getenv("CAPFORGE_CONFIG")
	if cfgPath == "" {
		log.Fatal("CAPFORGE_CONFIG must point to a runtime config file (JSON or YAML)")
	}
	cfg, err := capforge.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if err := capforge.ValidateConfig(*cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := capforge.NewRuntime(ctx, *cfg)
	if err != nil {
		log.Fatalf("constructing runtime: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = rt.Close(shutdownCtx)
	}()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(logging.Middleware)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Post("/v1/tasks", newTaskHandler(rt))

	if cfg.Admin.Enabled && rt.Admin != nil {
		r.Mount("/admin", rt.Admin.Routes())
	}

	addr := cfg.Admin.Addr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logging.Logger.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Logger.Error("shutdown error", "error", err)
		}
	}()

	logging.Logger.Info("capforge listening", "version", version.Short(), "addr", addr, "capabilities", len(rt.Catalog.All()))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		stop()
		log.Fatalf("server error: %v", err)
	}
	logging.Logger.Info("server stopped")
}

type taskRequest struct {
	Task string `json:"task"`
}

type taskResponse struct {
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

func newTaskHandler(rt *capforge.Runtime) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req taskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(taskResponse{Error: "invalid request body"})
			return
		}
		if req.Task == "" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(taskResponse{Error: "task is required"})
			return
		}

		result, err := rt.Run(r.Context(), req.Task)
		w.Header().Set("Content-Type", "application/json")
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(taskResponse{Error: err.Error()})
			return
		}
		_ = json.NewEncoder(w).Encode(taskResponse{Result: result})
	}
}
