// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// The server exposes upload and semantic search over HTTP and runs the
// processing pipeline that turns uploads into searchable descriptions.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jaycherian/gcp-go-photo-search/internal/api"
	"github.com/jaycherian/gcp-go-photo-search/internal/telemetry"
	"github.com/joho/godotenv"
)

func main() {
	// Secrets may come from a .env file in development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("failed to load .env: %v", err)
	}

	config, err := GetConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logCloser, err := telemetry.SetupLogging(config.Application.LogLevel, config.Application.LogFile)
	if err != nil {
		log.Fatalf("failed to set up logging: %v", err)
	}
	defer logCloser.Close()
	slog.Info("Logging initialized", "level", config.Application.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otelShutdown, err := telemetry.SetupOpenTelemetry(ctx, config)
	if err != nil {
		slog.Error("Failed to setup OpenTelemetry", "error", err)
		os.Exit(1)
	}
	slog.Info("Tracing initialized")

	if err := InitState(ctx); err != nil {
		slog.Error("Failed to initialize state", "error", err)
		_ = state.Close()
		os.Exit(1)
	}
	slog.Info("Initialized State")

	listeners := SetupListeners(ctx)

	if config.Application.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(config.Application.Name, api.Services{
		Media:    state.mediaService,
		Search:   state.searchService,
		Index:    state.indexService,
		Gatherer: state.registry,
	})

	srv := &http.Server{
		Addr:              ":" + config.Application.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("failed to listen", "error", err)
			cancel()
		}
	}()
	slog.Info("Server Ready", "port", config.Application.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}
	slog.Info("Shutdown Server ...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server Shutdown Failed", "error", err)
	}
	cancel()
	listeners.Wait()
	if err := state.Close(); err != nil {
		slog.Error("failed to release resources", "error", err)
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		slog.Error("failed to flush telemetry", "error", err)
	}
	slog.Info("Server exiting")
}
