// Copyright 2025 Alibaba Group Holding Ltd.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"k8s.io/klog/v2"

	"github.com/restraint-harness/restraint/internal/config"
	"github.com/restraint-harness/restraint/internal/delivery"
	"github.com/restraint-harness/restraint/internal/deps"
	"github.com/restraint-harness/restraint/internal/eventloop"
	"github.com/restraint-harness/restraint/internal/fetch"
	"github.com/restraint-harness/restraint/internal/harness"
	"github.com/restraint-harness/restraint/internal/logging"
	"github.com/restraint-harness/restraint/internal/manager"
	"github.com/restraint-harness/restraint/internal/recipe"
	"github.com/restraint-harness/restraint/internal/runtime"
	"github.com/restraint-harness/restraint/internal/server"
	store "github.com/restraint-harness/restraint/internal/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		klog.ErrorS(err, "failed to load configuration")
		os.Exit(2)
	}

	logCloser := logging.Setup(logging.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		AlsoStderr: cfg.Log.AlsoStderr,
	})
	defer logCloser.Close()

	klog.InfoS("restraintd starting", "listenAddr", cfg.ListenAddr, "stateFile", cfg.StateFile, "basePath", cfg.BasePath)

	// Initialize StateStore
	stateStore, err := store.NewFileStore(cfg.StateFile)
	if err != nil {
		klog.ErrorS(err, "failed to create state store")
		os.Exit(1)
	}
	klog.InfoS("state store initialized", "stateFile", cfg.StateFile)

	// Every state machine runs on this loop
	loop := eventloop.New(nil)
	go loop.Run(context.Background())

	queue := delivery.NewQueue(harness.NewClient(cfg.HarnessTimeout), nil, loop.Post)
	queue.Start(context.Background())

	retrying := func(f fetch.Fetcher) fetch.Fetcher {
		r := fetch.NewRetrying(f)
		r.Attempts = cfg.FetchAttempts
		r.Delay = cfg.FetchDelay
		return r
	}
	fetcher := &fetch.Router{
		Archive: retrying(fetch.NewArchiveFetcher(cfg.FetchTimeout)),
		Git:     retrying(&fetch.GitFetcher{Git: cfg.GitCommand}),
	}

	backoff := recipe.DefaultBackoff
	backoff.Steps = cfg.RecipeRetries

	driver, err := manager.NewDriver(manager.Options{
		LogDir:         cfg.LogDir,
		PluginDir:      cfg.PluginDir,
		ControlURL:     controlURL(cfg.ListenAddr),
		UploadInterval: cfg.UploadInterval,
		PluginTimeout:  cfg.PluginTimeout,
		OnRecipeComplete: func(recipeID string, err error) {
			if err != nil {
				klog.ErrorS(err, "recipe finished", "recipe", recipeID)
				return
			}
			klog.InfoS("recipe finished", "recipe", recipeID)
		},
	}, manager.Components{
		Loop:     loop,
		Store:    stateStore,
		Queue:    queue,
		Source:   recipe.NewHTTPSource(cfg.BasePath, cfg.RecipeTimeout, backoff),
		Fetcher:  fetcher,
		Packages: deps.NewYum(cfg.YumCommand),
		Runner:   runtime.NewSupervisor(loop.Post, nil, cfg.Heartbeat),
	})
	if err != nil {
		klog.ErrorS(err, "failed to create recipe driver")
		os.Exit(1)
	}

	// Resume the recipe of a previous boot, if any. The context is never
	// cancelled: a shutdown detaches the running task instead of aborting it.
	driver.Start(context.Background())
	klog.InfoS("recipe driver started")

	// Initialize HTTP Handler and Router
	handler := server.NewHandler(driver, cfg)
	router := server.NewRouter(handler)

	// Create HTTP Server
	svr := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	// Start HTTP server in goroutine
	go func() {
		klog.InfoS("HTTP server listening", "address", cfg.ListenAddr)
		if err := svr.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			klog.ErrorS(err, "HTTP server error")
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	klog.InfoS("shutting down restraintd gracefully...")

	// Shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	// 1. Stop HTTP server first
	if err := svr.Shutdown(shutdownCtx); err != nil {
		klog.ErrorS(err, "HTTP server shutdown error")
	} else {
		klog.InfoS("HTTP server stopped")
	}

	// 2. Detach the running task, leaving its state for the next boot
	driver.Stop()

	// 3. Flush pending harness requests
	if err := queue.Drain(shutdownCtx); err != nil {
		klog.ErrorS(err, "pending harness requests dropped", "count", queue.Len())
	}
	queue.Stop()
	loop.Stop()

	klog.InfoS("restraintd stopped successfully")
}

// controlURL is the address tasks use to reach the control API. A wildcard
// listen host is reached through localhost.
func controlURL(listenAddr string) string {
	host, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return "http://" + listenAddr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}
