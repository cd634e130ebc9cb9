// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command studio-broker runs the tool-broker daemon: it loads
// configuration, builds the composition root, and (with --metrics-port set)
// serves the Prometheus registry over HTTP. The broker's actual ListTools /
// CallTool surface is consumed in-process by a host framing adapter; this
// binary's job is startup, config watching, and graceful shutdown.
//
// Usage:
//
//	studio-broker serve --config broker.yaml
//	studio-broker version
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roughcut-mcp/studio-broker/pkg/broker"
	"github.com/roughcut-mcp/studio-broker/pkg/config"
	"github.com/roughcut-mcp/studio-broker/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve   ServeCmd   `cmd:"" help:"Start the broker daemon." default:"1"`
	Version VersionCmd `cmd:"" help:"Show version information."`

	Config    string `short:"c" env:"BROKER_CONFIG" help:"Path to the broker YAML config file." type:"path"`
	LogLevel  string `env:"BROKER_LOG_LEVEL" help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `env:"BROKER_LOG_FILE" help:"Log file path (empty = stderr)."`
	LogFormat string `env:"BROKER_LOG_FORMAT" help:"Log format (json or text)." default:"json"`
}

// VersionCmd prints version information and exits.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		version = info.Main.Version
	}
	fmt.Printf("studio-broker version %s\n", version)
	return nil
}

// ServeCmd starts the broker daemon.
type ServeCmd struct {
	InstallDir  string `env:"BROKER_INSTALL_DIR" help:"Directory the checkpoint file is colocated with." default:"."`
	MetricsPort int    `env:"BROKER_METRICS_PORT" help:"Port to serve /metrics on; 0 disables the metrics server." default:"9090"`
	Watch       bool   `help:"Reload configuration on file changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	log, closer, err := logger.New(logger.Options{Level: cli.LogLevel, File: cli.LogFile, Format: cli.LogFormat})
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer closer.Close()
	logger.SetDefault(log)

	loader := config.NewLoader(cli.Config, config.WithLogger(log))
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	installDir, err := filepath.Abs(c.InstallDir)
	if err != nil {
		return fmt.Errorf("resolving install dir: %w", err)
	}

	b, err := broker.Build(cfg, log, installDir)
	if err != nil {
		return fmt.Errorf("building broker: %w", err)
	}
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		cancel()
	}()

	if c.Watch {
		loader = config.NewLoader(cli.Config, config.WithLogger(log), config.WithOnChange(func(newCfg *config.Config) {
			log.Info("configuration changed; restart the broker to apply it")
			_ = newCfg
		}))
		if err := loader.Watch(); err != nil {
			log.Warn("config watch failed to start", "error", err)
		}
		defer loader.Stop()
	}

	var metricsServer *http.Server
	if c.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(b.Metrics().Registry(), promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: fmt.Sprintf(":%d", c.MetricsPort), Handler: mux}
		go func() {
			log.Info("metrics server listening", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server exited", "error", err)
			}
		}()
	}

	log.Info("broker ready", "assetsDir", cfg.AssetsDir, "portRange", fmt.Sprintf("%d-%d", cfg.PortRange.Start, cfg.PortRange.End))

	<-ctx.Done()

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("metrics server shutdown error", "error", err)
		}
	}

	return nil
}

func main() {
	cli := CLI{}
	kctx := kong.Parse(&cli,
		kong.Name("studio-broker"),
		kong.Description("Tool-broker daemon mediating between a conversational host and a renderer studio."),
		kong.UsageOnError(),
	)
	err := kctx.Run(&cli)
	kctx.FatalIfErrorf(err)
}
