// Package main provides coordserver, an MCP stdio server exposing the
// coord file-coordination engine to concurrent AI coding agents.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/agentfs/coord/internal/config"
	"github.com/agentfs/coord/internal/engine"
	"github.com/agentfs/coord/internal/mcpserver"
)

// version is stamped at release time; left as a placeholder during
// development builds.
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Environ()))
}

func run(args, env []string) int {
	fs := flag.NewFlagSet("coordserver", flag.ContinueOnError)
	configPath := fs.String("config", "", "explicit config file path (overrides project .coord.json)")
	workDir := fs.String("dir", "", "working directory to resolve relative config paths from (default: cwd)")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(*logLevel)}))
	slog.SetDefault(logger)

	dir := *workDir
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			logger.Error("resolving working directory", "error", err)
			return 1
		}
		dir = cwd
	}

	settings, sources, err := config.Load(dir, *configPath, env)
	if err != nil {
		logger.Error("loading configuration", "error", err)
		return 1
	}
	logger.Info("configuration loaded", "global", sources.Global, "project", sources.Project, "access_rules", sources.AccessRules)

	e, err := engine.New(settings, logger)
	if err != nil {
		logger.Error("constructing engine", "error", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := e.Start(ctx); err != nil {
		logger.Error("starting engine", "error", err)
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received, draining")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
		cancel()
	}()

	s, err := mcpserver.New(mcpserver.Config{Engine: e, Version: version})
	if err != nil {
		logger.Error("building MCP server", "error", err)
		return 1
	}

	if err := server.ServeStdio(s); err != nil {
		logger.Error("MCP server error", "error", err)
		return 1
	}

	return 0
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
