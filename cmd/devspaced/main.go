// Devspaced is a conversational assistant backend for development and
// operations workspaces.
//
// Each configured space binds conversations to a domain-specific tool
// set: dev spaces work against a source repository and its deployments,
// ops spaces operate Kubernetes workloads. Configuration is loaded from
// a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	devspaced                 Start the API server
//	devspaced -config FILE    Use an explicit config file
//	devspaced -version        Print version and build information
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/xxflyingknife/devspace/internal/agent"
	"github.com/xxflyingknife/devspace/internal/api"
	"github.com/xxflyingknife/devspace/internal/buildinfo"
	"github.com/xxflyingknife/devspace/internal/cluster"
	"github.com/xxflyingknife/devspace/internal/config"
	"github.com/xxflyingknife/devspace/internal/llm"
	"github.com/xxflyingknife/devspace/internal/scm"
	"github.com/xxflyingknife/devspace/internal/space"
	"github.com/xxflyingknife/devspace/internal/store"
	"github.com/xxflyingknife/devspace/internal/tools"
	"github.com/xxflyingknife/devspace/internal/treecache"
)

func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. OS-level dependencies are injected so
// the startup-to-shutdown lifecycle can be driven from tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	fs := flag.NewFlagSet("devspaced", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to config file")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *showVersion {
		fmt.Fprintln(stdout, buildinfo.String())
		return nil
	}

	return serve(ctx, stdout, *configPath)
}

func serve(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting devspaced",
		"version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	// Reconfigure now that the desired level is known. The initial
	// Info-level logger covers only the startup banner.
	if cfg.LogLevel != "" {
		level, _ := config.ParseLogLevel(cfg.LogLevel)
		logger = newLogger(stdout, level)
	}
	logger.Info("config loaded",
		"path", cfgPath,
		"listen", listenAddr(cfg),
		"model", cfg.LLM.Model,
		"spaces", len(cfg.Spaces),
	)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	st, err := store.Open(filepath.Join(cfg.DataDir, "devspace.db"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	trees, err := treecache.New(st.DB(), logger)
	if err != nil {
		return err
	}

	spaces, err := space.NewConfigResolver(cfg.Spaces)
	if err != nil {
		return err
	}

	llmClient := llm.NewOllamaClient(cfg.LLM.BaseURL,
		time.Duration(cfg.LLM.TimeoutSec)*time.Second, logger)

	git := scm.NewGitCLI(cfg.Git.WorkDir,
		time.Duration(cfg.Git.TimeoutSec)*time.Second, logger)

	var clusterClient *cluster.Client
	if len(cfg.Cluster.Environments) > 0 {
		clusterClient = cluster.NewClient(cfg.Cluster.Environments,
			time.Duration(cfg.Cluster.TimeoutSec)*time.Second, logger)
	}

	// Each space's executor is built lazily on first use: dev spaces
	// get repository tools bound to their repo, ops spaces get cluster
	// tools, both get the common set.
	buildExecutor := func(ctx context.Context, sp *space.Space) (*agent.Executor, error) {
		registry := tools.NewRegistry()
		tools.RegisterCommonTools(registry)

		group := tools.GroupOps
		switch sp.Domain {
		case space.DomainDev:
			group = tools.GroupDev
			provider := scm.Select(*sp.Repo, git, logger)
			tools.NewDevTools(*sp.Repo, provider, git, trees, clusterClient, logger).RegisterAll(registry)
		case space.DomainOps:
			if clusterClient == nil {
				return nil, fmt.Errorf("space %s: ops domain requires cluster environments", sp.ID)
			}
			tools.NewOpsTools(clusterClient, logger).RegisterAll(registry)
		}

		return &agent.Executor{
			SpaceID: sp.ID,
			Domain:  sp.Domain,
			Model:   cfg.LLM.Model,
			System:  agent.SystemDirective(sp),
			LLM:     llmClient,
			Tools:   registry.ForDomain(group),
		}, nil
	}

	orchestrator := agent.NewOrchestrator(st, spaces, agent.NewExecutorCache(buildExecutor),
		cfg.Agent.MaxIterations, cfg.Agent.WindowTurns,
		time.Duration(cfg.Agent.ToolTimeoutSec)*time.Second, logger)

	treeFunc := func(ctx context.Context, sp *space.Space, branch string, refresh bool) ([]*scm.TreeNode, bool, error) {
		provider := scm.Select(*sp.Repo, git, logger)
		return trees.Get(ctx, provider, *sp.Repo, branch, refresh)
	}

	server := api.NewServer(listenAddr(cfg), orchestrator, st, spaces, treeFunc, logger)

	if err := llmClient.Ping(ctx); err != nil {
		logger.Warn("model endpoint unreachable at startup", "url", cfg.LLM.BaseURL, "error", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("devspaced stopped")
	return nil
}

func listenAddr(cfg *config.Config) string {
	return fmt.Sprintf("%s:%d", cfg.Listen.Address, cfg.Listen.Port)
}

// newLogger creates the structured logger every component shares.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}
