// Command orchestratord runs the finance-automation workflow
// orchestrator's HTTP/WebSocket surface.
//
// Grounded on kadirpekel/hector's cmd/hector for the log-init-then-run
// bootstrap order, simplified to just starting the server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/finflow-ai/orchestrator/internal/api"
	"github.com/finflow-ai/orchestrator/internal/approval"
	"github.com/finflow-ai/orchestrator/internal/config"
	"github.com/finflow-ai/orchestrator/internal/errs"
	"github.com/finflow-ai/orchestrator/internal/fanout"
	"github.com/finflow-ai/orchestrator/internal/graph"
	"github.com/finflow-ai/orchestrator/internal/logger"
	"github.com/finflow-ai/orchestrator/internal/metrics"
	"github.com/finflow-ai/orchestrator/internal/orchestrator"
	"github.com/finflow-ai/orchestrator/internal/persistence"
	"github.com/finflow-ai/orchestrator/internal/planner"
	"github.com/finflow-ai/orchestrator/internal/registry"
	"github.com/finflow-ai/orchestrator/internal/workflowctx"
	"github.com/finflow-ai/orchestrator/pkg/demoagents"
)

// Exit codes returned from run().
const (
	exitOK          = 0
	exitFatal       = 1
	exitInterrupted = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := config.LoadEnvFiles(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFatal
	}
	cfg := config.Load()

	log := logger.Init(logger.ParseLevel(cfg.LogLevel), os.Stderr, cfg.LogFormat)
	log.Info("starting orchestratord", "http_addr", cfg.HTTPAddr, "mock_mode", cfg.UseMockMode)

	agents := registry.NewAgentRegistry()
	if err := demoagents.RegisterAll(agents, demoagents.GmailConfig{FailEveryNth: 0}); err != nil {
		log.Error("failed to register demo agents", "error", err)
		return exitFatal
	}

	var llm planner.Completer
	if cfg.UseMockLLM {
		llm = planner.MockCompleter{}
	}
	plannerSvc := planner.New(llm, planner.Config{MaxSequenceLength: cfg.MaxWorkflowSteps})

	monitor := metrics.New(metrics.Config{})
	compiler := graph.NewCompiler(agents, cfg.GraphCacheMaxEntries, monitor)
	approvals := approval.NewManager()
	broker := fanout.New(fanout.Config{BacklogPerPlan: cfg.WSBacklogPerPlan, SlowSubscriberHWM: cfg.WSSlowSubscriberHWM}, log)
	ctxSvc := workflowctx.New()

	var messageRepo persistence.MessageRepository
	var planRepo persistence.PlanRepository
	if cfg.SQLitePath != "" {
		store, err := persistence.OpenSQLiteStore(cfg.SQLitePath)
		if err != nil {
			log.Error("failed to open sqlite store, falling back to in-memory", "error", err)
			messageRepo = persistence.NewMemoryMessageRepository()
			planRepo = persistence.NewMemoryPlanRepository()
		} else {
			defer store.Close()
			messageRepo = store
			planRepo = store
		}
	} else {
		messageRepo = persistence.NewMemoryMessageRepository()
		planRepo = persistence.NewMemoryPlanRepository()
	}

	core := orchestrator.New(orchestrator.Deps{
		Cfg:       cfg,
		Log:       log,
		Agents:    agents,
		Planner:   plannerSvc,
		Compiler:  compiler,
		Approvals: approvals,
		Broker:    broker,
		Messages:  messageRepo,
		Plans:     planRepo,
		CtxSvc:    ctxSvc,
		Monitor:   monitor,
		Mock:      errs.MockPolicy{UseMockMode: cfg.UseMockMode, UseMockLLM: cfg.UseMockLLM},
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.New(core),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gcTicker := time.NewTicker(time.Hour)
	defer gcTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-gcTicker.C:
				core.RunGC()
			}
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.HTTPAddr)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			return exitFatal
		}
		return exitOK
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
			return exitFatal
		}
		return exitInterrupted
	}
}
