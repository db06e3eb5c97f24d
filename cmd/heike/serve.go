package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harunnryd/heike/internal/adapter"
	"github.com/harunnryd/heike/internal/cognitive"
	"github.com/harunnryd/heike/internal/config"
	"github.com/harunnryd/heike/internal/embedding"
	"github.com/harunnryd/heike/internal/executor"
	"github.com/harunnryd/heike/internal/executor/runtimes"
	"github.com/harunnryd/heike/internal/intent"
	"github.com/harunnryd/heike/internal/model"
	"github.com/harunnryd/heike/internal/orchestrator"
	"github.com/harunnryd/heike/internal/policy"
	"github.com/harunnryd/heike/internal/sandbox"
	"github.com/harunnryd/heike/internal/scheduler"
	"github.com/harunnryd/heike/internal/service"
	"github.com/harunnryd/heike/internal/store"
	"github.com/harunnryd/heike/internal/structuredmemory"
	"github.com/harunnryd/heike/internal/vectormemory"
	"github.com/harunnryd/heike/internal/workflow"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the line-delimited JSON agent service loop",
	Long:  `Serve drives the Task Orchestrator from stdin/stdout: one JSON command per line in, one JSON event per line out, stdout reserved purely for the protocol.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	configStore, err := config.NewStore(cmd)
	if err != nil {
		return fmt.Errorf("serve: load config: %w", err)
	}
	cfg := configStore.Snapshot()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	go func() {
		<-signalOnly()
		slog.Info("serve: received shutdown signal")
		cancel()
	}()

	workspaceID := config.DefaultWorkspaceID
	if wd, err := os.Getwd(); err == nil {
		workspaceID = filepath.Base(wd)
	}

	workerStore, err := store.NewWorker(workspaceID, cfg.Daemon.WorkspacePath, store.RuntimeConfig{})
	if err != nil {
		return fmt.Errorf("serve: init workspace store: %w", err)
	}
	workerStore.Start()
	defer workerStore.Stop()

	router, err := model.NewModelRouter(cfg.Models)
	if err != nil {
		return fmt.Errorf("serve: init model router: %w", err)
	}
	llm := model.NewRouterLLMClient(router, cfg.Models.Default)
	embedder := embedding.New(router, cfg.Models.Embedding)
	embedder.StartLoading(ctx)

	readyTimeout, err := config.DurationOrDefault(cfg.Orchestrator.EmbeddingReadyTimeout, config.DefaultOrchestratorEmbeddingReadyTimeout)
	if err != nil {
		readyTimeout = 60 * time.Second
	}
	if !embedder.WaitUntilReady(readyTimeout) {
		slog.Warn("serve: embedding provider not ready after timeout, intent routing and vector memory run degraded")
	}

	intentRouter := intent.New(ctx, embedder, intent.DefaultCatalog())
	vecMemory := vectormemory.New(workerStore, embedder)

	workspacePath, err := store.GetWorkspacePath(workspaceID, cfg.Daemon.WorkspacePath)
	if err != nil {
		return fmt.Errorf("serve: resolve workspace path: %w", err)
	}
	structuredStore, err := structuredmemory.Open(filepath.Join(workspacePath, "memory", "memory.db"))
	if err != nil {
		return fmt.Errorf("serve: open structured memory: %w", err)
	}
	defer structuredStore.Close()

	plannerFactory := func(c *config.Config) cognitive.Planner {
		modelName := config.ModelForProvider(c)
		return cognitive.NewPlanner(model.NewRouterLLMClient(router, modelName), cognitive.PlannerPromptConfig{
			System: c.Prompts.Planner.System,
			Output: c.Prompts.Planner.Output,
		}, c.Orchestrator.StructuredRetryMax)
	}
	planner := plannerFactory(cfg)
	reflector := cognitive.NewReflector(llm, cognitive.ReflectorPromptConfig{
		System:     cfg.Prompts.Reflector.System,
		Guidelines: cfg.Prompts.Reflector.Guidelines,
	}, cfg.Orchestrator.StructuredRetryMax)

	registry := cognitive.NewAdapterRegistry()

	scriptExecutor, sandboxMgr, err := buildScriptExecutor(workspacePath)
	if err != nil {
		slog.Warn("serve: execute_python_script will be unavailable", "error", err)
	}

	schedStore, err := scheduler.NewStore(filepath.Join(workspacePath, "scheduler", "reminders.json"))
	if err != nil {
		return fmt.Errorf("serve: init scheduler store: %w", err)
	}

	broker := orchestrator.NewInputBroker(filepath.Join(workspacePath, "input_requests"), cfg.Orchestrator)

	orc := orchestrator.New(cfg.Orchestrator, intentRouter, planner, cognitive.NewPlanExecutor(registry, reflector, cfg.Orchestrator.MaxAttempts), vecMemory, structuredStore, broker, configStore, plannerFactory)

	sched, err := scheduler.NewScheduler(schedStore, submitterFunc(func(ctx context.Context, wsID, instruction string) error {
		_, err := orc.Run(ctx, wsID, instruction, nil, loggingEmitter)
		return err
	}), cfg.Scheduler)
	if err != nil {
		return fmt.Errorf("serve: init scheduler: %w", err)
	}
	if err := sched.Init(ctx); err != nil {
		return fmt.Errorf("serve: scheduler init: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("serve: scheduler start: %w", err)
	}
	defer sched.Stop(ctx)

	workflowStore, err := workflow.NewStore(filepath.Join(workspacePath, "workflows"))
	if err != nil {
		return fmt.Errorf("serve: init workflow store: %w", err)
	}

	policyEngine, err := policy.NewEngine(cfg.Governance, workspaceID, cfg.Daemon.WorkspacePath)
	if err != nil {
		return fmt.Errorf("serve: init policy engine: %w", err)
	}
	auditLogger, err := policy.NewAuditLogger(workspaceID, cfg.Daemon.WorkspacePath, &policy.AuditPolicy{Enabled: true})
	if err != nil {
		return fmt.Errorf("serve: init audit logger: %w", err)
	}

	adapter.RegisterAll(registry, adapter.Registrations{
		Config:           cfg,
		ScriptExecutor:   scriptExecutor,
		Sandbox:          sandboxMgr,
		Scheduler:        sched,
		StructuredMemory: structuredStore,
		Workflows:        workflowStore,
		Policy:           policyEngine,
		Audit:            auditLogger,
	})

	loop := service.NewLoop(orc, os.Stdin, os.Stdout)
	return loop.Run(ctx)
}

func buildScriptExecutor(workspacePath string) (*executor.RuntimeBasedExecutor, sandbox.SandboxManager, error) {
	runtimeRegistry, err := runtimes.NewRuntimeRegistry()
	if err != nil {
		return nil, nil, err
	}
	exec := executor.NewRuntimeBasedExecutor(runtimeRegistry)

	sandboxMgr, err := sandbox.NewBasicSandboxManager(filepath.Join(workspacePath, "sandbox"), true)
	if err != nil {
		return exec, nil, err
	}
	return exec, sandboxMgr, nil
}

// loggingEmitter is used for task runs not tied to any stdio command
// (reminder fires): protocol events only belong on stdout when a
// command is waiting on them, so these go to the log instead.
func loggingEmitter(eventType string, data map[string]any) {
	slog.Info("background task event", "event_type", eventType, "data", data)
}

type submitterFunc func(ctx context.Context, workspaceID, instruction string) error

func (f submitterFunc) Submit(ctx context.Context, workspaceID, instruction string) error {
	return f(ctx, workspaceID, instruction)
}

// signalOnly mirrors SignalHandler's os.Interrupt/SIGTERM wait but
// never writes to stdout: SignalHandler.Start logs its message with
// fmt.Println, which would corrupt the service loop's protocol stream.
func signalOnly() <-chan struct{} {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		<-sigChan
		close(done)
	}()
	return done
}
