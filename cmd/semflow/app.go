package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/cobra"

	"github.com/c360studio/semflow/agent"
	"github.com/c360studio/semflow/config"
	"github.com/c360studio/semflow/event"
	"github.com/c360studio/semflow/execution"
	"github.com/c360studio/semflow/llm"
	"github.com/c360studio/semflow/model"
	"github.com/c360studio/semflow/orchestrator"
	"github.com/c360studio/semflow/persist"
	"github.com/c360studio/semflow/storage"
	"github.com/c360studio/semflow/watch"
	"github.com/c360studio/semflow/workflow"
)

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Multi-agent workflow orchestrator",
		Long: `Semflow runs workflows: directed acyclic graphs of tasks, each executed
by an LLM worker agent and optionally verified by a quality-control agent
with bounded retries. Task artifacts are captured, progress is streamed as
events, and execution telemetry is persisted to a graph store over NATS.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(runCmd(&configPath, &logLevel))
	cmd.AddCommand(validateCmd())
	cmd.AddCommand(statusCmd(&configPath, &logLevel))
	cmd.AddCommand(watchCmd(&configPath, &logLevel))
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func runCmd(configPath, logLevel *string) *cobra.Command {
	var (
		mock      bool
		outputDir string
		match     string
	)

	cmd := &cobra.Command{
		Use:   "run <workflow-file>",
		Short: "Execute a workflow file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(*logLevel)
			cfg, err := loadConfig(*configPath, logger)
			if err != nil {
				return err
			}

			app, err := buildApp(cmd.Context(), cfg, logger, mock)
			if err != nil {
				return err
			}
			defer app.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sub := app.bus.Subscribe(event.Filter{})
			defer app.bus.Unsubscribe(sub)

			executionID, err := app.runner.RunFile(ctx, args[0])
			if err != nil {
				return err
			}
			logger.Info("Execution started", "executionId", executionID)

			go func() {
				<-ctx.Done()
				_ = app.runner.Cancel(executionID)
			}()
			streamEvents(sub, executionID, logger)

			snap, err := app.runner.Wait(context.Background(), executionID)
			if err != nil {
				return err
			}
			if outputDir != "" {
				if err := exportArtifacts(snap, outputDir, match, logger); err != nil {
					return err
				}
			}
			if snap.Status != execution.StatusCompleted {
				return fmt.Errorf("execution %s ended %s: %s", executionID, snap.Status, snap.Error)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&mock, "mock", false, "Use a mock agent runtime instead of a live LLM")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "Directory to export captured artifacts into")
	cmd.Flags().StringVar(&match, "match", "", "Doublestar glob filtering exported artifacts")
	return cmd
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <workflow-file>",
		Short: "Validate a workflow file without executing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := workflow.LoadFile(args[0])
			if err != nil {
				return err
			}
			if err := wf.Validate(); err != nil {
				return fmt.Errorf("invalid workflow: %w", err)
			}
			fmt.Printf("%s: valid (%d tasks)\n", args[0], len(wf.Tasks))
			return nil
		},
	}
}

func statusCmd(configPath, logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status <execution-id>",
		Short: "Print the stored snapshot of an execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(*logLevel)
			cfg, err := loadConfig(*configPath, logger)
			if err != nil {
				return err
			}
			if !cfg.NATS.Enabled() {
				return fmt.Errorf("status requires NATS (set nats.url or SEMFLOW_NATS_URL)")
			}

			nc, err := nats.Connect(cfg.NATS.URL)
			if err != nil {
				return fmt.Errorf("connect to NATS: %w", err)
			}
			defer nc.Close()
			js, err := jetstream.New(nc)
			if err != nil {
				return err
			}
			store, err := storage.NewExecutionStore(cmd.Context(), js)
			if err != nil {
				return err
			}

			snap, err := store.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(snap, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func watchCmd(configPath, logLevel *string) *cobra.Command {
	var mock bool

	cmd := &cobra.Command{
		Use:   "watch <directory>",
		Short: "Watch a directory and run workflow files as they change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(*logLevel)
			cfg, err := loadConfig(*configPath, logger)
			if err != nil {
				return err
			}

			app, err := buildApp(cmd.Context(), cfg, logger, mock)
			if err != nil {
				return err
			}
			defer app.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			w, err := watch.New(args[0], app.runner, watch.Config{
				Debounce: cfg.Watch.Debounce,
				Include:  cfg.Watch.Include,
				Exclude:  cfg.Watch.Exclude,
			}, logger)
			if err != nil {
				return err
			}
			if err := w.Start(ctx); err != nil {
				return err
			}
			defer func() { _ = w.Stop() }()

			<-ctx.Done()
			logger.Info("Watch mode stopped")
			return nil
		},
	}

	cmd.Flags().BoolVar(&mock, "mock", false, "Use a mock agent runtime instead of a live LLM")
	return cmd
}

// newLogger builds the process logger writing text to stderr.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}

// loadConfig loads an explicit config file, or the layered defaults when no
// path is given.
func loadConfig(path string, logger *slog.Logger) (*config.Config, error) {
	if path == "" {
		return config.NewLoader(logger).Load()
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// app bundles the wired orchestrator and the resources behind it.
type app struct {
	runner *orchestrator.Runner
	bus    *event.Bus
	nc     *nats.Conn
	bridge *event.Bridge
}

func (a *app) close() {
	if a.bridge != nil {
		a.bridge.Stop()
	}
	if a.nc != nil {
		a.nc.Close()
	}
	a.bus.Close()
}

// buildApp wires the orchestrator: event bus, agent runtime, optional NATS
// graph persistence, checkpoint store, and event bridge.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, mock bool) (*app, error) {
	bus := event.NewBus(cfg.Orchestrator.EventBuffer)
	registry := execution.NewRegistry()

	var runtime agent.Runtime
	if mock {
		runtime = mockRuntime{}
	} else {
		client := llm.NewClient(modelRegistry(cfg), llm.WithLogger(logger))
		runtime = agent.NewLLMRuntime(client,
			agent.WithTemperature(cfg.Model.Temperature),
			agent.WithRuntimeLogger(logger))
	}
	agents := agent.NewRunner(runtime, agent.WithBus(bus), agent.WithLogger(logger))

	opts := []orchestrator.Option{
		orchestrator.WithBus(bus),
		orchestrator.WithLogger(logger),
		orchestrator.WithConcurrency(cfg.Orchestrator.Concurrency),
		orchestrator.WithTaskTimeout(cfg.Orchestrator.TaskTimeout),
	}

	a := &app{bus: bus}
	if cfg.NATS.Enabled() {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name(appName))
		if err != nil {
			bus.Close()
			return nil, fmt.Errorf("connect to NATS: %w", err)
		}
		a.nc = nc

		js, err := jetstream.New(nc)
		if err != nil {
			a.close()
			return nil, err
		}
		store, err := storage.NewExecutionStore(ctx, js)
		if err != nil {
			a.close()
			return nil, err
		}
		opts = append(opts,
			orchestrator.WithPersister(persist.New(persist.NewNATSGraph(js),
				persist.WithBus(bus), persist.WithLogger(logger))),
			orchestrator.WithStore(store))

		a.bridge = event.NewBridge(nc, bus, cfg.NATS.SubjectPrefix, logger)
		a.bridge.Start(ctx)
	} else {
		logger.Debug("NATS disabled, running without persistence")
		opts = append(opts, orchestrator.WithPersister(persist.New(persist.NewMemoryGraph(),
			persist.WithBus(bus), persist.WithLogger(logger))))
	}

	a.runner = orchestrator.New(agents, registry, opts...)
	return a, nil
}

// modelRegistry builds a single-endpoint model registry: every capability
// resolves to the configured default model.
func modelRegistry(cfg *config.Config) *model.Registry {
	name := cfg.Model.Default
	reg := model.NewRegistry()
	reg.AddEndpoint(name, model.EndpointConfig{
		Provider: cfg.Model.Provider,
		URL:      cfg.Model.Endpoint,
		Model:    name,
	})
	for _, c := range []model.Capability{
		model.CapabilityPlanning,
		model.CapabilityWriting,
		model.CapabilityCoding,
		model.CapabilityReviewing,
		model.CapabilityFast,
	} {
		reg.SetChain(c, name)
	}
	reg.SetFallback(name)
	return reg
}

// streamEvents logs the execution's events until its terminal event.
func streamEvents(sub *event.Subscription, executionID string, logger *slog.Logger) {
	for e := range sub.Events() {
		if e.ExecutionID != executionID {
			continue
		}
		attrs := []any{"kind", e.Kind}
		if e.TaskID != "" {
			attrs = append(attrs, "taskId", e.TaskID)
		}
		if e.Dropped > 0 {
			attrs = append(attrs, "dropped", e.Dropped)
		}
		logger.Info("Event", attrs...)

		if e.Kind == event.KindWorkflowCompleted || e.Kind == event.KindWorkflowCancelled {
			return
		}
	}
}

// exportArtifacts writes captured deliverables under dir, optionally
// filtered by a doublestar glob.
func exportArtifacts(snap execution.Snapshot, dir, match string, logger *slog.Logger) error {
	for _, a := range snap.Deliverables {
		if match != "" {
			if ok, _ := doublestar.Match(match, a.Filename); !ok {
				continue
			}
		}
		dest := filepath.Join(dir, filepath.FromSlash(a.Filename))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("export %s: %w", a.Filename, err)
		}
		if err := os.WriteFile(dest, []byte(a.Content), 0o644); err != nil {
			return fmt.Errorf("export %s: %w", a.Filename, err)
		}
		logger.Info("Artifact exported", "filename", a.Filename, "size", a.Size)
	}
	return nil
}

// mockRuntime answers without an LLM: workers echo a short acknowledgement,
// qc agents approve. Useful for wiring checks and demos.
type mockRuntime struct{}

func (mockRuntime) Invoke(_ context.Context, inv agent.Invocation) (*agent.Completion, error) {
	if inv.Role != agent.RoleWorker {
		return &agent.Completion{
			Text: `{"passed": true, "score": 100, "feedback": "mock verification"}`,
		}, nil
	}
	head := inv.Prompt
	if i := strings.IndexByte(head, '\n'); i > 0 {
		head = head[:i]
	}
	return &agent.Completion{Text: "mock completion: " + head}, nil
}
