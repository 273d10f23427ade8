// Package runtime is the composition root: it wires the budget manager,
// trace logger, tool registry, router, planner, simulator, executors, and
// crew orchestrator from configuration, and exposes the blocking and
// streaming execution surfaces hosts call.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ampere-run/ampere/pkg/budget"
	"github.com/ampere-run/ampere/pkg/config"
	"github.com/ampere-run/ampere/pkg/constitution"
	"github.com/ampere-run/ampere/pkg/crew"
	"github.com/ampere-run/ampere/pkg/executor"
	"github.com/ampere-run/ampere/pkg/llms"
	"github.com/ampere-run/ampere/pkg/logger"
	"github.com/ampere-run/ampere/pkg/model"
	"github.com/ampere-run/ampere/pkg/observability"
	"github.com/ampere-run/ampere/pkg/planner"
	"github.com/ampere-run/ampere/pkg/router"
	"github.com/ampere-run/ampere/pkg/simulator"
	"github.com/ampere-run/ampere/pkg/task"
	"github.com/ampere-run/ampere/pkg/tools"
	"github.com/ampere-run/ampere/pkg/trace"
)

// Runtime owns one wired instance of the execution kernel. There are no
// process-wide singletons: all shared state lives in the fields of this
// object.
type Runtime struct {
	cfg    *config.Config
	log    *slog.Logger
	tools  *tools.Registry
	tracer *trace.Logger
	router *router.Router
	caller *model.Caller

	taskExec *executor.TaskExecutor
	direct   *executor.DirectExecutor
	crews    *crew.Orchestrator

	obs     *observability.Manager
	metrics *observability.Recorder
}

// New wires a runtime. Providers and tools are supplied by the host; the
// constitution gate is built from configuration and attached to the
// registry.
func New(cfg *config.Config, providers *llms.ProviderRegistry, registry *tools.Registry) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	cfg.SetDefaults()

	log := logger.New(logger.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	if registry == nil {
		registry = tools.NewRegistry()
	}
	registry.SetGate(buildGate(cfg.Constitution))

	tracer := trace.NewLogger()
	rt := router.New(cfg.Router.ToRouterConfig(cfg.Energy), providers, log)
	caller := model.NewCaller(providers, rt, tracer, cfg.Energy, log)

	pl := planner.New(caller, rt, registry, tracer, log)
	sim := simulator.New(registry, log)

	execOpts := executor.Options{
		MaxReplanDepth:    cfg.Executor.MaxReplanDepth,
		RecoverConfidence: cfg.Executor.RecoverConfidence,
	}
	directOpts := executor.DirectOptions{
		MaxIterations: cfg.Direct.MaxIterations,
		WallTimeout:   cfg.Direct.WallTimeout,
		WindowSize:    cfg.Direct.WindowSize,
	}

	obs, err := observability.NewManager(observability.TracerConfig{
		Enabled:     cfg.Observability.TracingEnabled,
		Stdout:      cfg.Observability.TracingStdout,
		ServiceName: cfg.Observability.ServiceName,
	})
	if err != nil {
		return nil, err
	}

	var metrics *observability.Recorder
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewRecorder(prometheus.DefaultRegisterer, cfg.Observability.ServiceName)
	}

	r := &Runtime{
		cfg:     cfg,
		log:     log,
		tools:   registry,
		tracer:  tracer,
		router:  rt,
		caller:  caller,
		obs:     obs,
		metrics: metrics,
	}

	r.taskExec = executor.NewTaskExecutor(pl, sim, registry, caller, rt, tracer, log, execOpts)
	r.direct = executor.NewDirectExecutor(caller, registry, tracer, log, directOpts)
	r.crews = crew.NewOrchestrator(caller, rt, registry, tracer, log, directOpts, execOpts)

	return r, nil
}

func buildGate(cfg config.ConstitutionConfig) tools.PolicyGate {
	if len(cfg.DenyTools) == 0 && len(cfg.DenyTags) == 0 && len(cfg.DenyArgFragments) == 0 {
		return nil
	}

	gate := constitution.New()
	if len(cfg.DenyTools) > 0 {
		gate.AddRule(&constitution.DenyToolsRule{RuleID: "deny-tools", Tools: cfg.DenyTools, Critical: cfg.Critical})
	}
	if len(cfg.DenyTags) > 0 {
		gate.AddRule(&constitution.DenyTagsRule{RuleID: "deny-tags", Tags: cfg.DenyTags, Critical: cfg.Critical})
	}
	if len(cfg.DenyArgFragments) > 0 {
		gate.AddRule(&constitution.DenyArgSubstringRule{RuleID: "deny-args", Fragments: cfg.DenyArgFragments, Critical: cfg.Critical})
	}
	return gate
}

// Tools exposes the registry so hosts can register tools after construction.
func (r *Runtime) Tools() *tools.Registry {
	return r.tools
}

// Logger exposes the runtime logger.
func (r *Runtime) Logger() *slog.Logger {
	return r.log
}

// Shutdown flushes observability state.
func (r *Runtime) Shutdown(ctx context.Context) error {
	return r.obs.Shutdown(ctx)
}

// ============================================================================
// EXECUTION SURFACE
// ============================================================================

// Mode selects the execution loop for a task.
type Mode string

const (
	ModeFull   Mode = "full"
	ModeDirect Mode = "direct"
)

// ExecuteOptions parameterise one task execution.
type ExecuteOptions struct {
	// Preset overrides the configured default envelope preset.
	Preset budget.Preset

	// Mode selects the deliberate state machine (default) or the direct loop.
	Mode Mode

	// OnProgress observes phase transitions (full mode only).
	OnProgress executor.ProgressFunc

	// Direct shapes the system prompt in direct mode.
	Direct executor.DirectRequest
}

func (r *Runtime) newEnvelope(t task.Task, opts ExecuteOptions) (*budget.Envelope, error) {
	preset := budget.Preset(r.cfg.Budget.DefaultPreset)
	if opts.Preset != "" {
		preset = opts.Preset
	}
	if t.BudgetPreset != "" {
		preset = t.BudgetPreset
	}
	return budget.NewEnvelopeFromPreset(preset)
}

// ExecuteTask runs a task to completion and blocks for the result.
func (r *Runtime) ExecuteTask(ctx context.Context, t task.Task, opts ExecuteOptions) *task.Result {
	env, err := r.newEnvelope(t, opts)
	if err != nil {
		return &task.Result{
			TaskID:      t.ID,
			Status:      task.StatusFailed,
			Error:       err.Error(),
			CompletedAt: time.Now(),
		}
	}

	start := time.Now()

	var result *task.Result
	if opts.Mode == ModeDirect {
		result = r.direct.Execute(ctx, t, env, opts.Direct)
	} else {
		exec := r.taskExec
		if opts.OnProgress != nil {
			execOpts := executor.Options{
				MaxReplanDepth:    r.cfg.Executor.MaxReplanDepth,
				RecoverConfidence: r.cfg.Executor.RecoverConfidence,
				OnProgress:        opts.OnProgress,
			}
			exec = executor.NewTaskExecutor(
				planner.New(r.caller, r.router, r.tools, r.tracer, r.log),
				simulator.New(r.tools, r.log),
				r.tools, r.caller, r.router, r.tracer, r.log, execOpts)
		}
		result = exec.Execute(ctx, t, env)
	}

	r.metrics.TaskFinished(string(result.Status), time.Since(start))
	return result
}

// StreamEventType enumerates task stream events.
type StreamEventType string

const (
	StreamProgress StreamEventType = "progress"
	StreamChunk    StreamEventType = "chunk"
	StreamResult   StreamEventType = "result"
	StreamError    StreamEventType = "error"
)

// StreamEvent is one element of a task event stream.
type StreamEvent struct {
	Type     StreamEventType    `json:"type"`
	Progress *executor.Progress `json:"progress,omitempty"`
	Chunk    string             `json:"chunk,omitempty"`
	Result   *task.Result       `json:"result,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// ExecuteTaskStream runs a task in the background and yields progress, the
// answer chunk, and the terminal result. The sequence is finite and the
// channel closes afterwards; restart by calling again.
func (r *Runtime) ExecuteTaskStream(ctx context.Context, t task.Task, opts ExecuteOptions) <-chan StreamEvent {
	events := make(chan StreamEvent, 64)

	userProgress := opts.OnProgress
	opts.OnProgress = func(p executor.Progress) {
		if userProgress != nil {
			userProgress(p)
		}
		select {
		case events <- StreamEvent{Type: StreamProgress, Progress: &p}:
		case <-ctx.Done():
		}
	}

	go func() {
		defer close(events)

		result := r.ExecuteTask(ctx, t, opts)

		if result.Status == task.StatusFailed && result.Answer == "" {
			events <- StreamEvent{Type: StreamError, Error: result.Error, Result: result}
			return
		}
		if result.Answer != "" {
			events <- StreamEvent{Type: StreamChunk, Chunk: result.Answer}
		}
		events <- StreamEvent{Type: StreamResult, Result: result}
	}()

	return events
}

// ExecuteCrew runs a crew against a fresh envelope derived from the preset.
func (r *Runtime) ExecuteCrew(ctx context.Context, def crew.Definition, t task.Task, opts ExecuteOptions, onEvent crew.EventFunc) *crew.Result {
	env, err := r.newEnvelope(t, opts)
	if err != nil {
		return &crew.Result{
			CrewName: def.Name,
			Status:   task.StatusFailed,
			Error:    err.Error(),
		}
	}

	start := time.Now()
	result := r.crews.ExecuteCrew(ctx, def, t, env, onEvent)
	r.metrics.TaskFinished(string(result.Status), time.Since(start))
	return result
}

// ExecuteCrewStream runs a crew and yields agent-start, agent-complete, and
// crew-complete events.
func (r *Runtime) ExecuteCrewStream(ctx context.Context, def crew.Definition, t task.Task, opts ExecuteOptions) (<-chan crew.StreamEvent, error) {
	env, err := r.newEnvelope(t, opts)
	if err != nil {
		return nil, err
	}
	return r.crews.ExecuteCrewStream(ctx, def, t, env), nil
}
