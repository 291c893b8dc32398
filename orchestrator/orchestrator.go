// Package orchestrator is the Pipeline Orchestrator: the top-level state
// machine that runs the filter gate, the image preparer, and a loop over
// the step runner, aggregates the final status, and emits the totally
// ordered event stream the rest of the engine is built around.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/hookci/hookci/docker"
	"github.com/hookci/hookci/filter"
	"github.com/hookci/hookci/hclog"
	"github.com/hookci/hookci/hookcierr"
	"github.com/hookci/hookci/imageprep"
	"github.com/hookci/hookci/model"
	"github.com/hookci/hookci/steprunner"
)

// Options carries caller-supplied behavior that has no effect on the
// engine's documented baseline unless explicitly set.
type Options struct {
	// Debug selects the debug-mode state machine (one shared persistent
	// container, interactive-shell handoff on a failing critical step).
	// Forced off (with a warning) when HookType is non-empty.
	Debug bool

	// HookType is the git hook a run was triggered from, or filter.None
	// for a manual run. A non-empty HookType forces Debug off.
	HookType filter.HookType

	// StepTimeout, if non-zero, bounds each step's execution; a timeout
	// is lifted to the same fatal FAILURE path as any other
	// infrastructure error. The zero value disables per-step timeouts,
	// matching the baseline documented behavior exactly — this field
	// exists only for callers that opt in.
	StepTimeout time.Duration
}

// SourceControl mirrors filter.SourceControl so callers can construct an
// Engine without importing the filter package directly.
type SourceControl = filter.SourceControl

// Engine wires the four leaf components into the Pipeline Orchestrator.
type Engine struct {
	driver  *docker.Driver
	prep    *imageprep.Preparer
	scm     SourceControl
	workdir string
	log     *slog.Logger
}

// New constructs an Engine. workdir is the repository root: the Container
// Driver mounts it at /workspace, and its base name keys built-image
// cache tags.
func New(driver *docker.Driver, scm SourceControl, workdir string) *Engine {
	return &Engine{
		driver:  driver,
		prep:    imageprep.New(driver),
		scm:     scm,
		workdir: workdir,
		log:     hclog.New("hookci/orchestrator"),
	}
}

// Run executes one pipeline against cfg under opts, emitting events on
// the returned channel. The channel is closed when the run completes —
// either with a PipelineEnd as its last event, or with no events at all
// (a filter-gate skip). The caller is the single consumer; Run blocks on
// send, so a consumer that abandons the channel without canceling ctx
// leaves the producer goroutine parked rather than leaking container
// state — canceling ctx is what unwinds any outstanding driver call and
// lets the goroutine exit.
//
// Run returns only ConfigurationError/ScmError synchronously (before any
// event is emitted); once PipelineStart has been sent, every other
// outcome is reported through the event stream.
func (e *Engine) Run(ctx context.Context, cfg model.Configuration, opts Options) (<-chan model.Event, error) {
	hook := opts.HookType
	debug := opts.Debug
	if hook != filter.None && debug {
		e.log.Warn("debug mode forced off: hook type present", "hook_type", hook)
		debug = false
	}

	if err := cfg.Docker.Validate(); err != nil {
		return nil, hookcierr.NewConfigurationError(err.Error())
	}

	proceed, err := filter.Decide(hook, cfg, e.scm)
	if err != nil {
		return nil, err
	}

	events := make(chan model.Event)
	if !proceed {
		close(events)
		return events, nil
	}

	go func() {
		defer close(events)
		if debug {
			e.runDebug(ctx, cfg, opts, events)
		} else {
			e.runStandard(ctx, cfg, opts, events)
		}
	}()

	return events, nil
}

func (e *Engine) runStandard(ctx context.Context, cfg model.Configuration, opts Options, events chan<- model.Event) {
	events <- model.PipelineStart{TotalSteps: len(cfg.Steps), LogLevel: cfg.LogLevel}

	result, err := e.prep.Prepare(ctx, cfg.Docker, e.workdir, events)
	if err != nil {
		// Run has already rejected a docker block with neither image nor
		// dockerfile, so Prepare is not expected to fail here; if it does,
		// the run ends like a failed preparation rather than panicking.
		e.log.Error("image preparation failed", "err", err)
		events <- model.PipelineEnd{Status: model.Failure}
		return
	}
	if !result.Ok {
		events <- model.PipelineEnd{Status: model.Failure}
		return
	}

	final := model.Success
	for _, step := range cfg.Steps {
		events <- model.StepStart{Step: step}

		stepCtx, cancel := e.stepContext(ctx, opts)
		res := steprunner.Run(stepCtx, e.driver, steprunner.Transient, step, result.Tag, e.workdir, events)
		cancel()

		events <- model.StepEnd{Step: step, Status: res.Status, ExitCode: res.ExitCode}
		final = final.Combine(res.Status)

		if res.Fatal || res.Status == model.Failure {
			events <- model.PipelineEnd{Status: model.Failure}
			return
		}
	}

	events <- model.PipelineEnd{Status: final}
}

func (e *Engine) runDebug(ctx context.Context, cfg model.Configuration, opts Options, events chan<- model.Event) {
	events <- model.PipelineStart{TotalSteps: len(cfg.Steps), LogLevel: cfg.LogLevel}

	result, err := e.prep.Prepare(ctx, cfg.Docker, e.workdir, events)
	if err != nil {
		e.log.Error("image preparation failed", "err", err)
		events <- model.PipelineEnd{Status: model.Failure}
		return
	}
	if !result.Ok {
		events <- model.PipelineEnd{Status: model.Failure}
		return
	}

	containerID, err := e.driver.StartPersistent(ctx, docker.ContainerSpec{
		Image:   result.Tag,
		WorkDir: e.workdir,
	})
	if err != nil {
		e.log.Error("start persistent container failed", "err", err)
		events <- model.PipelineEnd{Status: model.Failure}
		return
	}
	defer e.driver.StopAndRemove(context.Background(), containerID)

	final := model.Success
	for _, step := range cfg.Steps {
		events <- model.StepStart{Step: step}

		stepCtx, cancel := e.stepContext(ctx, opts)
		res := steprunner.Run(stepCtx, e.driver, steprunner.ExecPersistent, step, containerID, e.workdir, events)
		cancel()

		events <- model.StepEnd{Step: step, Status: res.Status, ExitCode: res.ExitCode}
		final = final.Combine(res.Status)

		if res.Status == model.Failure && step.IsCritical() {
			events <- model.DebugShellStarting{Step: step, ContainerID: containerID}
			break
		}
		if res.Fatal {
			break
		}
	}

	events <- model.PipelineEnd{Status: final}
}

func (e *Engine) stepContext(ctx context.Context, opts Options) (context.Context, context.CancelFunc) {
	if opts.StepTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, opts.StepTimeout)
}
