// Package steprunner executes one step against a prepared image or
// persistent container, relays log events, and classifies the outcome.
package steprunner

import (
	"context"

	"github.com/hookci/hookci/docker"
	"github.com/hookci/hookci/model"
)

// Result is the terminal outcome of running one step.
type Result struct {
	Status   model.Status
	ExitCode int
	// Fatal is set when the underlying driver call itself failed: the
	// orchestrator must end the pipeline, not merely record a failing step.
	Fatal bool
}

// Mode selects whether a step runs in its own transient container or via
// exec against an already-running persistent (debug-mode) container.
type Mode int

const (
	Transient Mode = iota
	ExecPersistent
)

// Run executes step under the given mode and emits LogLine events for
// every (stream, text) pair the driver yields. StepStart/StepEnd are left
// to the caller (the orchestrator) — this package only emits LogLine and
// returns the terminal exit code.
func Run(ctx context.Context, driver *docker.Driver, mode Mode, step model.Step, target string, workdir string, events chan<- model.Event) Result {
	onLine := func(stream model.StreamKind, text string) {
		events <- model.LogLine{Line: text, Stream: stream, StepName: step.Name}
	}

	var exitCode int
	var driverErr error

	switch mode {
	case Transient:
		res, err := driver.RunTransient(ctx, docker.ContainerSpec{
			Image:   target,
			Command: step.Command,
			WorkDir: workdir,
			Env:     step.Env,
			Name:    containerName(step.Name),
		}, onLine)
		exitCode, driverErr = res.ExitCode, err
	case ExecPersistent:
		res, err := driver.Exec(ctx, target, step.Command, onLine)
		exitCode, driverErr = res.ExitCode, err
	}

	if driverErr != nil {
		// Any driver failure during a step is always a fatal FAILURE,
		// independent of step.critical — a daemon or container fault isn't
		// a step exit code to weigh against criticality.
		return Result{Status: model.Failure, ExitCode: 1, Fatal: true}
	}

	return Result{Status: model.Classify(exitCode, step.IsCritical()), ExitCode: exitCode}
}

func containerName(stepName string) string {
	return "hookci-" + sanitize(stepName)
}

func sanitize(s string) string {
	b := make([]byte, 0, len(s))
	for _, c := range []byte(s) {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			b = append(b, c)
		default:
			b = append(b, '-')
		}
	}
	return string(b)
}
