// Package imageprep is the Image Preparer: given a configuration, it
// makes an image available — by pulling a registry reference or building
// a recipe with content-addressed caching — and returns the tag to run
// steps against.
package imageprep

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hookci/hookci/docker"
	"github.com/hookci/hookci/hclog"
	"github.com/hookci/hookci/hookcierr"
	"github.com/hookci/hookci/model"
)

// Result is the outcome of preparing an image: a tag to run against, or
// absent (Ok false) if preparation failed. The caller is expected to have
// already received the FAILURE-ending events this package emits before
// treating !Ok as terminal.
type Result struct {
	Tag string
	Ok  bool
}

// Preparer runs the Image Preparer algorithm against a Container Driver,
// emitting events onto events as it goes.
type Preparer struct {
	driver *docker.Driver
	log    *slog.Logger
}

func New(driver *docker.Driver) *Preparer {
	return &Preparer{driver: driver, log: hclog.New("hookci/imageprep")}
}

// Prepare picks the recipe or registry path: recipe builds with a
// fingerprint-keyed cache tag, registry pulls with a best-effort
// existence check, and the absent-both case is an unreachable
// ConfigurationError the validator should already have rejected.
func (p *Preparer) Prepare(ctx context.Context, spec model.DockerSpec, workdir string, events chan<- model.Event) (Result, error) {
	switch {
	case spec.IsRecipe():
		return p.prepareRecipe(ctx, spec.Dockerfile, workdir, events)
	case spec.Image != "":
		return p.prepareRegistry(ctx, spec.Image, events)
	default:
		return Result{}, hookcierr.NewConfigurationError("neither image nor dockerfile declared")
	}
}

func (p *Preparer) prepareRecipe(ctx context.Context, dockerfileRel, workdir string, events chan<- model.Event) (Result, error) {
	recipePath := filepath.Join(workdir, dockerfileRel)

	contents, err := os.ReadFile(recipePath)
	if err != nil {
		p.log.Warn("read recipe failed", "path", recipePath, "err", err)
		return Result{}, nil
	}

	fingerprint := docker.FingerprintRecipe(contents)
	repoBasename := filepath.Base(filepath.Clean(workdir))
	tag := fmt.Sprintf("hookci/%s:%s", repoBasename, fingerprint)

	exists, err := p.driver.ImageExists(ctx, tag)
	if err != nil {
		p.log.Warn("image existence check failed", "tag", tag, "err", err)
	} else if exists {
		return Result{Tag: tag, Ok: true}, nil
	}

	total := docker.CountRecipeSteps(contents)

	events <- model.ImageBuildStart{
		DockerfilePath: dockerfileRel,
		Tag:            tag,
		TotalSteps:     total,
	}

	contextDir := filepath.Dir(recipePath)
	dockerfileName := filepath.Base(recipePath)

	buildErr := p.driver.BuildImage(ctx, contextDir, dockerfileName, tag, func(progress docker.BuildProgress) {
		events <- model.ImageBuildProgress{Step: progress.Step, Line: progress.Line}
	})
	if buildErr != nil {
		events <- model.ImageBuildEnd{Status: model.Failure}
		return Result{}, nil
	}

	events <- model.ImageBuildEnd{Status: model.Success}
	return Result{Tag: tag, Ok: true}, nil
}

func (p *Preparer) prepareRegistry(ctx context.Context, reference string, events chan<- model.Event) (Result, error) {
	exists, err := p.driver.ImageExists(ctx, reference)
	if err != nil {
		p.log.Warn("image existence check failed", "reference", reference, "err", err)
	} else if exists {
		return Result{Tag: reference, Ok: true}, nil
	}

	events <- model.ImagePullStart{ImageName: reference}

	if err := p.driver.PullImage(ctx, reference); err != nil {
		events <- model.ImagePullEnd{Status: model.Failure}
		return Result{}, nil
	}

	events <- model.ImagePullEnd{Status: model.Success}
	return Result{Tag: reference, Ok: true}, nil
}
