package imageprep

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/docker/docker/api/types/image"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookci/hookci/docker"
	"github.com/hookci/hookci/docker/dockertest"
	"github.com/hookci/hookci/model"
)

func drain(t *testing.T, ch chan model.Event) []model.Event {
	t.Helper()
	close(ch)
	var events []model.Event
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func TestPrepare_RegistryImageNotCached(t *testing.T) {
	fake := &dockertest.Fake{
		ImageListFunc: func(ctx context.Context, options image.ListOptions) ([]image.Summary, error) {
			return nil, nil
		},
	}
	p := New(docker.New(fake))
	events := make(chan model.Event, 10)

	res, err := p.Prepare(context.Background(), model.DockerSpec{Image: "golang:1.22"}, t.TempDir(), events)
	require.NoError(t, err)
	assert.True(t, res.Ok)
	assert.Equal(t, "golang:1.22", res.Tag)

	got := drain(t, events)
	require.Len(t, got, 2)
	assert.IsType(t, model.ImagePullStart{}, got[0])
	end, ok := got[1].(model.ImagePullEnd)
	require.True(t, ok)
	assert.Equal(t, model.Success, end.Status)
}

func TestPrepare_RegistryImageAlreadyCached(t *testing.T) {
	fake := &dockertest.Fake{
		ImageListFunc: func(ctx context.Context, options image.ListOptions) ([]image.Summary, error) {
			return []image.Summary{{RepoTags: []string{"golang:1.22"}}}, nil
		},
	}
	p := New(docker.New(fake))
	events := make(chan model.Event, 10)

	res, err := p.Prepare(context.Background(), model.DockerSpec{Image: "golang:1.22"}, t.TempDir(), events)
	require.NoError(t, err)
	assert.True(t, res.Ok)

	got := drain(t, events)
	assert.Empty(t, got, "a cache hit must emit no ImagePullStart/End events")
}

func TestPrepare_PullFailureEmitsFailureEnd(t *testing.T) {
	fake := &dockertest.Fake{
		ImagePullFunc: func(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error) {
			return nil, errors.New("no such image")
		},
	}
	p := New(docker.New(fake))
	events := make(chan model.Event, 10)

	res, err := p.Prepare(context.Background(), model.DockerSpec{Image: "golang:doesnotexist"}, t.TempDir(), events)
	require.NoError(t, err)
	assert.False(t, res.Ok)

	got := drain(t, events)
	require.Len(t, got, 2)
	end, ok := got[1].(model.ImagePullEnd)
	require.True(t, ok)
	assert.Equal(t, model.Failure, end.Status)
}

func TestPrepare_RecipeBuildsAndFingerprintsTag(t *testing.T) {
	workdir := t.TempDir()
	dockerfile := "FROM golang:1.22\nRUN go build ./...\n"
	require.NoError(t, os.WriteFile(filepath.Join(workdir, "Dockerfile"), []byte(dockerfile), 0o644))

	fake := &dockertest.Fake{
		ImageListFunc: func(ctx context.Context, options image.ListOptions) ([]image.Summary, error) {
			return nil, nil
		},
	}
	p := New(docker.New(fake))
	events := make(chan model.Event, 10)

	res, err := p.Prepare(context.Background(), model.DockerSpec{Dockerfile: "Dockerfile"}, workdir, events)
	require.NoError(t, err)
	assert.True(t, res.Ok)
	assert.Equal(t, docker.FingerprintRecipe([]byte(dockerfile)), res.Tag[len(res.Tag)-12:])

	got := drain(t, events)
	require.Len(t, got, 2)
	assert.IsType(t, model.ImageBuildStart{}, got[0])
	end, ok := got[1].(model.ImageBuildEnd)
	require.True(t, ok)
	assert.Equal(t, model.Success, end.Status)
}

func TestPrepare_NeitherImageNorDockerfileIsConfigurationError(t *testing.T) {
	p := New(docker.New(&dockertest.Fake{}))
	events := make(chan model.Event, 10)

	_, err := p.Prepare(context.Background(), model.DockerSpec{}, t.TempDir(), events)
	require.Error(t, err)
}
