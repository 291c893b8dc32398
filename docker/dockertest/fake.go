// Package dockertest provides a hand-written fake of docker.APIClient for
// exercising the Container Driver, Image Preparer, Step Runner, and
// Pipeline Orchestrator without a real daemon, following the func-field
// mock pattern the pack's Azure-containerization-assist testutil package
// uses for its own infrastructure fakes.
package dockertest

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// nopConn is a net.Conn that does nothing, standing in for the hijacked
// TCP/unix-socket connection a real exec attach returns: HijackedResponse.Close
// calls Conn.Close() unconditionally, so the fake needs a non-nil Conn even
// though nothing in these tests ever writes to it.
type nopConn struct{}

func (nopConn) Read([]byte) (int, error)         { return 0, io.EOF }
func (nopConn) Write(b []byte) (int, error)      { return len(b), nil }
func (nopConn) Close() error                     { return nil }
func (nopConn) LocalAddr() net.Addr              { return nil }
func (nopConn) RemoteAddr() net.Addr             { return nil }
func (nopConn) SetDeadline(time.Time) error      { return nil }
func (nopConn) SetReadDeadline(time.Time) error  { return nil }
func (nopConn) SetWriteDeadline(time.Time) error { return nil }

// Fake implements docker.APIClient with overridable func fields; any left
// nil returns a benign default (an empty list or stream, a fixed fake ID,
// exit code 0) and a nil error, which is enough for tests that don't
// exercise that call.
type Fake struct {
	ImageListFunc  func(ctx context.Context, options image.ListOptions) ([]image.Summary, error)
	ImagePullFunc  func(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	ImageBuildFunc func(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error)

	ContainerCreateFunc func(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStartFunc  func(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWaitFunc   func(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogsFunc   func(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerKillFunc   func(ctx context.Context, containerID, signal string) error
	ContainerRemoveFunc func(ctx context.Context, containerID string, options container.RemoveOptions) error

	ContainerExecCreateFunc  func(ctx context.Context, containerID string, config container.ExecOptions) (types.IDResponse, error)
	ContainerExecAttachFunc  func(ctx context.Context, execID string, config container.ExecAttachOptions) (types.HijackedResponse, error)
	ContainerExecInspectFunc func(ctx context.Context, execID string) (container.ExecInspect, error)

	// Calls records the name of every method invoked, in order, for
	// assertions that care about call sequencing (e.g. "pull was skipped
	// because the image already existed").
	Calls []string
}

func (f *Fake) record(name string) { f.Calls = append(f.Calls, name) }

func (f *Fake) ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error) {
	f.record("ImageList")
	if f.ImageListFunc != nil {
		return f.ImageListFunc(ctx, options)
	}
	return nil, nil
}

func (f *Fake) ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error) {
	f.record("ImagePull")
	if f.ImagePullFunc != nil {
		return f.ImagePullFunc(ctx, refStr, options)
	}
	return io.NopCloser(bytes.NewReader(nil)), nil
}

func (f *Fake) ImageBuild(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error) {
	f.record("ImageBuild")
	if f.ImageBuildFunc != nil {
		return f.ImageBuildFunc(ctx, buildContext, options)
	}
	return types.ImageBuildResponse{Body: io.NopCloser(bytes.NewReader(nil))}, nil
}

func (f *Fake) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	f.record("ContainerCreate")
	if f.ContainerCreateFunc != nil {
		return f.ContainerCreateFunc(ctx, config, hostConfig, networkingConfig, platform, containerName)
	}
	return container.CreateResponse{ID: "fake-container"}, nil
}

func (f *Fake) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	f.record("ContainerStart")
	if f.ContainerStartFunc != nil {
		return f.ContainerStartFunc(ctx, containerID, options)
	}
	return nil
}

func (f *Fake) ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	f.record("ContainerWait")
	if f.ContainerWaitFunc != nil {
		return f.ContainerWaitFunc(ctx, containerID, condition)
	}
	statusCh := make(chan container.WaitResponse, 1)
	statusCh <- container.WaitResponse{StatusCode: 0}
	return statusCh, make(chan error, 1)
}

func (f *Fake) ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error) {
	f.record("ContainerLogs")
	if f.ContainerLogsFunc != nil {
		return f.ContainerLogsFunc(ctx, containerID, options)
	}
	return io.NopCloser(bytes.NewReader(nil)), nil
}

func (f *Fake) ContainerKill(ctx context.Context, containerID, signal string) error {
	f.record("ContainerKill")
	if f.ContainerKillFunc != nil {
		return f.ContainerKillFunc(ctx, containerID, signal)
	}
	return nil
}

func (f *Fake) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	f.record("ContainerRemove")
	if f.ContainerRemoveFunc != nil {
		return f.ContainerRemoveFunc(ctx, containerID, options)
	}
	return nil
}

func (f *Fake) ContainerExecCreate(ctx context.Context, containerID string, config container.ExecOptions) (types.IDResponse, error) {
	f.record("ContainerExecCreate")
	if f.ContainerExecCreateFunc != nil {
		return f.ContainerExecCreateFunc(ctx, containerID, config)
	}
	return types.IDResponse{ID: "fake-exec"}, nil
}

func (f *Fake) ContainerExecAttach(ctx context.Context, execID string, config container.ExecAttachOptions) (types.HijackedResponse, error) {
	f.record("ContainerExecAttach")
	if f.ContainerExecAttachFunc != nil {
		return f.ContainerExecAttachFunc(ctx, execID, config)
	}
	return types.HijackedResponse{Conn: nopConn{}, Reader: bufio.NewReader(bytes.NewReader(nil))}, nil
}

func (f *Fake) ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error) {
	f.record("ContainerExecInspect")
	if f.ContainerExecInspectFunc != nil {
		return f.ContainerExecInspectFunc(ctx, execID)
	}
	return container.ExecInspect{ExitCode: 0}, nil
}
