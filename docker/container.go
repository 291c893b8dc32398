package docker

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"

	"github.com/hookci/hookci/hookcierr"
	"github.com/hookci/hookci/model"
)

// ContainerSpec describes the container a step runs in: the image to run,
// the shell command, the working directory bind-mounted from the repo
// checkout, and any per-step environment overrides.
type ContainerSpec struct {
	Image      string
	Command    string
	WorkDir    string
	Env        map[string]string
	Name       string
	KeepAlive  bool // true for debug-mode persistent containers
}

func (s ContainerSpec) toContainerConfig() *container.Config {
	env := make([]string, 0, len(s.Env))
	for k, v := range s.Env {
		env = append(env, k+"="+v)
	}
	cmd := []string{"/bin/sh", "-c", s.Command}
	if s.KeepAlive {
		// A debug-mode container has no step command to exit after; it's
		// kept alive with a no-op so ContainerExecCreate can attach later.
		cmd = []string{"/bin/sh", "-c", "trap : TERM INT; tail -f /dev/null"}
	}
	return &container.Config{
		Image:      s.Image,
		Cmd:        cmd,
		WorkingDir: "/workspace",
		Env:        env,
		Tty:        false,
	}
}

func (s ContainerSpec) toHostConfig() *container.HostConfig {
	mounts := []mount.Mount{}
	if s.WorkDir != "" {
		mounts = append(mounts, mount.Mount{
			Type:   mount.TypeBind,
			Source: s.WorkDir,
			Target: "/workspace",
		})
	}
	return &container.HostConfig{
		Mounts:     mounts,
		AutoRemove: false,
	}
}

// RunResult is the outcome of running a step to completion.
type RunResult struct {
	ExitCode int
}

// RunTransient creates, starts, tails, waits on, and removes a
// single-use container for one step, streaming demultiplexed log lines to
// onLine as they arrive. Collapsed into one call since hookci runs steps
// sequentially rather than fanning workflow steps out across goroutines.
func (d *Driver) RunTransient(ctx context.Context, spec ContainerSpec, onLine func(model.StreamKind, string)) (RunResult, error) {
	containerID, err := d.createContainer(ctx, spec)
	if err != nil {
		return RunResult{}, err
	}
	defer d.removeQuietly(containerID)

	if err := d.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return RunResult{}, hookcierr.NewDockerError(hookcierr.API, "start container "+spec.Name, err)
	}

	logsDone := make(chan error, 1)
	go func() {
		logsDone <- d.tailLogs(ctx, containerID, onLine)
	}()

	statusCh, errCh := d.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	var exitCode int
	select {
	case err := <-errCh:
		if err != nil {
			return RunResult{}, hookcierr.NewDockerError(hookcierr.API, "wait for container "+spec.Name, err)
		}
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
	case <-ctx.Done():
		return RunResult{}, hookcierr.NewDockerError(hookcierr.API, "wait for container "+spec.Name, ctx.Err())
	}

	<-logsDone
	return RunResult{ExitCode: exitCode}, nil
}

// StartPersistent creates and starts a long-lived container for debug
// mode, returning its ID without waiting on it. The caller owns tearing it
// down with StopAndRemove; the orchestrator does so when the debug run
// ends, on every exit path.
func (d *Driver) StartPersistent(ctx context.Context, spec ContainerSpec) (string, error) {
	spec.KeepAlive = true
	containerID, err := d.createContainer(ctx, spec)
	if err != nil {
		return "", err
	}
	if err := d.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		d.removeQuietly(containerID)
		return "", hookcierr.NewDockerError(hookcierr.API, "start persistent container "+spec.Name, err)
	}
	return containerID, nil
}

// StopAndRemove stops then force-removes containerID. Failures here are
// cleanup-path failures: logged, never propagated as a DockerError, since
// a teardown that can't fully clean up shouldn't mask the step's own
// result.
func (d *Driver) StopAndRemove(ctx context.Context, containerID string) {
	if err := d.cli.ContainerKill(ctx, containerID, "KILL"); err != nil && !isNotFoundOrNotRunning(err) {
		d.log.Warn("kill container failed", "container", containerID, "err", err)
	}
	d.removeQuietly(containerID)
}

func (d *Driver) removeQuietly(containerID string) {
	ctx := context.Background()
	if err := d.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil && !isNotFoundOrNotRunning(err) {
		d.log.Warn("remove container failed", "container", containerID, "err", err)
	}
}

func (d *Driver) createContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	resp, err := d.cli.ContainerCreate(ctx, spec.toContainerConfig(), spec.toHostConfig(), nil, nil, spec.Name)
	if err != nil {
		return "", hookcierr.NewDockerError(hookcierr.API, "create container "+spec.Name, err)
	}
	return resp.ID, nil
}

func (d *Driver) tailLogs(ctx context.Context, containerID string, onLine func(model.StreamKind, string)) error {
	rc, err := d.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return hookcierr.NewDockerError(hookcierr.API, "stream logs for "+containerID, err)
	}
	defer rc.Close()

	return Demux(rc, func(stream streamType, data []byte) {
		onLine(streamKindOf(stream), strings.ToValidUTF8(string(data), "�"))
	})
}

func streamKindOf(stream streamType) model.StreamKind {
	if stream == streamStderr {
		return model.Stderr
	}
	return model.Stdout
}

// isNotFoundOrNotRunning matches the daemon error strings for an already
// gone or already-stopped container: the Docker SDK doesn't expose a
// typed sentinel for either, so cleanup paths that race a container's
// own exit fall back to matching the message.
func isNotFoundOrNotRunning(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "No such container") ||
		strings.Contains(msg, "is not running") ||
		strings.Contains(msg, "is not paused")
}

// ExecResult is the outcome of an exec'd command inside a persistent
// debug container.
type ExecResult struct {
	ExitCode int
}

// Exec runs command inside the already-running container containerID and
// streams its demultiplexed output to onLine; debug mode runs every step
// this way in its one persistent container. Uses the low-level exec API
// (ContainerExecCreate/Attach/Inspect) rather than the
// ContainerCreate+Start+Wait cycle RunTransient uses, since the target
// container already exists.
func (d *Driver) Exec(ctx context.Context, containerID, command string, onLine func(model.StreamKind, string)) (ExecResult, error) {
	execID, err := d.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          []string{"/bin/sh", "-c", command},
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return ExecResult{}, hookcierr.NewDockerError(hookcierr.API, "exec create on "+containerID, err)
	}

	attach, err := d.cli.ContainerExecAttach(ctx, execID.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, hookcierr.NewDockerError(hookcierr.API, "exec attach on "+containerID, err)
	}
	defer attach.Close()

	if err := Demux(attach.Reader, func(stream streamType, data []byte) {
		onLine(streamKindOf(stream), strings.ToValidUTF8(string(data), "�"))
	}); err != nil {
		return ExecResult{}, hookcierr.NewDockerError(hookcierr.IO, "read exec output on "+containerID, err)
	}

	inspect, err := d.cli.ContainerExecInspect(ctx, execID.ID)
	if err != nil {
		return ExecResult{}, hookcierr.NewDockerError(hookcierr.API, "exec inspect on "+containerID, err)
	}
	if inspect.Running {
		return ExecResult{}, hookcierr.NewDockerError(hookcierr.IO, "exec on "+containerID, fmt.Errorf("exec still running after attach closed, no exit code"))
	}
	return ExecResult{ExitCode: inspect.ExitCode}, nil
}
