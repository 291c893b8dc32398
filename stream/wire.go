package stream

import "github.com/hookci/hookci/model"

// toWire converts an engine event into a JSON-friendly envelope for
// WebSocket consumers, tagging each payload with its event kind as
// {"type": "...", "payload": {...}} rather than relying on the client to
// type-switch a bare struct.
func toWire(ev model.Event) map[string]any {
	switch e := ev.(type) {
	case model.PipelineStart:
		return wire("pipeline_start", map[string]any{"total_steps": e.TotalSteps, "log_level": e.LogLevel})
	case model.ImagePullStart:
		return wire("image_pull_start", map[string]any{"image_name": e.ImageName})
	case model.ImagePullEnd:
		return wire("image_pull_end", map[string]any{"status": e.Status.String()})
	case model.ImageBuildStart:
		return wire("image_build_start", map[string]any{
			"dockerfile_path": e.DockerfilePath,
			"tag":             e.Tag,
			"total_steps":     e.TotalSteps,
		})
	case model.ImageBuildProgress:
		return wire("image_build_progress", map[string]any{"step": e.Step, "line": stripANSI(e.Line)})
	case model.ImageBuildEnd:
		return wire("image_build_end", map[string]any{"status": e.Status.String()})
	case model.StepStart:
		return wire("step_start", map[string]any{"step": e.Step.Name})
	case model.LogLine:
		return wire("log_line", map[string]any{
			"step_name": e.StepName,
			"stream":    string(e.Stream),
			"line":      stripANSI(e.Line),
		})
	case model.StepEnd:
		return wire("step_end", map[string]any{
			"step":      e.Step.Name,
			"status":    e.Status.String(),
			"exit_code": e.ExitCode,
		})
	case model.DebugShellStarting:
		return wire("debug_shell_starting", map[string]any{
			"step":         e.Step.Name,
			"container_id": e.ContainerID,
		})
	case model.PipelineEnd:
		return wire("pipeline_end", map[string]any{"status": e.Status.String()})
	default:
		return wire("unknown", nil)
	}
}

func wire(kind string, payload map[string]any) map[string]any {
	return map[string]any{"type": kind, "payload": payload}
}
