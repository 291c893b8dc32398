package docker

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/pkg/archive"

	"github.com/hookci/hookci/hookcierr"
)

// stepMarker extracts the step counter Docker prints in classic builder
// output ("Step 3/7 : RUN ..."), generalized to the buildkit-less legacy
// builder line hookci targets.
var stepMarker = regexp.MustCompile(`^\s*Step (\d+)/\d+`)

// buildEvent mirrors the JSON-lines shape ImageBuild's response body
// streams, the same struct shape the pack's clawker client and kdeps'
// progress reader decode build output into.
type buildEvent struct {
	Stream      string `json:"stream"`
	Error       string `json:"error"`
	ErrorDetail struct {
		Message string `json:"message"`
	} `json:"errorDetail"`
}

// ImageExists reports whether imageRef is present in the local image
// store, checked the way the pack's zenibako-git-ci runner does: list and
// scan RepoTags, rather than attempting an inspect and treating 404 as
// "doesn't exist" (the list call never itself fails on a missing image).
func (d *Driver) ImageExists(ctx context.Context, imageRef string) (bool, error) {
	images, err := d.cli.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return false, hookcierr.NewDockerError(hookcierr.API, "list images", err)
	}
	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == imageRef {
				return true, nil
			}
		}
	}
	return false, nil
}

// PullImage pulls imageRef, retrying transient daemon/network failures a
// bounded number of times with backoff.
func (d *Driver) PullImage(ctx context.Context, imageRef string) error {
	return retry.Do(
		func() error {
			rc, err := d.cli.ImagePull(ctx, imageRef, image.PullOptions{})
			if err != nil {
				return hookcierr.NewDockerError(classifyPullError(err), "pull image "+imageRef, err)
			}
			defer rc.Close()
			// Drain the pull progress stream; hookci doesn't surface Docker's
			// own per-layer progress, only the ImagePullStart/End pair.
			dec := json.NewDecoder(rc)
			for {
				var line struct {
					Error string `json:"error"`
				}
				if err := dec.Decode(&line); err != nil {
					break
				}
				if line.Error != "" {
					return hookcierr.NewDockerError(classifyPullError(fmt.Errorf("%s", line.Error)), "pull image "+imageRef, fmt.Errorf("%s", line.Error))
				}
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.DelayType(retry.BackOffDelay),
		retry.Delay(500*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			de, ok := hookcierr.AsDockerError(err)
			return !ok || de.Kind != hookcierr.NotFound
		}),
	)
}

// classifyPullError distinguishes a registry's "no such reference" from a
// transport/server error, so retry logic can skip retrying a reference
// that will never exist.
func classifyPullError(err error) hookcierr.DockerKind {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"not found", "manifest unknown", "no such image", "404"} {
		if strings.Contains(msg, marker) {
			return hookcierr.NotFound
		}
	}
	return hookcierr.API
}

// BuildProgress is one decoded line of build output, paired with the step
// counter it belongs to when Docker's classic builder emits a "Step N/M"
// marker.
type BuildProgress struct {
	Step int
	Line string
}

// BuildImage builds contextDir (the directory holding the Dockerfile named
// by dockerfileName) into an image tagged tag, invoking onProgress once
// per decoded output line. A build whose JSON stream carries an
// "error"/"errorDetail" field, or whose HTTP round trip itself fails, is
// reported as a hookcierr.DockerError with Kind BuildFailed.
func (d *Driver) BuildImage(ctx context.Context, contextDir, dockerfileName, tag string, onProgress func(BuildProgress)) error {
	buildCtx, err := archive.TarWithOptions(contextDir, &archive.TarOptions{})
	if err != nil {
		return hookcierr.NewDockerError(hookcierr.IO, "tar build context for "+tag, err)
	}
	defer buildCtx.Close()

	resp, err := d.cli.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:       []string{tag},
		Dockerfile: dockerfileName,
		Remove:     true,
	})
	if err != nil {
		return hookcierr.NewDockerError(hookcierr.BuildFailed, "build image "+tag, err)
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var currentStep int
	for scanner.Scan() {
		var ev buildEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		if ev.Error != "" || ev.ErrorDetail.Message != "" {
			msg := ev.Error
			if msg == "" {
				msg = ev.ErrorDetail.Message
			}
			return hookcierr.NewDockerError(hookcierr.BuildFailed, "build image "+tag, fmt.Errorf("%s", msg))
		}
		if m := stepMarker.FindStringSubmatch(ev.Stream); m != nil {
			if n, err := parseStepNumber(m[1]); err == nil {
				currentStep = n
			}
		}
		line := trimSpace(ev.Stream)
		if line == "" {
			continue
		}
		onProgress(BuildProgress{Step: currentStep, Line: line})
	}
	if err := scanner.Err(); err != nil {
		return hookcierr.NewDockerError(hookcierr.IO, "read build output for "+tag, err)
	}
	return nil
}

func parseStepNumber(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

// CountRecipeSteps counts a Dockerfile's non-blank lines that are not '#'
// comments, a lexical stand-in for its instruction count (a continuation
// line counts as a line of its own). This is the figure
// ImageBuildStart.TotalSteps reports before the build begins (the
// daemon itself only tells us this lazily, one "Step N/M" line at a time,
// so the total has to be precomputed from the source file).
func CountRecipeSteps(dockerfile []byte) int {
	n := 0
	for _, line := range splitLines(dockerfile) {
		line = trimSpace(line)
		if line == "" || line[0] == '#' {
			continue
		}
		n++
	}
	return n
}

// FingerprintRecipe returns a 12-hex-character prefix of the SHA-256 of
// dockerfile's contents: bit-stable across runs for identical bytes, and
// short enough to key the local image cache tag
// (hookci/{repo}:{fingerprint}) without an unwieldy tag string.
func FingerprintRecipe(dockerfile []byte) string {
	sum := sha256.Sum256(dockerfile)
	return hex.EncodeToString(sum[:])[:12]
}

func splitLines(b []byte) []string {
	return strings.Split(string(b), "\n")
}

func trimSpace(s string) string {
	return strings.TrimSpace(s)
}
