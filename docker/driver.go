package docker

import (
	"log/slog"

	"github.com/hookci/hookci/hclog"
)

// Driver is the Container Driver: a thin, retrying wrapper over an
// APIClient, scoped to exactly the operations the Image Preparer and Step
// Runner need, with no workflow/workspace/network-setup concerns of its
// own — the orchestrator owns sequencing, Driver owns the daemon calls.
type Driver struct {
	cli APIClient
	log *slog.Logger
}

// New wraps an already-connected APIClient. Callers obtain one via
// NewDockerClient, or supply a fake in tests.
func New(cli APIClient) *Driver {
	return &Driver{
		cli: cli,
		log: hclog.New("hookci/docker"),
	}
}
