// Package filter is the Filter Gate: for hook-triggered runs, decides
// whether the pipeline proceeds at all, based on the hook-enabled flags
// and the optional branch/commit-message regular expressions.
package filter

import (
	"fmt"
	"regexp"

	"github.com/hookci/hookci/hookcierr"
	"github.com/hookci/hookci/model"
)

// HookType identifies the git hook a run was triggered from. The zero
// value means a manual run.
type HookType string

const (
	None      HookType = ""
	PreCommit HookType = "pre-commit"
	PrePush   HookType = "pre-push"
)

// SourceControl is the subset of the scm package's Probe the gate needs.
type SourceControl interface {
	CurrentBranch() (string, error)
	StagedCommitMessage() (string, error)
}

// Decide runs the hook-type, hook-enabled, branch-filter, and
// commit-message-filter checks in order, returning true to proceed and
// false to skip (in which case the orchestrator emits no events at all).
func Decide(hook HookType, cfg model.Configuration, scm SourceControl) (bool, error) {
	if hook == None {
		return true, nil
	}

	switch hook {
	case PreCommit:
		if !cfg.Hooks.PreCommit {
			return false, nil
		}
	case PrePush:
		if !cfg.Hooks.PrePush {
			return false, nil
		}
	}

	if cfg.Filters != nil && cfg.Filters.Branches != "" {
		branch, err := scm.CurrentBranch()
		if err != nil {
			return false, err
		}
		re, err := regexp.Compile(cfg.Filters.Branches)
		if err != nil {
			return false, hookcierr.NewConfigurationError(fmt.Sprintf("filters.branches: invalid regex: %s", err))
		}
		if loc := re.FindStringIndex(branch); loc == nil || loc[0] != 0 {
			return false, nil
		}
	}

	if hook == PreCommit && cfg.Filters != nil && cfg.Filters.Commits != "" {
		message, err := scm.StagedCommitMessage()
		if err != nil {
			return false, err
		}
		re, err := regexp.Compile("(?s)" + cfg.Filters.Commits)
		if err != nil {
			return false, hookcierr.NewConfigurationError(fmt.Sprintf("filters.commits: invalid regex: %s", err))
		}
		if loc := re.FindStringIndex(message); loc == nil || loc[0] != 0 {
			return false, nil
		}
	}

	return true, nil
}
