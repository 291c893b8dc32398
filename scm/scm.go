// Package scm reads the current branch and any pending staged commit
// message out of the local git checkout, using go-git's PlainOpen/Head
// rather than shelling out to the git binary.
package scm

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"

	"github.com/hookci/hookci/hookcierr"
)

// Probe reads source-control state from a single working tree.
type Probe struct {
	workdir string
}

func New(workdir string) *Probe {
	return &Probe{workdir: workdir}
}

// CurrentBranch returns the short name of HEAD, e.g. "main", or "HEAD"
// when HEAD is detached. Fails with ScmError on a missing/unopenable
// repository or one with no commits yet — the Filter Gate treats this as
// fatal, never as "no filter".
func (p *Probe) CurrentBranch() (string, error) {
	repo, err := git.PlainOpen(p.workdir)
	if err != nil {
		return "", hookcierr.NewScmError("current_branch", err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", hookcierr.NewScmError("current_branch", err)
	}
	return head.Name().Short(), nil
}

// StagedCommitMessage returns the contents of .git/COMMIT_EDITMSG with
// comment lines (those beginning with '#') removed and the result
// trimmed, or "" if no commit message is currently staged (e.g. a
// pre-push hook run, or a pre-commit run before the message was
// written).
func (p *Probe) StagedCommitMessage() (string, error) {
	path := filepath.Join(p.workdir, ".git", "COMMIT_EDITMSG")
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", hookcierr.NewScmError("staged_commit_message", err)
	}

	var kept []string
	for _, line := range strings.Split(string(raw), "\n") {
		if strings.HasPrefix(line, "#") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n")), nil
}
