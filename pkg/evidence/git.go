package evidence

import (
	"github.com/go-git/go-git/v5"
)

// GitState reports the revision of the repository containing dir. It
// returns (nil, nil) when dir is not inside a git repository.
func GitState(dir string) (*GitRecord, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err == git.ErrRepositoryNotExists {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	head, err := repo.Head()
	if err != nil {
		// Fresh repository without commits.
		return nil, nil
	}

	record := &GitRecord{Revision: head.Hash().String()}
	if head.Name().IsBranch() {
		record.Branch = head.Name().Short()
	}

	wt, err := repo.Worktree()
	if err != nil {
		return record, nil
	}
	status, err := wt.Status()
	if err != nil {
		return nil, err
	}
	record.Dirty = !status.IsClean()
	return record, nil
}
