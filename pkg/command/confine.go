package command

import (
	"fmt"
	"path/filepath"
	"strings"
)

// confinedPath resolves arg against workdir and rejects anything that would
// land outside it. Filesystem builtins never touch paths above the workdir.
func confinedPath(workdir, arg string) (string, error) {
	if workdir == "" {
		return "", fmt.Errorf("workdir not set")
	}
	if filepath.IsAbs(arg) {
		return "", fmt.Errorf("%s: absolute paths are not allowed", arg)
	}
	cleanArg := filepath.Clean(arg)
	if cleanArg == "." {
		return "", fmt.Errorf("%s: refusing to operate on the workdir itself", arg)
	}
	for _, seg := range strings.Split(cleanArg, string(filepath.Separator)) {
		if seg == ".." {
			return "", fmt.Errorf("%s: path traversal detected", arg)
		}
	}

	candidate := filepath.Join(workdir, cleanArg)
	if ok, reason := confinedUnder(workdir, candidate); !ok {
		return "", fmt.Errorf("%s: %s", arg, reason)
	}
	return candidate, nil
}

func confinedUnder(root, candidate string) (bool, string) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false, "invalid workdir"
	}
	cand, err := filepath.Abs(candidate)
	if err != nil {
		return false, "invalid path"
	}
	if cand == absRoot {
		return true, ""
	}
	if strings.HasPrefix(cand, absRoot+string(filepath.Separator)) {
		return true, ""
	}
	return false, "path escapes workdir"
}
