package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RunRecord captures run-level metadata.
type RunRecord struct {
	ID             string            `json:"id"`
	Timestamp      time.Time         `json:"timestamp"`
	Pipeline       string            `json:"pipeline"`
	ManifestFile   string            `json:"manifest_file,omitempty"`
	Targets        []string          `json:"targets"`
	Order          []string          `json:"order,omitempty"`
	Workdir        string            `json:"workdir"`
	Verbose        bool              `json:"verbose"`
	DryRun         bool              `json:"dry_run,omitempty"`
	Git            *GitRecord        `json:"git,omitempty"`
	ToolVersions   map[string]string `json:"tool_versions,omitempty"`
	Succeeded      bool              `json:"succeeded"`
	Failure        *FailureRecord    `json:"failure,omitempty"`
	DurationMillis int64             `json:"duration_ms"`
}

// FailureRecord identifies the command that stopped a run.
type FailureRecord struct {
	Stage    string `json:"stage"`
	Command  string `json:"command,omitempty"`
	ExitCode int    `json:"exit_code"`
	Error    string `json:"error,omitempty"`
}

// GitRecord captures the state of the workdir repository at run start.
type GitRecord struct {
	Revision string `json:"revision"`
	Branch   string `json:"branch,omitempty"`
	Dirty    bool   `json:"dirty"`
}

// StageRecord captures evidence for a single stage.
type StageRecord struct {
	Name           string          `json:"name"`
	Commands       []CommandRecord `json:"commands,omitempty"`
	Succeeded      bool            `json:"succeeded"`
	OutputRef      string          `json:"output_ref,omitempty"`
	OutputSHA256   string          `json:"output_sha256,omitempty"`
	DurationMillis int64           `json:"duration_ms"`
}

// CommandRecord captures one command invocation.
type CommandRecord struct {
	Command        string `json:"command"`
	ExitCode       int    `json:"exit_code"`
	Echoed         bool   `json:"echoed"`
	Error          string `json:"error,omitempty"`
	DurationMillis int64  `json:"duration_ms"`
}

// Writer writes evidence bundles to disk.
type Writer struct {
	baseDir string
	runDir  string
}

// NewRunID returns a sortable, unique run identifier.
func NewRunID() string {
	return fmt.Sprintf("%s-%s", time.Now().UTC().Format("20060102T150405Z"), uuid.New().String()[:8])
}

// NewWriter creates a new evidence writer rooted at baseDir/runID.
func NewWriter(baseDir, runID string) (*Writer, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if runID == "" {
		return nil, fmt.Errorf("run ID is required")
	}

	runDir := filepath.Join(baseDir, runID)
	for _, dir := range []string{runDir, filepath.Join(runDir, "stages"), filepath.Join(runDir, "blobs")} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, err
		}
		// MkdirAll is subject to umask; evidence may contain command output.
		if err := os.Chmod(dir, 0700); err != nil {
			return nil, err
		}
	}

	return &Writer{baseDir: baseDir, runDir: runDir}, nil
}

// RunDir returns the run directory path.
func (w *Writer) RunDir() string {
	return w.runDir
}

// RunID returns the run identifier.
func (w *Writer) RunID() string {
	return filepath.Base(w.runDir)
}

// WriteRun writes run metadata to run.json.
func (w *Writer) WriteRun(record RunRecord) error {
	return writeJSON(filepath.Join(w.runDir, "run.json"), record)
}

// WriteStage writes a stage record to stages/<stage>.json.
func (w *Writer) WriteStage(record StageRecord) error {
	if record.Name == "" {
		return fmt.Errorf("stage name is required")
	}
	path := filepath.Join(w.runDir, "stages", fmt.Sprintf("%s.json", record.Name))
	return writeJSON(path, record)
}

// WriteBlob stores content under blobs/<kind>-<sha256>.txt and returns the
// run-relative reference and the digest. Identical content maps to the same
// reference.
func (w *Writer) WriteBlob(kind string, content []byte) (string, string, error) {
	sum := sha256.Sum256(content)
	sha := hex.EncodeToString(sum[:])

	name := fmt.Sprintf("%s-%s.txt", sanitizeKind(kind), sha)
	ref := "blobs/" + name
	path := filepath.Join(w.runDir, "blobs", name)
	if err := os.WriteFile(path, content, 0600); err != nil {
		return "", "", err
	}
	return ref, sha, nil
}

func sanitizeKind(kind string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(kind) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			sb.WriteRune(r)
		case r == ' ' || r == '-':
			sb.WriteRune('_')
		}
	}
	out := strings.Trim(sb.String(), "_")
	if out == "" {
		return "blob"
	}
	return out
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
