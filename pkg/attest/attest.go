package attest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zen-systems/stagerun/pkg/evidence"
)

// SchemaV1 identifies the attestation format.
const SchemaV1 = "stagerun.attestation.v1"

// Attestation binds a stage's outcome to the evidence files it was read from.
type Attestation struct {
	Schema    string            `json:"schema"`
	Subject   Subject           `json:"subject"`
	Claim     Claim             `json:"claim"`
	Evidence  Evidence          `json:"evidence"`
	Hashes    map[string]string `json:"hashes"`
	Signature *Signature        `json:"signature,omitempty"`
}

// Subject identifies the attested stage.
type Subject struct {
	Workdir      string `json:"workdir"`
	ManifestFile string `json:"manifest_file,omitempty"`
	RunID        string `json:"run_id"`
	Stage        string `json:"stage"`
	Revision     string `json:"revision,omitempty"`
	Dirty        bool   `json:"dirty,omitempty"`
}

// Claim summarizes what the stage's commands did.
type Claim struct {
	Succeeded    bool           `json:"succeeded"`
	CommandCount int            `json:"command_count"`
	Commands     []CommandClaim `json:"commands"`
}

// CommandClaim is the outcome of one command, in execution order.
type CommandClaim struct {
	Command  string `json:"command"`
	ExitCode int    `json:"exit_code"`
}

// Evidence references run artifacts, relative to the run directory.
type Evidence struct {
	RunJSON   string   `json:"run_json"`
	StageJSON string   `json:"stage_json"`
	Blobs     []string `json:"blobs,omitempty"`
}

// BuildAttestation builds an attestation for a stage in a run directory.
func BuildAttestation(runDir, stageName string) (*Attestation, error) {
	if runDir == "" {
		return nil, fmt.Errorf("runDir is required")
	}
	if stageName == "" {
		return nil, fmt.Errorf("stageName is required")
	}

	stageRel := stageJSON(stageName)
	var runRecord evidence.RunRecord
	if err := readJSON(runDir, "run.json", &runRecord); err != nil {
		return nil, err
	}
	var stageRecord evidence.StageRecord
	if err := readJSON(runDir, stageRel, &stageRecord); err != nil {
		return nil, err
	}

	blobs := collectStageBlobs(stageRecord)

	hashes := make(map[string]string)
	for _, rel := range append([]string{"run.json", stageRel}, blobs...) {
		if _, ok := hashes[rel]; ok {
			continue
		}
		sum, err := hashFile(runDir, rel)
		if err != nil {
			return nil, err
		}
		hashes[rel] = sum
	}

	return &Attestation{
		Schema:  SchemaV1,
		Subject: subjectFor(runRecord, stageName),
		Claim:   claimFor(stageRecord),
		Evidence: Evidence{
			RunJSON:   "run.json",
			StageJSON: stageRel,
			Blobs:     blobs,
		},
		Hashes: hashes,
	}, nil
}

// WriteFile writes the attestation as indented JSON.
func (a *Attestation) WriteFile(path string) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0600)
}

func subjectFor(run evidence.RunRecord, stageName string) Subject {
	subject := Subject{
		Workdir:      run.Workdir,
		ManifestFile: run.ManifestFile,
		RunID:        run.ID,
		Stage:        stageName,
	}
	if run.Git != nil {
		subject.Revision = run.Git.Revision
		subject.Dirty = run.Git.Dirty
	}
	return subject
}

func claimFor(record evidence.StageRecord) Claim {
	claim := Claim{
		Succeeded:    record.Succeeded,
		CommandCount: len(record.Commands),
		Commands:     make([]CommandClaim, 0, len(record.Commands)),
	}
	for _, c := range record.Commands {
		claim.Commands = append(claim.Commands, CommandClaim{Command: c.Command, ExitCode: c.ExitCode})
	}
	return claim
}

func stageJSON(stageName string) string {
	return filepath.ToSlash(filepath.Join("stages", fmt.Sprintf("%s.json", stageName)))
}

func collectStageBlobs(record evidence.StageRecord) []string {
	if record.OutputRef == "" {
		return nil
	}
	return []string{filepath.ToSlash(record.OutputRef)}
}

func readJSON(runDir, rel string, value any) error {
	path, err := safeJoin(runDir, rel)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, value); err != nil {
		return fmt.Errorf("parse %s: %w", rel, err)
	}
	return nil
}

func hashFile(runDir, rel string) (string, error) {
	path, err := safeJoin(runDir, rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func safeJoin(root, rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("empty path")
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("absolute path not allowed")
	}
	normalized := filepath.FromSlash(rel)
	for _, seg := range strings.Split(normalized, string(filepath.Separator)) {
		if seg == ".." {
			return "", fmt.Errorf("path traversal detected")
		}
	}
	clean := filepath.Clean(normalized)
	if clean == "." {
		return "", fmt.Errorf("invalid path")
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	target := filepath.Join(rootAbs, clean)
	if target != rootAbs && !strings.HasPrefix(target, rootAbs+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes run dir")
	}
	return target, nil
}
