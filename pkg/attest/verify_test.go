package attest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zen-systems/stagerun/pkg/evidence"
)

func TestVerifyAttestationSuccess(t *testing.T) {
	runDir := t.TempDir()
	setupRunDir(t, runDir)

	att, err := BuildAttestation(runDir, "galaxy-build")
	if err != nil {
		t.Fatalf("build attestation: %v", err)
	}

	if err := VerifyAttestation(att, runDir); err != nil {
		t.Fatalf("verify attestation: %v", err)
	}
}

func TestVerifyAttestationFileRoundTrip(t *testing.T) {
	runDir := t.TempDir()
	setupRunDir(t, runDir)

	att, err := BuildAttestation(runDir, "galaxy-build")
	if err != nil {
		t.Fatalf("build attestation: %v", err)
	}
	path := filepath.Join(t.TempDir(), "galaxy-build.attestation.json")
	if err := att.WriteFile(path); err != nil {
		t.Fatalf("write attestation: %v", err)
	}

	if err := VerifyAttestationFile(path, runDir); err != nil {
		t.Fatalf("verify attestation file: %v", err)
	}
}

func TestVerifyAttestationHashMismatch(t *testing.T) {
	runDir := t.TempDir()
	setupRunDir(t, runDir)

	att, err := BuildAttestation(runDir, "galaxy-build")
	if err != nil {
		t.Fatalf("build attestation: %v", err)
	}

	blobPath := filepath.Join(runDir, "blobs", "output-bbb.txt")
	if err := os.WriteFile(blobPath, []byte("tampered"), 0644); err != nil {
		t.Fatalf("tamper blob: %v", err)
	}

	if err := VerifyAttestation(att, runDir); err == nil {
		t.Fatalf("expected hash mismatch")
	}
}

func TestVerifyAttestationClaimMismatch(t *testing.T) {
	runDir := t.TempDir()
	setupRunDir(t, runDir)

	att, err := BuildAttestation(runDir, "galaxy-build")
	if err != nil {
		t.Fatalf("build attestation: %v", err)
	}
	att.Claim.Commands[1].ExitCode = 0
	att.Claim.Succeeded = true

	if err := VerifyAttestation(att, runDir); err == nil {
		t.Fatalf("expected claim mismatch")
	}
}

func TestVerifyAttestationUnknownSchema(t *testing.T) {
	runDir := t.TempDir()
	setupRunDir(t, runDir)

	att, err := BuildAttestation(runDir, "galaxy-build")
	if err != nil {
		t.Fatalf("build attestation: %v", err)
	}
	att.Schema = "stagerun.attestation.v99"

	if err := VerifyAttestation(att, runDir); err == nil {
		t.Fatalf("expected unknown schema error")
	}
}

func TestVerifyAttestationRequiresStageHash(t *testing.T) {
	runDir := t.TempDir()
	setupRunDir(t, runDir)

	att, err := BuildAttestation(runDir, "galaxy-build")
	if err != nil {
		t.Fatalf("build attestation: %v", err)
	}
	delete(att.Hashes, att.Evidence.StageJSON)

	if err := VerifyAttestation(att, runDir); err == nil {
		t.Fatalf("expected unhashed stage record error")
	}
}

func TestVerifyAttestationRejectsTraversal(t *testing.T) {
	runDir := t.TempDir()
	setupRunDir(t, runDir)

	att := &Attestation{
		Schema: SchemaV1,
		Evidence: Evidence{
			RunJSON:   "run.json",
			StageJSON: "stages/galaxy-build.json",
		},
		Hashes: map[string]string{
			"run.json":                 "deadbeef",
			"stages/galaxy-build.json": "deadbeef",
			"../x":                     "deadbeef",
		},
	}

	if err := VerifyAttestation(att, runDir); err == nil {
		t.Fatalf("expected traversal error")
	}
}

// setupRunDir lays out a failed galaxy-build stage the way the runner's
// evidence writer does.
func setupRunDir(t *testing.T, runDir string) {
	t.Helper()
	writeRecord(t, runDir, "run.json", evidence.RunRecord{
		ID:           "run-1",
		ManifestFile: "stages.yaml",
		Workdir:      "/repo",
		Git:          &evidence.GitRecord{Revision: "0123abcd", Dirty: true},
	})

	require.NoError(t, os.MkdirAll(filepath.Join(runDir, "blobs"), 0700))
	require.NoError(t, os.WriteFile(filepath.Join(runDir, "blobs", "output-bbb.txt"), []byte("output"), 0600))

	writeRecord(t, runDir, "stages/galaxy-build.json", evidence.StageRecord{
		Name:      "galaxy-build",
		Succeeded: false,
		OutputRef: "blobs/output-bbb.txt",
		Commands: []evidence.CommandRecord{
			{Command: "mkdir dist", ExitCode: 0},
			{Command: "ansible-galaxy collection build --force --output-path dist", ExitCode: 1},
		},
	})
}

// writeRecord writes value as JSON at the run-relative path rel.
func writeRecord(t *testing.T, runDir, rel string, value any) {
	t.Helper()
	path := filepath.Join(runDir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0700))
	data, err := json.MarshalIndent(value, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0600))
}

func TestVerifyAttestationRequiresRunHash(t *testing.T) {
	runDir := t.TempDir()
	setupRunDir(t, runDir)

	att, err := BuildAttestation(runDir, "galaxy-build")
	if err != nil {
		t.Fatalf("build attestation: %v", err)
	}
	delete(att.Hashes, att.Evidence.RunJSON)

	if err := VerifyAttestation(att, runDir); err == nil {
		t.Fatalf("expected unhashed run record error")
	}
}

func TestVerifyAttestationSubjectMismatch(t *testing.T) {
	tests := map[string]func(*Subject){
		"run id":   func(s *Subject) { s.RunID = "run-2" },
		"revision": func(s *Subject) { s.Revision = "ffff0000" },
		"dirty":    func(s *Subject) { s.Dirty = false },
		"workdir":  func(s *Subject) { s.Workdir = "/elsewhere" },
		"manifest": func(s *Subject) { s.ManifestFile = "other.yaml" },
	}
	for name, edit := range tests {
		t.Run(name, func(t *testing.T) {
			runDir := t.TempDir()
			setupRunDir(t, runDir)

			att, err := BuildAttestation(runDir, "galaxy-build")
			if err != nil {
				t.Fatalf("build attestation: %v", err)
			}
			edit(&att.Subject)

			if err := VerifyAttestation(att, runDir); err == nil {
				t.Fatalf("expected subject mismatch")
			}
		})
	}
}
