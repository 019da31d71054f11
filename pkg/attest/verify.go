package attest

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/zen-systems/stagerun/pkg/evidence"
)

// VerifyAttestation validates an attestation against the run directory: the
// run and stage records must be hashed, every hashed file must be unchanged,
// and the subject and claim must match those records.
func VerifyAttestation(att *Attestation, runDir string) error {
	if att == nil {
		return fmt.Errorf("attestation is required")
	}
	if runDir == "" {
		return fmt.Errorf("runDir is required")
	}
	if att.Schema != SchemaV1 {
		return fmt.Errorf("unknown attestation schema: %s", att.Schema)
	}
	if att.Evidence.RunJSON == "" || att.Evidence.StageJSON == "" {
		return fmt.Errorf("attestation does not reference its run and stage records")
	}
	if _, ok := att.Hashes[att.Evidence.RunJSON]; !ok {
		return fmt.Errorf("run record %s is not hashed", att.Evidence.RunJSON)
	}
	if _, ok := att.Hashes[att.Evidence.StageJSON]; !ok {
		return fmt.Errorf("stage record %s is not hashed", att.Evidence.StageJSON)
	}

	for rel, expected := range att.Hashes {
		actual, err := hashFile(runDir, rel)
		if err != nil {
			return fmt.Errorf("evidence file %s: %w", rel, err)
		}
		if actual != expected {
			return fmt.Errorf("hash mismatch for %s", rel)
		}
	}

	var runRecord evidence.RunRecord
	if err := readJSON(runDir, att.Evidence.RunJSON, &runRecord); err != nil {
		return fmt.Errorf("read run json: %w", err)
	}
	var stageRecord evidence.StageRecord
	if err := readJSON(runDir, att.Evidence.StageJSON, &stageRecord); err != nil {
		return fmt.Errorf("read stage json: %w", err)
	}
	if stageRecord.Name != att.Subject.Stage {
		return fmt.Errorf("stage record is for %s, attestation names %s", stageRecord.Name, att.Subject.Stage)
	}
	if recorded := subjectFor(runRecord, stageRecord.Name); att.Subject != recorded {
		return fmt.Errorf("subject does not match run record %s", runRecord.ID)
	}

	return verifyClaim(att.Claim, claimFor(stageRecord))
}

// ReadFile reads an attestation written by WriteFile.
func ReadFile(path string) (*Attestation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var att Attestation
	if err := json.Unmarshal(data, &att); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &att, nil
}

// VerifyAttestationFile reads an attestation and verifies it against runDir.
func VerifyAttestationFile(attestationPath, runDir string) error {
	att, err := ReadFile(attestationPath)
	if err != nil {
		return err
	}
	return VerifyAttestation(att, runDir)
}

func verifyClaim(claimed, recorded Claim) error {
	if claimed.Succeeded != recorded.Succeeded {
		return fmt.Errorf("claim.succeeded mismatch")
	}
	if claimed.CommandCount != recorded.CommandCount || len(claimed.Commands) != len(recorded.Commands) {
		return fmt.Errorf("claim.commands mismatch")
	}
	for i := range claimed.Commands {
		c, r := claimed.Commands[i], recorded.Commands[i]
		if c != r {
			return fmt.Errorf("claim mismatch for command %d (%s)", i+1, r.Command)
		}
	}
	return nil
}
