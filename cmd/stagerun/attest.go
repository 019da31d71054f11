package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zen-systems/stagerun/pkg/attest"
)

func attestCmd() *cobra.Command {
	var runDir string
	var stageName string
	var outFile string
	var keyPath string

	cmd := &cobra.Command{
		Use:   "attest",
		Short: "Export an attestation for a stage of an evidence run",
		Long: `Hashes the run record, the stage record and its captured output, and
summarizes the stage's command outcomes. Written to --out, or stdout.
With --key the attestation is signed with that ed25519 key, which is
generated (along with KEY.pub) if it does not exist.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if runDir == "" || stageName == "" {
				return &usageError{errors.New("--run and --stage are required")}
			}

			att, err := attest.BuildAttestation(runDir, stageName)
			if err != nil {
				return err
			}
			if keyPath != "" {
				signer, err := attest.LoadOrCreateSigner(keyPath)
				if err != nil {
					return err
				}
				if err := signer.Sign(att); err != nil {
					return err
				}
			}
			if outFile != "" {
				return att.WriteFile(outFile)
			}

			data, err := json.MarshalIndent(att, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}

	cmd.Flags().StringVar(&runDir, "run", "", "run directory containing evidence")
	cmd.Flags().StringVar(&stageName, "stage", "", "stage name to attest")
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "output file path (default: stdout)")
	cmd.Flags().StringVar(&keyPath, "key", "", "ed25519 private key to sign with")

	return cmd
}

func verifyCmd() *cobra.Command {
	var attestationPath string
	var runDir string
	var pubKeyPath string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify an attestation against a run directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if attestationPath == "" || runDir == "" {
				return &usageError{errors.New("--attestation and --run are required")}
			}

			att, err := attest.ReadFile(attestationPath)
			if err != nil {
				return err
			}
			if err := attest.VerifyAttestation(att, runDir); err != nil {
				return err
			}
			if pubKeyPath != "" {
				pub, err := attest.LoadPublicKey(pubKeyPath)
				if err != nil {
					return err
				}
				if err := attest.VerifySignature(att, pub); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Signature verified (key %s).\n", att.Signature.KeyID)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Attestation verified.")
			return nil
		},
	}

	cmd.Flags().StringVar(&attestationPath, "attestation", "", "attestation file path")
	cmd.Flags().StringVar(&runDir, "run", "", "run directory containing evidence")
	cmd.Flags().StringVar(&pubKeyPath, "pub-key", "", "also require a valid signature from this ed25519 key")

	return cmd
}
