package attest

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// AlgEd25519 is the only supported signature algorithm.
const AlgEd25519 = "ed25519"

// Signature is a detached signature over the attestation with Signature unset.
type Signature struct {
	Alg   string `json:"alg"`
	KeyID string `json:"key_id"`
	Sig   string `json:"sig"`
}

// Signer signs attestations with an ed25519 key.
type Signer struct {
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
	KeyID      string
}

// LoadOrCreateSigner loads the private key at keyPath, generating one (and a
// keyPath.pub public key) if the file does not exist.
func LoadOrCreateSigner(keyPath string) (*Signer, error) {
	if keyPath == "" {
		return nil, fmt.Errorf("key path is required")
	}

	data, err := os.ReadFile(keyPath)
	switch {
	case err == nil:
		if len(data) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("%s: invalid private key size", keyPath)
		}
		return newSigner(ed25519.PrivateKey(data)), nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, err
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(keyPath, priv, 0600); err != nil {
		return nil, err
	}
	if err := os.WriteFile(keyPath+".pub", pub, 0644); err != nil {
		return nil, err
	}
	return newSigner(priv), nil
}

func newSigner(priv ed25519.PrivateKey) *Signer {
	pub := priv.Public().(ed25519.PublicKey)
	return &Signer{PrivateKey: priv, PublicKey: pub, KeyID: KeyID(pub)}
}

// KeyID is a short fingerprint of a public key.
func KeyID(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:8])
}

// Sign attaches a signature to att, replacing any existing one.
func (s *Signer) Sign(att *Attestation) error {
	if att == nil {
		return fmt.Errorf("attestation is required")
	}
	payload, err := signingPayload(att)
	if err != nil {
		return err
	}
	att.Signature = &Signature{
		Alg:   AlgEd25519,
		KeyID: s.KeyID,
		Sig:   base64.StdEncoding.EncodeToString(ed25519.Sign(s.PrivateKey, payload)),
	}
	return nil
}

// VerifySignature checks att's signature against pub.
func VerifySignature(att *Attestation, pub ed25519.PublicKey) error {
	if att == nil {
		return fmt.Errorf("attestation is required")
	}
	sig := att.Signature
	if sig == nil {
		return fmt.Errorf("attestation is not signed")
	}
	if sig.Alg != AlgEd25519 {
		return fmt.Errorf("unsupported signature algorithm: %s", sig.Alg)
	}
	if sig.KeyID != KeyID(pub) {
		return fmt.Errorf("signed by key %s, verifying with %s", sig.KeyID, KeyID(pub))
	}

	raw, err := base64.StdEncoding.DecodeString(sig.Sig)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	payload, err := signingPayload(att)
	if err != nil {
		return err
	}
	if !ed25519.Verify(pub, payload, raw) {
		return fmt.Errorf("invalid attestation signature")
	}
	return nil
}

// LoadPublicKey reads a public key file, or derives the public key from a
// private key file.
func LoadPublicKey(path string) (ed25519.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch len(data) {
	case ed25519.PublicKeySize:
		return ed25519.PublicKey(data), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(data).Public().(ed25519.PublicKey), nil
	default:
		return nil, fmt.Errorf("%s: not an ed25519 key", path)
	}
}

func signingPayload(att *Attestation) ([]byte, error) {
	unsigned := *att
	unsigned.Signature = nil
	return json.Marshal(&unsigned)
}
