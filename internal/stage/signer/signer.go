// Package signer computes and verifies a manifest signature once a snapshot
// completes, so catalog entries can be verified against a configured public
// key independent of transport trust. Ed25519 is used from the standard
// library: no example repository in this module's reference corpus imports
// a third-party signing library, and the standard library's implementation
// is both correct and the idiomatic choice absent a project-specific reason
// to prefer an alternative (see DESIGN.md).
package signer

import (
	"crypto/ed25519"
	"fmt"
	"os"
)

// Signer holds the key material needed to sign (private key present) and/or
// verify (public key present) a manifest digest.
type Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// LoadFromFiles reads raw Ed25519 key material from disk. Either path may be
// empty; a Signer with no private key can still Verify, and one with no
// public key can still Sign (the public key is derived from the private key
// when absent).
func LoadFromFiles(privPath, pubPath string) (*Signer, error) {
	s := &Signer{}

	if privPath != "" {
		raw, err := os.ReadFile(privPath)
		if err != nil {
			return nil, fmt.Errorf("signer: reading private key %s: %w", privPath, err)
		}
		if len(raw) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("signer: private key %s has %d bytes, want %d", privPath, len(raw), ed25519.PrivateKeySize)
		}
		s.priv = ed25519.PrivateKey(raw)
		s.pub = s.priv.Public().(ed25519.PublicKey)
	}

	if pubPath != "" {
		raw, err := os.ReadFile(pubPath)
		if err != nil {
			return nil, fmt.Errorf("signer: reading public key %s: %w", pubPath, err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("signer: public key %s has %d bytes, want %d", pubPath, len(raw), ed25519.PublicKeySize)
		}
		s.pub = ed25519.PublicKey(raw)
	}

	return s, nil
}

// Sign signs digest (typically a manifest hash) with the loaded private key.
func (s *Signer) Sign(digest []byte) ([]byte, error) {
	if s.priv == nil {
		return nil, fmt.Errorf("signer: no private key loaded")
	}
	return ed25519.Sign(s.priv, digest), nil
}

// Verify checks sig against digest using the loaded public key.
func (s *Signer) Verify(digest, sig []byte) (bool, error) {
	if s.pub == nil {
		return false, fmt.Errorf("signer: no public key loaded")
	}
	return ed25519.Verify(s.pub, digest, sig), nil
}

// GenerateKeyFiles creates a fresh Ed25519 key pair and writes it to the
// given paths, for use by a setup/init command. Permissions on the private
// key file are restricted to the owner.
func GenerateKeyFiles(privPath, pubPath string) error {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return fmt.Errorf("signer: generating key pair: %w", err)
	}
	if err := os.WriteFile(privPath, priv, 0600); err != nil {
		return fmt.Errorf("signer: writing private key: %w", err)
	}
	if err := os.WriteFile(pubPath, pub, 0644); err != nil {
		return fmt.Errorf("signer: writing public key: %w", err)
	}
	return nil
}
