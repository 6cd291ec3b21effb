// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

// Package keystore manages the signing key pair's create-on-first-use,
// load, and fingerprint lifecycle, plus an optional passphrase-based
// protection of the persisted private key.
package keystore

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultKeyBits is the RSA modulus size generated on first use.
// 4096 bits comfortably exceeds the 2048-bit minimum considered
// acceptable for a long-lived certificate-signing key.
const DefaultKeyBits = 4096

// KeyStore is the process-wide signing key resource. It is not a
// package-level global; callers construct one against a path and hold
// onto it.
type KeyStore struct {
	path string

	private *rsa.PrivateKey
}

// Open loads the key pair at path, generating and persisting a new one
// on first use. path's parent directory is created with owner-only
// permissions if missing.
func Open(path string) (*KeyStore, error) {
	ks := &KeyStore{path: path}

	if _, err := os.Stat(path); err == nil {
		if err := ks.load(nil); err != nil {
			return nil, err
		}
		return ks, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("keystore: stat %s: %w", path, err)
	}

	if err := ks.generateAndPersist(nil); err != nil {
		return nil, err
	}
	return ks, nil
}

// OpenProtected is Open, but the private key on disk is sealed with
// passphrase via AES-256-GCM keyed by an Argon2id-derived key.
func OpenProtected(path string, passphrase []byte) (*KeyStore, error) {
	ks := &KeyStore{path: path}

	if _, err := os.Stat(path); err == nil {
		if err := ks.load(passphrase); err != nil {
			return nil, err
		}
		return ks, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("keystore: stat %s: %w", path, err)
	}

	if err := ks.generateAndPersist(passphrase); err != nil {
		return nil, err
	}
	return ks, nil
}

func (ks *KeyStore) generateAndPersist(passphrase []byte) error {
	key, err := rsa.GenerateKey(rand.Reader, DefaultKeyBits)
	if err != nil {
		return fmt.Errorf("keystore: generate key: %w", err)
	}
	ks.private = key

	if err := os.MkdirAll(filepath.Dir(ks.path), 0o700); err != nil {
		return fmt.Errorf("keystore: create key directory: %w", err)
	}

	der := x509.MarshalPKCS1PrivateKey(key)
	var block *pem.Block
	if len(passphrase) > 0 {
		sealed, err := sealPrivateKey(der, passphrase)
		if err != nil {
			return err
		}
		block = &pem.Block{Type: "EWSAFE SEALED PRIVATE KEY", Bytes: sealed}
	} else {
		block = &pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}
	}

	f, err := os.OpenFile(ks.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600) // #nosec G304 -- caller-provided user-data key path
	if err != nil {
		return fmt.Errorf("keystore: create %s: %w", ks.path, err)
	}
	defer func() { _ = f.Close() }()

	if err := pem.Encode(f, block); err != nil {
		return fmt.Errorf("keystore: write key: %w", err)
	}
	return nil
}

func (ks *KeyStore) load(passphrase []byte) error {
	raw, err := os.ReadFile(ks.path) // #nosec G304 -- caller-provided user-data key path
	if err != nil {
		return fmt.Errorf("keystore: read %s: %w", ks.path, err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return fmt.Errorf("keystore: %s is not a valid PEM file", ks.path)
	}

	var der []byte
	switch block.Type {
	case "RSA PRIVATE KEY":
		der = block.Bytes
	case "EWSAFE SEALED PRIVATE KEY":
		if len(passphrase) == 0 {
			return fmt.Errorf("keystore: %s is passphrase-protected", ks.path)
		}
		der, err = unsealPrivateKey(block.Bytes, passphrase)
		if err != nil {
			return fmt.Errorf("keystore: unseal key: %w", err)
		}
	default:
		return fmt.Errorf("keystore: unrecognized PEM block type %q", block.Type)
	}

	key, err := x509.ParsePKCS1PrivateKey(der)
	if err != nil {
		return fmt.Errorf("keystore: parse key: %w", err)
	}
	ks.private = key
	return nil
}

// PrivateKey returns the loaded or newly generated signing key.
func (ks *KeyStore) PrivateKey() *rsa.PrivateKey {
	return ks.private
}

// PublicKey returns the signing key's public half.
func (ks *KeyStore) PublicKey() *rsa.PublicKey {
	return &ks.private.PublicKey
}

// Fingerprint is SHA256(DER(public_key)), embedded in every
// certificate. Stable across runs since the key itself is stable.
func (ks *KeyStore) Fingerprint() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(ks.PublicKey())
	if err != nil {
		return "", fmt.Errorf("keystore: marshal public key: %w", err)
	}
	sum := sha256.Sum256(der)
	return fmt.Sprintf("%x", sum), nil
}

// KeySize returns the modulus size in bits, for the certificate's
// security.key_size field.
func (ks *KeyStore) KeySize() int {
	return ks.private.N.BitLen()
}
