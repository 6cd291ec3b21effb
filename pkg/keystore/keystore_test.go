// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package keystore

import (
	"path/filepath"
	"testing"
)

func TestOpen_CreatesOnFirstUse(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keys", "signing.pem")

	ks, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if ks.PrivateKey() == nil {
		t.Fatalf("private key not generated")
	}
	if ks.KeySize() != DefaultKeyBits {
		t.Fatalf("key size = %d, want %d", ks.KeySize(), DefaultKeyBits)
	}
}

func TestOpen_FingerprintStableAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "signing.pem")

	first, err := Open(path)
	if err != nil {
		t.Fatalf("Open (first): %v", err)
	}
	fp1, err := first.Fingerprint()
	if err != nil {
		t.Fatalf("Fingerprint (first): %v", err)
	}

	second, err := Open(path)
	if err != nil {
		t.Fatalf("Open (second): %v", err)
	}
	fp2, err := second.Fingerprint()
	if err != nil {
		t.Fatalf("Fingerprint (second): %v", err)
	}

	if fp1 != fp2 {
		t.Fatalf("fingerprint changed across reopen: %s != %s", fp1, fp2)
	}
}

func TestOpenProtected_RequiresCorrectPassphrase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "signing.pem")

	if _, err := OpenProtected(path, []byte("correct horse battery staple")); err != nil {
		t.Fatalf("OpenProtected (create): %v", err)
	}

	if _, err := OpenProtected(path, []byte("wrong passphrase")); err == nil {
		t.Fatalf("OpenProtected with wrong passphrase succeeded, want error")
	}

	ks, err := OpenProtected(path, []byte("correct horse battery staple"))
	if err != nil {
		t.Fatalf("OpenProtected (reload with correct passphrase): %v", err)
	}
	if ks.PrivateKey() == nil {
		t.Fatalf("private key not loaded")
	}
}

func TestOpenProtected_RejectsNoPassphraseOnSealedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "signing.pem")

	if _, err := OpenProtected(path, []byte("secret")); err != nil {
		t.Fatalf("OpenProtected (create): %v", err)
	}
	if _, err := Open(path); err == nil {
		t.Fatalf("Open on a passphrase-sealed key file succeeded, want error")
	}
}
