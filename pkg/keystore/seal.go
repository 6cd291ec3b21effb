// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for deriving the private-key-sealing key from a
// passphrase. Fixed rather than user-tunable since the key file has a
// single owner and no negotiated header.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
	argonKeyLen  = 32 // AES-256
	saltLen      = 16
)

// sealPrivateKey encrypts der with a key derived from passphrase via
// Argon2id, returning salt || nonce || ciphertext.
func sealPrivateKey(der, passphrase []byte) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("keystore: generate salt: %w", err)
	}

	key := argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	defer clear(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("keystore: generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, der, nil)

	out := make([]byte, 0, len(salt)+len(nonce)+len(ciphertext))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

// unsealPrivateKey reverses sealPrivateKey.
func unsealPrivateKey(sealed, passphrase []byte) ([]byte, error) {
	if len(sealed) < saltLen {
		return nil, fmt.Errorf("keystore: sealed key too short")
	}
	salt := sealed[:saltLen]
	rest := sealed[saltLen:]

	key := argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	defer clear(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(rest) < gcm.NonceSize() {
		return nil, fmt.Errorf("keystore: sealed key too short")
	}
	nonce := rest[:gcm.NonceSize()]
	ciphertext := rest[gcm.NonceSize():]

	der, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("keystore: incorrect passphrase or corrupted key file")
	}
	return der, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("keystore: init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("keystore: init GCM: %w", err)
	}
	return gcm, nil
}

func clear(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
