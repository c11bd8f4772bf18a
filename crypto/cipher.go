// Copyright (C) 2024-2026, Enclave Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package crypto provides the node's password-derived symmetric cipher
// and the Sensitive[T] in-memory container built on top of it, per
// SPEC_FULL.md §4.2.
package crypto

import (
	"crypto/aes"
	gcipher "crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

const (
	argon2Time    = 3
	argon2MemoryKiB = 64 * 1024 // 64 MiB
	argon2Threads = 1
	keySize       = 32 // AES-256
	saltSize      = 16
	nonceSize     = 12 // 96-bit GCM nonce
)

// ErrWrongPassword is returned by Open (directly, or via VerifyTestVector's
// check) when the derived key cannot authenticate existing
// ciphertext.
var ErrWrongPassword = errors.New("crypto: wrong password or corrupted data key")

// Salt is the per-install salt persisted beside the key file at
// cipher/salt (see SPEC_FULL.md §6 persisted key namespaces).
type Salt [saltSize]byte

// NewSalt generates a fresh random installation salt.
func NewSalt() (Salt, error) {
	var s Salt
	if _, err := io.ReadFull(rand.Reader, s[:]); err != nil {
		return Salt{}, fmt.Errorf("crypto: generate salt: %w", err)
	}
	return s, nil
}

// Cipher is an authenticated AES-256-GCM cipher whose key is derived from
// a user password via Argon2id. It is cheap to clone: the key itself is
// the only state, held in one allocation for the lifetime of the
// process.
type Cipher struct {
	key [keySize]byte
}

// Derive runs Argon2id over password and salt with the fixed parameters
// from SPEC_FULL.md §4.2 (64 MiB memory, time cost 3, parallelism 1).
func Derive(password []byte, salt Salt) *Cipher {
	c := &Cipher{}
	key := argon2.IDKey(password, salt[:], argon2Time, argon2MemoryKiB, argon2Threads, keySize)
	copy(c.key[:], key)
	Zero(key)
	return c
}

// Seal encrypts plaintext, returning a single buffer of nonce||ciphertext||tag.
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: new aes cipher: %w", err)
	}
	gcm, err := gcipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: new gcm: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("crypto: generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a buffer produced by Seal.
func (c *Cipher) Open(sealed []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: new aes cipher: %w", err)
	}
	gcm, err := gcipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: new gcm: %w", err)
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, ErrWrongPassword
	}
	nonce, ct := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, ErrWrongPassword
	}
	return plaintext, nil
}

// VerifyTestVector checks a password against a previously-sealed known
// plaintext, the mechanism by which node startup distinguishes a wrong
// password from a fresh install (§7 Authentication error class).
func VerifyTestVector(password []byte, salt Salt, sealed []byte, want []byte) error {
	c := Derive(password, salt)
	got, err := c.Open(sealed)
	if err != nil {
		return ErrWrongPassword
	}
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return ErrWrongPassword
	}
	return nil
}

// Zero overwrites a byte slice with zeros in place. Used both by Cipher
// internals and by Sensitive[T]'s scoped-access zeroization.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
