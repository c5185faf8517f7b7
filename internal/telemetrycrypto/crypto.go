// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package telemetrycrypto seals a record's plaintext to a fixed
// recipient public key using an ephemeral X25519 key agreement and
// AES-256-GCM. The recipient is the only party who can ever decrypt a
// record; the device holds no private key capable of decrypting its own
// past output.
package telemetrycrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/curve25519"

	"github.com/equalitie/ouinet-telemetry/internal/errors"
)

const (
	// KeySize is the length in bytes of an X25519 public or private key.
	KeySize = 32
	// tagSize is the length in bytes of the AES-GCM authentication tag.
	tagSize = 16
)

// RecipientKey is the 32-byte X25519 public key records are sealed to.
type RecipientKey [KeySize]byte

// ParseRecipientKey validates that raw is exactly KeySize bytes.
func ParseRecipientKey(raw []byte) (RecipientKey, error) {
	var k RecipientKey
	if len(raw) != KeySize {
		return k, errors.Errorf(errors.KindValidation, "recipient key must be %d bytes, got %d", KeySize, len(raw))
	}
	copy(k[:], raw)
	return k, nil
}

// Seal encrypts plaintext to recipient, returning the wire format:
//
//	[32-byte ephemeral pubkey][ciphertext][16-byte GCM tag]
//
// A fresh ephemeral keypair is generated for every call, so the nonce is
// fixed at all-zero: key reuse, the one condition that would make a
// zero nonce unsafe, cannot happen.
func Seal(recipient RecipientKey, plaintext []byte) ([]byte, error) {
	ephPriv := make([]byte, KeySize)
	if _, err := rand.Read(ephPriv); err != nil {
		return nil, errors.Wrap(err, errors.KindEncryption, "generate ephemeral key")
	}

	ephPub, err := curve25519.X25519(ephPriv, curve25519.Basepoint)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindEncryption, "derive ephemeral public key")
	}

	shared, err := curve25519.X25519(ephPriv, recipient[:])
	if err != nil {
		return nil, errors.Wrap(err, errors.KindEncryption, "compute shared secret")
	}

	aead, err := newAEAD(shared)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	sealed := aead.Seal(nil, nonce, plaintext, nil)

	out := make([]byte, 0, KeySize+len(sealed))
	out = append(out, ephPub...)
	out = append(out, sealed...)
	return out, nil
}

// Open decrypts a wire-format blob produced by Seal, given the
// recipient's corresponding private key. Used by tests and decryption
// tooling; the device-side code (including the reference uploader and
// its server) never calls Open.
func Open(recipientPriv [KeySize]byte, blob []byte) ([]byte, error) {
	if len(blob) < KeySize+tagSize {
		return nil, errors.Errorf(errors.KindCorrupt, "blob too short: %d bytes", len(blob))
	}
	ephPub := blob[:KeySize]
	sealed := blob[KeySize:]

	shared, err := curve25519.X25519(recipientPriv[:], ephPub)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindEncryption, "compute shared secret")
	}

	aead, err := newAEAD(shared)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindEncryption, "authentication failed")
	}
	return plaintext, nil
}

func newAEAD(sharedSecret []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(sharedSecret)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindEncryption, "construct AES cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindEncryption, "construct GCM mode")
	}
	return aead, nil
}

// GenerateRecipientKeypair is a convenience for operators provisioning a
// new collection endpoint; not used by the device-side core.
func GenerateRecipientKeypair() (pub RecipientKey, priv [KeySize]byte, err error) {
	if _, err = rand.Read(priv[:]); err != nil {
		return pub, priv, fmt.Errorf("generate private key: %w", err)
	}
	pubBytes, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return pub, priv, fmt.Errorf("derive public key: %w", err)
	}
	copy(pub[:], pubBytes)
	return pub, priv, nil
}
