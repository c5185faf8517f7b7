// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package telemetrycrypto

import (
	"bytes"
	"testing"
)

func TestSealOpen_RoundTrip(t *testing.T) {
	pub, priv, err := GenerateRecipientKeypair()
	if err != nil {
		t.Fatal(err)
	}

	plaintext := []byte(`{"os":"linux","interval":"2026:02:1:14"}`)
	blob, err := Seal(pub, plaintext)
	if err != nil {
		t.Fatal(err)
	}

	got, err := Open(priv, blob)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("decrypted %q, want %q", got, plaintext)
	}
}

func TestSeal_ProducesDistinctBlobsForSamePlaintext(t *testing.T) {
	pub, _, err := GenerateRecipientKeypair()
	if err != nil {
		t.Fatal(err)
	}
	plaintext := []byte("identical payload")

	a, err := Seal(pub, plaintext)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Seal(pub, plaintext)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a, b) {
		t.Error("two seals of the same plaintext must differ (fresh ephemeral key each time)")
	}
}

func TestSeal_WireFormatLength(t *testing.T) {
	pub, _, err := GenerateRecipientKeypair()
	if err != nil {
		t.Fatal(err)
	}
	plaintext := []byte("hello")
	blob, err := Seal(pub, plaintext)
	if err != nil {
		t.Fatal(err)
	}
	want := KeySize + len(plaintext) + tagSize
	if len(blob) != want {
		t.Errorf("blob length = %d, want %d", len(blob), want)
	}
}

func TestOpen_WrongRecipientFails(t *testing.T) {
	pub, _, err := GenerateRecipientKeypair()
	if err != nil {
		t.Fatal(err)
	}
	_, otherPriv, err := GenerateRecipientKeypair()
	if err != nil {
		t.Fatal(err)
	}

	blob, err := Seal(pub, []byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Open(otherPriv, blob); err == nil {
		t.Error("expected decryption to fail with the wrong private key")
	}
}

func TestOpen_TruncatedBlobRejected(t *testing.T) {
	if _, err := Open([KeySize]byte{}, []byte("short")); err == nil {
		t.Error("expected error for a too-short blob")
	}
}

func TestParseRecipientKey_WrongLengthRejected(t *testing.T) {
	if _, err := ParseRecipientKey([]byte("too short")); err == nil {
		t.Error("expected error for a malformed recipient key")
	}
}
