package crypto

import (
	"bytes"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	salt, err := NewSalt()
	if err != nil {
		t.Fatal(err)
	}
	c := Derive([]byte("correct horse battery staple"), salt)

	sealed, err := c.Seal([]byte("a secret share"))
	if err != nil {
		t.Fatal(err)
	}
	plain, err := c.Open(sealed)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(plain, []byte("a secret share")) {
		t.Fatalf("round trip mismatch: %q", plain)
	}
}

func TestOpenFailsOnWrongPassword(t *testing.T) {
	salt, err := NewSalt()
	if err != nil {
		t.Fatal(err)
	}
	c1 := Derive([]byte("password1"), salt)
	c2 := Derive([]byte("password2"), salt)

	sealed, err := c1.Seal([]byte("payload"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c2.Open(sealed); err == nil {
		t.Fatal("expected wrong-password open to fail")
	}
}

func TestSensitiveRoundTripAndZeroOnClose(t *testing.T) {
	salt, _ := NewSalt()
	c := Derive([]byte("pw"), salt)

	type secret struct{ Bytes []byte }
	s, err := NewSensitive(c, secret{Bytes: []byte("shhh")})
	if err != nil {
		t.Fatal(err)
	}

	view, err := s.Access()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(view.Value().Bytes, []byte("shhh")) {
		t.Fatalf("unexpected decrypted value: %+v", view.Value())
	}
	raw := view.raw
	view.Close()
	for _, b := range raw {
		if b != 0 {
			t.Fatal("backing buffer not zeroed after Close")
		}
	}
}

func TestSensitiveCloneSharesCiphertextNotLifetime(t *testing.T) {
	salt, _ := NewSalt()
	c := Derive([]byte("pw"), salt)

	s, err := NewSensitive(c, "value")
	if err != nil {
		t.Fatal(err)
	}
	clone := s.Clone()
	s.Destroy()

	view, err := clone.Access()
	if err != nil {
		t.Fatal(err)
	}
	defer view.Close()
	if view.Value() != "value" {
		t.Fatalf("clone lost its value: %q", view.Value())
	}
}

func TestVerifyTestVectorDetectsWrongPassword(t *testing.T) {
	salt, _ := NewSalt()
	c := Derive([]byte("right"), salt)
	vector := []byte("enclave-test-vector")
	sealed, err := c.Seal(vector)
	if err != nil {
		t.Fatal(err)
	}

	if err := VerifyTestVector([]byte("right"), salt, sealed, vector); err != nil {
		t.Fatalf("correct password rejected: %v", err)
	}
	if err := VerifyTestVector([]byte("wrong"), salt, sealed, vector); err == nil {
		t.Fatal("wrong password accepted")
	}
}
