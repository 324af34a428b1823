package auth

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/threadboard/internal/model"
)

// =========================================================================
// Hash TESTS
// =========================================================================

func TestHash_ProducesTaggedArgon2idDigest(t *testing.T) {
	ps := NewPasswordServiceForTest()

	digest, algorithm, err := ps.Hash("my-secret-password")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if algorithm != model.DigestArgon2id {
		t.Errorf("Hash() algorithm = %q, want %q", algorithm, model.DigestArgon2id)
	}
	if !strings.HasPrefix(digest, "$argon2id$v=19$m=64,t=1,p=1$") {
		t.Errorf("Hash() digest does not look like a PHC argon2id string: %q", digest)
	}
}

func TestHash_SamePasswordProducesDifferentDigests(t *testing.T) {
	ps := NewPasswordServiceForTest()

	d1, _, _ := ps.Hash("same-password")
	d2, _, _ := ps.Hash("same-password")

	if d1 == d2 {
		t.Error("Hash() produced identical digests for the same password (salt must be random)")
	}
}

func TestHash_RejectsPasswordOver72Bytes(t *testing.T) {
	ps := NewPasswordServiceForTest()

	if _, _, err := ps.Hash(strings.Repeat("a", 73)); err == nil {
		t.Fatal("Hash() should return an error for passwords longer than 72 bytes")
	}
	if _, _, err := ps.Hash(strings.Repeat("a", 72)); err != nil {
		t.Fatalf("Hash() should accept a 72-byte password, got error: %v", err)
	}
}

// =========================================================================
// Verify TESTS
// =========================================================================

func TestVerify_Argon2id(t *testing.T) {
	ps := NewPasswordServiceForTest()

	digest, algorithm, err := ps.Hash("correct-horse-battery-staple")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	if err := ps.Verify(digest, algorithm, "correct-horse-battery-staple"); err != nil {
		t.Errorf("Verify() should return nil for a correct password, got: %v", err)
	}
	if err := ps.Verify(digest, algorithm, "wrong"); !errors.Is(err, ErrPasswordMismatch) {
		t.Errorf("Verify() wrong password error = %v, want ErrPasswordMismatch", err)
	}
	if err := ps.Verify(digest, algorithm, ""); !errors.Is(err, ErrPasswordMismatch) {
		t.Errorf("Verify() empty password error = %v, want ErrPasswordMismatch", err)
	}
}

func TestVerify_DigestFromOtherParamsStillVerifies(t *testing.T) {
	// a digest written with the production parameters must verify no
	// matter which parameters the verifying service was built with
	digest, algorithm, err := NewPasswordService().Hash("hunter22")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	if err := NewPasswordServiceForTest().Verify(digest, algorithm, "hunter22"); err != nil {
		t.Errorf("Verify() error = %v", err)
	}
}

func TestVerify_Bcrypt(t *testing.T) {
	ps := NewPasswordServiceForTest()

	hashed, err := bcrypt.GenerateFromPassword([]byte("legacy-password"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	if err := ps.Verify(string(hashed), model.DigestBcrypt, "legacy-password"); err != nil {
		t.Errorf("Verify() bcrypt correct password error = %v", err)
	}
	if err := ps.Verify(string(hashed), model.DigestBcrypt, "nope"); !errors.Is(err, ErrPasswordMismatch) {
		t.Errorf("Verify() bcrypt wrong password error = %v, want ErrPasswordMismatch", err)
	}
}

func TestVerify_MalformedDigests(t *testing.T) {
	ps := NewPasswordServiceForTest()

	tests := []struct {
		name      string
		digest    string
		algorithm string
	}{
		{"unknown algorithm", "whatever", "md5"},
		{"too few segments", "$argon2id$v=19$m=64,t=1,p=1$c2FsdA", model.DigestArgon2id},
		{"wrong version", "$argon2id$v=16$m=64,t=1,p=1$c2FsdHNhbHQ$a2V5", model.DigestArgon2id},
		{"bad params", "$argon2id$v=19$memory$c2FsdHNhbHQ$a2V5", model.DigestArgon2id},
		{"bad base64", "$argon2id$v=19$m=64,t=1,p=1$!!!$a2V5", model.DigestArgon2id},
		{"not bcrypt", "plain", model.DigestBcrypt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ps.Verify(tt.digest, tt.algorithm, "pw")
			if err == nil {
				t.Fatal("Verify() should fail for a malformed digest")
			}
			if errors.Is(err, ErrPasswordMismatch) {
				t.Errorf("Verify() reported a mismatch for a malformed digest: %v", err)
			}
		})
	}
}
