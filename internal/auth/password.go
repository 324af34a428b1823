// Password digests.
//
// New digests are argon2id, encoded in the PHC string format:
//
//	$argon2id$v=19$m=19456,t=2,p=1$<base64 salt>$<base64 key>
//	          ^    ^       ^   ^
//	          |    |       |   parallelism
//	          |    |       iterations
//	          |    memory in KiB
//	          argon2 version
//
// Every user row stores the algorithm tag next to the digest. Verify picks
// the scheme from the tag, so accounts carried over with bcrypt digests
// keep working.

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/threadboard/internal/model"
)

// ErrPasswordMismatch is returned by Verify for a wrong password.
var ErrPasswordMismatch = errors.New("auth: invalid password")

// MaxPasswordBytes caps input length. bcrypt silently truncates past 72
// bytes; argon2 would accept more but both schemes share one limit.
const MaxPasswordBytes = 72

// Argon2Params are the argon2id cost parameters.
type Argon2Params struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Params are the OWASP minimums for argon2id.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:      19 * 1024,
		Iterations:  2,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// PasswordService hashes and verifies password digests.
// It is built once at startup and shared by every request.
type PasswordService struct {
	params Argon2Params
}

// NewPasswordService creates a PasswordService with DefaultArgon2Params.
func NewPasswordService() *PasswordService {
	return &PasswordService{params: DefaultArgon2Params()}
}

// NewPasswordServiceForTest creates a PasswordService with the cheapest
// argon2 settings. Use it in tests in other packages to keep hashing fast.
//
// Do NOT use in production.
func NewPasswordServiceForTest() *PasswordService {
	return &PasswordService{params: Argon2Params{
		Memory:      64,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}}
}

// Hash derives a digest for plaintext. It returns the digest and the
// algorithm tag to store with it.
func (p *PasswordService) Hash(plaintext string) (digest, algorithm string, err error) {
	if len(plaintext) > MaxPasswordBytes {
		return "", "", fmt.Errorf("auth: password must be %d bytes or fewer", MaxPasswordBytes)
	}

	salt := make([]byte, p.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", "", fmt.Errorf("auth: generating salt: %w", err)
	}

	key := argon2.IDKey([]byte(plaintext), salt, p.params.Iterations, p.params.Memory, p.params.Parallelism, p.params.KeyLength)

	digest = fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		p.params.Memory,
		p.params.Iterations,
		p.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)
	return digest, model.DigestArgon2id, nil
}

// Verify checks plaintext against a stored digest.
//
// Returns nil on a match and ErrPasswordMismatch on a wrong password. Any
// other error means the stored digest itself is unusable.
func (p *PasswordService) Verify(digest, algorithm, plaintext string) error {
	switch algorithm {
	case model.DigestArgon2id:
		return verifyArgon2id(digest, plaintext)
	case model.DigestBcrypt:
		err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext))
		if err != nil {
			if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
				return ErrPasswordMismatch
			}
			return fmt.Errorf("auth: comparing bcrypt digest: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("auth: unknown digest algorithm %q", algorithm)
	}
}

func verifyArgon2id(digest, plaintext string) error {
	parts := strings.Split(digest, "$")
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, key
	if len(parts) != 6 || parts[1] != "argon2id" {
		return fmt.Errorf("auth: malformed argon2id digest")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return fmt.Errorf("auth: parsing argon2id version: %w", err)
	}
	if version != argon2.Version {
		return fmt.Errorf("auth: unsupported argon2 version %d", version)
	}

	var params Argon2Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.Memory, &params.Iterations, &params.Parallelism); err != nil {
		return fmt.Errorf("auth: parsing argon2id params: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return fmt.Errorf("auth: decoding argon2id salt: %w", err)
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return fmt.Errorf("auth: decoding argon2id key: %w", err)
	}

	got := argon2.IDKey([]byte(plaintext), salt, params.Iterations, params.Memory, params.Parallelism, uint32(len(want)))
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return ErrPasswordMismatch
	}
	return nil
}
