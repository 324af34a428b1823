// Package model defines the data structures used throughout the application.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Digest algorithm tags stored next to a password digest.
// The tag tells the verifier which scheme produced the digest, so old
// digests keep verifying after the default changes.
const (
	DigestArgon2id = "argon2id"
	DigestBcrypt   = "bcrypt"
)

// User represents a registered account.
//
// Username is the display form exactly as typed at registration.
// UsernameNormal is the case-folded form; it is the uniqueness key and the
// lookup key for login. Two accounts can never share a UsernameNormal.
type User struct {
	ID              int64   `json:"id,string" db:"id"`
	Username        string  `json:"username" db:"username"`
	UsernameNormal  string  `json:"-" db:"username_normal"`
	Email           *string `json:"-" db:"email"`
	PasswordDigest  string  `json:"-" db:"password_digest"`
	DigestAlgorithm string  `json:"-" db:"digest_algorithm"`
}

// UserSession binds an opaque token to a user.
//
// LastSeenAt is refreshed in the background on every authenticated request,
// so it may lag behind the most recent request by a little.
type UserSession struct {
	ID         uuid.UUID `json:"id"`
	UserID     int64     `json:"userId,string"`
	CreatedAt  time.Time `json:"createdAt"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}
