package user

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/go-faster/errors"
	"golang.org/x/crypto/bcrypt"
)

// Passwords hashes and verifies user passwords.
//
// New hashes are bcrypt. Accounts imported from the previous system carry an
// unsalted SHA-256 hex digest; those still verify and are reported as legacy
// so the caller can rehash them.
type Passwords struct {
	cost  int
	dummy []byte
}

// NewPasswords creates a Passwords with the given bcrypt cost. Zero means
// bcrypt.DefaultCost.
func NewPasswords(cost int) (*Passwords, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("wash-and-go"), cost)
	if err != nil {
		return nil, errors.Wrap(err, "generate dummy hash")
	}
	return &Passwords{cost: cost, dummy: dummy}, nil
}

// Hash returns a bcrypt hash of the password.
func (p *Passwords) Hash(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return "", errors.Wrap(err, "bcrypt")
	}
	return string(h), nil
}

// Verify reports whether password matches the stored hash and whether the
// stored hash is a legacy digest.
func (p *Passwords) Verify(stored, password string) (ok, legacy bool) {
	if isLegacyDigest(stored) {
		sum := sha256.Sum256([]byte(password))
		want, err := hex.DecodeString(stored)
		if err != nil {
			return false, true
		}
		return subtle.ConstantTimeCompare(sum[:], want) == 1, true
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil, false
}

// Burn performs a bcrypt comparison against a fixed hash so that unknown
// usernames take as long as known ones.
func (p *Passwords) Burn(password string) {
	_ = bcrypt.CompareHashAndPassword(p.dummy, []byte(password))
}

func isLegacyDigest(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	for i := range len(s) {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
