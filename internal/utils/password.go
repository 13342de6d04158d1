package utils

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// MaxPasswordBytes is the longest password bcrypt hashes without
// truncation.
const MaxPasswordBytes = 72

var ErrPasswordTooLong = errors.New("password too long")

// HashPassword returns a bcrypt hash.  Costs outside bcrypt's range are
// clamped.
func HashPassword(plain string, cost int) (string, error) {
	if len(plain) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}
	cost = min(max(cost, bcrypt.MinCost), bcrypt.MaxCost)
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyPassword reports whether plain matches hash.
func VerifyPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
