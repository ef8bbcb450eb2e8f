// Package passwd hashes and checks account passwords with bcrypt.
package passwd

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultCost = 12
	MinLen      = 6
	MaxLen      = 72 // bcrypt input limit
)

var (
	ErrTooShort = errors.New("password must be at least 6 characters")
	ErrTooLong  = errors.New("password exceeds 72 bytes and would be truncated by bcrypt")
)

// Hasher hashes passwords at a fixed bcrypt cost.
type Hasher struct {
	cost int
}

// NewHasher returns a Hasher using cost, clamped to the range bcrypt accepts.
// Zero selects DefaultCost.
func NewHasher(cost int) Hasher {
	switch {
	case cost == 0:
		cost = DefaultCost
	case cost < bcrypt.MinCost:
		cost = bcrypt.MinCost
	case cost > bcrypt.MaxCost:
		cost = bcrypt.MaxCost
	}
	return Hasher{cost: cost}
}

// Cost returns the bcrypt cost new hashes are made with.
func (h Hasher) Cost() int {
	if h.cost == 0 {
		return DefaultCost
	}
	return h.cost
}

// Hash validates password and returns its bcrypt hash.
func (h Hasher) Hash(password string) (string, error) {
	if err := Validate(password); err != nil {
		return "", err
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.Cost())
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Validate checks the length rules enforced at sign-up and password reset.
func Validate(password string) error {
	switch {
	case len(password) < MinLen:
		return ErrTooShort
	case len(password) > MaxLen:
		return ErrTooLong
	}
	return nil
}

// Check reports whether password matches the stored bcrypt hash.
func Check(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
