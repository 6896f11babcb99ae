package authcore

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidSecretLength indicates a non-positive length was requested for a random secret.
var ErrInvalidSecretLength = errors.New("hasher.invalid_secret_length")

const randomSecretAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// HashPassword produces a bcrypt hash of the supplied password.
func HashPassword(password string) (string, error) {
	hashed, hashErr := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if hashErr != nil {
		return "", fmt.Errorf("hasher.hash: %w", hashErr)
	}
	return string(hashed), nil
}

// VerifyPassword reports whether the password matches the stored hash.
// A malformed hash is treated as a mismatch, never an error.
func VerifyPassword(password string, hashedPassword string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)) == nil
}

// GenerateRandomSecret returns a cryptographically random string of the given
// length drawn from letters, digits, and punctuation. It backs the placeholder
// credential for accounts created through OAuth, which have no usable password.
func GenerateRandomSecret(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("hasher.random_secret: %w", ErrInvalidSecretLength)
	}
	alphabetSize := big.NewInt(int64(len(randomSecretAlphabet)))
	secret := make([]byte, length)
	for position := range secret {
		index, randomErr := rand.Int(rand.Reader, alphabetSize)
		if randomErr != nil {
			return "", fmt.Errorf("hasher.random_secret: %w", randomErr)
		}
		secret[position] = randomSecretAlphabet[index.Int64()]
	}
	return string(secret), nil
}
