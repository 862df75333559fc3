package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltBytes       = 32
	hashBytes       = 32
	pbkdf2Iters     = 100000
	saltHexLength   = saltBytes * 2
	storedHexLength = saltHexLength + hashBytes*2
)

// HashPassword derives a PBKDF2-SHA256 hash with a random salt. The stored
// form is the hex salt followed by the hex digest.
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	saltHex := hex.EncodeToString(salt)
	digest := pbkdf2.Key([]byte(password), []byte(saltHex), pbkdf2Iters, hashBytes, sha256.New)
	return saltHex + hex.EncodeToString(digest), nil
}

// VerifyPassword checks a password against a stored hash produced by
// HashPassword.
func VerifyPassword(stored, password string) bool {
	if len(stored) != storedHexLength {
		return false
	}

	saltHex := stored[:saltHexLength]
	digest := pbkdf2.Key([]byte(password), []byte(saltHex), pbkdf2Iters, hashBytes, sha256.New)
	return subtle.ConstantTimeCompare([]byte(hex.EncodeToString(digest)), []byte(stored[saltHexLength:])) == 1
}
