package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// CartTokenLength is the length of every minted cart token.
const CartTokenLength = 32

// NewCartToken returns a 32-character random hex token. uuid v4 draws from crypto/rand.
func NewCartToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// IsCartToken reports whether value has the shape of a minted token.
func IsCartToken(value string) bool {
	if len(value) != CartTokenLength {
		return false
	}
	_, err := hex.DecodeString(value)
	return err == nil
}

// RestoreKey is the hex HMAC-SHA256 of token under secret.
func RestoreKey(token, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyRestoreKey compares key against the expected HMAC in constant time.
func VerifyRestoreKey(token, key, secret string) bool {
	if token == "" || key == "" || secret == "" {
		return false
	}
	expected := RestoreKey(token, secret)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(key)))
}
