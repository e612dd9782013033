package auth

import (
	"crypto/rand"
	"encoding/base64"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Issued keys look like rgk_<credential id>.<secret>. The id selects the
// one row to verify against; only a bcrypt hash of the secret is stored.
const (
	keyPrefix    = "rgk_"
	keySeparator = "."
	secretBytes  = 32
)

// generateKey returns a new credential id, its secret and the plaintext key
// handed to the caller.
func generateKey() (id, secret, plaintext string, err error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", "", err
	}
	id = uuid.NewString()
	secret = base64.RawURLEncoding.EncodeToString(buf)
	return id, secret, keyPrefix + id + keySeparator + secret, nil
}

// parseKey splits a presented key. ok is false for anything not in the
// issued format.
func parseKey(key string) (id, secret string, ok bool) {
	rest, found := strings.CutPrefix(key, keyPrefix)
	if !found {
		return "", "", false
	}
	id, secret, found = strings.Cut(rest, keySeparator)
	if !found || secret == "" {
		return "", "", false
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", "", false
	}
	return id, secret, true
}

func hashSecret(secret string, cost int) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func verifySecret(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}
