// Package password produces and checks salted credentials.
//
// The salted input is pre-hashed with SHA-256 before bcrypt so that long
// passwords are not silently truncated at bcrypt's 72 byte limit. Accounts
// migrated from the JSON files keep their bare hex SHA-256 digest until the
// next successful login upgrades them.
package password

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Cost is the bcrypt work factor.
var Cost = bcrypt.DefaultCost

// Credential is the persisted credential material for one account.
type Credential struct {
	Salt string
	Hash string
}

// Hash derives a credential for plain using a freshly generated salt.
func Hash(plain string) (Credential, error) {
	salt := strings.ReplaceAll(uuid.NewString(), "-", "")
	return HashWithSalt(plain, salt)
}

// HashWithSalt derives a credential for plain using the given salt.
func HashWithSalt(plain, salt string) (Credential, error) {
	hash, err := bcrypt.GenerateFromPassword(salted(plain, salt), Cost)
	if err != nil {
		return Credential{}, err
	}
	return Credential{Salt: salt, Hash: string(hash)}, nil
}

// Verify reports whether plain matches the stored salt and hash. Both bcrypt
// hashes and legacy hex(sha256(salt+plain)) digests are accepted.
func Verify(plain, salt, hash string) bool {
	if IsLegacy(hash) {
		return subtle.ConstantTimeCompare(salted(plain, salt), []byte(strings.ToLower(hash))) == 1
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), salted(plain, salt)) == nil
}

// IsLegacy reports whether hash is a bare SHA-256 hex digest rather than bcrypt.
func IsLegacy(hash string) bool {
	if len(hash) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil
}

func salted(plain, salt string) []byte {
	sum := sha256.Sum256([]byte(salt + plain))
	return []byte(hex.EncodeToString(sum[:]))
}
