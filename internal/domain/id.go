// Package domain id.go derives and validates content-addressed blob IDs.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// BlobID is a content-addressed identifier: "blob-" followed by the
// lowercase hex SHA-256 of the blob's bytes.
type BlobID string

const blobIDPrefix = "blob-"

// NewBlobID derives the canonical BlobID for content. Two calls with
// identical content always return the same ID.
func NewBlobID(content []byte) BlobID {
	sum := sha256.Sum256(content)
	return BlobID(blobIDPrefix + hex.EncodeToString(sum[:]))
}

// Checksum returns the lowercase hex SHA-256 this ID was derived from.
func (id BlobID) Checksum() string { return strings.TrimPrefix(string(id), blobIDPrefix) }

// String returns the string form of the BlobID.
func (id BlobID) String() string { return string(id) }

// ParseBlobID validates s and returns it as a BlobID. It enforces the
// "blob-" prefix followed by exactly 64 lowercase hex characters.
func ParseBlobID(s string) (BlobID, error) {
	if !isValidBlobID(s) {
		return "", NewError(CodeInvalidArgument, "invalid blob id")
	}
	return BlobID(s), nil
}

// Valid reports whether id satisfies the same rules as ParseBlobID.
func (id BlobID) Valid() bool { return isValidBlobID(string(id)) }

// isValidBlobID performs validation without allocating errors.
func isValidBlobID(s string) bool {
	if !strings.HasPrefix(s, blobIDPrefix) {
		return false
	}
	hexPart := s[len(blobIDPrefix):]
	if len(hexPart) != 64 {
		return false
	}
	for i := 0; i < len(hexPart); i++ {
		c := hexPart[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return true
}

// VerifyChecksum reports whether content hashes to the checksum recorded in
// id, and returns the actual computed checksum for diagnostics either way.
func VerifyChecksum(id BlobID, content []byte) (actual string, ok bool) {
	sum := sha256.Sum256(content)
	actual = hex.EncodeToString(sum[:])
	return actual, actual == id.Checksum()
}
