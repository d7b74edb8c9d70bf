package util

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// SHA256Hex returns the lowercase hex sha256 digest of data
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SHA256String hashes a string the same way
func SHA256String(s string) string {
	return SHA256Hex([]byte(s))
}

// URLIdentifier is the unpadded base64url form reputation services use to address a URL
func URLIdentifier(rawURL string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(rawURL))
}
