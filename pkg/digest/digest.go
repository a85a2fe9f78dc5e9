// Package digest computes content digests over canonical JSON.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Canonicalize returns the RFC 8785 canonical form of JSON input.
func Canonicalize(input []byte) ([]byte, error) {
	return jcs.Transform(input)
}

// JSON canonicalizes input and returns its sha256 hex digest.
func JSON(input []byte) (string, error) {
	canonical, err := Canonicalize(input)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize: %w", err)
	}

	sum := sha256.Sum256(canonical)

	return hex.EncodeToString(sum[:]), nil
}

// Value marshals v and digests the result.
func Value(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal: %w", err)
	}

	return JSON(data)
}
