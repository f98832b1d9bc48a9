// Package digest computes content digests of assets. A digest covers both
// the asset's identity and its bytes, so either changing produces a new
// value.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"io"

	"github.com/vk/assetforge/internal/assetid"
)

// Digest is a hex-encoded SHA256 hash.
type Digest string

// Compute hashes an asset's identity together with its content bytes.
func Compute(id assetid.ID, content []byte) Digest {
	h := sha256.New()
	h.Write([]byte(id.String()))
	h.Write([]byte{0})
	h.Write(content)
	return Digest(hex.EncodeToString(h.Sum(nil)))
}

// FromReader hashes an asset's identity together with content streamed from r.
func FromReader(id assetid.ID, r io.Reader) (Digest, error) {
	h := sha256.New()
	h.Write([]byte(id.String()))
	h.Write([]byte{0})
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return Digest(hex.EncodeToString(h.Sum(nil))), nil
}
