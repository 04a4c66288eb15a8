package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// DomainEntry separates entry digests from any other hash in the system.
// The version suffix allows the encoding to change later.
const DomainEntry = "homesync/entry/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Digest returns a stable content digest of the entry.
// Two entries with equal fields always share a digest.
func (e Entry) Digest() (string, error) {
	e.Device.LastUpdated = e.Device.LastUpdated.UTC()
	data, err := json.Marshal(e)
	if err != nil {
		return "", errors.Wrap(err, "digest entry")
	}
	return hashWithDomain(DomainEntry, data), nil
}

// MustDigest is Digest for entries known to encode, such as test fixtures.
func (e Entry) MustDigest() string {
	d, err := e.Digest()
	if err != nil {
		panic(err)
	}
	return d
}
