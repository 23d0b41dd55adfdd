// Package fingerprint computes the content hashes (mt_hash) that identify
// inventory entities for deduplication.
//
// A fingerprint is the BLAKE3 keyed hash of a canonical encoding of the
// entity fields. Every entity kind hashes under its own domain key, so a
// certificate and a file with identical fields never share a fingerprint.
// Nested entities contribute their own fingerprint, not their fields.
package fingerprint

import (
	"encoding/binary"
	"encoding/hex"
	"sort"
	"time"

	"github.com/zeebo/blake3"

	"github.com/zentral/zentral/internal/domain"
)

// Hash is a 32-byte BLAKE3 digest.
type Hash [32]byte

// String returns the hex encoding of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

type domainKey [32]byte

// Domain separation keys. Changing them invalidates every stored fingerprint
// of that kind. ASCII domain name, zero-padded to 32 bytes.
var (
	certificateDomainKey = newDomainKey("zentral.inventory.certificate")
	fileDomainKey        = newDomainKey("zentral.inventory.file")
	snapshotDomainKey    = newDomainKey("zentral.inventory.snapshot")
)

func newDomainKey(name string) domainKey {
	if len(name) > 32 {
		panic("fingerprint: domain name longer than 32 bytes: " + name)
	}
	var key domainKey
	copy(key[:], name)
	return key
}

// fields is the canonical form of an entity: named string values. Empty
// values are skipped so that an absent field and an empty one hash alike.
type fields map[string]string

func (f fields) setTime(name string, t time.Time) {
	if !t.IsZero() {
		f[name] = t.UTC().Format(time.RFC3339Nano)
	}
}

// encode serializes the fields sorted by name, each name and value length
// prefixed.
func (f fields) encode() []byte {
	names := make([]string, 0, len(f))
	for name, value := range f {
		if value != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var buf []byte
	for _, name := range names {
		value := f[name]
		buf = binary.AppendUvarint(buf, uint64(len(name)))
		buf = append(buf, name...)
		buf = binary.AppendUvarint(buf, uint64(len(value)))
		buf = append(buf, value...)
	}
	return buf
}

func keyedHash(key domainKey, data []byte) Hash {
	// NewKeyed only fails on a key that is not 32 bytes long.
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("fingerprint: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var hash Hash
	copy(hash[:], hasher.Sum(nil))
	return hash
}

// Certificate returns the fingerprint of a certificate and its issuer chain.
func Certificate(c *domain.Certificate) string {
	f := fields{
		"common_name":         c.CommonName,
		"organization":        c.Organization,
		"organizational_unit": c.OrganizationalUnit,
		"sha_1":               c.Sha1,
		"sha_256":             c.Sha256,
	}
	f.setTime("valid_from", c.ValidFrom)
	f.setTime("valid_until", c.ValidUntil)
	if c.SignedBy != nil {
		f["signed_by"] = certificateHash(c.SignedBy)
	}
	return keyedHash(certificateDomainKey, f.encode()).String()
}

// certificateHash reuses an already computed fingerprint.
func certificateHash(c *domain.Certificate) string {
	if c.MTHash != "" {
		return c.MTHash
	}
	return Certificate(c)
}

// File returns the fingerprint of a file. CreatedAt is not part of the content.
func File(file *domain.File) string {
	f := fields{
		"source.module":             file.Source.Module,
		"source.name":               file.Source.Name,
		"path":                      file.Path,
		"name":                      file.Name,
		"sha_1":                     file.Sha1,
		"sha_256":                   file.Sha256,
		"bundle_path":               file.BundlePath,
		"bundle.bundle_id":          file.Bundle.BundleID,
		"bundle.bundle_name":        file.Bundle.BundleName,
		"bundle.bundle_version":     file.Bundle.BundleVersion,
		"bundle.bundle_version_str": file.Bundle.BundleVersionStr,
	}
	if file.SignedBy != nil {
		f["signed_by"] = certificateHash(file.SignedBy)
	}
	return keyedHash(fileDomainKey, f.encode()).String()
}

// MachineSnapshot returns the fingerprint of a machine snapshot.
func MachineSnapshot(ms *domain.MachineSnapshot) string {
	f := fields{
		"source.module":  ms.Source.Module,
		"source.name":    ms.Source.Name,
		"serial_number":  ms.SerialNumber,
		"reference":      ms.Reference,
		"computer_name":  ms.ComputerName,
		"hardware_model": ms.HardwareModel,
		"platform":       ms.Platform,
		"os_name":        ms.OSName,
		"os_version":     ms.OSVersion,
	}
	return keyedHash(snapshotDomainKey, f.encode()).String()
}
