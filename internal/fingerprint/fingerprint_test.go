package fingerprint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zentral/zentral/internal/domain"
)

func testChain() *domain.Certificate {
	root := &domain.Certificate{
		CommonName: "Apple Root CA",
		Sha256:     "b0b1730ecbc7ff4505142c49f1295e6eda6bcaed7e2c68c5be91b5a11001f024",
		ValidFrom:  time.Date(2006, 4, 25, 21, 40, 36, 0, time.UTC),
		ValidUntil: time.Date(2035, 2, 9, 21, 40, 36, 0, time.UTC),
	}
	return &domain.Certificate{
		CommonName:   "Developer ID Application: Example (ABCDEFGHIJ)",
		Organization: "Example",
		Sha256:       "8c4d8f1b6f1d7d7cf2b3a5e6f1e5c8e4e0a5d4c3b2a1908f7e6d5c4b3a291807",
		ValidFrom:    time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC),
		ValidUntil:   time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
		SignedBy:     root,
	}
}

func TestCertificateStable(t *testing.T) {
	a := Certificate(testChain())
	b := Certificate(testChain())
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestCertificateIssuerChangesFingerprint(t *testing.T) {
	c := testChain()
	before := Certificate(c)
	c.SignedBy.CommonName = "Other Root"
	assert.NotEqual(t, before, Certificate(c))
}

func TestCertificateTimezoneIndependent(t *testing.T) {
	c := testChain()
	before := Certificate(c)
	c.ValidFrom = c.ValidFrom.In(time.FixedZone("CET", 3600))
	assert.Equal(t, before, Certificate(c))
}

func TestFileIgnoresCreatedAt(t *testing.T) {
	f := &domain.File{
		Source: domain.Source{Module: "zentral.contrib.santa", Name: "Santa fileinfo"},
		Path:   "/usr/local/bin",
		Name:   "tool",
		Sha256: "0000000000000000000000000000000000000000000000000000000000000001",
	}
	before := File(f)
	f.CreatedAt = time.Now()
	assert.Equal(t, before, File(f))

	f.SignedBy = testChain()
	assert.NotEqual(t, before, File(f))
}

func TestPrecomputedIssuerHashIsReused(t *testing.T) {
	c := testChain()
	expected := Certificate(c)
	c.SignedBy.MTHash = Certificate(c.SignedBy)
	assert.Equal(t, expected, Certificate(c))
}

func TestDomainSeparation(t *testing.T) {
	f := fields{"sha_256": "abc"}
	assert.NotEqual(t, keyedHash(fileDomainKey, f.encode()), keyedHash(certificateDomainKey, f.encode()))
}

func TestEncodingIsUnambiguous(t *testing.T) {
	a := fields{"a": "bc"}
	b := fields{"ab": "c"}
	assert.NotEqual(t, a.encode(), b.encode())

	withEmpty := fields{"a": "x", "b": ""}
	without := fields{"a": "x"}
	assert.Equal(t, without.encode(), withEmpty.encode())
}

func TestMachineSnapshot(t *testing.T) {
	ms := &domain.MachineSnapshot{
		Source:       domain.Source{Module: "tests", Name: "tests"},
		SerialNumber: "C02ABCDEF",
		OSVersion:    "14.1",
	}
	h := MachineSnapshot(ms)
	require.Len(t, h, 64)

	ms.OSVersion = "14.2"
	assert.NotEqual(t, h, MachineSnapshot(ms))
}
