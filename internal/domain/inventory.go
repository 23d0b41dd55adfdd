package domain

import (
	"encoding/json"
	"time"
)

// Source is the provenance of ingested inventory data. It is a value and is
// copied into every entity built from a record.
type Source struct {
	Module string `json:"module"`
	Name   string `json:"name"`
}

// Certificate is a content-addressed code signing certificate. SignedBy links
// the issuing certificate of the chain.
type Certificate struct {
	ID                 int64        `json:"-"`
	MTHash             string       `json:"mt_hash"`
	CommonName         string       `json:"common_name"`
	Organization       string       `json:"organization,omitempty"`
	OrganizationalUnit string       `json:"organizational_unit,omitempty"`
	Sha1               string       `json:"sha_1,omitempty"`
	Sha256             string       `json:"sha_256"`
	ValidFrom          time.Time    `json:"valid_from"`
	ValidUntil         time.Time    `json:"valid_until"`
	SignedByID         *int64       `json:"-"`
	SignedBy           *Certificate `json:"signed_by,omitempty"`
}

// Bundle describes the application bundle a file belongs to.
type Bundle struct {
	BundleID         string `json:"bundle_id,omitempty"`
	BundleName       string `json:"bundle_name,omitempty"`
	BundleVersion    string `json:"bundle_version,omitempty"`
	BundleVersionStr string `json:"bundle_version_str,omitempty"`
}

// IsZero reports whether no bundle attribute is set.
func (b Bundle) IsZero() bool {
	return b == Bundle{}
}

// File is a content-addressed executable file observed on a machine.
type File struct {
	ID         int64        `json:"-"`
	MTHash     string       `json:"mt_hash"`
	Source     Source       `json:"source"`
	Path       string       `json:"path"`
	Name       string       `json:"name"`
	Sha1       string       `json:"sha_1,omitempty"`
	Sha256     string       `json:"sha_256"`
	BundlePath string       `json:"bundle_path,omitempty"`
	Bundle     Bundle       `json:"bundle"`
	SignedByID *int64       `json:"-"`
	SignedBy   *Certificate `json:"signed_by,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// MachineSnapshot is a content-addressed inventory state of a machine as
// reported by one source.
type MachineSnapshot struct {
	ID            int64     `json:"-"`
	MTHash        string    `json:"mt_hash"`
	Source        Source    `json:"source"`
	SerialNumber  string    `json:"serial_number"`
	Reference     string    `json:"reference,omitempty"`
	ComputerName  string    `json:"computer_name,omitempty"`
	HardwareModel string    `json:"hardware_model,omitempty"`
	Platform      string    `json:"platform,omitempty"`
	OSName        string    `json:"os_name,omitempty"`
	OSVersion     string    `json:"os_version,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// MachineSnapshotsRequest is the body of the machine snapshot ingestion endpoint.
type MachineSnapshotsRequest struct {
	Source   Source            `json:"source"`
	Machines []json.RawMessage `json:"machines"`
}

// IngestResult holds the per-batch classification counters.
type IngestResult struct {
	Added                 int `json:"added"`
	Present               int `json:"present"`
	Ignored               int `json:"ignored"`
	DeserializationErrors int `json:"deserialization_errors"`
	DBErrors              int `json:"db_errors"`
}

// Add sums another result into r.
func (r *IngestResult) Add(o IngestResult) {
	r.Added += o.Added
	r.Present += o.Present
	r.Ignored += o.Ignored
	r.DeserializationErrors += o.DeserializationErrors
	r.DBErrors += o.DBErrors
}
