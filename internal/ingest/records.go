package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/zentral/zentral/internal/domain"
	"github.com/zentral/zentral/internal/validation"
)

// FileInfoSource is the provenance of files built from Santa fileinfo records.
var FileInfoSource = domain.Source{Module: "zentral.contrib.santa", Name: "Santa fileinfo"}

// santaDateLayout is the date format of signing chain validity bounds.
const santaDateLayout = "2006/01/02 15:04:05 -0700"

// Record is one parsed fact record: FileInfo, MachineSnapshotRecord,
// Unsupported or Malformed.
type Record interface {
	isRecord()
}

// FileInfo is an executable file with its signing chain.
type FileInfo struct {
	File *domain.File
}

// Unsupported is a well formed record of a kind that is not ingested.
type Unsupported struct {
	Type string
}

// Malformed is a record that could not be deserialized.
type Malformed struct {
	Err error
}

func (FileInfo) isRecord()    {}
func (Unsupported) isRecord() {}
func (Malformed) isRecord()   {}

// SplitBatch accepts a single JSON value or an array of values and returns
// the individual records.
func SplitBatch(body []byte) ([]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		var records []json.RawMessage
		if err := json.Unmarshal(body, &records); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
		}
		return records, nil
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: invalid JSON", domain.ErrInvalidInput)
	}
	return []json.RawMessage{body}, nil
}

type santaCertificate struct {
	CommonName         string `json:"Common Name"`
	Organization       string `json:"Organization"`
	OrganizationalUnit string `json:"Organizational Unit"`
	Sha1               string `json:"SHA-1"`
	Sha256             string `json:"SHA-256"`
	ValidFrom          string `json:"Valid From"`
	ValidUntil         string `json:"Valid Until"`
}

type santaFileInfo struct {
	Type             string             `json:"Type"`
	Path             string             `json:"Path"`
	Sha1             string             `json:"SHA-1"`
	Sha256           string             `json:"SHA-256"`
	BundleID         string             `json:"Bundle ID"`
	BundleName       string             `json:"Bundle Name"`
	BundlePath       string             `json:"Bundle Path"`
	BundleVersion    string             `json:"Bundle Version"`
	BundleVersionStr string             `json:"Bundle Version Str"`
	SigningChain     []santaCertificate `json:"Signing Chain"`
}

// ParseFileInfo classifies and deserializes a santactl fileinfo record.
// Only executables are supported.
func ParseFileInfo(raw json.RawMessage) Record {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Malformed{Err: errors.New("not an object")}
	}
	var recordType string
	if err := json.Unmarshal(fields["Type"], &recordType); err != nil || recordType == "" {
		return Malformed{Err: errors.New("missing Type")}
	}
	if !strings.HasPrefix(recordType, "Executable") {
		return Unsupported{Type: recordType}
	}

	var fi santaFileInfo
	if err := json.Unmarshal(raw, &fi); err != nil {
		return Malformed{Err: err}
	}
	file, err := fi.toFile()
	if err != nil {
		return Malformed{Err: err}
	}
	return FileInfo{File: file}
}

func (fi *santaFileInfo) toFile() (*domain.File, error) {
	if fi.Path == "" {
		return nil, errors.New("missing Path")
	}
	sha256, err := validation.ValidateSha256(fi.Sha256)
	if err != nil {
		return nil, fmt.Errorf("SHA-256: %w", err)
	}
	dir, name := path.Split(fi.Path)
	file := &domain.File{
		Source:     FileInfoSource,
		Path:       strings.TrimSuffix(dir, "/"),
		Name:       name,
		Sha1:       strings.ToLower(fi.Sha1),
		Sha256:     sha256,
		BundlePath: fi.BundlePath,
		Bundle: domain.Bundle{
			BundleID:         fi.BundleID,
			BundleName:       fi.BundleName,
			BundleVersion:    fi.BundleVersion,
			BundleVersionStr: fi.BundleVersionStr,
		},
	}

	// The chain starts with the leaf; each certificate is signed by the next.
	var child *domain.Certificate
	for i := range fi.SigningChain {
		cert, err := fi.SigningChain[i].toCertificate()
		if err != nil {
			return nil, fmt.Errorf("signing chain %d: %w", i, err)
		}
		if child == nil {
			file.SignedBy = cert
		} else {
			child.SignedBy = cert
		}
		child = cert
	}
	return file, nil
}

func (sc *santaCertificate) toCertificate() (*domain.Certificate, error) {
	sha256, err := validation.ValidateSha256(sc.Sha256)
	if err != nil {
		return nil, fmt.Errorf("SHA-256: %w", err)
	}
	validFrom, err := time.Parse(santaDateLayout, sc.ValidFrom)
	if err != nil {
		return nil, fmt.Errorf("Valid From: %w", err)
	}
	validUntil, err := time.Parse(santaDateLayout, sc.ValidUntil)
	if err != nil {
		return nil, fmt.Errorf("Valid Until: %w", err)
	}
	return &domain.Certificate{
		CommonName:         sc.CommonName,
		Organization:       sc.Organization,
		OrganizationalUnit: sc.OrganizationalUnit,
		Sha1:               strings.ToLower(sc.Sha1),
		Sha256:             sha256,
		ValidFrom:          validFrom,
		ValidUntil:         validUntil,
	}, nil
}

// machineRecord is one machine of a snapshot batch.
type machineRecord struct {
	SerialNumber  string `json:"serial_number"`
	Reference     string `json:"reference"`
	ComputerName  string `json:"computer_name"`
	HardwareModel string `json:"hardware_model"`
	Platform      string `json:"platform"`
	OSName        string `json:"os_name"`
	OSVersion     string `json:"os_version"`
}

// MachineSnapshotRecord is a machine snapshot ready to be committed.
type MachineSnapshotRecord struct {
	Snapshot *domain.MachineSnapshot
}

func (MachineSnapshotRecord) isRecord() {}

// ParseMachine deserializes one machine of a snapshot batch. Machines
// without a serial number are unsupported.
func ParseMachine(source domain.Source, raw json.RawMessage) Record {
	var m *machineRecord
	if err := json.Unmarshal(raw, &m); err != nil {
		return Malformed{Err: err}
	}
	if m == nil {
		return Malformed{Err: errors.New("not an object")}
	}
	serial := strings.TrimSpace(m.SerialNumber)
	if serial == "" {
		return Unsupported{Type: "machine without serial number"}
	}
	return MachineSnapshotRecord{Snapshot: &domain.MachineSnapshot{
		Source:        source,
		SerialNumber:  serial,
		Reference:     m.Reference,
		ComputerName:  m.ComputerName,
		HardwareModel: m.HardwareModel,
		Platform:      m.Platform,
		OSName:        m.OSName,
		OSVersion:     m.OSVersion,
	}}
}
