package sql

import (
	"context"
	"time"

	"github.com/zentral/zentral/internal/domain"
)

// ============================================
// Certificates
// ============================================

type certificateRow struct {
	ID                 int64     `db:"id"`
	MTHash             string    `db:"mt_hash"`
	CommonName         string    `db:"common_name"`
	Organization       string    `db:"organization"`
	OrganizationalUnit string    `db:"organizational_unit"`
	Sha1               string    `db:"sha_1"`
	Sha256             string    `db:"sha_256"`
	ValidFrom          time.Time `db:"valid_from"`
	ValidUntil         time.Time `db:"valid_until"`
	SignedByID         *int64    `db:"signed_by_id"`
}

func (r *certificateRow) toDomain() *domain.Certificate {
	return &domain.Certificate{
		ID:                 r.ID,
		MTHash:             r.MTHash,
		CommonName:         r.CommonName,
		Organization:       r.Organization,
		OrganizationalUnit: r.OrganizationalUnit,
		Sha1:               r.Sha1,
		Sha256:             r.Sha256,
		ValidFrom:          r.ValidFrom,
		ValidUntil:         r.ValidUntil,
		SignedByID:         r.SignedByID,
	}
}

func createCertificate(ctx context.Context, db dbInterface, cert *domain.Certificate) error {
	id, err := insertReturningID(ctx, db,
		`INSERT INTO inventory_certificates
		 (mt_hash, common_name, organization, organizational_unit, sha_1, sha_256, valid_from, valid_until, signed_by_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT DO NOTHING RETURNING id`,
		cert.MTHash, cert.CommonName, cert.Organization, cert.OrganizationalUnit,
		cert.Sha1, cert.Sha256, cert.ValidFrom, cert.ValidUntil, cert.SignedByID)
	if err != nil {
		return err
	}
	cert.ID = id
	return nil
}

func (s *Store) CreateCertificate(ctx context.Context, cert *domain.Certificate) error {
	return createCertificate(ctx, s.db, cert)
}

func (t *Tx) CreateCertificate(ctx context.Context, cert *domain.Certificate) error {
	return createCertificate(ctx, t.tx, cert)
}

func getCertificateByHash(ctx context.Context, db dbInterface, mtHash string) (*domain.Certificate, error) {
	var row certificateRow
	err := db.GetContext(ctx, &row,
		`SELECT id, mt_hash, common_name, organization, organizational_unit, sha_1, sha_256,
		        valid_from, valid_until, signed_by_id
		 FROM inventory_certificates WHERE mt_hash = $1`, mtHash)
	if err != nil {
		return nil, wrapNoRows(err, domain.ErrNotFound)
	}
	return row.toDomain(), nil
}

func (s *Store) GetCertificateByHash(ctx context.Context, mtHash string) (*domain.Certificate, error) {
	return getCertificateByHash(ctx, s.db, mtHash)
}

func (t *Tx) GetCertificateByHash(ctx context.Context, mtHash string) (*domain.Certificate, error) {
	return getCertificateByHash(ctx, t.tx, mtHash)
}

func countCertificates(ctx context.Context, db dbInterface, sha256 string) (int, error) {
	var count int
	err := db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM inventory_certificates WHERE sha_256 = $1`, sha256)
	return count, err
}

func (s *Store) CountCertificates(ctx context.Context, sha256 string) (int, error) {
	return countCertificates(ctx, s.db, sha256)
}

func (t *Tx) CountCertificates(ctx context.Context, sha256 string) (int, error) {
	return countCertificates(ctx, t.tx, sha256)
}

// ============================================
// Files
// ============================================

type fileRow struct {
	ID               int64     `db:"id"`
	MTHash           string    `db:"mt_hash"`
	SourceModule     string    `db:"source_module"`
	SourceName       string    `db:"source_name"`
	Path             string    `db:"path"`
	Name             string    `db:"name"`
	Sha1             string    `db:"sha_1"`
	Sha256           string    `db:"sha_256"`
	BundlePath       string    `db:"bundle_path"`
	BundleID         string    `db:"bundle_id"`
	BundleName       string    `db:"bundle_name"`
	BundleVersion    string    `db:"bundle_version"`
	BundleVersionStr string    `db:"bundle_version_str"`
	SignedByID       *int64    `db:"signed_by_id"`
	CreatedAt        time.Time `db:"created_at"`
}

func (r *fileRow) toDomain() *domain.File {
	return &domain.File{
		ID:         r.ID,
		MTHash:     r.MTHash,
		Source:     domain.Source{Module: r.SourceModule, Name: r.SourceName},
		Path:       r.Path,
		Name:       r.Name,
		Sha1:       r.Sha1,
		Sha256:     r.Sha256,
		BundlePath: r.BundlePath,
		Bundle: domain.Bundle{
			BundleID:         r.BundleID,
			BundleName:       r.BundleName,
			BundleVersion:    r.BundleVersion,
			BundleVersionStr: r.BundleVersionStr,
		},
		SignedByID: r.SignedByID,
		CreatedAt:  r.CreatedAt,
	}
}

func createFile(ctx context.Context, db dbInterface, file *domain.File) error {
	id, err := insertReturningID(ctx, db,
		`INSERT INTO inventory_files
		 (mt_hash, source_module, source_name, path, name, sha_1, sha_256, bundle_path,
		  bundle_id, bundle_name, bundle_version, bundle_version_str, signed_by_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT DO NOTHING RETURNING id`,
		file.MTHash, file.Source.Module, file.Source.Name, file.Path, file.Name, file.Sha1, file.Sha256,
		file.BundlePath, file.Bundle.BundleID, file.Bundle.BundleName, file.Bundle.BundleVersion,
		file.Bundle.BundleVersionStr, file.SignedByID, file.CreatedAt)
	if err != nil {
		return err
	}
	file.ID = id
	return nil
}

func (s *Store) CreateFile(ctx context.Context, file *domain.File) error {
	return createFile(ctx, s.db, file)
}

func (t *Tx) CreateFile(ctx context.Context, file *domain.File) error {
	return createFile(ctx, t.tx, file)
}

func getFileByHash(ctx context.Context, db dbInterface, mtHash string) (*domain.File, error) {
	var row fileRow
	err := db.GetContext(ctx, &row,
		`SELECT id, mt_hash, source_module, source_name, path, name, sha_1, sha_256, bundle_path,
		        bundle_id, bundle_name, bundle_version, bundle_version_str, signed_by_id, created_at
		 FROM inventory_files WHERE mt_hash = $1`, mtHash)
	if err != nil {
		return nil, wrapNoRows(err, domain.ErrNotFound)
	}
	return row.toDomain(), nil
}

func (s *Store) GetFileByHash(ctx context.Context, mtHash string) (*domain.File, error) {
	return getFileByHash(ctx, s.db, mtHash)
}

func (t *Tx) GetFileByHash(ctx context.Context, mtHash string) (*domain.File, error) {
	return getFileByHash(ctx, t.tx, mtHash)
}

func countFiles(ctx context.Context, db dbInterface, sha256 string) (int, error) {
	var count int
	err := db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM inventory_files WHERE sha_256 = $1`, sha256)
	return count, err
}

func (s *Store) CountFiles(ctx context.Context, sha256 string) (int, error) {
	return countFiles(ctx, s.db, sha256)
}

func (t *Tx) CountFiles(ctx context.Context, sha256 string) (int, error) {
	return countFiles(ctx, t.tx, sha256)
}

// ============================================
// Machine snapshots
// ============================================

type machineSnapshotRow struct {
	ID            int64     `db:"id"`
	MTHash        string    `db:"mt_hash"`
	SourceModule  string    `db:"source_module"`
	SourceName    string    `db:"source_name"`
	SerialNumber  string    `db:"serial_number"`
	Reference     string    `db:"reference"`
	ComputerName  string    `db:"computer_name"`
	HardwareModel string    `db:"hardware_model"`
	Platform      string    `db:"platform"`
	OSName        string    `db:"os_name"`
	OSVersion     string    `db:"os_version"`
	CreatedAt     time.Time `db:"created_at"`
}

func createMachineSnapshot(ctx context.Context, db dbInterface, ms *domain.MachineSnapshot) error {
	id, err := insertReturningID(ctx, db,
		`INSERT INTO inventory_machine_snapshots
		 (mt_hash, source_module, source_name, serial_number, reference, computer_name,
		  hardware_model, platform, os_name, os_version, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT DO NOTHING RETURNING id`,
		ms.MTHash, ms.Source.Module, ms.Source.Name, ms.SerialNumber, ms.Reference, ms.ComputerName,
		ms.HardwareModel, ms.Platform, ms.OSName, ms.OSVersion, ms.CreatedAt)
	if err != nil {
		return err
	}
	ms.ID = id
	return nil
}

func (s *Store) CreateMachineSnapshot(ctx context.Context, snapshot *domain.MachineSnapshot) error {
	return createMachineSnapshot(ctx, s.db, snapshot)
}

func (t *Tx) CreateMachineSnapshot(ctx context.Context, snapshot *domain.MachineSnapshot) error {
	return createMachineSnapshot(ctx, t.tx, snapshot)
}

func getMachineSnapshotByHash(ctx context.Context, db dbInterface, mtHash string) (*domain.MachineSnapshot, error) {
	var row machineSnapshotRow
	err := db.GetContext(ctx, &row,
		`SELECT id, mt_hash, source_module, source_name, serial_number, reference, computer_name,
		        hardware_model, platform, os_name, os_version, created_at
		 FROM inventory_machine_snapshots WHERE mt_hash = $1`, mtHash)
	if err != nil {
		return nil, wrapNoRows(err, domain.ErrNotFound)
	}
	return &domain.MachineSnapshot{
		ID:            row.ID,
		MTHash:        row.MTHash,
		Source:        domain.Source{Module: row.SourceModule, Name: row.SourceName},
		SerialNumber:  row.SerialNumber,
		Reference:     row.Reference,
		ComputerName:  row.ComputerName,
		HardwareModel: row.HardwareModel,
		Platform:      row.Platform,
		OSName:        row.OSName,
		OSVersion:     row.OSVersion,
		CreatedAt:     row.CreatedAt,
	}, nil
}

func (s *Store) GetMachineSnapshotByHash(ctx context.Context, mtHash string) (*domain.MachineSnapshot, error) {
	return getMachineSnapshotByHash(ctx, s.db, mtHash)
}

func (t *Tx) GetMachineSnapshotByHash(ctx context.Context, mtHash string) (*domain.MachineSnapshot, error) {
	return getMachineSnapshotByHash(ctx, t.tx, mtHash)
}

func setCurrentMachineSnapshot(ctx context.Context, db dbInterface, ms *domain.MachineSnapshot) (bool, error) {
	var current int64
	err := db.GetContext(ctx, &current,
		`SELECT machine_snapshot_id FROM inventory_current_machine_snapshots
		 WHERE source_module = $1 AND source_name = $2 AND serial_number = $3`,
		ms.Source.Module, ms.Source.Name, ms.SerialNumber)
	switch err = wrapNoRows(err, domain.ErrNotFound); {
	case err == nil && current == ms.ID:
		return false, nil
	case err != nil && err != domain.ErrNotFound:
		return false, err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO inventory_current_machine_snapshots
		 (source_module, source_name, serial_number, machine_snapshot_id, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (source_module, source_name, serial_number)
		 DO UPDATE SET machine_snapshot_id = excluded.machine_snapshot_id, updated_at = excluded.updated_at`,
		ms.Source.Module, ms.Source.Name, ms.SerialNumber, ms.ID, time.Now())
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) SetCurrentMachineSnapshot(ctx context.Context, snapshot *domain.MachineSnapshot) (bool, error) {
	return setCurrentMachineSnapshot(ctx, s.db, snapshot)
}

func (t *Tx) SetCurrentMachineSnapshot(ctx context.Context, snapshot *domain.MachineSnapshot) (bool, error) {
	return setCurrentMachineSnapshot(ctx, t.tx, snapshot)
}
