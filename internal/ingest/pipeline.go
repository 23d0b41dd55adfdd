// Package ingest commits machine facts to the inventory.
//
// A batch never fails as a whole. Every record is classified and committed
// on its own, in its own transaction, and the outcome is counted.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zentral/zentral/internal/domain"
	"github.com/zentral/zentral/internal/fingerprint"
	"github.com/zentral/zentral/internal/storage"
)

// DefaultRecordTimeout bounds the commit of one record.
const DefaultRecordTimeout = 5 * time.Second

// Publisher publishes committed inventory changes.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// Pipeline ingests inventory records.
type Pipeline struct {
	store         storage.Storage
	publisher     Publisher
	recordTimeout time.Duration
	logger        zerolog.Logger
	now           func() time.Time
}

// NewPipeline creates a new Pipeline. A nil publisher disables events.
func NewPipeline(store storage.Storage, publisher Publisher, recordTimeout time.Duration, logger zerolog.Logger) *Pipeline {
	if recordTimeout <= 0 {
		recordTimeout = DefaultRecordTimeout
	}
	return &Pipeline{
		store:         store,
		publisher:     publisher,
		recordTimeout: recordTimeout,
		logger:        logger.With().Str("component", "ingest").Logger(),
		now:           time.Now,
	}
}

// IngestFileInfo commits santactl fileinfo records. Only top level files are
// counted; the certificates of their signing chains are deduplicated too.
func (p *Pipeline) IngestFileInfo(ctx context.Context, records []json.RawMessage) domain.IngestResult {
	var result domain.IngestResult
	for i, raw := range records {
		switch rec := ParseFileInfo(raw).(type) {
		case Malformed:
			p.logger.Debug().Err(rec.Err).Int("index", i).Msg("could not deserialize fileinfo")
			result.DeserializationErrors++
		case Unsupported:
			result.Ignored++
		case FileInfo:
			created, err := p.commit(ctx, func(ctx context.Context, tx storage.Transaction) (bool, error) {
				return commitFile(ctx, tx, rec.File, p.now())
			})
			p.count(&result, created, err, i)
		}
	}
	return result
}

// IngestMachineSnapshots commits machine snapshots of one source and moves
// the current snapshot pointer of each machine. An event is published for
// every machine whose current snapshot changed.
func (p *Pipeline) IngestMachineSnapshots(ctx context.Context, source domain.Source, machines []json.RawMessage) domain.IngestResult {
	var result domain.IngestResult
	for i, raw := range machines {
		switch rec := ParseMachine(source, raw).(type) {
		case Malformed:
			p.logger.Debug().Err(rec.Err).Int("index", i).Msg("could not deserialize machine")
			result.DeserializationErrors++
		case Unsupported:
			result.Ignored++
		case MachineSnapshotRecord:
			var changed bool
			created, err := p.commit(ctx, func(ctx context.Context, tx storage.Transaction) (bool, error) {
				var (
					created bool
					err     error
				)
				created, changed, err = commitMachineSnapshot(ctx, tx, rec.Snapshot, p.now())
				return created, err
			})
			p.count(&result, created, err, i)
			if err == nil && changed {
				p.publishSnapshot(ctx, rec.Snapshot)
			}
		}
	}
	return result
}

func (p *Pipeline) count(result *domain.IngestResult, created bool, err error, index int) {
	switch {
	case err != nil:
		p.logger.Error().Err(err).Int("index", index).Msg("could not commit record")
		result.DBErrors++
	case created:
		result.Added++
	default:
		result.Present++
	}
}

// commit runs fn in a transaction bounded by the record timeout.
func (p *Pipeline) commit(ctx context.Context, fn func(context.Context, storage.Transaction) (bool, error)) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.recordTimeout)
	defer cancel()

	tx, err := p.store.BeginTx(ctx)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	created, err := fn(ctx, tx)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing transaction: %w", err)
	}
	return created, nil
}

// commitCertificate commits the chain root first and returns the id of c.
func commitCertificate(ctx context.Context, tx storage.Transaction, c *domain.Certificate) (int64, error) {
	if c.SignedBy != nil {
		issuerID, err := commitCertificate(ctx, tx, c.SignedBy)
		if err != nil {
			return 0, err
		}
		c.SignedByID = &issuerID
	}
	c.MTHash = fingerprint.Certificate(c)

	existing, err := tx.GetCertificateByHash(ctx, c.MTHash)
	if err == nil {
		c.ID = existing.ID
		return c.ID, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return 0, fmt.Errorf("getting certificate: %w", err)
	}
	err = tx.CreateCertificate(ctx, c)
	if errors.Is(err, domain.ErrAlreadyExists) {
		existing, err = tx.GetCertificateByHash(ctx, c.MTHash)
		if err != nil {
			return 0, fmt.Errorf("getting certificate: %w", err)
		}
		c.ID = existing.ID
		return c.ID, nil
	}
	if err != nil {
		return 0, fmt.Errorf("creating certificate: %w", err)
	}
	return c.ID, nil
}

// commitFile commits the file and its signing chain and reports whether the
// file was new.
func commitFile(ctx context.Context, tx storage.Transaction, f *domain.File, now time.Time) (bool, error) {
	if f.SignedBy != nil {
		signerID, err := commitCertificate(ctx, tx, f.SignedBy)
		if err != nil {
			return false, err
		}
		f.SignedByID = &signerID
	}
	f.MTHash = fingerprint.File(f)

	if existing, err := tx.GetFileByHash(ctx, f.MTHash); err == nil {
		f.ID = existing.ID
		return false, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return false, fmt.Errorf("getting file: %w", err)
	}
	f.CreatedAt = now
	err := tx.CreateFile(ctx, f)
	if errors.Is(err, domain.ErrAlreadyExists) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("creating file: %w", err)
	}
	return true, nil
}

// commitMachineSnapshot reports whether the snapshot was new and whether the
// current snapshot of the machine changed.
func commitMachineSnapshot(ctx context.Context, tx storage.Transaction, ms *domain.MachineSnapshot, now time.Time) (created, changed bool, err error) {
	ms.MTHash = fingerprint.MachineSnapshot(ms)

	existing, err := tx.GetMachineSnapshotByHash(ctx, ms.MTHash)
	switch {
	case err == nil:
		ms.ID = existing.ID
		ms.CreatedAt = existing.CreatedAt
	case errors.Is(err, domain.ErrNotFound):
		ms.CreatedAt = now
		err = tx.CreateMachineSnapshot(ctx, ms)
		if errors.Is(err, domain.ErrAlreadyExists) {
			existing, err = tx.GetMachineSnapshotByHash(ctx, ms.MTHash)
			if err != nil {
				return false, false, fmt.Errorf("getting machine snapshot: %w", err)
			}
			ms.ID = existing.ID
		} else if err != nil {
			return false, false, fmt.Errorf("creating machine snapshot: %w", err)
		} else {
			created = true
		}
	default:
		return false, false, fmt.Errorf("getting machine snapshot: %w", err)
	}

	changed, err = tx.SetCurrentMachineSnapshot(ctx, ms)
	if err != nil {
		return false, false, fmt.Errorf("setting current machine snapshot: %w", err)
	}
	return created, changed, nil
}

func (p *Pipeline) publishSnapshot(ctx context.Context, ms *domain.MachineSnapshot) {
	if p.publisher == nil {
		return
	}
	payload, err := toPayload(ms)
	if err != nil {
		p.logger.Error().Err(err).Msg("could not build machine snapshot event")
		return
	}
	event := domain.Event{
		Metadata: domain.EventMetadata{
			ID:                  uuid.New().String(),
			Type:                domain.EventTypeMachineSnapshot,
			CreatedAt:           p.now(),
			MachineSerialNumber: ms.SerialNumber,
			Tags:                []string{"machine"},
		},
		Payload: payload,
	}
	if err := p.publisher.Publish(ctx, event); err != nil {
		p.logger.Error().Err(err).Str("serial_number", ms.SerialNumber).Msg("could not publish machine snapshot event")
	}
}

func toPayload(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var payload map[string]any
	if err := json.Unmarshal(b, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}
