package sql

import (
	"context"

	"github.com/zentral/zentral/internal/domain"
)

// ============================================
// Enrollment sessions
// ============================================

func createEnrollmentSession(ctx context.Context, db dbInterface, es *domain.EnrollmentSession) error {
	id, err := insertReturningID(ctx, db,
		`INSERT INTO enrollment_sessions (secret, created_at) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING RETURNING id`,
		es.Secret, es.CreatedAt)
	if err != nil {
		return err
	}
	es.ID = id
	for _, sn := range es.SerialNumbers {
		_, err := db.ExecContext(ctx,
			`INSERT INTO enrollment_session_serial_numbers (session_id, serial_number) VALUES ($1, $2)`,
			es.ID, sn)
		if err != nil {
			return wrapUniqueError(err)
		}
	}
	return nil
}

func (s *Store) CreateEnrollmentSession(ctx context.Context, session *domain.EnrollmentSession) error {
	return s.atomic(ctx, func(db dbInterface) error {
		return createEnrollmentSession(ctx, db, session)
	})
}

func (t *Tx) CreateEnrollmentSession(ctx context.Context, session *domain.EnrollmentSession) error {
	return createEnrollmentSession(ctx, t.tx, session)
}

func getEnrollmentSessionBySecret(ctx context.Context, db dbInterface, secret string) (*domain.EnrollmentSession, error) {
	var es domain.EnrollmentSession
	err := db.GetContext(ctx, &es,
		`SELECT id, secret, created_at FROM enrollment_sessions WHERE secret = $1`, secret)
	if err != nil {
		return nil, wrapNoRows(err, domain.ErrNotFound)
	}
	err = db.SelectContext(ctx, &es.SerialNumbers,
		`SELECT serial_number FROM enrollment_session_serial_numbers WHERE session_id = $1 ORDER BY serial_number`,
		es.ID)
	if err != nil {
		return nil, err
	}
	return &es, nil
}

func (s *Store) GetEnrollmentSessionBySecret(ctx context.Context, secret string) (*domain.EnrollmentSession, error) {
	return getEnrollmentSessionBySecret(ctx, s.db, secret)
}

func (t *Tx) GetEnrollmentSessionBySecret(ctx context.Context, secret string) (*domain.EnrollmentSession, error) {
	return getEnrollmentSessionBySecret(ctx, t.tx, secret)
}

func deleteEnrollmentSession(ctx context.Context, db dbInterface, secret string) error {
	_, err := db.ExecContext(ctx,
		`DELETE FROM enrollment_session_serial_numbers
		 WHERE session_id IN (SELECT id FROM enrollment_sessions WHERE secret = $1)`, secret)
	if err != nil {
		return err
	}
	return expectRows(db.ExecContext(ctx, `DELETE FROM enrollment_sessions WHERE secret = $1`, secret))
}

func (s *Store) DeleteEnrollmentSession(ctx context.Context, secret string) error {
	return s.atomic(ctx, func(db dbInterface) error {
		return deleteEnrollmentSession(ctx, db, secret)
	})
}

func (t *Tx) DeleteEnrollmentSession(ctx context.Context, secret string) error {
	return deleteEnrollmentSession(ctx, t.tx, secret)
}
