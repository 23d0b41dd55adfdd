package domain

import "time"

// EnrollmentSession binds an enrollment secret to the serial numbers of the
// machines allowed to use it.
type EnrollmentSession struct {
	ID            int64     `json:"pk" db:"id"`
	Secret        string    `json:"secret" db:"secret"`
	SerialNumbers []string  `json:"serial_numbers" db:"-"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// CreateEnrollmentSessionRequest is the request body for creating an enrollment session.
type CreateEnrollmentSessionRequest struct {
	Secret        string   `json:"secret"`
	SerialNumbers []string `json:"serial_numbers"`
}
