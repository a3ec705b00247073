package repository

import (
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore satisfies Store over a single pgx pool.
type PostgresStore struct {
	*SessionRepository
	*RegistrationRepository
	*WaitlistRepository
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wires the three Postgres repositories onto one pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		SessionRepository:      NewSessionRepository(db),
		RegistrationRepository: NewRegistrationRepository(db),
		WaitlistRepository:     NewWaitlistRepository(db),
	}
}

// validID reports whether id can name a row. Every id column is a UUID, so
// anything else cannot exist and is reported as not found rather than sent
// to Postgres.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
