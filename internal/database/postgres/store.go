package postgres

import "github.com/classeye/attendance/internal/database"

// Store bundles the PostgreSQL repositories behind the database.Store
// contract.
type Store struct {
	*AttendanceRepository
	*SessionRepository
	*EventRepository
	*RosterRepository
}

var _ database.Store = (*Store)(nil)

// NewStore creates the full PostgreSQL store over one pool.
func NewStore(pool *Pool) *Store {
	return &Store{
		AttendanceRepository: NewAttendanceRepository(pool),
		SessionRepository:    NewSessionRepository(pool),
		EventRepository:      NewEventRepository(pool),
		RosterRepository:     NewRosterRepository(pool),
	}
}
