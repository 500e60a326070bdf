package repositories

import (
	"github.com/blogem/cmdb/database"
)

// Repositories struct holds all repository interfaces
type Repositories struct {
	Records     RecordRepository
	Assignments AssignmentRepository
	Audit       AuditRepository
}

// NewRepositories creates and initializes all repositories
func NewRepositories(dialect database.Dialect) *Repositories {
	return &Repositories{
		Records:     NewRecordRepository(dialect),
		Assignments: NewAssignmentRepository(dialect),
		Audit:       NewAuditRepository(dialect),
	}
}
