package models

import "time"

// AuditRecord is one field-level change of one resource. Records are append-only.
type AuditRecord struct {
	ID        int64     `json:"id"`
	ObjectID  int64     `json:"object_id"`
	Field     string    `json:"field"`
	OldValue  string    `json:"old_value"`
	NewValue  string    `json:"new_value"`
	UpdatedBy string    `json:"updated_by"`
	Created   time.Time `json:"created"`
}

// Audit values used for lifecycle and assignment records
const (
	AuditCreated    = "created"
	AuditDeleted    = "deleted"
	AuditAssigned   = "assigned"
	AuditDeassigned = "deassigned"
	// AuditUnset is the old value of a field that had never been set
	AuditUnset = "None"
)

// AuditEvent is published once the unit of work that wrote the record has committed
type AuditEvent struct {
	TxID     string      `json:"tx_id"`
	Resource string      `json:"resource"`
	Record   AuditRecord `json:"record"`
}
