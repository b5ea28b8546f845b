package models

import "time"

type SyncStatus string

const (
	SyncStatusPending    SyncStatus = "pending"
	SyncStatusInProgress SyncStatus = "in_progress"
	SyncStatusSuccess    SyncStatus = "success"
	SyncStatusFailed     SyncStatus = "failed"
)

// ObjectType is a remote entity name as used by the QuickBooks query language
type ObjectType string

const (
	ObjectTypeCustomer ObjectType = "Customer"
	ObjectTypeInvoice  ObjectType = "Invoice"
)

// ObjectTypes lists every synced object type in processing order
var ObjectTypes = []ObjectType{ObjectTypeCustomer, ObjectTypeInvoice}

// Valid reports whether t is a known object type
func (t ObjectType) Valid() bool {
	for _, known := range ObjectTypes {
		if t == known {
			return true
		}
	}
	return false
}

// SyncState tracks one (account, object type) pairing.
// Checkpoint is the highest LastUpdatedTime whose records are all committed.
type SyncState struct {
	ID                  string     `gorm:"column:id;primaryKey"`
	AccountID           string     `gorm:"column:account_id;uniqueIndex:idx_sync_states_account_object"`
	ObjectType          ObjectType `gorm:"column:object_type;uniqueIndex:idx_sync_states_account_object"`
	Status              SyncStatus `gorm:"column:status"`
	LastAttemptAt       *time.Time `gorm:"column:last_attempt_at"`
	LastSuccessAt       *time.Time `gorm:"column:last_success_at"`
	Checkpoint          *time.Time `gorm:"column:checkpoint"`
	ConsecutiveFailures int        `gorm:"column:consecutive_failures"`
	LastError           *string    `gorm:"column:last_error"`
	CreatedAt           time.Time  `gorm:"column:created_at"`
	UpdatedAt           time.Time  `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (SyncState) TableName() string {
	return "sync_states"
}
