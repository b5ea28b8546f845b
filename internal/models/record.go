package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// RemoteRecord is one entity as returned by the QuickBooks query endpoint.
// Raw keeps the full payload; the other fields are lifted out of it.
type RemoteRecord struct {
	ExternalID  string
	SyncToken   string
	LastUpdated *time.Time
	Raw         json.RawMessage
}

// Customer is a synced QuickBooks customer, unique per (account, external id)
type Customer struct {
	ID              string         `gorm:"column:id;primaryKey"`
	AccountID       string         `gorm:"column:account_id;uniqueIndex:idx_customers_account_external"`
	ExternalID      string         `gorm:"column:external_id;uniqueIndex:idx_customers_account_external"`
	DisplayName     *string        `gorm:"column:display_name"`
	SyncToken       *string        `gorm:"column:sync_token"`
	LastUpdatedTime *time.Time     `gorm:"column:last_updated_time;index"`
	RawData         datatypes.JSON `gorm:"column:raw_data;type:jsonb"`
	CreatedAt       time.Time      `gorm:"column:created_at"`
	UpdatedAt       time.Time      `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (Customer) TableName() string {
	return "customers"
}

// Invoice is a synced QuickBooks invoice, unique per (account, external id)
type Invoice struct {
	ID              string         `gorm:"column:id;primaryKey"`
	AccountID       string         `gorm:"column:account_id;uniqueIndex:idx_invoices_account_external"`
	ExternalID      string         `gorm:"column:external_id;uniqueIndex:idx_invoices_account_external"`
	CustomerRef     *string        `gorm:"column:customer_ref;index"`
	DocNumber       *string        `gorm:"column:doc_number"`
	SyncToken       *string        `gorm:"column:sync_token"`
	LastUpdatedTime *time.Time     `gorm:"column:last_updated_time;index"`
	RawData         datatypes.JSON `gorm:"column:raw_data;type:jsonb"`
	CreatedAt       time.Time      `gorm:"column:created_at"`
	UpdatedAt       time.Time      `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (Invoice) TableName() string {
	return "invoices"
}

type refField struct {
	Value string `json:"value"`
}

// NewCustomer maps a remote Customer payload onto a row for accountID.
// Unknown or missing fields are left nil; RawData keeps everything.
func NewCustomer(accountID string, rec RemoteRecord) Customer {
	var body struct {
		DisplayName string `json:"DisplayName"`
	}
	_ = json.Unmarshal(rec.Raw, &body)

	return Customer{
		ID:              uuid.NewString(),
		AccountID:       accountID,
		ExternalID:      rec.ExternalID,
		DisplayName:     optional(body.DisplayName),
		SyncToken:       optional(rec.SyncToken),
		LastUpdatedTime: rec.LastUpdated,
		RawData:         rawJSON(rec.Raw),
	}
}

// NewInvoice maps a remote Invoice payload onto a row for accountID.
func NewInvoice(accountID string, rec RemoteRecord) Invoice {
	var body struct {
		DocNumber   string   `json:"DocNumber"`
		CustomerRef refField `json:"CustomerRef"`
	}
	_ = json.Unmarshal(rec.Raw, &body)

	return Invoice{
		ID:              uuid.NewString(),
		AccountID:       accountID,
		ExternalID:      rec.ExternalID,
		CustomerRef:     optional(body.CustomerRef.Value),
		DocNumber:       optional(body.DocNumber),
		SyncToken:       optional(rec.SyncToken),
		LastUpdatedTime: rec.LastUpdated,
		RawData:         rawJSON(rec.Raw),
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func rawJSON(raw json.RawMessage) datatypes.JSON {
	if len(raw) == 0 {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(raw)
}
