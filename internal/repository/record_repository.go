package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vipul43/qbo-sync-worker/internal/models"
)

var recordConflict = []clause.Column{{Name: "account_id"}, {Name: "external_id"}}

// RecordRepository stores synced Customers and Invoices
type RecordRepository struct {
	db *gorm.DB
}

func NewRecordRepository(db *gorm.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// UpsertBatch writes every record in one transaction, keyed by (account, external id).
// Existing rows are overwritten. Any failure rolls back the whole batch.
func (r *RecordRepository) UpsertBatch(ctx context.Context, accountID string, objectType models.ObjectType, records []models.RemoteRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, rec := range records {
			if err := upsertOne(tx, accountID, objectType, rec); err != nil {
				return fmt.Errorf("record %d (id %q): %w", i, rec.ExternalID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upsert %s batch: %w", objectType, err)
	}
	return len(records), nil
}

func upsertOne(tx *gorm.DB, accountID string, objectType models.ObjectType, rec models.RemoteRecord) error {
	switch objectType {
	case models.ObjectTypeCustomer:
		row := models.NewCustomer(accountID, rec)
		return tx.Clauses(clause.OnConflict{
			Columns: recordConflict,
			DoUpdates: clause.AssignmentColumns([]string{
				"display_name", "sync_token", "last_updated_time", "raw_data", "updated_at",
			}),
		}).Create(&row).Error
	case models.ObjectTypeInvoice:
		row := models.NewInvoice(accountID, rec)
		return tx.Clauses(clause.OnConflict{
			Columns: recordConflict,
			DoUpdates: clause.AssignmentColumns([]string{
				"customer_ref", "doc_number", "sync_token", "last_updated_time", "raw_data", "updated_at",
			}),
		}).Create(&row).Error
	default:
		return fmt.Errorf("unsupported object type %q", objectType)
	}
}

// ListCustomers returns an account's customers, most recently updated first
func (r *RecordRepository) ListCustomers(ctx context.Context, accountID string) ([]models.Customer, error) {
	var customers []models.Customer
	result := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("last_updated_time DESC NULLS LAST").
		Find(&customers)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list customers: %w", result.Error)
	}
	return customers, nil
}

// ListInvoices returns an account's invoices, most recently updated first
func (r *RecordRepository) ListInvoices(ctx context.Context, accountID string) ([]models.Invoice, error) {
	var invoices []models.Invoice
	result := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("last_updated_time DESC NULLS LAST").
		Find(&invoices)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", result.Error)
	}
	return invoices, nil
}

// Count returns how many records of objectType an account holds
func (r *RecordRepository) Count(ctx context.Context, accountID string, objectType models.ObjectType) (int64, error) {
	var count int64
	q := r.db.WithContext(ctx).Where("account_id = ?", accountID)
	switch objectType {
	case models.ObjectTypeCustomer:
		q = q.Model(&models.Customer{})
	case models.ObjectTypeInvoice:
		q = q.Model(&models.Invoice{})
	default:
		return 0, fmt.Errorf("unsupported object type %q", objectType)
	}
	if err := q.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count %s records: %w", objectType, err)
	}
	return count, nil
}
