package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vipul43/qbo-sync-worker/internal/models"
)

var (
	// ErrSyncInProgress means another attempt currently owns the pairing
	ErrSyncInProgress = errors.New("sync already in progress")
	// ErrAttemptSuperseded means the pairing was reclaimed by a newer attempt
	ErrAttemptSuperseded = errors.New("sync attempt superseded")
)

type SyncStateRepository struct {
	db *gorm.DB
}

func NewSyncStateRepository(db *gorm.DB) *SyncStateRepository {
	return &SyncStateRepository{db: db}
}

// GetOrCreate returns the state for a pairing, creating a pending row on first use
func (r *SyncStateRepository) GetOrCreate(ctx context.Context, accountID string, objectType models.ObjectType) (*models.SyncState, error) {
	state := models.SyncState{
		ID:         uuid.NewString(),
		AccountID:  accountID,
		ObjectType: objectType,
		Status:     models.SyncStatusPending,
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}, {Name: "object_type"}},
			DoNothing: true,
		}).
		Create(&state)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to create sync state: %w", result.Error)
	}

	var stored models.SyncState
	if err := r.db.WithContext(ctx).
		First(&stored, "account_id = ? AND object_type = ?", accountID, objectType).Error; err != nil {
		return nil, fmt.Errorf("failed to get sync state: %w", err)
	}
	return &stored, nil
}

// MarkStarted moves a pairing to in_progress. A pairing already in_progress is only
// reclaimed once its last attempt is older than staleAfter; otherwise ErrSyncInProgress.
// The returned LastAttemptAt identifies the attempt for MarkSuccess and MarkFailed.
func (r *SyncStateRepository) MarkStarted(ctx context.Context, accountID string, objectType models.ObjectType, now time.Time, staleAfter time.Duration) (*models.SyncState, error) {
	// postgres keeps microseconds; the attempt time must compare equal when read back
	now = now.UTC().Truncate(time.Microsecond)

	state, err := r.GetOrCreate(ctx, accountID, objectType)
	if err != nil {
		return nil, err
	}

	result := r.db.WithContext(ctx).Model(&models.SyncState{}).
		Where("id = ?", state.ID).
		Where("status <> ? OR last_attempt_at IS NULL OR last_attempt_at < ?",
			models.SyncStatusInProgress, now.Add(-staleAfter)).
		Updates(map[string]interface{}{
			"status":          models.SyncStatusInProgress,
			"last_attempt_at": now,
			"updated_at":      now,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to mark sync started: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrSyncInProgress
	}

	state.Status = models.SyncStatusInProgress
	state.LastAttemptAt = &now
	return state, nil
}

// AdvanceCheckpoint raises the checkpoint to ts. It never lowers it.
func (r *SyncStateRepository) AdvanceCheckpoint(ctx context.Context, stateID string, ts time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.SyncState{}).
		Where("id = ?", stateID).
		Where("checkpoint IS NULL OR checkpoint < ?", ts).
		Updates(map[string]interface{}{
			"checkpoint": ts,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to advance checkpoint: %w", result.Error)
	}
	return nil
}

// MarkSuccess closes the attempt started at attemptAt. A non-nil checkpoint is applied
// with the same monotonic rule. It returns ErrAttemptSuperseded if the pairing has
// since been reclaimed.
func (r *SyncStateRepository) MarkSuccess(ctx context.Context, stateID string, attemptAt time.Time, checkpoint *time.Time, now time.Time) error {
	updates := map[string]interface{}{
		"status":               models.SyncStatusSuccess,
		"last_success_at":      now,
		"consecutive_failures": 0,
		"last_error":           nil,
		"updated_at":           now,
	}
	if checkpoint != nil {
		updates["checkpoint"] = gorm.Expr("GREATEST(COALESCE(checkpoint, ?), ?)", *checkpoint, *checkpoint)
	}

	result := r.ownedAttempt(ctx, stateID, attemptAt).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to mark sync success: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAttemptSuperseded
	}
	return nil
}

// MarkFailed closes the attempt started at attemptAt as failed. The checkpoint is left as is.
func (r *SyncStateRepository) MarkFailed(ctx context.Context, stateID string, attemptAt time.Time, lastError string, now time.Time) error {
	result := r.ownedAttempt(ctx, stateID, attemptAt).
		Updates(map[string]interface{}{
			"status":               models.SyncStatusFailed,
			"consecutive_failures": gorm.Expr("consecutive_failures + 1"),
			"last_error":           lastError,
			"updated_at":           now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark sync failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAttemptSuperseded
	}
	return nil
}

func (r *SyncStateRepository) ownedAttempt(ctx context.Context, stateID string, attemptAt time.Time) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.SyncState{}).
		Where("id = ? AND status = ? AND last_attempt_at = ?",
			stateID, models.SyncStatusInProgress, attemptAt.UTC().Truncate(time.Microsecond))
}

// Get returns a pairing's state by ID
func (r *SyncStateRepository) Get(ctx context.Context, stateID string) (*models.SyncState, error) {
	var state models.SyncState
	if err := r.db.WithContext(ctx).First(&state, "id = ?", stateID).Error; err != nil {
		return nil, fmt.Errorf("failed to get sync state: %w", err)
	}
	return &state, nil
}

// ListByAccount returns all states for an account ordered by object type
func (r *SyncStateRepository) ListByAccount(ctx context.Context, accountID string) ([]models.SyncState, error) {
	var states []models.SyncState
	result := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("object_type ASC").
		Find(&states)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list sync states: %w", result.Error)
	}
	return states, nil
}
