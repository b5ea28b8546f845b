package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vipul43/qbo-sync-worker/internal/models"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	// ErrTokenConflict means another writer rotated the tokens first
	ErrTokenConflict = errors.New("token version conflict")
)

// TokenUpdate carries a freshly issued token pair
type TokenUpdate struct {
	AccessToken           string
	RefreshToken          string
	AccessTokenExpiresAt  time.Time
	RefreshTokenExpiresAt *time.Time
}

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// GetByID retrieves account by ID
func (r *AccountRepository) GetByID(ctx context.Context, accountID string) (*models.Account, error) {
	var account models.Account
	result := r.db.WithContext(ctx).First(&account, "id = ?", accountID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", result.Error)
	}
	return &account, nil
}

// GetByRealmID retrieves account by QuickBooks realm ID
func (r *AccountRepository) GetByRealmID(ctx context.Context, realmID string) (*models.Account, error) {
	var account models.Account
	result := r.db.WithContext(ctx).First(&account, "realm_id = ?", realmID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", result.Error)
	}
	return &account, nil
}

// List returns every account, oldest first
func (r *AccountRepository) List(ctx context.Context) ([]models.Account, error) {
	var accounts []models.Account
	result := r.db.WithContext(ctx).Order("created_at ASC").Find(&accounts)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", result.Error)
	}
	return accounts, nil
}

// ListActive returns accounts whose refresh token has not been rejected
func (r *AccountRepository) ListActive(ctx context.Context) ([]models.Account, error) {
	var accounts []models.Account
	result := r.db.WithContext(ctx).
		Where("is_token_expired = ?", false).
		Order("created_at ASC").
		Find(&accounts)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list active accounts: %w", result.Error)
	}
	return accounts, nil
}

// UpsertFromAuthorization stores tokens obtained from an authorization code.
// A new account also gets a pending sync state per object type. Returns true when created.
func (r *AccountRepository) UpsertFromAuthorization(ctx context.Context, realmID string, tokens TokenUpdate) (*models.Account, bool, error) {
	var account models.Account
	created := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.First(&account, "realm_id = ?", realmID)
		if result.Error != nil && !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return result.Error
		}

		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			account = models.Account{
				ID:                    uuid.NewString(),
				RealmID:               realmID,
				AccessToken:           &tokens.AccessToken,
				RefreshToken:          &tokens.RefreshToken,
				AccessTokenExpiresAt:  &tokens.AccessTokenExpiresAt,
				RefreshTokenExpiresAt: tokens.RefreshTokenExpiresAt,
			}
			if err := tx.Create(&account).Error; err != nil {
				return err
			}
			for _, objectType := range models.ObjectTypes {
				state := models.SyncState{
					ID:         uuid.NewString(),
					AccountID:  account.ID,
					ObjectType: objectType,
					Status:     models.SyncStatusPending,
				}
				if err := tx.Create(&state).Error; err != nil {
					return err
				}
			}
			created = true
			return nil
		}

		updates := map[string]interface{}{
			"access_token":             tokens.AccessToken,
			"refresh_token":            tokens.RefreshToken,
			"access_token_expires_at":  tokens.AccessTokenExpiresAt,
			"refresh_token_expires_at": tokens.RefreshTokenExpiresAt,
			"is_token_expired":         false,
			"token_version":            gorm.Expr("token_version + 1"),
			"updated_at":               time.Now().UTC(),
		}
		if err := tx.Model(&models.Account{}).Where("id = ?", account.ID).Updates(updates).Error; err != nil {
			return err
		}
		return tx.First(&account, "id = ?", account.ID).Error
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert account: %w", err)
	}
	return &account, created, nil
}

// UpdateTokens persists a rotated token pair if the stored version still equals expectedVersion.
// Returns the new version, or ErrTokenConflict when another writer got there first.
func (r *AccountRepository) UpdateTokens(ctx context.Context, accountID string, expectedVersion int, tokens TokenUpdate) (int, error) {
	updates := map[string]interface{}{
		"access_token":            tokens.AccessToken,
		"refresh_token":           tokens.RefreshToken,
		"access_token_expires_at": tokens.AccessTokenExpiresAt,
		"token_version":           gorm.Expr("token_version + 1"),
		"updated_at":              time.Now().UTC(),
	}
	if tokens.RefreshTokenExpiresAt != nil {
		updates["refresh_token_expires_at"] = *tokens.RefreshTokenExpiresAt
	}

	result := r.db.WithContext(ctx).Model(&models.Account{}).
		Where("id = ? AND token_version = ?", accountID, expectedVersion).
		Updates(updates)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to update tokens: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return 0, ErrTokenConflict
	}
	return expectedVersion + 1, nil
}

// MarkTokenExpired flags the account as needing re-authorization
func (r *AccountRepository) MarkTokenExpired(ctx context.Context, accountID string) error {
	result := r.db.WithContext(ctx).Model(&models.Account{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"is_token_expired": true,
			"updated_at":       time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark token expired: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// MarkAccessTokenStale clears the access token expiry so the next caller refreshes
func (r *AccountRepository) MarkAccessTokenStale(ctx context.Context, accountID string) error {
	result := r.db.WithContext(ctx).Model(&models.Account{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"access_token_expires_at": nil,
			"updated_at":              time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark access token stale: %w", result.Error)
	}
	return nil
}
