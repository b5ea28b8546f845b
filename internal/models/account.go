package models

import "time"

// Account represents a connected QuickBooks company (realm) and its OAuth credentials.
// TokenVersion is bumped on every token write and guards concurrent refreshes.
type Account struct {
	ID                    string     `gorm:"column:id;primaryKey"`
	RealmID               string     `gorm:"column:realm_id;uniqueIndex"`
	CompanyName           *string    `gorm:"column:company_name"`
	AccessToken           *string    `gorm:"column:access_token"`
	RefreshToken          *string    `gorm:"column:refresh_token"`
	AccessTokenExpiresAt  *time.Time `gorm:"column:access_token_expires_at"`
	RefreshTokenExpiresAt *time.Time `gorm:"column:refresh_token_expires_at"`
	IsTokenExpired        bool       `gorm:"column:is_token_expired"`
	TokenVersion          int        `gorm:"column:token_version"`
	CreatedAt             time.Time  `gorm:"column:created_at"`
	UpdatedAt             time.Time  `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (Account) TableName() string {
	return "qbo_accounts"
}
