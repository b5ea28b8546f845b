package api

import (
	"time"

	"gorm.io/datatypes"

	"github.com/vipul43/qbo-sync-worker/internal/models"
	"github.com/vipul43/qbo-sync-worker/internal/service"
)

// accountResponse never carries token values
type accountResponse struct {
	ID                    string     `json:"id"`
	RealmID               string     `json:"realm_id"`
	CompanyName           *string    `json:"company_name"`
	IsTokenExpired        bool       `json:"is_token_expired"`
	AccessTokenExpiresAt  *time.Time `json:"access_token_expires_at"`
	RefreshTokenExpiresAt *time.Time `json:"refresh_token_expires_at"`
	TokenExpiresInSeconds int64      `json:"token_expires_in_seconds"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

func newAccountResponse(a models.Account, now time.Time) accountResponse {
	return accountResponse{
		ID:                    a.ID,
		RealmID:               a.RealmID,
		CompanyName:           a.CompanyName,
		IsTokenExpired:        a.IsTokenExpired,
		AccessTokenExpiresAt:  a.AccessTokenExpiresAt,
		RefreshTokenExpiresAt: a.RefreshTokenExpiresAt,
		TokenExpiresInSeconds: int64(service.TokenExpiresIn(a, now).Seconds()),
		CreatedAt:             a.CreatedAt,
		UpdatedAt:             a.UpdatedAt,
	}
}

type syncStateResponse struct {
	ObjectType          models.ObjectType `json:"object_type"`
	Status              models.SyncStatus `json:"status"`
	LastAttemptAt       *time.Time        `json:"last_attempt_at"`
	LastSuccessAt       *time.Time        `json:"last_success_at"`
	Checkpoint          *time.Time        `json:"checkpoint"`
	ConsecutiveFailures int               `json:"consecutive_failures"`
	LastError           *string           `json:"last_error"`
}

type statusResponse struct {
	RealmID        string                      `json:"realm_id"`
	CompanyName    *string                     `json:"company_name"`
	IsTokenExpired bool                        `json:"is_token_expired"`
	RecordCounts   map[models.ObjectType]int64 `json:"record_counts"`
	SyncStates     []syncStateResponse         `json:"sync_states"`
}

func newStatusResponse(st service.AccountStatus) statusResponse {
	states := make([]syncStateResponse, 0, len(st.States))
	for _, s := range st.States {
		states = append(states, syncStateResponse{
			ObjectType:          s.ObjectType,
			Status:              s.Status,
			LastAttemptAt:       s.LastAttemptAt,
			LastSuccessAt:       s.LastSuccessAt,
			Checkpoint:          s.Checkpoint,
			ConsecutiveFailures: s.ConsecutiveFailures,
			LastError:           s.LastError,
		})
	}
	return statusResponse{
		RealmID:        st.Account.RealmID,
		CompanyName:    st.Account.CompanyName,
		IsTokenExpired: st.Account.IsTokenExpired,
		RecordCounts:   st.RecordCounts,
		SyncStates:     states,
	}
}

type customerResponse struct {
	ExternalID      string         `json:"qbo_id"`
	DisplayName     *string        `json:"display_name"`
	SyncToken       *string        `json:"sync_token"`
	LastUpdatedTime *time.Time     `json:"last_updated_time"`
	RawData         datatypes.JSON `json:"raw_data"`
	UpdatedAt       time.Time      `json:"synced_at"`
}

type invoiceResponse struct {
	ExternalID      string         `json:"qbo_id"`
	CustomerRef     *string        `json:"customer_ref"`
	DocNumber       *string        `json:"doc_number"`
	SyncToken       *string        `json:"sync_token"`
	LastUpdatedTime *time.Time     `json:"last_updated_time"`
	RawData         datatypes.JSON `json:"raw_data"`
	UpdatedAt       time.Time      `json:"synced_at"`
}

type listResponse struct {
	Count   int         `json:"count"`
	Results interface{} `json:"results"`
}
