package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vipul43/qbo-sync-worker/internal/models"
	"github.com/vipul43/qbo-sync-worker/internal/quickbooks"
	"github.com/vipul43/qbo-sync-worker/internal/repository"
	"github.com/vipul43/qbo-sync-worker/internal/service"
)

// AccountAPI is what the handlers need from the account service
type AccountAPI interface {
	Authorize(ctx context.Context, code, realmID, redirectURI string) (*models.Account, error)
	List(ctx context.Context) ([]models.Account, error)
	Status(ctx context.Context, realmID string) (*service.AccountStatus, error)
	StatusAll(ctx context.Context) ([]service.AccountStatus, error)
	Customers(ctx context.Context, realmID string) ([]models.Customer, error)
	Invoices(ctx context.Context, realmID string) ([]models.Invoice, error)
}

// SyncAPI triggers sync cycles synchronously
type SyncAPI interface {
	SyncAll(ctx context.Context) (*service.SyncReport, error)
	SyncAccount(ctx context.Context, realmID string) (*service.AccountResult, error)
}

type Handler struct {
	accounts AccountAPI
	syncer   SyncAPI
	now      func() time.Time
}

func NewHandler(accounts AccountAPI, syncer SyncAPI) *Handler {
	return &Handler{accounts: accounts, syncer: syncer, now: time.Now}
}

type authorizeRequest struct {
	Code        string `json:"code" binding:"required"`
	RealmID     string `json:"realm_id" binding:"required"`
	RedirectURI string `json:"redirect_uri"`
}

// Authorize handles POST /api/qbo/authorize
func (h *Handler) Authorize(c *gin.Context) {
	var req authorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, CodeValidationError, "code and realm_id are required")
		return
	}

	account, err := h.accounts.Authorize(c.Request.Context(), req.Code, req.RealmID, req.RedirectURI)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidInput):
			writeError(c, http.StatusBadRequest, CodeValidationError, err.Error())
		case isRemoteError(err):
			writeError(c, http.StatusBadRequest, CodeAuthorizationFailed, err.Error())
		default:
			writeError(c, http.StatusInternalServerError, CodeInternalError, err.Error())
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"account": newAccountResponse(*account, h.now()),
	})
}

// ListAccounts handles GET /api/qbo/accounts
func (h *Handler) ListAccounts(c *gin.Context) {
	accounts, err := h.accounts.List(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, CodeInternalError, err.Error())
		return
	}

	now := h.now()
	results := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		results = append(results, newAccountResponse(a, now))
	}
	c.JSON(http.StatusOK, listResponse{Count: len(results), Results: results})
}

type syncRequest struct {
	RealmID string `json:"realm_id"`
}

// Sync handles POST /api/qbo/sync. The call blocks until the cycle is done.
func (h *Handler) Sync(c *gin.Context) {
	var req syncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, CodeValidationError, "invalid request body")
			return
		}
	}
	if req.RealmID == "" {
		req.RealmID = c.Query("realm_id")
	}
	req.RealmID = strings.TrimSpace(req.RealmID)

	if req.RealmID == "" {
		report, err := h.syncer.SyncAll(c.Request.Context())
		if err != nil {
			writeError(c, http.StatusInternalServerError, CodeInternalError, err.Error())
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":     report.Counts()[service.PairingFailed] == 0,
			"started_at":  report.StartedAt,
			"finished_at": report.FinishedAt,
			"results":     report.Accounts,
		})
		return
	}

	result, err := h.syncer.SyncAccount(c.Request.Context(), req.RealmID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrAccountNotFound):
			writeError(c, http.StatusNotFound, CodeNotFound, "no account for realm_id "+req.RealmID)
		case errors.Is(err, service.ErrReauthorizationRequired):
			writeReauthorization(c, http.StatusUnauthorized, "account must be authorized again")
		default:
			writeError(c, http.StatusInternalServerError, CodeInternalError, err.Error())
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": !result.Failed(),
		"results": []service.AccountResult{*result},
	})
}

// SyncStatus handles GET /api/qbo/sync/status
func (h *Handler) SyncStatus(c *gin.Context) {
	realmID := strings.TrimSpace(c.Query("realm_id"))
	if realmID != "" {
		st, err := h.accounts.Status(c.Request.Context(), realmID)
		if err != nil {
			h.writeLookupError(c, err, realmID)
			return
		}
		c.JSON(http.StatusOK, newStatusResponse(*st))
		return
	}

	statuses, err := h.accounts.StatusAll(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, CodeInternalError, err.Error())
		return
	}
	results := make([]statusResponse, 0, len(statuses))
	for _, st := range statuses {
		results = append(results, newStatusResponse(st))
	}
	c.JSON(http.StatusOK, listResponse{Count: len(results), Results: results})
}

// ListCustomers handles GET /api/qbo/customers
func (h *Handler) ListCustomers(c *gin.Context) {
	realmID, ok := requireRealmID(c)
	if !ok {
		return
	}

	customers, err := h.accounts.Customers(c.Request.Context(), realmID)
	if err != nil {
		h.writeLookupError(c, err, realmID)
		return
	}

	results := make([]customerResponse, 0, len(customers))
	for _, cu := range customers {
		results = append(results, customerResponse{
			ExternalID:      cu.ExternalID,
			DisplayName:     cu.DisplayName,
			SyncToken:       cu.SyncToken,
			LastUpdatedTime: cu.LastUpdatedTime,
			RawData:         cu.RawData,
			UpdatedAt:       cu.UpdatedAt,
		})
	}
	c.JSON(http.StatusOK, listResponse{Count: len(results), Results: results})
}

// ListInvoices handles GET /api/qbo/invoices
func (h *Handler) ListInvoices(c *gin.Context) {
	realmID, ok := requireRealmID(c)
	if !ok {
		return
	}

	invoices, err := h.accounts.Invoices(c.Request.Context(), realmID)
	if err != nil {
		h.writeLookupError(c, err, realmID)
		return
	}

	results := make([]invoiceResponse, 0, len(invoices))
	for _, inv := range invoices {
		results = append(results, invoiceResponse{
			ExternalID:      inv.ExternalID,
			CustomerRef:     inv.CustomerRef,
			DocNumber:       inv.DocNumber,
			SyncToken:       inv.SyncToken,
			LastUpdatedTime: inv.LastUpdatedTime,
			RawData:         inv.RawData,
			UpdatedAt:       inv.UpdatedAt,
		})
	}
	c.JSON(http.StatusOK, listResponse{Count: len(results), Results: results})
}

func (h *Handler) writeLookupError(c *gin.Context, err error, realmID string) {
	if errors.Is(err, repository.ErrAccountNotFound) {
		writeError(c, http.StatusNotFound, CodeNotFound, "no account for realm_id "+realmID)
		return
	}
	writeError(c, http.StatusInternalServerError, CodeInternalError, err.Error())
}

func requireRealmID(c *gin.Context) (string, bool) {
	realmID := strings.TrimSpace(c.Query("realm_id"))
	if realmID == "" {
		writeError(c, http.StatusBadRequest, CodeValidationError, "realm_id query parameter is required")
		return "", false
	}
	return realmID, true
}

// isRemoteError reports failures that came from the Intuit endpoints rather than from us
func isRemoteError(err error) bool {
	var apiErr *quickbooks.APIError
	return errors.As(err, &apiErr) ||
		errors.Is(err, quickbooks.ErrInvalidGrant) ||
		errors.Is(err, quickbooks.ErrNetwork)
}
