package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vipul43/qbo-sync-worker/internal/models"
	"github.com/vipul43/qbo-sync-worker/internal/quickbooks"
	"github.com/vipul43/qbo-sync-worker/internal/repository"
)

// CodeExchanger trades an authorization code for tokens
type CodeExchanger interface {
	Exchange(ctx context.Context, code, redirectURI string) (*quickbooks.Tokens, error)
}

// AccountStore is the account storage used by AccountService
type AccountStore interface {
	UpsertFromAuthorization(ctx context.Context, realmID string, tokens repository.TokenUpdate) (*models.Account, bool, error)
	List(ctx context.Context) ([]models.Account, error)
	GetByRealmID(ctx context.Context, realmID string) (*models.Account, error)
}

// SyncStateReader lists a pairing's states for the status view
type SyncStateReader interface {
	ListByAccount(ctx context.Context, accountID string) ([]models.SyncState, error)
}

// RecordReader reads synced records back
type RecordReader interface {
	Count(ctx context.Context, accountID string, objectType models.ObjectType) (int64, error)
	ListCustomers(ctx context.Context, accountID string) ([]models.Customer, error)
	ListInvoices(ctx context.Context, accountID string) ([]models.Invoice, error)
}

// AccountStatus is the sync health read model of one account
type AccountStatus struct {
	Account      models.Account
	RecordCounts map[models.ObjectType]int64
	States       []models.SyncState
}

// AccountService covers connecting companies and reading their sync data.
type AccountService struct {
	exchanger CodeExchanger
	accounts  AccountStore
	states    SyncStateReader
	records   RecordReader
	logger    *slog.Logger
}

func NewAccountService(exchanger CodeExchanger, accounts AccountStore, states SyncStateReader, records RecordReader, logger *slog.Logger) *AccountService {
	return &AccountService{
		exchanger: exchanger,
		accounts:  accounts,
		states:    states,
		records:   records,
		logger:    logger.With(slog.String("component", "account_service")),
	}
}

// Authorize exchanges code for tokens and stores them for realmID,
// creating the account and its sync states on first connection.
func (s *AccountService) Authorize(ctx context.Context, code, realmID, redirectURI string) (*models.Account, error) {
	code = strings.TrimSpace(code)
	realmID = strings.TrimSpace(realmID)
	if code == "" || realmID == "" {
		return nil, fmt.Errorf("%w: code and realm_id are required", ErrInvalidInput)
	}

	tokens, err := s.exchanger.Exchange(ctx, code, redirectURI)
	if err != nil {
		return nil, err
	}

	account, created, err := s.accounts.UpsertFromAuthorization(ctx, realmID, repository.TokenUpdate{
		AccessToken:           tokens.AccessToken,
		RefreshToken:          tokens.RefreshToken,
		AccessTokenExpiresAt:  tokens.ExpiresAt,
		RefreshTokenExpiresAt: tokens.RefreshTokenExpiresAt,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Account authorized",
		slog.String("realm_id", realmID),
		slog.Bool("created", created),
	)
	return account, nil
}

// List returns every connected account
func (s *AccountService) List(ctx context.Context) ([]models.Account, error) {
	return s.accounts.List(ctx)
}

// Status returns the sync health of one realm
func (s *AccountService) Status(ctx context.Context, realmID string) (*AccountStatus, error) {
	account, err := s.accounts.GetByRealmID(ctx, realmID)
	if err != nil {
		return nil, err
	}
	return s.status(ctx, *account)
}

// StatusAll returns the sync health of every account
func (s *AccountService) StatusAll(ctx context.Context) ([]AccountStatus, error) {
	accounts, err := s.accounts.List(ctx)
	if err != nil {
		return nil, err
	}

	statuses := make([]AccountStatus, 0, len(accounts))
	for _, account := range accounts {
		st, err := s.status(ctx, account)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, *st)
	}
	return statuses, nil
}

func (s *AccountService) status(ctx context.Context, account models.Account) (*AccountStatus, error) {
	states, err := s.states.ListByAccount(ctx, account.ID)
	if err != nil {
		return nil, err
	}

	counts := make(map[models.ObjectType]int64, len(models.ObjectTypes))
	for _, objectType := range models.ObjectTypes {
		n, err := s.records.Count(ctx, account.ID, objectType)
		if err != nil {
			return nil, err
		}
		counts[objectType] = n
	}

	return &AccountStatus{Account: account, RecordCounts: counts, States: states}, nil
}

// Customers lists the synced customers of realmID
func (s *AccountService) Customers(ctx context.Context, realmID string) ([]models.Customer, error) {
	account, err := s.accounts.GetByRealmID(ctx, realmID)
	if err != nil {
		return nil, err
	}
	return s.records.ListCustomers(ctx, account.ID)
}

// Invoices lists the synced invoices of realmID
func (s *AccountService) Invoices(ctx context.Context, realmID string) ([]models.Invoice, error) {
	account, err := s.accounts.GetByRealmID(ctx, realmID)
	if err != nil {
		return nil, err
	}
	return s.records.ListInvoices(ctx, account.ID)
}

// TokenExpiresIn is a display helper for the remaining access token lifetime
func TokenExpiresIn(account models.Account, now time.Time) time.Duration {
	if account.AccessTokenExpiresAt == nil {
		return 0
	}
	if d := account.AccessTokenExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}
