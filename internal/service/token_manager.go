package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vipul43/qbo-sync-worker/internal/models"
	"github.com/vipul43/qbo-sync-worker/internal/quickbooks"
	"github.com/vipul43/qbo-sync-worker/internal/repository"
)

// TokenAccountRepository is the slice of account storage the token manager needs
type TokenAccountRepository interface {
	GetByID(ctx context.Context, accountID string) (*models.Account, error)
	UpdateTokens(ctx context.Context, accountID string, expectedVersion int, tokens repository.TokenUpdate) (int, error)
	MarkTokenExpired(ctx context.Context, accountID string) error
	MarkAccessTokenStale(ctx context.Context, accountID string) error
}

// TokenRefresher exchanges a refresh token for a new token pair
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*quickbooks.Tokens, error)
}

// TokenManager hands out valid access tokens, refreshing them shortly before expiry.
// Refreshes for one account are serialized in-process; the stored token version
// catches writers in other processes.
type TokenManager struct {
	accounts  TokenAccountRepository
	refresher TokenRefresher
	buffer    time.Duration
	now       func() time.Time
	logger    *slog.Logger

	locks sync.Map // account ID -> *sync.Mutex
}

func NewTokenManager(accounts TokenAccountRepository, refresher TokenRefresher, buffer time.Duration, logger *slog.Logger) *TokenManager {
	return &TokenManager{
		accounts:  accounts,
		refresher: refresher,
		buffer:    buffer,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "token_manager")),
	}
}

// EnsureValidToken returns an access token valid for at least the refresh buffer.
// Accounts flagged expired fail with ErrReauthorizationRequired without any network call.
func (m *TokenManager) EnsureValidToken(ctx context.Context, accountID string) (string, error) {
	mu := m.lockFor(accountID)
	mu.Lock()
	defer mu.Unlock()

	account, err := m.accounts.GetByID(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("failed to load account: %w", err)
	}
	if account.IsTokenExpired {
		return "", ErrReauthorizationRequired
	}
	if m.isFresh(account) {
		return *account.AccessToken, nil
	}
	if account.RefreshToken == nil || *account.RefreshToken == "" {
		if err := m.accounts.MarkTokenExpired(ctx, accountID); err != nil {
			return "", err
		}
		return "", fmt.Errorf("%w: no refresh token stored", ErrReauthorizationRequired)
	}

	return m.refresh(ctx, account)
}

// Invalidate forces a refresh on the next EnsureValidToken call.
// Used after the API rejects a token with 401.
func (m *TokenManager) Invalidate(ctx context.Context, accountID string) error {
	mu := m.lockFor(accountID)
	mu.Lock()
	defer mu.Unlock()

	return m.accounts.MarkAccessTokenStale(ctx, accountID)
}

func (m *TokenManager) refresh(ctx context.Context, account *models.Account) (string, error) {
	logger := m.logger.With(slog.String("realm_id", account.RealmID))

	tokens, err := m.refresher.Refresh(ctx, *account.RefreshToken)
	if err != nil {
		if errors.Is(err, quickbooks.ErrInvalidGrant) {
			tokenRefreshesTotal.WithLabelValues("invalid_grant").Inc()
			logger.Warn("Refresh token rejected, account needs reauthorization")
			if markErr := m.accounts.MarkTokenExpired(ctx, account.ID); markErr != nil {
				return "", fmt.Errorf("failed to flag expired account: %w", markErr)
			}
			return "", fmt.Errorf("%w: %v", ErrReauthorizationRequired, err)
		}
		tokenRefreshesTotal.WithLabelValues("error").Inc()
		return "", err
	}

	_, err = m.accounts.UpdateTokens(ctx, account.ID, account.TokenVersion, repository.TokenUpdate{
		AccessToken:           tokens.AccessToken,
		RefreshToken:          tokens.RefreshToken,
		AccessTokenExpiresAt:  tokens.ExpiresAt,
		RefreshTokenExpiresAt: tokens.RefreshTokenExpiresAt,
	})
	if errors.Is(err, repository.ErrTokenConflict) {
		// another process rotated first; its tokens are the ones on record
		tokenRefreshesTotal.WithLabelValues("conflict").Inc()
		current, getErr := m.accounts.GetByID(ctx, account.ID)
		if getErr != nil {
			return "", fmt.Errorf("failed to reload account: %w", getErr)
		}
		if current.IsTokenExpired {
			return "", ErrReauthorizationRequired
		}
		if !m.isFresh(current) {
			return "", fmt.Errorf("failed to refresh token: %w", err)
		}
		return *current.AccessToken, nil
	}
	if err != nil {
		tokenRefreshesTotal.WithLabelValues("error").Inc()
		return "", err
	}

	tokenRefreshesTotal.WithLabelValues("success").Inc()
	logger.Info("Access token refreshed", slog.Time("expires_at", tokens.ExpiresAt))
	return tokens.AccessToken, nil
}

func (m *TokenManager) isFresh(account *models.Account) bool {
	if account.AccessToken == nil || *account.AccessToken == "" || account.AccessTokenExpiresAt == nil {
		return false
	}
	return m.now().Add(m.buffer).Before(*account.AccessTokenExpiresAt)
}

func (m *TokenManager) lockFor(accountID string) *sync.Mutex {
	mu, _ := m.locks.LoadOrStore(accountID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}
