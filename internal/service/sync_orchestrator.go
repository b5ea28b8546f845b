package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vipul43/qbo-sync-worker/internal/models"
	"github.com/vipul43/qbo-sync-worker/internal/quickbooks"
	"github.com/vipul43/qbo-sync-worker/internal/repository"
)

// SyncAccountRepository lists the accounts a cycle runs over
type SyncAccountRepository interface {
	ListActive(ctx context.Context) ([]models.Account, error)
	GetByRealmID(ctx context.Context, realmID string) (*models.Account, error)
}

// SyncStateStore owns the per-pairing state machine rows
type SyncStateStore interface {
	MarkStarted(ctx context.Context, accountID string, objectType models.ObjectType, now time.Time, staleAfter time.Duration) (*models.SyncState, error)
	MarkSuccess(ctx context.Context, stateID string, attemptAt time.Time, checkpoint *time.Time, now time.Time) error
	MarkFailed(ctx context.Context, stateID string, attemptAt time.Time, lastError string, now time.Time) error
}

// TokenProvider supplies access tokens per account
type TokenProvider interface {
	EnsureValidToken(ctx context.Context, accountID string) (string, error)
	Invalidate(ctx context.Context, accountID string) error
}

// PairingStatus is the outcome of one pairing in a report
type PairingStatus string

const (
	PairingSuccess PairingStatus = "success"
	PairingFailed  PairingStatus = "failed"
	// PairingSkipped means another attempt still owns the pairing
	PairingSkipped PairingStatus = "skipped"
)

type PairingResult struct {
	ObjectType       models.ObjectType `json:"object_type"`
	Status           PairingStatus     `json:"status"`
	RecordsProcessed int               `json:"records_processed"`
	Checkpoint       *time.Time        `json:"checkpoint,omitempty"`
	Error            string            `json:"error,omitempty"`
}

type AccountResult struct {
	AccountID string          `json:"account_id"`
	RealmID   string          `json:"realm_id"`
	Pairings  []PairingResult `json:"pairings"`
}

// Failed reports whether any pairing of the account failed
func (r AccountResult) Failed() bool {
	for _, p := range r.Pairings {
		if p.Status == PairingFailed {
			return true
		}
	}
	return false
}

type SyncReport struct {
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Accounts   []AccountResult `json:"accounts"`
}

// Counts tallies pairing outcomes across the report
func (r *SyncReport) Counts() map[PairingStatus]int {
	counts := make(map[PairingStatus]int)
	for _, a := range r.Accounts {
		for _, p := range a.Pairings {
			counts[p.Status]++
		}
	}
	return counts
}

type OrchestratorConfig struct {
	PageSize           int
	AccountConcurrency int
	StaleAfter         time.Duration
}

// SyncOrchestrator runs accounts × object types, one failure boundary per pairing.
type SyncOrchestrator struct {
	accounts SyncAccountRepository
	states   SyncStateStore
	tokens   TokenProvider
	querier  quickbooks.Querier
	store    *CheckpointStore
	cfg      OrchestratorConfig
	now      func() time.Time
	logger   *slog.Logger
}

func NewSyncOrchestrator(
	accounts SyncAccountRepository,
	states SyncStateStore,
	tokens TokenProvider,
	querier quickbooks.Querier,
	store *CheckpointStore,
	cfg OrchestratorConfig,
	logger *slog.Logger,
) *SyncOrchestrator {
	if cfg.AccountConcurrency < 1 {
		cfg.AccountConcurrency = 1
	}
	return &SyncOrchestrator{
		accounts: accounts,
		states:   states,
		tokens:   tokens,
		querier:  querier,
		store:    store,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.With(slog.String("component", "sync_orchestrator")),
	}
}

// SyncAll runs one cycle over every account not flagged for reauthorization.
func (o *SyncOrchestrator) SyncAll(ctx context.Context) (*SyncReport, error) {
	accounts, err := o.accounts.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return o.RunSyncCycle(ctx, accounts), nil
}

// SyncAccount runs one cycle for a single realm.
func (o *SyncOrchestrator) SyncAccount(ctx context.Context, realmID string) (*AccountResult, error) {
	account, err := o.accounts.GetByRealmID(ctx, realmID)
	if err != nil {
		return nil, err
	}
	if account.IsTokenExpired {
		return nil, ErrReauthorizationRequired
	}

	result := o.syncAccount(ctx, *account)
	return &result, nil
}

// RunSyncCycle syncs every pairing of the given accounts and never fails as a whole;
// errors end up in the report and in each pairing's state.
func (o *SyncOrchestrator) RunSyncCycle(ctx context.Context, accounts []models.Account) *SyncReport {
	report := &SyncReport{
		StartedAt: o.now(),
		Accounts:  make([]AccountResult, len(accounts)),
	}

	g := new(errgroup.Group)
	g.SetLimit(o.cfg.AccountConcurrency)
	for i := range accounts {
		g.Go(func() error {
			report.Accounts[i] = o.syncAccount(ctx, accounts[i])
			return nil
		})
	}
	_ = g.Wait()

	report.FinishedAt = o.now()
	counts := report.Counts()
	o.logger.Info("Sync cycle finished",
		slog.Int("accounts", len(accounts)),
		slog.Int("succeeded", counts[PairingSuccess]),
		slog.Int("failed", counts[PairingFailed]),
		slog.Int("skipped", counts[PairingSkipped]),
		slog.Duration("duration", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report
}

// syncAccount runs the object types of one account in order.
func (o *SyncOrchestrator) syncAccount(ctx context.Context, account models.Account) AccountResult {
	result := AccountResult{
		AccountID: account.ID,
		RealmID:   account.RealmID,
		Pairings:  make([]PairingResult, 0, len(models.ObjectTypes)),
	}
	for _, objectType := range models.ObjectTypes {
		result.Pairings = append(result.Pairings, o.syncPairing(ctx, account, objectType))
	}
	return result
}

func (o *SyncOrchestrator) syncPairing(ctx context.Context, account models.Account, objectType models.ObjectType) (result PairingResult) {
	logger := o.logger.With(
		slog.String("realm_id", account.RealmID),
		slog.String("object_type", string(objectType)),
	)
	result.ObjectType = objectType
	started := time.Now()

	state, err := o.states.MarkStarted(ctx, account.ID, objectType, o.now(), o.cfg.StaleAfter)
	if errors.Is(err, repository.ErrSyncInProgress) {
		logger.Info("Pairing already in progress, skipping")
		result.Status = PairingSkipped
		pairingsTotal.WithLabelValues(string(objectType), string(PairingSkipped)).Inc()
		return result
	}
	if err != nil {
		logger.Error("Failed to start pairing", slog.String("error", err.Error()))
		result.Status = PairingFailed
		result.Error = err.Error()
		pairingsTotal.WithLabelValues(string(objectType), string(PairingFailed)).Inc()
		return result
	}

	defer func() {
		if r := recover(); r != nil {
			result = o.fail(ctx, logger, account, state, result, fmt.Errorf("panic: %v", r))
		}
		pairingsTotal.WithLabelValues(string(objectType), string(result.Status)).Inc()
		pairingDuration.WithLabelValues(string(objectType), string(result.Status)).Observe(time.Since(started).Seconds())
	}()

	tokenFn := func(ctx context.Context) (string, error) {
		return o.tokens.EnsureValidToken(ctx, account.ID)
	}
	pager := quickbooks.NewPager(o.querier, account.RealmID, objectType, state.Checkpoint, o.cfg.PageSize, tokenFn)

	var maxSeen *time.Time
	for {
		page, err := pager.Next(ctx)
		if errors.Is(err, quickbooks.ErrNoMorePages) {
			break
		}
		if err != nil {
			return o.fail(ctx, logger, account, state, result, err)
		}

		commit, err := o.store.CommitBatch(ctx, state, page.Records, page.SafeCheckpoint())
		if err != nil {
			return o.fail(ctx, logger, account, state, result, err)
		}
		result.RecordsProcessed += commit.Committed
		recordsTotal.WithLabelValues(string(objectType)).Add(float64(commit.Committed))
		if page.MaxUpdated != nil && (maxSeen == nil || page.MaxUpdated.After(*maxSeen)) {
			maxSeen = page.MaxUpdated
		}

		logger.Debug("Batch committed",
			slog.Int("page", page.Number),
			slog.Int("records", commit.Committed),
			slog.Any("next_since", pager.Since()),
		)
	}

	finalCtx, cancel := finalizeContext(ctx)
	defer cancel()
	err = o.states.MarkSuccess(finalCtx, state.ID, *state.LastAttemptAt, maxSeen, o.now())
	if errors.Is(err, repository.ErrAttemptSuperseded) {
		logger.Warn("Pairing was reclaimed by a newer attempt", slog.Int("records", result.RecordsProcessed))
		result.Status = PairingSkipped
		result.Error = err.Error()
		return result
	}
	if err != nil {
		logger.Error("Failed to record success", slog.String("error", err.Error()))
		result.Status = PairingFailed
		result.Error = err.Error()
		return result
	}

	result.Status = PairingSuccess
	result.Checkpoint = laterOf(state.Checkpoint, maxSeen)
	logger.Info("Pairing synced", slog.Int("records", result.RecordsProcessed))
	return result
}

// fail records a failed attempt. The checkpoint keeps whatever the committed
// batches of this run advanced it to.
func (o *SyncOrchestrator) fail(ctx context.Context, logger *slog.Logger, account models.Account, state *models.SyncState, result PairingResult, cause error) PairingResult {
	finalCtx, cancel := finalizeContext(ctx)
	defer cancel()

	if quickbooks.IsUnauthorized(cause) {
		if err := o.tokens.Invalidate(finalCtx, account.ID); err != nil {
			logger.Error("Failed to invalidate access token", slog.String("error", err.Error()))
		}
	}

	if err := o.states.MarkFailed(finalCtx, state.ID, *state.LastAttemptAt, cause.Error(), o.now()); err != nil {
		if errors.Is(err, repository.ErrAttemptSuperseded) {
			logger.Warn("Pairing was reclaimed by a newer attempt, failure not recorded")
		} else {
			logger.Error("Failed to record failure", slog.String("error", err.Error()))
		}
	}

	logger.Error("Pairing failed",
		slog.Int("records", result.RecordsProcessed),
		slog.String("error", cause.Error()),
	)
	result.Status = PairingFailed
	result.Error = cause.Error()
	return result
}

// finalizeContext outlives cancellation of ctx so a run interrupted by shutdown
// is still recorded as failed.
func finalizeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
}

func laterOf(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.After(*a):
		return b
	default:
		return a
	}
}
