package service

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vipul43/qbo-sync-worker/internal/models"
	"github.com/vipul43/qbo-sync-worker/internal/quickbooks"
	"github.com/vipul43/qbo-sync-worker/internal/repository"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeAccounts is an in-memory account table
type fakeAccounts struct {
	mu       sync.Mutex
	accounts map[string]*models.Account

	updateTokensFunc func(ctx context.Context, accountID string, expectedVersion int, tokens repository.TokenUpdate) (int, error)
}

func newFakeAccounts(accounts ...models.Account) *fakeAccounts {
	f := &fakeAccounts{accounts: make(map[string]*models.Account)}
	for i := range accounts {
		a := accounts[i]
		f.accounts[a.ID] = &a
	}
	return f
}

func (f *fakeAccounts) get(id string) models.Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.accounts[id]
}

func (f *fakeAccounts) GetByID(_ context.Context, accountID string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[accountID]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAccounts) GetByRealmID(_ context.Context, realmID string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if a.RealmID == realmID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, repository.ErrAccountNotFound
}

func (f *fakeAccounts) List(_ context.Context) ([]models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := make([]models.Account, 0, len(f.accounts))
	for _, a := range f.accounts {
		list = append(list, *a)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].RealmID < list[j].RealmID })
	return list, nil
}

func (f *fakeAccounts) ListActive(ctx context.Context) ([]models.Account, error) {
	all, _ := f.List(ctx)
	active := all[:0]
	for _, a := range all {
		if !a.IsTokenExpired {
			active = append(active, a)
		}
	}
	return active, nil
}

func (f *fakeAccounts) UpdateTokens(ctx context.Context, accountID string, expectedVersion int, tokens repository.TokenUpdate) (int, error) {
	if f.updateTokensFunc != nil {
		return f.updateTokensFunc(ctx, accountID, expectedVersion, tokens)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.accounts[accountID]
	if a.TokenVersion != expectedVersion {
		return 0, repository.ErrTokenConflict
	}
	a.AccessToken = &tokens.AccessToken
	a.RefreshToken = &tokens.RefreshToken
	a.AccessTokenExpiresAt = &tokens.AccessTokenExpiresAt
	a.RefreshTokenExpiresAt = tokens.RefreshTokenExpiresAt
	a.TokenVersion++
	return a.TokenVersion, nil
}

func (f *fakeAccounts) MarkTokenExpired(_ context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[accountID].IsTokenExpired = true
	return nil
}

func (f *fakeAccounts) MarkAccessTokenStale(_ context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[accountID].AccessTokenExpiresAt = nil
	return nil
}

func (f *fakeAccounts) UpsertFromAuthorization(_ context.Context, realmID string, tokens repository.TokenUpdate) (*models.Account, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if a.RealmID == realmID {
			a.AccessToken = &tokens.AccessToken
			a.RefreshToken = &tokens.RefreshToken
			a.AccessTokenExpiresAt = &tokens.AccessTokenExpiresAt
			a.IsTokenExpired = false
			a.TokenVersion++
			cp := *a
			return &cp, false, nil
		}
	}
	a := &models.Account{
		ID:                   uuid.NewString(),
		RealmID:              realmID,
		AccessToken:          &tokens.AccessToken,
		RefreshToken:         &tokens.RefreshToken,
		AccessTokenExpiresAt: &tokens.AccessTokenExpiresAt,
	}
	f.accounts[a.ID] = a
	cp := *a
	return &cp, true, nil
}

// fakeStates mirrors the guarded, monotonic updates of the sync_states table
type fakeStates struct {
	mu     sync.Mutex
	states map[string]*models.SyncState
}

func newFakeStates() *fakeStates {
	return &fakeStates{states: make(map[string]*models.SyncState)}
}

func pairingKey(accountID string, objectType models.ObjectType) string {
	return accountID + "/" + string(objectType)
}

func (f *fakeStates) byID(id string) *models.SyncState {
	for _, s := range f.states {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// get returns a copy of a pairing's state, or nil
func (f *fakeStates) get(accountID string, objectType models.ObjectType) *models.SyncState {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.states[pairingKey(accountID, objectType)]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

func (f *fakeStates) put(state models.SyncState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if state.ID == "" {
		state.ID = uuid.NewString()
	}
	f.states[pairingKey(state.AccountID, state.ObjectType)] = &state
}

func (f *fakeStates) MarkStarted(_ context.Context, accountID string, objectType models.ObjectType, now time.Time, staleAfter time.Duration) (*models.SyncState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := pairingKey(accountID, objectType)
	s, ok := f.states[key]
	if !ok {
		s = &models.SyncState{ID: uuid.NewString(), AccountID: accountID, ObjectType: objectType, Status: models.SyncStatusPending}
		f.states[key] = s
	}
	if s.Status == models.SyncStatusInProgress && s.LastAttemptAt != nil && !s.LastAttemptAt.Before(now.Add(-staleAfter)) {
		return nil, repository.ErrSyncInProgress
	}
	s.Status = models.SyncStatusInProgress
	s.LastAttemptAt = &now
	cp := *s
	return &cp, nil
}

func (f *fakeStates) AdvanceCheckpoint(_ context.Context, stateID string, ts time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.byID(stateID)
	if s.Checkpoint == nil || s.Checkpoint.Before(ts) {
		s.Checkpoint = &ts
	}
	return nil
}

// owns reports whether the attempt started at attemptAt still holds the pairing
func owns(s *models.SyncState, attemptAt time.Time) bool {
	return s.Status == models.SyncStatusInProgress && s.LastAttemptAt != nil && s.LastAttemptAt.Equal(attemptAt)
}

func (f *fakeStates) MarkSuccess(_ context.Context, stateID string, attemptAt time.Time, checkpoint *time.Time, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.byID(stateID)
	if !owns(s, attemptAt) {
		return repository.ErrAttemptSuperseded
	}
	s.Status = models.SyncStatusSuccess
	s.LastSuccessAt = &now
	s.ConsecutiveFailures = 0
	s.LastError = nil
	if checkpoint != nil && (s.Checkpoint == nil || s.Checkpoint.Before(*checkpoint)) {
		cp := *checkpoint
		s.Checkpoint = &cp
	}
	return nil
}

func (f *fakeStates) MarkFailed(_ context.Context, stateID string, attemptAt time.Time, lastError string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.byID(stateID)
	if !owns(s, attemptAt) {
		return repository.ErrAttemptSuperseded
	}
	s.Status = models.SyncStatusFailed
	s.ConsecutiveFailures++
	s.LastError = &lastError
	return nil
}

func (f *fakeStates) ListByAccount(_ context.Context, accountID string) ([]models.SyncState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var list []models.SyncState
	for _, s := range f.states {
		if s.AccountID == accountID {
			list = append(list, *s)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ObjectType < list[j].ObjectType })
	return list, nil
}

// fakeRecords stores records all-or-nothing per batch
type fakeRecords struct {
	mu      sync.Mutex
	records map[string]models.RemoteRecord
	// failOn rejects the whole batch when it returns an error for any record
	failOn func(accountID string, objectType models.ObjectType, rec models.RemoteRecord) error
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{records: make(map[string]models.RemoteRecord)}
}

func (f *fakeRecords) UpsertBatch(_ context.Context, accountID string, objectType models.ObjectType, records []models.RemoteRecord) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn != nil {
		for _, rec := range records {
			if err := f.failOn(accountID, objectType, rec); err != nil {
				return 0, err
			}
		}
	}
	for _, rec := range records {
		f.records[pairingKey(accountID, objectType)+"/"+rec.ExternalID] = rec
	}
	return len(records), nil
}

func (f *fakeRecords) has(accountID string, objectType models.ObjectType, externalID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.records[pairingKey(accountID, objectType)+"/"+externalID]
	return ok
}

func (f *fakeRecords) Count(_ context.Context, accountID string, objectType models.ObjectType) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := pairingKey(accountID, objectType) + "/"
	var n int64
	for k := range f.records {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			n++
		}
	}
	return n, nil
}

func (f *fakeRecords) ListCustomers(context.Context, string) ([]models.Customer, error) {
	return nil, nil
}

func (f *fakeRecords) ListInvoices(context.Context, string) ([]models.Invoice, error) {
	return nil, nil
}

// fakeRemote serves a sorted dataset the way the query endpoint does:
// strictly newer than since, offset by startPosition.
type fakeRemote struct {
	mu    sync.Mutex
	data  map[string][]models.RemoteRecord
	calls []remoteCall
	// errFor, when set, can fail a request before it is served
	errFor func(call remoteCall) error
	// beforeServe runs with the lock held, ahead of every served request
	beforeServe func(call remoteCall)
}

type remoteCall struct {
	realmID       string
	objectType    models.ObjectType
	since         *time.Time
	startPosition int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{data: make(map[string][]models.RemoteRecord)}
}

func (f *fakeRemote) add(realmID string, objectType models.ObjectType, records ...models.RemoteRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := realmID + "/" + string(objectType)
	f.data[key] = append(f.data[key], records...)
	sort.SliceStable(f.data[key], func(i, j int) bool {
		return f.data[key][i].LastUpdated.Before(*f.data[key][j].LastUpdated)
	})
}

func (f *fakeRemote) Query(_ context.Context, realmID, _ string, objectType models.ObjectType, since *time.Time, startPosition, maxResults int) ([]models.RemoteRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := remoteCall{realmID, objectType, since, startPosition}
	f.calls = append(f.calls, call)
	if f.errFor != nil {
		if err := f.errFor(call); err != nil {
			return nil, err
		}
	}
	if f.beforeServe != nil {
		f.beforeServe(call)
	}

	var matched []models.RemoteRecord
	for _, rec := range f.data[realmID+"/"+string(objectType)] {
		if since == nil || rec.LastUpdated.After(*since) {
			matched = append(matched, rec)
		}
	}
	from := startPosition - 1
	if from >= len(matched) {
		return nil, nil
	}
	to := from + maxResults
	if to > len(matched) {
		to = len(matched)
	}
	return append([]models.RemoteRecord(nil), matched[from:to]...), nil
}

// touchLocked gives a record a new LastUpdatedTime, as an upstream edit would.
// Callers hold f.mu.
func (f *fakeRemote) touchLocked(realmID string, objectType models.ObjectType, id string, ts time.Time) {
	key := realmID + "/" + string(objectType)
	for i := range f.data[key] {
		if f.data[key][i].ExternalID == id {
			f.data[key][i].LastUpdated = &ts
		}
	}
	sort.SliceStable(f.data[key], func(i, j int) bool {
		return f.data[key][i].LastUpdated.Before(*f.data[key][j].LastUpdated)
	})
}

func (f *fakeRemote) callsFor(realmID string, objectType models.ObjectType) []remoteCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []remoteCall
	for _, c := range f.calls {
		if c.realmID == realmID && c.objectType == objectType {
			out = append(out, c)
		}
	}
	return out
}

// fakeTokenProvider hands out a static token unless tokenFunc says otherwise
type fakeTokenProvider struct {
	mu          sync.Mutex
	tokenFunc   func(ctx context.Context, accountID string) (string, error)
	invalidated []string
}

func (f *fakeTokenProvider) EnsureValidToken(ctx context.Context, accountID string) (string, error) {
	if f.tokenFunc != nil {
		return f.tokenFunc(ctx, accountID)
	}
	return "access-token", nil
}

func (f *fakeTokenProvider) Invalidate(_ context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, accountID)
	return nil
}

// fakeRefresher returns scripted token endpoint results
type fakeRefresher struct {
	mu    sync.Mutex
	calls []string
	next  func(refreshToken string) (*quickbooks.Tokens, error)
}

func (f *fakeRefresher) Refresh(_ context.Context, refreshToken string) (*quickbooks.Tokens, error) {
	f.mu.Lock()
	f.calls = append(f.calls, refreshToken)
	f.mu.Unlock()
	return f.next(refreshToken)
}

func (f *fakeRefresher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func remoteRecord(id string, ts time.Time) models.RemoteRecord {
	return models.RemoteRecord{ExternalID: id, LastUpdated: &ts, Raw: []byte(`{"Id":"` + id + `"}`)}
}

func strPtr(s string) *string { return &s }
