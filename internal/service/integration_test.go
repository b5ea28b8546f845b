package service_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vipul43/qbo-sync-worker/internal/database/dbtest"
	"github.com/vipul43/qbo-sync-worker/internal/models"
	"github.com/vipul43/qbo-sync-worker/internal/quickbooks"
	"github.com/vipul43/qbo-sync-worker/internal/repository"
	"github.com/vipul43/qbo-sync-worker/internal/service"
)

// intuitStub serves the token endpoint and a Customer query endpoint backed by a fixed list.
type intuitStub struct {
	customers []string // LastUpdatedTime per customer, ascending
	refreshes int32
}

func (s *intuitStub) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		n := atomic.AddInt32(&s.refreshes, 1)
		_, _ = fmt.Fprintf(w, `{"access_token":"access-%d","refresh_token":"refresh-%d","token_type":"bearer","expires_in":3600,"x_refresh_token_expires_in":8726400}`, n, n)
	})
	mux.HandleFunc("/v3/company/", func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("query")
		start, max := parsePaging(t, query)

		var since time.Time
		if i := strings.Index(query, "> '"); i >= 0 {
			var err error
			since, err = time.Parse("2006-01-02T15:04:05-07:00", query[i+3:i+3+25])
			require.NoError(t, err)
		}

		var items []map[string]interface{}
		if strings.Contains(query, "FROM Customer") {
			matched := 0
			for i, ts := range s.customers {
				parsed, _ := time.Parse(time.RFC3339, ts)
				if !since.IsZero() && !parsed.After(since) {
					continue
				}
				matched++
				if matched < start || len(items) >= max {
					continue
				}
				items = append(items, map[string]interface{}{
					"Id":          strconv.Itoa(i + 1),
					"SyncToken":   "0",
					"DisplayName": fmt.Sprintf("Customer %d", i+1),
					"MetaData":    map[string]string{"LastUpdatedTime": ts},
				})
			}
		}

		resp := map[string]interface{}{"QueryResponse": map[string]interface{}{}}
		if len(items) > 0 {
			resp["QueryResponse"] = map[string]interface{}{"Customer": items}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	return mux
}

func parsePaging(t *testing.T, query string) (int, int) {
	fields := strings.Fields(query)
	var start, max int
	for i, f := range fields {
		switch f {
		case "STARTPOSITION":
			start, _ = strconv.Atoi(fields[i+1])
		case "MAXRESULTS":
			max, _ = strconv.Atoi(fields[i+1])
		}
	}
	require.Positive(t, start)
	require.Positive(t, max)
	return start, max
}

func TestSyncEndToEnd(t *testing.T) {
	db := dbtest.Open(t)
	logger := dbtest.DiscardLogger()
	ctx := context.Background()

	stub := &intuitStub{customers: []string{
		"2024-01-01T10:00:00-08:00",
		"2024-01-02T10:00:00-08:00",
		"2024-01-03T10:00:00-08:00",
	}}
	srv := httptest.NewServer(stub.handler(t))
	defer srv.Close()

	accountRepo := repository.NewAccountRepository(db)
	stateRepo := repository.NewSyncStateRepository(db)
	recordRepo := repository.NewRecordRepository(db)

	oauth := quickbooks.NewOAuthClient("id", "secret", srv.URL+"/auth", srv.URL+"/token", "https://cb", srv.Client(), logger)
	executor := quickbooks.NewExecutor(srv.Client(), 3, time.Millisecond, logger)
	client := quickbooks.NewClient(srv.URL+"/v3/company", 75, executor, quickbooks.NewRateLimiterPool(quickbooks.DefaultRateLimit), logger)

	accounts := service.NewAccountService(oauth, accountRepo, stateRepo, recordRepo, logger)
	tokens := service.NewTokenManager(accountRepo, oauth, 5*time.Minute, logger)
	orch := service.NewSyncOrchestrator(accountRepo, stateRepo, tokens, client,
		service.NewCheckpointStore(recordRepo, stateRepo),
		service.OrchestratorConfig{PageSize: 2, AccountConcurrency: 2, StaleAfter: time.Hour},
		logger)

	account, err := accounts.Authorize(ctx, "auth-code", "realm-e2e", "")
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", *account.RefreshToken)
	require.NotNil(t, account.RefreshTokenExpiresAt)

	report, err := orch.SyncAll(ctx)
	require.NoError(t, err)
	require.Len(t, report.Accounts, 1)
	for _, p := range report.Accounts[0].Pairings {
		assert.Equal(t, service.PairingSuccess, p.Status, "%s: %s", p.ObjectType, p.Error)
	}

	status, err := accounts.Status(ctx, "realm-e2e")
	require.NoError(t, err)
	assert.EqualValues(t, 3, status.RecordCounts[models.ObjectTypeCustomer])
	require.Len(t, status.States, 2)
	customerState := status.States[0]
	require.Equal(t, models.ObjectTypeCustomer, customerState.ObjectType)
	require.NotNil(t, customerState.Checkpoint)
	assert.True(t, customerState.Checkpoint.Equal(time.Date(2024, 1, 3, 18, 0, 0, 0, time.UTC)))

	// second cycle sees nothing new
	report, err = orch.SyncAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Accounts[0].Pairings[0].RecordsProcessed)

	// an update upstream is picked up and overwrites in place
	stub.customers = append(stub.customers, "2024-01-04T10:00:00-08:00")
	report, err = orch.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Accounts[0].Pairings[0].RecordsProcessed)

	customers, err := accounts.Customers(ctx, "realm-e2e")
	require.NoError(t, err)
	assert.Len(t, customers, 4)

	// forcing a refresh rotates the stored refresh token
	require.NoError(t, tokens.Invalidate(ctx, account.ID))
	_, err = tokens.EnsureValidToken(ctx, account.ID)
	require.NoError(t, err)
	stored, err := accountRepo.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, "refresh-2", *stored.RefreshToken)
}
