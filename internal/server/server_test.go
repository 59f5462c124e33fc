package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	billingevent "github.com/smallbiznis/tokenledger/internal/billingevent/domain"
	"github.com/smallbiznis/tokenledger/internal/config"
	ledgerdomain "github.com/smallbiznis/tokenledger/internal/ledger/domain"
	"github.com/smallbiznis/tokenledger/internal/observability"
	"github.com/smallbiznis/tokenledger/internal/portal"
	reconciledomain "github.com/smallbiznis/tokenledger/internal/reconcile/domain"
	"github.com/smallbiznis/tokenledger/internal/tier"
	"github.com/smallbiznis/tokenledger/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIngester struct {
	payload []byte
	headers http.Header
	result  reconciledomain.Result
	err     error
}

func (f *fakeIngester) Ingest(_ context.Context, payload []byte, headers http.Header) (reconciledomain.Result, error) {
	f.payload = payload
	f.headers = headers
	return f.result, f.err
}

type fakeLedger struct {
	balances map[string]ledgerdomain.BalanceView
	lastPage pagination.Pagination
	err      error
}

func (f *fakeLedger) GetBalance(_ context.Context, accountID string) (ledgerdomain.BalanceView, error) {
	if f.err != nil {
		return ledgerdomain.BalanceView{}, f.err
	}
	view := f.balances[accountID]
	view.AccountID = accountID
	return view, nil
}

func (f *fakeLedger) ListEntries(_ context.Context, accountID string, page pagination.Pagination) (ledgerdomain.EntryPage, error) {
	f.lastPage = page
	if f.err != nil {
		return ledgerdomain.EntryPage{}, f.err
	}
	return ledgerdomain.EntryPage{Entries: []ledgerdomain.EntryView{{EventID: "evt_1", Kind: ledgerdomain.EntryKindAllocation, Delta: 15000}}}, nil
}

type fakePortal struct {
	accounts []string
	err      error
}

func (f *fakePortal) CreateSession(_ context.Context, accountID string) (string, error) {
	f.accounts = append(f.accounts, accountID)
	if f.err != nil {
		return "", f.err
	}
	return "https://billing.example.test/p/" + accountID, nil
}

type testDeps struct {
	ingester *fakeIngester
	ledger   *fakeLedger
	portal   *fakePortal
}

func newTestServer(t *testing.T) (*Server, *testDeps) {
	t.Helper()
	catalog, err := tier.NewCatalog([]tier.TierDefinition{
		{ID: "basic", TokenGrant: 15000, UnitPriceMinor: 900, BillingInterval: tier.IntervalMonth, PriceIDs: []string{"price_basic"}},
	})
	require.NoError(t, err)

	deps := &testDeps{
		ingester: &fakeIngester{},
		ledger:   &fakeLedger{balances: map[string]ledgerdomain.BalanceView{}},
		portal:   &fakePortal{},
	}
	s := &Server{
		engine:    NewEngine(observability.Config{}),
		cfg:       config.Config{IdentityHeader: "X-Account-ID"},
		webhooks:  deps.ingester,
		ledgerSvc: deps.ledger,
		portalSvc: deps.portal,
		catalog:   catalog,
	}
	s.registerRoutes()
	return s, deps
}

func do(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestWebhookAcknowledges(t *testing.T) {
	s, deps := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", strings.NewReader(`{"id":"evt_1"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rec := do(s, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())
	assert.Equal(t, `{"id":"evt_1"}`, string(deps.ingester.payload))
	assert.Equal(t, "t=1,v1=abc", deps.ingester.headers.Get("Stripe-Signature"))
}

func TestWebhookReportsDuplicate(t *testing.T) {
	s, deps := newTestServer(t)
	deps.ingester.result = reconciledomain.Result{Duplicate: true}

	rec := do(s, httptest.NewRequest(http.MethodPost, "/webhooks/billing", strings.NewReader(`{}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true,"duplicate":true}`, rec.Body.String())
}

func TestWebhookErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"bad signature", billingevent.ErrInvalidSignature, http.StatusBadRequest, "invalid_signature"},
		{"bad payload", billingevent.ErrInvalidPayload, http.StatusBadRequest, "invalid_payload"},
		{"persistence", reconciledomain.ErrPersistence, http.StatusServiceUnavailable, "service_unavailable"},
		{"missing secret", billingevent.ErrInvalidConfig, http.StatusServiceUnavailable, "service_unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, deps := newTestServer(t)
			deps.ingester.err = tc.err

			rec := do(s, httptest.NewRequest(http.MethodPost, "/webhooks/billing", strings.NewReader(`{}`)))

			require.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.kind, decodeError(t, rec).Type)
		})
	}
}

func TestWebhookRejectsOversizedBody(t *testing.T) {
	s, deps := newTestServer(t)

	body := bytes.Repeat([]byte("a"), maxWebhookBodyBytes+1)
	rec := do(s, httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewReader(body)))

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Nil(t, deps.ingester.payload)
}

func TestCreditsRequiresIdentity(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(s, httptest.NewRequest(http.MethodGet, "/credits", nil))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeError(t, rec).Type)
}

func TestCreditsReturnsBalance(t *testing.T) {
	s, deps := newTestServer(t)
	expiry := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	deps.ledger.balances["acct_1"] = ledgerdomain.BalanceView{ExpiringTokens: 25000, NonexpiringTokens: 10, ExpiringTokensExpiry: &expiry}

	req := httptest.NewRequest(http.MethodGet, "/credits", nil)
	req.Header.Set("X-Account-ID", "acct_1")
	rec := do(s, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"expiringTokens":25000,"nonexpiringTokens":10,"expiringTokensExpiry":"2026-11-01T00:00:00Z"}`, rec.Body.String())
}

func TestLedgerEntriesAcceptsLimitAlias(t *testing.T) {
	s, deps := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/credits/ledger?limit=5", nil)
	req.Header.Set("X-Account-ID", "acct_1")
	rec := do(s, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, deps.ledger.lastPage.PageSize)
	assert.Contains(t, rec.Body.String(), `"eventId":"evt_1"`)
}

func TestLedgerEntriesRejectsBadInput(t *testing.T) {
	s, deps := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/credits/ledger?page_size=abc", nil)
	req.Header.Set("X-Account-ID", "acct_1")
	rec := do(s, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	deps.ledger.err = pagination.ErrInvalidPageToken
	req = httptest.NewRequest(http.MethodGet, "/credits/ledger?page_token=zzz", nil)
	req.Header.Set("X-Account-ID", "acct_1")
	rec = do(s, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decodeError(t, rec).Type)
}

func TestPortalSession(t *testing.T) {
	s, deps := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/billing/portal-session", nil)
	req.Header.Set("X-Account-ID", "acct_1")
	rec := do(s, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"url":"https://billing.example.test/p/acct_1"}`, rec.Body.String())
	assert.Equal(t, []string{"acct_1"}, deps.portal.accounts)
}

func TestPortalSessionWithoutCustomer(t *testing.T) {
	s, deps := newTestServer(t)
	deps.portal.err = portal.ErrCustomerNotFound

	req := httptest.NewRequest(http.MethodPost, "/billing/portal-session", nil)
	req.Header.Set("X-Account-ID", "acct_1")
	rec := do(s, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTiersAndHealth(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(s, httptest.NewRequest(http.MethodGet, "/tiers", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"basic"`)
	assert.Contains(t, rec.Body.String(), `"tokenGrant":15000`)

	rec = do(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
