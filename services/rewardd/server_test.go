package rewardd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"rewardledger/config"
	"rewardledger/core/events"
	"rewardledger/core/types"
	"rewardledger/native/rewards"
	"rewardledger/storage"
)

const testSecret = "rewardd-test-secret-0123456789abcdef"

var (
	custodian = common.HexToAddress("0x00000000000000000000000000000000000c0ffe")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob       = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	stranger  = common.HexToAddress("0x0000000000000000000000000000000000005757")
)

type harness struct {
	srv    *Server
	ledger *Ledger
	store  *storage.MemDB
	audit  *AuditLog
	hub    *Hub
	clock  *clockwork.FakeClock
	auth   AuthConfig
}

func ledgerConfig() *config.Config {
	return &config.Config{
		Custodian: custodian.Hex(),
		CostLimit: rewards.DefaultCostLimit,
		CostModel: rewards.DefaultCostModel(),
	}
}

func newAuditLog(t *testing.T, clock clockwork.Clock) *AuditLog {
	t.Helper()
	db, err := OpenAuditDB(AuditConfig{Driver: "sqlite", DSN: fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())})
	require.NoError(t, err)
	audit, err := NewAuditLog(db, clock)
	require.NoError(t, err)
	return audit
}

func newHarness(t *testing.T, limits RateLimitConfig) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := clockwork.NewFakeClock()
	store := storage.NewMemDB()
	hub := NewHub(16)

	ledger, err := OpenLedger(ledgerConfig(), store, hub, logger)
	require.NoError(t, err)

	authCfg := AuthConfig{HMACSecret: testSecret, Issuer: "rewardd-test"}
	auth, err := NewAuthenticator(authCfg)
	require.NoError(t, err)
	audit := newAuditLog(t, clock)

	srv, err := NewServer(ServerConfig{
		Ledger:  ledger,
		Auth:    auth,
		Limiter: NewRateLimiter(limits, clock),
		Audit:   audit,
		Hub:     hub,
		Logger:  logger,
	})
	require.NoError(t, err)
	return &harness{srv: srv, ledger: ledger, store: store, audit: audit, hub: hub, clock: clock, auth: authCfg}
}

func (h *harness) token(t *testing.T, caller common.Address) string {
	t.Helper()
	token, err := IssueToken(h.auth, caller, time.Hour, time.Now())
	require.NoError(t, err)
	return token
}

func (h *harness) do(t *testing.T, method, path string, caller *common.Address, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if caller != nil {
		req.Header.Set("Authorization", "Bearer "+h.token(t, *caller))
	}
	rec := httptest.NewRecorder()
	h.srv.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func requireError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	require.Equal(t, code, decode[errorResponse](t, rec).Error)
}

func addr(a common.Address) *common.Address { return &a }

func TestPullLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t, RateLimitConfig{RequestsPerMinute: 600, Burst: 100})

	rec := h.do(t, http.MethodPost, "/v1/pull/rewards", nil, registerRequest{Identity: alice.Hex(), Amount: "100"})
	requireError(t, rec, http.StatusUnauthorized, "unauthenticated")

	rec = h.do(t, http.MethodPost, "/v1/pull/rewards", addr(stranger), registerRequest{Identity: alice.Hex(), Amount: "100"})
	requireError(t, rec, http.StatusForbidden, "unauthorized")

	rec = h.do(t, http.MethodPost, "/v1/pull/rewards", addr(custodian), registerRequest{Identity: alice.Hex(), Amount: "100"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	receipt := decode[receiptResponse](t, rec)
	require.Equal(t, rewards.OpRegister, receipt.Op)
	require.Equal(t, custodian.Hex(), receipt.Caller)

	rec = h.do(t, http.MethodPost, "/v1/pull/rewards/increase", addr(custodian), registerRequest{Identity: alice.Hex(), Amount: "20"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(t, http.MethodPost, "/v1/pull/deposit", addr(stranger), amountRequest{Amount: "200"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(t, http.MethodPost, "/v1/pull/withdraw", addr(alice), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	receipt = decode[receiptResponse](t, rec)
	require.Equal(t, "120", receipt.Amount)
	require.Equal(t, h.ledger.Runtime().Costs().WithdrawCost(), receipt.CostUsed)

	rec = h.do(t, http.MethodPost, "/v1/pull/withdraw", addr(alice), nil)
	requireError(t, rec, http.StatusConflict, "no_pending_reward")

	rec = h.do(t, http.MethodGet, "/v1/pull/entries/"+alice.Hex(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entry := decode[entryResponse](t, rec)
	require.Equal(t, "0", entry.PendingBalance)
	require.Equal(t, "120", entry.TotalWithdrawn)

	rec = h.do(t, http.MethodGet, "/v1/pull/totals", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	totals := decode[pullTotalsResponse](t, rec)
	require.Equal(t, "80", totals.PoolBalance)
	require.Equal(t, "200", totals.TotalDeposited)
	require.Equal(t, "120", totals.TotalDistributed)
	require.Equal(t, "0", totals.TotalPending)

	rec = h.do(t, http.MethodPost, "/v1/pull/emergency-withdraw", addr(custodian), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "80", decode[receiptResponse](t, rec).Amount)

	has, err := h.store.Has(rewards.PullSnapshotKey)
	require.NoError(t, err)
	require.True(t, has)

	rec = h.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestPushLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t, RateLimitConfig{RequestsPerMinute: 600, Burst: 100})

	rec := h.do(t, http.MethodPost, "/v1/push/recipients/batch", addr(custodian), batchRequest{
		Identities: []string{alice.Hex(), bob.Hex()},
		Amounts:    []string{"10"},
	})
	requireError(t, rec, http.StatusBadRequest, "invalid_argument")

	rec = h.do(t, http.MethodPost, "/v1/push/recipients/batch", addr(custodian), batchRequest{
		Identities: []string{alice.Hex(), bob.Hex()},
		Amounts:    []string{"10", "15"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(t, http.MethodGet, "/v1/push/status", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[pushStatusResponse](t, rec)
	require.Equal(t, "25", status.RequiredFunds)
	require.Equal(t, "idle", status.Phase)
	require.Equal(t, h.ledger.Runtime().Costs().DistributeCost(2), status.EstimatedCost)

	rec = h.do(t, http.MethodPost, "/v1/push/distribute", addr(custodian), distributeRequest{Funds: "24"})
	requireError(t, rec, http.StatusConflict, "insufficient_funds")

	rec = h.do(t, http.MethodPost, "/v1/push/distribute", addr(custodian), distributeRequest{Funds: "25"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, 2, decode[receiptResponse](t, rec).Recipients)

	rec = h.do(t, http.MethodGet, "/v1/push/recipients/"+bob.Hex(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decode[recipientResponse](t, rec).Paid)

	rec = h.do(t, http.MethodGet, "/v1/push/recipients/"+stranger.Hex(), nil, nil)
	requireError(t, rec, http.StatusNotFound, "not_found")

	rec = h.do(t, http.MethodGet, "/v1/push/recipients", nil, nil)
	require.Len(t, decode[[]recipientResponse](t, rec), 2)

	rec = h.do(t, http.MethodGet, "/v1/push/status", nil, nil)
	require.Equal(t, "completed", decode[pushStatusResponse](t, rec).Phase)
}

func TestMalformedRequestsAreRejected(t *testing.T) {
	h := newHarness(t, RateLimitConfig{RequestsPerMinute: 600, Burst: 100})

	rec := h.do(t, http.MethodPost, "/v1/push/recipients", addr(custodian), registerRequest{Identity: "not-an-address", Amount: "1"})
	requireError(t, rec, http.StatusBadRequest, "invalid_argument")

	rec = h.do(t, http.MethodPost, "/v1/push/recipients", addr(custodian), registerRequest{Identity: alice.Hex(), Amount: "-5"})
	requireError(t, rec, http.StatusBadRequest, "invalid_argument")

	rec = h.do(t, http.MethodPost, "/v1/push/deposit", addr(custodian), map[string]string{"amount": "1", "extra": "x"})
	requireError(t, rec, http.StatusBadRequest, "invalid_argument")

	req := httptest.NewRequest(http.MethodPost, "/v1/pull/withdraw", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	out := httptest.NewRecorder()
	h.srv.ServeHTTP(out, req)
	requireError(t, out, http.StatusUnauthorized, "unauthenticated")

	other := AuthConfig{HMACSecret: "some-other-secret-0123456789abcdefgh", Issuer: "rewardd-test"}
	forged, err := IssueToken(other, custodian, time.Hour, time.Now())
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/v1/pull/withdraw", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	out = httptest.NewRecorder()
	h.srv.ServeHTTP(out, req)
	requireError(t, out, http.StatusUnauthorized, "unauthenticated")
}

func TestMutationsAreRateLimitedPerCaller(t *testing.T) {
	h := newHarness(t, RateLimitConfig{RequestsPerMinute: 60, Burst: 2})

	for i := 0; i < 2; i++ {
		rec := h.do(t, http.MethodPost, "/v1/pull/deposit", addr(stranger), amountRequest{Amount: "1"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	rec := h.do(t, http.MethodPost, "/v1/pull/deposit", addr(stranger), amountRequest{Amount: "1"})
	requireError(t, rec, http.StatusTooManyRequests, "rate_limited")

	// Other callers have their own bucket.
	rec = h.do(t, http.MethodPost, "/v1/pull/deposit", addr(alice), amountRequest{Amount: "1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	h.clock.Advance(2 * time.Second)
	rec = h.do(t, http.MethodPost, "/v1/pull/deposit", addr(stranger), amountRequest{Amount: "1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Reads are never throttled.
	for i := 0; i < 5; i++ {
		rec = h.do(t, http.MethodGet, "/v1/pull/totals", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestAuditTrailRecordsFailures(t *testing.T) {
	h := newHarness(t, RateLimitConfig{RequestsPerMinute: 600, Burst: 100})

	rec := h.do(t, http.MethodPost, "/v1/pull/withdraw", addr(alice), nil)
	requireError(t, rec, http.StatusConflict, "no_pending_reward")
	rec = h.do(t, http.MethodPost, "/v1/pull/deposit", addr(bob), amountRequest{Amount: "9"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/v1/audit?code=no_pending_reward", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, http.MethodGet, "/v1/audit?code=no_pending_reward", addr(custodian), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	records := decode[[]AuditRecord](t, rec)
	require.Len(t, records, 1)
	require.Equal(t, alice.Hex(), records[0].Caller)
	require.Equal(t, enginePull, records[0].Engine)
	require.Equal(t, rewards.OpWithdraw, records[0].Op)
	require.NotEmpty(t, records[0].Error)
	require.NotEmpty(t, records[0].RequestID)

	rec = h.do(t, http.MethodGet, "/v1/audit?caller="+bob.Hex(), addr(custodian), nil)
	records = decode[[]AuditRecord](t, rec)
	require.Len(t, records, 1)
	require.Equal(t, "9", records[0].Amount)
	require.Equal(t, "ok", records[0].Code)

	rec = h.do(t, http.MethodGet, "/v1/audit?limit=zero", addr(custodian), nil)
	requireError(t, rec, http.StatusBadRequest, "invalid_argument")
}

func TestRecentEventsCarrySequence(t *testing.T) {
	h := newHarness(t, RateLimitConfig{RequestsPerMinute: 600, Burst: 100})

	h.do(t, http.MethodPost, "/v1/pull/rewards", addr(custodian), registerRequest{Identity: alice.Hex(), Amount: "5"})
	h.do(t, http.MethodPost, "/v1/pull/deposit", addr(custodian), amountRequest{Amount: "5"})
	h.do(t, http.MethodPost, "/v1/pull/withdraw", addr(alice), nil)

	rec := h.do(t, http.MethodGet, "/v1/events/recent", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	evts := decode[[]types.Event](t, rec)
	require.Len(t, evts, 3)
	require.Equal(t, []string{events.TypeRewardSet, events.TypeFundsDeposited, events.TypeRewardWithdrawn},
		[]string{evts[0].Type, evts[1].Type, evts[2].Type})
	for i, evt := range evts {
		require.Equal(t, uint64(i+1), evt.Sequence)
	}
}

func TestEventStreamDeliversCommittedEvents(t *testing.T) {
	h := newHarness(t, RateLimitConfig{RequestsPerMinute: 600, Burst: 100})
	ts := httptest.NewServer(h.srv)
	defer ts.Close()

	h.do(t, http.MethodPost, "/v1/pull/deposit", addr(bob), amountRequest{Amount: "3"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/events?since=0", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var first types.Event
	require.NoError(t, json.Unmarshal(data, &first))
	require.Equal(t, uint64(1), first.Sequence)
	require.Equal(t, events.TypeFundsDeposited, first.Type)

	h.do(t, http.MethodPost, "/v1/push/recipients", addr(custodian), registerRequest{Identity: alice.Hex(), Amount: "4"})
	_, data, err = conn.Read(ctx)
	require.NoError(t, err)
	var second types.Event
	require.NoError(t, json.Unmarshal(data, &second))
	require.Equal(t, uint64(2), second.Sequence)
	require.Equal(t, events.TypeRecipientRegistered, second.Type)
}

func TestOpenLedgerRestoresSnapshots(t *testing.T) {
	h := newHarness(t, RateLimitConfig{RequestsPerMinute: 600, Burst: 100})
	h.do(t, http.MethodPost, "/v1/pull/rewards", addr(custodian), registerRequest{Identity: alice.Hex(), Amount: "7"})
	h.do(t, http.MethodPost, "/v1/pull/deposit", addr(custodian), amountRequest{Amount: "10"})
	h.do(t, http.MethodPost, "/v1/push/recipients", addr(custodian), registerRequest{Identity: bob.Hex(), Amount: "3"})

	restored, err := OpenLedger(ledgerConfig(), h.store, nil, nil)
	require.NoError(t, err)
	require.Equal(t, h.ledger.Push().Address(), restored.Push().Address())
	require.Equal(t, h.ledger.Pull().Address(), restored.Pull().Address())
	require.Equal(t, "7", restored.Pull().Balance(alice).Dec())
	require.Equal(t, "10", restored.Pull().PoolBalance().Dec())
	require.Equal(t, 1, restored.Push().Count())
	require.NoError(t, restored.Check())

	other := ledgerConfig()
	other.Custodian = stranger.Hex()
	_, err = OpenLedger(other, h.store, nil, nil)
	require.Error(t, err)
}
