package rewardd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"rewardledger/native/rewards"
	"rewardledger/observability"
)

const maxBodyBytes = 1 << 20

// ServerConfig captures the dependencies of the HTTP API.
type ServerConfig struct {
	Ledger       *Ledger
	Auth         *Authenticator
	Limiter      *RateLimiter
	Audit        *AuditLog
	Hub          *Hub
	Logger       *slog.Logger
	WriteTimeout time.Duration
}

// Server exposes both engines over HTTP.
type Server struct {
	ledger       *Ledger
	auth         *Authenticator
	limiter      *RateLimiter
	audit        *AuditLog
	hub          *Hub
	logger       *slog.Logger
	writeTimeout time.Duration

	router http.Handler
}

// NewServer wires the router.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("ledger required")
	}
	if cfg.Auth == nil {
		return nil, errors.New("authenticator required")
	}
	if cfg.Hub == nil {
		cfg.Hub = NewHub(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	srv := &Server{
		ledger:       cfg.Ledger,
		auth:         cfg.Auth,
		limiter:      cfg.Limiter,
		audit:        cfg.Audit,
		hub:          cfg.Hub,
		logger:       cfg.Logger,
		writeTimeout: cfg.WriteTimeout,
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(instrument)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Get("/events", s.handleEventStream)
		api.Get("/events/recent", s.handleRecentEvents)

		api.Route("/push", func(push chi.Router) {
			push.Get("/status", s.handlePushStatus)
			push.Get("/recipients", s.handlePushRecipients)
			push.Get("/recipients/{id}", s.handlePushRecipient)
			push.Group(func(m chi.Router) {
				m.Use(s.auth.Middleware)
				m.Use(s.throttle("push"))
				m.Post("/recipients", s.handlePushRegister)
				m.Post("/recipients/batch", s.handlePushRegisterBatch)
				m.Post("/deposit", s.handlePushDeposit)
				m.Post("/distribute", s.handlePushDistribute)
				m.Post("/emergency-withdraw", s.handlePushEmergencyWithdraw)
			})
		})

		api.Route("/pull", func(pull chi.Router) {
			pull.Get("/totals", s.handlePullTotals)
			pull.Get("/entries", s.handlePullEntries)
			pull.Get("/entries/{id}", s.handlePullEntry)
			pull.Group(func(m chi.Router) {
				m.Use(s.auth.Middleware)
				m.Use(s.throttle("pull"))
				m.Post("/rewards", s.handlePullRegister)
				m.Post("/rewards/increase", s.handlePullIncrease)
				m.Post("/rewards/batch", s.handlePullRegisterBatch)
				m.Post("/deposit", s.handlePullDeposit)
				m.Post("/withdraw", s.handlePullWithdraw)
				m.Post("/emergency-withdraw", s.handlePullEmergencyWithdraw)
			})
		})

		api.With(s.auth.Middleware).Get("/audit", s.handleAudit)
	})

	return otelhttp.NewHandler(r, "rewardd")
}

func (s *Server) throttle(route string) func(http.Handler) http.Handler {
	if s.limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return s.limiter.Middleware(route)
}

func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.HTTP().Observe(route, r.Method, status, time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if err := s.ledger.Check(); err != nil {
		s.logger.Error("ledger check failed", slog.Any("error", err))
		writeError(w, http.StatusServiceUnavailable, "invariant_violation", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type registerRequest struct {
	Identity string `json:"identity"`
	Amount   string `json:"amount"`
}

type batchRequest struct {
	Identities []string `json:"identities"`
	Amounts    []string `json:"amounts"`
}

type amountRequest struct {
	Amount string `json:"amount"`
}

type distributeRequest struct {
	Funds string `json:"funds"`
}

type receiptResponse struct {
	Op         string `json:"op"`
	Caller     string `json:"caller"`
	Amount     string `json:"amount"`
	Recipients int    `json:"recipients"`
	CostUsed   uint64 `json:"costUsed"`
}

type recipientResponse struct {
	Identity string `json:"identity"`
	Reward   string `json:"reward"`
	Paid     bool   `json:"paid"`
}

type entryResponse struct {
	Identity       string `json:"identity"`
	PendingBalance string `json:"pendingBalance"`
	TotalWithdrawn string `json:"totalWithdrawn"`
}

type pushStatusResponse struct {
	Engine        string `json:"engine"`
	Custodian     string `json:"custodian"`
	Phase         string `json:"phase"`
	Balance       string `json:"balance"`
	Recipients    int    `json:"recipients"`
	RequiredFunds string `json:"requiredFunds"`
	EstimatedCost uint64 `json:"estimatedCost"`
	CostLimit     uint64 `json:"costLimit"`
}

type pullTotalsResponse struct {
	Engine           string `json:"engine"`
	Custodian        string `json:"custodian"`
	PoolBalance      string `json:"poolBalance"`
	TotalDeposited   string `json:"totalDeposited"`
	TotalDistributed string `json:"totalDistributed"`
	TotalRecovered   string `json:"totalRecovered"`
	TotalPending     string `json:"totalPending"`
	Recipients       int    `json:"recipients"`
}

func (s *Server) handlePushRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id, amount, err := parseRegistration(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}
	s.mutate(w, r, enginePush, rewards.OpRegister, func(ctx context.Context, caller common.Address) (*rewards.Receipt, error) {
		return s.ledger.Push().Register(ctx, caller, id, amount)
	})
}

func (s *Server) handlePushRegisterBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ids, amounts, err := parseBatch(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}
	s.mutate(w, r, enginePush, rewards.OpRegisterBatch, func(ctx context.Context, caller common.Address) (*rewards.Receipt, error) {
		return s.ledger.Push().RegisterBatch(ctx, caller, ids, amounts)
	})
}

func (s *Server) handlePushDeposit(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}
	s.mutate(w, r, enginePush, rewards.OpDeposit, func(ctx context.Context, caller common.Address) (*rewards.Receipt, error) {
		return s.ledger.Push().Deposit(ctx, caller, amount)
	})
}

func (s *Server) handlePushDistribute(w http.ResponseWriter, r *http.Request) {
	var req distributeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	funds, err := parseAmount(req.Funds)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}
	s.mutate(w, r, enginePush, rewards.OpDistribute, func(ctx context.Context, caller common.Address) (*rewards.Receipt, error) {
		return s.ledger.Push().Distribute(ctx, caller, funds)
	})
}

func (s *Server) handlePushEmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, enginePush, rewards.OpEmergencyWithdraw, func(ctx context.Context, caller common.Address) (*rewards.Receipt, error) {
		return s.ledger.Push().EmergencyWithdraw(ctx, caller)
	})
}

func (s *Server) handlePushStatus(w http.ResponseWriter, _ *http.Request) {
	push := s.ledger.Push()
	required, err := push.RequiredFunds()
	if err != nil {
		writeError(w, statusFor(rewards.Code(err)), rewards.Code(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, pushStatusResponse{
		Engine:        push.Address().Hex(),
		Custodian:     push.Custodian().Hex(),
		Phase:         push.Phase().String(),
		Balance:       push.Balance().Dec(),
		Recipients:    push.Count(),
		RequiredFunds: required.Dec(),
		EstimatedCost: push.EstimateDistributeCost(),
		CostLimit:     s.ledger.Runtime().CostLimit(),
	})
}

func (s *Server) handlePushRecipients(w http.ResponseWriter, _ *http.Request) {
	records := s.ledger.Push().Records()
	out := make([]recipientResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toRecipientResponse(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePushRecipient(w http.ResponseWriter, r *http.Request) {
	id, err := parseAddress(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}
	rec, ok := s.ledger.Push().Recipient(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "recipient not registered")
		return
	}
	writeJSON(w, http.StatusOK, toRecipientResponse(rec))
}

func (s *Server) handlePullRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id, amount, err := parseRegistration(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}
	s.mutate(w, r, enginePull, rewards.OpRegister, func(ctx context.Context, caller common.Address) (*rewards.Receipt, error) {
		return s.ledger.Pull().Register(ctx, caller, id, amount)
	})
}

func (s *Server) handlePullIncrease(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id, amount, err := parseRegistration(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}
	s.mutate(w, r, enginePull, rewards.OpIncreaseReward, func(ctx context.Context, caller common.Address) (*rewards.Receipt, error) {
		return s.ledger.Pull().IncreaseReward(ctx, caller, id, amount)
	})
}

func (s *Server) handlePullRegisterBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ids, amounts, err := parseBatch(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}
	s.mutate(w, r, enginePull, rewards.OpRegisterBatch, func(ctx context.Context, caller common.Address) (*rewards.Receipt, error) {
		return s.ledger.Pull().RegisterBatch(ctx, caller, ids, amounts)
	})
}

func (s *Server) handlePullDeposit(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}
	s.mutate(w, r, enginePull, rewards.OpDeposit, func(ctx context.Context, caller common.Address) (*rewards.Receipt, error) {
		return s.ledger.Pull().Deposit(ctx, caller, amount)
	})
}

func (s *Server) handlePullWithdraw(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, enginePull, rewards.OpWithdraw, func(ctx context.Context, caller common.Address) (*rewards.Receipt, error) {
		return s.ledger.Pull().Withdraw(ctx, caller)
	})
}

func (s *Server) handlePullEmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, enginePull, rewards.OpEmergencyWithdraw, func(ctx context.Context, caller common.Address) (*rewards.Receipt, error) {
		return s.ledger.Pull().EmergencyWithdraw(ctx, caller)
	})
}

func (s *Server) handlePullTotals(w http.ResponseWriter, _ *http.Request) {
	pull := s.ledger.Pull()
	totals := pull.Totals()
	writeJSON(w, http.StatusOK, pullTotalsResponse{
		Engine:           pull.Address().Hex(),
		Custodian:        pull.Custodian().Hex(),
		PoolBalance:      totals.PoolBalance.Dec(),
		TotalDeposited:   totals.TotalDeposited.Dec(),
		TotalDistributed: totals.TotalDistributed.Dec(),
		TotalRecovered:   totals.TotalRecovered.Dec(),
		TotalPending:     totals.TotalPending.Dec(),
		Recipients:       pull.Count(),
	})
}

func (s *Server) handlePullEntries(w http.ResponseWriter, _ *http.Request) {
	entries := s.ledger.Pull().Entries()
	out := make([]entryResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, toEntryResponse(entry))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePullEntry(w http.ResponseWriter, r *http.Request) {
	id, err := parseAddress(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}
	pull := s.ledger.Pull()
	// Unknown identities read as zero balances.
	writeJSON(w, http.StatusOK, entryResponse{
		Identity:       id.Hex(),
		PendingBalance: pull.Balance(id).Dec(),
		TotalWithdrawn: pull.TotalWithdrawn(id).Dec(),
	})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusNotFound, "not_found", "audit log disabled")
		return
	}
	query := r.URL.Query()
	filter := AuditFilter{
		Engine: strings.TrimSpace(query.Get("engine")),
		Code:   strings.TrimSpace(query.Get("code")),
	}
	if raw := strings.TrimSpace(query.Get("caller")); raw != "" {
		caller, err := parseAddress(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_argument", err.Error())
			return
		}
		filter.Caller = caller.Hex()
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_argument", "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}
	records, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("list audit records", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal", "audit log unavailable")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// mutate runs one engine call on behalf of the authenticated caller, then
// records metrics, the audit trail and the snapshot before responding.
func (s *Server) mutate(w http.ResponseWriter, r *http.Request, engine, op string, call func(context.Context, common.Address) (*rewards.Receipt, error)) {
	caller, err := CallerFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated", err.Error())
		return
	}
	receipt, callErr := s.ledger.apply(engine, op, func() (*rewards.Receipt, error) {
		return call(r.Context(), caller)
	})

	code := rewards.Code(callErr)
	attrs := []any{
		slog.String("engine", engine),
		slog.String("op", op),
		slog.String("caller", caller.Hex()),
		slog.String("code", code),
	}
	if callErr != nil {
		s.logger.Warn("engine call failed", append(attrs, slog.Any("error", callErr))...)
	} else {
		s.logger.Info("engine call committed", append(attrs, slog.Uint64("cost", receipt.CostUsed))...)
	}
	s.record(r, engine, op, caller, receipt, callErr)

	if callErr != nil {
		writeError(w, statusFor(code), code, callErr.Error())
		return
	}
	writeJSON(w, http.StatusOK, toReceiptResponse(receipt))
}

func (s *Server) record(r *http.Request, engine, op string, caller common.Address, receipt *rewards.Receipt, callErr error) {
	if s.audit == nil {
		return
	}
	rec := &AuditRecord{
		RequestID: chimw.GetReqID(r.Context()),
		Engine:    engine,
		Op:        op,
		Caller:    caller.Hex(),
		Code:      rewards.Code(callErr),
	}
	if receipt != nil {
		rec.Amount = amountString(receipt.Amount)
		rec.Recipients = receipt.Recipients
		rec.CostUsed = receipt.CostUsed
	}
	if callErr != nil {
		rec.Error = callErr.Error()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.writeTimeout)
	defer cancel()
	if err := s.audit.Append(ctx, rec); err != nil {
		s.logger.Error("append audit record", slog.String("op", op), slog.Any("error", err))
	}
}

func statusFor(code string) int {
	switch code {
	case "ok":
		return http.StatusOK
	case "unauthorized":
		return http.StatusForbidden
	case "invalid_argument", "arithmetic_overflow":
		return http.StatusBadRequest
	case "insufficient_funds", "no_pending_reward", "insufficient_pool_balance", "reentrant_call":
		return http.StatusConflict
	case "transfer_rejected", "resource_exceeded":
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func parseAddress(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(trimmed), nil
}

func parseAmount(raw string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.New("amount required")
	}
	amount, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	return amount, nil
}

func parseRegistration(req registerRequest) (common.Address, *uint256.Int, error) {
	id, err := parseAddress(req.Identity)
	if err != nil {
		return common.Address{}, nil, err
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return common.Address{}, nil, err
	}
	return id, amount, nil
}

// parseBatch decodes entries but leaves length checks to the engine so the
// mismatch is reported the same way everywhere.
func parseBatch(req batchRequest) ([]common.Address, []*uint256.Int, error) {
	ids := make([]common.Address, 0, len(req.Identities))
	for i, raw := range req.Identities {
		id, err := parseAddress(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("identity %d: %w", i, err)
		}
		ids = append(ids, id)
	}
	amounts := make([]*uint256.Int, 0, len(req.Amounts))
	for i, raw := range req.Amounts {
		amount, err := parseAmount(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("amount %d: %w", i, err)
		}
		amounts = append(amounts, amount)
	}
	return ids, amounts, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "invalid json payload")
		return false
	}
	return true
}

func amountString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func toReceiptResponse(receipt *rewards.Receipt) receiptResponse {
	return receiptResponse{
		Op:         receipt.Op,
		Caller:     receipt.Caller.Hex(),
		Amount:     amountString(receipt.Amount),
		Recipients: receipt.Recipients,
		CostUsed:   receipt.CostUsed,
	}
}

func toRecipientResponse(rec *rewards.RecipientRecord) recipientResponse {
	return recipientResponse{Identity: rec.Identity.Hex(), Reward: amountString(rec.RewardAmount), Paid: rec.Paid}
}

func toEntryResponse(entry *rewards.LedgerEntry) entryResponse {
	return entryResponse{
		Identity:       entry.Identity.Hex(),
		PendingBalance: amountString(entry.PendingBalance),
		TotalWithdrawn: amountString(entry.TotalWithdrawn),
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
