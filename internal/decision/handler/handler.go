package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"arbiter/internal/decision"
	"arbiter/internal/domain"
	"arbiter/internal/ledger"
	"arbiter/internal/policy/loader"
	dErrors "arbiter/pkg/domain-errors"
	"arbiter/pkg/platform/httputil"
	"arbiter/pkg/requestcontext"
)

// Service defines the interface for decision operations.
type Service interface {
	CheckTransfer(ctx context.Context, ec domain.EvaluationContext) (*decision.Result, error)
	CheckGovernanceChange(ctx context.Context, ec domain.EvaluationContext) (*decision.Result, error)
	CheckTrade(ctx context.Context, ec domain.EvaluationContext) (*decision.Result, error)
	ValidateStructure(ctx context.Context, ec domain.EvaluationContext) (*decision.Result, error)
	AuditTrail(ctx context.Context, entityID string, f ledger.Filter) ([]ledger.AuditRecord, error)
	ReloadPolicies(ctx context.Context, code string) (loader.ReloadReport, error)
	VerifyChain(ctx context.Context, partition string, from, to uint64) (*decision.VerifyResult, error)
	CorrectDecision(ctx context.Context, recordID uuid.UUID, verdict domain.Verdict, reason string) (*decision.Result, error)
	PolicyStatus(ctx context.Context, code string) (loader.Status, error)
}

// Handler wires decision endpoints to the decision service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a decision handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Register mounts decision endpoints on the router. Operator routes are
// wrapped in requireOperator.
func (h *Handler) Register(r chi.Router, requireOperator func(http.Handler) http.Handler) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/checks/transfer", h.HandleTransfer)
		r.Post("/checks/governance", h.HandleGovernance)
		r.Post("/checks/trade", h.HandleTrade)
		r.Post("/checks/structure", h.HandleStructure)

		r.Get("/audit/entities/{entityID}", h.HandleAuditTrail)
		r.Get("/policies/{code}", h.HandlePolicyStatus)

		r.Group(func(r chi.Router) {
			r.Use(requireOperator)
			r.Post("/audit/records/{recordID}/corrections", h.HandleCorrection)
			r.Post("/audit/partitions/{partition}/verify", h.HandleVerify)
			r.Post("/policies/reload", h.HandleReload)
		})
	})
}

// HandleTransfer handles POST /v1/checks/transfer.
func (h *Handler) HandleTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[TransferRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	h.respond(w, r, domain.EventTransfer, func() (*decision.Result, error) {
		return h.service.CheckTransfer(ctx, req.EvaluationContext(requestID))
	})
}

// HandleGovernance handles POST /v1/checks/governance.
func (h *Handler) HandleGovernance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[GovernanceRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	ec := req.EvaluationContext(requestID)
	ec.Governance = req.Governance
	h.respond(w, r, domain.EventGovernanceChange, func() (*decision.Result, error) {
		return h.service.CheckGovernanceChange(ctx, ec)
	})
}

// HandleTrade handles POST /v1/checks/trade.
func (h *Handler) HandleTrade(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[TradeRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	ec := req.EvaluationContext(requestID)
	ec.Trade = req.Trade
	h.respond(w, r, domain.EventTrade, func() (*decision.Result, error) {
		return h.service.CheckTrade(ctx, ec)
	})
}

// HandleStructure handles POST /v1/checks/structure.
func (h *Handler) HandleStructure(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[StructureRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	ec := req.EvaluationContext(requestID)
	ec.Structure = req.Structure
	h.respond(w, r, domain.EventStructure, func() (*decision.Result, error) {
		return h.service.ValidateStructure(ctx, ec)
	})
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, event domain.EventType, run func() (*decision.Result, error)) {
	ctx := r.Context()
	start := time.Now()
	res, err := run()
	if err != nil {
		h.logger.ErrorContext(ctx, "check failed",
			"request_id", requestcontext.RequestID(ctx),
			"event_type", event,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "check completed",
		"request_id", requestcontext.RequestID(ctx),
		"event_type", event,
		"verdict", res.Decision.Verdict,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, FromResult(res))
}

// HandleAuditTrail handles GET /v1/audit/entities/{entityID}.
func (h *Handler) HandleAuditTrail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entityID := chi.URLParam(r, "entityID")

	f, err := parseFilter(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	records, err := h.service.AuditTrail(ctx, entityID, f)
	if err != nil {
		h.logger.ErrorContext(ctx, "audit trail query failed",
			"request_id", requestcontext.RequestID(ctx),
			"entity_id", entityID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	if records == nil {
		records = []ledger.AuditRecord{}
	}
	httputil.WriteJSON(w, http.StatusOK, &AuditTrailResponse{
		EntityID: entityID,
		Count:    len(records),
		Records:  records,
	})
}

// HandleCorrection handles POST /v1/audit/records/{recordID}/corrections.
func (h *Handler) HandleCorrection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	recordID, err := uuid.Parse(chi.URLParam(r, "recordID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "record id must be a UUID"))
		return
	}
	req, ok := httputil.DecodeAndPrepare[CorrectionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	res, err := h.service.CorrectDecision(ctx, recordID, req.ParsedVerdict(), req.Reason)
	if err != nil {
		h.logger.ErrorContext(ctx, "correction failed",
			"request_id", requestID,
			"record_id", recordID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, FromResult(res))
}

// HandleVerify handles POST /v1/audit/partitions/{partition}/verify.
// A broken chain answers 409 with the first failing index.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	partition := chi.URLParam(r, "partition")
	q := r.URL.Query()
	from, err := parseUint(q.Get("from"), "from")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	to, err := parseUint(q.Get("to"), "to")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	res, err := h.service.VerifyChain(ctx, partition, from, to)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	body := fromVerify(res)
	if !res.Valid() {
		httputil.WriteErrorWithDetails(w,
			dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("audit chain broken at index %d", res.Violation.Index)),
			body)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, body)
}

// HandleReload handles POST /v1/policies/reload. The body is optional;
// without a code every known jurisdiction is re-read.
func (h *Handler) HandleReload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	code := r.URL.Query().Get("code")
	if code == "" && r.ContentLength > 0 {
		req, ok := httputil.DecodeAndPrepare[ReloadRequest](w, r, h.logger, ctx, requestID)
		if !ok {
			return
		}
		code = req.Code
	}
	report, err := h.service.ReloadPolicies(ctx, code)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromReport(report))
}

// HandlePolicyStatus handles GET /v1/policies/{code}.
func (h *Handler) HandlePolicyStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.PolicyStatus(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromStatus(st))
}

func parseFilter(r *http.Request) (ledger.Filter, error) {
	q := r.URL.Query()
	f := ledger.Filter{
		CounterpartyID: q.Get("counterparty"),
		Jurisdiction:   q.Get("jurisdiction"),
		RulePath:       q.Get("rule"),
	}
	var err error
	if f.From, err = parseTime(q.Get("from"), "from"); err != nil {
		return f, err
	}
	if f.To, err = parseTime(q.Get("to"), "to"); err != nil {
		return f, err
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return f, dErrors.New(dErrors.CodeValidation, "limit must be a positive integer")
		}
		f.Limit = n
	}
	return f, nil
}

func parseTime(raw, field string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, dErrors.New(dErrors.CodeValidation, field+" must be an RFC 3339 timestamp")
	}
	return t.UTC(), nil
}

func parseUint(raw, field string) (uint64, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, dErrors.New(dErrors.CodeValidation, field+" must be a non-negative integer")
	}
	return n, nil
}
